package presence

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSE_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSSE(&buf, Event{Type: EventSubscribed, Topic: "profile_alesta", SubscriptionID: "s1"}))
	require.NoError(t, WriteSSEComment(&buf, "keep-alive"))
	require.NoError(t, WriteSSE(&buf, Event{Type: EventSync, Topic: "profile_alesta", Keys: []string{"a", "b"}}))
	require.NoError(t, WriteSSE(&buf, Event{Type: EventLeave, Topic: "profile_alesta", Key: "a"}))

	assert.True(t, strings.HasPrefix(buf.String(), "event: subscribed\ndata: {"))

	r := NewSSEReader(&buf)
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "s1", ev.SubscriptionID)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventSync, ev.Type)
	assert.Equal(t, []string{"a", "b"}, ev.Keys)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventLeave, ev.Type)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEReader_Tolerant(t *testing.T) {
	stream := ": hello\r\n\r\n" +
		"event: join\r\n" +
		"data: {\"key\":\"k1\"}\r\n\r\n" +
		"data: {\"type\":\"leave\",\"key\":\"k1\"}"

	r := NewSSEReader(strings.NewReader(stream))
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{Type: EventJoin, Key: "k1"}, ev, "type falls back to the event name")

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventLeave, ev.Type, "unterminated final frame")

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEReader_Malformed(t *testing.T) {
	r := NewSSEReader(strings.NewReader("data: {nope\n\n"))
	_, err := r.Next()
	assert.Error(t, err)
}
