package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_SyncLeaveJoin(t *testing.T) {
	s := NewSet()
	s = s.Apply(Event{Type: EventSync, Keys: []string{"a", "b", "c"}})
	s = s.Apply(Event{Type: EventLeave, Key: "b"})
	s = s.Apply(Event{Type: EventJoin, Key: "b"})

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"a", "b", "c"}, s.Keys())
}

func TestSet_Idempotent(t *testing.T) {
	s := NewSet("x")
	s = s.Apply(Event{Type: EventJoin, Key: "a"})
	s = s.Apply(Event{Type: EventJoin, Key: "a"})
	assert.Equal(t, 2, s.Len())

	s = s.Apply(Event{Type: EventLeave, Key: "zzz"})
	s = s.Apply(Event{Type: EventLeave, Key: "a"})
	s = s.Apply(Event{Type: EventLeave, Key: "a"})
	assert.Equal(t, 1, s.Len())
}

func TestSet_SyncSupersedesDeltas(t *testing.T) {
	s := NewSet()
	s = s.Apply(Event{Type: EventJoin, Key: "ghost"})
	s = s.Apply(Event{Type: EventLeave, Key: "real"})
	s = s.Apply(Event{Type: EventSync, Keys: []string{"real", "real"}})

	assert.Equal(t, []string{"real"}, s.Keys())
}

func TestSet_IgnoresOtherEvents(t *testing.T) {
	s := NewSet("a")
	s = s.Apply(Event{Type: EventSubscribed, SubscriptionID: "sub"})
	s = s.Apply(Event{Type: EventJoin})
	assert.Equal(t, 1, s.Len())
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "profile_alesta", TopicFor("alesta"))

	id, ok := ProfileFromTopic("profile_alesta")
	assert.True(t, ok)
	assert.Equal(t, "alesta", id)

	for _, bad := range []string{"profile_", "alesta", "profile:alesta", ""} {
		_, ok := ProfileFromTopic(bad)
		assert.False(t, ok, bad)
	}
}

func TestKeyObfuscator(t *testing.T) {
	o := NewKeyObfuscator("secret")

	a := o.Token("profile_a", "user-1")
	assert.Len(t, a, 32)
	assert.Equal(t, a, o.Token("profile_a", "user-1"))
	assert.NotEqual(t, a, o.Token("profile_b", "user-1"), "tokens differ per topic")
	assert.NotContains(t, a, "user-1")
	assert.NotEqual(t, a, NewKeyObfuscator("other").Token("profile_a", "user-1"))
}
