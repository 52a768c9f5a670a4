package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/platinummonkey/bioviews/pkg/presence"
)

const streamBuffer = 16

// Presence returns a transport that subscribes over the server-sent event stream.
func (c *Client) Presence() presence.Transport {
	return sseTransport{client: c}
}

type sseTransport struct {
	client *Client
}

// Subscribe opens the stream. ctx bounds only the connection attempt; the stream runs
// until Close.
func (t sseTransport) Subscribe(ctx context.Context, topic string) (presence.Subscription, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)

	path := "/api/v1/presence/" + url.PathEscape(topic) + "/stream"
	req, err := t.client.newRequest(streamCtx, http.MethodGet, path, nil)
	if err != nil {
		stop()
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", presence.SSEContentType)

	resp, err := t.client.stream.Do(req)
	stopped := stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open presence stream: %w", err)
	}
	if !stopped {
		// ctx ended while connecting
		resp.Body.Close()
		cancel()
		return nil, ctx.Err()
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		defer cancel()
		return nil, decodeError(resp)
	}

	sub := &sseSubscription{
		client: t.client,
		topic:  topic,
		body:   resp.Body,
		cancel: cancel,
		events: make(chan presence.Event, streamBuffer),
	}
	go sub.read(streamCtx)
	return sub, nil
}

type sseSubscription struct {
	client *Client
	topic  string
	body   io.ReadCloser
	cancel context.CancelFunc
	events chan presence.Event

	closeOnce sync.Once
}

func (s *sseSubscription) Events() <-chan presence.Event {
	return s.events
}

func (s *sseSubscription) read(ctx context.Context) {
	defer close(s.events)

	reader := presence.NewSSEReader(s.body)
	for {
		ev, err := reader.Next()
		if err != nil {
			return
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *sseSubscription) Track(ctx context.Context, msg presence.TrackMessage) error {
	path := "/api/v1/presence/" + url.PathEscape(s.topic) + "/track"
	return s.client.do(ctx, http.MethodPost, path, msg, nil)
}

// Close ends the stream; the server unsubscribes when the connection drops.
func (s *sseSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		if cerr := s.body.Close(); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = cerr
		}
	})
	return err
}
