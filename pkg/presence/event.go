package presence

import (
	"strings"
	"time"
)

// EventType names a presence event.
type EventType string

const (
	// EventSubscribed acknowledges a subscription and carries its id.
	EventSubscribed EventType = "subscribed"
	// EventSync carries the full set of present keys.
	EventSync EventType = "sync"
	// EventJoin reports one key becoming present.
	EventJoin EventType = "join"
	// EventLeave reports one key going away.
	EventLeave EventType = "leave"
)

// Event is a server to client presence message.
type Event struct {
	Type           EventType `json:"type"`
	Topic          string    `json:"topic,omitempty"`
	Keys           []string  `json:"keys,omitempty"`
	Key            string    `json:"key,omitempty"`
	SubscriptionID string    `json:"subscriptionId,omitempty"`
}

// TrackMessage is the client to server announcement sent after subscribing.
type TrackMessage struct {
	SubscriptionID string    `json:"subscriptionId"`
	ViewerKey      string    `json:"viewerKey"`
	JoinedAt       time.Time `json:"joinedAt"`
}

const topicPrefix = "profile_"

// TopicFor returns the presence topic for a profile.
func TopicFor(profileUserID string) string {
	return topicPrefix + profileUserID
}

// ProfileFromTopic extracts the profile id from a topic name.
func ProfileFromTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
