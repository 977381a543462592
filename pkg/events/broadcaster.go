package events

import (
	"context"
	"encoding/json"
	"time"
)

const (
	TypePing         = "ping"
	TypeEventUpdated = "event_updated"
	TypeEventDeleted = "event_deleted"
)

// Message is a change hint. It carries no payload beyond the event id;
// subscribers refetch.
type Message struct {
	Type    string    `json:"type"`
	EventID string    `json:"eventId,omitempty"`
	At      time.Time `json:"at"`
}

func Updated(eventID string) Message {
	return Message{Type: TypeEventUpdated, EventID: eventID, At: time.Now().UTC()}
}

func Deleted(eventID string) Message {
	return Message{Type: TypeEventDeleted, EventID: eventID, At: time.Now().UTC()}
}

// Broadcaster fans change hints out to subscribers of an event.
type Broadcaster interface {
	Subscribe(eventID string) *Subscription
	Unsubscribe(sub *Subscription)
	Publish(ctx context.Context, eventID string, msg Message) error
	// Run blocks until ctx is done, driving keep-alives and broker intake.
	Run(ctx context.Context) error
	Close() error
}

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func decode(data []byte) (Message, error) {
	var msg Message
	err := json.Unmarshal(data, &msg)
	return msg, err
}
