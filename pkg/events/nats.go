package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/diagnosis/slotgrid/pkg/logger"
)

// NATSRelay publishes through a NATS subject and fans every received
// message into a local Hub, so instances sharing the subject see each
// other's updates.
type NATSRelay struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	hub     *Hub
}

func NewNATSRelay(url, subject string, hub *Hub) (*NATSRelay, error) {
	conn, err := nats.Connect(url, nats.Name("slotgrid"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return newNATSRelay(conn, subject, hub)
}

func newNATSRelay(conn *nats.Conn, subject string, hub *Hub) (*NATSRelay, error) {
	r := &NATSRelay{conn: conn, subject: subject, hub: hub}
	sub, err := conn.Subscribe(subject, r.deliver)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	r.sub = sub
	return r, nil
}

func (r *NATSRelay) deliver(m *nats.Msg) {
	msg, err := decode(m.Data)
	if err != nil || msg.EventID == "" {
		logger.Warn("discarding malformed relay message", "subject", m.Subject, "error", err)
		return
	}
	_ = r.hub.Publish(context.Background(), msg.EventID, msg)
}

func (r *NATSRelay) Subscribe(eventID string) *Subscription { return r.hub.Subscribe(eventID) }

func (r *NATSRelay) Unsubscribe(sub *Subscription) { r.hub.Unsubscribe(sub) }

func (r *NATSRelay) Publish(ctx context.Context, eventID string, msg Message) error {
	msg.EventID = eventID
	payload, err := encode(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event message: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", r.subject, "event_id", eventID, "type", msg.Type)

	return r.conn.Publish(r.subject, payload)
}

func (r *NATSRelay) Run(ctx context.Context) error {
	return r.hub.Run(ctx)
}

func (r *NATSRelay) Close() error {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	r.conn.Close()
	return r.hub.Close()
}
