package amqp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledger/internal/events"
	"ledger/internal/ports"
)

// NotificationKind tags messages produced by the Notifier rather than the bus.
const NotificationKind = "notification:send"

// Message is the envelope for everything the ledger publishes.
type Message struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	OwnerID   string          `json:"owner_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEventMessage wraps a bus event.
func NewEventMessage(ev events.Event) (*Message, error) {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.Kind, err)
	}
	return &Message{
		ID:        uuid.NewString(),
		Kind:      string(ev.Kind),
		OwnerID:   ev.Payload.Owner(),
		Timestamp: ev.Timestamp,
		Payload:   body,
	}, nil
}

// NewNotificationMessage wraps a notification for the relay.
func NewNotificationMessage(ownerID string, n ports.Notification) (*Message, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return &Message{
		ID:        uuid.NewString(),
		Kind:      NotificationKind,
		OwnerID:   ownerID,
		Timestamp: time.Now(),
		Payload:   body,
	}, nil
}

// RoutingKey maps an event kind to a topic routing key,
// e.g. "expense:added" -> "expense.added".
func RoutingKey(kind string) string {
	return strings.ReplaceAll(kind, ":", ".")
}

// Notification decodes the payload of a notification message.
func (m *Message) Notification() (ports.Notification, error) {
	var n ports.Notification
	if m.Kind != NotificationKind {
		return n, fmt.Errorf("message %s is %s, not a notification", m.ID, m.Kind)
	}
	if err := json.Unmarshal(m.Payload, &n); err != nil {
		return n, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}

// ToJSON converts the message to JSON bytes
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MessageFromJSON creates a message from JSON bytes
func MessageFromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Kind == "" {
		return nil, fmt.Errorf("message without kind")
	}
	return &msg, nil
}
