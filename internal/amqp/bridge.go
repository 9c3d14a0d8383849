package amqp

import (
	"context"
	"fmt"

	"ledger/internal/events"
	"ledger/internal/log"
	"ledger/internal/ports"
)

// Publisher is the part of Client the bridge and notifier need.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// AttachBus forwards every bus event to the exchange. Publish failures are
// returned to the bus, which logs them; they never reach the emitter.
func AttachBus(bus *events.Bus, pub Publisher) (detach func()) {
	return bus.OnAny(func(ctx context.Context, ev events.Event) error {
		msg, err := NewEventMessage(ev)
		if err != nil {
			return err
		}
		body, err := msg.ToJSON()
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		return pub.Publish(ctx, RoutingKey(msg.Kind), body)
	})
}

// Notifier implements ports.Notifier by publishing to the exchange; the
// worker's Relay delivers them.
type Notifier struct {
	pub Publisher
}

func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{pub: pub}
}

func (n *Notifier) Send(ctx context.Context, ownerID string, note ports.Notification) error {
	msg, err := NewNotificationMessage(ownerID, note)
	if err != nil {
		return err
	}
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return n.pub.Publish(ctx, RoutingKey(NotificationKind), body)
}

// Relay consumes ledger messages in the worker. Notifications are appended
// to the audit log as delivered; other events are only logged.
type Relay struct {
	audit  ports.AuditLog
	logger *log.Logger
}

func NewRelay(audit ports.AuditLog, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.Discard()
	}
	return &Relay{audit: audit, logger: logger.WithComponent(log.ComponentWorker)}
}

func (r *Relay) Handle(ctx context.Context, msg *Message) error {
	if msg.Kind != NotificationKind {
		r.logger.DebugContext(ctx, "Ledger event received",
			log.FieldEventKind, msg.Kind, log.FieldOwner, msg.OwnerID)
		return nil
	}
	n, err := msg.Notification()
	if err != nil {
		// requeueing will not fix a bad payload
		r.logger.ErrorContext(ctx, "Dropping malformed notification", log.FieldError, err, "message_id", msg.ID)
		return nil
	}
	r.logger.InfoContext(ctx, "Notification delivered",
		log.FieldOwner, msg.OwnerID, "type", n.Type, "title", n.Title)
	if r.audit == nil {
		return nil
	}
	return r.audit.LogAction(ctx, msg.OwnerID, "notify", "notification", msg.ID, map[string]any{
		"type":       n.Type,
		"title":      n.Title,
		"message":    n.Message,
		"action_url": n.ActionURL,
	})
}
