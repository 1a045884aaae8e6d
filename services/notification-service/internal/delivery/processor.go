// Package delivery runs one booking event through render, send and persist.
package delivery

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mahir-abrar/nannydesk/services/notification-service/internal/dispatch"
	"github.com/mahir-abrar/nannydesk/services/notification-service/internal/email"
	"github.com/mahir-abrar/nannydesk/services/notification-service/internal/storage"
)

// Store persists a delivery record and claims its event id atomically.
type Store interface {
	SaveDelivery(ctx context.Context, n storage.Notification) (bool, error)
}

type Processor struct {
	sender email.Sender
	store  Store
	logger *slog.Logger
}

func NewProcessor(sender email.Sender, store Store, logger *slog.Logger) *Processor {
	return &Processor{sender: sender, store: store, logger: logger}
}

// Handle processes one event. A returned error means the result was not
// persisted and the event id is still unclaimed, so the Kafka redelivery
// will retry; a nil return means the event is settled (delivered, recorded
// as failed, or dropped as undeliverable).
func (p *Processor) Handle(ctx context.Context, eventID, eventType string, payload []byte) error {
	rendered, err := dispatch.Render(eventType, payload)
	if err != nil {
		// Redelivery cannot fix a bad payload; log and drop.
		if errors.Is(err, dispatch.ErrUnknownEventType) || errors.Is(err, dispatch.ErrMissingRecipient) {
			p.logger.Error("undeliverable event", "err", err, "event_id", eventID, "event_type", eventType)
			return nil
		}
		p.logger.Error("invalid event payload", "err", err, "event_id", eventID)
		return nil
	}

	status := "sent"
	reason := ""
	if err := p.sender.Send(rendered.Recipient, rendered.Subject, rendered.Body); err != nil {
		status = "failed"
		reason = err.Error()
		p.logger.Error("email send failed", "err", err, "recipient", rendered.Recipient, "request_id", rendered.RequestID)
	}

	stored, err := p.store.SaveDelivery(ctx, storage.Notification{
		EventID:    eventID,
		EventType:  eventType,
		RequestID:  rendered.RequestID,
		ProviderID: rendered.ProviderID,
		Recipient:  rendered.Recipient,
		Subject:    rendered.Subject,
		Status:     status,
		Reason:     reason,
	})
	if err != nil {
		return err
	}
	if !stored {
		p.logger.Info("event already claimed by another consumer", "event_id", eventID)
		return nil
	}

	p.logger.Info("notification processed",
		"request_id", rendered.RequestID,
		"provider_id", rendered.ProviderID,
		"event_type", eventType,
		"status", status,
	)
	return nil
}
