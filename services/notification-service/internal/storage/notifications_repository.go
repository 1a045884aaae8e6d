package storage

import (
	"context"

	"github.com/mahir-abrar/nannydesk/libs/db"
	"github.com/mahir-abrar/nannydesk/services/notification-service/internal/inbox"
)

// Notification is the delivery record kept for every rendered message,
// whether or not the send succeeded.
type Notification struct {
	EventID    string
	EventType  string
	RequestID  string
	ProviderID string
	Recipient  string
	Subject    string
	Status     string
	Reason     string
}

type Repository struct {
	pool  *db.Pool
	inbox *inbox.Repository
}

func NewRepository(pool *db.Pool, inboxRepo *inbox.Repository) *Repository {
	return &Repository{pool: pool, inbox: inboxRepo}
}

// SaveDelivery persists the delivery record and claims the event id in one
// transaction, so a failed insert leaves the event unclaimed for the Kafka
// redelivery to retry. It returns false when a concurrent consumer already
// claimed the event; nothing is written in that case.
func (r *Repository) SaveDelivery(ctx context.Context, n Notification) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO notifications (event_id, event_type, request_id, provider_id, recipient, subject, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.EventID, n.EventType, n.RequestID, n.ProviderID, n.Recipient, n.Subject, n.Status, n.Reason); err != nil {
		return false, err
	}

	claimed, err := r.inbox.Record(ctx, tx, n.EventID, n.EventType)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	return true, tx.Commit(ctx)
}
