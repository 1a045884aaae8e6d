package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mahir-abrar/nannydesk/libs/db"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/engine"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/model"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/outbox"
)

const requestColumns = `
	id, client_id, start_date, end_date, start_time, end_time,
	dependents, instructions, location, status, provider_id,
	hours, gross_minor, fee_minor, payout_minor, COALESCE(currency, ''),
	created_at, confirmed_at, cancelled_at, COALESCE(cancel_reason, '')`

// Repository is the Postgres implementation of engine.Store. The claim
// discipline maps onto SELECT ... FOR UPDATE: the request row stays locked
// from RequestForUpdate until the transaction commits or rolls back.
type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

func (r *Repository) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &requestTx{tx: tx, outbox: r.outbox}, nil
}

// GetRequest reads a request outside any claim transaction.
func (r *Repository) GetRequest(ctx context.Context, id string) (model.ServiceRequest, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id = $1`, id)
	return scanRequest(row)
}

// ListRequestsByClient returns the client's requests, newest first.
func (r *Repository) ListRequestsByClient(ctx context.Context, clientID string, limit int) ([]model.ServiceRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM service_requests
		WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []model.ServiceRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return reqs, nil
}

type requestTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *requestTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *requestTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (t *requestTx) InsertRequest(ctx context.Context, req *model.ServiceRequest) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO service_requests
			(client_id, start_date, end_date, start_time, end_time, dependents, instructions, location, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, req.ClientID, req.StartDate, req.EndDate, req.StartTime, req.EndTime,
		req.Dependents, req.Instructions, req.Location, req.Status).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (t *requestTx) RequestForUpdate(ctx context.Context, id string) (model.ServiceRequest, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM service_requests
		WHERE id = $1
		FOR UPDATE
	`, id)
	req, err := scanRequest(row)
	if err != nil {
		return model.ServiceRequest{}, err
	}
	return req, nil
}

func (t *requestTx) ConfirmRequest(ctx context.Context, p engine.ConfirmParams) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE service_requests
		SET status = 'confirmed',
			provider_id = $2,
			hours = $3,
			gross_minor = $4,
			fee_minor = $5,
			payout_minor = $6,
			currency = $7,
			confirmed_at = now()
		WHERE id = $1
	`, p.RequestID, p.ProviderID, p.Hours, p.GrossMinor, p.FeeMinor, p.PayoutMinor, p.Currency)
	if IsConflict(err) {
		// The no_provider_overlap exclusion constraint caught a claim for a
		// different request that would overlap this provider's calendar.
		return fmt.Errorf("%w: %v", engine.ErrCalendarConflict, err)
	}
	return err
}

func (t *requestTx) CancelRequest(ctx context.Context, id, reason string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE service_requests
		SET status = 'cancelled',
			cancelled_at = now(),
			cancel_reason = $2
		WHERE id = $1
	`, id, reason)
	return err
}

func (t *requestTx) SetRequestStatus(ctx context.Context, id string, status model.RequestStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE service_requests
		SET status = $2
		WHERE id = $1
	`, id, status)
	return err
}

func (t *requestTx) DeleteRequest(ctx context.Context, id string) error {
	// Offers go with the request via ON DELETE CASCADE.
	_, err := t.tx.Exec(ctx, `DELETE FROM service_requests WHERE id = $1`, id)
	return err
}

func (t *requestTx) ListEligibleProviders(ctx context.Context) ([]model.Provider, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+providerColumns+`
		FROM providers
		WHERE status = 'active' AND available
		ORDER BY rating DESC, completed_count DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProviders(rows)
}

func (t *requestTx) ProviderByID(ctx context.Context, id string) (model.Provider, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id)
	return scanProvider(row)
}

// HasCommittedOverlap is the conflict detector: does the provider already
// hold a calendar-blocking request on this date whose [start,end) interval
// overlaps the candidate one? Times are fixed-width "HH:MM" text, so the
// comparison is plain lexicographic.
func (t *requestTx) HasCommittedOverlap(ctx context.Context, providerID string, date time.Time, startTime, endTime string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM service_requests
			WHERE provider_id = $1
				AND status IN ('confirmed', 'in_progress')
				AND start_date = $2
				AND start_time < $4
				AND $3 < end_time
		)
	`, providerID, date, startTime, endTime).Scan(&exists)
	return exists, err
}

func (t *requestTx) IncrementProviderCompleted(ctx context.Context, providerID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE providers
		SET completed_count = completed_count + 1
		WHERE id = $1
	`, providerID)
	return err
}

func (t *requestTx) InsertOffer(ctx context.Context, requestID, providerID string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO request_offers (request_id, provider_id)
		VALUES ($1, $2)
		ON CONFLICT (request_id, provider_id) DO NOTHING
	`, requestID, providerID)
	return err
}

func (t *requestTx) OfferedProviders(ctx context.Context, requestID string) ([]model.Provider, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+providerColumns2+`
		FROM request_offers o
		JOIN providers p ON p.id = o.provider_id
		WHERE o.request_id = $1
		ORDER BY o.offered_at
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProviders(rows)
}

func (t *requestTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func scanRequest(row pgx.Row) (model.ServiceRequest, error) {
	var req model.ServiceRequest
	err := row.Scan(
		&req.ID,
		&req.ClientID,
		&req.StartDate,
		&req.EndDate,
		&req.StartTime,
		&req.EndTime,
		&req.Dependents,
		&req.Instructions,
		&req.Location,
		&req.Status,
		&req.ProviderID,
		&req.Hours,
		&req.GrossMinor,
		&req.FeeMinor,
		&req.PayoutMinor,
		&req.Currency,
		&req.CreatedAt,
		&req.ConfirmedAt,
		&req.CancelledAt,
		&req.CancelReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ServiceRequest{}, engine.ErrNotFound
	}
	if err != nil {
		return model.ServiceRequest{}, err
	}
	return req, nil
}
