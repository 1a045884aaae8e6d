package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/mahir-abrar/nannydesk/libs/db"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/engine"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/model"
)

const providerColumns = `
	id, display_name, email, hourly_rate_minor, currency,
	available, COALESCE(unavailable_reason, ''), rating, completed_count, status, created_at`

const providerColumns2 = `
	p.id, p.display_name, p.email, p.hourly_rate_minor, p.currency,
	p.available, COALESCE(p.unavailable_reason, ''), p.rating, p.completed_count, p.status, p.created_at`

// ProviderRepository serves provider reads outside claim transactions.
// Provider records are owned by the provider management workflow; this
// service never mutates them except for the completed-services counter.
type ProviderRepository struct {
	pool *db.Pool
}

func NewProviderRepository(pool *db.Pool) *ProviderRepository {
	return &ProviderRepository{pool: pool}
}

func (r *ProviderRepository) GetProvider(ctx context.Context, id string) (model.Provider, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id)
	return scanProvider(row)
}

func scanProvider(row pgx.Row) (model.Provider, error) {
	var p model.Provider
	err := row.Scan(
		&p.ID,
		&p.DisplayName,
		&p.Email,
		&p.HourlyRateMinor,
		&p.Currency,
		&p.Available,
		&p.UnavailableReason,
		&p.Rating,
		&p.CompletedCount,
		&p.Status,
		&p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Provider{}, engine.ErrNotFound
	}
	if err != nil {
		return model.Provider{}, err
	}
	return p, nil
}

func collectProviders(rows pgx.Rows) ([]model.Provider, error) {
	var providers []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return providers, nil
}
