package engine

import (
	"context"
	"errors"
	"time"

	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/model"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/outbox"
)

var (
	ErrNotFound           = errors.New("request not found")
	ErrForbidden          = errors.New("actor may not perform this operation")
	ErrProviderIneligible = errors.New("provider is not eligible to claim")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidRequest     = errors.New("invalid request")

	// ErrCalendarConflict is raised by the store when the confirming write
	// would give the provider two overlapping calendar holds. The in-tx
	// overlap check cannot see another claim's uncommitted confirmation on a
	// different request row, so the store itself must enforce the invariant.
	ErrCalendarConflict = errors.New("provider calendar conflict")
)

// Store opens units of work against the booking state. The production
// implementation is Postgres (internal/storage); engine tests run against an
// in-memory store with the same locking contract.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single atomic unit of work. RequestForUpdate must take an exclusive
// lock on that request row so concurrent units of work for the same request
// serialize; everything staged in the Tx becomes visible only at Commit.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	InsertRequest(ctx context.Context, req *model.ServiceRequest) (string, error)
	RequestForUpdate(ctx context.Context, id string) (model.ServiceRequest, error)
	ConfirmRequest(ctx context.Context, p ConfirmParams) error
	CancelRequest(ctx context.Context, id, reason string) error
	SetRequestStatus(ctx context.Context, id string, status model.RequestStatus) error
	DeleteRequest(ctx context.Context, id string) error

	ListEligibleProviders(ctx context.Context) ([]model.Provider, error)
	ProviderByID(ctx context.Context, id string) (model.Provider, error)
	HasCommittedOverlap(ctx context.Context, providerID string, date time.Time, startTime, endTime string) (bool, error)
	IncrementProviderCompleted(ctx context.Context, providerID string) error

	InsertOffer(ctx context.Context, requestID, providerID string) error
	OfferedProviders(ctx context.Context, requestID string) ([]model.Provider, error)

	AppendEvent(ctx context.Context, evt outbox.Event) error
}

// ConfirmParams is the single success write of a claim: status, winner and
// the settlement computed at the moment of confirmation.
type ConfirmParams struct {
	RequestID   string
	ProviderID  string
	Hours       float64
	GrossMinor  int64
	FeeMinor    int64
	PayoutMinor int64
	Currency    string
}
