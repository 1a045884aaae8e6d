// Package engine is the booking assignment core: it fans a new service
// request out to eligible providers and resolves concurrent claim attempts
// into exactly one winner.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Rhymond/go-money"

	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/model"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/outbox"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/schedule"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/settlement"
)

const aggregateRequest = "service_request"

type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeAlreadyAssigned  Outcome = "already_assigned"
	OutcomeAlreadyCancelled Outcome = "already_cancelled"
	OutcomeScheduleConflict Outcome = "schedule_conflict"
)

type Config struct {
	CommissionPercent int
	Currency          string
}

type Engine struct {
	store      Store
	logger     *slog.Logger
	commission int
	currency   string
}

func New(store Store, logger *slog.Logger, cfg Config) *Engine {
	if cfg.CommissionPercent <= 0 || cfg.CommissionPercent > 100 {
		cfg.CommissionPercent = 10
	}
	if cfg.Currency == "" {
		cfg.Currency = money.USD
	}
	return &Engine{
		store:      store,
		logger:     logger,
		commission: cfg.CommissionPercent,
		currency:   cfg.Currency,
	}
}

type NewRequest struct {
	ClientID     string
	Span         schedule.Span
	Dependents   int
	Instructions string
	Location     string
}

type CreateResult struct {
	RequestID string
	Hours     float64
	Offered   int
}

// Create stores a pending request and fans the opportunity out to every
// eligible provider in one unit of work. Offers are persisted so the later
// "closed" broadcast reaches exactly the originally notified providers, not
// whatever a re-scan would return.
func (e *Engine) Create(ctx context.Context, nr NewRequest) (CreateResult, error) {
	if nr.ClientID == "" {
		return CreateResult{}, fmt.Errorf("%w: client id required", ErrInvalidRequest)
	}
	if nr.Dependents < 1 {
		return CreateResult{}, fmt.Errorf("%w: at least one dependent", ErrInvalidRequest)
	}
	hours, err := nr.Span.Hours()
	if err != nil {
		return CreateResult{}, err
	}
	startDate, err := nr.Span.Date()
	if err != nil {
		return CreateResult{}, err
	}

	req := &model.ServiceRequest{
		ClientID:     nr.ClientID,
		StartDate:    startDate,
		StartTime:    nr.Span.StartTime,
		EndTime:      nr.Span.EndTime,
		Dependents:   nr.Dependents,
		Instructions: nr.Instructions,
		Location:     nr.Location,
		Status:       model.RequestPending,
	}
	if nr.Span.EndDate != "" {
		end, perr := schedule.Span{StartDate: nr.Span.EndDate, StartTime: "00:00", EndTime: "00:00"}.Date()
		if perr != nil {
			return CreateResult{}, perr
		}
		req.EndDate = &end
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return CreateResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := tx.InsertRequest(ctx, req)
	if err != nil {
		return CreateResult{}, err
	}

	candidates, err := tx.ListEligibleProviders(ctx)
	if err != nil {
		return CreateResult{}, err
	}

	offered := 0
	for _, p := range candidates {
		conflicting, err := tx.HasCommittedOverlap(ctx, p.ID, startDate, nr.Span.StartTime, nr.Span.EndTime)
		if err != nil {
			return CreateResult{}, err
		}
		if conflicting {
			continue
		}
		if err := tx.InsertOffer(ctx, id, p.ID); err != nil {
			return CreateResult{}, err
		}
		if err := e.appendOpportunityEvent(ctx, tx, id, nr, p); err != nil {
			return CreateResult{}, err
		}
		offered++
	}

	if err := tx.Commit(ctx); err != nil {
		return CreateResult{}, err
	}

	e.logger.Info("request created",
		"request_id", id,
		"client_id", nr.ClientID,
		"hours", hours,
		"offered", offered,
	)
	return CreateResult{RequestID: id, Hours: hours, Offered: offered}, nil
}

type ClaimResult struct {
	Outcome    Outcome
	Hours      float64
	Settlement settlement.Settlement
}

// Claim resolves a provider's attempt to take a pending request. The request
// row is locked for the whole decision, the status and the provider's
// calendar are both re-checked under that lock, and the confirming write
// happens in the same unit of work. At most one concurrent claim for a
// request can commit; every other caller observes a business rejection.
func (e *Engine) Claim(ctx context.Context, requestID, providerID string) (ClaimResult, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return ClaimResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := tx.RequestForUpdate(ctx, requestID)
	if err != nil {
		return ClaimResult{}, err
	}

	switch req.Status {
	case model.RequestPending:
		// claimable
	case model.RequestCancelled:
		return ClaimResult{Outcome: OutcomeAlreadyCancelled}, nil
	default:
		return ClaimResult{Outcome: OutcomeAlreadyAssigned}, nil
	}

	provider, err := tx.ProviderByID(ctx, providerID)
	if err != nil {
		return ClaimResult{}, err
	}
	// Availability was only advisory at fan-out time; the flag and the
	// operational status are re-validated here.
	if !provider.Eligible() {
		return ClaimResult{}, ErrProviderIneligible
	}

	conflicting, err := tx.HasCommittedOverlap(ctx, providerID, req.StartDate, req.StartTime, req.EndTime)
	if err != nil {
		return ClaimResult{}, err
	}
	if conflicting {
		return ClaimResult{Outcome: OutcomeScheduleConflict}, nil
	}

	span := spanOf(req)
	minutes, err := span.ElapsedMinutes()
	if err != nil {
		return ClaimResult{}, err
	}
	hours := float64(minutes) / 60

	rate := money.New(provider.HourlyRateMinor, currencyOr(provider.Currency, e.currency))
	split, err := settlement.Compute(minutes, rate, e.commission)
	if err != nil {
		return ClaimResult{}, err
	}

	if err := tx.ConfirmRequest(ctx, ConfirmParams{
		RequestID:   requestID,
		ProviderID:  providerID,
		Hours:       hours,
		GrossMinor:  split.Gross.Amount(),
		FeeMinor:    split.Fee.Amount(),
		PayoutMinor: split.Payout.Amount(),
		Currency:    split.Gross.Currency().Code,
	}); err != nil {
		if errors.Is(err, ErrCalendarConflict) {
			return ClaimResult{Outcome: OutcomeScheduleConflict}, nil
		}
		return ClaimResult{}, err
	}

	if err := e.appendClosedEvents(ctx, tx, requestID, providerID, outbox.TopicOpportunityClosed); err != nil {
		return ClaimResult{}, err
	}
	if err := e.appendAssignedEvent(ctx, tx, req, provider, hours, split); err != nil {
		return ClaimResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, ErrCalendarConflict) {
			return ClaimResult{Outcome: OutcomeScheduleConflict}, nil
		}
		return ClaimResult{}, err
	}

	e.logger.Info("request confirmed",
		"request_id", requestID,
		"provider_id", providerID,
		"hours", hours,
		"gross_minor", split.Gross.Amount(),
	)
	return ClaimResult{Outcome: OutcomeConfirmed, Hours: hours, Settlement: split}, nil
}

type CancelResult struct {
	Outcome Outcome
}

// Cancel moves a pending request to cancelled under the same lock discipline
// as Claim, so a simultaneous claim and cancel resolve to exactly one final
// state. Only the requesting client or an admin may cancel.
func (e *Engine) Cancel(ctx context.Context, requestID, actorID string, admin bool, reason string) (CancelResult, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return CancelResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := tx.RequestForUpdate(ctx, requestID)
	if err != nil {
		return CancelResult{}, err
	}
	if !admin && req.ClientID != actorID {
		return CancelResult{}, ErrForbidden
	}

	switch req.Status {
	case model.RequestCancelled:
		return CancelResult{Outcome: OutcomeAlreadyCancelled}, nil
	case model.RequestPending:
		// cancellable
	default:
		return CancelResult{Outcome: OutcomeAlreadyAssigned}, nil
	}

	if err := tx.CancelRequest(ctx, requestID, reason); err != nil {
		return CancelResult{}, err
	}
	if err := e.appendClosedEvents(ctx, tx, requestID, "", outbox.TopicRequestCancelled); err != nil {
		return CancelResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CancelResult{}, err
	}

	e.logger.Info("request cancelled", "request_id", requestID, "actor_id", actorID)
	return CancelResult{Outcome: OutcomeCancelled}, nil
}

// Start moves a confirmed request to in_progress. Only the assigned provider
// may start it.
func (e *Engine) Start(ctx context.Context, requestID, providerID string) error {
	return e.transition(ctx, requestID, providerID, model.RequestConfirmed, model.RequestInProgress, false)
}

// Complete moves an in_progress request to completed and credits the
// provider's completed-services count.
func (e *Engine) Complete(ctx context.Context, requestID, providerID string) error {
	return e.transition(ctx, requestID, providerID, model.RequestInProgress, model.RequestCompleted, true)
}

func (e *Engine) transition(ctx context.Context, requestID, providerID string, from, to model.RequestStatus, credit bool) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := tx.RequestForUpdate(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ProviderID == nil || *req.ProviderID != providerID {
		return ErrForbidden
	}
	if req.Status != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, to)
	}

	if err := tx.SetRequestStatus(ctx, requestID, to); err != nil {
		return err
	}
	if credit {
		if err := tx.IncrementProviderCompleted(ctx, providerID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Purge permanently deletes a request and its offers. Administrative path for
// correcting erroneous data; cancellation is the normal workflow.
func (e *Engine) Purge(ctx context.Context, requestID string) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.RequestForUpdate(ctx, requestID); err != nil {
		return err
	}
	if err := tx.DeleteRequest(ctx, requestID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	e.logger.Warn("request purged", "request_id", requestID)
	return nil
}

func (e *Engine) appendOpportunityEvent(ctx context.Context, tx Tx, requestID string, nr NewRequest, p model.Provider) error {
	payload, err := json.Marshal(map[string]any{
		"request_id":     requestID,
		"provider_id":    p.ID,
		"provider_email": p.Email,
		"start_date":     nr.Span.StartDate,
		"end_date":       nr.Span.EndDate,
		"start_time":     nr.Span.StartTime,
		"end_time":       nr.Span.EndTime,
		"dependents":     nr.Dependents,
		"location":       nr.Location,
		"title":          opportunityTitle(nr.Dependents, nr.Span.StartDate),
	})
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, outbox.Event{
		AggregateType: aggregateRequest,
		AggregateID:   requestID,
		EventType:     outbox.TopicOpportunityOffered,
		Payload:       payload,
	})
}

// appendClosedEvents notifies the providers from the original fan-out list,
// minus the winner when there is one.
func (e *Engine) appendClosedEvents(ctx context.Context, tx Tx, requestID, winnerID, eventType string) error {
	offered, err := tx.OfferedProviders(ctx, requestID)
	if err != nil {
		return err
	}
	for _, p := range offered {
		if p.ID == winnerID {
			continue
		}
		payload, err := json.Marshal(map[string]any{
			"request_id":     requestID,
			"provider_id":    p.ID,
			"provider_email": p.Email,
		})
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, outbox.Event{
			AggregateType: aggregateRequest,
			AggregateID:   requestID,
			EventType:     eventType,
			Payload:       payload,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) appendAssignedEvent(ctx context.Context, tx Tx, req model.ServiceRequest, p model.Provider, hours float64, split settlement.Settlement) error {
	payload, err := json.Marshal(map[string]any{
		"request_id":     req.ID,
		"client_id":      req.ClientID,
		"provider_id":    p.ID,
		"provider_name":  p.DisplayName,
		"provider_email": p.Email,
		"hours":          hours,
		"gross_minor":    split.Gross.Amount(),
		"fee_minor":      split.Fee.Amount(),
		"payout_minor":   split.Payout.Amount(),
		"currency":       split.Gross.Currency().Code,
	})
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, outbox.Event{
		AggregateType: aggregateRequest,
		AggregateID:   req.ID,
		EventType:     outbox.TopicRequestAssigned,
		Payload:       payload,
	})
}

func spanOf(req model.ServiceRequest) schedule.Span {
	span := schedule.Span{
		StartDate: req.StartDate.Format(schedule.DateLayout),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}
	if req.EndDate != nil {
		span.EndDate = req.EndDate.Format(schedule.DateLayout)
	}
	return span
}

func currencyOr(code, fallback string) string {
	if code == "" {
		return fallback
	}
	return code
}

func opportunityTitle(dependents int, startDate string) string {
	noun := "children"
	if dependents == 1 {
		noun = "child"
	}
	return fmt.Sprintf("Care for %d %s on %s", dependents, noun, startDate)
}
