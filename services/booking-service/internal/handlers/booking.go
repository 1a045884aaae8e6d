package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mahir-abrar/nannydesk/libs/auth"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/engine"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/model"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/schedule"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/settlement"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/storage"
)

// Engine is the booking assignment core as the HTTP layer sees it.
type Engine interface {
	Create(ctx context.Context, nr engine.NewRequest) (engine.CreateResult, error)
	Claim(ctx context.Context, requestID, providerID string) (engine.ClaimResult, error)
	Cancel(ctx context.Context, requestID, actorID string, admin bool, reason string) (engine.CancelResult, error)
	Start(ctx context.Context, requestID, providerID string) error
	Complete(ctx context.Context, requestID, providerID string) error
	Purge(ctx context.Context, requestID string) error
}

// Reader serves plain reads that need no locking.
type Reader interface {
	GetRequest(ctx context.Context, id string) (model.ServiceRequest, error)
	ListRequestsByClient(ctx context.Context, clientID string, limit int) ([]model.ServiceRequest, error)
}

type BookingHandler struct {
	engine Engine
	reader Reader
	logger *slog.Logger
}

func NewBookingHandler(eng Engine, reader Reader, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: eng, reader: reader, logger: logger}
}

type createRequestBody struct {
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Dependents   int    `json:"dependents"`
	Instructions string `json:"instructions"`
	Location     string `json:"location"`
}

type createRequestResponse struct {
	RequestID string  `json:"request_id"`
	Status    string  `json:"status"`
	Hours     float64 `json:"hours"`
	Offered   int     `json:"offered"`
}

type claimRequestBody struct {
	RequestID string `json:"request_id"`
}

type claimResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message,omitempty"`
	Hours       float64 `json:"hours,omitempty"`
	GrossMinor  int64   `json:"gross_minor,omitempty"`
	FeeMinor    int64   `json:"fee_minor,omitempty"`
	PayoutMinor int64   `json:"payout_minor,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	Gross       string  `json:"gross,omitempty"`
	Payout      string  `json:"payout,omitempty"`
}

type cancelRequestBody struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type requestItem struct {
	RequestID   string  `json:"request_id"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date,omitempty"`
	StartTime   string  `json:"start_time"`
	EndTime     string  `json:"end_time"`
	Dependents  int     `json:"dependents"`
	Location    string  `json:"location"`
	Status      string  `json:"status"`
	ProviderID  string  `json:"provider_id,omitempty"`
	Hours       float64 `json:"hours,omitempty"`
	GrossMinor  int64   `json:"gross_minor,omitempty"`
	FeeMinor    int64   `json:"fee_minor,omitempty"`
	PayoutMinor int64   `json:"payout_minor,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	principal, ok := requireRole(w, r, auth.RoleClient)
	if !ok {
		return
	}

	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	res, err := h.engine.Create(r.Context(), engine.NewRequest{
		ClientID: principal.Sub,
		Span: schedule.Span{
			StartDate: strings.TrimSpace(body.StartDate),
			EndDate:   strings.TrimSpace(body.EndDate),
			StartTime: strings.TrimSpace(body.StartTime),
			EndTime:   strings.TrimSpace(body.EndTime),
		},
		Dependents:   body.Dependents,
		Instructions: strings.TrimSpace(body.Instructions),
		Location:     strings.TrimSpace(body.Location),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createRequestResponse{
		RequestID: res.RequestID,
		Status:    string(model.RequestPending),
		Hours:     res.Hours,
		Offered:   res.Offered,
	})
}

func (h *BookingHandler) Claim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	principal, ok := requireRole(w, r, auth.RoleProvider)
	if !ok {
		return
	}

	var body claimRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	requestID := strings.TrimSpace(body.RequestID)
	if requestID == "" {
		http.Error(w, "request_id required", http.StatusBadRequest)
		return
	}

	res, err := h.engine.Claim(r.Context(), requestID, principal.Sub)
	if err != nil {
		h.writeError(w, err)
		return
	}

	switch res.Outcome {
	case engine.OutcomeConfirmed:
		writeJSON(w, http.StatusOK, claimResponse{
			Status:      string(res.Outcome),
			Hours:       res.Hours,
			GrossMinor:  res.Settlement.Gross.Amount(),
			FeeMinor:    res.Settlement.Fee.Amount(),
			PayoutMinor: res.Settlement.Payout.Amount(),
			Currency:    res.Settlement.Gross.Currency().Code,
			Gross:       res.Settlement.Gross.Display(),
			Payout:      res.Settlement.Payout.Display(),
		})
	case engine.OutcomeScheduleConflict:
		writeJSON(w, http.StatusConflict, claimResponse{
			Status:  string(res.Outcome),
			Message: "you already have a booking that overlaps this request",
		})
	default:
		// A lost race is an expected outcome, not a fault.
		writeJSON(w, http.StatusConflict, claimResponse{
			Status:  string(res.Outcome),
			Message: "this request is no longer available",
		})
	}
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	principal, ok := requireRole(w, r, auth.RoleClient, auth.RoleAdmin)
	if !ok {
		return
	}

	var body cancelRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	requestID := strings.TrimSpace(body.RequestID)
	if requestID == "" {
		http.Error(w, "request_id required", http.StatusBadRequest)
		return
	}

	res, err := h.engine.Cancel(r.Context(), requestID, principal.Sub, principal.Role == auth.RoleAdmin, strings.TrimSpace(body.Reason))
	if err != nil {
		h.writeError(w, err)
		return
	}

	switch res.Outcome {
	case engine.OutcomeCancelled, engine.OutcomeAlreadyCancelled:
		writeJSON(w, http.StatusOK, statusResponse{Status: string(res.Outcome)})
	default:
		writeJSON(w, http.StatusConflict, statusResponse{
			Status:  string(res.Outcome),
			Message: "a provider has already been assigned",
		})
	}
}

func (h *BookingHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Start, model.RequestInProgress)
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Complete, model.RequestCompleted)
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string) error, to model.RequestStatus) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	principal, ok := requireRole(w, r, auth.RoleProvider)
	if !ok {
		return
	}

	var body claimRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	requestID := strings.TrimSpace(body.RequestID)
	if requestID == "" {
		http.Error(w, "request_id required", http.StatusBadRequest)
		return
	}

	if err := op(r.Context(), requestID, principal.Sub); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: string(to)})
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	principal, ok := requireRole(w, r, auth.RoleClient, auth.RoleAdmin)
	if !ok {
		return
	}

	clientID := principal.Sub
	if principal.Role == auth.RoleAdmin {
		if v := strings.TrimSpace(r.URL.Query().Get("client_id")); v != "" {
			clientID = v
		}
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	reqs, err := h.reader.ListRequestsByClient(r.Context(), clientID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]requestItem, 0, len(reqs))
	for _, req := range reqs {
		items = append(items, toRequestItem(req))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	principal, hasPrincipal := auth.PrincipalFromContext(r.Context())
	if !hasPrincipal {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	requestID := strings.TrimSpace(r.URL.Query().Get("request_id"))
	if requestID == "" {
		http.Error(w, "request_id required", http.StatusBadRequest)
		return
	}

	req, err := h.reader.GetRequest(r.Context(), requestID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	allowed := principal.Role == auth.RoleAdmin ||
		req.ClientID == principal.Sub ||
		(req.ProviderID != nil && *req.ProviderID == principal.Sub)
	if !allowed {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, toRequestItem(req))
}

func (h *BookingHandler) Purge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireRole(w, r, auth.RoleAdmin); !ok {
		return
	}

	var body claimRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	requestID := strings.TrimSpace(body.RequestID)
	if requestID == "" {
		http.Error(w, "request_id required", http.StatusBadRequest)
		return
	}

	if err := h.engine.Purge(r.Context(), requestID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "purged"})
}

func (h *BookingHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		http.Error(w, "request not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, engine.ErrInvalidRequest), errors.Is(err, schedule.ErrInvalidSpan):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrProviderIneligible):
		http.Error(w, "provider is not currently eligible", http.StatusUnprocessableEntity)
	case errors.Is(err, settlement.ErrInvalidInput):
		http.Error(w, "settlement could not be computed", http.StatusUnprocessableEntity)
	case errors.Is(err, engine.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case storage.IsTransient(err):
		http.Error(w, "temporarily unavailable, please retry", http.StatusServiceUnavailable)
	default:
		h.logger.Error("booking operation failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func requireRole(w http.ResponseWriter, r *http.Request, roles ...string) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return auth.Principal{}, false
	}
	for _, role := range roles {
		if principal.Role == role {
			return principal, true
		}
	}
	http.Error(w, "forbidden", http.StatusForbidden)
	return auth.Principal{}, false
}

func toRequestItem(req model.ServiceRequest) requestItem {
	item := requestItem{
		RequestID:  req.ID,
		StartDate:  req.StartDate.Format(schedule.DateLayout),
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Dependents: req.Dependents,
		Location:   req.Location,
		Status:     string(req.Status),
		Currency:   req.Currency,
		CreatedAt:  req.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if req.EndDate != nil {
		item.EndDate = req.EndDate.Format(schedule.DateLayout)
	}
	if req.ProviderID != nil {
		item.ProviderID = *req.ProviderID
	}
	if req.Hours != nil {
		item.Hours = *req.Hours
	}
	if req.GrossMinor != nil {
		item.GrossMinor = *req.GrossMinor
	}
	if req.FeeMinor != nil {
		item.FeeMinor = *req.FeeMinor
	}
	if req.PayoutMinor != nil {
		item.PayoutMinor = *req.PayoutMinor
	}
	return item
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
