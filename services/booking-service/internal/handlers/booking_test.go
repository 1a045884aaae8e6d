package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rhymond/go-money"

	"github.com/mahir-abrar/nannydesk/libs/auth"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/engine"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/handlers"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/model"
	"github.com/mahir-abrar/nannydesk/services/booking-service/internal/settlement"
)

type fakeEngine struct {
	createResult engine.CreateResult
	createErr    error
	claimResult  engine.ClaimResult
	claimErr     error
	cancelResult engine.CancelResult
	cancelErr    error
	startErr     error
	completeErr  error
	purgeErr     error

	lastNewRequest engine.NewRequest
	lastRequestID  string
	lastActorID    string
	lastAdmin      bool
}

func (f *fakeEngine) Create(_ context.Context, nr engine.NewRequest) (engine.CreateResult, error) {
	f.lastNewRequest = nr
	return f.createResult, f.createErr
}

func (f *fakeEngine) Claim(_ context.Context, requestID, providerID string) (engine.ClaimResult, error) {
	f.lastRequestID, f.lastActorID = requestID, providerID
	return f.claimResult, f.claimErr
}

func (f *fakeEngine) Cancel(_ context.Context, requestID, actorID string, admin bool, _ string) (engine.CancelResult, error) {
	f.lastRequestID, f.lastActorID, f.lastAdmin = requestID, actorID, admin
	return f.cancelResult, f.cancelErr
}

func (f *fakeEngine) Start(_ context.Context, requestID, providerID string) error {
	f.lastRequestID, f.lastActorID = requestID, providerID
	return f.startErr
}

func (f *fakeEngine) Complete(_ context.Context, requestID, providerID string) error {
	f.lastRequestID, f.lastActorID = requestID, providerID
	return f.completeErr
}

func (f *fakeEngine) Purge(_ context.Context, requestID string) error {
	f.lastRequestID = requestID
	return f.purgeErr
}

type fakeReader struct {
	request model.ServiceRequest
	getErr  error
	list    []model.ServiceRequest
	listErr error

	lastClientID string
}

func (f *fakeReader) GetRequest(context.Context, string) (model.ServiceRequest, error) {
	return f.request, f.getErr
}

func (f *fakeReader) ListRequestsByClient(_ context.Context, clientID string, _ int) ([]model.ServiceRequest, error) {
	f.lastClientID = clientID
	return f.list, f.listErr
}

func newHandler(eng *fakeEngine, reader *fakeReader) *handlers.BookingHandler {
	return handlers.NewBookingHandler(eng, reader, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func asPrincipal(r *http.Request, sub, role string) *http.Request {
	return r.WithContext(auth.WithPrincipal(r.Context(), auth.Principal{Sub: sub, Role: role}))
}

func TestCreateRequest(t *testing.T) {
	eng := &fakeEngine{createResult: engine.CreateResult{RequestID: "req-1", Hours: 10, Offered: 3}}
	h := newHandler(eng, &fakeReader{})

	body := `{"start_date":"2026-09-10","start_time":"08:00","end_time":"18:00","dependents":2,"location":"Dhanmondi"}`
	r := asPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(body)), "client-1", auth.RoleClient)
	w := httptest.NewRecorder()
	h.Create(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (%s)", w.Code, http.StatusCreated, w.Body.String())
	}
	var resp struct {
		RequestID string  `json:"request_id"`
		Status    string  `json:"status"`
		Hours     float64 `json:"hours"`
		Offered   int     `json:"offered"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RequestID != "req-1" || resp.Status != "pending" || resp.Hours != 10 || resp.Offered != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if eng.lastNewRequest.ClientID != "client-1" {
		t.Fatalf("client id from token not used: %q", eng.lastNewRequest.ClientID)
	}
	if eng.lastNewRequest.Span.StartDate != "2026-09-10" || eng.lastNewRequest.Span.EndTime != "18:00" {
		t.Fatalf("span not passed through: %+v", eng.lastNewRequest.Span)
	}
}

func TestCreateRejectsWrongRole(t *testing.T) {
	h := newHandler(&fakeEngine{}, &fakeReader{})

	r := asPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(`{}`)), "prov-1", auth.RoleProvider)
	w := httptest.NewRecorder()
	h.Create(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("provider creating a request: status = %d, want 403", w.Code)
	}

	w = httptest.NewRecorder()
	h.Create(w, httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(`{}`)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no principal: status = %d, want 401", w.Code)
	}
}

func TestClaimConfirmed(t *testing.T) {
	gross := money.New(18500, money.BDT)
	split, err := settlement.Compute(600, money.New(1850, money.BDT), 10)
	if err != nil {
		t.Fatalf("compute settlement: %v", err)
	}
	eng := &fakeEngine{claimResult: engine.ClaimResult{Outcome: engine.OutcomeConfirmed, Hours: 10, Settlement: split}}
	h := newHandler(eng, &fakeReader{})

	r := asPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/requests/claim", strings.NewReader(`{"request_id":"req-1"}`)), "prov-1", auth.RoleProvider)
	w := httptest.NewRecorder()
	h.Claim(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	var resp struct {
		Status      string `json:"status"`
		GrossMinor  int64  `json:"gross_minor"`
		FeeMinor    int64  `json:"fee_minor"`
		PayoutMinor int64  `json:"payout_minor"`
		Currency    string `json:"currency"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "confirmed" {
		t.Fatalf("status field = %q", resp.Status)
	}
	if resp.GrossMinor != gross.Amount() || resp.FeeMinor+resp.PayoutMinor != resp.GrossMinor {
		t.Fatalf("settlement fields do not reconcile: %+v", resp)
	}
	if resp.Currency != money.BDT {
		t.Fatalf("currency = %q", resp.Currency)
	}
	if eng.lastActorID != "prov-1" {
		t.Fatalf("provider id from token not used: %q", eng.lastActorID)
	}
}

func TestClaimLostRaceIsConflictNotError(t *testing.T) {
	cases := []struct {
		outcome engine.Outcome
	}{
		{engine.OutcomeAlreadyAssigned},
		{engine.OutcomeAlreadyCancelled},
		{engine.OutcomeScheduleConflict},
	}
	for _, tc := range cases {
		eng := &fakeEngine{claimResult: engine.ClaimResult{Outcome: tc.outcome}}
		h := newHandler(eng, &fakeReader{})

		r := asPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/requests/claim", strings.NewReader(`{"request_id":"req-1"}`)), "prov-1", auth.RoleProvider)
		w := httptest.NewRecorder()
		h.Claim(w, r)

		if w.Code != http.StatusConflict {
			t.Fatalf("%s: status = %d, want 409", tc.outcome, w.Code)
		}
		var resp struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode response: %v", tc.outcome, err)
		}
		if resp.Status != string(tc.outcome) {
			t.Fatalf("status field = %q, want %q", resp.Status, tc.outcome)
		}
	}
}

func TestClaimErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", engine.ErrNotFound, http.StatusNotFound},
		{"ineligible", engine.ErrProviderIneligible, http.StatusUnprocessableEntity},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHandler(&fakeEngine{claimErr: tc.err}, &fakeReader{})
			r := asPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/requests/claim", strings.NewReader(`{"request_id":"req-1"}`)), "prov-1", auth.RoleProvider)
			w := httptest.NewRecorder()
			h.Claim(w, r)
			if w.Code != tc.code {
				t.Fatalf("status = %d, want %d", w.Code, tc.code)
			}
		})
	}
}

func TestCancelAdminFlag(t *testing.T) {
	eng := &fakeEngine{cancelResult: engine.CancelResult{Outcome: engine.OutcomeCancelled}}
	h := newHandler(eng, &fakeReader{})

	r := asPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/requests/cancel", strings.NewReader(`{"request_id":"req-1","reason":"plans changed"}`)), "admin-1", auth.RoleAdmin)
	w := httptest.NewRecorder()
	h.Cancel(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if !eng.lastAdmin {
		t.Fatal("admin flag not set for admin principal")
	}

	eng.cancelResult = engine.CancelResult{Outcome: engine.OutcomeAlreadyAssigned}
	r = asPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/requests/cancel", strings.NewReader(`{"request_id":"req-1"}`)), "client-1", auth.RoleClient)
	w = httptest.NewRecorder()
	h.Cancel(w, r)

	if w.Code != http.StatusConflict {
		t.Fatalf("cancel after assignment: status = %d, want 409", w.Code)
	}
	if eng.lastAdmin {
		t.Fatal("admin flag set for client principal")
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	provID := "prov-1"
	reader := &fakeReader{request: model.ServiceRequest{
		ID:         "req-1",
		ClientID:   "client-1",
		ProviderID: &provID,
		StartDate:  time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
		StartTime:  "08:00",
		EndTime:    "18:00",
		Dependents: 2,
		Status:     model.RequestConfirmed,
		CreatedAt:  time.Now(),
	}}
	h := newHandler(&fakeEngine{}, reader)

	for _, tc := range []struct {
		sub, role string
		code      int
	}{
		{"client-1", auth.RoleClient, http.StatusOK},
		{"prov-1", auth.RoleProvider, http.StatusOK},
		{"admin-1", auth.RoleAdmin, http.StatusOK},
		{"client-2", auth.RoleClient, http.StatusForbidden},
		{"prov-2", auth.RoleProvider, http.StatusForbidden},
	} {
		r := asPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/requests/get?request_id=req-1", nil), tc.sub, tc.role)
		w := httptest.NewRecorder()
		h.Get(w, r)
		if w.Code != tc.code {
			t.Fatalf("%s/%s: status = %d, want %d", tc.role, tc.sub, w.Code, tc.code)
		}
	}
}

func TestListScopesToPrincipal(t *testing.T) {
	reader := &fakeReader{}
	h := newHandler(&fakeEngine{}, reader)

	r := asPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/requests?client_id=someone-else", nil), "client-1", auth.RoleClient)
	w := httptest.NewRecorder()
	h.List(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if reader.lastClientID != "client-1" {
		t.Fatalf("client can read someone else's list: queried %q", reader.lastClientID)
	}

	r = asPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/requests?client_id=client-7", nil), "admin-1", auth.RoleAdmin)
	w = httptest.NewRecorder()
	h.List(w, r)
	if reader.lastClientID != "client-7" {
		t.Fatalf("admin filter ignored: queried %q", reader.lastClientID)
	}
}

func TestPurgeAdminOnly(t *testing.T) {
	eng := &fakeEngine{}
	h := newHandler(eng, &fakeReader{})

	r := asPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/admin/requests/purge", strings.NewReader(`{"request_id":"req-1"}`)), "client-1", auth.RoleClient)
	w := httptest.NewRecorder()
	h.Purge(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("client purging: status = %d, want 403", w.Code)
	}

	r = asPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/admin/requests/purge", strings.NewReader(`{"request_id":"req-1"}`)), "admin-1", auth.RoleAdmin)
	w = httptest.NewRecorder()
	h.Purge(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("admin purging: status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if eng.lastRequestID != "req-1" {
		t.Fatalf("purge request id = %q", eng.lastRequestID)
	}
}

func TestStartAndComplete(t *testing.T) {
	eng := &fakeEngine{}
	h := newHandler(eng, &fakeReader{})

	r := asPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/requests/start", strings.NewReader(`{"request_id":"req-1"}`)), "prov-1", auth.RoleProvider)
	w := httptest.NewRecorder()
	h.Start(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("start: status = %d, want 200", w.Code)
	}

	eng.completeErr = engine.ErrInvalidTransition
	r = asPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/requests/complete", strings.NewReader(`{"request_id":"req-1"}`)), "prov-1", auth.RoleProvider)
	w = httptest.NewRecorder()
	h.Complete(w, r)
	if w.Code != http.StatusConflict {
		t.Fatalf("complete from wrong state: status = %d, want 409", w.Code)
	}
}
