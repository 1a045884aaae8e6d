package delivery_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/mahir-abrar/nannydesk/services/notification-service/internal/delivery"
	"github.com/mahir-abrar/nannydesk/services/notification-service/internal/dispatch"
	"github.com/mahir-abrar/nannydesk/services/notification-service/internal/storage"
)

type fakeStore struct {
	err       error
	duplicate bool
	saved     []storage.Notification
}

func (f *fakeStore) SaveDelivery(_ context.Context, n storage.Notification) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.duplicate {
		return false, nil
	}
	f.saved = append(f.saved, n)
	return true, nil
}

type fakeSender struct {
	err   error
	sends int
}

func (f *fakeSender) Send(string, string, string) error {
	f.sends++
	return f.err
}

var offeredPayload = []byte(`{
	"request_id": "req-1",
	"provider_id": "prov-1",
	"provider_email": "nanny@example.com",
	"start_date": "2026-09-10",
	"start_time": "08:00",
	"end_time": "18:00",
	"dependents": 2
}`)

func newProcessor(sender *fakeSender, store *fakeStore) *delivery.Processor {
	return delivery.NewProcessor(sender, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandlePersistsDelivery(t *testing.T) {
	store := &fakeStore{}
	sender := &fakeSender{}
	p := newProcessor(sender, store)

	if err := p.Handle(context.Background(), "evt-1", dispatch.TopicOpportunityOffered, offeredPayload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sender.sends != 1 {
		t.Fatalf("sends = %d, want 1", sender.sends)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved = %d records, want 1", len(store.saved))
	}
	got := store.saved[0]
	if got.EventID != "evt-1" || got.Status != "sent" || got.Recipient != "nanny@example.com" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestHandleRecordsSendFailure(t *testing.T) {
	store := &fakeStore{}
	sender := &fakeSender{err: errors.New("smtp down")}
	p := newProcessor(sender, store)

	if err := p.Handle(context.Background(), "evt-1", dispatch.TopicOpportunityOffered, offeredPayload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.saved) != 1 || store.saved[0].Status != "failed" || store.saved[0].Reason != "smtp down" {
		t.Fatalf("failure not recorded: %+v", store.saved)
	}
}

func TestHandleStoreFailureLeavesEventRetryable(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	sender := &fakeSender{}
	p := newProcessor(sender, store)

	if err := p.Handle(context.Background(), "evt-1", dispatch.TopicOpportunityOffered, offeredPayload); err == nil {
		t.Fatal("store failure must propagate so the redelivery retries")
	}

	// The retry, with storage healthy again, settles the event.
	store.err = nil
	if err := p.Handle(context.Background(), "evt-1", dispatch.TopicOpportunityOffered, offeredPayload); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved = %d records after retry, want 1", len(store.saved))
	}
}

func TestHandleDropsUndeliverableEvents(t *testing.T) {
	store := &fakeStore{}
	sender := &fakeSender{}
	p := newProcessor(sender, store)

	if err := p.Handle(context.Background(), "evt-1", "billing.invoice.created.v1", []byte(`{}`)); err != nil {
		t.Fatalf("unknown topic should settle without error, got %v", err)
	}
	if sender.sends != 0 || len(store.saved) != 0 {
		t.Fatalf("undeliverable event reached send/persist: sends=%d saved=%d", sender.sends, len(store.saved))
	}
}

func TestHandleConcurrentClaimLoss(t *testing.T) {
	store := &fakeStore{duplicate: true}
	sender := &fakeSender{}
	p := newProcessor(sender, store)

	if err := p.Handle(context.Background(), "evt-1", dispatch.TopicOpportunityOffered, offeredPayload); err != nil {
		t.Fatalf("losing the claim race is not an error: %v", err)
	}
}
