package dispatch_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/mahir-abrar/nannydesk/services/notification-service/internal/dispatch"
)

func TestRenderOffered(t *testing.T) {
	payload := []byte(`{
		"request_id": "req-1",
		"provider_id": "prov-1",
		"provider_email": "nanny@example.com",
		"start_date": "2026-09-10",
		"end_date": "2026-09-11",
		"start_time": "20:00",
		"end_time": "06:00",
		"dependents": 2,
		"location": "Gulshan",
		"title": "Care for 2 children on 2026-09-10"
	}`)

	msg, err := dispatch.Render(dispatch.TopicOpportunityOffered, payload)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.Recipient != "nanny@example.com" {
		t.Fatalf("recipient = %q", msg.Recipient)
	}
	if msg.Subject != "Care for 2 children on 2026-09-10" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	for _, want := range []string{"2026-09-10 to 2026-09-11", "20:00 to 06:00", "Children: 2", "Gulshan"} {
		if !strings.Contains(msg.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestRenderAssignedFormatsPayout(t *testing.T) {
	payload := []byte(`{
		"request_id": "req-1",
		"provider_id": "prov-1",
		"provider_email": "nanny@example.com",
		"hours": 10,
		"payout_minor": 16650,
		"currency": "BDT"
	}`)

	msg, err := dispatch.Render(dispatch.TopicRequestAssigned, payload)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.Subject != "Booking confirmed" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "166.50") {
		t.Fatalf("payout not formatted from minor units:\n%s", msg.Body)
	}
}

func TestRenderClosedAndCancelled(t *testing.T) {
	payload := []byte(`{"request_id":"req-1","provider_id":"prov-2","provider_email":"other@example.com"}`)

	closed, err := dispatch.Render(dispatch.TopicOpportunityClosed, payload)
	if err != nil {
		t.Fatalf("render closed: %v", err)
	}
	if !strings.Contains(closed.Body, "another provider") {
		t.Fatalf("closed body: %s", closed.Body)
	}

	cancelled, err := dispatch.Render(dispatch.TopicRequestCancelled, payload)
	if err != nil {
		t.Fatalf("render cancelled: %v", err)
	}
	if !strings.Contains(cancelled.Body, "cancelled by the client") {
		t.Fatalf("cancelled body: %s", cancelled.Body)
	}
}

func TestRenderRejectsUnknownAndIncomplete(t *testing.T) {
	if _, err := dispatch.Render("billing.invoice.created.v1", []byte(`{}`)); !errors.Is(err, dispatch.ErrUnknownEventType) {
		t.Fatalf("unknown topic error = %v", err)
	}
	if _, err := dispatch.Render(dispatch.TopicOpportunityOffered, []byte(`{"request_id":"req-1"}`)); !errors.Is(err, dispatch.ErrMissingRecipient) {
		t.Fatalf("missing recipient error = %v", err)
	}
	if _, err := dispatch.Render(dispatch.TopicOpportunityOffered, []byte(`{not json`)); err == nil {
		t.Fatal("malformed payload accepted")
	}
}
