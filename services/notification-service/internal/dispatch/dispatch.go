// Package dispatch turns booking events into notification messages.
// Rendering is pure so it can be tested without Kafka or SMTP.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
)

// Topics this service reacts to. They mirror what the booking service emits.
const (
	TopicOpportunityOffered = "booking.opportunity.offered.v1"
	TopicOpportunityClosed  = "booking.opportunity.closed.v1"
	TopicRequestAssigned    = "booking.request.assigned.v1"
	TopicRequestCancelled   = "booking.request.cancelled.v1"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingRecipient = errors.New("payload has no recipient")
)

// Message is a rendered notification ready for a delivery channel.
type Message struct {
	RequestID  string
	ProviderID string
	Recipient  string
	Subject    string
	Body       string
}

type offeredPayload struct {
	RequestID     string `json:"request_id"`
	ProviderID    string `json:"provider_id"`
	ProviderEmail string `json:"provider_email"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Dependents    int    `json:"dependents"`
	Location      string `json:"location"`
	Title         string `json:"title"`
}

type closedPayload struct {
	RequestID     string `json:"request_id"`
	ProviderID    string `json:"provider_id"`
	ProviderEmail string `json:"provider_email"`
}

type assignedPayload struct {
	RequestID     string  `json:"request_id"`
	ProviderID    string  `json:"provider_id"`
	ProviderName  string  `json:"provider_name"`
	ProviderEmail string  `json:"provider_email"`
	Hours         float64 `json:"hours"`
	PayoutMinor   int64   `json:"payout_minor"`
	Currency      string  `json:"currency"`
}

// Render builds the message for one event. A nil error with a complete
// Message means the event is deliverable; ErrUnknownEventType marks topics
// this service does not handle.
func Render(eventType string, payload []byte) (Message, error) {
	switch eventType {
	case TopicOpportunityOffered:
		return renderOffered(payload)
	case TopicOpportunityClosed:
		return renderClosed(payload)
	case TopicRequestAssigned:
		return renderAssigned(payload)
	case TopicRequestCancelled:
		return renderCancelled(payload)
	default:
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
}

func renderOffered(payload []byte) (Message, error) {
	var p offeredPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Message{}, err
	}
	if p.ProviderEmail == "" {
		return Message{}, ErrMissingRecipient
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A new service request is open for you to claim.\n\n")
	fmt.Fprintf(&b, "Date: %s", p.StartDate)
	if p.EndDate != "" && p.EndDate != p.StartDate {
		fmt.Fprintf(&b, " to %s", p.EndDate)
	}
	fmt.Fprintf(&b, "\nTime: %s to %s\n", p.StartTime, p.EndTime)
	fmt.Fprintf(&b, "Children: %d\n", p.Dependents)
	if p.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", p.Location)
	}
	b.WriteString("\nFirst provider to claim gets the booking.\n")

	subject := p.Title
	if subject == "" {
		subject = "New service request available"
	}
	return Message{
		RequestID:  p.RequestID,
		ProviderID: p.ProviderID,
		Recipient:  p.ProviderEmail,
		Subject:    subject,
		Body:       b.String(),
	}, nil
}

func renderClosed(payload []byte) (Message, error) {
	var p closedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Message{}, err
	}
	if p.ProviderEmail == "" {
		return Message{}, ErrMissingRecipient
	}
	return Message{
		RequestID:  p.RequestID,
		ProviderID: p.ProviderID,
		Recipient:  p.ProviderEmail,
		Subject:    "Request no longer available",
		Body:       "The service request you were offered has been taken by another provider.\n",
	}, nil
}

func renderCancelled(payload []byte) (Message, error) {
	var p closedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Message{}, err
	}
	if p.ProviderEmail == "" {
		return Message{}, ErrMissingRecipient
	}
	return Message{
		RequestID:  p.RequestID,
		ProviderID: p.ProviderID,
		Recipient:  p.ProviderEmail,
		Subject:    "Request cancelled",
		Body:       "The service request you were offered has been cancelled by the client.\n",
	}, nil
}

func renderAssigned(payload []byte) (Message, error) {
	var p assignedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Message{}, err
	}
	if p.ProviderEmail == "" {
		return Message{}, ErrMissingRecipient
	}

	currency := p.Currency
	if currency == "" {
		currency = "BDT"
	}
	payout := money.New(p.PayoutMinor, currency)

	var b strings.Builder
	fmt.Fprintf(&b, "You are confirmed for this booking.\n\n")
	fmt.Fprintf(&b, "Hours: %.2f\n", p.Hours)
	fmt.Fprintf(&b, "Your payout: %s\n", payout.Display())
	b.WriteString("\nPlease arrive on time and mark the service as started from the app.\n")

	return Message{
		RequestID:  p.RequestID,
		ProviderID: p.ProviderID,
		Recipient:  p.ProviderEmail,
		Subject:    "Booking confirmed",
		Body:       b.String(),
	}, nil
}
