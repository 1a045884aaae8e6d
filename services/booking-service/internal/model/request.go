package model

import "time"

type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestConfirmed  RequestStatus = "confirmed"
	RequestInProgress RequestStatus = "in_progress"
	RequestCompleted  RequestStatus = "completed"
	RequestCancelled  RequestStatus = "cancelled"
)

// HoldsCalendar reports whether a request in this status blocks the assigned
// provider's calendar for conflict detection.
func (s RequestStatus) HoldsCalendar() bool {
	return s == RequestConfirmed || s == RequestInProgress
}

// ServiceRequest is a client's demand for a time-boxed care service.
// ProviderID is set if and only if the status is confirmed, in_progress or
// completed; the settlement fields are written once, at confirmation.
type ServiceRequest struct {
	ID           string
	ClientID     string
	StartDate    time.Time // calendar date, midnight UTC
	EndDate      *time.Time
	StartTime    string // wall clock "15:04"
	EndTime      string
	Dependents   int
	Instructions string
	Location     string
	Status       RequestStatus
	ProviderID   *string
	Hours        *float64
	GrossMinor   *int64
	FeeMinor     *int64
	PayoutMinor  *int64
	Currency     string
	CreatedAt    time.Time
	ConfirmedAt  *time.Time
	CancelledAt  *time.Time
	CancelReason string
}
