package model

import "time"

type ProviderStatus string

const (
	ProviderActive    ProviderStatus = "active"
	ProviderInactive  ProviderStatus = "inactive"
	ProviderSuspended ProviderStatus = "suspended"
)

// Provider is a caregiver account. The record is owned by the provider
// management workflow; this service reads it and only ever writes the
// completed-services counter.
type Provider struct {
	ID                string
	DisplayName       string
	Email             string
	HourlyRateMinor   int64
	Currency          string
	Available         bool
	UnavailableReason string
	Rating            float64
	CompletedCount    int
	Status            ProviderStatus
	CreatedAt         time.Time
}

// Eligible reports whether the provider may receive opportunity fan-out.
func (p Provider) Eligible() bool {
	return p.Status == ProviderActive && p.Available
}
