// Package settlement computes the monetary split for a confirmed request.
// All arithmetic is on minor currency units so repeated computation with the
// same inputs yields identical amounts.
package settlement

import (
	"errors"
	"fmt"

	"github.com/Rhymond/go-money"
)

var ErrInvalidInput = errors.New("invalid settlement input")

// Settlement is the immutable money breakdown attached to a confirmed
// request: what the client pays, the platform's cut and the provider payout.
type Settlement struct {
	Gross  *money.Money
	Fee    *money.Money
	Payout *money.Money
}

// Compute derives the settlement for a service of the given elapsed minutes
// at the provider's hourly rate. commissionPercent is the platform share of
// the gross, in whole percent.
func Compute(minutes int, hourlyRate *money.Money, commissionPercent int) (Settlement, error) {
	if hourlyRate == nil || hourlyRate.Amount() <= 0 {
		return Settlement{}, fmt.Errorf("%w: hourly rate must be positive", ErrInvalidInput)
	}
	if minutes <= 0 {
		return Settlement{}, fmt.Errorf("%w: minutes must be positive", ErrInvalidInput)
	}
	if commissionPercent < 0 || commissionPercent > 100 {
		return Settlement{}, fmt.Errorf("%w: commission %d%% out of range", ErrInvalidInput, commissionPercent)
	}

	// Gross in minor units, rounded half-up at the minute granularity.
	grossMinor := (hourlyRate.Amount()*int64(minutes) + 30) / 60
	gross := money.New(grossMinor, hourlyRate.Currency().Code)

	// Allocate distributes remainder cents deterministically, so
	// fee + payout always equals gross exactly.
	parts, err := gross.Allocate(commissionPercent, 100-commissionPercent)
	if err != nil {
		return Settlement{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return Settlement{Gross: gross, Fee: parts[0], Payout: parts[1]}, nil
}
