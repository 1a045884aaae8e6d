// Package schedule computes elapsed durations for requested care spans.
//
// Spans are wall-clock values in the platform's single operating locale; no
// timezone conversion is applied anywhere in this package.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

const minutesPerDay = 24 * 60

var ErrInvalidSpan = errors.New("invalid span")

// Span is a requested service window: a start date, an optional end date and
// start/end clock times.
type Span struct {
	StartDate string
	EndDate   string // empty for same-day requests
	StartTime string
	EndTime   string
}

// Validate checks the field formats and that the end date, when present, is
// not before the start date.
func (s Span) Validate() error {
	start, err := time.Parse(DateLayout, s.StartDate)
	if err != nil {
		return fmt.Errorf("%w: start date %q", ErrInvalidSpan, s.StartDate)
	}
	if s.EndDate != "" {
		end, err := time.Parse(DateLayout, s.EndDate)
		if err != nil {
			return fmt.Errorf("%w: end date %q", ErrInvalidSpan, s.EndDate)
		}
		if end.Before(start) {
			return fmt.Errorf("%w: end date before start date", ErrInvalidSpan)
		}
	}
	if _, err := time.Parse(ClockLayout, s.StartTime); err != nil {
		return fmt.Errorf("%w: start time %q", ErrInvalidSpan, s.StartTime)
	}
	if _, err := time.Parse(ClockLayout, s.EndTime); err != nil {
		return fmt.Errorf("%w: end time %q", ErrInvalidSpan, s.EndTime)
	}
	return nil
}

// ElapsedMinutes returns the elapsed duration of the span in whole minutes.
//
// Same-day spans whose end time is not after the start time are read as
// crossing midnight, so an equal start and end time yields a full 24 hours
// rather than zero. That wraparound is long-standing billing behavior and is
// preserved deliberately; see Hours.
func (s Span) ElapsedMinutes() (int, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}

	startMin := clockMinutes(s.StartTime)
	endMin := clockMinutes(s.EndTime)

	if s.EndDate == "" || s.EndDate == s.StartDate {
		diff := endMin - startMin
		if diff <= 0 {
			diff += minutesPerDay
		}
		return diff, nil
	}

	startDate, _ := time.Parse(DateLayout, s.StartDate)
	endDate, _ := time.Parse(DateLayout, s.EndDate)
	days := int(endDate.Sub(startDate).Hours() / 24)

	// Remainder of the start day, plus the full days in between, plus the
	// partial end day.
	total := (minutesPerDay - startMin) + (days-1)*minutesPerDay + endMin
	return total, nil
}

// Hours returns the elapsed duration in hours.
func (s Span) Hours() (float64, error) {
	minutes, err := s.ElapsedMinutes()
	if err != nil {
		return 0, err
	}
	return float64(minutes) / 60, nil
}

// Date returns the parsed start date.
func (s Span) Date() (time.Time, error) {
	return time.Parse(DateLayout, s.StartDate)
}

func clockMinutes(clock string) int {
	t, _ := time.Parse(ClockLayout, clock)
	return t.Hour()*60 + t.Minute()
}
