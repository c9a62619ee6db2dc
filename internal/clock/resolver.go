package clock

import (
	"fmt"
	"time"
)

// Resolver turns a requested play date into the instant the venue opens bookings for it.
type Resolver struct {
	Location    *time.Location
	AdvanceDays int
	OpeningTime TimeOfDay
}

type InvalidDateError struct {
	Date     time.Time
	Earliest time.Time
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("requested date %s must be more than the advance window ahead (earliest %s)",
		e.Date.Format(DateLayout), e.Earliest.Format(DateLayout))
}

// DueTime is OpeningTime local to Location on (date - AdvanceDays), in UTC.
// The civil time is fixed, so the UTC offset follows daylight saving on the execution date.
func (r Resolver) DueTime(date time.Time) time.Time {
	y, m, d := date.Date()
	open := time.Date(y, m, d-r.AdvanceDays, r.OpeningTime.Hour, r.OpeningTime.Minute, r.OpeningTime.Second, 0, r.Location)
	return open.UTC()
}

// EarliestDate is the first date that can still be requested at now.
func (r Resolver) EarliestDate(now time.Time) time.Time {
	return DateIn(now, r.Location).AddDate(0, 0, r.AdvanceDays+1)
}

// Resolve validates that date is strictly more than the advance window ahead of
// today (venue time) and returns its due time.
func (r Resolver) Resolve(now, date time.Time) (time.Time, error) {
	date = Date(date.Date())
	earliest := r.EarliestDate(now)
	if date.Before(earliest) {
		return time.Time{}, &InvalidDateError{Date: date, Earliest: earliest}
	}
	return r.DueTime(date), nil
}
