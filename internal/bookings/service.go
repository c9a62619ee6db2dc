package bookings

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/teetime-scheduler/internal/clock"
)

const maxNameLen = 100

// Rules bound what a requester may ask for.
type Rules struct {
	MaxAdvanceDays  int
	EarliestTeeTime clock.TimeOfDay
	LatestTeeTime   clock.TimeOfDay
}

// Submission is the raw input of the request-submission surface.
type Submission struct {
	Name string `json:"user_name"`
	Date string `json:"requested_date"`
	Time string `json:"requested_time"`
}

// Service validates submissions and creates requests with their resolved due time.
type Service struct {
	Store    Store
	Resolver clock.Resolver
	Clock    clock.Clock
	Rules    Rules
}

// Submit validates sub and stores a pending request. Invalid input never reaches the store.
func (s *Service) Submit(ctx context.Context, sub Submission) (BookingRequest, error) {
	req, err := s.Validate(sub)
	if err != nil {
		return BookingRequest{}, err
	}
	return s.Store.Create(ctx, req)
}

// Validate checks sub against the rules and the advance window and resolves its due time.
func (s *Service) Validate(sub Submission) (NewRequest, error) {
	name := strings.TrimSpace(sub.Name)
	if name == "" {
		return NewRequest{}, &ValidationError{Field: "user_name", Message: "required"}
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return NewRequest{}, &ValidationError{Field: "user_name", Message: fmt.Sprintf("at most %d characters", maxNameLen)}
	}

	date, err := clock.ParseDate(sub.Date)
	if err != nil {
		return NewRequest{}, &ValidationError{Field: "requested_date", Message: err.Error()}
	}

	tt, err := time.Parse("15:04", strings.TrimSpace(sub.Time))
	if err != nil {
		return NewRequest{}, &ValidationError{Field: "requested_time", Message: `must be HH:MM in 24-hour format (e.g. "08:00")`}
	}
	tod := clock.TimeOfDay{Hour: tt.Hour(), Minute: tt.Minute()}
	if tod.Before(s.Rules.EarliestTeeTime) || tod.After(s.Rules.LatestTeeTime) {
		return NewRequest{}, &ValidationError{
			Field:   "requested_time",
			Message: fmt.Sprintf("must be between %s and %s", s.Rules.EarliestTeeTime, s.Rules.LatestTeeTime),
		}
	}

	now := s.Clock.Now()
	due, err := s.Resolver.Resolve(now, date)
	if err != nil {
		return NewRequest{}, err
	}
	if s.Rules.MaxAdvanceDays > 0 {
		latest := clock.DateIn(now, s.Resolver.Location).AddDate(0, 0, s.Rules.MaxAdvanceDays)
		if date.After(latest) {
			return NewRequest{}, &ValidationError{
				Field:   "requested_date",
				Message: fmt.Sprintf("cannot be more than %d days in the future", s.Rules.MaxAdvanceDays),
			}
		}
	}

	return NewRequest{Name: name, Date: date, Time: tod.String(), DueAt: due}, nil
}
