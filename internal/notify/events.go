package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/teetime-scheduler/internal/bookings"
	"github.com/example/teetime-scheduler/internal/clock"
)

const (
	SubjectCompleted = "booking.completed"
	SubjectFailed    = "booking.failed"
	SubjectError     = "booking.error"
)

// Publisher is the part of *nats.Conn the event notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type Event struct {
	ID            string    `json:"event_id"`
	RequestID     int64     `json:"request_id"`
	Name          string    `json:"user_name"`
	RequestedDate string    `json:"requested_date"`
	RequestedTime string    `json:"requested_time"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	BookedTime    string    `json:"booked_time,omitempty"`
	Error         string    `json:"error,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Events publishes outcomes on NATS for other consumers.
type Events struct {
	Conn  Publisher
	Clock clock.Clock
}

func SubjectFor(req bookings.BookingRequest, success bool) string {
	switch {
	case success:
		return SubjectCompleted
	case req.Status == bookings.StatusFailed:
		return SubjectFailed
	}
	return SubjectError
}

func (e Events) Notify(ctx context.Context, req bookings.BookingRequest, success bool, errMsg string) error {
	now := time.Now()
	if e.Clock != nil {
		now = e.Clock.Now()
	}
	ev := Event{
		ID:            uuid.NewString(),
		RequestID:     req.ID,
		Name:          req.Name,
		RequestedDate: req.RequestedDate.Format(clock.DateLayout),
		RequestedTime: req.RequestedTime,
		Status:        string(req.Status),
		Attempts:      req.Attempts,
		Error:         errMsg,
		OccurredAt:    now.UTC(),
	}
	if req.BookedTime != nil {
		ev.BookedTime = *req.BookedTime
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	subject := SubjectFor(req, success)
	if err := e.Conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
