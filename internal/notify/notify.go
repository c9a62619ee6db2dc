// Package notify reports booking outcomes to the people waiting on them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/teetime-scheduler/internal/bookings"
	"github.com/example/teetime-scheduler/internal/clock"
)

// Notifier delivers one outcome. Delivery is best effort; callers log and drop errors.
type Notifier interface {
	Notify(ctx context.Context, req bookings.BookingRequest, success bool, errMsg string) error
}

// Message renders the subject and body shared by every channel.
func Message(req bookings.BookingRequest, success bool, errMsg string) (subject, body string) {
	date := req.RequestedDate.Format(clock.DateLayout)
	at := req.RequestedTime
	if t, err := time.Parse("15:04", req.RequestedTime); err == nil {
		at = t.Format("03:04 PM")
	}

	if success {
		subject = "Tee Time Booking Successful - " + date
		body = fmt.Sprintf("Successfully booked tee time for %s on %s at %s", req.Name, date, at)
		if req.BookedTime != nil && *req.BookedTime != "" && *req.BookedTime != req.RequestedTime {
			body += fmt.Sprintf(" (booked slot %s)", *req.BookedTime)
		}
		return subject, body
	}

	subject = "Tee Time Booking Failed - " + date
	body = fmt.Sprintf("Failed to book tee time for %s on %s at %s", req.Name, date, at)
	if errMsg != "" {
		body += "\nError: " + errMsg
	}
	return subject, body
}

// Log writes outcomes to the process log. It is always enabled.
type Log struct {
	Log logrus.FieldLogger
}

func (l Log) Notify(ctx context.Context, req bookings.BookingRequest, success bool, errMsg string) error {
	_, body := Message(req, success, errMsg)
	entry := l.Log.WithFields(logrus.Fields{
		"component":  "notify",
		"request_id": req.ID,
		"status":     req.Status,
	})
	if success {
		entry.Info(body)
	} else {
		entry.Error(body)
	}
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, req bookings.BookingRequest, success bool, errMsg string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, req, success, errMsg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
