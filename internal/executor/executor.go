// Package executor runs booking attempts: one claimed request, one automation call, one
// recorded outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/example/teetime-scheduler/internal/automation"
	"github.com/example/teetime-scheduler/internal/bookings"
	"github.com/example/teetime-scheduler/internal/clock"
	"github.com/example/teetime-scheduler/internal/notify"
)

type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeRetry          Outcome = "retry"
	OutcomeFailed         Outcome = "failed"
	OutcomeError          Outcome = "error"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeAlreadyClaimed Outcome = "already_claimed" // claimed elsewhere or not yet due
	OutcomeStorageError   Outcome = "storage_error"
)

const (
	msgExhausted  = "max booking attempts exceeded"
	msgNoSlot     = "no tee time secured"
	updateTries   = 3
	updateBackoff = time.Second
)

type Policy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Unit performs one booking attempt per Run.
type Unit struct {
	Store    bookings.Store
	Booker   automation.Booker
	Notifier notify.Notifier
	Clock    clock.Clock
	Mode     automation.Mode
	Policy   Policy
	Log      logrus.FieldLogger

	// ClaimLead lets a run claim a request this long before it is due and wait out the
	// rest. It matches the precision window's dispatch threshold.
	ClaimLead time.Duration

	NotifyTimeout time.Duration
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Runner is what dispatchers hand request ids to.
type Runner interface {
	Run(ctx context.Context, id int64) (Outcome, error)
}

var _ Runner = (*Unit)(nil)

// Run claims request id, waits until it is due, attempts the booking and records the outcome.
// Everything after the claim works from the claimed row.
// Automation failures never surface as errors; only storage failures do.
func (u *Unit) Run(ctx context.Context, id int64) (Outcome, error) {
	log := u.Log.WithFields(logrus.Fields{
		"component":  "executor",
		"request_id": id,
		"run_id":     uuid.NewString(),
	})

	req, ok, err := u.Store.Claim(ctx, id, u.Clock.Now().Add(u.ClaimLead))
	switch {
	case errors.Is(err, bookings.ErrNotFound):
		log.Warn("request not found; dropping")
		return OutcomeNotFound, nil
	case err != nil:
		log.WithError(err).Error("claim request")
		return OutcomeStorageError, err
	case !ok:
		log.Debug("request already claimed or not yet due")
		return OutcomeAlreadyClaimed, nil
	}

	log = log.WithField("attempt", req.Attempts+1)
	update, success, errMsg := u.attempt(ctx, log, req)

	// A claimed request must not be left running, so record even if ctx is done.
	rctx := context.WithoutCancel(ctx)
	updated, err := u.record(rctx, log, id, update)
	if err != nil {
		log.WithError(err).Error("record outcome; request left running until requeued")
		return OutcomeStorageError, err
	}

	outcome := outcomeFor(update.Status)
	log.WithFields(logrus.Fields{"status": updated.Status, "attempts": updated.Attempts}).Info("attempt recorded")

	if updated.Status.Terminal() && u.Notifier != nil {
		u.notify(rctx, log, updated, success, errMsg)
	}
	return outcome, nil
}

func (u *Unit) attempt(ctx context.Context, log logrus.FieldLogger, req bookings.BookingRequest) (bookings.StatusUpdate, bool, string) {
	due := req.DueAt
	if req.NextRetryAt != nil {
		due = *req.NextRetryAt
	}
	if wait := due.Sub(u.Clock.Now()); wait > 0 {
		log.WithField("wait", wait.String()).Debug("waiting for due time")
		if err := u.sleep(ctx, wait); err != nil {
			return u.onError(req, fmt.Errorf("interrupted before attempt: %w", err))
		}
	}

	res, err := u.Booker.Attempt(ctx, req.RequestedDate, req.RequestedTime, u.Mode)
	if err != nil {
		log.WithError(err).Warn("automation error")
		return u.onError(req, err)
	}
	if res.Success {
		booked := res.BookedTime
		if booked == "" {
			booked = req.RequestedTime
		}
		return bookings.StatusUpdate{Status: bookings.StatusCompleted, Success: true, BookedTime: booked}, true, ""
	}

	reason := res.Message
	if reason == "" {
		reason = msgNoSlot
	}
	if u.exhausted(req) {
		return bookings.StatusUpdate{Status: bookings.StatusFailed, Error: msgExhausted + ": " + reason}, false, msgExhausted
	}
	return u.retry(reason), false, reason
}

func (u *Unit) onError(req bookings.BookingRequest, err error) (bookings.StatusUpdate, bool, string) {
	msg := err.Error()
	if Permanent(err) || u.exhausted(req) {
		return bookings.StatusUpdate{Status: bookings.StatusError, Error: msg}, false, msg
	}
	return u.retry(msg), false, msg
}

func (u *Unit) retry(reason string) bookings.StatusUpdate {
	next := u.Clock.Now().Add(u.Policy.Backoff).UTC()
	return bookings.StatusUpdate{Status: bookings.StatusRetryPending, Error: reason, NextRetryAt: &next}
}

// exhausted reports whether the attempt in progress is the last one allowed.
func (u *Unit) exhausted(req bookings.BookingRequest) bool {
	return req.Attempts+1 >= u.Policy.MaxRetries
}

// Permanent reports whether an automation error cannot be fixed by retrying.
func Permanent(err error) bool {
	if errors.Is(err, automation.ErrBadResponse) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "invalid")
}

func (u *Unit) record(ctx context.Context, log logrus.FieldLogger, id int64, update bookings.StatusUpdate) (bookings.BookingRequest, error) {
	var err error
	for try := 1; try <= updateTries; try++ {
		var updated bookings.BookingRequest
		updated, err = u.Store.UpdateStatus(ctx, id, update)
		if err == nil {
			return updated, nil
		}
		var serr *bookings.StorageError
		if !errors.As(err, &serr) {
			return bookings.BookingRequest{}, err
		}
		log.WithError(err).WithField("try", try).Warn("update status failed")
		if try < updateTries {
			if werr := u.sleep(ctx, updateBackoff); werr != nil {
				break
			}
		}
	}
	return bookings.BookingRequest{}, err
}

func (u *Unit) notify(ctx context.Context, log logrus.FieldLogger, req bookings.BookingRequest, success bool, errMsg string) {
	timeout := u.NotifyTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := u.Notifier.Notify(nctx, req, success, errMsg); err != nil {
		log.WithError(err).Warn("notification failed")
	}
}

func (u *Unit) sleep(ctx context.Context, d time.Duration) error {
	if u.Sleep != nil {
		return u.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func outcomeFor(s bookings.Status) Outcome {
	switch s {
	case bookings.StatusCompleted:
		return OutcomeCompleted
	case bookings.StatusRetryPending:
		return OutcomeRetry
	case bookings.StatusFailed:
		return OutcomeFailed
	}
	return OutcomeError
}
