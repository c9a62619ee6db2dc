// Package bookings holds booking requests, their lifecycle and the stores that persist them.
package bookings

import (
	"context"
	"time"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusRetryPending Status = "retry_pending"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusError        Status = "error"
	StatusCancelled    Status = "cancelled"
)

// Terminal statuses never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Claimable reports whether an execution may take the request (pending or awaiting retry).
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusRetryPending
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusRetryPending, StatusCompleted, StatusFailed, StatusError, StatusCancelled:
		return true
	}
	return false
}

// BookingRequest is one requester's intent to reserve a tee time.
type BookingRequest struct {
	ID            int64      `json:"id"`
	Name          string     `json:"user_name"`
	RequestedDate time.Time  `json:"requested_date"`
	RequestedTime string     `json:"requested_time"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	DueAt         time.Time  `json:"due_at"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	BookedTime    *string    `json:"booked_time,omitempty"`
	LastError     *string    `json:"error_message,omitempty"`
}

// AttemptRecord is an append-only history entry written once per execution.
type AttemptRecord struct {
	ID        int64          `json:"id"`
	RequestID int64          `json:"request_id"`
	Status    Status         `json:"status"`
	Success   bool           `json:"success"`
	Details   AttemptDetails `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

type AttemptDetails struct {
	Attempt     int        `json:"attempt_number"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	BookedTime  string     `json:"booked_time,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

type NewRequest struct {
	Name  string
	Date  time.Time
	Time  string
	DueAt time.Time
}

// StatusUpdate is the outcome of one execution, applied atomically with its AttemptRecord.
type StatusUpdate struct {
	Status      Status
	Success     bool
	Error       string
	BookedTime  string
	NextRetryAt *time.Time
}

// Store is the durable home of booking requests. Implementations must make Claim,
// UpdateStatus and Cancel atomic per request.
type Store interface {
	Create(ctx context.Context, req NewRequest) (BookingRequest, error)
	Get(ctx context.Context, id int64) (BookingRequest, error)
	ListAll(ctx context.Context) ([]BookingRequest, error)
	// ListDue returns pending requests with DueAt <= now.
	ListDue(ctx context.Context, now time.Time) ([]BookingRequest, error)
	// ListRetryDue returns retry_pending requests with NextRetryAt <= now.
	ListRetryDue(ctx context.Context, now time.Time) ([]BookingRequest, error)
	// Claim moves a pending request with DueAt <= dueBy, or a retry_pending request with
	// NextRetryAt <= dueBy, to running and returns the claimed row. It reports false when
	// the request is not claimable, which callers treat as "already handled".
	Claim(ctx context.Context, id int64, dueBy time.Time) (BookingRequest, bool, error)
	// RequeueStale moves requests that have been running since before claimedBefore back to
	// retry_pending, due at retryAt, and returns their ids. Attempts are not counted.
	RequeueStale(ctx context.Context, claimedBefore, retryAt time.Time) ([]int64, error)
	// UpdateStatus applies the result of an execution of a running request: it sets the
	// status, increments attempts, stamps last_attempt and appends one AttemptRecord.
	UpdateStatus(ctx context.Context, id int64, u StatusUpdate) (BookingRequest, error)
	// Cancel succeeds only from pending.
	Cancel(ctx context.Context, id int64) error
	History(ctx context.Context, id int64) ([]AttemptRecord, error)
}

// MsgAbandoned is the error recorded on a request requeued by RequeueStale.
const MsgAbandoned = "execution abandoned while running; requeued"

func detailsFor(attempt int, u StatusUpdate) AttemptDetails {
	return AttemptDetails{
		Attempt:     attempt,
		Status:      u.Status,
		Error:       u.Error,
		BookedTime:  u.BookedTime,
		NextRetryAt: u.NextRetryAt,
	}
}

func validUpdate(u StatusUpdate) error {
	switch u.Status {
	case StatusRetryPending:
		if u.NextRetryAt == nil {
			return &ValidationError{Field: "next_retry_at", Message: "required for retry_pending"}
		}
		return nil
	case StatusCompleted, StatusFailed, StatusError:
		return nil
	}
	return invalidTransition(StatusRunning, u.Status)
}
