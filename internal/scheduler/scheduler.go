package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/example/teetime-scheduler/internal/bookings"
	"github.com/example/teetime-scheduler/internal/clock"
)

// Dispatcher hands a request id to an Execution Unit without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, id int64) error
}

// Scheduler sweeps the store for due and retry-due requests on a fixed interval.
type Scheduler struct {
	Store    bookings.Store
	Dispatch Dispatcher
	Clock    clock.Clock
	Interval time.Duration
	Log      logrus.FieldLogger

	// StaleAfter is how long a request may stay running before the sweep assumes its
	// execution died and requeues it. Zero disables requeueing.
	StaleAfter time.Duration
}

type Summary struct {
	Requeued   int
	Due        int
	Retries    int
	Dispatched int
	Err        error
}

func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	// kick immediately
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick requeues stale running requests, then dispatches every pending request whose
// due time has passed and every retry_pending request whose backoff has elapsed. A
// storage error ends the tick; the next one tries again.
func (s *Scheduler) Tick(ctx context.Context) Summary {
	log := s.Log.WithField("component", "scheduler")
	now := s.Clock.Now()

	var sum Summary
	if s.StaleAfter > 0 {
		ids, err := s.Store.RequeueStale(ctx, now.Add(-s.StaleAfter), now)
		if err != nil {
			log.WithError(err).Error("stale requests requeue failed")
			return Summary{Err: err}
		}
		if len(ids) > 0 {
			log.WithField("request_ids", ids).Warn("requeued requests abandoned while running")
		}
		sum.Requeued = len(ids)
	}

	due, err := s.Store.ListDue(ctx, now)
	if err != nil {
		log.WithError(err).Error("due requests query failed")
		sum.Err = err
		return sum
	}
	retries, err := s.Store.ListRetryDue(ctx, now)
	if err != nil {
		log.WithError(err).Error("retry-due requests query failed")
		sum.Due, sum.Err = len(due), err
		return sum
	}

	sum.Due, sum.Retries = len(due), len(retries)
	for _, r := range append(due, retries...) {
		if err := s.Dispatch.Dispatch(ctx, r.ID); err != nil {
			log.WithError(err).WithField("request_id", r.ID).Warn("dispatch failed")
			continue
		}
		sum.Dispatched++
	}
	if sum.Due+sum.Retries > 0 {
		log.WithFields(logrus.Fields{
			"due":        sum.Due,
			"retries":    sum.Retries,
			"dispatched": sum.Dispatched,
		}).Info("sweep dispatched requests")
	}
	return sum
}
