package precision

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/example/teetime-scheduler/internal/bookings"
	"github.com/example/teetime-scheduler/internal/clock"
	"github.com/example/teetime-scheduler/internal/scheduler"
)

// Controller arms the precision window once a day and runs the fast loop while the flag lives.
type Controller struct {
	Flag      Flag
	Store     bookings.Store
	Dispatch  scheduler.Dispatcher
	Clock     clock.Clock
	TTL       time.Duration
	Interval  time.Duration
	Threshold time.Duration
	Log       logrus.FieldLogger

	// Sleep waits between fast-loop ticks. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error

	running atomic.Bool
	mu      sync.Mutex
	done    chan struct{}
}

func (c *Controller) log() logrus.FieldLogger {
	return c.Log.WithField("component", "precision")
}

// Arm sets the flag and starts the fast loop unless one is already running, in which
// case the window is only extended.
func (c *Controller) Arm(ctx context.Context) error {
	if err := c.Flag.Set(ctx, c.TTL); err != nil {
		return fmt.Errorf("arm precision window: %w", err)
	}
	if !c.running.CompareAndSwap(false, true) {
		c.log().Debug("precision window extended")
		return nil
	}
	done := make(chan struct{})
	c.mu.Lock()
	c.done = done
	c.mu.Unlock()
	c.log().WithField("ttl", c.TTL.String()).Info("precision window armed")
	go func() {
		defer close(done)
		for {
			disarmed := c.loop(ctx)
			c.running.Store(false)
			if !disarmed || !c.rearm(ctx) {
				return
			}
		}
	}()
	return nil
}

// rearm restarts the loop when an Arm refreshed the flag after the last tick saw it
// expire but before the loop let go of running.
func (c *Controller) rearm(ctx context.Context) bool {
	active, err := c.Flag.Active(ctx)
	if err != nil || !active {
		return false
	}
	if !c.running.CompareAndSwap(false, true) {
		return false
	}
	c.log().Info("precision window re-armed")
	return true
}

// Running reports whether the fast loop is active.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Done is closed when the loop started by the latest Arm stops.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// loop ticks until the flag is gone, which it reports as true, or until ctx ends.
func (c *Controller) loop(ctx context.Context) bool {
	for {
		active, _ := c.Tick(ctx)
		if !active {
			c.log().Info("precision window disarmed")
			return true
		}
		if err := c.sleep(ctx, c.Interval); err != nil {
			return false
		}
	}
}

// Tick runs one fast-loop pass. It reports false once the flag is gone; a flag that
// cannot be read counts as gone.
func (c *Controller) Tick(ctx context.Context) (active bool, dispatched int) {
	log := c.log()
	active, err := c.Flag.Active(ctx)
	if err != nil {
		log.WithError(err).Warn("precision flag unreadable; stopping")
		return false, 0
	}
	if !active {
		return false, 0
	}

	now := c.Clock.Now()
	due, err := c.Store.ListDue(ctx, now.Add(c.Threshold))
	if err != nil {
		log.WithError(err).Error("due requests query failed")
		return true, 0
	}
	for _, r := range due {
		if err := c.Dispatch.Dispatch(ctx, r.ID); err != nil {
			log.WithError(err).WithField("request_id", r.ID).Warn("dispatch failed")
			continue
		}
		dispatched++
	}
	if dispatched > 0 {
		log.WithField("dispatched", dispatched).Info("precision tick dispatched requests")
	}
	return true, dispatched
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
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

// ArmSpec is the cron line that fires lead before opening every day.
func ArmSpec(opening clock.TimeOfDay, lead time.Duration) string {
	at := opening.Add(-lead)
	return fmt.Sprintf("%d %d %d * * *", at.Second, at.Minute, at.Hour)
}

// Schedule registers the daily arm trigger in loc and starts the cron runner. Stop the
// returned cron on shutdown.
func (c *Controller) Schedule(ctx context.Context, loc *time.Location, opening clock.TimeOfDay, lead time.Duration) (*cron.Cron, error) {
	cr := cron.New(cron.WithSeconds(), cron.WithLocation(loc))
	spec := ArmSpec(opening, lead)
	if _, err := cr.AddFunc(spec, func() {
		if err := c.Arm(ctx); err != nil {
			c.log().WithError(err).Error("arm trigger failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule precision arm %q: %w", spec, err)
	}
	cr.Start()
	c.log().WithFields(logrus.Fields{"spec": spec, "location": loc.String()}).Info("precision arm trigger scheduled")
	return cr, nil
}
