package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("executor pool closed")

// Pool runs Execution Units in-process, at most size at a time. Dispatch returns
// immediately; the unit runs on the pool's context, not the caller's.
type Pool struct {
	ctx    context.Context
	runner Runner
	sem    *semaphore.Weighted
	log    logrus.FieldLogger

	mu       sync.Mutex
	inflight map[int64]struct{}
	wg       sync.WaitGroup
}

func NewPool(ctx context.Context, runner Runner, size int, log logrus.FieldLogger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		ctx:      ctx,
		runner:   runner,
		sem:      semaphore.NewWeighted(int64(size)),
		log:      log.WithField("component", "pool"),
		inflight: make(map[int64]struct{}),
	}
}

// Dispatch schedules request id. A request already queued or running in this pool is skipped.
func (p *Pool) Dispatch(_ context.Context, id int64) error {
	if p.ctx.Err() != nil {
		return ErrPoolClosed
	}

	p.mu.Lock()
	if _, busy := p.inflight[id]; busy {
		p.mu.Unlock()
		return nil
	}
	p.inflight[id] = struct{}{}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.inflight, id)
			p.mu.Unlock()
		}()

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)

		outcome, err := p.runner.Run(p.ctx, id)
		entry := p.log.WithFields(logrus.Fields{"request_id": id, "outcome": outcome})
		if err != nil {
			entry.WithError(err).Error("execution failed")
			return
		}
		entry.Debug("execution finished")
	}()
	return nil
}

// InFlight reports how many requests are queued or running.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// Wait blocks until every dispatched unit has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
