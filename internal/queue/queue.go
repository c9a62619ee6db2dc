// Package queue carries request ids from dispatchers to out-of-process Execution Units over NATS.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/example/teetime-scheduler/internal/clock"
	"github.com/example/teetime-scheduler/internal/scheduler"
)

const (
	SubjectExecute = "teesched.execute"
	WorkerGroup    = "teesched-workers"
)

// Job is one dispatch of one request.
type Job struct {
	ID           string    `json:"job_id"`
	RequestID    int64     `json:"request_id"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher dispatches request ids onto the execute subject.
type Publisher struct {
	Conn  Conn
	Clock clock.Clock
}

func (p *Publisher) Dispatch(_ context.Context, id int64) error {
	now := time.Now()
	if p.Clock != nil {
		now = p.Clock.Now()
	}
	payload, err := json.Marshal(Job{ID: uuid.NewString(), RequestID: id, DispatchedAt: now.UTC()})
	if err != nil {
		return err
	}
	if err := p.Conn.Publish(SubjectExecute, payload); err != nil {
		return fmt.Errorf("publish request %d: %w", id, err)
	}
	return nil
}

// Worker hands received jobs to the local pool.
type Worker struct {
	Pool scheduler.Dispatcher
	Log  logrus.FieldLogger
}

var _ scheduler.Dispatcher = (*Publisher)(nil)

// Handle decodes one message and dispatches it.
func (w *Worker) Handle(ctx context.Context, data []byte) error {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("decode job: %w", err)
	}
	if job.RequestID <= 0 {
		return fmt.Errorf("job %s has no request id", job.ID)
	}
	w.Log.WithFields(logrus.Fields{
		"component":  "queue",
		"job_id":     job.ID,
		"request_id": job.RequestID,
	}).Debug("job received")
	return w.Pool.Dispatch(ctx, job.RequestID)
}

// Subscribe joins the worker queue group. Each job goes to exactly one member.
func (w *Worker) Subscribe(ctx context.Context, nc *nats.Conn) (*nats.Subscription, error) {
	return nc.QueueSubscribe(SubjectExecute, WorkerGroup, func(msg *nats.Msg) {
		if err := w.Handle(ctx, msg.Data); err != nil {
			w.Log.WithError(err).WithField("component", "queue").Warn("job dropped")
		}
	})
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string, log logrus.FieldLogger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}
