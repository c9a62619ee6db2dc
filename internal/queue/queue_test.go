package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/teetime-scheduler/internal/clock"
	"github.com/example/teetime-scheduler/internal/logging"
)

type fakeConn struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subject, f.data = subject, data
	return f.err
}

type fakePool struct{ ids []int64 }

func (f *fakePool) Dispatch(_ context.Context, id int64) error {
	f.ids = append(f.ids, id)
	return nil
}

func TestPublisher_RoundTripsThroughWorker(t *testing.T) {
	conn := &fakeConn{}
	p := &Publisher{Conn: conn, Clock: clock.NewFake(time.Date(2026, time.October, 21, 12, 0, 0, 0, time.UTC))}
	require.NoError(t, p.Dispatch(context.Background(), 7))
	assert.Equal(t, SubjectExecute, conn.subject)

	var job Job
	require.NoError(t, json.Unmarshal(conn.data, &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, int64(7), job.RequestID)

	pool := &fakePool{}
	w := &Worker{Pool: pool, Log: logging.Discard()}
	require.NoError(t, w.Handle(context.Background(), conn.data))
	assert.Equal(t, []int64{7}, pool.ids)
}

func TestPublisher_PublishError(t *testing.T) {
	p := &Publisher{Conn: &fakeConn{err: errors.New("nats: connection closed")}}
	err := p.Dispatch(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request 7")
}

func TestWorker_RejectsBadJobs(t *testing.T) {
	pool := &fakePool{}
	w := &Worker{Pool: pool, Log: logging.Discard()}
	assert.Error(t, w.Handle(context.Background(), []byte("not json")))
	assert.Error(t, w.Handle(context.Background(), []byte(`{"job_id":"x"}`)))
	assert.Empty(t, pool.ids)
}
