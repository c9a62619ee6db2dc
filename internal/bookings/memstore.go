package bookings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/teetime-scheduler/internal/clock"
)

// MemoryStore keeps requests in process memory. It backs STORE=memory dev runs and tests and
// follows the same transition rules as PGStore.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	nextID  int64
	nextRec int64
	last    time.Time
	reqs    map[int64]*BookingRequest
	history map[int64][]AttemptRecord

	// Fail, when set, is returned by every operation to simulate an unreachable store.
	Fail error
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.System{}
	}
	return &MemoryStore{
		clock:   c,
		reqs:    make(map[int64]*BookingRequest),
		history: make(map[int64][]AttemptRecord),
	}
}

func (m *MemoryStore) failure(op string) error {
	if m.Fail != nil {
		return &StorageError{Op: op, Err: m.Fail}
	}
	return nil
}

// stamp returns a strictly increasing timestamp, like clock_timestamp() per statement.
func (m *MemoryStore) stamp() time.Time {
	t := m.clock.Now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

func clone(r *BookingRequest) BookingRequest {
	c := *r
	if r.LastAttemptAt != nil {
		t := *r.LastAttemptAt
		c.LastAttemptAt = &t
	}
	if r.NextRetryAt != nil {
		t := *r.NextRetryAt
		c.NextRetryAt = &t
	}
	if r.ClaimedAt != nil {
		t := *r.ClaimedAt
		c.ClaimedAt = &t
	}
	if r.BookedTime != nil {
		s := *r.BookedTime
		c.BookedTime = &s
	}
	if r.LastError != nil {
		s := *r.LastError
		c.LastError = &s
	}
	return c
}

func (m *MemoryStore) Create(ctx context.Context, req NewRequest) (BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("create"); err != nil {
		return BookingRequest{}, err
	}

	m.nextID++
	r := &BookingRequest{
		ID:            m.nextID,
		Name:          req.Name,
		RequestedDate: clock.Date(req.Date.Date()),
		RequestedTime: req.Time,
		Status:        StatusPending,
		CreatedAt:     m.stamp(),
		DueAt:         req.DueAt.UTC(),
	}
	m.reqs[r.ID] = r
	return clone(r), nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("get"); err != nil {
		return BookingRequest{}, err
	}
	r, ok := m.reqs[id]
	if !ok {
		return BookingRequest{}, ErrNotFound
	}
	return clone(r), nil
}

func (m *MemoryStore) ListAll(ctx context.Context) ([]BookingRequest, error) {
	return m.filter("list", func(*BookingRequest) bool { return true }, func(r *BookingRequest) time.Time { return time.Time{} })
}

func (m *MemoryStore) ListDue(ctx context.Context, now time.Time) ([]BookingRequest, error) {
	return m.filter("list due",
		func(r *BookingRequest) bool { return r.Status == StatusPending && !r.DueAt.After(now) },
		func(r *BookingRequest) time.Time { return r.DueAt })
}

func (m *MemoryStore) ListRetryDue(ctx context.Context, now time.Time) ([]BookingRequest, error) {
	return m.filter("list retry due",
		func(r *BookingRequest) bool {
			return r.Status == StatusRetryPending && r.NextRetryAt != nil && !r.NextRetryAt.After(now)
		},
		func(r *BookingRequest) time.Time { return *r.NextRetryAt })
}

func (m *MemoryStore) filter(op string, keep func(*BookingRequest) bool, key func(*BookingRequest) time.Time) ([]BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(op); err != nil {
		return nil, err
	}
	var out []BookingRequest
	for _, r := range m.reqs {
		if keep(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := key(&out[i]), key(&out[j])
		if !ki.Equal(kj) {
			return ki.Before(kj)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) Claim(ctx context.Context, id int64, dueBy time.Time) (BookingRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("claim"); err != nil {
		return BookingRequest{}, false, err
	}
	r, ok := m.reqs[id]
	if !ok {
		return BookingRequest{}, false, ErrNotFound
	}
	switch {
	case r.Status == StatusPending && !r.DueAt.After(dueBy):
	case r.Status == StatusRetryPending && r.NextRetryAt != nil && !r.NextRetryAt.After(dueBy):
	default:
		return BookingRequest{}, false, nil
	}
	now := m.stamp()
	r.Status = StatusRunning
	r.ClaimedAt = &now
	return clone(r), true, nil
}

func (m *MemoryStore) RequeueStale(ctx context.Context, claimedBefore, retryAt time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("requeue stale"); err != nil {
		return nil, err
	}
	var ids []int64
	for id, r := range m.reqs {
		if r.Status != StatusRunning || r.ClaimedAt == nil || !r.ClaimedAt.Before(claimedBefore) {
			continue
		}
		next := retryAt.UTC()
		msg := MsgAbandoned
		r.Status = StatusRetryPending
		r.NextRetryAt = &next
		r.LastError = &msg
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id int64, u StatusUpdate) (BookingRequest, error) {
	if err := validUpdate(u); err != nil {
		return BookingRequest{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("update status"); err != nil {
		return BookingRequest{}, err
	}
	r, ok := m.reqs[id]
	if !ok {
		return BookingRequest{}, ErrNotFound
	}
	if r.Status != StatusRunning {
		return BookingRequest{}, invalidTransition(r.Status, u.Status)
	}

	now := m.stamp()
	r.Status = u.Status
	r.Attempts++
	r.LastAttemptAt = &now
	r.NextRetryAt = nil
	if u.NextRetryAt != nil {
		t := u.NextRetryAt.UTC()
		r.NextRetryAt = &t
	}
	if u.Error != "" {
		e := u.Error
		r.LastError = &e
	}
	if u.BookedTime != "" {
		b := u.BookedTime
		r.BookedTime = &b
	}

	m.nextRec++
	m.history[id] = append(m.history[id], AttemptRecord{
		ID:        m.nextRec,
		RequestID: id,
		Status:    u.Status,
		Success:   u.Success,
		Details:   detailsFor(r.Attempts, u),
		CreatedAt: now,
	})
	return clone(r), nil
}

func (m *MemoryStore) Cancel(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("cancel"); err != nil {
		return err
	}
	r, ok := m.reqs[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != StatusPending {
		return invalidTransition(r.Status, StatusCancelled)
	}
	r.Status = StatusCancelled
	return nil
}

func (m *MemoryStore) History(ctx context.Context, id int64) ([]AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("history"); err != nil {
		return nil, err
	}
	if _, ok := m.reqs[id]; !ok {
		return nil, ErrNotFound
	}
	out := make([]AttemptRecord, len(m.history[id]))
	copy(out, m.history[id])
	return out, nil
}
