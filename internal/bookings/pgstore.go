package bookings

import (
	"context"
	"time"

	"github.com/example/teetime-scheduler/internal/db"
	"github.com/jackc/pgx/v5"
)

const requestCols = `id,user_name,requested_date,requested_time,status,created_at,due_at,attempts,last_attempt_at,next_retry_at,claimed_at,booked_time,error_message`

// queryTimeout bounds every statement; the scheduling loops must never hang on storage.
const queryTimeout = 3 * time.Second

type PGStore struct{ db *db.DB }

func NewPGStore(d *db.DB) *PGStore { return &PGStore{db: d} }

var _ Store = (*PGStore)(nil)

func scanRequest(row db.Row) (BookingRequest, error) {
	var r BookingRequest
	var status string
	err := row.Scan(&r.ID, &r.Name, &r.RequestedDate, &r.RequestedTime, &status, &r.CreatedAt, &r.DueAt,
		&r.Attempts, &r.LastAttemptAt, &r.NextRetryAt, &r.ClaimedAt, &r.BookedTime, &r.LastError)
	if err != nil {
		return BookingRequest{}, err
	}
	r.Status = Status(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.DueAt = r.DueAt.UTC()
	return r, nil
}

func (s *PGStore) Create(ctx context.Context, req NewRequest) (BookingRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	r, err := scanRequest(s.db.QueryRow(ctx, `
INSERT INTO booking_requests(user_name,requested_date,requested_time,status,due_at)
VALUES ($1,$2,$3,'pending',$4)
RETURNING `+requestCols,
		req.Name, req.Date, req.Time, req.DueAt.UTC()))
	return r, storageErr("create", err)
}

func (s *PGStore) Get(ctx context.Context, id int64) (BookingRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	r, err := scanRequest(s.db.QueryRow(ctx, `SELECT `+requestCols+` FROM booking_requests WHERE id=$1`, id))
	return r, storageErr("get", err)
}

func (s *PGStore) ListAll(ctx context.Context) ([]BookingRequest, error) {
	return s.list(ctx, "list", `SELECT `+requestCols+` FROM booking_requests ORDER BY id ASC`)
}

func (s *PGStore) ListDue(ctx context.Context, now time.Time) ([]BookingRequest, error) {
	return s.list(ctx, "list due", `
SELECT `+requestCols+`
FROM booking_requests
WHERE status='pending' AND due_at <= $1
ORDER BY due_at ASC, id ASC`, now.UTC())
}

func (s *PGStore) ListRetryDue(ctx context.Context, now time.Time) ([]BookingRequest, error) {
	return s.list(ctx, "list retry due", `
SELECT `+requestCols+`
FROM booking_requests
WHERE status='retry_pending' AND next_retry_at <= $1
ORDER BY next_retry_at ASC, id ASC`, now.UTC())
}

func (s *PGStore) list(ctx context.Context, op, sql string, args ...any) ([]BookingRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []BookingRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, r)
	}
	return out, storageErr(op, rows.Err())
}

func (s *PGStore) Claim(ctx context.Context, id int64, dueBy time.Time) (BookingRequest, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	r, err := scanRequest(s.db.QueryRow(ctx, `
UPDATE booking_requests SET status='running', claimed_at=clock_timestamp(), updated_at=now()
WHERE id=$1 AND (
	(status='pending' AND due_at <= $2) OR
	(status='retry_pending' AND next_retry_at <= $2))
RETURNING `+requestCols, id, dueBy.UTC()))
	if err == nil {
		return r, true, nil
	}
	if !db.IsNotFound(err) {
		return BookingRequest{}, false, storageErr("claim", err)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return BookingRequest{}, false, err
	}
	return BookingRequest{}, false, nil
}

func (s *PGStore) RequeueStale(ctx context.Context, claimedBefore, retryAt time.Time) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.Query(ctx, `
UPDATE booking_requests SET status='retry_pending', next_retry_at=$2, error_message=$3, updated_at=now()
WHERE status='running' AND claimed_at < $1
RETURNING id`, claimedBefore.UTC(), retryAt.UTC(), MsgAbandoned)
	if err != nil {
		return nil, storageErr("requeue stale", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("requeue stale", err)
		}
		ids = append(ids, id)
	}
	return ids, storageErr("requeue stale", rows.Err())
}

func (s *PGStore) UpdateStatus(ctx context.Context, id int64, u StatusUpdate) (BookingRequest, error) {
	if err := validUpdate(u); err != nil {
		return BookingRequest{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var out BookingRequest
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		var status string
		if err := tx.QueryRow(ctx, `SELECT status FROM booking_requests WHERE id=$1 FOR UPDATE`, id).Scan(&status); err != nil {
			return err
		}
		if Status(status) != StatusRunning {
			return invalidTransition(Status(status), u.Status)
		}

		r, err := scanRequest(tx.QueryRow(ctx, `
UPDATE booking_requests SET
	status=$2,
	attempts=attempts+1,
	last_attempt_at=clock_timestamp(),
	next_retry_at=$3,
	error_message=COALESCE(NULLIF($4,''), error_message),
	booked_time=COALESCE(NULLIF($5,''), booked_time),
	updated_at=now()
WHERE id=$1
RETURNING `+requestCols,
			id, string(u.Status), u.NextRetryAt, u.Error, u.BookedTime))
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO booking_history(request_id,status,success,details) VALUES ($1,$2,$3,$4)`,
			id, string(u.Status), u.Success, detailsFor(r.Attempts, u)); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return BookingRequest{}, storageErr("update status", err)
	}
	return out, nil
}

func (s *PGStore) Cancel(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	n, err := s.db.ExecAffected(ctx, `
UPDATE booking_requests SET status='cancelled', updated_at=now()
WHERE id=$1 AND status='pending'`, id)
	if err != nil {
		return storageErr("cancel", err)
	}
	if n == 1 {
		return nil
	}
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return invalidTransition(r.Status, StatusCancelled)
}

func (s *PGStore) History(ctx context.Context, id int64) ([]AttemptRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
SELECT id,request_id,status,success,details,created_at
FROM booking_history
WHERE request_id=$1
ORDER BY id ASC`, id)
	if err != nil {
		return nil, storageErr("history", err)
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.RequestID, &status, &rec.Success, &rec.Details, &rec.CreatedAt); err != nil {
			return nil, storageErr("history", err)
		}
		rec.Status = Status(status)
		out = append(out, rec)
	}
	return out, storageErr("history", rows.Err())
}
