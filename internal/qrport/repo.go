package qrport

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// PostgresRepository stores port requests in qr_port_requests. A partial
// unique index keeps one PENDING or APPROVED request per pair.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const requestColumns = `id, session_id, student_id, status, decided_by, requested_at, decided_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (Request, error) {
	var (
		req       Request
		decidedBy sql.NullString
		decidedAt sql.NullTime
	)
	if err := row.Scan(&req.ID, &req.SessionID, &req.StudentID, &req.Status, &decidedBy, &req.RequestedAt, &decidedAt); err != nil {
		return Request{}, err
	}
	if decidedBy.Valid {
		req.DecidedBy = &decidedBy.String
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	return req, nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, q string, args ...any) (*Request, error) {
	req, err := scanRequest(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Request, error) {
	return r.queryOne(ctx, `SELECT `+requestColumns+` FROM qr_port_requests WHERE id = $1`, id)
}

func (r *PostgresRepository) Create(ctx context.Context, req *Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO qr_port_requests (id, session_id, student_id, status, requested_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING requested_at
	`, req.ID, req.SessionID, req.StudentID, req.Status, req.RequestedAt).Scan(&req.RequestedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrActiveRequestExists
	}
	return err
}

func (r *PostgresRepository) FindActive(ctx context.Context, sessionID, studentID string) (*Request, error) {
	return r.queryOne(ctx, `SELECT `+requestColumns+` FROM qr_port_requests
		WHERE session_id = $1 AND student_id = $2 AND status IN ('PENDING', 'APPROVED')`, sessionID, studentID)
}

func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string) ([]Request, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM qr_port_requests
		WHERE session_id = $1 ORDER BY requested_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

func (r *PostgresRepository) Decide(ctx context.Context, id string, status Status, staffID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE qr_port_requests SET status = $2, decided_by = $3, decided_at = $4
		WHERE id = $1 AND status = 'PENDING'
	`, id, status, staffID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
