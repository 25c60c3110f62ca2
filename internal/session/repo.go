package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists sessions. Get returns (nil, nil) when the session does not exist.
type Repository interface {
	Get(ctx context.Context, id string) (*Session, error)
	Create(ctx context.Context, s *Session) error
	// Advance moves the stored phase from `from` to `to`; reaching CLOSED also
	// closes the status. It reports false when the stored phase was not `from`.
	Advance(ctx context.Context, id string, from, to Phase, at time.Time) (bool, error)
}

// PostgresRepository stores sessions in the attendance_sessions table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, course_id, lecturer_id, org_id, started_at, initial_ends_at, reverify_ends_at,
	qr_rotation_ms, qr_secret, status, phase, created_at`

// Get returns a single session by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = $1`, id)
	var (
		s          Session
		rotationMs int64
	)
	err := row.Scan(&s.ID, &s.CourseID, &s.LecturerID, &s.OrgID, &s.StartedAt, &s.InitialEndsAt, &s.ReverifyEndsAt,
		&rotationMs, &s.QRSecret, &s.Status, &s.Phase, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.QRRotation = time.Duration(rotationMs) * time.Millisecond
	return &s, nil
}

// Create writes a new session.
func (r *PostgresRepository) Create(ctx context.Context, s *Session) error {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_sessions (id, course_id, lecturer_id, org_id, started_at, initial_ends_at,
			reverify_ends_at, qr_rotation_ms, qr_secret, status, phase)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at
	`, s.ID, s.CourseID, s.LecturerID, s.OrgID, s.StartedAt, s.InitialEndsAt, s.ReverifyEndsAt,
		s.QRRotation.Milliseconds(), s.QRSecret, s.Status, s.Phase)
	return row.Scan(&s.CreatedAt)
}

// Advance compare-and-swaps the stored phase.
func (r *PostgresRepository) Advance(ctx context.Context, id string, from, to Phase, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET phase = $3,
			status = CASE WHEN $3 = 'CLOSED' THEN 'CLOSED' ELSE status END,
			closed_at = CASE WHEN $3 = 'CLOSED' THEN $4 ELSE closed_at END,
			updated_at = $4
		WHERE id = $1 AND phase = $2
	`, id, from, to, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
