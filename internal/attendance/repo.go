package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance records. Lookups return (nil, nil) when nothing matches.
type Repository interface {
	FindBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*Record, error)
	// Create inserts rec unless the (session, student) pair already has a record;
	// it returns the stored record and whether this call created it.
	Create(ctx context.Context, rec Record) (Record, bool, error)
	ListBySession(ctx context.Context, sessionID string) ([]Record, error)
	// CompleteReverify applies out while the record's reverify status is still open.
	CompleteReverify(ctx context.Context, id string, out ReverifyOutcome) (bool, error)
	ApplyManualOverride(ctx context.Context, id string, at time.Time) (*Record, error)
}

// PostgresRepository persists attendance records in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `id, session_id, student_id, confidence, flagged, gps_distance, ip_trusted, webauthn_used,
	qr_token_valid, reverify_status, reverify_marked_at, reverify_manual_override, reverify_manual_overridden_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Confidence, &rec.Flagged, &rec.GPSDistance,
		&rec.IPTrusted, &rec.WebAuthnUsed, &rec.QRTokenValid, &rec.ReverifyStatus, &rec.ReverifyMarkedAt,
		&rec.ReverifyManualOverride, &rec.ReverifyManualOverriddenAt, &rec.CreatedAt)
	return rec, err
}

// FindBySessionAndStudent returns the record for the pair.
func (r *PostgresRepository) FindBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+`
		FROM attendance_records WHERE session_id = $1 AND student_id = $2`, sessionID, studentID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Create writes a new record; the unique key on (session_id, student_id) decides the winner.
func (r *PostgresRepository) Create(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReverifyStatus == "" {
		rec.ReverifyStatus = ReverifyPending
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, confidence, flagged, gps_distance,
			ip_trusted, webauthn_used, qr_token_valid, reverify_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (session_id, student_id) DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.SessionID, rec.StudentID, rec.Confidence, rec.Flagged, rec.GPSDistance,
		rec.IPTrusted, rec.WebAuthnUsed, rec.QRTokenValid, rec.ReverifyStatus)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, err
		}
		existing, ferr := r.FindBySessionAndStudent(ctx, rec.SessionID, rec.StudentID)
		if ferr != nil {
			return Record{}, false, ferr
		}
		if existing == nil {
			return Record{}, false, errors.New("attendance record conflict without existing row")
		}
		return *existing, false, nil
	}
	return rec, true, nil
}

// ListBySession returns all records of a session, oldest first.
func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+`
		FROM attendance_records WHERE session_id = $1 ORDER BY created_at, student_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// CompleteReverify records an automatic reverification outcome.
func (r *PostgresRepository) CompleteReverify(ctx context.Context, id string, out ReverifyOutcome) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET reverify_status = $2, confidence = $3, flagged = $4, reverify_marked_at = $5, updated_at = $5
		WHERE id = $1 AND reverify_status IN ('PENDING', 'FAILED')
	`, id, out.Status, out.Confidence, out.Flagged, out.At)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ApplyManualOverride marks the record present on a lecturer's word.
func (r *PostgresRepository) ApplyManualOverride(ctx context.Context, id string, at time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET reverify_status = 'MANUAL_PRESENT', reverify_manual_override = TRUE,
			reverify_manual_overridden_at = $2, reverify_marked_at = $2, flagged = FALSE, updated_at = $2
		WHERE id = $1
		RETURNING `+recordColumns, id, at)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}
