package attendance

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"classpresence/internal/apperr"
	"classpresence/internal/auth"
	"classpresence/internal/queue"
	"classpresence/internal/session"
)

// Reverifier drives the second verification pass and the lecturer's manual override.
type Reverifier struct {
	sessions *session.Manager
	records  Repository
	events   queue.Publisher
}

// NewReverifier creates a reverification controller. events may be nil.
func NewReverifier(sessions *session.Manager, records Repository, events queue.Publisher) *Reverifier {
	return &Reverifier{sessions: sessions, records: records, events: events}
}

// ManualMark marks a student present on the owning lecturer's word. It is the
// only way to clear a flag without a fresh successful verification.
func (r *Reverifier) ManualMark(ctx context.Context, a auth.Actor, sessionID, studentID string) (*Record, error) {
	if studentID == "" {
		return nil, apperr.Invalid(nil, "student id required")
	}
	sess, err := r.sessions.Owned(ctx, a, sessionID)
	if err != nil {
		return nil, err
	}
	rec, err := r.records.FindBySessionAndStudent(ctx, sess.ID, studentID)
	if err != nil {
		return nil, fmt.Errorf("find attendance record: %w", err)
	}
	if rec == nil {
		return nil, apperr.ErrRecordNotFound
	}
	wasFlagged := rec.Flagged
	at := sess.ObservedAt.UTC()
	updated, err := r.records.ApplyManualOverride(ctx, rec.ID, at)
	if err != nil {
		return nil, fmt.Errorf("apply manual override: %w", err)
	}
	if updated == nil {
		return nil, apperr.ErrRecordNotFound
	}
	updated.ReverifyRequired = ReverifyRequired(updated, sess.Phase)

	log.Info().Str("session_id", sess.ID).Str("student_id", studentID).Str("staff_id", a.ID).
		Bool("was_flagged", wasFlagged).Msg("manual reverify override")
	queue.Emit(ctx, r.events, queue.Event{
		Type:      queue.EventRecordManualOverride,
		OrgID:     sess.OrgID,
		SessionID: sess.ID,
		ActorID:   a.ID,
		SubjectID: studentID,
		Detail:    "was_flagged=" + strconv.FormatBool(wasFlagged),
		At:        at,
	})
	return updated, nil
}

// List returns every record of a session for its staff.
func (r *Reverifier) List(ctx context.Context, a auth.Actor, sessionID string) ([]Record, error) {
	sess, err := r.sessions.Owned(ctx, a, sessionID)
	if err != nil {
		return nil, err
	}
	recs, err := r.records.ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	for i := range recs {
		recs[i].ReverifyRequired = ReverifyRequired(&recs[i], sess.Phase)
	}
	return recs, nil
}

// Mine returns the calling student's own record.
func (r *Reverifier) Mine(ctx context.Context, a auth.Actor, sessionID string) (*Record, error) {
	sess, err := r.sessions.Get(ctx, a, sessionID)
	if err != nil {
		return nil, err
	}
	rec, err := r.records.FindBySessionAndStudent(ctx, sess.ID, a.ID)
	if err != nil {
		return nil, fmt.Errorf("find attendance record: %w", err)
	}
	if rec == nil {
		return nil, apperr.ErrRecordNotFound
	}
	rec.ReverifyRequired = ReverifyRequired(rec, sess.Phase)
	return rec, nil
}

// complete applies an automatic reverification attempt to rec. Records that
// are already resolved are returned unchanged.
func (r *Reverifier) complete(ctx context.Context, sess *session.Session, rec *Record, score int, flagged bool) (*Record, error) {
	if !rec.ReverifyStatus.open() {
		rec.ReverifyRequired = ReverifyRequired(rec, sess.Phase)
		return rec, nil
	}
	out := ReverifyOutcome{
		Status:     ReverifyVerified,
		Confidence: score,
		Flagged:    false,
		At:         sess.ObservedAt.UTC(),
	}
	if flagged {
		out.Status = ReverifyFailed
		out.Confidence = rec.Confidence
		out.Flagged = rec.Flagged
	}
	applied, err := r.records.CompleteReverify(ctx, rec.ID, out)
	if err != nil {
		return nil, fmt.Errorf("complete reverification: %w", err)
	}
	fresh, err := r.records.FindBySessionAndStudent(ctx, rec.SessionID, rec.StudentID)
	if err != nil {
		return nil, fmt.Errorf("find attendance record: %w", err)
	}
	if fresh == nil {
		return nil, apperr.ErrRecordNotFound
	}
	fresh.ReverifyRequired = ReverifyRequired(fresh, sess.Phase)
	if applied {
		log.Info().Str("session_id", sess.ID).Str("student_id", rec.StudentID).
			Str("status", string(out.Status)).Int("score", score).Msg("reverification attempt")
		queue.Emit(ctx, r.events, queue.Event{
			Type:      queue.EventRecordReverified,
			OrgID:     sess.OrgID,
			SessionID: sess.ID,
			ActorID:   rec.StudentID,
			SubjectID: rec.StudentID,
			Detail:    "status=" + string(out.Status) + " score=" + strconv.Itoa(score),
			At:        out.At,
		})
	}
	return fresh, nil
}
