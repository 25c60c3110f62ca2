package qrport

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"classpresence/internal/apperr"
	"classpresence/internal/auth"
	"classpresence/internal/challenge"
	"classpresence/internal/queue"
	"classpresence/internal/session"
)

// Broker runs the request / approve / reject workflow and serves the live
// challenge to approved delegates.
type Broker struct {
	sessions *session.Manager
	repo     Repository
	events   queue.Publisher
}

// NewBroker creates a broker. events may be nil.
func NewBroker(sessions *session.Manager, repo Repository, events queue.Publisher) *Broker {
	return &Broker{sessions: sessions, repo: repo, events: events}
}

var errActiveRequest = apperr.State("an active qr port request already exists for this session")

// Request opens a PENDING request for the calling student.
func (b *Broker) Request(ctx context.Context, a auth.Actor, sessionID string) (*Request, error) {
	if a.Role != auth.RoleStudent {
		return nil, apperr.Forbidden("only students can request a qr port")
	}
	sess, err := b.sessions.Get(ctx, a, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusActive || sess.Phase == session.PhaseClosed {
		return nil, apperr.ErrSessionClosed
	}
	existing, err := b.repo.FindActive(ctx, sess.ID, a.ID)
	if err != nil {
		return nil, fmt.Errorf("find qr port request: %w", err)
	}
	if existing != nil {
		return nil, errActiveRequest
	}
	req := &Request{
		SessionID:   sess.ID,
		StudentID:   a.ID,
		Status:      StatusPending,
		RequestedAt: sess.ObservedAt.UTC(),
	}
	if err := b.repo.Create(ctx, req); err != nil {
		if errors.Is(err, ErrActiveRequestExists) {
			return nil, errActiveRequest
		}
		return nil, fmt.Errorf("create qr port request: %w", err)
	}
	log.Info().Str("session_id", sess.ID).Str("student_id", a.ID).Str("request_id", req.ID).Msg("qr port requested")
	queue.Emit(ctx, b.events, queue.Event{
		Type:      queue.EventPortRequested,
		OrgID:     sess.OrgID,
		SessionID: sess.ID,
		ActorID:   a.ID,
		SubjectID: req.ID,
		At:        req.RequestedAt,
	})
	return req, nil
}

// List returns every request of a session for its staff.
func (b *Broker) List(ctx context.Context, a auth.Actor, sessionID string) ([]Request, error) {
	sess, err := b.sessions.Owned(ctx, a, sessionID)
	if err != nil {
		return nil, err
	}
	reqs, err := b.repo.ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list qr port requests: %w", err)
	}
	return reqs, nil
}

// Mine returns the calling student's requests for a session.
func (b *Broker) Mine(ctx context.Context, a auth.Actor, sessionID string) ([]Request, error) {
	sess, err := b.sessions.Get(ctx, a, sessionID)
	if err != nil {
		return nil, err
	}
	reqs, err := b.repo.ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list qr port requests: %w", err)
	}
	mine := reqs[:0]
	for _, req := range reqs {
		if req.StudentID == a.ID {
			mine = append(mine, req)
		}
	}
	return mine, nil
}

// Approve grants the student polling rights. No token is issued here.
func (b *Broker) Approve(ctx context.Context, a auth.Actor, requestID string) (*Request, error) {
	return b.decide(ctx, a, requestID, StatusApproved)
}

// Reject refuses the request.
func (b *Broker) Reject(ctx context.Context, a auth.Actor, requestID string) (*Request, error) {
	return b.decide(ctx, a, requestID, StatusRejected)
}

func (b *Broker) decide(ctx context.Context, a auth.Actor, requestID string, to Status) (*Request, error) {
	if requestID == "" {
		return nil, apperr.Invalid(nil, "request id required")
	}
	req, err := b.repo.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get qr port request: %w", err)
	}
	if req == nil {
		return nil, apperr.ErrRequestNotFound
	}
	sess, err := b.sessions.Owned(ctx, a, req.SessionID)
	if err != nil {
		if errors.Is(err, apperr.ErrSessionNotFound) {
			return nil, apperr.ErrRequestNotFound
		}
		return nil, err
	}
	if sess.Phase == session.PhaseClosed {
		return nil, apperr.State("session closed; qr port requests are read-only")
	}
	if req.Status != StatusPending {
		return nil, apperr.ErrRequestNotPending
	}
	at := sess.ObservedAt.UTC()
	ok, err := b.repo.Decide(ctx, req.ID, to, a.ID, at)
	if err != nil {
		return nil, fmt.Errorf("decide qr port request: %w", err)
	}
	if !ok {
		return nil, apperr.ErrRequestNotPending
	}
	decided, err := b.repo.Get(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("get qr port request: %w", err)
	}
	if decided == nil {
		return nil, apperr.ErrRequestNotFound
	}
	log.Info().Str("session_id", sess.ID).Str("request_id", req.ID).Str("staff_id", a.ID).
		Str("status", string(to)).Msg("qr port decided")
	queue.Emit(ctx, b.events, queue.Event{
		Type:      queue.EventPortDecided,
		OrgID:     sess.OrgID,
		SessionID: sess.ID,
		ActorID:   a.ID,
		SubjectID: req.StudentID,
		Detail:    "status=" + string(to),
		At:        at,
	})
	return decided, nil
}

// LiveQR returns the session's current challenge to an approved delegate.
// The payload is identical to what the owner's display shows.
func (b *Broker) LiveQR(ctx context.Context, a auth.Actor, sessionID string) (challenge.Challenge, error) {
	sess, err := b.sessions.Get(ctx, a, sessionID)
	if err != nil {
		return challenge.Challenge{}, err
	}
	if sess.Phase == session.PhaseClosed {
		return challenge.Challenge{}, apperr.ErrPortUnavailable
	}
	req, err := b.repo.FindActive(ctx, sess.ID, a.ID)
	if err != nil {
		return challenge.Challenge{}, fmt.Errorf("find qr port request: %w", err)
	}
	if req == nil || req.Status != StatusApproved {
		return challenge.Challenge{}, apperr.ErrPortUnavailable
	}
	return challenge.ForSession(sess, sess.ObservedAt)
}
