// Package attendance records verified presence: the initial verification pass,
// the automatic reverification pass and the lecturer's manual override.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"classpresence/internal/apperr"
	"classpresence/internal/auth"
	"classpresence/internal/config"
	"classpresence/internal/credential"
	"classpresence/internal/geo"
	"classpresence/internal/network"
	"classpresence/internal/qr"
	"classpresence/internal/queue"
	"classpresence/internal/scoring"
	"classpresence/internal/session"
)

// CredentialVerifier checks a credential-possession proof.
type CredentialVerifier interface {
	Verify(ctx context.Context, req credential.Request) (bool, error)
}

// Policy is the organisation's acceptance policy.
type Policy struct {
	Threshold int
	Fence     geo.Fence
	Trust     *network.TrustList
}

// PolicyFrom builds a Policy from configuration values.
func PolicyFrom(p config.Policy) (Policy, error) {
	trust, err := network.NewTrustList(p.TrustedCIDRs)
	if err != nil {
		return Policy{}, err
	}
	threshold := scoring.DefaultThreshold
	if p.ConfidenceThreshold != nil {
		threshold = *p.ConfidenceThreshold
	}
	return Policy{
		Threshold: threshold,
		Fence:     geo.Fence{Center: geo.Point{Lat: p.GeofenceLat, Lng: p.GeofenceLng}, RadiusM: p.GeofenceRadiusM},
		Trust:     trust,
	}, nil
}

// VerifyInput is one verification attempt by a student.
type VerifyInput struct {
	SessionID       string   `validate:"required,max=64"`
	Token           string   `validate:"required,hexadecimal,len=32"`
	Latitude        *float64 `validate:"omitempty,latitude"`
	Longitude       *float64 `validate:"omitempty,longitude"`
	CredentialProof string   `validate:"max=16384"`
	ClientIP        string   `validate:"omitempty,ip"`
}

// VerifyResult is the outcome of a verification attempt.
type VerifyResult struct {
	Record  Record        `json:"record"`
	Created bool          `json:"created"`
	Score   int           `json:"score"`
	Phase   session.Phase `json:"phase"`
}

// Service coordinates verification attempts.
type Service struct {
	sessions *session.Manager
	records  Repository
	reverify *Reverifier
	creds    CredentialVerifier
	policy   Policy
	events   queue.Publisher
	validate *validator.Validate
}

// NewService creates a service backed by a repository. events may be nil.
func NewService(sessions *session.Manager, records Repository, reverify *Reverifier, creds CredentialVerifier, policy Policy, events queue.Publisher) *Service {
	return &Service{
		sessions: sessions,
		records:  records,
		reverify: reverify,
		creds:    creds,
		policy:   policy,
		events:   events,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Verify scores one attempt. During the initial window it creates the
// student's record (an existing record wins); during the reverify window it
// completes the second check of the existing record.
func (s *Service) Verify(ctx context.Context, a auth.Actor, in VerifyInput) (VerifyResult, error) {
	if a.Role != auth.RoleStudent {
		return VerifyResult{}, apperr.Forbidden("only students can verify attendance")
	}
	if err := s.validate.Struct(in); err != nil {
		return VerifyResult{}, apperr.Invalid(err, "invalid verification request")
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return VerifyResult{}, apperr.Invalid(nil, "latitude and longitude must be sent together")
	}

	sess, err := s.sessions.Get(ctx, a, in.SessionID)
	if err != nil {
		return VerifyResult{}, err
	}
	if sess.Phase == session.PhaseClosed {
		return VerifyResult{}, apperr.ErrSessionClosed
	}
	now := sess.ObservedAt
	if !qr.Validate(sess.ID, sess.QRSecret, string(sess.Phase), sess.QRRotation, in.Token, now) {
		return VerifyResult{}, apperr.State("invalid or expired qr token")
	}

	credOK, err := s.creds.Verify(ctx, credential.Request{StudentID: a.ID, SessionID: sess.ID, Proof: in.CredentialProof})
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Str("student_id", a.ID).Msg("credential verification unavailable")
		credOK = false
	}

	var (
		gpsDistance *float64
		inFence     bool
	)
	if in.Latitude != nil {
		d, inside := s.policy.Fence.Check(geo.Point{Lat: *in.Latitude, Lng: *in.Longitude})
		gpsDistance, inFence = &d, inside
	}
	trusted := s.policy.Trust.Trusted(in.ClientIP)

	score := scoring.Score(scoring.Signals{
		CredentialVerified: credOK,
		WithinGeofence:     inFence,
		TokenValid:         true,
		NetworkTrusted:     trusted,
	})
	flagged := scoring.IsFlagged(score, s.policy.Threshold)

	switch sess.Phase {
	case session.PhaseInitial:
		rec, created, err := s.records.Create(ctx, Record{
			SessionID:      sess.ID,
			StudentID:      a.ID,
			Confidence:     score,
			Flagged:        flagged,
			GPSDistance:    gpsDistance,
			IPTrusted:      trusted,
			WebAuthnUsed:   credOK,
			QRTokenValid:   true,
			ReverifyStatus: ReverifyPending,
		})
		if err != nil {
			return VerifyResult{}, fmt.Errorf("create attendance record: %w", err)
		}
		if created {
			log.Info().Str("session_id", sess.ID).Str("student_id", a.ID).Int("score", score).
				Bool("flagged", flagged).Msg("attendance recorded")
			queue.Emit(ctx, s.events, queue.Event{
				Type:      queue.EventRecordCreated,
				OrgID:     sess.OrgID,
				SessionID: sess.ID,
				ActorID:   a.ID,
				SubjectID: a.ID,
				Detail:    "score=" + strconv.Itoa(score) + " flagged=" + strconv.FormatBool(flagged),
				At:        now.UTC(),
			})
		}
		rec.ReverifyRequired = ReverifyRequired(&rec, sess.Phase)
		return VerifyResult{Record: rec, Created: created, Score: score, Phase: sess.Phase}, nil

	case session.PhaseReverify:
		existing, err := s.records.FindBySessionAndStudent(ctx, sess.ID, a.ID)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("find attendance record: %w", err)
		}
		if existing == nil {
			return VerifyResult{}, apperr.State("initial verification window has ended")
		}
		rec, err := s.reverify.complete(ctx, sess, existing, score, flagged)
		if err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Record: *rec, Score: score, Phase: sess.Phase}, nil
	}
	return VerifyResult{}, errors.New("unexpected session phase " + string(sess.Phase))
}
