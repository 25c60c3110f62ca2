package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classpresence/internal/apperr"
	"classpresence/internal/auth"
	"classpresence/internal/config"
	"classpresence/internal/credential"
	"classpresence/internal/qr"
	"classpresence/internal/queue"
	"classpresence/internal/scoring"
	"classpresence/internal/session"
)

var (
	t0       = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	lecturer = auth.Actor{ID: "lect-1", Role: auth.RoleLecturer, OrgID: "org-1"}
	student  = auth.Actor{ID: "stu-1", Role: auth.RoleStudent, OrgID: "org-1"}
)

type clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// Now returns the current reading and then advances the clock by step.
func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *clock) Step(d time.Duration) {
	c.mu.Lock()
	c.step = d
	c.mu.Unlock()
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeCreds struct {
	err error
}

func (f fakeCreds) Verify(ctx context.Context, req credential.Request) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return req.Proof == "valid-proof", nil
}

type recorder struct {
	mu   sync.Mutex
	msgs []queue.Message
}

func (r *recorder) Publish(ctx context.Context, msg queue.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Type
	}
	return out
}

type testEnv struct {
	clk      *clock
	sessions *session.Manager
	records  *MemoryRepository
	reverify *Reverifier
	svc      *Service
	events   *recorder
}

func newTestEnv(t *testing.T, creds CredentialVerifier) *testEnv {
	t.Helper()
	clk := &clock{now: t0}
	mgr := session.NewManager(session.NewMemoryRepository(), session.Settings{Rotation: 30 * time.Second, Now: clk.Now})
	records := NewMemoryRepository()
	events := &recorder{}
	policy, err := PolicyFrom(config.Policy{
		GeofenceLat:     6.5244,
		GeofenceLng:     3.3792,
		GeofenceRadiusM: 150,
		TrustedCIDRs:    []string{"10.0.0.0/8"},
	})
	require.NoError(t, err)
	rev := NewReverifier(mgr, records, events)
	return &testEnv{
		clk:      clk,
		sessions: mgr,
		records:  records,
		reverify: rev,
		svc:      NewService(mgr, records, rev, creds, policy, events),
		events:   events,
	}
}

func (e *testEnv) start(t *testing.T) *session.Session {
	t.Helper()
	s, err := e.sessions.Start(context.Background(), lecturer, session.StartInput{
		CourseID:       "course-1",
		InitialWindow:  5 * time.Minute,
		ReverifyWindow: 5 * time.Minute,
	})
	require.NoError(t, err)
	return s
}

func (e *testEnv) token(t *testing.T, s *session.Session, phase session.Phase) string {
	t.Helper()
	p, err := qr.Generate(s.ID, s.QRSecret, string(phase), s.QRRotation, e.clk.Now())
	require.NoError(t, err)
	return p.Token
}

func ptr(f float64) *float64 { return &f }

func fullInput(s *session.Session, token string) VerifyInput {
	return VerifyInput{
		SessionID:       s.ID,
		Token:           token,
		Latitude:        ptr(6.5245),
		Longitude:       ptr(3.3792),
		CredentialProof: "valid-proof",
		ClientIP:        "10.1.2.3",
	}
}

func TestVerifyInitialCreatesRecord(t *testing.T) {
	e := newTestEnv(t, fakeCreds{})
	s := e.start(t)
	e.clk.Set(t0.Add(time.Minute))

	res, err := e.svc.Verify(context.Background(), student, fullInput(s, e.token(t, s, session.PhaseInitial)))
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, session.PhaseInitial, res.Phase)
	assert.Equal(t, 100, res.Record.Confidence)
	assert.False(t, res.Record.Flagged)
	assert.True(t, res.Record.WebAuthnUsed)
	assert.True(t, res.Record.IPTrusted)
	assert.True(t, res.Record.QRTokenValid)
	require.NotNil(t, res.Record.GPSDistance)
	assert.Less(t, *res.Record.GPSDistance, 150.0)
	assert.Equal(t, ReverifyPending, res.Record.ReverifyStatus)
	assert.False(t, res.Record.ReverifyRequired)
	assert.Equal(t, []string{queue.EventRecordCreated}, e.events.types())
}

func TestVerifyUsesOneClockReading(t *testing.T) {
	e := newTestEnv(t, fakeCreds{})
	s := e.start(t)

	// Token from two windows before the boundary: valid only at the instant the
	// phase is read, not one millisecond later.
	e.clk.Set(s.InitialEndsAt.Add(-30*time.Second - time.Millisecond))
	tok := e.token(t, s, session.PhaseInitial)
	e.clk.Set(s.InitialEndsAt.Add(-time.Millisecond))
	e.clk.Step(time.Millisecond)

	res, err := e.svc.Verify(context.Background(), student, fullInput(s, tok))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, session.PhaseInitial, res.Phase)

	e.clk.Step(0)
	e.clk.Set(s.InitialEndsAt)
	assert.False(t, qr.Validate(s.ID, s.QRSecret, string(session.PhaseReverify), s.QRRotation, tok, e.clk.Now()))
}

func TestVerifyFlagsWeakAttempt(t *testing.T) {
	e := newTestEnv(t, fakeCreds{})
	s := e.start(t)

	in := VerifyInput{SessionID: s.ID, Token: e.token(t, s, session.PhaseInitial), ClientIP: "10.0.0.9"}
	res, err := e.svc.Verify(context.Background(), student, in)
	require.NoError(t, err)
	assert.Equal(t, 30, res.Score)
	assert.True(t, res.Record.Flagged)
	assert.Nil(t, res.Record.GPSDistance)
}

func TestPolicyThresholdZeroNeverFlags(t *testing.T) {
	zero := 0
	p, err := PolicyFrom(config.Policy{ConfidenceThreshold: &zero})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Threshold)
	assert.False(t, scoring.IsFlagged(20, p.Threshold))

	p, err = PolicyFrom(config.Policy{})
	require.NoError(t, err)
	assert.Equal(t, scoring.DefaultThreshold, p.Threshold)
	assert.True(t, scoring.IsFlagged(20, p.Threshold))
}

func TestVerifyDuplicateReturnsExisting(t *testing.T) {
	e := newTestEnv(t, fakeCreds{})
	s := e.start(t)
	ctx := context.Background()

	first, err := e.svc.Verify(ctx, student, fullInput(s, e.token(t, s, session.PhaseInitial)))
	require.NoError(t, err)

	weak := VerifyInput{SessionID: s.ID, Token: e.token(t, s, session.PhaseInitial)}
	second, err := e.svc.Verify(ctx, student, weak)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, 100, second.Record.Confidence)
	assert.False(t, second.Record.Flagged)
}

func TestVerifyConcurrentCreatesOneRecord(t *testing.T) {
	e := newTestEnv(t, fakeCreds{})
	s := e.start(t)
	in := fullInput(s, e.token(t, s, session.PhaseInitial))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]bool{}
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.svc.Verify(context.Background(), student, in)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[res.Record.ID] = true
			if res.Created {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
	recs, err := e.records.ListBySession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestVerifyRejections(t *testing.T) {
	e := newTestEnv(t, fakeCreds{})
	s := e.start(t)
	ctx := context.Background()
	good := e.token(t, s, session.PhaseInitial)

	tests := []struct {
		name  string
		actor auth.Actor
		in    VerifyInput
		kind  apperr.Kind
	}{
		{"lecturer cannot verify", lecturer, fullInput(s, good), apperr.KindAuthorization},
		{"missing token", student, VerifyInput{SessionID: s.ID}, apperr.KindValidation},
		{"malformed token", student, VerifyInput{SessionID: s.ID, Token: "not-hex"}, apperr.KindValidation},
		{"bad latitude", student, VerifyInput{SessionID: s.ID, Token: good, Latitude: ptr(120), Longitude: ptr(0)}, apperr.KindValidation},
		{"latitude alone", student, VerifyInput{SessionID: s.ID, Token: good, Latitude: ptr(1)}, apperr.KindValidation},
		{"bad ip", student, VerifyInput{SessionID: s.ID, Token: good, ClientIP: "300.1.1.1"}, apperr.KindValidation},
		{"wrong token", student, VerifyInput{SessionID: s.ID, Token: "0123456789abcdef0123456789abcdef"}, apperr.KindState},
		{"other organisation", auth.Actor{ID: "stu-9", Role: auth.RoleStudent, OrgID: "org-2"}, fullInput(s, good), apperr.KindNotFound},
		{"unknown session", student, VerifyInput{SessionID: "nope", Token: good}, apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Verify(ctx, tt.actor, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	recs, err := e.records.ListBySession(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestVerifyClosedSession(t *testing.T) {
	e := newTestEnv(t, fakeCreds{})
	s := e.start(t)
	tok := e.token(t, s, session.PhaseInitial)

	e.clk.Set(t0.Add(11 * time.Minute))
	_, err := e.svc.Verify(context.Background(), student, fullInput(s, tok))
	assert.ErrorIs(t, err, apperr.ErrSessionClosed)
}

func TestCredentialServiceErrorCountsAsUnverified(t *testing.T) {
	e := newTestEnv(t, fakeCreds{err: errors.New("connection refused")})
	s := e.start(t)

	res, err := e.svc.Verify(context.Background(), student, fullInput(s, e.token(t, s, session.PhaseInitial)))
	require.NoError(t, err)
	assert.Equal(t, 60, res.Score)
	assert.False(t, res.Record.WebAuthnUsed)
	assert.True(t, res.Record.Flagged)
}

func TestInitialTokenRejectedDuringReverify(t *testing.T) {
	e := newTestEnv(t, fakeCreds{})
	s := e.start(t)
	ctx := context.Background()

	e.clk.Set(t0.Add(time.Minute))
	initialTok := e.token(t, s, session.PhaseInitial)
	_, err := e.svc.Verify(ctx, student, fullInput(s, initialTok))
	require.NoError(t, err)

	// Within one rotation of the phase boundary, so only the phase separates the tokens.
	e.clk.Set(t0.Add(5*time.Minute + time.Second))
	stale := e.token(t, s, session.PhaseInitial)
	_, err = e.svc.Verify(ctx, student, fullInput(s, stale))
	assert.Equal(t, apperr.KindState, apperr.KindOf(err))
}

func TestReverificationPass(t *testing.T) {
	e := newTestEnv(t, fakeCreds{})
	s := e.start(t)
	ctx := context.Background()

	e.clk.Set(t0.Add(time.Minute))
	_, err := e.svc.Verify(ctx, student, fullInput(s, e.token(t, s, session.PhaseInitial)))
	require.NoError(t, err)

	e.clk.Set(t0.Add(6 * time.Minute))
	recs, err := e.reverify.List(ctx, lecturer, s.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].ReverifyRequired)

	weak := VerifyInput{SessionID: s.ID, Token: e.token(t, s, session.PhaseReverify)}
	res, err := e.svc.Verify(ctx, student, weak)
	require.NoError(t, err)
	assert.Equal(t, ReverifyFailed, res.Record.ReverifyStatus)
	assert.Equal(t, 100, res.Record.Confidence)
	assert.False(t, res.Record.ReverifyRequired)

	res, err = e.svc.Verify(ctx, student, fullInput(s, e.token(t, s, session.PhaseReverify)))
	require.NoError(t, err)
	assert.Equal(t, ReverifyVerified, res.Record.ReverifyStatus)
	assert.NotNil(t, res.Record.ReverifyMarkedAt)
	assert.False(t, res.Record.Flagged)

	again, err := e.svc.Verify(ctx, student, weak)
	require.NoError(t, err)
	assert.Equal(t, ReverifyVerified, again.Record.ReverifyStatus)

	assert.Equal(t, []string{queue.EventRecordCreated, queue.EventRecordReverified, queue.EventRecordReverified}, e.events.types())
}

func TestReverifyWithoutInitialRecord(t *testing.T) {
	e := newTestEnv(t, fakeCreds{})
	s := e.start(t)

	e.clk.Set(t0.Add(6 * time.Minute))
	_, err := e.svc.Verify(context.Background(), student, fullInput(s, e.token(t, s, session.PhaseReverify)))
	assert.Equal(t, apperr.KindState, apperr.KindOf(err))
}

func TestManualMark(t *testing.T) {
	e := newTestEnv(t, fakeCreds{})
	s := e.start(t)
	ctx := context.Background()

	weak := VerifyInput{SessionID: s.ID, Token: e.token(t, s, session.PhaseInitial)}
	res, err := e.svc.Verify(ctx, student, weak)
	require.NoError(t, err)
	require.True(t, res.Record.Flagged)

	_, err = e.reverify.ManualMark(ctx, auth.Actor{ID: "lect-2", Role: auth.RoleLecturer, OrgID: "org-1"}, s.ID, student.ID)
	assert.ErrorIs(t, err, apperr.ErrNotSessionOwner)

	_, err = e.reverify.ManualMark(ctx, lecturer, s.ID, "stu-unknown")
	assert.ErrorIs(t, err, apperr.ErrRecordNotFound)

	_, err = e.reverify.ManualMark(ctx, lecturer, s.ID, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	e.clk.Set(t0.Add(6 * time.Minute))
	rec, err := e.reverify.ManualMark(ctx, lecturer, s.ID, student.ID)
	require.NoError(t, err)
	assert.False(t, rec.Flagged)
	assert.True(t, rec.ReverifyManualOverride)
	assert.Equal(t, ReverifyManualPresent, rec.ReverifyStatus)
	require.NotNil(t, rec.ReverifyManualOverriddenAt)
	assert.Equal(t, t0.Add(6*time.Minute), *rec.ReverifyManualOverriddenAt)
	assert.False(t, rec.ReverifyRequired)

	after, err := e.svc.Verify(ctx, student, bareReverifyAttempt(e, t, s))
	require.NoError(t, err)
	assert.Equal(t, ReverifyManualPresent, after.Record.ReverifyStatus)
	assert.False(t, after.Record.Flagged)

	mine, err := e.reverify.Mine(ctx, student, s.ID)
	require.NoError(t, err)
	assert.Equal(t, ReverifyManualPresent, mine.ReverifyStatus)
}

func bareReverifyAttempt(e *testEnv, t *testing.T, s *session.Session) VerifyInput {
	t.Helper()
	return VerifyInput{SessionID: s.ID, Token: e.token(t, s, session.PhaseReverify)}
}

func TestMineNotFound(t *testing.T) {
	e := newTestEnv(t, fakeCreds{})
	s := e.start(t)
	_, err := e.reverify.Mine(context.Background(), student, s.ID)
	assert.ErrorIs(t, err, apperr.ErrRecordNotFound)
}
