package challenge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classpresence/internal/apperr"
	"classpresence/internal/auth"
	"classpresence/internal/qr"
	"classpresence/internal/session"
)

var (
	t0       = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	lecturer = auth.Actor{ID: "lect-1", Role: auth.RoleLecturer, OrgID: "org-1"}
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

func TestOwnerChallengeAcrossPhases(t *testing.T) {
	clk := &clock{now: t0}
	mgr := session.NewManager(session.NewMemoryRepository(), session.Settings{Now: clk.Now})
	svc := NewService(mgr)
	ctx := context.Background()

	s, err := mgr.Start(ctx, lecturer, session.StartInput{
		CourseID:       "course-1",
		InitialWindow:  5 * time.Minute,
		ReverifyWindow: 5 * time.Minute,
		Rotation:       30 * time.Second,
	})
	require.NoError(t, err)

	clk.Set(t0.Add(time.Minute))
	ch, err := svc.Owner(ctx, lecturer, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "INITIAL", ch.Payload.Phase)
	assert.Equal(t, t0.Add(time.Minute).UnixMilli()/30000, ch.Payload.Seq)
	require.NotNil(t, ch.PhaseEndsAt)
	assert.Equal(t, s.InitialEndsAt, *ch.PhaseEndsAt)
	assert.Equal(t, int64(30000), ch.NextRotationMs)
	initialToken := ch.Payload.Token

	clk.Set(t0.Add(6 * time.Minute))
	ch, err = svc.Owner(ctx, lecturer, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "REVERIFY", ch.Payload.Phase)
	assert.Equal(t, s.ReverifyEndsAt, *ch.PhaseEndsAt)
	assert.False(t, qr.Validate(s.ID, s.QRSecret, ch.Payload.Phase, s.QRRotation, initialToken, clk.Now()))

	clk.Set(t0.Add(11 * time.Minute))
	_, err = svc.Owner(ctx, lecturer, s.ID)
	assert.ErrorIs(t, err, apperr.ErrSessionClosed)
}

func TestOwnerChallengeAtPhaseBoundary(t *testing.T) {
	clk := &clock{now: t0}
	mgr := session.NewManager(session.NewMemoryRepository(), session.Settings{Now: clk.Now})
	svc := NewService(mgr)
	ctx := context.Background()

	s, err := mgr.Start(ctx, lecturer, session.StartInput{
		CourseID:       "course-1",
		InitialWindow:  5 * time.Minute,
		ReverifyWindow: 5 * time.Minute,
		Rotation:       30 * time.Second,
	})
	require.NoError(t, err)

	clk.Set(s.InitialEndsAt.Add(-time.Millisecond))
	clk.Step(time.Millisecond)

	ch, err := svc.Owner(ctx, lecturer, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "INITIAL", ch.Payload.Phase)
	require.NotNil(t, ch.PhaseEndsAt)
	assert.Equal(t, s.InitialEndsAt, *ch.PhaseEndsAt)
	assert.Equal(t, int64(1), ch.NextRotationMs)
	assert.Equal(t, s.InitialEndsAt.Add(-time.Millisecond).UnixMilli()/30000, ch.Payload.Seq)
}

func TestOwnerChallengeRequiresOwner(t *testing.T) {
	mgr := session.NewManager(session.NewMemoryRepository(), session.Settings{Now: func() time.Time { return t0 }})
	svc := NewService(mgr)
	ctx := context.Background()

	s, err := mgr.Start(ctx, lecturer, session.StartInput{CourseID: "course-1"})
	require.NoError(t, err)

	_, err = svc.Owner(ctx, auth.Actor{ID: "stu-1", Role: auth.RoleStudent, OrgID: "org-1"}, s.ID)
	assert.ErrorIs(t, err, apperr.ErrNotSessionOwner)

	_, err = svc.Owner(ctx, auth.Actor{ID: "lect-1", Role: auth.RoleLecturer, OrgID: "org-9"}, s.ID)
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
}
