package credential

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestGuard(cookie string, v Validator) (*Guard, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	g := NewGuard(cookie, time.Hour, v, testLogger())
	g.nowFunc = clock.Now

	return g, clock
}

func TestGuard_ValidateCachesWithinInterval(t *testing.T) {
	calls := 0
	g, clock := newTestGuard("c=1", func(context.Context) error {
		calls++
		return nil
	})

	assert.True(t, g.NeedsValidation())
	assert.True(t, g.Validate(context.Background()))
	assert.False(t, g.NeedsValidation())

	clock.now = clock.now.Add(30 * time.Minute)
	assert.True(t, g.Validate(context.Background()))
	assert.Equal(t, 1, calls)

	clock.now = clock.now.Add(30 * time.Minute)
	assert.True(t, g.NeedsValidation())
	assert.True(t, g.Validate(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestGuard_ValidationFailureMarksInvalid(t *testing.T) {
	g, _ := newTestGuard("c=1", func(context.Context) error {
		return errors.New("quark: fetch config: HTTP 401")
	})

	assert.True(t, g.IsValid(), "unvalidated cookie is presumed valid")
	assert.False(t, g.Validate(context.Background()))
	assert.False(t, g.IsValid())
	assert.False(t, g.NeedsValidation())

	log := g.AuditLog(0)
	require.Len(t, log, 1)
	assert.Equal(t, ActionValidated, log[0].Action)
	assert.Equal(t, "failed", log[0].Details["status"])
}

func TestGuard_RefreshIgnoresInterval(t *testing.T) {
	calls := 0
	g, _ := newTestGuard("c=1", func(context.Context) error {
		calls++
		return nil
	})

	g.Validate(context.Background())
	g.Refresh(context.Background())
	assert.Equal(t, 2, calls)
}

func TestGuard_EmptyCookie(t *testing.T) {
	called := false
	g, _ := newTestGuard("", func(context.Context) error {
		called = true
		return nil
	})

	_, err := g.Cookie()
	assert.ErrorIs(t, err, ErrEmpty)
	assert.False(t, g.IsValid())
	assert.False(t, g.Validate(context.Background()))
	assert.False(t, called)
}

func TestGuard_UpdateResetsValidation(t *testing.T) {
	g, _ := newTestGuard("old", func(context.Context) error { return errors.New("rejected") })

	g.Validate(context.Background())
	require.False(t, g.IsValid())

	g.Update("brand-new")

	assert.True(t, g.IsValid())
	assert.True(t, g.NeedsValidation())

	cookie, err := g.Cookie()
	require.NoError(t, err)
	assert.Equal(t, "brand-new", cookie)

	log := g.AuditLog(1)
	require.Len(t, log, 1)
	assert.Equal(t, ActionUpdated, log[0].Action)
	assert.Equal(t, map[string]any{"old_length": 3, "new_length": 9}, log[0].Details)
}

func TestGuard_AuditRingIsBounded(t *testing.T) {
	g, _ := newTestGuard("c", nil)

	for range auditSoftCap {
		g.Update("c")
	}

	assert.Len(t, g.AuditLog(0), auditSoftCap)

	g.Update("c")
	assert.Len(t, g.AuditLog(0), auditKeep)
	assert.Len(t, g.AuditLog(10), 10)
}

func TestGuard_StringHidesCookie(t *testing.T) {
	g, _ := newTestGuard("secret-session", nil)
	assert.False(t, strings.Contains(g.String(), "secret"))
}

func TestGuard_SetValidator(t *testing.T) {
	g, _ := newTestGuard("c", nil)
	g.SetValidator(func(context.Context) error { return errors.New("no") })

	assert.False(t, g.Refresh(context.Background()))
}
