// Package credential holds the session cookie used against the remote drive
// and tracks whether it is still accepted.
//
// The Guard is an explicit object passed to whoever needs the cookie. It
// re-validates lazily through an injected Validator and keeps a bounded audit
// trail of updates and validations.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is how long a successful or failed validation is trusted.
const DefaultInterval = time.Hour

// Audit ring bounds: once the log exceeds auditSoftCap entries it is trimmed
// to the newest auditKeep.
const (
	auditSoftCap = 1000
	auditKeep    = 500
)

// Audit actions.
const (
	ActionUpdated   = "cookie_updated"
	ActionValidated = "cookie_validated"
)

// ErrEmpty is returned when a cookie is requested but none is configured.
var ErrEmpty = errors.New("credential: cookie is empty")

// Validator checks the remote with the current cookie. A nil return means
// the cookie was accepted.
type Validator func(ctx context.Context) error

// AuditEntry records one credential event. Details never contain the
// credential itself.
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
}

// Guard holds the current cookie and its last known validity. It is safe for
// concurrent use; the file watcher updates it from its own goroutine.
type Guard struct {
	mu            sync.Mutex
	cookie        string
	valid         bool
	lastValidated time.Time
	interval      time.Duration
	validator     Validator
	audit         []AuditEntry
	logger        *slog.Logger
	nowFunc       func() time.Time
}

// NewGuard creates a Guard for cookie. A non-positive interval falls back to
// DefaultInterval. The validator may be nil, in which case Validate only
// checks that a cookie is present.
func NewGuard(cookie string, interval time.Duration, validator Validator, logger *slog.Logger) *Guard {
	if interval <= 0 {
		interval = DefaultInterval
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Guard{
		cookie:    cookie,
		valid:     true,
		interval:  interval,
		validator: validator,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// SetValidator replaces the validation callback. Used when the validator
// depends on a client that itself needs the guard.
func (g *Guard) SetValidator(v Validator) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.validator = v
}

// Cookie returns the current cookie, or ErrEmpty when none is set.
func (g *Guard) Cookie() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cookie == "" {
		return "", ErrEmpty
	}

	return g.cookie, nil
}

// IsValid reports the last known validity. An empty cookie is never valid.
func (g *Guard) IsValid() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.valid && g.cookie != ""
}

// NeedsValidation is true when the cookie has never been validated or the
// validation interval has elapsed.
func (g *Guard) NeedsValidation() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.needsValidationLocked()
}

func (g *Guard) needsValidationLocked() bool {
	if g.lastValidated.IsZero() {
		return true
	}

	return g.nowFunc().Sub(g.lastValidated) >= g.interval
}

// Validate checks the remote unless a validation result is still fresh, and
// returns the resulting validity.
func (g *Guard) Validate(ctx context.Context) bool {
	return g.validate(ctx, false)
}

// Refresh forces a validation regardless of the interval. The worker calls
// it after the remote rejects the cookie.
func (g *Guard) Refresh(ctx context.Context) bool {
	return g.validate(ctx, true)
}

func (g *Guard) validate(ctx context.Context, force bool) bool {
	g.mu.Lock()

	if g.cookie == "" {
		g.valid = false
		g.mu.Unlock()
		g.logger.Error("cookie is empty")

		return false
	}

	if !force && !g.needsValidationLocked() {
		valid := g.valid
		g.mu.Unlock()

		return valid
	}

	validator := g.validator
	g.mu.Unlock()

	// The check is a network call; run it without holding the lock.
	var err error
	if validator != nil {
		g.logger.Info("validating cookie")
		err = validator(ctx)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastValidated = g.nowFunc()

	if err != nil {
		g.valid = false
		g.logger.Error("cookie validation failed", slog.String("error", err.Error()))
		g.recordLocked(ActionValidated, map[string]any{"status": "failed", "error": err.Error()})

		return false
	}

	g.valid = true
	g.logger.Info("cookie validation successful")
	g.recordLocked(ActionValidated, map[string]any{"status": "success"})

	return true
}

// Update swaps in a new cookie and clears the validation state. Only the
// lengths are audited.
func (g *Guard) Update(cookie string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	old := g.cookie
	g.cookie = cookie
	g.lastValidated = time.Time{}
	g.valid = true

	g.logger.Info("cookie updated",
		slog.Int("old_length", len(old)),
		slog.Int("new_length", len(cookie)),
	)
	g.recordLocked(ActionUpdated, map[string]any{"old_length": len(old), "new_length": len(cookie)})
}

// AuditLog returns up to limit of the most recent audit entries, oldest
// first. A non-positive limit returns all retained entries.
func (g *Guard) AuditLog(limit int) []AuditEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := 0
	if limit > 0 && len(g.audit) > limit {
		start = len(g.audit) - limit
	}

	out := make([]AuditEntry, len(g.audit)-start)
	copy(out, g.audit[start:])

	return out
}

func (g *Guard) recordLocked(action string, details map[string]any) {
	entry := AuditEntry{Timestamp: g.nowFunc().UTC(), Action: action, Details: details}
	g.audit = append(g.audit, entry)

	if len(g.audit) > auditSoftCap {
		g.audit = append([]AuditEntry(nil), g.audit[len(g.audit)-auditKeep:]...)
	}

	g.logger.Debug("credential audit", slog.String("action", action), slog.Any("details", details))
}

// String never reveals the cookie.
func (g *Guard) String() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return fmt.Sprintf("credential.Guard{length: %d, valid: %t}", len(g.cookie), g.valid)
}
