package session

import (
	"log/slog"
	"time"
)

// Defaults applied by NewManager.
const (
	DefaultIdleTimeout   = 15 * time.Minute
	DefaultExtendMinutes = 30
)

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the idle period after which an unlocked session locks.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithExpiryMinutes sets the expiry requested when a session starts. Zero
// selects the persistence default.
func WithExpiryMinutes(minutes int) Option {
	return func(m *Manager) { m.expiryMinutes = minutes }
}

// WithExtendMinutes sets the extension used when ExtendSession gets no argument.
func WithExtendMinutes(minutes int) Option {
	return func(m *Manager) {
		if minutes > 0 {
			m.extendMinutes = minutes
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the structured logger. Nil selects slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}
