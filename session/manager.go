// Package session owns the in-memory lifecycle of a single encrypted user
// session: starting, locking on idle, restoring from storage, extending and
// ending it. Durable state is delegated to a Persister.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jmcleod/sessionvault/internal/util"
	"github.com/jmcleod/sessionvault/internal/uuid"
	"github.com/jmcleod/sessionvault/key"
	"github.com/jmcleod/sessionvault/persistence"
)

// Persister is the durable store the Manager writes through.
// *persistence.Service implements it.
type Persister interface {
	Persist(ctx context.Context, data *persistence.SessionData, encryptionKey []byte, requestedExpiryMinutes int) (bool, error)
	PersistedSession(ctx context.Context) (*persistence.EncryptedSessionData, bool)
	Clear(ctx context.Context)
	ExtendExpiry(ctx context.Context, additionalMinutes int)
	Config() persistence.Config
}

var _ Persister = (*persistence.Service)(nil)

// KeyPair is the identity material handed to StartSession. EncryptedPrivateKey
// is the private key as already encrypted at rest.
type KeyPair struct {
	PublicKey           []byte
	EncryptedPrivateKey []byte
}

// live is the one session instance. It never leaves the Manager.
type live struct {
	id                  string
	username            string
	publicKey           []byte
	encryptedPrivateKey []byte
	privateKey          *key.Handle
	createdAt           time.Time
	lastActivityAt      time.Time
	expiresAt           time.Time
	version             int
}

// View is a copy of the current session without key material.
type View struct {
	ID             string    `json:"id"`
	Username       string    `json:"username,omitempty"`
	PublicKey      []byte    `json:"publicKey,omitempty"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"createdAt,omitzero"`
	LastActivityAt time.Time `json:"lastActivityAt,omitzero"`
	ExpiresAt      time.Time `json:"expiresAt"`
	Version        int       `json:"version"`
	HasPrivateKey  bool      `json:"hasPrivateKey"`
}

// Manager drives the session state machine. Mutating operations run one at
// a time; reads are served from the last committed snapshot.
type Manager struct {
	store Persister

	// sem admits one mutation at a time, including its storage IO.
	sem *semaphore.Weighted

	// mu guards the committed snapshot.
	mu      sync.RWMutex
	state   State
	current *live

	events *notifier

	timeout       time.Duration
	expiryMinutes int
	extendMinutes int
	now           func() time.Time
	logger        *slog.Logger
}

// NewManager creates a Manager in StateNone.
func NewManager(store Persister, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		sem:           semaphore.NewWeighted(1),
		state:         StateNone,
		timeout:       DefaultIdleTimeout,
		extendMinutes: DefaultExtendMinutes,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "session")
	m.events = newNotifier(m.logger)
	return m
}

func (m *Manager) acquire(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	return nil
}

func (m *Manager) release() {
	m.sem.Release(1)
}

// commit swaps in the new snapshot and returns the event describing it.
// Callers publish the event after mu is released.
func (m *Manager) commit(next State, cur *live, reason string) Event {
	m.mu.Lock()
	prev := m.state
	if m.current != nil && m.current != cur {
		m.current.privateKey.Destroy()
	}
	m.state = next
	m.current = cur
	m.mu.Unlock()

	ev := Event{Previous: prev, Current: next, Reason: reason, At: m.now().UTC()}
	if cur != nil {
		ev.SessionID = cur.id
	}
	m.logger.Info("session state changed",
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
		slog.String("reason", reason),
		slog.String("session_id", ev.SessionID))
	return ev
}

// StartSession begins a new unlocked session for username, replacing any
// existing one, and persists it encrypted under encryptionKey. The Manager
// takes ownership of privateKey; encryptionKey stays with the caller.
//
// The session is unlocked even when persisting fails. The returned bool
// reports whether it is durable. Errors are reserved for invalid arguments
// and a cancelled wait.
func (m *Manager) StartSession(ctx context.Context, username string, kp KeyPair, privateKey *key.Handle, encryptionKey *key.Handle) (bool, error) {
	if username == "" {
		return false, fmt.Errorf("%w: username is required", ErrInvalidArgument)
	}
	if len(kp.PublicKey) == 0 {
		return false, fmt.Errorf("%w: public key is required", ErrInvalidArgument)
	}
	if privateKey == nil || privateKey.Destroyed() {
		return false, fmt.Errorf("%w: private key handle is required", ErrInvalidArgument)
	}
	if encryptionKey == nil || encryptionKey.Destroyed() {
		return false, fmt.Errorf("%w: encryption key handle is required", ErrInvalidArgument)
	}

	if err := m.acquire(ctx); err != nil {
		return false, err
	}
	defer m.release()

	now := m.now().UTC()
	cur := &live{
		id:                  uuid.New(),
		username:            username,
		publicKey:           util.Clone(kp.PublicKey),
		encryptedPrivateKey: util.Clone(kp.EncryptedPrivateKey),
		privateKey:          privateKey,
		createdAt:           now,
		lastActivityAt:      now,
		version:             persistence.CurrentSchemaVersion,
	}
	data := &persistence.SessionData{
		SessionID:           cur.id,
		Username:            cur.username,
		PublicKey:           cur.publicKey,
		EncryptedPrivateKey: cur.encryptedPrivateKey,
		CreatedAt:           cur.createdAt,
		LastActivityAt:      cur.lastActivityAt,
		State:               StateUnlocked.String(),
		Version:             cur.version,
	}

	var durable bool
	err := encryptionKey.Use(func(k []byte) error {
		var perr error
		durable, perr = m.store.Persist(ctx, data, k, m.expiryMinutes)
		return perr
	})
	if err != nil {
		return false, err
	}
	if !durable {
		// Whatever a failed write left behind belongs to the superseded
		// session and must not be restored or extended as this one.
		m.store.Clear(ctx)
		m.logger.Warn("session is not durable; it will not survive a restart",
			slog.String("session_id", cur.id))
	}

	cur.expiresAt = data.ExpiresAt
	if cur.expiresAt.IsZero() {
		minutes := m.expiryMinutes
		cfg := m.store.Config()
		if minutes <= 0 {
			minutes = cfg.DefaultExpiryMinutes
		}
		minutes = min(minutes, cfg.MaxExpiryMinutes)
		cur.expiresAt = now.Add(time.Duration(minutes) * time.Minute)
	}

	m.events.publish(m.commit(StateUnlocked, cur, ReasonStarted))
	return durable, nil
}

// EndSession terminates the live session and clears persisted data.
func (m *Manager) EndSession(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	m.mu.RLock()
	state, cur := m.state, m.current
	m.mu.RUnlock()
	if !state.Live() {
		return ErrNoSession
	}

	m.store.Clear(ctx)
	cur.privateKey.Destroy()
	m.events.publish(m.commit(StateExpired, cur, ReasonEnded))
	return nil
}

// TryRestoreSession adopts a valid persisted session in the Locked state.
// Only metadata is read; nothing is decrypted. It reports false when there
// is nothing to restore or a session is already live.
func (m *Manager) TryRestoreSession(ctx context.Context) bool {
	if err := m.acquire(ctx); err != nil {
		return false
	}
	defer m.release()

	if m.CurrentState().Live() {
		return false
	}

	esd, ok := m.store.PersistedSession(ctx)
	if !ok {
		return false
	}
	meta := esd.Metadata
	cur := &live{
		id:        meta.SessionID,
		createdAt: meta.CreatedAt,
		expiresAt: meta.ExpiresAt,
		version:   meta.Version,
	}
	m.events.publish(m.commit(StateLocked, cur, ReasonRestored))
	return true
}

// ExtendSession pushes the session expiry out by minutes, or by the
// configured extension when none is given. The state never changes.
func (m *Manager) ExtendSession(ctx context.Context, minutes ...int) error {
	add := m.extendMinutes
	if len(minutes) > 0 {
		add = minutes[0]
	}
	if add <= 0 {
		return fmt.Errorf("%w: extension must be positive", ErrInvalidArgument)
	}

	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	m.mu.RLock()
	cur, live := m.current, m.state.Live()
	m.mu.RUnlock()
	if cur == nil || !live {
		return nil
	}

	// Only the record written for this session may be extended.
	esd, durable := m.store.PersistedSession(ctx)
	durable = durable && esd.Metadata.SessionID == cur.id
	if durable {
		m.store.ExtendExpiry(ctx, add)
		esd, durable = m.store.PersistedSession(ctx)
		durable = durable && esd.Metadata.SessionID == cur.id
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if durable {
		cur.expiresAt = esd.Metadata.ExpiresAt
	} else {
		// Not durable: apply the same cap in memory.
		limit := cur.createdAt.Add(time.Duration(m.store.Config().MaxExpiryMinutes) * time.Minute)
		next := cur.expiresAt.Add(time.Duration(add) * time.Minute)
		if next.After(limit) {
			next = limit
		}
		if next.After(cur.expiresAt) {
			cur.expiresAt = next
		}
	}
	if m.state == StateUnlocked {
		cur.lastActivityAt = m.now().UTC()
	}
	return nil
}

// CheckTimeout applies time-based transitions and reports whether one
// happened. A session past its absolute expiry becomes Expired and its
// persisted data is cleared. An unlocked session idle for longer than the
// timeout becomes Locked with its persisted data left in place.
func (m *Manager) CheckTimeout(ctx context.Context) bool {
	if err := m.acquire(ctx); err != nil {
		return false
	}
	defer m.release()

	m.mu.RLock()
	state, cur := m.state, m.current
	m.mu.RUnlock()
	if !state.Live() {
		return false
	}

	now := m.now()
	if !cur.expiresAt.After(now) {
		m.store.Clear(ctx)
		cur.privateKey.Destroy()
		m.events.publish(m.commit(StateExpired, cur, ReasonExpired))
		return true
	}
	if state == StateUnlocked && now.Sub(cur.lastActivityAt) > m.timeout {
		cur.privateKey.Destroy()
		m.events.publish(m.commit(StateLocked, cur, ReasonTimeout))
		return true
	}
	return false
}

// Touch records user activity, deferring the idle lock.
func (m *Manager) Touch(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateUnlocked:
		m.current.lastActivityAt = m.now().UTC()
		return nil
	case StateLocked:
		return ErrLocked
	default:
		return ErrNoSession
	}
}

// Unlock would return a Locked session to Unlocked after re-authentication.
// That path needs the identity scheme to re-derive the private key and is
// not wired; Locked sessions always get ErrUnlockNotImplemented.
func (m *Manager) Unlock(ctx context.Context, passphrase string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch m.CurrentState() {
	case StateUnlocked:
		return nil
	case StateLocked:
		return ErrUnlockNotImplemented
	default:
		return ErrNoSession
	}
}

// CurrentState returns the committed state.
func (m *Manager) CurrentState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CurrentSession returns a copy of the current session. A restored session
// carries metadata only.
func (m *Manager) CurrentSession() (View, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return View{State: m.state}, false
	}
	c := m.current
	return View{
		ID:             c.id,
		Username:       c.username,
		PublicKey:      util.Clone(c.publicKey),
		State:          m.state,
		CreatedAt:      c.createdAt,
		LastActivityAt: c.lastActivityAt,
		ExpiresAt:      c.expiresAt,
		Version:        c.version,
		HasPrivateKey:  m.state == StateUnlocked && c.privateKey != nil && !c.privateKey.Destroyed(),
	}, true
}

// RemainingTime returns the time left before the committed session expires.
// It never touches storage; ExtendSession keeps the snapshot in step with
// the persisted expiry.
func (m *Manager) RemainingTime(ctx context.Context) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || !m.state.Live() {
		return 0
	}
	if d := m.current.expiresAt.Sub(m.now()); d > 0 {
		return d
	}
	return 0
}

// WithPrivateKey runs fn with the private key while the session is unlocked.
// fn must not retain the slice.
func (m *Manager) WithPrivateKey(fn func(privateKey []byte) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.state == StateUnlocked && m.current != nil:
		return m.current.privateKey.Use(fn)
	case m.state == StateLocked:
		return ErrLocked
	default:
		return ErrNoSession
	}
}

// Subscribe returns a channel of state transitions and a function that
// cancels the subscription. Delivery never blocks; a subscriber whose buffer
// is full misses events.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.subscribe(buffer)
}

// OnChange registers fn to run after every transition. fn runs on the
// goroutine performing the transition and must not call mutating Manager
// methods.
func (m *Manager) OnChange(fn func(Event)) {
	m.events.onChange(fn)
}

// Close destroys any resident key material and closes subscriptions. An
// unlocked session is left Locked; persisted data is untouched.
func (m *Manager) Close() {
	_ = m.sem.Acquire(context.Background(), 1)
	defer m.release()

	m.mu.RLock()
	state, cur := m.state, m.current
	m.mu.RUnlock()
	if state == StateUnlocked {
		cur.privateKey.Destroy()
		m.events.publish(m.commit(StateLocked, cur, ReasonClosed))
	}
	m.events.close()
}
