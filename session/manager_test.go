package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionvault/crypto"
	"github.com/jmcleod/sessionvault/key"
	"github.com/jmcleod/sessionvault/persistence"
	"github.com/jmcleod/sessionvault/storage/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	mgr     *Manager
	store   *persistence.Service
	backend *memory.Backend
	clock   *fakeClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	backend := memory.NewBackend()
	provider, err := crypto.NewProvider()
	require.NoError(t, err)
	store, err := persistence.New(backend, provider, persistence.DefaultConfig(), persistence.WithClock(clock.Now))
	require.NoError(t, err)

	mgr := NewManager(store, append([]Option{WithClock(clock.Now)}, opts...)...)
	t.Cleanup(mgr.Close)
	return &fixture{mgr: mgr, store: store, backend: backend, clock: clock}
}

func testHandle(t *testing.T, fill byte) *key.Handle {
	t.Helper()
	h, err := key.NewHandle(bytes.Repeat([]byte{fill}, 32))
	require.NoError(t, err)
	return h
}

func testKeyPair() KeyPair {
	return KeyPair{
		PublicKey:           bytes.Repeat([]byte{0x09}, 32),
		EncryptedPrivateKey: []byte("wrapped-private-key"),
	}
}

func (f *fixture) start(t *testing.T) (*key.Handle, *key.Handle) {
	t.Helper()
	priv := testHandle(t, 0xA1)
	enc := testHandle(t, 0xB2)
	t.Cleanup(enc.Destroy)
	durable, err := f.mgr.StartSession(t.Context(), "alice", testKeyPair(), priv, enc)
	require.NoError(t, err)
	require.True(t, durable)
	return priv, enc
}

func TestNewManager_StartsInNone(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, StateNone, f.mgr.CurrentState())
	_, ok := f.mgr.CurrentSession()
	assert.False(t, ok)
}

func TestStartSession(t *testing.T) {
	f := newFixture(t)
	events, cancel := f.mgr.Subscribe(4)
	defer cancel()

	f.start(t)

	assert.Equal(t, StateUnlocked, f.mgr.CurrentState())
	view, ok := f.mgr.CurrentSession()
	require.True(t, ok)
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "alice", view.Username)
	assert.True(t, view.HasPrivateKey)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), view.ExpiresAt)
	assert.True(t, f.store.HasValidSession(t.Context()))

	ev := <-events
	assert.Equal(t, StateNone, ev.Previous)
	assert.Equal(t, StateUnlocked, ev.Current)
	assert.Equal(t, ReasonStarted, ev.Reason)
	assert.Equal(t, view.ID, ev.SessionID)

	esd, ok := f.store.PersistedSession(t.Context())
	require.True(t, ok)
	assert.Equal(t, view.ID, esd.Metadata.SessionID)
}

func TestStartSession_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	enc := testHandle(t, 0xB2)

	_, err := f.mgr.StartSession(ctx, "", testKeyPair(), testHandle(t, 1), enc)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.mgr.StartSession(ctx, "alice", KeyPair{}, testHandle(t, 1), enc)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.mgr.StartSession(ctx, "alice", testKeyPair(), nil, enc)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	destroyed := testHandle(t, 1)
	destroyed.Destroy()
	_, err = f.mgr.StartSession(ctx, "alice", testKeyPair(), destroyed, enc)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.mgr.StartSession(ctx, "alice", testKeyPair(), testHandle(t, 1), nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Equal(t, StateNone, f.mgr.CurrentState())
}

// failingStore reports every write as failed.
type failingStore struct {
	*persistence.Service
}

func (failingStore) Persist(context.Context, *persistence.SessionData, []byte, int) (bool, error) {
	return false, nil
}

func TestStartSession_UnlocksEvenWhenNotDurable(t *testing.T) {
	f := newFixture(t)
	mgr := NewManager(failingStore{f.store}, WithClock(f.clock.Now))
	defer mgr.Close()

	enc := testHandle(t, 2)
	defer enc.Destroy()
	durable, err := mgr.StartSession(t.Context(), "alice", testKeyPair(), testHandle(t, 1), enc)
	require.NoError(t, err)
	assert.False(t, durable)
	assert.Equal(t, StateUnlocked, mgr.CurrentState())

	view, _ := mgr.CurrentSession()
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), view.ExpiresAt)
	assert.Equal(t, 30*time.Minute, mgr.RemainingTime(t.Context()))
}

// saltFailingProvider fails salt generation once armed.
type saltFailingProvider struct {
	crypto.Provider
	fail atomic.Bool
}

func (p *saltFailingProvider) GenerateSalt() ([]byte, error) {
	if p.fail.Load() {
		return nil, errors.New("entropy unavailable")
	}
	return p.Provider.GenerateSalt()
}

func TestStartSession_NotDurableClearsSupersededRecords(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	backend := memory.NewBackend()
	base, err := crypto.NewProvider()
	require.NoError(t, err)
	provider := &saltFailingProvider{Provider: base}
	store, err := persistence.New(backend, provider, persistence.DefaultConfig(), persistence.WithClock(clock.Now))
	require.NoError(t, err)
	mgr := NewManager(store, WithClock(clock.Now))
	defer mgr.Close()
	ctx := t.Context()

	aliceKey := testHandle(t, 0xB2)
	defer aliceKey.Destroy()
	durable, err := mgr.StartSession(ctx, "alice", testKeyPair(), testHandle(t, 1), aliceKey)
	require.NoError(t, err)
	require.True(t, durable)
	alice, _ := mgr.CurrentSession()

	clock.Advance(20 * time.Minute)
	provider.fail.Store(true)
	bobKey := testHandle(t, 0xC3)
	defer bobKey.Destroy()
	durable, err = mgr.StartSession(ctx, "bob", testKeyPair(), testHandle(t, 2), bobKey)
	require.NoError(t, err)
	assert.False(t, durable)

	bob, _ := mgr.CurrentSession()
	assert.NotEqual(t, alice.ID, bob.ID)
	assert.False(t, store.HasValidSession(ctx), "alice's records must not outlive her session")
	assert.Equal(t, 0, backend.Len())
	assert.Equal(t, 30*time.Minute, mgr.RemainingTime(ctx))

	require.NoError(t, mgr.ExtendSession(ctx, 5))
	assert.Equal(t, 35*time.Minute, mgr.RemainingTime(ctx))
	_, ok := store.PersistedSession(ctx)
	assert.False(t, ok)

	restarted := NewManager(store, WithClock(clock.Now))
	defer restarted.Close()
	assert.False(t, restarted.TryRestoreSession(ctx), "nothing from alice may be restored as bob")
}

// foreignRecordStore reports a persisted record that belongs to another
// session and counts ExtendExpiry calls.
type foreignRecordStore struct {
	*persistence.Service
	extends atomic.Int32
}

func (s *foreignRecordStore) Persist(context.Context, *persistence.SessionData, []byte, int) (bool, error) {
	return false, nil
}

func (s *foreignRecordStore) Clear(context.Context) {}

func (s *foreignRecordStore) ExtendExpiry(ctx context.Context, minutes int) {
	s.extends.Add(1)
	s.Service.ExtendExpiry(ctx, minutes)
}

func TestExtendSession_LeavesForeignRecordAlone(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	other, _ := f.store.PersistedSession(t.Context())

	fs := &foreignRecordStore{Service: f.store}
	mgr := NewManager(fs, WithClock(f.clock.Now))
	defer mgr.Close()
	enc := testHandle(t, 3)
	defer enc.Destroy()
	_, err := mgr.StartSession(t.Context(), "bob", testKeyPair(), testHandle(t, 4), enc)
	require.NoError(t, err)

	require.NoError(t, mgr.ExtendSession(t.Context(), 10))
	assert.Equal(t, int32(0), fs.extends.Load())
	assert.Equal(t, 40*time.Minute, mgr.RemainingTime(t.Context()))

	esd, ok := f.store.PersistedSession(t.Context())
	require.True(t, ok)
	assert.Equal(t, other.Metadata.SessionID, esd.Metadata.SessionID)
	assert.Equal(t, other.Metadata.ExpiresAt, esd.Metadata.ExpiresAt)
}

func TestStartSession_ReplacesPreviousSession(t *testing.T) {
	f := newFixture(t)
	first, _ := f.start(t)
	view1, _ := f.mgr.CurrentSession()

	f.start(t)
	view2, _ := f.mgr.CurrentSession()

	assert.NotEqual(t, view1.ID, view2.ID)
	assert.True(t, first.Destroyed(), "superseded private key must be destroyed")
	esd, ok := f.store.PersistedSession(t.Context())
	require.True(t, ok)
	assert.Equal(t, view2.ID, esd.Metadata.SessionID)
}

func TestCheckTimeout_LockKeepsDurability(t *testing.T) {
	f := newFixture(t)
	priv, _ := f.start(t)
	events, cancel := f.mgr.Subscribe(4)
	defer cancel()

	f.clock.Advance(10 * time.Minute)
	assert.False(t, f.mgr.CheckTimeout(t.Context()))
	assert.Equal(t, StateUnlocked, f.mgr.CurrentState())

	f.clock.Advance(6 * time.Minute)
	assert.True(t, f.mgr.CheckTimeout(t.Context()))
	assert.Equal(t, StateLocked, f.mgr.CurrentState())
	assert.True(t, priv.Destroyed())
	assert.True(t, f.store.HasValidSession(t.Context()), "locking must not clear persisted data")
	assert.Equal(t, 2, f.backend.Len())

	ev := <-events
	assert.Equal(t, StateUnlocked, ev.Previous)
	assert.Equal(t, StateLocked, ev.Current)
	assert.Equal(t, ReasonTimeout, ev.Reason)

	view, ok := f.mgr.CurrentSession()
	require.True(t, ok)
	assert.False(t, view.HasPrivateKey)
	assert.ErrorIs(t, f.mgr.WithPrivateKey(func([]byte) error { return nil }), ErrLocked)

	// A second check is a no-op.
	assert.False(t, f.mgr.CheckTimeout(t.Context()))
}

func TestCheckTimeout_TouchDefersLock(t *testing.T) {
	f := newFixture(t, WithTimeout(5*time.Minute))
	f.start(t)

	f.clock.Advance(4 * time.Minute)
	require.NoError(t, f.mgr.Touch(t.Context()))
	f.clock.Advance(4 * time.Minute)
	assert.False(t, f.mgr.CheckTimeout(t.Context()))
	assert.Equal(t, StateUnlocked, f.mgr.CurrentState())
}

func TestCheckTimeout_AbsoluteExpiry(t *testing.T) {
	f := newFixture(t, WithTimeout(time.Hour))
	f.start(t)
	events, cancel := f.mgr.Subscribe(4)
	defer cancel()

	f.clock.Advance(30 * time.Minute)
	assert.True(t, f.mgr.CheckTimeout(t.Context()))
	assert.Equal(t, StateExpired, f.mgr.CurrentState())
	assert.Equal(t, 0, f.backend.Len())

	ev := <-events
	assert.Equal(t, ReasonExpired, ev.Reason)
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	priv, _ := f.start(t)

	require.NoError(t, f.mgr.EndSession(t.Context()))
	assert.Equal(t, StateExpired, f.mgr.CurrentState())
	assert.True(t, priv.Destroyed())
	assert.False(t, f.store.HasValidSession(t.Context()))
	assert.Equal(t, 0, f.backend.Len())

	assert.ErrorIs(t, f.mgr.EndSession(t.Context()), ErrNoSession)
}

func TestEndSession_FromLocked(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.clock.Advance(16 * time.Minute)
	require.True(t, f.mgr.CheckTimeout(t.Context()))

	require.NoError(t, f.mgr.EndSession(t.Context()))
	assert.Equal(t, StateExpired, f.mgr.CurrentState())
	assert.Equal(t, 0, f.backend.Len())
}

func TestEndSession_WithoutSession(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.mgr.EndSession(t.Context()), ErrNoSession)
}

func TestTryRestoreSession_EmptyStore(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.mgr.TryRestoreSession(t.Context()))
	assert.Equal(t, StateNone, f.mgr.CurrentState())
}

func TestTryRestoreSession_RestoresLocked(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	original, _ := f.mgr.CurrentSession()

	// A fresh manager over the same store, as after a restart.
	restarted := NewManager(f.store, WithClock(f.clock.Now))
	defer restarted.Close()
	events, cancel := restarted.Subscribe(1)
	defer cancel()

	require.True(t, restarted.TryRestoreSession(t.Context()))
	assert.Equal(t, StateLocked, restarted.CurrentState())

	view, ok := restarted.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, original.ID, view.ID)
	assert.Equal(t, original.ExpiresAt, view.ExpiresAt)
	assert.Empty(t, view.Username, "restore reads metadata only")
	assert.False(t, view.HasPrivateKey)

	ev := <-events
	assert.Equal(t, StateNone, ev.Previous)
	assert.Equal(t, StateLocked, ev.Current)
	assert.Equal(t, ReasonRestored, ev.Reason)

	assert.False(t, restarted.TryRestoreSession(t.Context()), "already live")
	assert.ErrorIs(t, restarted.Unlock(t.Context(), "passphrase"), ErrUnlockNotImplemented)
}

func TestTryRestoreSession_ExpiredRecord(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.clock.Advance(31 * time.Minute)

	restarted := NewManager(f.store, WithClock(f.clock.Now))
	defer restarted.Close()
	assert.False(t, restarted.TryRestoreSession(t.Context()))
	assert.Equal(t, StateNone, restarted.CurrentState())
	assert.Equal(t, 0, f.backend.Len())
}

func TestExtendSession_RemainingTime(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	require.NoError(t, f.mgr.ExtendSession(t.Context()))
	assert.Equal(t, StateUnlocked, f.mgr.CurrentState())

	remaining := f.mgr.RemainingTime(t.Context())
	assert.InDelta(t, float64(60*time.Minute), float64(remaining), float64(time.Second))

	view, _ := f.mgr.CurrentSession()
	assert.Equal(t, f.clock.Now().Add(60*time.Minute), view.ExpiresAt)
}

func TestExtendSession_LockedSessionStaysLocked(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.clock.Advance(16 * time.Minute)
	require.True(t, f.mgr.CheckTimeout(t.Context()))

	require.NoError(t, f.mgr.ExtendSession(t.Context(), 10))
	assert.Equal(t, StateLocked, f.mgr.CurrentState())
	assert.Equal(t, 24*time.Minute, f.mgr.RemainingTime(t.Context()))
}

// countingBackend counts reads that reach storage.
type countingBackend struct {
	*memory.Backend
	gets atomic.Int32
}

func (b *countingBackend) Get(ctx context.Context, key string) (string, error) {
	b.gets.Add(1)
	return b.Backend.Get(ctx, key)
}

func TestRemainingTime_ServedFromSnapshot(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	backend := &countingBackend{Backend: memory.NewBackend()}
	provider, err := crypto.NewProvider()
	require.NoError(t, err)
	store, err := persistence.New(backend, provider, persistence.DefaultConfig(), persistence.WithClock(clock.Now))
	require.NoError(t, err)
	mgr := NewManager(store, WithClock(clock.Now))
	defer mgr.Close()
	ctx := t.Context()

	assert.Equal(t, time.Duration(0), mgr.RemainingTime(ctx))

	enc := testHandle(t, 2)
	defer enc.Destroy()
	_, err = mgr.StartSession(ctx, "alice", testKeyPair(), testHandle(t, 1), enc)
	require.NoError(t, err)

	backend.gets.Store(0)
	clock.Advance(10 * time.Minute)
	assert.Equal(t, 20*time.Minute, mgr.RemainingTime(ctx))
	assert.Equal(t, int32(0), backend.gets.Load())
}

func TestRemainingTime_DoesNotClearStorage(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	// Past the absolute expiry but before any timeout check has run.
	f.clock.Advance(31 * time.Minute)
	assert.Equal(t, time.Duration(0), f.mgr.RemainingTime(t.Context()))
	assert.Equal(t, 2, f.backend.Len(), "a read must not remove entries")

	// A session started next must be the one left in storage.
	priv := testHandle(t, 0xD4)
	enc := testHandle(t, 0xE5)
	defer enc.Destroy()
	durable, err := f.mgr.StartSession(t.Context(), "bob", testKeyPair(), priv, enc)
	require.NoError(t, err)
	assert.True(t, durable)
	view, _ := f.mgr.CurrentSession()
	esd, ok := f.store.PersistedSession(t.Context())
	require.True(t, ok)
	assert.Equal(t, view.ID, esd.Metadata.SessionID)
}

func TestExtendSession_RejectsNonPositive(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.mgr.ExtendSession(t.Context(), 0), ErrInvalidArgument)
}

func TestTouch_States(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.mgr.Touch(t.Context()), ErrNoSession)

	f.start(t)
	require.NoError(t, f.mgr.Touch(t.Context()))

	f.clock.Advance(16 * time.Minute)
	require.True(t, f.mgr.CheckTimeout(t.Context()))
	assert.ErrorIs(t, f.mgr.Touch(t.Context()), ErrLocked)
}

func TestWithPrivateKey(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.mgr.WithPrivateKey(func([]byte) error { return nil }), ErrNoSession)

	f.start(t)
	var got []byte
	require.NoError(t, f.mgr.WithPrivateKey(func(k []byte) error {
		got = append([]byte(nil), k...)
		return nil
	}))
	assert.Equal(t, bytes.Repeat([]byte{0xA1}, 32), got)

	sentinel := errors.New("sign failed")
	assert.ErrorIs(t, f.mgr.WithPrivateKey(func([]byte) error { return sentinel }), sentinel)
}

func TestCurrentSession_ReturnsCopy(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	view, _ := f.mgr.CurrentSession()
	view.PublicKey[0] ^= 0xFF
	again, _ := f.mgr.CurrentSession()
	assert.Equal(t, testKeyPair().PublicKey, again.PublicKey)
}

func TestOnChange_ReceivesEveryTransition(t *testing.T) {
	f := newFixture(t)
	var reasons []string
	f.mgr.OnChange(func(ev Event) { reasons = append(reasons, ev.Reason) })

	f.start(t)
	f.clock.Advance(16 * time.Minute)
	f.mgr.CheckTimeout(t.Context())
	require.NoError(t, f.mgr.EndSession(t.Context()))

	assert.Equal(t, []string{ReasonStarted, ReasonTimeout, ReasonEnded}, reasons)
}

func TestSubscribe_SlowSubscriberDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	events, cancel := f.mgr.Subscribe(1)

	f.start(t)
	f.start(t)
	require.NoError(t, f.mgr.EndSession(t.Context()))

	ev := <-events
	assert.Equal(t, ReasonStarted, ev.Reason)
	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
}

// gatedStore blocks Persist until release is closed.
type gatedStore struct {
	*persistence.Service
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Persist(ctx context.Context, data *persistence.SessionData, k []byte, minutes int) (bool, error) {
	close(g.entered)
	<-g.release
	return g.Service.Persist(ctx, data, k, minutes)
}

func TestMutationsAreSerialized(t *testing.T) {
	f := newFixture(t)
	gs := &gatedStore{Service: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	mgr := NewManager(gs, WithClock(f.clock.Now))
	defer mgr.Close()

	enc := testHandle(t, 2)
	defer enc.Destroy()
	priv := testHandle(t, 1)
	done := make(chan error, 1)
	go func() {
		_, err := mgr.StartSession(context.Background(), "alice", testKeyPair(), priv, enc)
		done <- err
	}()
	<-gs.entered

	// Reads are served from the committed snapshot while the write is in flight.
	assert.Equal(t, StateNone, mgr.CurrentState())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := mgr.EndSession(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, mgr.CheckTimeout(ctx))

	close(gs.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateUnlocked, mgr.CurrentState())
}

func TestClose_LocksAndDestroysKey(t *testing.T) {
	f := newFixture(t)
	priv, _ := f.start(t)
	events, _ := f.mgr.Subscribe(2)

	f.mgr.Close()
	assert.True(t, priv.Destroyed())
	assert.Equal(t, StateLocked, f.mgr.CurrentState())
	assert.True(t, f.store.HasValidSession(t.Context()))

	ev := <-events
	assert.Equal(t, ReasonClosed, ev.Reason)
	_, open := <-events
	assert.False(t, open)
}

func TestState_TextRoundTrip(t *testing.T) {
	for _, s := range []State{StateNone, StateUnlocked, StateLocked, StateExpired} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var got State
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}
	var s State
	assert.ErrorIs(t, s.UnmarshalText([]byte("bogus")), ErrInvalidArgument)
}
