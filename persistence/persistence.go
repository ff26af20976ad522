// Package persistence implements the session persistence service: it
// encrypts a session's authenticatable state and stores it in a key/value
// backend as two entries, an encrypted payload and a plaintext metadata
// record that answers "is there a live session" without any key material.
//
// Read paths never return storage errors. Expired, corrupt or tampered
// records are removed and reported as absent.
package persistence

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/sessionvault/crypto"
	icrypto "github.com/jmcleod/sessionvault/internal/crypto"
	"github.com/jmcleod/sessionvault/internal/util"
	"github.com/jmcleod/sessionvault/storage"
)

// Default configuration values.
const (
	DefaultMaxExpiryMinutes = 240
	DefaultExpiryMinutes    = 30
	DefaultDataKey          = "session-data"
	DefaultMetadataKey      = "session-metadata"
)

// Config controls expiry policy, entry names and the salt/IV sizes the
// crypto provider must produce.
type Config struct {
	MaxExpiryMinutes     int
	DefaultExpiryMinutes int
	SaltSize             int
	IVSize               int
	DataKey              string
	MetadataKey          string
}

// DefaultConfig returns the default persistence configuration.
func DefaultConfig() Config {
	return Config{
		MaxExpiryMinutes:     DefaultMaxExpiryMinutes,
		DefaultExpiryMinutes: DefaultExpiryMinutes,
		SaltSize:             crypto.DefaultSaltSize,
		IVSize:               crypto.DefaultIVSize,
		DataKey:              DefaultDataKey,
		MetadataKey:          DefaultMetadataKey,
	}
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service persists, restores, extends and clears the encrypted session.
type Service struct {
	backend  storage.Backend
	provider crypto.Provider
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Service. It fails when the configuration is unusable or the
// provider's salt/IV sizes disagree with the configured ones.
func New(backend storage.Backend, provider crypto.Provider, cfg Config, opts ...Option) (*Service, error) {
	if backend == nil || provider == nil {
		return nil, fmt.Errorf("%w: backend and provider are required", ErrInvalidArgument)
	}
	if cfg.MaxExpiryMinutes < 1 {
		return nil, fmt.Errorf("%w: max expiry must be at least 1 minute", ErrInvalidArgument)
	}
	if cfg.DefaultExpiryMinutes < 1 || cfg.DefaultExpiryMinutes > cfg.MaxExpiryMinutes {
		return nil, fmt.Errorf("%w: default expiry must be between 1 and %d minutes", ErrInvalidArgument, cfg.MaxExpiryMinutes)
	}
	if cfg.DataKey == "" || cfg.MetadataKey == "" || cfg.DataKey == cfg.MetadataKey {
		return nil, fmt.Errorf("%w: data and metadata keys must be distinct and non-empty", ErrInvalidArgument)
	}
	if provider.SaltSize() != cfg.SaltSize || provider.IVSize() != cfg.IVSize {
		return nil, fmt.Errorf("%w: provider generates %d-byte salts and %d-byte IVs, configured %d and %d",
			ErrContractViolation, provider.SaltSize(), provider.IVSize(), cfg.SaltSize, cfg.IVSize)
	}

	s := &Service{
		backend:  backend,
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "persistence")
	return s, nil
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// ClampExpiry resolves a requested expiry in minutes: non-positive values
// select the default and values above the maximum are capped.
func (s *Service) ClampExpiry(requestedMinutes int) int {
	if requestedMinutes <= 0 {
		return s.cfg.DefaultExpiryMinutes
	}
	if requestedMinutes > s.cfg.MaxExpiryMinutes {
		s.logger.Debug("requested expiry capped",
			slog.Int("requested_minutes", requestedMinutes),
			slog.Int("max_minutes", s.cfg.MaxExpiryMinutes))
		return s.cfg.MaxExpiryMinutes
	}
	return requestedMinutes
}

// Persist encrypts data under encryptionKey and writes both storage entries.
// Fresh salt and IV are generated and written into data, along with the
// computed ExpiresAt.
//
// A non-nil error is only returned for caller or collaborator contract
// violations. Any storage, serialization or encryption failure yields
// (false, nil): the session is not durable and the caller should carry on
// in memory.
func (s *Service) Persist(ctx context.Context, data *SessionData, encryptionKey []byte, requestedExpiryMinutes int) (bool, error) {
	if data == nil || data.SessionID == "" {
		return false, fmt.Errorf("%w: session data with a session id is required", ErrInvalidArgument)
	}
	if len(encryptionKey) == 0 {
		return false, fmt.Errorf("%w: encryption key must not be empty", ErrInvalidArgument)
	}

	salt, err := s.provider.GenerateSalt()
	if err != nil {
		s.logger.Warn("generating salt failed", "error", err)
		return false, nil
	}
	iv, err := s.provider.GenerateIV()
	if err != nil {
		s.logger.Warn("generating iv failed", "error", err)
		return false, nil
	}
	if len(salt) != s.cfg.SaltSize || len(iv) != s.cfg.IVSize {
		return false, fmt.Errorf("%w: provider generated %d-byte salt and %d-byte iv, want %d and %d",
			ErrContractViolation, len(salt), len(iv), s.cfg.SaltSize, s.cfg.IVSize)
	}

	now := s.now().UTC()
	minutes := s.ClampExpiry(requestedExpiryMinutes)

	data.Salt = salt
	data.IV = iv
	data.ExpiresAt = now.Add(time.Duration(minutes) * time.Minute)
	if data.CreatedAt.IsZero() || data.CreatedAt.After(now) {
		data.CreatedAt = now
	}
	if data.LastActivityAt.IsZero() {
		data.LastActivityAt = now
	}
	if data.State == "" {
		data.State = "unlocked"
	}
	if data.Version == 0 {
		data.Version = CurrentSchemaVersion
	}

	entry, err := s.seal(data, encryptionKey)
	if err != nil {
		s.logger.Warn("sealing session payload failed", "error", err)
		return false, nil
	}
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("encoding session payload failed", "error", err)
		return false, nil
	}
	meta := Metadata{
		SessionID: data.SessionID,
		ExpiresAt: data.ExpiresAt,
		Version:   data.Version,
		CreatedAt: data.CreatedAt.UTC(),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		s.logger.Warn("encoding session metadata failed", "error", err)
		return false, nil
	}

	// Retire the old metadata, write the payload, then publish the new
	// metadata, so a reader never pairs metadata with the wrong payload.
	if err := s.backend.Remove(ctx, s.cfg.MetadataKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("removing previous session metadata failed", "error", err)
		return false, nil
	}
	if err := s.backend.Set(ctx, s.cfg.DataKey, string(entryJSON)); err != nil {
		s.logger.Warn("writing session payload failed", "error", err)
		return false, nil
	}
	if err := s.backend.Set(ctx, s.cfg.MetadataKey, string(metaJSON)); err != nil {
		s.logger.Warn("writing session metadata failed", "error", err)
		s.removeBoth(ctx)
		return false, nil
	}

	s.logger.Debug("session persisted",
		slog.String("session_id", data.SessionID),
		slog.Time("expires_at", data.ExpiresAt),
		slog.Int("expiry_minutes", minutes))
	return true, nil
}

// seal serializes and encrypts data. The wire payload is salt || iv || ciphertext.
func (s *Service) seal(data *SessionData, encryptionKey []byte) (*dataEntry, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling session data: %w", err)
	}
	defer util.Wipe(plaintext)

	payloadKey, err := icrypto.DerivePayloadKey(encryptionKey, data.Salt)
	if err != nil {
		return nil, err
	}
	defer util.Wipe(payloadKey)

	aad := icrypto.AADSessionPayload(data.SessionID, data.Version)
	ciphertext, err := s.provider.Encrypt(plaintext, payloadKey, data.IV, aad)
	if err != nil {
		return nil, fmt.Errorf("encrypting session data: %w", err)
	}

	wire := make([]byte, 0, len(data.Salt)+len(data.IV)+len(ciphertext))
	wire = append(wire, data.Salt...)
	wire = append(wire, data.IV...)
	wire = append(wire, ciphertext...)

	return &dataEntry{
		EncryptedPayload: util.EncodeBase64(wire),
		IntegrityCheck:   util.EncodeBase64(s.provider.ComputeIntegrity(wire)),
	}, nil
}

// PersistedSession returns the stored, still-encrypted session. The metadata
// entry is read first; when it is missing nothing else is read. Expired,
// unparseable or tampered records are cleared and reported as absent.
func (s *Service) PersistedSession(ctx context.Context) (*EncryptedSessionData, bool) {
	raw, err := s.backend.Get(ctx, s.cfg.MetadataKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("reading session metadata failed", "error", err)
		}
		return nil, false
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil || meta.SessionID == "" {
		s.logger.Warn("discarding unparseable session metadata")
		s.Clear(ctx)
		return nil, false
	}
	if !meta.ExpiresAt.After(s.now()) {
		s.logger.Info("persisted session expired", slog.String("session_id", meta.SessionID))
		s.Clear(ctx)
		return nil, false
	}

	rawData, err := s.backend.Get(ctx, s.cfg.DataKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("discarding session metadata without payload", slog.String("session_id", meta.SessionID))
			s.Clear(ctx)
		} else {
			s.logger.Warn("reading session payload failed", "error", err)
		}
		return nil, false
	}

	var entry dataEntry
	if err := json.Unmarshal([]byte(rawData), &entry); err != nil || entry.EncryptedPayload == "" {
		s.logger.Warn("discarding unparseable session payload", slog.String("session_id", meta.SessionID))
		s.Clear(ctx)
		return nil, false
	}

	esd := &EncryptedSessionData{
		EncryptedPayload: entry.EncryptedPayload,
		IntegrityCheck:   entry.IntegrityCheck,
		Metadata:         meta,
	}
	if _, err := s.verify(esd); err != nil {
		s.logger.Warn("discarding tampered session payload", slog.String("session_id", meta.SessionID), "error", err)
		s.Clear(ctx)
		return nil, false
	}
	return esd, true
}

// verify checks the integrity tag and returns the decoded wire payload.
func (s *Service) verify(data *EncryptedSessionData) ([]byte, error) {
	wire, err := util.DecodeBase64(data.EncryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64", ErrIntegrity)
	}
	tag, err := util.DecodeBase64(data.IntegrityCheck)
	if err != nil {
		return nil, fmt.Errorf("%w: integrity tag is not base64", ErrIntegrity)
	}
	if subtle.ConstantTimeCompare(tag, s.provider.ComputeIntegrity(wire)) != 1 {
		return nil, fmt.Errorf("%w: tag mismatch", ErrIntegrity)
	}
	if len(wire) <= s.cfg.SaltSize+s.cfg.IVSize {
		return nil, fmt.Errorf("%w: payload too short", ErrIntegrity)
	}
	return wire, nil
}

// Decrypt authenticates and decrypts a record returned by PersistedSession.
// The returned record's ExpiresAt reflects the metadata, which is
// authoritative after extensions.
func (s *Service) Decrypt(ctx context.Context, data *EncryptedSessionData, decryptionKey []byte) (*SessionData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: encrypted session data is required", ErrInvalidArgument)
	}
	if len(decryptionKey) == 0 {
		return nil, fmt.Errorf("%w: decryption key must not be empty", ErrInvalidArgument)
	}

	wire, err := s.verify(data)
	if err != nil {
		return nil, err
	}
	salt := wire[:s.cfg.SaltSize]
	iv := wire[s.cfg.SaltSize : s.cfg.SaltSize+s.cfg.IVSize]
	ciphertext := wire[s.cfg.SaltSize+s.cfg.IVSize:]

	payloadKey, err := icrypto.DerivePayloadKey(decryptionKey, salt)
	if err != nil {
		return nil, err
	}
	defer util.Wipe(payloadKey)

	aad := icrypto.AADSessionPayload(data.Metadata.SessionID, data.Metadata.Version)
	plaintext, err := s.provider.Decrypt(ciphertext, payloadKey, iv, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	defer util.Wipe(plaintext)

	var out SessionData
	if err := json.Unmarshal(plaintext, &out); err != nil {
		return nil, fmt.Errorf("%w: decrypted payload is not a session record", ErrIntegrity)
	}
	if out.SessionID != data.Metadata.SessionID {
		return nil, fmt.Errorf("%w: payload belongs to a different session", ErrIntegrity)
	}
	out.ExpiresAt = data.Metadata.ExpiresAt
	return &out, nil
}

// Clear removes both entries. It never fails; errors are logged.
func (s *Service) Clear(ctx context.Context) {
	s.removeBoth(ctx)
}

func (s *Service) removeBoth(ctx context.Context) {
	// Metadata first: liveness turns false before the payload disappears.
	for _, k := range []string{s.cfg.MetadataKey, s.cfg.DataKey} {
		if err := s.backend.Remove(ctx, k); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("removing session entry failed", slog.String("key", k), "error", err)
		}
	}
}

// HasValidSession reports whether PersistedSession would return a record.
func (s *Service) HasValidSession(ctx context.Context) bool {
	_, ok := s.PersistedSession(ctx)
	return ok
}

// ExtendExpiry pushes the persisted expiry out by additionalMinutes, capped
// so the total lifetime from creation never exceeds the configured maximum.
// Only the metadata entry is rewritten, so no key is needed and a locked
// session can be extended. Without a persisted session it does nothing.
func (s *Service) ExtendExpiry(ctx context.Context, additionalMinutes int) {
	if additionalMinutes <= 0 {
		return
	}
	esd, ok := s.PersistedSession(ctx)
	if !ok {
		return
	}
	meta := esd.Metadata

	maxLifetime := time.Duration(s.cfg.MaxExpiryMinutes) * time.Minute
	limit := s.now().UTC().Add(maxLifetime)
	if !meta.CreatedAt.IsZero() {
		limit = meta.CreatedAt.Add(maxLifetime)
	}
	extended := meta.ExpiresAt.Add(time.Duration(additionalMinutes) * time.Minute)
	if extended.After(limit) {
		extended = limit
	}
	if !extended.After(meta.ExpiresAt) {
		s.logger.Debug("session already at expiry cap", slog.String("session_id", meta.SessionID))
		return
	}
	meta.ExpiresAt = extended

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		s.logger.Warn("encoding session metadata failed", "error", err)
		return
	}
	if err := s.backend.Set(ctx, s.cfg.MetadataKey, string(metaJSON)); err != nil {
		s.logger.Warn("writing extended session metadata failed", "error", err)
		return
	}
	s.logger.Debug("session expiry extended",
		slog.String("session_id", meta.SessionID),
		slog.Time("expires_at", meta.ExpiresAt))
}

// RemainingTime returns how long the persisted session has left, floored at
// zero. It is zero when nothing is persisted or the read fails.
func (s *Service) RemainingTime(ctx context.Context) time.Duration {
	esd, ok := s.PersistedSession(ctx)
	if !ok {
		return 0
	}
	if d := esd.Metadata.ExpiresAt.Sub(s.now()); d > 0 {
		return d
	}
	return 0
}
