// Package identity manages the on-disk identity a session is started from:
// a username, an X25519 key pair whose private half is encrypted under a
// passphrase-derived key, and the KDF settings needed to derive it again.
package identity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"

	"github.com/jmcleod/sessionvault/crypto"
	icrypto "github.com/jmcleod/sessionvault/internal/crypto"
	"github.com/jmcleod/sessionvault/internal/util"
	"github.com/jmcleod/sessionvault/key"
	"github.com/jmcleod/sessionvault/session"
)

const (
	fileVersion = 1
	kdfSaltLen  = 16
)

var (
	// ErrBadPassphrase is returned when the passphrase does not open the identity.
	ErrBadPassphrase = errors.New("incorrect passphrase")
	// ErrInvalidIdentity is returned for malformed or unsupported identity files.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// Identity is the at-rest identity record. It holds no plaintext secrets.
type Identity struct {
	Version    int                 `json:"version"`
	Username   string              `json:"username"`
	PublicKey  []byte              `json:"public_key"`
	WrappedKey []byte              `json:"wrapped_key"`
	KDFSalt    []byte              `json:"kdf_salt"`
	KDFParams  util.Argon2idParams `json:"kdf_params"`
}

type options struct {
	params util.Argon2idParams
}

// Option customizes identity creation.
type Option func(*options)

// WithKDFParams sets the Argon2id parameters used to protect the identity.
func WithKDFParams(p util.Argon2idParams) Option {
	return func(o *options) { o.params = p }
}

// Create generates a new key pair for username and encrypts its private half
// under passphrase.
func Create(username, passphrase string, opts ...Option) (*Identity, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username must not be empty", ErrInvalidIdentity)
	}
	if passphrase == "" {
		return nil, fmt.Errorf("%w: passphrase must not be empty", ErrInvalidIdentity)
	}
	o := options{params: util.DefaultArgon2idParams()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := util.ValidateArgon2idParams(o.params); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}

	salt, err := util.RandomBytes(kdfSaltLen)
	if err != nil {
		return nil, fmt.Errorf("generating kdf salt: %w", err)
	}
	kp, err := util.GenerateX25519Keypair()
	if err != nil {
		return nil, err
	}
	defer util.Wipe(kp.Private[:])

	id := &Identity{
		Version:   fileVersion,
		Username:  username,
		PublicKey: util.Clone(kp.Public[:]),
		KDFSalt:   salt,
		KDFParams: o.params,
	}

	wrapKey, sessionKey, err := id.deriveKeys(passphrase)
	if err != nil {
		return nil, err
	}
	defer util.Wipe(wrapKey)
	util.Wipe(sessionKey)

	id.WrappedKey, err = util.EncryptAESWithAAD(kp.Private[:], wrapKey, id.aad())
	if err != nil {
		return nil, fmt.Errorf("wrapping private key: %w", err)
	}
	return id, nil
}

func (id *Identity) aad() []byte {
	return icrypto.AADIdentityKey(id.Username, id.PublicKey, id.Version)
}

func (id *Identity) deriveKeys(passphrase string) (wrapKey, sessionKey []byte, err error) {
	provider, err := crypto.NewProvider(crypto.WithKDFParams(id.KDFParams))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}
	master, err := provider.DeriveKey(passphrase, id.KDFSalt)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving master key: %w", err)
	}
	defer master.Destroy()
	err = master.Use(func(m []byte) error {
		var derr error
		wrapKey, sessionKey, derr = icrypto.DeriveIdentityKeys(m)
		return derr
	})
	if err != nil {
		return nil, nil, err
	}
	return wrapKey, sessionKey, nil
}

// Unlock derives the identity keys from passphrase. It returns the private
// key and the key that protects persisted sessions, both owned by the caller.
func (id *Identity) Unlock(passphrase string) (privateKey, sessionKey *key.Handle, err error) {
	if err := id.Validate(); err != nil {
		return nil, nil, err
	}
	wrapKey, rawSession, err := id.deriveKeys(passphrase)
	if err != nil {
		return nil, nil, err
	}
	defer util.Wipe(wrapKey)

	priv, err := util.DecryptAESWithAAD(id.WrappedKey, wrapKey, id.aad())
	if err != nil {
		util.Wipe(rawSession)
		return nil, nil, ErrBadPassphrase
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil || !bytes.Equal(pub, id.PublicKey) {
		util.Wipe(priv)
		util.Wipe(rawSession)
		return nil, nil, fmt.Errorf("%w: private key does not match public key", ErrInvalidIdentity)
	}

	privateKey, err = key.NewHandle(priv)
	if err != nil {
		util.Wipe(rawSession)
		return nil, nil, err
	}
	sessionKey, err = key.NewHandle(rawSession)
	if err != nil {
		privateKey.Destroy()
		return nil, nil, err
	}
	return privateKey, sessionKey, nil
}

// SessionKey derives only the key that protects persisted sessions.
func (id *Identity) SessionKey(passphrase string) (*key.Handle, error) {
	priv, sk, err := id.Unlock(passphrase)
	if err != nil {
		return nil, err
	}
	priv.Destroy()
	return sk, nil
}

// KeyPair returns the key material StartSession needs.
func (id *Identity) KeyPair() session.KeyPair {
	return session.KeyPair{
		PublicKey:           util.Clone(id.PublicKey),
		EncryptedPrivateKey: util.Clone(id.WrappedKey),
	}
}

// Validate checks that the record is structurally usable.
func (id *Identity) Validate() error {
	switch {
	case id == nil:
		return fmt.Errorf("%w: nil identity", ErrInvalidIdentity)
	case id.Version != fileVersion:
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidIdentity, id.Version)
	case id.Username == "":
		return fmt.Errorf("%w: missing username", ErrInvalidIdentity)
	case len(id.PublicKey) != curve25519.PointSize:
		return fmt.Errorf("%w: public key must be %d bytes", ErrInvalidIdentity, curve25519.PointSize)
	case len(id.WrappedKey) == 0:
		return fmt.Errorf("%w: missing wrapped key", ErrInvalidIdentity)
	case len(id.KDFSalt) < kdfSaltLen:
		return fmt.Errorf("%w: kdf salt too short", ErrInvalidIdentity)
	}
	if err := util.ValidateArgon2idParams(id.KDFParams); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}
	return nil
}

// Save writes the identity to path with owner-only permissions.
func (id *Identity) Save(path string) error {
	if err := id.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating identity directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".identity-*")
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting identity permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing identity: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}
	return nil
}

// Load reads and validates an identity file.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return &id, nil
}
