// Package crypto defines the cryptographic capabilities the session
// subsystem consumes and ships a default implementation built on
// Argon2id, AES-256-GCM, HKDF-SHA256 and BLAKE2b.
package crypto

import (
	"fmt"

	"github.com/jmcleod/sessionvault/internal/util"
	"github.com/jmcleod/sessionvault/key"
)

// Argon2idParams configures Argon2id key derivation.
type Argon2idParams = util.Argon2idParams

// KeyPair holds an X25519 public/private key pair.
type KeyPair = util.KeyPair

// Named KDF profiles for different deployment scenarios.
const (
	KDFProfileInteractive = util.KDFProfileInteractive // sub-second, dev/testing
	KDFProfileModerate    = util.KDFProfileModerate    // production default
	KDFProfileSensitive   = util.KDFProfileSensitive
)

// Default sizes used by NewProvider.
const (
	DefaultSaltSize = 16
	DefaultIVSize   = util.GCMIVSize
	KeySize         = util.AESKeySize
)

// Provider is the crypto capability consumed by the persistence layer.
// Keys passed to Encrypt and Decrypt are raw 32-byte symmetric keys; callers
// holding a *key.Handle open it with Handle.Use for the duration of the call.
type Provider interface {
	DeriveKey(passphrase string, salt []byte) (*key.Handle, error)
	Encrypt(plaintext, key, iv, aad []byte) ([]byte, error)
	Decrypt(ciphertext, key, iv, aad []byte) ([]byte, error)
	ComputeIntegrity(data []byte) []byte
	GenerateSalt() ([]byte, error)
	GenerateIV() ([]byte, error)
	SaltSize() int
	IVSize() int
}

// ProviderOption configures the default provider.
type ProviderOption func(*provider)

// WithKDFParams sets the Argon2id parameters used by DeriveKey.
func WithKDFParams(params Argon2idParams) ProviderOption {
	return func(p *provider) {
		p.params = params
	}
}

// WithSaltSize sets the salt length produced by GenerateSalt.
func WithSaltSize(n int) ProviderOption {
	return func(p *provider) {
		p.saltSize = n
	}
}

type provider struct {
	params   Argon2idParams
	saltSize int
}

var _ Provider = (*provider)(nil)

// NewProvider returns the default Provider.
func NewProvider(opts ...ProviderOption) (Provider, error) {
	p := &provider{
		params:   util.DefaultArgon2idParams(),
		saltSize: DefaultSaltSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := util.ValidateArgon2idParams(p.params); err != nil {
		return nil, err
	}
	if p.saltSize < DefaultSaltSize {
		return nil, fmt.Errorf("salt size must be at least %d bytes, got %d", DefaultSaltSize, p.saltSize)
	}
	return p, nil
}

func (p *provider) DeriveKey(passphrase string, salt []byte) (*key.Handle, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase must not be empty")
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("salt must not be empty")
	}
	k, err := util.DeriveArgon2idKey(util.NormalizePassphrase(passphrase), salt, p.params)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key.NewHandle(k)
}

func (p *provider) Encrypt(plaintext, k, iv, aad []byte) ([]byte, error) {
	return util.EncryptAESWithIV(plaintext, k, iv, aad)
}

func (p *provider) Decrypt(ciphertext, k, iv, aad []byte) ([]byte, error) {
	return util.DecryptAESWithIV(ciphertext, k, iv, aad)
}

func (p *provider) ComputeIntegrity(data []byte) []byte {
	return util.Digest256(data)
}

func (p *provider) GenerateSalt() ([]byte, error) {
	return util.RandomBytes(p.saltSize)
}

func (p *provider) GenerateIV() ([]byte, error) {
	return util.RandomBytes(DefaultIVSize)
}

func (p *provider) SaltSize() int { return p.saltSize }

func (p *provider) IVSize() int { return DefaultIVSize }

// DefaultArgon2idParams returns the default Argon2id parameters (moderate profile).
func DefaultArgon2idParams() Argon2idParams {
	return util.DefaultArgon2idParams()
}

// Argon2idProfile returns the Argon2idParams for a named profile.
func Argon2idProfile(name string) (Argon2idParams, error) {
	return util.Argon2idProfile(name)
}

// GenerateX25519Keypair generates a new X25519 identity key pair.
func GenerateX25519Keypair() (KeyPair, error) {
	return util.GenerateX25519Keypair()
}
