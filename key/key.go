// Package key provides an opaque handle for secret key material.
//
// A Handle keeps its bytes sealed in a memguard Enclave (encrypted in memory)
// and only exposes them inside a callback, in a locked buffer that is wiped
// as soon as the callback returns. Secrets never appear in fmt output or JSON.
package key

import (
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a destroyed handle is used.
var ErrDestroyed = errors.New("key handle destroyed")

// Handle is a zero-on-drop container for secret bytes.
type Handle struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
	size    int
}

// NewHandle seals b into a new handle. The source slice is wiped.
func NewHandle(b []byte) (*Handle, error) {
	if len(b) == 0 {
		return nil, errors.New("key material must not be empty")
	}
	size := len(b)
	return &Handle{enclave: memguard.NewEnclave(b), size: size}, nil
}

// Use opens the handle and calls fn with the plaintext key material. The
// slice is only valid for the duration of fn and must not be retained.
func (h *Handle) Use(fn func(secret []byte) error) error {
	if h == nil {
		return ErrDestroyed
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.enclave == nil {
		return ErrDestroyed
	}
	buf, err := h.enclave.Open()
	if err != nil {
		return fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Clone returns an independent handle sealing the same bytes.
func (h *Handle) Clone() (*Handle, error) {
	var clone *Handle
	err := h.Use(func(secret []byte) error {
		cp := make([]byte, len(secret))
		copy(cp, secret)
		var err error
		clone, err = NewHandle(cp)
		return err
	})
	return clone, err
}

// Len reports the size of the sealed material, or 0 once destroyed.
func (h *Handle) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.enclave == nil {
		return 0
	}
	return h.size
}

// Destroyed reports whether Destroy has been called.
func (h *Handle) Destroyed() bool {
	if h == nil {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.enclave == nil
}

// Destroy drops the sealed material. Safe to call more than once.
func (h *Handle) Destroy() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.enclave = nil
	h.size = 0
	h.mu.Unlock()
}

func (h *Handle) String() string {
	return "key.Handle([REDACTED])"
}

func (h *Handle) GoString() string {
	return h.String()
}

// MarshalJSON refuses to serialize key material.
func (h *Handle) MarshalJSON() ([]byte, error) {
	return nil, errors.New("key handles cannot be serialized")
}
