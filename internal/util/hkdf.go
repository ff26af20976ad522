package util

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SubkeyLength is the size of every HKDF-derived key.
const SubkeyLength = 32

// DeriveSubkey expands secret into a SubkeyLength key bound to info. Distinct
// info labels give independent keys from the same secret.
func DeriveSubkey(secret, salt []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("hkdf: empty input key")
	}
	if info == "" {
		return nil, errors.New("hkdf: empty info label")
	}
	out := make([]byte, SubkeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}
