package util

import (
	"encoding/base64"
	"errors"

	"golang.org/x/text/unicode/norm"
)

// NormalizePassphrase applies NFKD, so composed and decomposed spellings of
// the same passphrase derive the same key.
func NormalizePassphrase(s string) string {
	return norm.NFKD.String(s)
}

// EncodeBase64 is the text form used for stored binary fields.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 reverses EncodeBase64. Empty input is rejected since no
// stored field is ever empty.
func DecodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("base64: empty input")
	}
	return base64.StdEncoding.DecodeString(s)
}
