package util

import "golang.org/x/crypto/blake2b"

// Digest256 returns the unkeyed BLAKE2b-256 digest of data.
func Digest256(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}
