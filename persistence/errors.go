package persistence

import "errors"

var (
	// ErrInvalidArgument indicates a caller passed a nil record, an empty session id or an empty key.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrContractViolation indicates a collaborator broke its contract, such as a crypto
	// provider generating salts or IVs of the wrong size.
	ErrContractViolation = errors.New("contract violation")
	// ErrIntegrity indicates a persisted payload is malformed or fails its integrity check.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrDecrypt indicates the payload could not be authenticated under the supplied key.
	ErrDecrypt = errors.New("decryption failed")
)
