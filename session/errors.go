package session

import "errors"

var (
	// ErrInvalidArgument is returned when a caller passes an unusable argument.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoSession is returned when an operation needs a live session and there is none.
	ErrNoSession = errors.New("no active session")
	// ErrLocked is returned when an operation needs the private key but the session is locked.
	ErrLocked = errors.New("session locked")
	// ErrBusy is returned when the context ends while waiting behind another mutation.
	ErrBusy = errors.New("session manager busy")
	// ErrUnlockNotImplemented marks the missing re-authentication path from Locked to Unlocked.
	ErrUnlockNotImplemented = errors.New("unlocking a restored session is not implemented")
)
