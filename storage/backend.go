// Package storage defines the narrow key/value contract the session
// subsystem persists through. Backends give no transactional guarantees
// across keys; callers order their writes accordingly.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Remove when the key does not exist.
var ErrNotFound = errors.New("not found")

// Backend is a string key/value store.
type Backend interface {
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Remove deletes key, or returns ErrNotFound if it is absent.
	Remove(ctx context.Context, key string) error
}

// Scope describes how long stored entries survive.
type Scope int

const (
	// ScopePersistent entries survive process restarts until cleared.
	ScopePersistent Scope = iota
	// ScopeTransient entries live only as long as the current process.
	ScopeTransient
)

func (s Scope) String() string {
	switch s {
	case ScopePersistent:
		return "persistent"
	case ScopeTransient:
		return "transient"
	default:
		return "unknown"
	}
}
