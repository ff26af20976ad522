// Package redis implements storage.Backend on top of a Redis server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"

	"github.com/jmcleod/sessionvault/storage"
)

// DefaultPrefix is prepended to every key unless overridden.
const DefaultPrefix = "sessionvault:"

const connectTimeout = 30 * time.Second

// Store implements storage.Backend using Redis strings.
type Store struct {
	client *redis.Client
	prefix string
}

var _ storage.Backend = (*Store)(nil)

// NewBackend wraps an existing client.
func NewBackend(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Dial connects to addr, retrying with exponential backoff until the server answers PING.
func Dial(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = connectTimeout
	if err := backoff.Retry(func() error { return client.Ping(ctx).Err() }, backoff.WithContext(bo, ctx)); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewBackend(client, prefix), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) k(key string) string {
	return s.prefix + key
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.k(key), value, 0).Err()
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.k(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, s.k(key)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return nil
}
