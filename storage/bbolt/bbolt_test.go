package bbolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmcleod/sessionvault/storage"
	"go.etcd.io/bbolt"
)

func newTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions-test.db")
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBBoltBackend(t *testing.T) {
	ctx := context.Background()
	s := NewBackend(newTestDB(t))

	t.Run("GetBeforeAnyWrite", func(t *testing.T) {
		_, err := s.Get(ctx, "session-data")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SetGet", func(t *testing.T) {
		if err := s.Set(ctx, "session-data", `{"a":1}`); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := s.Get(ctx, "session-data")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != `{"a":1}` {
			t.Errorf("got %q", got)
		}
	})

	t.Run("Count", func(t *testing.T) {
		s.Set(ctx, "session-metadata", "{}")
		n, err := s.Count()
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 entries, got %d", n)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		if err := s.Remove(ctx, "session-data"); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if err := s.Remove(ctx, "session-data"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CustomBucketIsolated", func(t *testing.T) {
		other := NewBackend(s.db, WithBucket("other"))
		if _, err := other.Get(ctx, "session-metadata"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected isolation between buckets, got %v", err)
		}
	})
}

func TestBBoltBackend_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := NewBackendFromFile(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.Close()

	s2, err := NewBackendFromFile(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("expected persisted value, got %q err=%v", got, err)
	}
}
