package driver

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionvault/config"
	"github.com/jmcleod/sessionvault/storage"
)

func TestOpen_Transient(t *testing.T) {
	cfg := config.Default()
	cfg.Session.UseTransientStorage = true

	o, err := Open(t.Context(), cfg.Session, cfg.Storage)
	require.NoError(t, err)
	defer o.Close()
	assert.Equal(t, storage.ScopeTransient, o.Scope)
	assert.Equal(t, "memory", o.Driver)
}

func TestOpen_Bbolt(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "nested", "sessions.db")

	o, err := Open(t.Context(), cfg.Session, cfg.Storage)
	require.NoError(t, err)
	assert.Equal(t, storage.ScopePersistent, o.Scope)

	ctx := t.Context()
	require.NoError(t, o.Backend.Set(ctx, "k", "v"))
	require.NoError(t, o.Close())

	reopened, err := Open(ctx, cfg.Session, cfg.Storage)
	require.NoError(t, err)
	defer reopened.Close()
	v, err := reopened.Backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "sqlite"
	_, err := Open(t.Context(), cfg.Session, cfg.Storage)
	assert.Error(t, err)
}
