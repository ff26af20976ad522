package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jmcleod/sessionvault/config"
	"github.com/jmcleod/sessionvault/crypto"
	"github.com/jmcleod/sessionvault/persistence"
	"github.com/jmcleod/sessionvault/session"
	"github.com/jmcleod/sessionvault/storage/driver"
)

// PassphraseEnv is read when no --passphrase flag is given.
const PassphraseEnv = config.EnvPrefix + "_PASSPHRASE"

// runtime is everything a command needs to drive the session.
type runtime struct {
	store   *persistence.Service
	manager *session.Manager
	opened  *driver.Opened
}

func newRuntime(ctx context.Context, c *config.Config, logger *slog.Logger) (*runtime, error) {
	provider, err := crypto.NewProvider(crypto.WithSaltSize(c.Session.SaltSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("crypto provider: %w", err)
	}

	opened, err := driver.Open(ctx, c.Session, c.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", c.Storage.Driver, err)
	}

	store, err := persistence.New(opened.Backend, provider, persistence.Config{
		MaxExpiryMinutes:     c.Session.MaxExpiryMinutes,
		DefaultExpiryMinutes: c.Session.DefaultExpiryMinutes,
		SaltSize:             c.Session.SaltSizeBytes,
		IVSize:               c.Session.IVSizeBytes,
		DataKey:              c.Session.DataKey,
		MetadataKey:          c.Session.MetadataKey,
	}, persistence.WithLogger(logger))
	if err != nil {
		opened.Close()
		return nil, err
	}

	mgr := session.NewManager(store,
		session.WithTimeout(c.Session.IdleTimeout()),
		session.WithExpiryMinutes(c.Session.DefaultExpiryMinutes),
		session.WithExtendMinutes(c.Session.ExtendMinutes),
		session.WithLogger(logger),
	)
	logger.Debug("runtime ready", slog.String("driver", opened.Driver), slog.String("scope", opened.Scope.String()))
	return &runtime{store: store, manager: mgr, opened: opened}, nil
}

func (rt *runtime) Close() error {
	rt.manager.Close()
	return rt.opened.Close()
}

// readPassphrase prefers the flag value, then the environment, then one line
// of stdin.
func readPassphrase(flagValue string, in io.Reader) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv(PassphraseEnv); v != "" {
		return v, nil
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("passphrase is required")
	}
	return line, nil
}
