package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionvault/identity"
	"github.com/jmcleod/sessionvault/session"
)

var extendMinutes int

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Unlock the identity and start a persisted session",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identity.Load(cfg.Identity.Path)
		if err != nil {
			return err
		}
		passphrase, err := readPassphrase(passphraseFlag, cmd.InOrStdin())
		if err != nil {
			return err
		}
		priv, sessionKey, err := id.Unlock(passphrase)
		if err != nil {
			return err
		}
		defer sessionKey.Destroy()

		rt, err := newRuntime(cmd.Context(), cfg, logger)
		if err != nil {
			priv.Destroy()
			return err
		}
		defer rt.Close()

		durable, err := rt.manager.StartSession(cmd.Context(), id.Username, id.KeyPair(), priv, sessionKey)
		if err != nil {
			priv.Destroy()
			return err
		}
		if !durable {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: session could not be persisted and will not survive this process")
		}
		printStatus(cmd.Context(), cmd.OutOrStdout(), rt)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted session, if any",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		rt.manager.TryRestoreSession(cmd.Context())
		printStatus(cmd.Context(), cmd.OutOrStdout(), rt)
		return nil
	},
}

var extendCmd = &cobra.Command{
	Use:   "extend",
	Short: "Push out the persisted session's expiry",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		if !rt.manager.TryRestoreSession(cmd.Context()) {
			return session.ErrNoSession
		}
		var extra []int
		if extendMinutes > 0 {
			extra = append(extra, extendMinutes)
		}
		if err := rt.manager.ExtendSession(cmd.Context(), extra...); err != nil {
			return err
		}
		printStatus(cmd.Context(), cmd.OutOrStdout(), rt)
		return nil
	},
}

var endCmd = &cobra.Command{
	Use:   "end",
	Short: "End the session and remove its persisted data",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		rt.manager.TryRestoreSession(cmd.Context())
		if err := rt.manager.EndSession(cmd.Context()); err != nil {
			if errors.Is(err, session.ErrNoSession) {
				// Nothing live, but make sure nothing stale is left behind.
				rt.store.Clear(cmd.Context())
				fmt.Fprintln(cmd.OutOrStdout(), "No session")
				return nil
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Session ended")
		return nil
	},
}

func printStatus(ctx context.Context, w io.Writer, rt *runtime) {
	view, ok := rt.manager.CurrentSession()
	if !ok {
		fmt.Fprintf(w, "State:     %s\n", rt.manager.CurrentState())
		return
	}
	fmt.Fprintf(w, "Session:   %s\n", view.ID)
	if view.Username != "" {
		fmt.Fprintf(w, "Username:  %s\n", view.Username)
	}
	fmt.Fprintf(w, "State:     %s\n", view.State)
	fmt.Fprintf(w, "Expires:   %s\n", view.ExpiresAt.Local().Format(time.RFC1123))
	fmt.Fprintf(w, "Remaining: %s\n", rt.manager.RemainingTime(ctx).Round(time.Second))
}

func init() {
	rootCmd.AddCommand(startCmd, statusCmd, extendCmd, endCmd)
	startCmd.Flags().StringVar(&passphraseFlag, "passphrase", "", "Identity passphrase (default $"+PassphraseEnv+" or stdin)")
	extendCmd.Flags().IntVarP(&extendMinutes, "minutes", "m", 0, "Minutes to add (default session.extend_minutes)")
}
