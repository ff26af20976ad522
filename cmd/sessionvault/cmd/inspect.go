package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionvault/identity"
	"github.com/jmcleod/sessionvault/persistence"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Decrypt the persisted session and print its non-secret fields",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identity.Load(cfg.Identity.Path)
		if err != nil {
			return err
		}
		passphrase, err := readPassphrase(passphraseFlag, cmd.InOrStdin())
		if err != nil {
			return err
		}
		sessionKey, err := id.SessionKey(passphrase)
		if err != nil {
			return err
		}
		defer sessionKey.Destroy()

		rt, err := newRuntime(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		esd, ok := rt.store.PersistedSession(cmd.Context())
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "No persisted session")
			return nil
		}
		var data *persistence.SessionData
		if err := sessionKey.Use(func(k []byte) error {
			var derr error
			data, derr = rt.store.Decrypt(cmd.Context(), esd, k)
			return derr
		}); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Session:       %s\n", data.SessionID)
		fmt.Fprintf(out, "Username:      %s\n", data.Username)
		fmt.Fprintf(out, "Public key:    %x\n", data.PublicKey)
		fmt.Fprintf(out, "State:         %s\n", data.State)
		fmt.Fprintf(out, "Created:       %s\n", data.CreatedAt.Local().Format(time.RFC1123))
		fmt.Fprintf(out, "Last activity: %s\n", data.LastActivityAt.Local().Format(time.RFC1123))
		fmt.Fprintf(out, "Expires:       %s\n", esd.Metadata.ExpiresAt.Local().Format(time.RFC1123))
		fmt.Fprintf(out, "Version:       %d\n", data.Version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVar(&passphraseFlag, "passphrase", "", "Identity passphrase (default $"+PassphraseEnv+" or stdin)")
}
