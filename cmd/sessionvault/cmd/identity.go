package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionvault/crypto"
	"github.com/jmcleod/sessionvault/identity"
)

var (
	identityUsername string
	passphraseFlag   string
	identityForce    bool
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the passphrase-protected identity",
}

var identityInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new identity key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Identity.Path
		if !identityForce {
			if _, err := identity.Load(path); err == nil {
				return fmt.Errorf("identity already exists at %s (use --force to replace)", path)
			}
		}
		passphrase, err := readPassphrase(passphraseFlag, cmd.InOrStdin())
		if err != nil {
			return err
		}
		params, err := crypto.Argon2idProfile(cfg.KDF.Profile)
		if err != nil {
			return err
		}
		id, err := identity.Create(identityUsername, passphrase, identity.WithKDFParams(params))
		if err != nil {
			return err
		}
		if err := id.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created identity %q at %s\n", id.Username, path)
		return nil
	},
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the identity's public details",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identity.Load(cfg.Identity.Path)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Username:   %s\n", id.Username)
		fmt.Fprintf(out, "Public key: %x\n", id.PublicKey)
		fmt.Fprintf(out, "KDF:        argon2id t=%d m=%dKiB p=%d\n", id.KDFParams.Time, id.KDFParams.MemoryKiB, id.KDFParams.Parallelism)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityInitCmd, identityShowCmd)

	identityInitCmd.Flags().StringVarP(&identityUsername, "username", "u", "", "Username bound to the identity")
	identityInitCmd.MarkFlagRequired("username")
	identityInitCmd.Flags().BoolVar(&identityForce, "force", false, "Replace an existing identity")
	identityInitCmd.Flags().StringVar(&passphraseFlag, "passphrase", "", "Identity passphrase (default $"+PassphraseEnv+" or stdin)")
}
