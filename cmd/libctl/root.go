// cmd/libctl/root.go
package main

import (
	"cmp"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"shelfkeeper/internal/clients"
	"shelfkeeper/internal/identity"
)

// passphraseEnv names the variable holding the key file passphrase.
const passphraseEnv = "LIBCTL_PASSPHRASE"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	KeyPath string
	JSON    bool
}

func defaultKeyPath() string {
	if p := os.Getenv("LIBCTL_KEY"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "libctl.key"
	}
	return filepath.Join(dir, "shelfkeeper", "key")
}

// NewRootCommand creates the root command for libctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "libctl",
		Short:         "Manage your library on a library server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", cmp.Or(os.Getenv("LIBCTL_SERVER"), "http://localhost:8080"), "library server URL")
	cmd.PersistentFlags().StringVar(&opts.KeyPath, "key", defaultKeyPath(), "path to your signing key")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print JSON")

	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewWhoamiCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewToggleCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

func (o *RootOptions) loadKey() (ed25519.PrivateKey, error) {
	key, err := identity.LoadKey(o.KeyPath, os.Getenv(passphraseEnv))
	switch {
	case errors.Is(err, identity.ErrPassphraseRequired):
		return nil, fmt.Errorf("%w: set %s", err, passphraseEnv)
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w (run 'libctl keygen' first)", err)
	case err != nil:
		return nil, err
	}
	return key, nil
}

func (o *RootOptions) client() (*clients.LibraryClient, error) {
	key, err := o.loadKey()
	if err != nil {
		return nil, err
	}
	return clients.NewLibraryClient(o.Server, key), nil
}

// owner returns the identity named by --owner, or the caller's own.
func owner(c *clients.LibraryClient, flag string) (identity.Identity, error) {
	if flag == "" {
		return c.Identity(), nil
	}
	id, err := identity.Parse(flag)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("invalid --owner: %w", err)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
