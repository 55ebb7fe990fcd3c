// cmd/libctl/commands.go
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"shelfkeeper/internal/identity"
	"shelfkeeper/internal/library"
)

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(opts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key",
		Long: `Generate a signing key and write it to --key.

When LIBCTL_PASSPHRASE is set the key file is sealed with it, and every
other command needs the same variable to unlock the key.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(opts.KeyPath); err == nil && !force {
				return fmt.Errorf("key file %s already exists (use --force to replace it)", opts.KeyPath)
			}
			key, id, err := identity.GenerateKey()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(opts.KeyPath), 0o700); err != nil {
				return err
			}
			if err := identity.SaveKey(opts.KeyPath, key, os.Getenv(passphraseEnv)); err != nil {
				return err
			}
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"identity": id, "key": opts.KeyPath})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nIdentity: %s\n", opts.KeyPath, id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key")

	return cmd
}

// NewWhoamiCommand creates the whoami command.
func NewWhoamiCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the identity of your key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := opts.loadKey()
			if err != nil {
				return err
			}
			id := identity.Of(key)
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"identity": id})
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

// NewCreateCommand creates the create command.
func NewCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create your library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			info, err := c.CreateLibrary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %q at %s\n", info.Name, info.Address)
			return nil
		},
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	var ownerFlag string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			o, err := owner(c, ownerFlag)
			if err != nil {
				return err
			}
			info, err := c.GetLibrary(cmd.Context(), o)
			if err != nil {
				return err
			}
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:    %s\nOwner:   %s\nAddress: %s\nBooks:   %d/%d\n",
				info.Name, info.Owner, info.Address, len(info.Books), library.MaxBooks)
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", "", "library owner (defaults to you)")

	return cmd
}

// NewAddCommand creates the add command.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	var ownerFlag string

	cmd := &cobra.Command{
		Use:   "add <name> <pages>",
		Short: "Add a book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pages, err := strconv.ParseUint(args[1], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid page count %q: %w", args[1], err)
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			o, err := owner(c, ownerFlag)
			if err != nil {
				return err
			}
			if err := c.AddBook(cmd.Context(), o, args[0], uint16(pages)); err != nil {
				return err
			}
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), library.Book{Name: args[0], Pages: uint16(pages), Available: true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %q (%d pages)\n", args[0], pages)
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", "", "library owner (defaults to you)")

	return cmd
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(opts *RootOptions) *cobra.Command {
	var ownerFlag string

	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove the first book with the given name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			o, err := owner(c, ownerFlag)
			if err != nil {
				return err
			}
			if err := c.RemoveBook(cmd.Context(), o, args[0]); err != nil {
				return err
			}
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"removed": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %q\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", "", "library owner (defaults to you)")

	return cmd
}

// NewToggleCommand creates the toggle command.
func NewToggleCommand(opts *RootOptions) *cobra.Command {
	var ownerFlag string

	cmd := &cobra.Command{
		Use:   "toggle <name>",
		Short: "Flip the availability of the first book with the given name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			o, err := owner(c, ownerFlag)
			if err != nil {
				return err
			}
			available, err := c.ToggleAvailability(cmd.Context(), o, args[0])
			if err != nil {
				return err
			}
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"name": args[0], "available": available})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%q is now %s\n", args[0], availability(available))
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", "", "library owner (defaults to you)")

	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	var ownerFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List books in stored order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			o, err := owner(c, ownerFlag)
			if err != nil {
				return err
			}
			books, err := c.ListBooks(cmd.Context(), o)
			if err != nil {
				return err
			}
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), books)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tNAME\tPAGES\tSTATUS")
			for i, b := range books {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i+1, b.Name, b.Pages, availability(b.Available))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", "", "library owner (defaults to you)")

	return cmd
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	var ownerFlag string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the journal of changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			o, err := owner(c, ownerFlag)
			if err != nil {
				return err
			}
			events, err := c.History(cmd.Context(), o)
			if err != nil {
				return err
			}
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), events)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tTIME\tTYPE\tDATA")
			for _, ev := range events {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ev.Version, ev.CreatedAt.Format("2006-01-02 15:04:05"), ev.Type, ev.Data)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", "", "library owner (defaults to you)")

	return cmd
}

func availability(available bool) string {
	if available {
		return "available"
	}
	return "unavailable"
}
