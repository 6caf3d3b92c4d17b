package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/rootstock/settings"
)

// NewSettingsCmd creates the "settings" subcommand group.
func NewSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect persisted extension settings",
	}
	cmd.PersistentFlags().String("sqlite-path", "", "Path to SQLite database (default: ~/.rootstock/rootstock.db)")

	cmd.AddCommand(newSettingsListCmd())
	cmd.AddCommand(newSettingsGetCmd())
	return cmd
}

func newSettingsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [prefix]",
		Short: "List stored settings keys and values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openSettingsBackend(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = backend.Close()
			}()

			values, err := backend.LoadAll(cmd.Context())
			if err != nil {
				return exitError(exitStorage, "loading settings: %v", err)
			}

			prefix := ""
			if len(args) == 1 {
				prefix = args[0] + settings.Separator
			}
			keys := make([]string, 0, len(values))
			for k := range values {
				if strings.HasPrefix(k, prefix) {
					keys = append(keys, k)
				}
			}
			sort.Strings(keys)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tVALUE")
			for _, k := range keys {
				fmt.Fprintf(tw, "%s\t%s\n", k, values[k])
			}
			return tw.Flush()
		},
	}
	return cmd
}

func newSettingsGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one stored setting value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openSettingsBackend(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = backend.Close()
			}()

			values, err := backend.LoadAll(cmd.Context())
			if err != nil {
				return exitError(exitStorage, "loading settings: %v", err)
			}
			value, ok := values[args[0]]
			if !ok {
				return exitError(exitConfig, "setting %q not found", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
	return cmd
}

func openSettingsBackend(cmd *cobra.Command) (*settings.SQLiteBackend, error) {
	path, _ := cmd.Flags().GetString("sqlite-path")
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		defaultPath, err := settings.DefaultSQLitePath()
		if err != nil {
			return nil, exitError(exitStorage, "resolving default sqlite path: %v", err)
		}
		dsn = defaultPath
	}
	backend, err := settings.NewSQLiteBackend(settings.SQLiteBackendConfig{DSN: dsn})
	if err != nil {
		return nil, exitError(exitStorage, "opening settings database: %v", err)
	}
	return backend, nil
}
