package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/rootstock"
	"github.com/petal-labs/rootstock/cli"
)

// Set via ldflags at build time.
var version = rootstock.Version

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rootstock",
	Short: "Rootstock extension runtime daemon",
	Long:  "Rootstock is the in-process extension runtime daemon: typed event buses, lifecycle hooks, supervised background tasks, and namespaced settings.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("rootstock version %s\n", version))

	rootCmd.AddCommand(cli.NewServeCmd())
	rootCmd.AddCommand(cli.NewSettingsCmd())
}
