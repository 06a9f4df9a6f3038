// Package cmd implements the CLI commands for warden.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/version"
)

var configPath string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Chat command bot with sandboxed custom commands",
	Long: `Warden is a multi-tenant chat automation bot. It parses command
invocations out of chat messages, enforces per-tenant authorization policy,
runs built-in and tenant-defined custom commands, and executes script
commands inside a WebAssembly sandbox with strict time, memory and output
limits.`,
	Version: version.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file")
}

// Execute runs the root command and returns any error.
func Execute() error {
	return rootCmd.Execute()
}
