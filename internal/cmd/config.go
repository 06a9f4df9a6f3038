package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := config.Schema()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file and print the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: store=%s prefix=%q seed=%v\n",
			cfg.StorePath, cfg.CommandPrefix, cfg.GrantOnJoin)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSchemaCmd)
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
