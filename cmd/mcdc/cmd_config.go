package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardnew/mcdc/pkg"
	"github.com/ardnew/mcdc/pkg/config"
)

var configWrite bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Prints the configuration in effect after defaults, the configuration
file and validation have been applied. With --write the same YAML is stored in
the user configuration directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		if !configWrite {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}

		path, err := config.DefaultPath()
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		pkg.LogInfo(pkg.ComponentConfig, "configuration written", "path", path)
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}
