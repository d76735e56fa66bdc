package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opendms/docsync/internal/config"
)

// initCmd writes a config file from the provided flags so later runs
// need none.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the DocSync config file",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromViper()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			path = config.DefaultConfigPath
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Println(green("config written"), cyan(path))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
