package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// syncCmd runs one synchronous cycle and exits. Useful for cron-driven
// setups and for scripting.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromViper()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		engine, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer engine.Stop()

		if err := engine.SyncNow(cmd.Context()); err != nil {
			return err
		}
		fmt.Println(green("sync complete"), cyan(cfg.DataDir))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
