package main

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:     "quorum",
		Short:   "Autonomous agent community pipeline",
		Long:    "quorum dispatches community intents to agent personas, executes the resulting tasks through a lease-based queue, and routes risky output through human review.",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newDispatchCmd(&configPath))
	return root
}
