package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "muse",
		Short: "Chat-triggered generative agent pipeline",
		Long: `muse detects agent intents in chat messages, walks them through an
explicit confirmation step, executes confirmed generations with quota
enforcement and provider fallback, and persists every result durably and
exactly once.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to muse.yaml")

	rootCmd.AddCommand(newServeCommand(&configPath))
	rootCmd.AddCommand(newDetectCommand(&configPath))
	rootCmd.AddCommand(newAskCommand(&configPath))
	return rootCmd
}
