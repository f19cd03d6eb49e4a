// Package main is the GuardyBot command line: classify type strings, render
// findings locally and send them to Slack.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "guardybot",
		Short: "GuardDuty finding classifier and Slack notifier",
		Long: `guardybot turns Amazon GuardDuty findings into chat-ops notifications.
Use it to check how a finding type is classified, preview the message a
finding would produce, or send a finding to Slack by hand.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)
	rootCmd.PersistentFlags().StringP("config", "c", "", "presentation config file (.yaml or .toml)")

	rootCmd.AddCommand(newClassifyCmd(), newRenderCmd(), newSendCmd())
	return rootCmd
}
