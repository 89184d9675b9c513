// Package main is the livewatch CLI.
//
//	livewatch run -c config.json       # start watching
//	livewatch validate -c config.json  # check a config file
//	livewatch version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// set via -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "livewatch",
	Short: "Bilibili live-room notifier for Telegram groups",
	Long: `livewatch polls the live status of subscribed Bilibili accounts and
posts a notification card to every subscribed Telegram chat when a stream
starts. When the stream ends the card is edited to show how long it lasted.

Subscriptions are managed from Telegram with /live_add, /live_remove,
/live_list and /live_status.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("livewatch %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
