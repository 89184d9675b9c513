package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"livewatch/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Parse and validate a livewatch config file without starting anything.

Exit codes:
  0 - config is valid
  1 - config is invalid (details on stderr)`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}

	fmt.Printf("config is valid\n")
	fmt.Printf("  storage:        %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Path)
	fmt.Printf("  poll interval:  %ds\n", cfg.Interval())
	fmt.Printf("  owners:         %d\n", len(cfg.Telegram.OwnerUserIDs))
	fmt.Printf("  report enabled: %t\n", cfg.Report.Enabled)
	return nil
}
