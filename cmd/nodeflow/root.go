package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// cfg is populated by loadRootConfig before any subcommand runs.
var cfg Config

var configPath string

var rootCmd = &cobra.Command{
	Use:   "nodeflow",
	Short: "nodeflow - workflow automation engine",
	Long: `nodeflow runs node-based automation workflows: triggers from webhooks,
schedules or manual calls feed a chain of AI model, messaging and HTTP
nodes, each step persisted so an interrupted run resumes where it stopped.`,
	PersistentPreRunE: loadRootConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func loadRootConfig(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" || cmd.Name() == "help" {
		return nil
	}
	loaded, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "settings file (default ~/.nodeflow/settings.yaml)")
	pf.String("db-path", "", "database file path")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: json, text")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(credentialCmd)
}
