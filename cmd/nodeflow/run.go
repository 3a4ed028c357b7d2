package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/engine"
)

var runData string

var runCmd = &cobra.Command{
	Use:   "run <workflow-id>",
	Short: "Execute a workflow synchronously",
	Long: `Execute a workflow in the foreground and print the final run summary.
Initial data is seeded into the run context as given by --data.

Example:
  nodeflow run 3f2c... --data '{"customer": "acme"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().StringVar(&runData, "data", "", "initial data as a JSON object")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	var initial map[string]any
	if runData != "" {
		if err := json.Unmarshal([]byte(runData), &initial); err != nil {
			return fmt.Errorf("--data must be a JSON object: %w", err)
		}
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.store.GetWorkflow(ctx, args[0]); err != nil {
		return err
	}

	runID := engine.NewRunID()
	runErr := a.runner.Invoke(ctx, runID, engine.ExecuteEvent(args[0], initial))

	sum, err := a.store.ReplayRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return err
	}
	return runErr
}
