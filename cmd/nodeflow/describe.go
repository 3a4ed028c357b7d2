package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/diagram"
)

var describeFormat string

var describeCmd = &cobra.Command{
	Use:   "describe <workflow-id>",
	Short: "Render a workflow as a diagram",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		wf, err := s.GetWorkflow(ctx, args[0])
		if err != nil {
			return err
		}
		model, err := diagram.Build(wf)
		if err != nil {
			return err
		}

		var out string
		switch describeFormat {
		case "mermaid":
			out = diagram.RenderMermaid(model)
		case "ascii":
			out = diagram.RenderASCII(model)
		default:
			return fmt.Errorf("unknown format %q (want mermaid or ascii)", describeFormat)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	describeCmd.Flags().StringVar(&describeFormat, "format", "ascii", "output format: mermaid, ascii")
}
