package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/nodeflow/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the nodeflow tools over MCP stdio",
	Long: `Expose workflow execution, run inspection and diagrams as MCP tools on
stdin/stdout. Logs go to stderr so they never corrupt the protocol stream.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := mcp.NewServer(mcp.ServerDeps{
			Runs:    a.runner,
			Store:   a.store,
			Catalog: a.registry,
			Logger:  a.logger,
			Version: version,
		})

		g, gctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error { return a.runner.Start(gctx) })
		g.Go(func() error {
			defer a.runner.Shutdown()
			return srv.Serve(gctx)
		})
		return g.Wait()
	},
}
