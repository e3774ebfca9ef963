package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/mcp"
)

func newMCPCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app) error {
				server, err := mcp.NewServer(mcp.Dependencies{
					Config: a.cfg,
					Feeds:  a.executor,
					Syncer: a.syncer,
					Ledger: a.store,
					Logger: a.logger,
				})
				if err != nil {
					return err
				}
				// stdout is reserved for the protocol; logs go to stderr
				a.logger.Info("MCP server ready, listening on stdio", zap.String("version", version))
				if err := server.Serve(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
}
