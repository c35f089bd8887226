// File: cmd/serve.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autodevops/internal/observability"
	"github.com/xkilldash9x/autodevops/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.SetServerAddr(addr)
			}
			logger := observability.GetLogger()

			comps, err := initializeComponents(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Close()

			srv, err := server.New(cfg.Server(), comps.ServerDeps(), logger)
			if err != nil {
				return err
			}
			logger.Info("Serving AutoDevOps API",
				zap.String("addr", cfg.Server().Addr),
				zap.String("storage", cfg.Storage().Driver),
				zap.String("repo", cfg.GitHub().Repo),
				zap.Bool("github_token", comps.Tracker.HasToken()),
			)
			return srv.Start(cmd.Context())
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return serveCmd
}
