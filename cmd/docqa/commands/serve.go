package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/app"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/server"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP server",
		Long: `Start the docqa HTTP server.

Endpoints:
  POST /api/upload           multipart upload (field "file"), ingests synchronously
  POST /api/query            {"document_id": "...", "query": "..."}
  GET  /api/documents        list ingested documents
  GET  /api/documents/{id}   one document
  GET  /api/health           liveness
  GET  /api/ready            readiness of store, vector index, re-ranker and model
  GET  /metrics              Prometheus metrics

Set DOCQA_API_KEY to require "Authorization: Bearer <key>" on the /api/upload,
/api/query and /api/documents routes.

Examples:
  docqa serve
  docqa serve --port 9090
  STORE_BACKEND=postgres POSTGRES_DSN=postgres://... docqa serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			log.Info("serve starting",
				slog.String("store", app.StoreBackend()),
			)

			a := app.New(ctx, log)
			defer closeApp(a, log)

			// Build everything up front so misconfiguration fails at startup.
			pipeline, err := a.Pipeline()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			svc, err := a.QA()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			docs, err := a.Store()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			cfg := serverConfigFromEnv()
			if cmd.Flags().Changed("host") || cfg.Host == "" {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") || cfg.Port == 0 {
				cfg.Port = port
			}
			cfg.Logger = log
			cfg.Pingers = buildPingers(a, log)

			srv, err := server.New(pipeline, svc, docs, cfg)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: DOCQA_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env: DOCQA_PORT)")

	return cmd
}
