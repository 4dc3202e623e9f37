// Package commands defines all Cobra CLI commands for the docqa binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/audit"
	"github.com/54b3r/docqa-go/internal/config"
	"github.com/54b3r/docqa-go/internal/logging"
)

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "docqa",
		Short: "docqa answers questions about your documents",
		Long: `docqa ingests documents (PDF, plain text, Markdown), splits them into
passages, embeds them, and answers natural-language questions grounded in the
most relevant passages.

Documents are stored in SQLite by default. Set STORE_BACKEND=postgres or
STORE_BACKEND=qdrant for a shared vector store. The chat model is selected via
MODEL_PROVIDER, the embedding model via EMBEDDING_PROVIDER.

Settings are read from environment variables, a .env file, and an optional
YAML config file (~/.docqa/config.yaml). Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load .env and YAML config; env vars always override both.
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			// LOG_LEVEL and LOG_FORMAT may come from the files just loaded.
			log = logging.New()
			slog.SetDefault(log)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docqa/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewDocumentsCmd(),
		NewVersionCmd(),
	)

	return root
}
