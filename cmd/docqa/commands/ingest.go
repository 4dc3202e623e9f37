package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/app"
	"github.com/54b3r/docqa-go/internal/ingestion"
	"github.com/54b3r/docqa-go/internal/logging"
)

// NewIngestCmd constructs the `docqa ingest` command, which runs the ingestion
// pipeline over local files or URLs.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file|url>...",
		Short: "Extract, chunk, embed and store documents",
		Long: `Ingest one or more documents into the configured store.

Each argument is a local file path or an http(s) URL. PDFs are extracted with
LlamaParse when LLAMA_CLOUD_API_KEY is set, otherwise with pdftotext. Plain
text and Markdown are read directly.

A document whose identity already exists is skipped and reported as already
ingested. Sources are processed in order; the first failure stops the run.

Examples:
  docqa ingest ./contracts/msa.pdf
  docqa ingest notes.md https://example.com/handbook.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			a := app.New(ctx, log)
			defer closeApp(a, log)

			pipeline, err := a.Pipeline()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			progress := func(msg string) { log.Info(msg) }
			out := cmd.OutOrStdout()

			for _, src := range args {
				var res *ingestion.Result
				if isURL(src) {
					res, err = pipeline.IngestURL(ctx, src, progress)
				} else {
					res, err = pipeline.IngestFile(ctx, src, progress)
				}
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", src, err)
				}

				status := "ingested"
				if !res.Created {
					status = "already ingested"
				}
				fmt.Fprintf(out, "%s\t%s\t%d passages\t%s\n", res.DocumentID, res.Filename, res.ChunkCount, status)
			}

			log.Info("ingestion complete", slog.Int("sources", len(args)))
			return nil
		},
	}

	return cmd
}

// isURL reports whether src names a remote http(s) source.
func isURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}
