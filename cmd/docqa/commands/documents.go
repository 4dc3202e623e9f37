package commands

import (
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/app"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// NewDocumentsCmd constructs the `docqa documents` command group.
func NewDocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List, inspect and delete ingested documents",
	}

	cmd.AddCommand(
		newDocumentsListCmd(),
		newDocumentsShowCmd(),
		newDocumentsDeleteCmd(),
	)
	return cmd
}

func newDocumentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List ingested documents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			a := app.New(ctx, log)
			defer closeApp(a, log)

			docs, err := a.Store()
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			list, err := docs.ListDocuments(ctx)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFILENAME\tSIZE\tPASSAGES\tSTATUS\tCREATED")
			for _, d := range list {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
					d.ID, d.Filename, d.Size, d.ChunkCount, status(d), d.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func newDocumentsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			a := app.New(ctx, log)
			defer closeApp(a, log)

			docs, err := a.Store()
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			d, err := docs.GetDocument(ctx, args[0])
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "ID:\t%s\n", d.ID)
			fmt.Fprintf(tw, "Filename:\t%s\n", d.Filename)
			fmt.Fprintf(tw, "Size:\t%d bytes\n", d.Size)
			fmt.Fprintf(tw, "Passages:\t%d\n", d.ChunkCount)
			fmt.Fprintf(tw, "Status:\t%s\n", status(*d))
			fmt.Fprintf(tw, "Created:\t%s\n", d.CreatedAt.Local().Format(time.DateTime))
			return tw.Flush()
		},
	}
}

func newDocumentsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document, its passages and its conversation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			id := args[0]

			a := app.New(ctx, log)
			defer closeApp(a, log)

			docs, err := a.Store()
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			if _, err := docs.GetDocument(ctx, id); err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			if err := docs.DeleteDocument(ctx, id); err != nil {
				return fmt.Errorf("documents: %w", err)
			}

			// History lives in SQLite for every backend.
			if s, err := a.SQLite(); err == nil {
				if err := s.ClearThread(ctx, id); err != nil {
					log.Warn("history: failed to clear thread", slog.String("document_id", id), slog.Any("error", err))
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		},
	}
}

// status renders the ingestion state of d.
func status(d rag.Document) string {
	if d.Ready {
		return "ready"
	}
	return "processing"
}
