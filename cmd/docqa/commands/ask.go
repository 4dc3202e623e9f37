package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/app"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/qa"
	"github.com/54b3r/docqa-go/internal/server"
)

// NewAskCmd constructs the `docqa ask` command, which answers one question
// from the ingested documents and prints the answer to stdout.
func NewAskCmd() *cobra.Command {
	var documentID string
	var showContext bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about your documents",
		Long: `Ask a natural-language question. The most relevant passages are retrieved,
re-ranked, and handed to the chat model as context.

With --document the search is restricted to one document and the exchange is
kept in that document's conversation history.

Examples:
  docqa ask "What is the notice period for termination?"
  docqa ask --document 3f2a... "Who are the parties to this agreement?"
  docqa ask --show-context "Summarise the payment terms"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.FromContext(cmd.Context())

			ctx, cancel := context.WithTimeout(cmd.Context(), getEnvDuration("QUERY_TIMEOUT", server.DefaultQueryTimeout))
			defer cancel()

			a := app.New(ctx, log)
			defer closeApp(a, log)

			svc, err := a.QA()
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			resp, err := svc.Ask(ctx, qa.Request{
				DocumentID: documentID,
				Question:   strings.Join(args, " "),
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Answer)

			if !resp.Grounded {
				fmt.Fprintln(cmd.ErrOrStderr(), "note: no relevant passages were found; the answer is not grounded in your documents")
			}
			if showContext && resp.Context != "" {
				fmt.Fprintf(out, "\n--- context (%d passages) ---\n%s\n", resp.Passages, resp.Context)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&documentID, "document", "d", "", "Restrict the search to one document ID")
	cmd.Flags().BoolVar(&showContext, "show-context", false, "Print the retrieved passages after the answer")

	return cmd
}
