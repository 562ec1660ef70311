package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/concept-cli/internal/fetcher"
	"github.com/sells-group/concept-cli/internal/model"
)

var (
	batchManifest    string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Extract concepts for every document in a CSV manifest",
	Long:  "Reads a CSV with document_id, source and optional title and keywords columns, runs each document and stores the results.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(batchManifest)
		if err != nil {
			return eris.Wrap(err, "open manifest")
		}
		defer f.Close() //nolint:errcheck

		entries, err := fetcher.ReadManifest(ctx, f)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Manifest has no documents.")
			return nil
		}

		env, err := initPipeline(ctx, true, false)
		if err != nil {
			return err
		}
		defer env.Close()

		outcomes := runBatch(ctx, env, newFetcher(), entries, batchConcurrency)
		formatBatchOutcomes(os.Stdout, outcomes)
		return ctx.Err()
	},
}

// batchOutcome is the result of one manifest entry.
type batchOutcome struct {
	Entry fetcher.ManifestEntry
	Run   *model.Run
	Err   error
}

// runBatch processes entries with bounded concurrency. A failing document
// never stops the others; outcomes keep manifest order.
func runBatch(ctx context.Context, env *pipelineEnv, f fetcher.Fetcher, entries []fetcher.ManifestEntry, concurrency int) []batchOutcome {
	if concurrency <= 0 {
		concurrency = 1
	}
	outcomes := make([]batchOutcome, len(entries))

	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, e := range entries {
		g.Go(func() error {
			outcomes[i] = processEntry(gctx, env, f, e)

			mu.Lock()
			done++
			zap.L().Info("batch progress",
				zap.String("document_id", e.DocumentID),
				zap.Int("done", done),
				zap.Int("total", len(entries)),
				zap.Bool("ok", outcomes[i].Err == nil),
			)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func processEntry(ctx context.Context, env *pipelineEnv, f fetcher.Fetcher, e fetcher.ManifestEntry) batchOutcome {
	out := batchOutcome{Entry: e}
	if ctx.Err() != nil {
		out.Err = ctx.Err()
		return out
	}

	text, err := fetcher.LoadText(ctx, f, e.Source, cfg.Server.MaxBodyBytes)
	if err != nil {
		out.Err = eris.Wrapf(err, "load %s", e.Source)
		zap.L().Warn("batch: document load failed", zap.String("document_id", e.DocumentID), zap.Error(err))
		return out
	}

	out.Run, out.Err = processDocument(ctx, env, model.Document{
		ID:       e.DocumentID,
		Title:    e.Title,
		Keywords: e.Keywords,
		Text:     text,
	})
	return out
}

// formatBatchOutcomes writes one line per document to w.
func formatBatchOutcomes(out io.Writer, outcomes []batchOutcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DOCUMENT\tSTATUS\tCONFIDENCE\tQA\tERROR")

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			_, _ = fmt.Fprintf(w, "%s\t%s\t-\t-\t%s\n", o.Entry.DocumentID, model.RunStatusFailed, o.Err)
			continue
		}
		res := o.Run.Result
		qa := "valid"
		if !res.QA.Valid {
			qa = fmt.Sprintf("%d issues", len(res.QA.Issues))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\t\n", o.Entry.DocumentID, o.Run.Status, res.OverallConfidence, qa)
	}
	_, _ = fmt.Fprintf(w, "\nProcessed %d documents, %d failed.\n", len(outcomes), failed)
	_ = w.Flush()
}

func init() {
	batchCmd.Flags().StringVar(&batchManifest, "manifest", "", "CSV manifest of documents (required)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 2, "documents processed in parallel")
	_ = batchCmd.MarkFlagRequired("manifest")
	rootCmd.AddCommand(batchCmd)
}
