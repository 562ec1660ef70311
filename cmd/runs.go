package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/concept-cli/internal/model"
	"github.com/sells-group/concept-cli/internal/monitoring"
	"github.com/sells-group/concept-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect extraction run history",
	Long:  "Commands for listing, viewing, and summarizing extraction runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extraction runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		document, _ := cmd.Flags().GetString("document")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status:     model.RunStatus(status),
			DocumentID: document,
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		hours := max(int(since.Hours()), 1)

		snap, err := monitoring.NewCollector(st, cfg.Monitoring.LowConfidenceBelow).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (queued, extracting, complete, failed)")
	runsListCmd.Flags().String("document", "", "filter by document ID")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDOCUMENT\tSTATUS\tCONFIDENCE\tQA\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t--------\t------\t----------\t--\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		doc := r.DocumentID
		if r.Title != "" {
			doc = r.Title
		}
		if len(doc) > 30 {
			doc = doc[:27] + "..."
		}

		conf, qa := "-", "-"
		if r.Result != nil {
			conf = fmt.Sprintf("%.3f", r.Result.OverallConfidence)
			qa = "valid"
			if !r.Result.QA.Valid {
				qa = "invalid"
			}
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			doc,
			r.Status,
			conf,
			qa,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.RunsComplete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "In flight:\t%d\n", s.RunsInFlight)
	if s.RunsComplete > 0 {
		_, _ = fmt.Fprintf(w, "Avg confidence:\t%.3f\n", s.AvgConfidence)
		_, _ = fmt.Fprintf(w, "Below %.2f:\t%d\n", s.LowConfidenceAt, s.LowConfidence)
		_, _ = fmt.Fprintf(w, "QA invalid:\t%d (%.1f%%)\n", s.QAInvalid, s.QAInvalidRate*100)
		_, _ = fmt.Fprintf(w, "Avg passes:\t%.2f\n", s.AvgPasses)
		_, _ = fmt.Fprintf(w, "Failed chunks:\t%d\n", s.FailedChunks)
		_, _ = fmt.Fprintf(w, "Avg tokens:\t%d\n", s.AvgTokens)
		_, _ = fmt.Fprintf(w, "Est. cost:\t$%.4f\n", s.CostUSD)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
