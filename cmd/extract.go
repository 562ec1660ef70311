package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/concept-cli/internal/fetcher"
	"github.com/sells-group/concept-cli/internal/model"
)

var (
	extractSource   string
	extractID       string
	extractTitle    string
	extractAbstract string
	extractKeywords []string
	extractNoStore  bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract concepts from a single text document",
	Long:  "Runs the pipeline over a plain-text file or http(s) URL and prints the result JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, !extractNoStore, false)
		if err != nil {
			return err
		}
		defer env.Close()

		text, err := fetcher.LoadText(ctx, newFetcher(), extractSource, cfg.Server.MaxBodyBytes)
		if err != nil {
			return eris.Wrap(err, "load document")
		}

		doc := model.Document{
			ID:       extractID,
			Title:    extractTitle,
			Abstract: extractAbstract,
			Keywords: trimAll(extractKeywords),
			Text:     text,
		}

		run, err := processDocument(ctx, env, doc)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run.Result)
	},
}

func newFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func init() {
	extractCmd.Flags().StringVar(&extractSource, "source", "", "text file path or http(s) URL (required)")
	extractCmd.Flags().StringVar(&extractID, "id", "", "document ID (default derived from the text)")
	extractCmd.Flags().StringVar(&extractTitle, "title", "", "document title")
	extractCmd.Flags().StringVar(&extractAbstract, "abstract", "", "document abstract")
	extractCmd.Flags().StringSliceVar(&extractKeywords, "keywords", nil, "comma-separated document keywords")
	extractCmd.Flags().BoolVar(&extractNoStore, "no-store", false, "do not persist the run")
	_ = extractCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(extractCmd)
}
