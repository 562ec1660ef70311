package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/model"
)

var (
	exportDocument string
	exportRun      string
	exportOut      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a stored extraction result to an xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if (exportDocument == "") == (exportRun == "") {
			return eris.New("export: exactly one of --document or --run is required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var res *model.ExtractionResult
		if exportRun != "" {
			run, err := st.GetRun(ctx, exportRun)
			if err != nil {
				return eris.Wrap(err, "export")
			}
			if run.Result == nil {
				return eris.Errorf("export: run %s has no result (status %s)", run.ID, run.Status)
			}
			res = run.Result
		} else {
			res, err = st.GetResultByDocument(ctx, exportDocument)
			if err != nil {
				return eris.Wrap(err, "export")
			}
		}

		out := exportOut
		if out == "" {
			out = res.DocumentID + ".xlsx"
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "export: create file")
		}
		defer f.Close() //nolint:errcheck

		if err := writeWorkbook(f, res); err != nil {
			return err
		}
		zap.L().Info("result exported", zap.String("document_id", res.DocumentID), zap.String("path", out))
		return nil
	},
}

// writeWorkbook renders res as a workbook with one sheet each for concepts,
// confidence, QA and the processing log.
func writeWorkbook(w io.Writer, res *model.ExtractionResult) error {
	file := xlsx.NewFile()

	concepts, err := addSheet(file, "Concepts", "Category", "Value", "Source")
	if err != nil {
		return err
	}
	for _, c := range model.Categories {
		for _, concept := range res.Concepts.Get(c) {
			addStringRow(concepts, string(c), concept.Value, concept.Source)
		}
	}

	confidence, err := addSheet(file, "Confidence", "Field", "Score", "Ambiguity", "Signals")
	if err != nil {
		return err
	}
	ambiguity := make(map[model.Category]float64, len(res.AmbiguityScores))
	for _, a := range res.AmbiguityScores {
		ambiguity[a.Field] = a.Score
	}
	for _, fc := range res.FieldConfidences {
		row := confidence.AddRow()
		row.AddCell().SetString(string(fc.Field))
		row.AddCell().SetFloatWithFormat(fc.Score, "0.000")
		row.AddCell().SetFloatWithFormat(ambiguity[fc.Field], "0.00")
		row.AddCell().SetString(signalSummary(fc.ContributingSignals))
	}
	row := confidence.AddRow()
	row.AddCell().SetString("overall")
	row.AddCell().SetFloatWithFormat(res.OverallConfidence, "0.000")

	qa, err := addSheet(file, "QA", "Valid", "Confidence", "Issue")
	if err != nil {
		return err
	}
	valid := fmt.Sprintf("%t", res.QA.Valid)
	conf := fmt.Sprintf("%.3f", res.QA.Confidence)
	if len(res.QA.Issues) == 0 {
		addStringRow(qa, valid, conf, "")
	}
	for _, issue := range res.QA.Issues {
		addStringRow(qa, valid, conf, issue)
	}

	logSheet, err := addSheet(file, "Log", "Entry")
	if err != nil {
		return err
	}
	for _, entry := range res.ProcessingLog {
		addStringRow(logSheet, entry)
	}

	return eris.Wrap(file.Write(w), "export: write workbook")
}

func addSheet(file *xlsx.File, name string, header ...string) (*xlsx.Sheet, error) {
	sheet, err := file.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "export: add sheet %s", name)
	}
	addStringRow(sheet, header...)
	return sheet, nil
}

func addStringRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func signalSummary(signals []model.Signal) string {
	var s string
	for i, sig := range signals {
		if i > 0 {
			s += "; "
		}
		s += fmt.Sprintf("%s %+.2f", sig.Type, sig.Value)
	}
	return s
}

func init() {
	exportCmd.Flags().StringVar(&exportDocument, "document", "", "export the latest result for this document ID")
	exportCmd.Flags().StringVar(&exportRun, "run", "", "export the result of this run ID")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (default <document_id>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
