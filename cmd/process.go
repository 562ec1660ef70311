package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/model"
)

// documentID derives a stable identifier from document text so repeated
// submissions of the same text resolve to the same stored result.
func documentID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "doc-" + hex.EncodeToString(sum[:8])
}

// processDocument records a run, executes the pipeline and persists the
// outcome. With no store configured it only runs the pipeline.
func processDocument(ctx context.Context, env *pipelineEnv, doc model.Document) (*model.Run, error) {
	if doc.ID == "" {
		doc.ID = documentID(doc.Text)
	}
	log := zap.L().With(zap.String("document_id", doc.ID))

	if env.Store == nil {
		result, err := env.Pipeline.Run(ctx, doc)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline run")
		}
		return &model.Run{DocumentID: doc.ID, Title: doc.Title, Status: model.RunStatusComplete, Result: result}, nil
	}

	run, err := env.Store.CreateRun(ctx, doc)
	if err != nil {
		return nil, eris.Wrap(err, "create run")
	}
	if err := env.Store.UpdateRunStatus(ctx, run.ID, model.RunStatusExtracting); err != nil {
		return run, eris.Wrap(err, "update run status")
	}
	run.Status = model.RunStatusExtracting

	result, err := env.Pipeline.Run(ctx, doc)
	if err != nil {
		// The run context may already be cancelled.
		if ferr := env.Store.FailRun(context.WithoutCancel(ctx), run.ID, err.Error()); ferr != nil {
			log.Error("failed to record run failure", zap.String("run_id", run.ID), zap.Error(ferr))
		}
		run.Status = model.RunStatusFailed
		run.Error = err.Error()
		return run, eris.Wrap(err, "pipeline run")
	}

	if err := env.Store.SaveResult(ctx, run.ID, result); err != nil {
		return run, eris.Wrap(err, "save result")
	}
	run.Status = model.RunStatusComplete
	run.Result = result

	log.Info("extraction complete",
		zap.String("run_id", run.ID),
		zap.Float64("overall_confidence", result.OverallConfidence),
		zap.Bool("qa_valid", result.QA.Valid),
		zap.Int("correction_passes", result.Correction.PassesRun),
	)
	return run, nil
}
