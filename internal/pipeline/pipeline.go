// Package pipeline runs the extraction-and-confidence pipeline over one
// document: chunk, extract, repair, aggregate, score, self-correct and
// validate.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/concept-cli/internal/chunker"
	"github.com/sells-group/concept-cli/internal/gateway"
	"github.com/sells-group/concept-cli/internal/lexicon"
	"github.com/sells-group/concept-cli/internal/model"
	"github.com/sells-group/concept-cli/internal/normalize"
	"github.com/sells-group/concept-cli/internal/sanitize"
	"github.com/sells-group/concept-cli/internal/scoring"
)

// DefaultConcurrency bounds parallel gateway calls per document.
const DefaultConcurrency = 4

// Recorder receives pipeline measurements, typically for metrics.
type Recorder interface {
	ObserveStage(stage string, elapsed time.Duration)
	ObserveChunks(total, failed int)
	ObserveDocument(valid bool, confidence float64, passes int, inputTokens, outputTokens int64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStage(string, time.Duration)               {}
func (nopRecorder) ObserveChunks(int, int)                           {}
func (nopRecorder) ObserveDocument(bool, float64, int, int64, int64) {}

// GraphSource persists the corpus-level dependency graph. SaveGraph adds
// the given co-occurrence counts to what is stored.
type GraphSource interface {
	LoadGraph(ctx context.Context) (map[model.Category]map[model.Category]int, error)
	SaveGraph(ctx context.Context, delta map[model.Category]map[model.Category]int) error
}

// Pipeline orchestrates every stage for a single document. It is safe for
// concurrent use; each Run builds its own dependency graph.
type Pipeline struct {
	gateway      gateway.Gateway
	lex          *lexicon.Lexicon
	chunker      *chunker.Chunker
	modelID      string
	normalizer   *normalize.Normalizer
	ambiguity    *scoring.AmbiguityScorer
	depThreshold int
	graphs       GraphSource
	reinforceAt  float64
	maxPasses    int
	recompute    bool
	qa           *QAValidator
	concurrency  int
	recorder     Recorder
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChunker replaces the default chunker.
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) { p.chunker = c }
}

// WithModelID sets the model identifier used to pick the tokenizer.
func WithModelID(id string) Option {
	return func(p *Pipeline) { p.modelID = id }
}

// WithConcurrency bounds parallel gateway calls.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithDependencyThreshold sets the minimum edge strength, exclusive, for a
// related category to count toward the dependency bonus.
func WithDependencyThreshold(n int) Option {
	return func(p *Pipeline) { p.depThreshold = n }
}

// WithGraphSource enables the persisted corpus-level dependency graph.
func WithGraphSource(g GraphSource) Option {
	return func(p *Pipeline) { p.graphs = g }
}

// WithReinforcementThreshold sets the confidence below which a field is
// targeted for recovery.
func WithReinforcementThreshold(t float64) Option {
	return func(p *Pipeline) { p.reinforceAt = t }
}

// WithCorrection configures the self-correction loop. maxPasses <= 0 runs
// no passes.
func WithCorrection(maxPasses int, recompute bool) Option {
	return func(p *Pipeline) {
		p.maxPasses = maxPasses
		p.recompute = recompute
	}
}

// WithQA sets the QA validator limits.
func WithQA(maxItems, minLen, maxLen int) Option {
	return func(p *Pipeline) { p.qa = NewQAValidator(p.lex, maxItems, minLen, maxLen) }
}

// WithRecorder reports measurements to r.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// New creates a Pipeline over gw using the tables in lex.
func New(gw gateway.Gateway, lex *lexicon.Lexicon, opts ...Option) *Pipeline {
	p := &Pipeline{
		gateway:     gw,
		lex:         lex,
		chunker:     chunker.New(),
		normalizer:  normalize.New(lex),
		ambiguity:   scoring.NewAmbiguityScorer(lex),
		reinforceAt: DefaultReinforcementThreshold,
		maxPasses:   DefaultMaxPasses,
		recompute:   true,
		concurrency: DefaultConcurrency,
		recorder:    nopRecorder{},
	}
	p.qa = NewQAValidator(lex, 0, 0, 0)
	for _, o := range opts {
		o(p)
	}
	return p
}

// chunkOutcome is the per-chunk result of the fan-out.
type chunkOutcome struct {
	concepts   model.ConceptSet
	usage      model.TokenUsage
	diagnostic *model.ChunkDiagnostic
	failed     bool
}

// Run executes the pipeline. The only error returned is context
// cancellation; every other failure degrades into an empty category, a
// diagnostic or a QA issue.
func (p *Pipeline) Run(ctx context.Context, doc model.Document) (*model.ExtractionResult, error) {
	log := zap.L().With(zap.String("document_id", doc.ID))
	log.Info("pipeline: starting extraction")
	start := time.Now()

	result := &model.ExtractionResult{
		DocumentID: doc.ID,
		Title:      doc.Title,
		CreatedAt:  time.Now().UTC(),
	}
	plog := []string{"Starting extraction pipeline."}

	// ===== Chunk =====
	stageStart := time.Now()
	chunks, err := p.chunker.Chunk(doc.Text, p.modelID)
	if err != nil {
		log.Warn("pipeline: chunking failed, sending document as one chunk", zap.Error(err))
		plog = append(plog, fmt.Sprintf("Chunking failed (%v); using the whole document as one chunk.", err))
		chunks = []model.Chunk{{Index: 0, Text: chunker.Normalize(doc.Text)}}
	}
	p.recorder.ObserveStage("chunk", time.Since(stageStart))
	result.ChunkCount = len(chunks)
	plog = append(plog, fmt.Sprintf("Document split into %d chunks.", len(chunks)))

	// ===== Extract (fan-out) =====
	stageStart = time.Now()
	outcomes := make([]chunkOutcome, len(chunks))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, ch := range chunks {
		g.Go(func() error {
			outcomes[i] = p.extractChunk(gCtx, doc, ch)
			return nil // Don't fail the group on individual errors.
		})
	}
	_ = g.Wait()
	p.recorder.ObserveStage("extract", time.Since(stageStart))

	if err := ctx.Err(); err != nil {
		log.Warn("pipeline: canceled during extraction", zap.Error(err))
		return nil, eris.Wrap(err, "pipeline: extract chunks")
	}

	sets := make([]model.ConceptSet, len(outcomes))
	failed := 0
	for i, o := range outcomes {
		sets[i] = o.concepts
		result.Usage.Add(o.usage)
		if o.diagnostic != nil {
			result.Diagnostics = append(result.Diagnostics, *o.diagnostic)
		}
		if o.failed {
			failed++
			reason := "reply could not be parsed"
			if o.diagnostic != nil && o.diagnostic.Error != "" {
				reason = o.diagnostic.Error
			}
			plog = append(plog, fmt.Sprintf("Chunk %d/%d failed: %s. Skipping this chunk.", i+1, len(chunks), reason))
			continue
		}
		plog = append(plog, fmt.Sprintf("Extraction complete for chunk %d/%d (%d tokens).", i+1, len(chunks), chunks[i].TokenCount))
	}
	p.recorder.ObserveChunks(len(chunks), failed)
	if len(chunks) > 0 && failed == len(chunks) {
		log.Warn("pipeline: every chunk failed", zap.Int("chunks", len(chunks)))
		plog = append(plog, "All chunks failed to extract concepts; continuing with empty concepts.")
	}

	// ===== Aggregate + signals =====
	stageStart = time.Now()
	aggregated := Aggregate(sets)
	plog = append(plog, fmt.Sprintf("Merged concepts from %d chunks (%d unique).", len(chunks), aggregated.Total()))

	ambiguity := p.ambiguity.Score(aggregated)
	plog = append(plog, fmt.Sprintf("Ambiguity detection complete (%d fields scored).", len(ambiguity)))

	graph := p.loadGraph(ctx, log)
	base := graph.Clone()
	delta := graph.Analyze(aggregated)
	insights := graph.Insights(p.depThreshold)
	plog = append(plog, "Dependency analysis complete.")

	initial := scoring.Fuse(scoring.FusionInput{
		Concepts:     aggregated,
		Ambiguity:    ambiguity,
		Dependencies: insights,
	})
	plog = append(plog, fmt.Sprintf("Confidence fusion complete (overall %.3f).", initial.OverallConfidence))
	p.recorder.ObserveStage("score", time.Since(stageStart))

	// ===== Self-correction =====
	stageStart = time.Now()
	loop := NewCorrectionLoop(
		NewReinforcementAgent(p.lex, p.reinforceAt),
		p.ambiguity,
		p.maxPasses,
		p.recompute,
	)
	corrected := loop.Run(ctx, CorrectionInput{
		Concepts:     aggregated,
		Ambiguity:    ambiguity,
		Dependencies: insights,
		Confidence:   initial,
		Document:     doc.Text,

		Graph:               base,
		DependencyThreshold: p.depThreshold,
	})
	p.recorder.ObserveStage("correct", time.Since(stageStart))
	if err := ctx.Err(); err != nil {
		log.Warn("pipeline: canceled during self-correction", zap.Error(err))
		return nil, eris.Wrap(err, "pipeline: self-correction")
	}

	// ===== Final fusion + QA =====
	stageStart = time.Now()
	finalAmbiguity := p.ambiguity.Score(corrected.Concepts)
	final := scoring.Fuse(scoring.FusionInput{
		Concepts:     corrected.Concepts,
		Ambiguity:    finalAmbiguity,
		Dependencies: corrected.Dependencies,
		Recovered:    corrected.Recovered,
	})
	plog = append(plog, fmt.Sprintf("Self-correction complete. Passes run: %d. Final confidence: %.3f.",
		corrected.Report.PassesRun, final.OverallConfidence))

	qa := p.qa.Validate(doc.Text, corrected.Concepts)
	plog = append(plog, fmt.Sprintf("QA validation complete (valid: %t, %d issues).", qa.Valid, len(qa.Issues)))
	p.recorder.ObserveStage("validate", time.Since(stageStart))

	p.saveGraph(ctx, delta, log)

	result.Concepts = qa.Concepts
	result.OverallConfidence = final.OverallConfidence
	result.FieldConfidences = final.FieldConfidences
	result.AmbiguityScores = finalAmbiguity
	result.Correction = corrected.Report
	result.QA = qa
	result.ProcessingLog = append(plog, "Extraction pipeline complete.")

	p.recorder.ObserveDocument(qa.Valid, final.OverallConfidence, corrected.Report.PassesRun,
		result.Usage.InputTokens, result.Usage.OutputTokens)
	log.Info("pipeline: extraction complete",
		zap.Int("chunks", len(chunks)),
		zap.Int("failed_chunks", failed),
		zap.Int("concepts", result.Concepts.Total()),
		zap.Float64("overall_confidence", result.OverallConfidence),
		zap.Bool("qa_valid", qa.Valid),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (p *Pipeline) extractChunk(ctx context.Context, doc model.Document, ch model.Chunk) chunkOutcome {
	log := zap.L().With(zap.String("document_id", doc.ID), zap.Int("chunk", ch.Index))
	empty := model.NewConceptSet()

	reply, err := p.gateway.Extract(ctx, gateway.Request{
		DocumentID: doc.ID,
		ChunkIndex: ch.Index,
		Text:       ch.Text,
		Metadata: gateway.Metadata{
			Title:    doc.Title,
			Abstract: doc.Abstract,
			Keywords: doc.Keywords,
		},
	})
	if err != nil {
		log.Warn("pipeline: chunk extraction failed", zap.Error(err))
		return chunkOutcome{
			concepts:   empty,
			diagnostic: &model.ChunkDiagnostic{Chunk: ch.Index, Error: err.Error()},
			failed:     true,
		}
	}

	res := sanitize.Sanitize(reply.Text)
	if !res.Parsed {
		log.Warn("pipeline: reply not parseable", zap.Strings("issues", res.Issues))
		return chunkOutcome{
			concepts: empty,
			usage:    reply.Usage,
			diagnostic: &model.ChunkDiagnostic{
				Chunk:    ch.Index,
				RawReply: res.Raw,
				Issues:   res.Issues,
			},
			failed: true,
		}
	}

	out := chunkOutcome{
		concepts: p.normalizer.Normalize(res.Fields),
		usage:    reply.Usage,
	}
	if len(res.Issues) > 0 {
		out.diagnostic = &model.ChunkDiagnostic{Chunk: ch.Index, Issues: res.Issues}
	}
	return out
}

func (p *Pipeline) loadGraph(ctx context.Context, log *zap.Logger) *scoring.DependencyGraph {
	graph := scoring.NewDependencyGraph(p.lex.Priors())
	if p.graphs == nil {
		return graph
	}
	edges, err := p.graphs.LoadGraph(ctx)
	if err != nil {
		log.Warn("pipeline: load dependency graph failed, using priors only", zap.Error(err))
		return graph
	}
	graph.Merge(edges)
	return graph
}

func (p *Pipeline) saveGraph(ctx context.Context, delta scoring.Edges, log *zap.Logger) {
	if p.graphs == nil || len(delta) == 0 {
		return
	}
	if err := p.graphs.SaveGraph(ctx, delta); err != nil {
		log.Warn("pipeline: save dependency graph failed", zap.Error(err))
	}
}
