package model

import "time"

// Chunk is a token-bounded slice of document text.
type Chunk struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// Document is the pipeline input: extracted plain text plus optional
// metadata used only to build the model prompt.
type Document struct {
	ID       string   `json:"document_id"`
	Title    string   `json:"title,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Text     string   `json:"text"`
}

// RecoveryStrategy names how the reinforcement agent tried to fill a field.
type RecoveryStrategy string

const (
	StrategyKeywordSearch RecoveryStrategy = "keyword_search"
	StrategyNone          RecoveryStrategy = "none"
)

// RecoveryOutcome is the result of one recovery attempt.
type RecoveryOutcome string

const (
	OutcomeImproved RecoveryOutcome = "success_improved"
	OutcomeNoChange RecoveryOutcome = "success_no_change"
	OutcomeNoMatch  RecoveryOutcome = "failed_no_match"
	OutcomeSkipped  RecoveryOutcome = "skipped"
)

// RecoveryAttempt is an append-only audit record of one reinforcement action.
type RecoveryAttempt struct {
	Field    Category         `json:"field"`
	Strategy RecoveryStrategy `json:"strategy"`
	Query    string           `json:"query,omitempty"`
	Outcome  RecoveryOutcome  `json:"outcome"`
	Before   []string         `json:"before"`
	After    []string         `json:"after"`
	Details  string           `json:"details,omitempty"`
}

// CorrectionPass records one self-correction iteration.
type CorrectionPass struct {
	Pass               int               `json:"pass"`
	Summary            string            `json:"summary"`
	Attempts           []RecoveryAttempt `json:"attempts"`
	ConceptsBefore     ConceptSet        `json:"concepts_before"`
	ConceptsAfter      ConceptSet        `json:"concepts_after"`
	Confidence         ConfidenceResult  `json:"confidence"`
	NeedsFurtherReview bool              `json:"needs_further_review"`
}

// CorrectionReport is the full self-correction history.
type CorrectionReport struct {
	PassesRun        int              `json:"passes_run"`
	MaxPasses        int              `json:"max_passes"`
	RecomputeSignals bool             `json:"recompute_signals"`
	Passes           []CorrectionPass `json:"passes"`
	Log              []string         `json:"log"`
}

// QAResult is the final structural validation verdict.
type QAResult struct {
	Valid      bool       `json:"valid"`
	Issues     []string   `json:"issues"`
	Concepts   ConceptSet `json:"concepts"`
	Confidence float64    `json:"confidence"`
}

// ChunkDiagnostic keeps the raw reply of a chunk that failed extraction.
type ChunkDiagnostic struct {
	Chunk    int      `json:"chunk"`
	Error    string   `json:"error,omitempty"`
	RawReply string   `json:"raw_reply,omitempty"`
	Issues   []string `json:"issues,omitempty"`
}

// TokenUsage tracks model token consumption across a document.
type TokenUsage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
}

// ExtractionResult is the sole exported artifact of a pipeline run.
type ExtractionResult struct {
	DocumentID        string            `json:"document_id"`
	Title             string            `json:"title,omitempty"`
	Concepts          ConceptSet        `json:"concepts"`
	OverallConfidence float64           `json:"overall_confidence"`
	FieldConfidences  []FieldConfidence `json:"field_confidences"`
	AmbiguityScores   []AmbiguityScore  `json:"ambiguity_scores"`
	ProcessingLog     []string          `json:"processing_log"`
	Correction        CorrectionReport  `json:"correction"`
	QA                QAResult          `json:"qa"`
	Diagnostics       []ChunkDiagnostic `json:"diagnostics,omitempty"`
	Usage             TokenUsage        `json:"usage"`
	ChunkCount        int               `json:"chunk_count"`
	CreatedAt         time.Time         `json:"created_at"`
}
