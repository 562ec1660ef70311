package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/concept-cli/internal/model"
	"github.com/sells-group/concept-cli/internal/store"
)

// maxCollectedRuns caps how many runs one snapshot reads.
const maxCollectedRuns = 10000

// MetricsSnapshot holds a point-in-time view of extraction health.
type MetricsSnapshot struct {
	// Run counts within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsInFlight int     `json:"runs_in_flight"`
	FailRate     float64 `json:"fail_rate"`

	// Result quality over completed runs.
	AvgConfidence   float64 `json:"avg_confidence"`
	LowConfidence   int     `json:"low_confidence"`
	LowConfidenceAt float64 `json:"low_confidence_below"`
	QAInvalid       int     `json:"qa_invalid"`
	QAInvalidRate   float64 `json:"qa_invalid_rate"`
	AvgPasses       float64 `json:"avg_correction_passes"`
	FailedChunks    int     `json:"failed_chunks"`
	AvgTokens       int     `json:"avg_tokens"`
	CostUSD         float64 `json:"cost_usd"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the store query the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run metrics from the store.
type Collector struct {
	runs          RunLister
	lowConfidence float64
}

// NewCollector creates a collector. Completed runs whose overall confidence
// is below lowConfidence are counted as low confidence.
func NewCollector(runs RunLister, lowConfidence float64) *Collector {
	return &Collector{runs: runs, lowConfidence: lowConfidence}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LowConfidenceAt: c.lowConfidence,
		LookbackHours:   lookbackHours,
		CollectedAt:     time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        maxCollectedRuns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var (
		totalConfidence float64
		totalPasses     int
		totalTokens     int64
		withResult      int
	)

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusQueued, model.RunStatusExtracting:
			snap.RunsInFlight++
		}
		if r.Result == nil {
			continue
		}

		res := r.Result
		withResult++
		totalConfidence += res.OverallConfidence
		totalPasses += res.Correction.PassesRun
		totalTokens += res.Usage.InputTokens + res.Usage.OutputTokens
		snap.CostUSD += res.Usage.CostUSD
		for _, d := range res.Diagnostics {
			if d.Error != "" || d.RawReply != "" {
				snap.FailedChunks++
			}
		}
		if res.OverallConfidence < c.lowConfidence {
			snap.LowConfidence++
		}
		if !res.QA.Valid {
			snap.QAInvalid++
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if withResult > 0 {
		snap.AvgConfidence = totalConfidence / float64(withResult)
		snap.AvgPasses = float64(totalPasses) / float64(withResult)
		snap.QAInvalidRate = float64(snap.QAInvalid) / float64(withResult)
		snap.AvgTokens = int(totalTokens / int64(withResult))
	}

	return snap, nil
}
