package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/concept-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate   AlertType = "failure_rate"
	AlertCostOverrun   AlertType = "cost_overrun"
	AlertLowConfidence AlertType = "low_confidence"
	AlertQAInvalidRate AlertType = "qa_invalid_rate"
)

// minRunsForRate is the number of finished runs needed before rate-based
// alerts fire.
const minRunsForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// A zero threshold disables its check.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsComplete + snap.RunsFailed
	if a.cfg.FailureRateThreshold > 0 && finished >= minRunsForRate && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Extraction failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Model cost $%.2f exceeds threshold $%.2f in last %dh",
				snap.CostUSD, a.cfg.CostThresholdUSD, snap.LookbackHours,
			),
			Details: map[string]any{
				"cost_usd":      snap.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
				"runs_total":    snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MinAvgConfidence > 0 && snap.RunsComplete >= minRunsForRate && snap.AvgConfidence < a.cfg.MinAvgConfidence {
		alerts = append(alerts, Alert{
			Type:     AlertLowConfidence,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Average overall confidence %.3f is below %.3f (%d of %d completed runs under %.2f in last %dh)",
				snap.AvgConfidence, a.cfg.MinAvgConfidence,
				snap.LowConfidence, snap.RunsComplete, snap.LowConfidenceAt, snap.LookbackHours,
			),
			Details: map[string]any{
				"avg_confidence": snap.AvgConfidence,
				"threshold":      a.cfg.MinAvgConfidence,
				"low_confidence": snap.LowConfidence,
				"runs_complete":  snap.RunsComplete,
			},
			Timestamp: now,
		})
	}

	if a.cfg.QAInvalidRateThreshold > 0 && snap.RunsComplete >= minRunsForRate && snap.QAInvalidRate > a.cfg.QAInvalidRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertQAInvalidRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"QA rejected %.1f%% of results, above threshold %.1f%% (%d invalid in last %dh)",
				snap.QAInvalidRate*100, a.cfg.QAInvalidRateThreshold*100,
				snap.QAInvalid, snap.LookbackHours,
			),
			Details: map[string]any{
				"qa_invalid_rate": snap.QAInvalidRate,
				"threshold":       a.cfg.QAInvalidRateThreshold,
				"qa_invalid":      snap.QAInvalid,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
