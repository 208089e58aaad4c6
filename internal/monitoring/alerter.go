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

	"github.com/sells-group/corpus-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate     AlertType = "annotation_failure_rate"
	AlertHalted          AlertType = "annotation_halted"
	AlertBudgetExhausted AlertType = "budget_exhausted"
	AlertCostOverrun     AlertType = "cost_overrun"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	RunID     string         `json:"run_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RunSnapshot summarizes one finished annotation run.
type RunSnapshot struct {
	RunID           string
	Submitted       int64
	Succeeded       int64
	Failed          int64
	Expired         int64
	Halted          bool
	BudgetExhausted bool
	CostUSD         float64
}

// Finished is the number of outcomes recorded by the run.
func (s RunSnapshot) Finished() int64 {
	return s.Succeeded + s.Failed
}

// FailureRate is Failed over Finished, or 0 when nothing finished.
func (s RunSnapshot) FailureRate() float64 {
	if s.Finished() == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Finished())
}

// Alerter evaluates a RunSnapshot against configured thresholds
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
func (a *Alerter) Evaluate(snap RunSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.Finished()
	if a.cfg.FailureRateThreshold > 0 && finished >= a.cfg.MinFinished && finished > 0 &&
		snap.FailureRate() > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			RunID:    snap.RunID,
			Message: fmt.Sprintf(
				"Annotation failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished)",
				snap.FailureRate()*100, a.cfg.FailureRateThreshold*100, snap.Failed, finished,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate(),
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"expired":      snap.Expired,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if snap.Halted {
		alerts = append(alerts, Alert{
			Type:      AlertHalted,
			Severity:  "high",
			RunID:     snap.RunID,
			Message:   fmt.Sprintf("Annotation halted after consecutive transient failures (%d submitted)", snap.Submitted),
			Details:   map[string]any{"submitted": snap.Submitted, "failed": snap.Failed},
			Timestamp: now,
		})
	}

	if snap.BudgetExhausted {
		alerts = append(alerts, Alert{
			Type:      AlertBudgetExhausted,
			Severity:  "medium",
			RunID:     snap.RunID,
			Message:   fmt.Sprintf("Annotation stopped at cost budget ($%.2f spent)", snap.CostUSD),
			Details:   map[string]any{"cost_usd": snap.CostUSD, "submitted": snap.Submitted},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			RunID:    snap.RunID,
			Message: fmt.Sprintf(
				"API cost $%.2f exceeds threshold $%.2f",
				snap.CostUSD, a.cfg.CostThresholdUSD,
			),
			Details: map[string]any{
				"cost_usd":      snap.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
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

// Check evaluates the snapshot and sends whatever fires.
func (a *Alerter) Check(ctx context.Context, snap RunSnapshot) int {
	alerts := a.Evaluate(snap)
	if len(alerts) == 0 {
		zap.L().Debug("monitoring: no alerts triggered", zap.String("run_id", snap.RunID))
		return 0
	}
	for _, alert := range alerts {
		zap.L().Warn("monitoring: alert triggered",
			zap.String("type", string(alert.Type)),
			zap.String("message", alert.Message),
		)
	}
	return a.SendAlerts(ctx, alerts)
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
