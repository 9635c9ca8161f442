// Package monitoring turns run reports into webhook alerts.
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

	"github.com/sells-group/goldrate-cli/internal/config"
	"github.com/sells-group/goldrate-cli/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailed     AlertType = "run_failed"
	AlertTargetFailed  AlertType = "target_failed"
	AlertRejectRate    AlertType = "reject_rate"
	AlertPartialWindow AlertType = "partial_window"
)

// minReadingsForRate keeps tiny runs from tripping the reject-rate alert.
const minReadingsForRate = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	RunID     string         `json:"run_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a RunReport against configured thresholds and sends
// alerts via webhook.
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

// Enabled reports whether a webhook is configured.
func (a *Alerter) Enabled() bool { return a.cfg.WebhookURL != "" }

// Evaluate checks the report and returns any alerts. A fully failed run
// yields a single run_failed alert rather than one per target.
func (a *Alerter) Evaluate(report *model.RunReport) []Alert {
	now := time.Now().UTC()

	if report.Status == model.StatusFailed {
		errs := make(map[string]string, len(report.Outcomes))
		for _, o := range report.Outcomes {
			errs[o.Target.String()] = o.Error
		}
		return []Alert{{
			Type:      AlertRunFailed,
			Severity:  "critical",
			Message:   fmt.Sprintf("Run %s failed for all %d target(s)", report.RunID, len(report.Outcomes)),
			RunID:     report.RunID,
			Details:   map[string]any{"errors": errs},
			Timestamp: now,
		}}
	}

	var alerts []Alert
	for _, o := range report.Outcomes {
		switch o.Status {
		case model.StatusFailed:
			alerts = append(alerts, Alert{
				Type:     AlertTargetFailed,
				Severity: "high",
				Message:  fmt.Sprintf("Target %s failed: %s", o.Target, o.Error),
				RunID:    report.RunID,
				Details: map[string]any{
					"jeweller": string(o.Target.Jeweller),
					"city":     string(o.Target.City),
				},
				Timestamp: now,
			})
		case model.StatusPartial:
			alerts = append(alerts, Alert{
				Type:     AlertPartialWindow,
				Severity: "low",
				Message:  fmt.Sprintf("Target %s skipped %d day(s)", o.Target, len(o.SkippedDays)),
				RunID:    report.RunID,
				Details: map[string]any{
					"skipped_days": o.SkippedDays,
					"written":      o.Written,
				},
				Timestamp: now,
			})
		}
	}

	written, rejected := report.Totals()
	total := written + rejected
	if a.cfg.RejectRateThreshold > 0 && total >= minReadingsForRate {
		rate := float64(rejected) / float64(total)
		if rate > a.cfg.RejectRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertRejectRate,
				Severity: "medium",
				Message: fmt.Sprintf("Reject rate %.1f%% exceeds threshold %.1f%% (%d rejected / %d readings)",
					rate*100, a.cfg.RejectRateThreshold*100, rejected, total),
				RunID: report.RunID,
				Details: map[string]any{
					"reject_rate": rate,
					"threshold":   a.cfg.RejectRateThreshold,
					"rejected":    rejected,
					"written":     written,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// Notify evaluates the report and sends any alerts. It returns the number
// of alerts delivered.
func (a *Alerter) Notify(ctx context.Context, report *model.RunReport) int {
	return a.SendAlerts(ctx, a.Evaluate(report))
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

// sendWebhook posts a single alert to the webhook URL.
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
