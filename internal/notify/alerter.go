package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/balance-cli/internal/config"
	"github.com/sells-group/balance-cli/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate  AlertType = "batch_failure_rate"
	AlertManualAction AlertType = "manual_action_required"
	AlertAllBlocked   AlertType = "all_accounts_blocked"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a finished report against configured thresholds and
// sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	nowFunc func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		nowFunc: time.Now,
	}
}

func (a *Alerter) Name() string { return "alerter" }

// Evaluate checks the report against thresholds and returns any alerts.
func (a *Alerter) Evaluate(r *model.BatchReport) []Alert {
	var alerts []Alert
	now := a.nowFunc().UTC()

	rate := r.FailureRate()
	if r.Total >= a.cfg.MinAccounts && r.Total > 0 && rate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Batch failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d accounts)",
				rate*100, a.cfg.FailureRateThreshold*100, r.Stats.FailureCount, r.Total,
			),
			Details: map[string]any{
				"failure_rate": rate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       r.Stats.FailureCount,
				"total":        r.Total,
				"run_id":       r.RunID,
			},
			Timestamp: now,
		})
	}

	blocked := 0
	var manual []string
	for _, f := range r.Failures {
		switch f.Kind {
		case model.FailureBlockDetected:
			blocked++
		case model.FailureAuthFailed, model.FailureResetRequired:
			manual = append(manual, f.Username)
		}
	}

	if r.Total > 0 && blocked == r.Total {
		alerts = append(alerts, Alert{
			Type:      AlertAllBlocked,
			Severity:  "high",
			Message:   fmt.Sprintf("All %d accounts were blocked by the site defense system", r.Total),
			Details:   map[string]any{"total": r.Total, "run_id": r.RunID},
			Timestamp: now,
		})
	}

	if len(manual) > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertManualAction,
			Severity:  "medium",
			Message:   fmt.Sprintf("%d account(s) need credential attention", len(manual)),
			Details:   map[string]any{"accounts": manual, "run_id": r.RunID},
			Timestamp: now,
		})
	}

	return alerts
}

// SendReport evaluates r and sends the resulting alerts.
func (a *Alerter) SendReport(ctx context.Context, r *model.BatchReport) error {
	alerts := a.Evaluate(r)
	if sent := a.SendAlerts(ctx, alerts); a.cfg.WebhookURL != "" && sent < len(alerts) {
		return eris.Errorf("notify: sent %d of %d alerts", sent, len(alerts))
	}
	return nil
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
			zap.L().Error("notify: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("notify: alert sent",
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
		return eris.Wrap(err, "notify: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
