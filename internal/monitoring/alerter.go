package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zalahq/leadscout/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertQuotaNearLimit AlertType = "quota_near_limit"
	AlertQuotaExhausted AlertType = "quota_exhausted"
	AlertBreakerOpen    AlertType = "breaker_open"
)

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
// A zero QuotaWarnFraction disables near-limit alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, q := range snap.Quotas {
		if q.Limit <= 0 {
			continue
		}
		details := map[string]any{
			"provider": q.Provider,
			"period":   q.Period,
			"count":    q.Count,
			"limit":    q.Limit,
		}
		switch {
		case q.Count >= q.Limit:
			alerts = append(alerts, Alert{
				Type:      AlertQuotaExhausted,
				Severity:  "high",
				Message:   fmt.Sprintf("%s monthly quota exhausted (%d/%d calls in %s)", q.Provider, q.Count, q.Limit, q.Period),
				Details:   details,
				Timestamp: now,
			})
		case a.cfg.QuotaWarnFraction > 0 && q.Used >= a.cfg.QuotaWarnFraction:
			alerts = append(alerts, Alert{
				Type:     AlertQuotaNearLimit,
				Severity: "medium",
				Message: fmt.Sprintf("%s monthly quota at %.1f%% (%d/%d calls in %s)",
					q.Provider, q.Used*100, q.Count, q.Limit, q.Period),
				Details:   details,
				Timestamp: now,
			})
		}
	}

	names := make([]string, 0, len(snap.OpenBreakers))
	for name := range snap.OpenBreakers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		alerts = append(alerts, Alert{
			Type:      AlertBreakerOpen,
			Severity:  "high",
			Message:   fmt.Sprintf("%s circuit breaker is %s", name, snap.OpenBreakers[name]),
			Details:   map[string]any{"provider": name, "state": snap.OpenBreakers[name]},
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
