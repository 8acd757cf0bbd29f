package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCrawlFailure   AlertType = "crawl_failure"
	AlertJobFailureRate AlertType = "job_failure_rate"
	AlertStaleCrawl     AlertType = "stale_crawl"
)

// minFinishedJobs keeps one bad run on a quiet day from tripping the rate.
const minFinishedJobs = 3

// Alert represents a single alert to be sent.
type Alert struct {
	ID        string         `json:"id"`
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

func newAlert(t AlertType, severity, msg string, details map[string]any, now time.Time) Alert {
	return Alert{ID: uuid.New().String(), Type: t, Severity: severity, Message: msg, Details: details, Timestamp: now}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if snap.CrawlFailed > 0 {
		alerts = append(alerts, newAlert(AlertCrawlFailure, "high",
			fmt.Sprintf("순위 크롤링 실패 %d건 (최근 %d시간, 전체 %d건)", snap.CrawlFailed, snap.LookbackHours, snap.CrawlTotal),
			map[string]any{
				"failed": snap.CrawlFailed,
				"total":  snap.CrawlTotal,
			}, now))
	}

	finished := snap.JobSuccess + snap.JobFailed
	if a.cfg.FailureRateThreshold > 0 && finished >= minFinishedJobs && snap.JobFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, newAlert(AlertJobFailureRate, "high",
			fmt.Sprintf("Job failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.JobFailRate*100, a.cfg.FailureRateThreshold*100, snap.JobFailed, finished, snap.LookbackHours),
			map[string]any{
				"failure_rate": snap.JobFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.JobFailed,
				"finished":     finished,
			}, now))
	}

	if a.cfg.StaleCrawlHours > 0 {
		limit := time.Duration(a.cfg.StaleCrawlHours) * time.Hour
		switch {
		case snap.LastCrawlAt == nil:
			alerts = append(alerts, newAlert(AlertStaleCrawl, "medium", "No crawl has ever been logged", nil, now))
		case now.Sub(*snap.LastCrawlAt) > limit:
			age := now.Sub(*snap.LastCrawlAt)
			alerts = append(alerts, newAlert(AlertStaleCrawl, "medium",
				fmt.Sprintf("Last crawl was %.0fh ago (limit %dh)", age.Hours(), a.cfg.StaleCrawlHours),
				map[string]any{
					"last_crawl_at": snap.LastCrawlAt.Format(time.RFC3339),
					"age_hours":     age.Hours(),
				}, now))
		}
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
			zap.String("id", alert.ID),
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
