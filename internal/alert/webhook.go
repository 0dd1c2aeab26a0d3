// File: internal/alert/webhook.go
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/chain-event-indexer/internal/config"
	"github.com/smartdevs17/chain-event-indexer/pkg/utils"
)

// WebhookAlerter posts alerts as JSON to a configured endpoint
type WebhookAlerter struct {
	url        string
	httpClient *http.Client
	logger     *logrus.Entry
}

// NewWebhookAlerter creates a webhook-backed alerter
func NewWebhookAlerter(cfg config.AlertsConfig) *WebhookAlerter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookAlerter{
		url:    cfg.WebhookURL,
		logger: utils.ComponentLogger("alert"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Send posts the alert to the webhook endpoint
func (a *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal alert", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to build alert request", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.WithError(err).Warn("Alert webhook delivery failed")
		return utils.NewAppError(utils.ErrCodeInternal, "Alert webhook delivery failed", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.WithField("status", resp.StatusCode).Warn("Alert webhook rejected")
		return utils.NewAppError(utils.ErrCodeInternal, "Alert webhook rejected",
			fmt.Sprintf("status %d", resp.StatusCode))
	}

	a.logger.WithField("title", alert.Title).Debug("Alert delivered")
	return nil
}
