// File: internal/alert/alert.go
package alert

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/chain-event-indexer/internal/config"
	"github.com/smartdevs17/chain-event-indexer/pkg/utils"
)

// Severity levels for operational alerts
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is one operational notification, such as a source going stale or an
// event exhausting its dispatch retries
type Alert struct {
	Severity  string                 `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Alerter delivers operational alerts. Delivery is best effort; failures
// are logged and never propagate into the indexing path.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// NewAlerter builds the alerter from configuration. With a webhook URL
// configured alerts go over HTTP; otherwise they land in the log.
func NewAlerter(cfg config.AlertsConfig) Alerter {
	if cfg.WebhookURL != "" {
		return NewWebhookAlerter(cfg)
	}
	return NewLogAlerter()
}

// LogAlerter writes alerts to the application log
type LogAlerter struct {
	logger *logrus.Entry
}

// NewLogAlerter creates a log-backed alerter
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{logger: utils.ComponentLogger("alert")}
}

// Send writes the alert to the log at a level matching its severity
func (a *LogAlerter) Send(_ context.Context, alert Alert) error {
	entry := a.logger.WithFields(logrus.Fields{
		"severity": alert.Severity,
		"title":    alert.Title,
	})
	for k, v := range alert.Fields {
		entry = entry.WithField(k, v)
	}

	if alert.Severity == SeverityCritical {
		entry.Error(alert.Message)
	} else {
		entry.Warn(alert.Message)
	}
	return nil
}
