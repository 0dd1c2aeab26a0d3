// File: internal/alert/alert_test.go
package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/chain-event-indexer/internal/config"
)

func TestWebhookAlerterDeliversPayload(t *testing.T) {
	var received Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	alerter := NewWebhookAlerter(config.AlertsConfig{
		WebhookURL: server.URL,
		Timeout:    5 * time.Second,
	})

	err := alerter.Send(context.Background(), Alert{
		Severity: SeverityCritical,
		Title:    "Event dispatch retries exhausted",
		Message:  "event evt-1 failed 3 dispatch attempts",
		Fields:   map[string]interface{}{"event_id": "evt-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, SeverityCritical, received.Severity)
	assert.Equal(t, "Event dispatch retries exhausted", received.Title)
	assert.Equal(t, "evt-1", received.Fields["event_id"])
	assert.False(t, received.Timestamp.IsZero())
}

func TestWebhookAlerterReportsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	alerter := NewWebhookAlerter(config.AlertsConfig{WebhookURL: server.URL})

	err := alerter.Send(context.Background(), Alert{Severity: SeverityWarning, Title: "test"})
	assert.Error(t, err)
}

func TestNewAlerterSelectsBackend(t *testing.T) {
	assert.IsType(t, &WebhookAlerter{}, NewAlerter(config.AlertsConfig{WebhookURL: "http://localhost:9"}))
	assert.IsType(t, &LogAlerter{}, NewAlerter(config.AlertsConfig{}))
}

func TestLogAlerterNeverFails(t *testing.T) {
	alerter := NewLogAlerter()
	assert.NoError(t, alerter.Send(context.Background(), Alert{
		Severity: SeverityWarning,
		Title:    "source stale",
		Fields:   map[string]interface{}{"source": "31:0xabc:erc20"},
	}))
}
