package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rsai-cli/internal/config"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		MaxPendingJobs:       10,
		StuckAfterMinutes:    120,
		LookbackWindowHours:  24,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&Snapshot{Completed: 20, Failed: 1, FailRate: 0.05, Pending: 3})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&Snapshot{Completed: 6, Failed: 4, FailRate: 0.4, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertJobFailureRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Equal(t, 10, alerts[0].Details["finished"])
}

func TestAlerter_Evaluate_MinimumFinishedRequired(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&Snapshot{Completed: 1, Failed: 2, FailRate: 0.67})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_BacklogAndStuck(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	alerts := a.Evaluate(&Snapshot{Pending: 11, Running: 2, Stuck: 1})
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertJobBacklog, alerts[0].Type)
	assert.Equal(t, AlertStuckJobs, alerts[1].Type)
	assert.Contains(t, alerts[1].Message, "120 minutes")
}

func TestAlerter_Evaluate_BacklogDisabled(t *testing.T) {
	cfg := testMonitoringConfig()
	cfg.MaxPendingJobs = 0
	alerts := NewAlerter(cfg).Evaluate(&Snapshot{Pending: 1000})
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertJobFailureRate, Severity: "high"},
		{Type: AlertStuckJobs, Severity: "high"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertJobBacklog}}))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	sent := NewAlerter(cfg).SendAlerts(context.Background(), []Alert{{Type: AlertJobBacklog}})
	assert.Equal(t, 0, sent)
}
