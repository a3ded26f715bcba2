package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginFailureSpikeAlert(t *testing.T) {
	var alerts []AlertEvent
	collector := newMetricsCollector(func(e AlertEvent) {
		alerts = append(alerts, e)
	})
	collector.loginThreshold = 5

	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditLoginFailure)
	}
	assert.Empty(t, alerts)

	collector.recordEvent(AuditLoginRateLimited)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLoginFailureSpike, alerts[0].Type)
	assert.Equal(t, 5, alerts[0].Count)
	assert.Equal(t, 5, alerts[0].Threshold)

	// The window resets after an alert.
	collector.recordEvent(AuditLoginFailure)
	assert.Len(t, alerts, 1)
}

func TestMetricsIgnoresOtherEvents(t *testing.T) {
	var fired bool
	collector := newMetricsCollector(func(AlertEvent) { fired = true })
	collector.loginThreshold = 1

	collector.recordEvent(AuditLoginSuccess)
	collector.recordEvent(AuditUserCreated)
	collector.recordEvent(AuditTokenRejected)
	assert.False(t, fired)
}

func TestMetricsWithoutAlertFunc(t *testing.T) {
	var collector *metricsCollector
	assert.NotPanics(t, func() { collector.recordEvent(AuditLoginFailure) })

	collector = newMetricsCollector(nil)
	assert.NotPanics(t, func() { collector.recordEvent(AuditLoginFailure) })
}

func TestTrimWindow(t *testing.T) {
	now := time.Now()
	times := []time.Time{
		now.Add(-3 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-30 * time.Second),
		now,
	}
	got := trimWindow(times, now, time.Minute)
	assert.Equal(t, times[2:], got)
}
