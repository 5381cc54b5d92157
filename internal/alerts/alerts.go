// Package alerts fans operational alerts out to one or more channels.
// The pipeline and scheduler raise alerts for auto-paused strategies,
// an open LLM circuit, and exhausted daily caps; channels are the
// structured log and, when configured, Telegram.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Severity grades an alert
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is one outbound alert
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Alerter delivers an alert on one channel
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans alerts out to every configured channel. Delivery is
// best-effort per channel; the last failure is returned.
type Manager struct {
	alerters []Alerter
}

// NewManager creates a manager over the given channels
func NewManager(alerters ...Alerter) *Manager {
	return &Manager{alerters: alerters}
}

// Send delivers the alert on every channel
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	var lastErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Error().Err(err).Str("title", alert.Title).Msg("Failed to send alert")
			lastErr = err
		}
	}
	return lastErr
}

// StrategyPaused alerts that a strategy's rolling accuracy fell below
// the auto-pause threshold and it was taken out of rotation.
func (m *Manager) StrategyPaused(ctx context.Context, strategyID string, accuracy float64, window int) {
	_ = m.Send(ctx, Alert{
		Title:    "Strategy Auto-Paused",
		Message:  fmt.Sprintf("Strategy %s paused: accuracy %.0f%% over the last %d trades", strategyID, accuracy*100, window),
		Severity: SeverityWarning,
		Metadata: map[string]interface{}{
			"strategy_id": strategyID,
			"accuracy":    accuracy,
			"window":      window,
		},
	})
}

// CircuitOpen alerts that the LLM circuit breaker has opened and
// signal validation is being skipped.
func (m *Manager) CircuitOpen(ctx context.Context, failures uint32) {
	_ = m.Send(ctx, Alert{
		Title:    "LLM Circuit Open",
		Message:  fmt.Sprintf("LLM circuit breaker opened after %d consecutive failures; signals pass through unvalidated", failures),
		Severity: SeverityCritical,
		Metadata: map[string]interface{}{"failures": failures},
	})
}

// DailyCapReached alerts that a user's agent hit its daily signal or
// trade budget and will idle until the next session.
func (m *Manager) DailyCapReached(ctx context.Context, userID, cap string, limit int) {
	_ = m.Send(ctx, Alert{
		Title:    "Daily Cap Reached",
		Message:  fmt.Sprintf("Agent for user %s reached its daily %s cap (%d)", userID, cap, limit),
		Severity: SeverityInfo,
		Metadata: map[string]interface{}{
			"user_id": userID,
			"cap":     cap,
			"limit":   limit,
		},
	})
}

// EngineUnavailable alerts that the native scan engine stopped
// responding and cycles are running on the LLM fallback.
func (m *Manager) EngineUnavailable(ctx context.Context, err error) {
	_ = m.Send(ctx, Alert{
		Title:    "Scan Engine Unavailable",
		Message:  fmt.Sprintf("Native scan engine unreachable, falling back to LLM signals: %v", err),
		Severity: SeverityWarning,
		Metadata: map[string]interface{}{"error": err.Error()},
	})
}

// LogAlerter writes alerts to the structured log
type LogAlerter struct{}

// NewLogAlerter creates a log channel
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{}
}

// Send logs the alert at a level matching its severity
func (l *LogAlerter) Send(_ context.Context, alert Alert) error {
	event := log.Info()
	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	}

	for key, value := range alert.Metadata {
		event = event.Interface(key, value)
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Msg(alert.Message)

	return nil
}
