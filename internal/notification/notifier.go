// Package notification delivers operator alerts (feed exhausted, order
// rejected) to external channels.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Time    time.Time  `json:"ts"`
}

func (a Alert) at() time.Time {
	if a.Time.IsZero() {
		return time.Now().UTC()
	}
	return a.Time.UTC()
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger uses slog.Default.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{log: l.With("component", "notify")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertCritical:
		level = slog.LevelError
	}
	n.log.Log(ctx, level, alert.Title, "message", alert.Message, "ts", alert.at())
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
