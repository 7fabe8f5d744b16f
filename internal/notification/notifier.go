// Package notification delivers operator alerts (Telegram, webhooks, log).
// Delivery is best effort: guard logic never waits on or fails because of
// an alert.
package notification

import (
	"context"
	"errors"
	"log"
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
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts. It is the fallback when no channel is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans an alert out to every notifier and joins the failures.
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

// DefaultAlertTimeout bounds a single best-effort delivery.
const DefaultAlertTimeout = 5 * time.Second

// Alerter wraps a Notifier so that failures are logged and swallowed.
type Alerter struct {
	n       Notifier
	timeout time.Duration
	log     *slog.Logger
}

func NewAlerter(n Notifier, timeout time.Duration, logger *slog.Logger) *Alerter {
	if n == nil {
		n = NewLogNotifier()
	}
	if timeout <= 0 {
		timeout = DefaultAlertTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{n: n, timeout: timeout, log: logger}
}

// Alert sends without blocking longer than the timeout. Parent cancellation
// does not suppress the alert.
func (a *Alerter) Alert(ctx context.Context, level AlertLevel, title, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	if err := a.n.Send(ctx, Alert{Level: level, Title: title, Message: message}); err != nil {
		a.log.Warn("alert delivery failed", "title", title, "error", err)
	}
}

func (a *Alerter) Info(ctx context.Context, title, message string) {
	a.Alert(ctx, AlertInfo, title, message)
}

func (a *Alerter) Warn(ctx context.Context, title, message string) {
	a.Alert(ctx, AlertWarning, title, message)
}

func (a *Alerter) Critical(ctx context.Context, title, message string) {
	a.Alert(ctx, AlertCritical, title, message)
}
