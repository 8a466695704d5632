package alerts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryReporter captures alerts as Sentry events.
type SentryReporter struct {
	hub *sentry.Hub
}

func NewSentryReporter(dsn, environment, release string) (*SentryReporter, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sentry dsn is required")
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return nil, err
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (r *SentryReporter) Report(_ context.Context, alert Alert) error {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("event", alert.Event)
		scope.SetTag("outcome", alert.Outcome)
		if alert.Subject != "" {
			scope.SetTag("subject", alert.Subject)
		}
		scope.SetExtra("count", alert.Count)
		for k, v := range alert.Fields {
			scope.SetExtra(k, v)
		}
		if alert.Err != nil {
			r.hub.CaptureException(alert.Err)
			return
		}
		r.hub.CaptureMessage(alert.Message())
	})
	return nil
}

// Flush waits for buffered events, used on shutdown.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

// LogReporter is the fallback when no DSN is configured.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(_ context.Context, alert Alert) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"event", alert.Event, "outcome", alert.Outcome, "subject", alert.Subject, "count", alert.Count}
	if alert.Err != nil {
		args = append(args, "err", alert.Err)
	}
	for k, v := range alert.Fields {
		args = append(args, k, v)
	}
	logger.Error("alert", args...)
	return nil
}
