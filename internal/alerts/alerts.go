// Package alerts counts operational failures in Redis windows and escalates
// the ones that cross a threshold to an error reporter.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EventUpstreamFailure     = "upstream_failure"
	EventPartialWriteFailure = "partial_write_failure"
	EventPushFailure         = "push_failure"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Result contains alert evaluation output.
type Result struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// Alert is what reaches the Reporter.
type Alert struct {
	Event   string
	Outcome string
	Subject string
	Count   int64
	Err     error
	Fields  map[string]any
}

func (a Alert) Message() string {
	msg := fmt.Sprintf("%s %s (%d in window)", a.Event, a.Outcome, a.Count)
	if a.Err != nil {
		msg += ": " + a.Err.Error()
	}
	return msg
}

// Reporter ships alerts somewhere humans look.
type Reporter interface {
	Report(ctx context.Context, alert Alert) error
}

// Alerter aggregates events and reports those that reach their threshold.
type Alerter struct {
	client   redis.UniversalClient
	prefix   string
	reporter Reporter
	logger   *slog.Logger
	now      func() time.Time
}

// New returns nil when client is nil; a nil Alerter ignores every event.
func New(client redis.UniversalClient, prefix string, reporter Reporter, logger *slog.Logger) *Alerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "fieldsync:alerts"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{client: client, prefix: prefix, reporter: reporter, logger: logger, now: time.Now}
}

// Observe records an event and returns whether its threshold is reached.
func (a *Alerter) Observe(ctx context.Context, event, outcome, subject string) (Result, error) {
	result := Result{}
	if a == nil {
		return result, nil
	}
	threshold, window, ok := alertRule(event, outcome)
	if !ok {
		return result, nil
	}
	windowMs := window.Milliseconds()
	slot := a.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(subject), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return result, err
	}
	result.Count = count
	result.Threshold = threshold
	result.Window = window
	result.Triggered = count >= threshold
	return result, nil
}

// Escalate observes the event and hands it to the reporter once triggered.
// Counter or reporter failures are logged, never returned.
func (a *Alerter) Escalate(ctx context.Context, alert Alert) {
	if a == nil {
		return
	}
	if alert.Outcome == "" {
		alert.Outcome = "fail"
	}
	result, err := a.Observe(ctx, alert.Event, alert.Outcome, alert.Subject)
	if err != nil {
		a.logger.Warn("alert counter failed", "event", alert.Event, "err", err)
		return
	}
	if !result.Triggered {
		return
	}
	alert.Count = result.Count
	a.logger.Error("alert_triggered", "event", alert.Event, "outcome", alert.Outcome, "count", result.Count, "threshold", result.Threshold)
	if a.reporter == nil {
		return
	}
	if err := a.reporter.Report(ctx, alert); err != nil {
		a.logger.Warn("alert report failed", "event", alert.Event, "err", err)
	}
}

func alertRule(event, outcome string) (threshold int64, window time.Duration, ok bool) {
	event = strings.TrimSpace(event)
	outcome = strings.TrimSpace(outcome)
	switch event {
	case EventPartialWriteFailure:
		return 1, time.Minute, true
	case EventUpstreamFailure:
		return 5, 5 * time.Minute, true
	case EventPushFailure:
		return 3, 10 * time.Minute, true
	}
	if outcome == "rate_limited" {
		return 20, time.Minute, true
	}
	if outcome != "fail" {
		return 0, 0, false
	}
	switch event {
	case "auth.login", "auth.register", "auth.google":
		return 10, 5 * time.Minute, true
	case "auth.password_reset", "auth.logout":
		return 15, 5 * time.Minute, true
	case "authz.admin":
		return 25, 5 * time.Minute, true
	default:
		return 0, 0, false
	}
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(":", "_", "|", "_", " ", "_")
	return replacer.Replace(in)
}
