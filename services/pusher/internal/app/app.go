package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"fieldsync/internal/alerts"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/push"
	"fieldsync/pkg/queue"
	"fieldsync/pkg/store"
	"golang.org/x/sync/errgroup"
)

// Sender delivers one notification to one subscription.
type Sender interface {
	Send(ctx context.Context, sub domain.PushSubscription, n push.Notification) error
}

// Queue is the subset of the push queue the worker needs.
type Queue interface {
	Start(ctx context.Context, concurrency int, handler queue.Handler) error
	GetJob(ctx context.Context, jobID string) (queue.Job, bool, error)
}

// Config holds runtime dependencies.
type Config struct {
	DB     store.DB
	Sender Sender
	Queue  Queue
	Alerts *alerts.Alerter
	Logger *slog.Logger
	// FanoutConcurrency bounds parallel sends within one job. Defaults to 8.
	FanoutConcurrency int
	SendTimeout       time.Duration
}

// App fans queued push jobs out to stored subscriptions.
type App struct {
	db          store.DB
	sender      Sender
	queue       Queue
	alerts      *alerts.Alerter
	logger      *slog.Logger
	fanout      int
	sendTimeout time.Duration
}

// Report summarizes one delivery run.
type Report struct {
	Sent   int
	Pruned int
	Failed int
}

func New(cfg Config) (*App, error) {
	if cfg.DB == nil {
		return nil, errors.New("store required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("push sender required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fanout := cfg.FanoutConcurrency
	if fanout <= 0 {
		fanout = 8
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &App{
		db:          cfg.DB,
		sender:      cfg.Sender,
		queue:       cfg.Queue,
		alerts:      cfg.Alerts,
		logger:      logger,
		fanout:      fanout,
		sendTimeout: timeout,
	}, nil
}

// Start consumes the queue until ctx is done.
func (a *App) Start(ctx context.Context, concurrency int) error {
	if a.queue == nil {
		return errors.New("push queue required")
	}
	return a.queue.Start(ctx, concurrency, a.process)
}

// GetJob returns a queued job by id.
func (a *App) GetJob(ctx context.Context, id string) (queue.Job, bool, error) {
	if a.queue == nil {
		return queue.Job{}, false, nil
	}
	return a.queue.GetJob(ctx, id)
}

func (a *App) process(ctx context.Context, job queue.Job) error {
	report, err := a.Deliver(ctx, job.Push)
	logger := a.logger.With("job_id", job.ID, "kind", job.Push.Kind, "ref_id", job.Push.RefID)
	if err != nil {
		logger.Warn("push delivery failed", "attempt", job.Attempts, "err", err)
		a.alerts.Escalate(ctx, alerts.Alert{Event: alerts.EventPushFailure, Subject: string(job.Push.Kind), Err: err})
		return err
	}
	logger.Info("push delivered", "sent", report.Sent, "pruned", report.Pruned, "failed", report.Failed)
	return nil
}

// Deliver sends job to every subscription of its target users, or of every
// user when the job names none. Subscriptions the push service reports gone
// are deleted. Deliver fails only when no send succeeded and at least one
// failed; partial failures are reported, not retried.
func (a *App) Deliver(ctx context.Context, job domain.PushJob) (Report, error) {
	subs, err := a.subscriptions(ctx, job.UserIDs)
	if err != nil {
		return Report{}, err
	}
	if len(subs) == 0 {
		return Report{}, nil
	}
	n := push.NotificationFor(job)
	var sent, pruned, failed atomic.Int64
	var lastErr atomic.Value
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.fanout)
	for _, sub := range subs {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(gctx, a.sendTimeout)
			defer cancel()
			err := a.sender.Send(sendCtx, sub, n)
			switch {
			case err == nil:
				sent.Add(1)
			case errors.Is(err, push.ErrSubscriptionGone):
				if derr := a.db.Delete(gctx, store.Join(domain.PushSubscriptionsPath(sub.UserID), sub.ID)); derr != nil {
					a.logger.Warn("prune subscription failed", "user_id", sub.UserID, "subscription_id", sub.ID, "err", derr)
				}
				pruned.Add(1)
			default:
				failed.Add(1)
				lastErr.Store(err)
			}
			return nil
		})
	}
	_ = g.Wait()
	report := Report{Sent: int(sent.Load()), Pruned: int(pruned.Load()), Failed: int(failed.Load())}
	if report.Failed > 0 && report.Sent == 0 {
		err, _ := lastErr.Load().(error)
		return report, fmt.Errorf("all %d sends failed: %w", report.Failed, err)
	}
	return report, nil
}

func (a *App) subscriptions(ctx context.Context, userIDs []string) ([]domain.PushSubscription, error) {
	if len(userIDs) == 0 {
		keys, err := a.db.Keys(ctx, domain.RootPushSubscriptions)
		if err != nil {
			return nil, fmt.Errorf("list subscribers: %w", err)
		}
		userIDs = keys
	}
	seen := map[string]bool{}
	var out []domain.PushSubscription
	for _, uid := range userIDs {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		children, err := a.db.Children(ctx, domain.PushSubscriptionsPath(uid))
		if err != nil {
			return nil, fmt.Errorf("list subscriptions for %s: %w", uid, err)
		}
		for _, child := range children {
			var sub domain.PushSubscription
			if err := json.Unmarshal(child.Value, &sub); err != nil || sub.Endpoint == "" {
				a.logger.Warn("skipping malformed subscription", "user_id", uid, "key", child.Key)
				continue
			}
			if sub.ID == "" {
				sub.ID = child.Key
			}
			if sub.UserID == "" {
				sub.UserID = uid
			}
			out = append(out, sub)
		}
	}
	return out, nil
}
