// Package app executes the legacy endpoint operations against the hosted
// store, identity provider and blob storage.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"fieldsync/internal/alerts"
	"fieldsync/internal/util"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/identity"
	"fieldsync/pkg/profile"
	"fieldsync/pkg/queue"
	"fieldsync/pkg/storage"
	"fieldsync/pkg/store"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// PushEnqueuer hands push fan-outs to the delivery worker.
type PushEnqueuer interface {
	Enqueue(ctx context.Context, push domain.PushJob) (queue.Job, error)
}

// Config wires the collaborators. Push and Alerts are optional.
type Config struct {
	DB       store.DB
	Identity identity.Provider
	Blobs    storage.BlobStore
	Push     PushEnqueuer
	Alerts   *alerts.Alerter
	Logger   *slog.Logger
	// WriteAttempts bounds retries of each step of a multi-write. Defaults to 3.
	WriteAttempts int
	RetryBackoff  time.Duration
}

type App struct {
	db       store.DB
	identity identity.Provider
	profiles *profile.Resolver
	blobs    storage.BlobStore
	push     PushEnqueuer
	alerts   *alerts.Alerter
	logger   *slog.Logger
	validate *validator.Validate
	policy   *bluemonday.Policy
	attempts int
	backoff  time.Duration
	now      func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.DB == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Identity == nil {
		return nil, errors.New("identity provider is required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteAttempts <= 0 {
		cfg.WriteAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	return &App{
		db:       cfg.DB,
		identity: cfg.Identity,
		profiles: profile.NewResolver(cfg.DB, cfg.Identity, logger),
		blobs:    cfg.Blobs,
		push:     cfg.Push,
		alerts:   cfg.Alerts,
		logger:   logger,
		validate: validator.New(),
		policy:   bluemonday.StrictPolicy(),
		attempts: cfg.WriteAttempts,
		backoff:  cfg.RetryBackoff,
		now:      time.Now,
	}, nil
}

// CurrentUser resolves the bearer token to a profile, creating the profile
// on first authenticated access. It returns nil for a missing or invalid
// session.
func (a *App) CurrentUser(ctx context.Context, token string) (*domain.Profile, error) {
	return a.profiles.ResolveCurrentUser(ctx, token)
}

func (a *App) log(ctx context.Context) *slog.Logger {
	if l := util.LoggerFromContext(ctx); l != slog.Default() {
		return l
	}
	return a.logger
}

// check runs struct validation and turns the first failure into a
// Validation error a user can read.
func (a *App) check(v any) error {
	err := a.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.Validation("invalid request")
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return domain.Validation(field + " is required")
	case "email":
		return domain.Validation(field + " must be a valid email")
	case "min":
		return domain.Validation(fmt.Sprintf("%s must be at least %s", field, fe.Param()))
	case "max":
		return domain.Validation(fmt.Sprintf("%s must be at most %s", field, fe.Param()))
	case "oneof":
		return domain.Validation(fmt.Sprintf("%s must be one of %s", field, fe.Param()))
	default:
		return domain.Validation(field + " is invalid")
	}
}

// clean strips all markup from user-entered text. Records are plain text in
// JSON, so the entities the sanitizer emits are decoded again.
func (a *App) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(a.policy.Sanitize(s)))
}

// requireAdmin enforces admin-only actions.
func requireAdmin(user domain.Profile) error {
	if !user.IsAdmin() {
		return domain.Forbidden("Admin access required")
	}
	return nil
}

// retry runs one idempotent write step up to a.attempts times.
func (a *App) retry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == a.attempts || errors.Is(err, errMissingDocument) {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(a.backoff * time.Duration(attempt)):
		}
	}
	return err
}

// enqueuePush is best effort; delivery failures never fail the write that
// triggered them.
func (a *App) enqueuePush(ctx context.Context, job domain.PushJob) {
	if a.push == nil {
		return
	}
	if _, err := a.push.Enqueue(ctx, job); err != nil {
		a.log(ctx).Warn("push enqueue failed", "kind", job.Kind, "ref_id", job.RefID, "err", err)
	}
}

func decodeRaw(data []byte) (map[string]any, error) {
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
