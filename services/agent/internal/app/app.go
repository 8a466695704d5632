// Package app is the headless field client: it signs in against the legacy
// surface, keeps the location loop and the badge reconciliation running for
// the session, and submits comments and progress optimistically.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"fieldsync/internal/interval"
	"fieldsync/pkg/badge"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/geo"
	"fieldsync/pkg/navigation"
	"fieldsync/pkg/shimclient"
	"fieldsync/pkg/submit"
)

// ErrSignedOut is returned by commands that need a session.
var ErrSignedOut = errors.New("not signed in")

// Config wires the agent.
type Config struct {
	Client   *shimclient.Client
	KV       badge.KV
	Source   geo.PositionSource
	Geocoder geo.Geocoder
	// Secure reports whether the shim is reached over https or localhost.
	Secure bool
	// PollEvery is the announcement and project poll period. Defaults to 30s.
	PollEvery time.Duration
	// BadgeEvery recomputes "new" flags. Defaults to one minute.
	BadgeEvery time.Duration
	Out        io.Writer
	Logger     *slog.Logger
}

// App is one agent process. A session spans SignIn to SignOut or expiry.
type App struct {
	client     *shimclient.Client
	engine     *badge.Engine
	gate       *geo.Gate
	source     geo.PositionSource
	geocoder   geo.Geocoder
	stack      *navigation.Stack
	swipe      *navigation.SwipeToPop
	pollEvery  time.Duration
	badgeEvery time.Duration
	out        io.Writer
	logger     *slog.Logger

	mu       sync.Mutex
	session  *session
	expired  chan struct{}
	newFlags map[string]bool
	news     []domain.Announcement
}

type session struct {
	user     domain.Profile
	board    *submit.Board
	pipeline *submit.Pipeline
	tracker  *geo.Tracker
	poller   *interval.Runner
	cancel   context.CancelFunc
}

func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.Client == nil {
		return nil, errors.New("shim client required")
	}
	if cfg.KV == nil {
		return nil, errors.New("badge state store required")
	}
	if cfg.Source == nil {
		return nil, errors.New("position source required")
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 30 * time.Second
	}
	if cfg.BadgeEvery <= 0 {
		cfg.BadgeEvery = time.Minute
	}
	engine, err := badge.NewEngine(ctx, cfg.KV, writerNotifier{out: cfg.Out}, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("load badge state: %w", err)
	}
	stack := navigation.NewStack(navigation.DefaultConflicts())
	a := &App{
		client:     cfg.Client,
		engine:     engine,
		gate:       geo.NewGate(&geo.SourcePermission{Source: cfg.Source}, cfg.Secure, 10*time.Second),
		source:     cfg.Source,
		geocoder:   cfg.Geocoder,
		stack:      stack,
		swipe:      navigation.NewSwipeToPop(stack, navigation.DefaultSwipeThreshold),
		pollEvery:  cfg.PollEvery,
		badgeEvery: cfg.BadgeEvery,
		out:        cfg.Out,
		logger:     cfg.Logger,
		expired:    make(chan struct{}, 1),
	}
	cfg.Client.OnUnauthorized(a.expire)
	return a, nil
}

// SignIn logs in, passes the location gate and starts the session loops.
// A refused location permission ends the session again.
func (a *App) SignIn(ctx context.Context, email, password string) (domain.Profile, error) {
	user, err := a.client.Login(ctx, email, password)
	if err != nil {
		return domain.Profile{}, err
	}
	if !a.gate.Check(ctx) {
		if err := a.gate.RequestAccess(ctx); err != nil {
			reason, _ := geo.ReasonOf(err)
			a.logger.Warn("location access refused", "reason", reason)
			_ = a.client.Logout(ctx)
			return domain.Profile{}, err
		}
	}
	if err := a.begin(user); err != nil {
		return domain.Profile{}, err
	}
	a.logger.Info("signed in", "user_id", user.ID, "account_type", user.AccountType)
	return user, nil
}

func (a *App) begin(user domain.Profile) error {
	tracker, err := geo.NewTracker(geo.Config{
		Source:   a.source,
		Geocoder: a.geocoder,
		Reporter: a.client,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	board := submit.NewBoard()
	s := &session{
		user:     user,
		board:    board,
		pipeline: submit.NewPipeline(user, a.client, board, a.logger),
		tracker:  tracker,
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.poller = interval.New(interval.Task{
		Name:      "poll",
		Every:     a.pollEvery,
		Immediate: true,
		Run:       a.Poll,
	})

	a.mu.Lock()
	if a.session != nil {
		a.mu.Unlock()
		cancel()
		return errors.New("already signed in")
	}
	a.session = s
	a.mu.Unlock()

	if err := tracker.Start(ctx); err != nil {
		a.teardown()
		return err
	}
	s.poller.Start(ctx)
	a.engine.NewBadgeTicker(a.badgeEvery, a.announcements, a.publishNewFlags).Start(ctx)
	return nil
}

// SignOut revokes the session on the server and tears the loops down.
func (a *App) SignOut(ctx context.Context) error {
	if a.current() == nil {
		return ErrSignedOut
	}
	err := a.client.Logout(ctx)
	a.teardown()
	return err
}

// Expired fires after the server rejected the session.
func (a *App) Expired() <-chan struct{} {
	return a.expired
}

// expire runs from inside a failing request, possibly on a tracker report
// goroutine, so teardown cannot wait for it here.
func (a *App) expire() {
	if a.current() == nil {
		return
	}
	a.logger.Warn("session expired")
	go func() {
		a.teardown()
		select {
		case a.expired <- struct{}{}:
		default:
		}
	}()
}

func (a *App) teardown() {
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.news = nil
	a.newFlags = nil
	a.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	s.tracker.Stop()
	s.board.Close()
	a.stack.Reset()
}

func (a *App) current() *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Poll fetches announcements and projects once and reconciles them.
func (a *App) Poll(ctx context.Context) error {
	s := a.current()
	if s == nil {
		return ErrSignedOut
	}
	list, err := a.client.Announcements(ctx)
	if err != nil {
		return fmt.Errorf("poll announcements: %w", err)
	}
	badge.SortAnnouncements(list)
	if _, err := a.engine.ReconcileAnnouncements(ctx, list); err != nil {
		a.logger.Warn("announcement reconcile failed", "err", err)
	}
	a.mu.Lock()
	a.news = list
	a.mu.Unlock()

	projects, err := a.client.Projects(ctx)
	if err != nil {
		return fmt.Errorf("poll projects: %w", err)
	}
	if _, err := a.engine.ReconcileProjects(ctx, projects); err != nil {
		a.logger.Warn("project reconcile failed", "err", err)
	}
	// Threads load on open; rows keep the comments they already show.
	s.board.SetProjects(projects, nil)
	return nil
}

func (a *App) announcements() []domain.Announcement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.news)
}

func (a *App) publishNewFlags(flags map[string]bool) {
	a.mu.Lock()
	a.newFlags = flags
	a.mu.Unlock()
}

func (a *App) isNew(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.newFlags[id]
}

type writerNotifier struct {
	out io.Writer
}

func (n writerNotifier) Notify(_ context.Context, note badge.Notification) error {
	if note.Body != "" {
		_, err := fmt.Fprintf(n.out, "[notification] %s: %s\n", note.Title, note.Body)
		return err
	}
	_, err := fmt.Fprintf(n.out, "[notification] %s\n", note.Title)
	return err
}
