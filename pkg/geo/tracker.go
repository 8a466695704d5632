package geo

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"fieldsync/pkg/domain"
)

// Reporter pushes the current location to the backend.
type Reporter interface {
	ReportLocation(ctx context.Context, report domain.LocationReport) error
}

type Config struct {
	Source   PositionSource
	Geocoder Geocoder
	Reporter Reporter
	// HistorySize bounds the local trail. Defaults to 20.
	HistorySize    int
	GeocodeTimeout time.Duration
	ReportTimeout  time.Duration
	Logger         *slog.Logger
}

// Tracker owns the location watch for one signed-in user.
type Tracker struct {
	source         PositionSource
	geocoder       Geocoder
	reporter       Reporter
	historySize    int
	geocodeTimeout time.Duration
	reportTimeout  time.Duration
	logger         *slog.Logger

	mu      sync.Mutex
	current domain.GeoPoint
	hasFix  bool
	history []domain.GeoPoint
	loading bool
	cancel  context.CancelFunc

	loop    sync.WaitGroup
	reports sync.WaitGroup
}

func NewTracker(cfg Config) (*Tracker, error) {
	if cfg.Source == nil {
		return nil, errors.New("position source is required")
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 20
	}
	if cfg.GeocodeTimeout <= 0 {
		cfg.GeocodeTimeout = 5 * time.Second
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tracker{
		source:         cfg.Source,
		geocoder:       cfg.Geocoder,
		reporter:       cfg.Reporter,
		historySize:    cfg.HistorySize,
		geocodeTimeout: cfg.GeocodeTimeout,
		reportTimeout:  cfg.ReportTimeout,
		logger:         cfg.Logger,
	}, nil
}

// Start takes one immediate fix and then follows the watch until Stop or
// until ctx is cancelled. Failures are logged; they never reach the caller.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return errors.New("tracker already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	t.loop.Add(1)
	go func() {
		defer t.loop.Done()
		t.run(ctx)
	}()
	return nil
}

func (t *Tracker) run(ctx context.Context) {
	if fix, err := t.source.Current(ctx, false); err != nil {
		if ctx.Err() == nil {
			t.logger.Warn("initial location fix failed", "err", err)
		}
	} else {
		t.handle(ctx, fix)
	}
	fixes, err := t.source.Watch(ctx)
	if err != nil {
		t.logger.Warn("location watch unavailable", "err", err)
		return
	}
	for fix := range fixes {
		t.handle(ctx, fix)
	}
}

// Stop clears the watch and waits for outstanding reports.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.loop.Wait()
	t.reports.Wait()
}

// Refresh takes a single high-accuracy fix outside the watch cadence. Unlike
// the watch it returns its error so the caller can show it.
func (t *Tracker) Refresh(ctx context.Context) (domain.GeoPoint, error) {
	t.mu.Lock()
	if t.loading {
		t.mu.Unlock()
		return domain.GeoPoint{}, errors.New("location refresh already in progress")
	}
	t.loading = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.loading = false
		t.mu.Unlock()
	}()

	fix, err := t.source.Current(ctx, true)
	if err != nil {
		return domain.GeoPoint{}, err
	}
	return t.handle(ctx, fix), nil
}

// Loading reports whether a manual refresh is running.
func (t *Tracker) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// Current returns the latest fix, if any.
func (t *Tracker) Current() (domain.GeoPoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.hasFix
}

// History returns the local trail, oldest first.
func (t *Tracker) History() []domain.GeoPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.history)
}

func (t *Tracker) handle(ctx context.Context, fix Fix) domain.GeoPoint {
	point := domain.GeoPoint{
		Lat:      fix.Lat,
		Lng:      fix.Lng,
		Accuracy: fix.Accuracy,
		Name:     t.placeName(ctx, fix),
	}

	t.mu.Lock()
	t.current = point
	t.hasFix = true
	t.history = append(t.history, point)
	if over := len(t.history) - t.historySize; over > 0 {
		t.history = slices.Delete(t.history, 0, over)
	}
	t.mu.Unlock()

	t.report(ctx, fix, point.Name)
	return point
}

func (t *Tracker) placeName(ctx context.Context, fix Fix) string {
	if t.geocoder == nil {
		return UnknownLocation
	}
	gctx, cancel := context.WithTimeout(ctx, t.geocodeTimeout)
	defer cancel()
	name, err := t.geocoder.Reverse(gctx, fix.Lat, fix.Lng)
	if err != nil || name == "" {
		t.logger.Debug("reverse geocode failed", "err", err)
		return UnknownLocation
	}
	return name
}

// report sends the fix in the background. The send outlives ctx so a fix
// taken just before teardown is still delivered.
func (t *Tracker) report(ctx context.Context, fix Fix, name string) {
	if t.reporter == nil {
		return
	}
	at := fix.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	report := domain.LocationReport{
		Latitude:     fix.Lat,
		Longitude:    fix.Lng,
		Accuracy:     fix.Accuracy,
		LocationName: name,
		UpdatedAt:    at,
	}
	t.reports.Add(1)
	go func() {
		defer t.reports.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.reportTimeout)
		defer cancel()
		if err := t.reporter.ReportLocation(rctx, report); err != nil {
			t.logger.Warn("location report failed", "err", err)
		}
	}()
}
