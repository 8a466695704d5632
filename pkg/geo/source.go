// Package geo keeps the field user's current location fresh: an immediate
// fix, a continuous watch, reverse geocoding and a best-effort report to the
// backend. It also gates access behind a one-time location permission.
package geo

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnsupported      = errors.New("geolocation is not supported")
	ErrUnavailable      = errors.New("location unavailable")
)

// Fix is one position reading.
type Fix struct {
	Lat      float64
	Lng      float64
	Accuracy float64
	At       time.Time
}

// PositionSource produces position fixes. Watch delivers fixes until ctx is
// cancelled and then closes the channel.
type PositionSource interface {
	Current(ctx context.Context, highAccuracy bool) (Fix, error)
	Watch(ctx context.Context) (<-chan Fix, error)
}

// ReplaySource cycles through a fixed route. It stands in for a GPS
// receiver on headless agents and in tests.
type ReplaySource struct {
	every time.Duration
	now   func() time.Time

	mu     sync.Mutex
	route  []Fix
	next   int
	denied bool
}

func NewReplaySource(route []Fix, every time.Duration) *ReplaySource {
	if every <= 0 {
		every = 30 * time.Second
	}
	return &ReplaySource{route: route, every: every, now: time.Now}
}

// Deny makes every following request fail with ErrPermissionDenied.
func (s *ReplaySource) Deny(denied bool) {
	s.mu.Lock()
	s.denied = denied
	s.mu.Unlock()
}

func (s *ReplaySource) Current(ctx context.Context, _ bool) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	return s.step()
}

func (s *ReplaySource) Watch(ctx context.Context) (<-chan Fix, error) {
	s.mu.Lock()
	denied, empty := s.denied, len(s.route) == 0
	s.mu.Unlock()
	if denied {
		return nil, ErrPermissionDenied
	}
	if empty {
		return nil, ErrUnavailable
	}
	out := make(chan Fix)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			fix, err := s.step()
			if err != nil {
				continue
			}
			select {
			case out <- fix:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *ReplaySource) step() (Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denied {
		return Fix{}, ErrPermissionDenied
	}
	if len(s.route) == 0 {
		return Fix{}, ErrUnavailable
	}
	fix := s.route[s.next%len(s.route)]
	s.next++
	if fix.At.IsZero() {
		fix.At = s.now().UTC()
	}
	return fix, nil
}
