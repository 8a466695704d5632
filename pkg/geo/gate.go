package geo

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Permission is the platform's location permission state.
type Permission string

const (
	PermissionGranted     Permission = "granted"
	PermissionPrompt      Permission = "prompt"
	PermissionDenied      Permission = "denied"
	PermissionUnsupported Permission = "unsupported"
)

// Reason explains why access was not granted.
type Reason string

const (
	ReasonHTTPSRequired Reason = "https_required"
	ReasonUnsupported   Reason = "unsupported"
	ReasonDenied        Reason = "denied"
	ReasonTimeout       Reason = "timeout"
)

// DeniedError is returned by RequestAccess when access is not granted.
type DeniedError struct {
	Reason Reason
	Err    error
}

func (e *DeniedError) Error() string {
	switch e.Reason {
	case ReasonHTTPSRequired:
		return "location access requires a secure (https) connection"
	case ReasonUnsupported:
		return "location is not supported on this device"
	case ReasonTimeout:
		return "location request timed out"
	default:
		return "location permission was denied"
	}
}

func (e *DeniedError) Unwrap() error { return e.Err }

// ReasonOf extracts the denial reason from err.
func ReasonOf(err error) (Reason, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Reason, true
	}
	return "", false
}

// PermissionProvider is the platform permission API.
type PermissionProvider interface {
	State(ctx context.Context) (Permission, error)
	Request(ctx context.Context) (Permission, error)
}

// Gate holds dashboard access behind a one-time location permission.
type Gate struct {
	provider PermissionProvider
	secure   bool
	timeout  time.Duration

	mu      sync.Mutex
	granted bool
}

// NewGate builds a gate. secure reports whether the app runs over https or
// on localhost; provider may be nil on platforms without geolocation.
func NewGate(provider PermissionProvider, secure bool, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gate{provider: provider, secure: secure, timeout: timeout}
}

// Check reports whether access is already granted. It never prompts.
func (g *Gate) Check(ctx context.Context) bool {
	g.mu.Lock()
	if g.granted {
		g.mu.Unlock()
		return true
	}
	g.mu.Unlock()
	if !g.secure || g.provider == nil {
		return false
	}
	state, err := g.provider.State(ctx)
	if err != nil || state != PermissionGranted {
		return false
	}
	g.mu.Lock()
	g.granted = true
	g.mu.Unlock()
	return true
}

// RequestAccess prompts for permission. It returns nil once granted and a
// *DeniedError otherwise.
func (g *Gate) RequestAccess(ctx context.Context) error {
	if !g.secure {
		return &DeniedError{Reason: ReasonHTTPSRequired}
	}
	if g.provider == nil {
		return &DeniedError{Reason: ReasonUnsupported}
	}
	rctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	state, err := g.provider.Request(rctx)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return &DeniedError{Reason: ReasonTimeout, Err: err}
		case errors.Is(err, ErrUnsupported):
			return &DeniedError{Reason: ReasonUnsupported, Err: err}
		default:
			return &DeniedError{Reason: ReasonDenied, Err: err}
		}
	}
	switch state {
	case PermissionGranted:
		g.mu.Lock()
		g.granted = true
		g.mu.Unlock()
		return nil
	case PermissionUnsupported:
		return &DeniedError{Reason: ReasonUnsupported}
	default:
		return &DeniedError{Reason: ReasonDenied}
	}
}

// SourcePermission derives permission from a PositionSource: a request
// succeeds when the source yields a fix.
type SourcePermission struct {
	Source PositionSource

	mu      sync.Mutex
	granted bool
}

func (p *SourcePermission) State(context.Context) (Permission, error) {
	if p.Source == nil {
		return PermissionUnsupported, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.granted {
		return PermissionGranted, nil
	}
	return PermissionPrompt, nil
}

func (p *SourcePermission) Request(ctx context.Context) (Permission, error) {
	if p.Source == nil {
		return PermissionUnsupported, nil
	}
	if _, err := p.Source.Current(ctx, false); err != nil {
		switch {
		case errors.Is(err, ErrPermissionDenied):
			return PermissionDenied, nil
		case errors.Is(err, ErrUnsupported):
			return PermissionUnsupported, nil
		default:
			return "", err
		}
	}
	p.mu.Lock()
	p.granted = true
	p.mu.Unlock()
	return PermissionGranted, nil
}
