// Package profile turns an identity session into the canonical application
// user and creates the stored profile document on first sight.
package profile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"fieldsync/pkg/domain"
	"fieldsync/pkg/identity"
	"fieldsync/pkg/store"
	"golang.org/x/sync/singleflight"
)

// SessionLookup resolves a bearer token to an identity.
type SessionLookup interface {
	Lookup(ctx context.Context, token string) (identity.Identity, error)
}

// Extra carries fields supplied at sign-up that the identity lacks.
type Extra struct {
	Name         string
	Phone        string
	ProfileImage string
}

type Resolver struct {
	db       store.DB
	sessions SessionLookup
	group    singleflight.Group
	now      func() time.Time
	logger   *slog.Logger
}

func NewResolver(db store.DB, sessions SessionLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{db: db, sessions: sessions, now: time.Now, logger: logger}
}

// ResolveCurrentUser returns nil without error when token is empty or the
// session is not valid.
func (r *Resolver) ResolveCurrentUser(ctx context.Context, token string) (*domain.Profile, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	id, err := r.sessions.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, identity.ErrSessionInvalid) {
			return nil, nil
		}
		return nil, domain.Upstream("resolve session", err)
	}
	p, _, err := r.EnsureProfile(ctx, id, Extra{})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsureProfile returns the stored profile for id, creating it when absent.
// An existing profile is never rewritten. created reports whether this call
// performed the write.
func (r *Resolver) EnsureProfile(ctx context.Context, id identity.Identity, extra Extra) (p domain.Profile, created bool, err error) {
	if strings.TrimSpace(id.UID) == "" {
		return domain.Profile{}, false, domain.Validation("identity id required")
	}
	type result struct {
		profile domain.Profile
		created bool
	}
	v, err, _ := r.group.Do(id.UID, func() (any, error) {
		existing, ok, err := r.load(ctx, id.UID)
		if err != nil {
			return nil, err
		}
		if ok {
			return result{profile: existing}, nil
		}
		fresh := r.newProfile(id, extra)
		wrote, err := r.db.Create(ctx, domain.UserPath(id.UID), fresh)
		if err != nil {
			return nil, domain.Upstream("create profile", err)
		}
		if !wrote {
			existing, ok, err := r.load(ctx, id.UID)
			if err != nil {
				return nil, err
			}
			if ok {
				return result{profile: existing}, nil
			}
		}
		r.logger.Info("profile created", "user_id", id.UID, "provider", id.Provider)
		return result{profile: fresh, created: true}, nil
	})
	if err != nil {
		return domain.Profile{}, false, err
	}
	res := v.(result)
	return res.profile, res.created, nil
}

// Load reads and normalizes a stored profile.
func (r *Resolver) Load(ctx context.Context, uid string) (domain.Profile, bool, error) {
	return r.load(ctx, uid)
}

func (r *Resolver) load(ctx context.Context, uid string) (domain.Profile, bool, error) {
	var raw map[string]any
	ok, err := r.db.Get(ctx, domain.UserPath(uid), &raw)
	if err != nil {
		return domain.Profile{}, false, domain.Upstream("load profile", err)
	}
	if !ok {
		return domain.Profile{}, false, nil
	}
	return Normalize(uid, raw), true, nil
}

func (r *Resolver) newProfile(id identity.Identity, extra Extra) domain.Profile {
	image := strings.TrimSpace(extra.ProfileImage)
	if image == "" {
		image = id.PhotoURL
	}
	return domain.Profile{
		ID:           id.UID,
		Email:        id.Email,
		Phone:        strings.TrimSpace(extra.Phone),
		AccountType:  domain.AccountUser,
		ProfileImage: image,
		Name:         DisplayName(extra.Name, id.DisplayName, id.Email),
		CreatedAt:    r.now().UTC(),
	}
}

// DisplayName applies the fallback order explicit name, provider display
// name, email local part, then "User".
func DisplayName(explicit, provider, email string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	if s := strings.TrimSpace(provider); s != "" {
		return s
	}
	if local, _, ok := strings.Cut(strings.TrimSpace(email), "@"); ok && local != "" {
		return local
	}
	return "User"
}
