package profile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"fieldsync/pkg/domain"
	"fieldsync/pkg/identity"
	"fieldsync/pkg/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingDB struct {
	store.DB
	writes atomic.Int32
}

func (c *countingDB) Set(ctx context.Context, path string, v any) error {
	c.writes.Add(1)
	return c.DB.Set(ctx, path, v)
}

func (c *countingDB) Create(ctx context.Context, path string, v any) (bool, error) {
	c.writes.Add(1)
	return c.DB.Create(ctx, path, v)
}

type fakeSessions map[string]identity.Identity

func (f fakeSessions) Lookup(_ context.Context, token string) (identity.Identity, error) {
	if token == "boom" {
		return identity.Identity{}, errors.New("redis down")
	}
	id, ok := f[token]
	if !ok {
		return identity.Identity{}, identity.ErrSessionInvalid
	}
	return id, nil
}

func newTestDB(t *testing.T) *countingDB {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &countingDB{DB: store.NewRedisDBWithClient(client, "test:db")}
}

func TestEnsureProfileIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	r := NewResolver(db, fakeSessions{}, nil)
	ctx := context.Background()
	id := identity.Identity{UID: "u1", Email: "ana@example.com"}

	first, created, err := r.EnsureProfile(ctx, id, Extra{Phone: "555-0100"})
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if !created || db.writes.Load() != 1 {
		t.Fatalf("expected one write on first call, created=%v writes=%d", created, db.writes.Load())
	}
	second, created, err := r.EnsureProfile(ctx, id, Extra{Name: "Other", Phone: "999"})
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if created || db.writes.Load() != 1 {
		t.Fatalf("expected no write on second call, created=%v writes=%d", created, db.writes.Load())
	}
	if first.ID != second.ID || first.Name != second.Name || first.Phone != second.Phone || first.Email != second.Email {
		t.Fatalf("profiles differ: %+v vs %+v", first, second)
	}
	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("created_at changed: %v vs %v", first.CreatedAt, second.CreatedAt)
	}
	if second.Name != "ana" || second.Phone != "555-0100" || second.AccountType != domain.AccountUser {
		t.Fatalf("unexpected profile %+v", second)
	}
}

func TestEnsureProfileConcurrentCallersCreateOnce(t *testing.T) {
	db := newTestDB(t)
	r := NewResolver(db, fakeSessions{}, nil)
	id := identity.Identity{UID: "u2", Email: "b@example.com", DisplayName: "Bea"}
	var wg sync.WaitGroup
	var createdCount atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, created, err := r.EnsureProfile(context.Background(), id, Extra{})
			if err != nil {
				t.Errorf("ensure: %v", err)
				return
			}
			if p.Name != "Bea" {
				t.Errorf("unexpected name %q", p.Name)
			}
			if created {
				createdCount.Add(1)
			}
		}()
	}
	wg.Wait()
	var stored domain.Profile
	if ok, err := db.Get(context.Background(), domain.UserPath("u2"), &stored); err != nil || !ok {
		t.Fatalf("expected stored profile, ok=%v err=%v", ok, err)
	}
	if stored.Name != "Bea" {
		t.Fatalf("unexpected stored profile %+v", stored)
	}
}

func TestResolveCurrentUser(t *testing.T) {
	db := newTestDB(t)
	sessions := fakeSessions{"tok": {UID: "u3", Email: "c@example.com"}}
	r := NewResolver(db, sessions, nil)
	ctx := context.Background()

	if p, err := r.ResolveCurrentUser(ctx, ""); p != nil || err != nil {
		t.Fatalf("empty token: expected nil, got %+v %v", p, err)
	}
	if p, err := r.ResolveCurrentUser(ctx, "expired"); p != nil || err != nil {
		t.Fatalf("invalid session: expected nil, got %+v %v", p, err)
	}
	if _, err := r.ResolveCurrentUser(ctx, "boom"); !domain.IsKind(err, domain.KindUpstream) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	p, err := r.ResolveCurrentUser(ctx, "tok")
	if err != nil || p == nil {
		t.Fatalf("resolve: %+v %v", p, err)
	}
	if p.ID != "u3" || p.Name != "c" {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestDisplayNameFallback(t *testing.T) {
	cases := []struct {
		explicit, provider, email, want string
	}{
		{"Ana", "Provider", "x@example.com", "Ana"},
		{" ", "Provider", "x@example.com", "Provider"},
		{"", "", "field.worker@example.com", "field.worker"},
		{"", "", "", "User"},
		{"", "", "@example.com", "User"},
	}
	for _, tc := range cases {
		if got := DisplayName(tc.explicit, tc.provider, tc.email); got != tc.want {
			t.Fatalf("DisplayName(%q,%q,%q) = %q, want %q", tc.explicit, tc.provider, tc.email, got, tc.want)
		}
	}
}

func TestNormalizeLegacyFields(t *testing.T) {
	p := Normalize("u9", map[string]any{
		"email":      "legacy@example.com",
		"photo_url":  "https://cdn.example.com/a.png",
		"created_at": float64(1700000000000),
	})
	if p.ID != "u9" || p.AccountType != domain.AccountUser {
		t.Fatalf("unexpected defaults %+v", p)
	}
	if p.ProfileImage != "https://cdn.example.com/a.png" {
		t.Fatalf("expected photo_url mapped, got %q", p.ProfileImage)
	}
	if p.Name != "legacy" {
		t.Fatalf("expected email fallback name, got %q", p.Name)
	}
	if p.CreatedAt.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected created_at %v", p.CreatedAt)
	}
	admin := Normalize("u1", map[string]any{"account_type": "ADMIN", "profile_image": "x", "photo_url": "y"})
	if !admin.IsAdmin() || admin.ProfileImage != "x" {
		t.Fatalf("unexpected admin %+v", admin)
	}
}
