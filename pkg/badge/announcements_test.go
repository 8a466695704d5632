package badge

import (
	"context"
	"testing"
	"time"

	"fieldsync/pkg/domain"
)

func TestIsNewLiteralRule(t *testing.T) {
	e, _ := newTestEngine(t, NewMemoryKV())
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	fresh := domain.Announcement{ID: "a1", CreatedAt: now.Add(-23 * time.Hour)}
	old := domain.Announcement{ID: "a2", CreatedAt: now.Add(-72 * time.Hour)}
	edge := domain.Announcement{ID: "a3", CreatedAt: now.Add(-24 * time.Hour)}

	if !e.IsNew(fresh, now) {
		t.Fatalf("announcement created 23h ago should be new")
	}
	if !e.IsNew(edge, now) {
		t.Fatalf("exactly one day old should still be new")
	}
	if e.IsNew(old, now) {
		t.Fatalf("three day old unread announcement should not be new")
	}
	if err := e.MarkRead(context.Background(), "a2", now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !e.IsNew(old, now) {
		t.Fatalf("read within a day keeps the announcement new")
	}
	if e.IsNew(old, now.Add(23*time.Hour)) {
		t.Fatalf("badge should expire a day after the read")
	}
	serverRead := now.Add(-time.Hour)
	remote := domain.Announcement{ID: "a4", CreatedAt: now.Add(-72 * time.Hour), ReadAt: &serverRead}
	if !e.IsNew(remote, now) {
		t.Fatalf("server read marker should count as last read")
	}
}

func TestSortAnnouncementsPinnedFirstNewestFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	list := []domain.Announcement{
		{ID: "old", CreatedAt: base},
		{ID: "pin-old", CreatedAt: base.Add(time.Hour), IsPinned: true},
		{ID: "new", CreatedAt: base.Add(3 * time.Hour)},
		{ID: "pin-new", CreatedAt: base.Add(2 * time.Hour), IsPinned: true},
		{ID: "tie-a", CreatedAt: base.Add(3 * time.Hour)},
	}
	SortAnnouncements(list)
	want := []string{"pin-new", "pin-old", "new", "tie-a", "old"}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("position %d: want %s, got %s (%v)", i, id, list[i].ID, ids(list))
		}
	}
}

func ids(list []domain.Announcement) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.ID
	}
	return out
}

func TestUnreadCommentsPerRole(t *testing.T) {
	e, _ := newTestEngine(t, NewMemoryKV())
	ctx := context.Background()
	comments := []domain.Comment{
		{ID: "c1", AuthorID: "u2"},
		{ID: "c2", AuthorID: "me"},
		{ID: "c3", AuthorID: "u3"},
	}
	n, err := e.UnreadComments(ctx, "user", "me", comments)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 unread, got %d %v", n, err)
	}
	if err := e.MarkCommentsRead(ctx, "user", "c1"); err != nil {
		t.Fatalf("mark comments read: %v", err)
	}
	if n, _ := e.UnreadComments(ctx, "user", "me", comments); n != 1 {
		t.Fatalf("expected 1 unread, got %d", n)
	}
	if n, _ := e.UnreadComments(ctx, "admin", "me", comments); n != 2 {
		t.Fatalf("admin role keeps its own read set, got %d", n)
	}
}

func TestNewBadgeTickerPublishes(t *testing.T) {
	e, _ := newTestEngine(t, NewMemoryKV())
	got := make(chan map[string]bool, 1)
	list := []domain.Announcement{{ID: "a1", CreatedAt: time.Now()}}
	r := e.NewBadgeTicker(time.Hour, func() []domain.Announcement { return list }, func(m map[string]bool) {
		select {
		case got <- m:
		default:
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	select {
	case m := <-got:
		if !m["a1"] {
			t.Fatalf("expected a1 new, got %v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ticker did not publish")
	}
}
