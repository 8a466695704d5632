package badge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fieldsync/pkg/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type recordingNotifier struct {
	mu    sync.Mutex
	shown []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shown)
}

type failingKV struct{ KV }

func (failingKV) Save(context.Context, string, any) error { return errors.New("disk full") }

func unread(id, title string) domain.Announcement {
	return domain.Announcement{ID: id, Title: title, IsActive: true}
}

func newTestEngine(t *testing.T, kv KV) (*Engine, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	e, err := NewEngine(context.Background(), kv, n, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, n
}

func TestColdStartSuppressesThenNotifiesOnce(t *testing.T) {
	e, n := newTestEngine(t, NewMemoryKV())
	ctx := context.Background()

	first := []domain.Announcement{unread("a1", "one"), unread("a2", "two"), unread("a3", "three")}
	out, err := e.ReconcileAnnouncements(ctx, first)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if !out.Seeded || n.count() != 0 {
		t.Fatalf("expected silent seed, got %+v notifications=%d", out, n.count())
	}
	if ann, tasks := e.Badges(); ann != 0 || tasks != 0 {
		t.Fatalf("expected zero badges after seed, got %d/%d", ann, tasks)
	}

	second := append(first, unread("a4", "four"))
	out, err = e.ReconcileAnnouncements(ctx, second)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if n.count() != 1 || len(out.Delta) != 1 || out.Delta[0] != "a4" {
		t.Fatalf("expected one notification for a4, got %+v notifications=%d", out, n.count())
	}
	if ann, _ := e.Badges(); ann != 1 {
		t.Fatalf("expected badge 1, got %d", ann)
	}
	if n.shown[0].Body != "four" {
		t.Fatalf("unexpected notification %+v", n.shown[0])
	}

	if _, err := e.ReconcileAnnouncements(ctx, second); err != nil {
		t.Fatalf("third fetch: %v", err)
	}
	if n.count() != 1 {
		t.Fatalf("same announcement must not re-notify")
	}
}

func TestDeltaIsGroupedIntoOneNotification(t *testing.T) {
	e, n := newTestEngine(t, NewMemoryKV())
	ctx := context.Background()
	if _, err := e.ReconcileAnnouncements(ctx, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := e.ReconcileAnnouncements(ctx, []domain.Announcement{unread("a1", ""), unread("a2", ""), unread("a3", "")})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n.count() != 1 || n.shown[0].Title != "3 new announcements" || len(n.shown[0].IDs) != 3 {
		t.Fatalf("expected one grouped notification, got %+v", n.shown)
	}
	if ann, _ := e.Badges(); ann != 3 {
		t.Fatalf("expected badge 3, got %d", ann)
	}
}

func TestReadAndInactiveAnnouncementsAreNotCandidates(t *testing.T) {
	e, n := newTestEngine(t, NewMemoryKV())
	ctx := context.Background()
	_, _ = e.ReconcileAnnouncements(ctx, nil)
	read := unread("a1", "")
	read.IsRead = true
	inactive := domain.Announcement{ID: "a2"}
	if _, err := e.ReconcileAnnouncements(ctx, []domain.Announcement{read, inactive}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n.count() != 0 {
		t.Fatalf("expected no notifications")
	}
}

func TestSeedingIsPerKind(t *testing.T) {
	e, n := newTestEngine(t, NewMemoryKV())
	ctx := context.Background()
	_, _ = e.ReconcileAnnouncements(ctx, nil)
	out, err := e.ReconcileProjects(ctx, []domain.Project{{ID: "p1", Progress: 100}})
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	if !out.Seeded || n.count() != 0 {
		t.Fatalf("first project fetch must seed silently, got %+v", out)
	}
	out, err = e.ReconcileProjects(ctx, []domain.Project{
		{ID: "p1", Progress: 100},
		{ID: "p2", Status: domain.ProjectCompleted, Title: "Bridge"},
		{ID: "p3", Progress: 40},
	})
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	if len(out.Delta) != 1 || out.Delta[0] != "p2" || n.shown[0].Body != "Bridge" {
		t.Fatalf("unexpected outcome %+v %+v", out, n.shown)
	}
	if _, tasks := e.Badges(); tasks != 1 {
		t.Fatalf("expected task badge 1, got %d", tasks)
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()
	e, _ := newTestEngine(t, kv)
	_, _ = e.ReconcileAnnouncements(ctx, nil)
	_, _ = e.ReconcileAnnouncements(ctx, []domain.Announcement{unread("a1", "")})

	restarted, n := newTestEngine(t, kv)
	if ann, _ := restarted.Badges(); ann != 1 {
		t.Fatalf("expected persisted badge 1, got %d", ann)
	}
	if _, err := restarted.ReconcileAnnouncements(ctx, []domain.Announcement{unread("a1", "")}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if _, err := restarted.ReconcileAnnouncements(ctx, []domain.Announcement{unread("a1", "")}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n.count() != 0 {
		t.Fatalf("persisted ids must not re-notify after restart")
	}
}

func TestOpenNotificationsResetsAndPersists(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()
	if err := kv.Save(ctx, KeyAnnouncementBadge, 3); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := kv.Save(ctx, KeyTaskBadge, 2); err != nil {
		t.Fatalf("save: %v", err)
	}
	e, _ := newTestEngine(t, kv)
	if ann, tasks := e.Badges(); ann != 3 || tasks != 2 {
		t.Fatalf("expected 3/2, got %d/%d", ann, tasks)
	}
	if err := e.OpenNotifications(ctx); err != nil {
		t.Fatalf("open notifications: %v", err)
	}
	if ann, tasks := e.Badges(); ann != 0 || tasks != 0 {
		t.Fatalf("expected 0/0, got %d/%d", ann, tasks)
	}
	var ann, tasks int
	_, _ = kv.Load(ctx, KeyAnnouncementBadge, &ann)
	_, _ = kv.Load(ctx, KeyTaskBadge, &tasks)
	if ann != 0 || tasks != 0 {
		t.Fatalf("expected persisted 0/0, got %d/%d", ann, tasks)
	}
}

func TestPersistFailureLeavesStateUnchanged(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()
	e, n := newTestEngine(t, kv)
	_, _ = e.ReconcileAnnouncements(ctx, nil)
	e.kv = failingKV{kv}
	if _, err := e.ReconcileAnnouncements(ctx, []domain.Announcement{unread("a1", "")}); err == nil {
		t.Fatalf("expected persist error")
	}
	if n.count() != 0 {
		t.Fatalf("must not notify when persist fails")
	}
	e.kv = kv
	out, err := e.ReconcileAnnouncements(ctx, []domain.Announcement{unread("a1", "")})
	if err != nil || len(out.Delta) != 1 {
		t.Fatalf("expected a1 retried on next cycle, got %+v %v", out, err)
	}
}

func TestConcurrentCyclesDoNotLoseUpdates(t *testing.T) {
	e, n := newTestEngine(t, NewMemoryKV())
	ctx := context.Background()
	_, _ = e.ReconcileAnnouncements(ctx, nil)
	list := []domain.Announcement{unread("a1", ""), unread("a2", "")}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.ReconcileAnnouncements(ctx, list)
		}()
	}
	wg.Wait()
	if ann, _ := e.Badges(); ann != 2 {
		t.Fatalf("expected badge 2, got %d", ann)
	}
	if n.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", n.count())
	}
}

func TestRedisKVRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	kv := NewRedisKV(client, "test:client:u1")
	e, _ := newTestEngine(t, kv)
	ctx := context.Background()
	if err := e.MarkRead(ctx, "a1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !mr.Exists("test:client:u1:" + KeyReadTimestamps) {
		t.Fatalf("expected read timestamps stored in redis")
	}
	restarted, _ := newTestEngine(t, kv)
	last, ok := restarted.LastRead(domain.Announcement{ID: "a1"})
	if !ok || !last.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected last read %v %v", last, ok)
	}
}

func TestFileKVPersists(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	if err != nil {
		t.Fatalf("new file kv: %v", err)
	}
	ctx := context.Background()
	if err := kv.Save(ctx, KeyNotifiedAnnouncements, []string{"a1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	var ids []string
	ok, err := kv.Load(ctx, KeyNotifiedAnnouncements, &ids)
	if err != nil || !ok || len(ids) != 1 || ids[0] != "a1" {
		t.Fatalf("unexpected load %v %v %v", ids, ok, err)
	}
	if ok, _ := kv.Load(ctx, "missing", &ids); ok {
		t.Fatalf("missing key should report false")
	}
}
