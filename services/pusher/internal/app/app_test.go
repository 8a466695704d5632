package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"fieldsync/pkg/domain"
	"fieldsync/pkg/push"
	"fieldsync/pkg/queue"
	"fieldsync/pkg/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fails map[string]error
}

func (f *fakeSender) Send(_ context.Context, sub domain.PushSubscription, n push.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fails[sub.Endpoint]; err != nil {
		return err
	}
	f.sent = append(f.sent, sub.Endpoint+"|"+n.Title)
	return nil
}

func (f *fakeSender) endpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.sent...)
	sort.Strings(out)
	return out
}

func newTestDB(t *testing.T) (store.DB, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return store.NewRedisDBWithClient(client, "test:db"), client
}

func saveSub(t *testing.T, db store.DB, uid, id, endpoint string) {
	t.Helper()
	sub := domain.PushSubscription{
		ID:       id,
		UserID:   uid,
		Endpoint: endpoint,
		Keys:     domain.SubscriptionKeys{P256dh: "p", Auth: "a"},
	}
	if err := db.Set(context.Background(), store.Join(domain.PushSubscriptionsPath(uid), id), sub); err != nil {
		t.Fatalf("save subscription: %v", err)
	}
}

func TestDeliverBroadcastPrunesGoneSubscriptions(t *testing.T) {
	db, _ := newTestDB(t)
	saveSub(t, db, "u1", "s1", "https://push.test/1")
	saveSub(t, db, "u1", "s2", "https://push.test/2")
	saveSub(t, db, "u2", "s3", "https://push.test/3")
	sender := &fakeSender{fails: map[string]error{"https://push.test/2": push.ErrSubscriptionGone}}
	a, err := New(Config{DB: db, Sender: sender})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	report, err := a.Deliver(context.Background(), domain.PushJob{Kind: domain.PushAnnouncement, RefID: "a1", Title: "Site closed"})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if report.Sent != 2 || report.Pruned != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	got := sender.endpoints()
	if len(got) != 2 || got[0] != "https://push.test/1|Site closed" || got[1] != "https://push.test/3|Site closed" {
		t.Fatalf("unexpected sends: %v", got)
	}
	ok, err := db.Get(context.Background(), store.Join(domain.PushSubscriptionsPath("u1"), "s2"), &domain.PushSubscription{})
	if err != nil || ok {
		t.Fatalf("expected gone subscription deleted, ok=%v err=%v", ok, err)
	}
}

func TestDeliverTargetsNamedUsers(t *testing.T) {
	db, _ := newTestDB(t)
	saveSub(t, db, "u1", "s1", "https://push.test/1")
	saveSub(t, db, "u2", "s2", "https://push.test/2")
	sender := &fakeSender{}
	a, _ := New(Config{DB: db, Sender: sender})

	report, err := a.Deliver(context.Background(), domain.PushJob{
		Kind:    domain.PushProjectCompleted,
		RefID:   "p1",
		Title:   "Done",
		UserIDs: []string{"u2", "u2", "missing"},
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("expected one send, got %+v", report)
	}
	if got := sender.endpoints(); len(got) != 1 || got[0] != "https://push.test/2|Done" {
		t.Fatalf("unexpected sends: %v", got)
	}
}

func TestDeliverFailsOnlyWhenNothingSent(t *testing.T) {
	db, _ := newTestDB(t)
	saveSub(t, db, "u1", "s1", "https://push.test/1")
	saveSub(t, db, "u1", "s2", "https://push.test/2")
	boom := errors.New("push service status 500")
	sender := &fakeSender{fails: map[string]error{"https://push.test/1": boom, "https://push.test/2": boom}}
	a, _ := New(Config{DB: db, Sender: sender})
	job := domain.PushJob{Kind: domain.PushAnnouncement, RefID: "a1", Title: "t"}

	if _, err := a.Deliver(context.Background(), job); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}

	delete(sender.fails, "https://push.test/2")
	report, err := a.Deliver(context.Background(), job)
	if err != nil {
		t.Fatalf("partial failure should not fail the job: %v", err)
	}
	if report.Sent != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestDeliverWithoutSubscriptions(t *testing.T) {
	db, _ := newTestDB(t)
	a, _ := New(Config{DB: db, Sender: &fakeSender{}})
	report, err := a.Deliver(context.Background(), domain.PushJob{Kind: domain.PushAnnouncement, RefID: "a1"})
	if err != nil || report != (Report{}) {
		t.Fatalf("expected empty report, got %+v err=%v", report, err)
	}
}

func TestStartConsumesQueuedJobs(t *testing.T) {
	db, client := newTestDB(t)
	saveSub(t, db, "u1", "s1", "https://push.test/1")
	q, err := queue.NewPushQueue(client, queue.Config{
		Stream:     "test:push",
		Group:      "pusher",
		Block:      20 * time.Millisecond,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	sender := &fakeSender{}
	a, _ := New(Config{DB: db, Sender: sender, Queue: q})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	job, err := q.Enqueue(ctx, domain.PushJob{Kind: domain.PushAnnouncement, RefID: "a1", Title: "Hello"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, ok, err := a.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if ok && got.Status == queue.StatusDone {
			if sent := sender.endpoints(); len(sent) != 1 {
				t.Fatalf("expected one send, got %v", sent)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never completed", job.ID)
}
