package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldsync/pkg/domain"
	"fieldsync/pkg/push"
	"fieldsync/pkg/queue"
	"fieldsync/pkg/store"
	"fieldsync/services/pusher/internal/app"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type nopSender struct{}

func (nopSender) Send(context.Context, domain.PushSubscription, push.Notification) error { return nil }

func TestJobStatusEndpoint(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := queue.NewPushQueue(client, queue.Config{Stream: "test:push", Block: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	a, err := app.New(app.Config{DB: store.NewRedisDBWithClient(client, "test:db"), Sender: nopSender{}, Queue: q})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	job, err := q.Enqueue(context.Background(), domain.PushJob{Kind: domain.PushAnnouncement, RefID: "a1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ts := httptest.NewServer(New(Config{App: a}).Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/pusher/jobs/" + job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got queue.Job
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != job.ID || got.Status != queue.StatusQueued {
		t.Fatalf("unexpected job: %+v", got)
	}

	missing, err := http.Get(ts.URL + "/pusher/jobs/nope")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d", missing.StatusCode)
	}
	if rid := missing.Header.Get("X-Request-Id"); rid == "" {
		t.Fatalf("expected request id header")
	}
}
