package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"fieldsync/pkg/badge"
	"fieldsync/pkg/domain"
	"fieldsync/pkg/geo"
	"fieldsync/pkg/shimclient"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeShim answers the legacy endpoints the agent calls.
type fakeShim struct {
	mu            sync.Mutex
	announcements []domain.Announcement
	projects      []domain.Project
	comments      map[string][]domain.Comment
	expired       bool
	logouts       int
	locations     int
	nextID        int
}

func newFakeShim() *fakeShim {
	return &fakeShim{
		announcements: []domain.Announcement{{ID: "a1", Title: "Kickoff", IsActive: true}},
		projects:      []domain.Project{{ID: "p1", Title: "Bridge survey", Status: domain.ProjectInProgress, Progress: 40}},
		comments:      map[string][]domain.Comment{"p1": {{ID: "c0", Text: "start", AuthorID: "admin", AuthorEmail: "admin@fieldsync.test"}}},
	}
}

func reply(w http.ResponseWriter, status int, payload map[string]any) {
	if status == http.StatusOK {
		payload["status"] = "success"
	} else {
		payload["status"] = "error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (f *fakeShim) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "login.php" {
		reply(w, http.StatusOK, map[string]any{
			"token": "tok",
			"user":  domain.Profile{ID: "u1", Email: "field@fieldsync.test", AccountType: domain.AccountUser},
		})
		return
	}
	if f.expired || r.Header.Get("Authorization") != "Bearer tok" {
		reply(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized", "kind": "unauthorized"})
		return
	}
	switch path {
	case "logout.php":
		f.logouts++
		reply(w, http.StatusOK, map[string]any{})
	case "location.php":
		f.locations++
		reply(w, http.StatusOK, map[string]any{})
	case "announcements.php":
		reply(w, http.StatusOK, map[string]any{"announcements": f.announcements})
	case "mark_read.php":
		reply(w, http.StatusOK, map[string]any{})
	case "projects.php":
		reply(w, http.StatusOK, map[string]any{"projects": f.projects})
	case "comments.php":
		if r.Method == http.MethodGet {
			reply(w, http.StatusOK, map[string]any{"comments": f.comments[r.URL.Query().Get("project_id")]})
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			reply(w, http.StatusBadRequest, map[string]any{"message": "invalid form", "kind": "validation"})
			return
		}
		pid := r.FormValue("project_id")
		f.nextID++
		c := domain.Comment{ID: fmt.Sprintf("c%d", f.nextID), Text: r.FormValue("text"), AuthorID: "u1", CreatedAt: time.Now().UTC(), ClientID: r.FormValue("client_id")}
		f.comments[pid] = append(f.comments[pid], c)
		reply(w, http.StatusOK, map[string]any{"comment": c})
	case "project_progress.php":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			reply(w, http.StatusBadRequest, map[string]any{"message": "invalid form", "kind": "validation"})
			return
		}
		pct, _ := strconv.Atoi(r.FormValue("progress_percentage"))
		pid := r.FormValue("project_id")
		var project domain.Project
		for i := range f.projects {
			if f.projects[i].ID == pid {
				f.projects[i].Progress = pct
				f.projects[i].Status = domain.StatusForProgress(pct)
				project = f.projects[i]
			}
		}
		if project.ID == "" {
			reply(w, http.StatusNotFound, map[string]any{"message": "Project not found", "kind": "not_found"})
			return
		}
		f.nextID++
		c := domain.Comment{
			ID:                 fmt.Sprintf("c%d", f.nextID),
			Text:               r.FormValue("note"),
			AuthorID:           "u1",
			ProgressPercentage: &pct,
			ApprovalStatus:     domain.ApprovalPending,
			ProgressID:         "pr1",
			ClientID:           r.FormValue("client_id"),
		}
		f.comments[pid] = append(f.comments[pid], c)
		reply(w, http.StatusOK, map[string]any{"progress_id": "pr1", "comment": c, "project": project})
	default:
		reply(w, http.StatusNotFound, map[string]any{"message": "Endpoint not found", "kind": "not_found"})
	}
}

func (f *fakeShim) set(fn func(f *fakeShim)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newTestAgent(t *testing.T, secure bool) (*App, *fakeShim, *syncBuffer) {
	t.Helper()
	shim := newFakeShim()
	ts := httptest.NewServer(shim)
	t.Cleanup(ts.Close)
	out := &syncBuffer{}
	a, err := New(context.Background(), Config{
		Client:     shimclient.New(ts.URL),
		KV:         badge.NewMemoryKV(),
		Source:     geo.NewReplaySource([]geo.Fix{{Lat: 6.5244, Lng: 3.3792, Accuracy: 10}}, time.Hour),
		Secure:     secure,
		PollEvery:  time.Hour,
		BadgeEvery: time.Hour,
		Out:        out,
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	t.Cleanup(func() { a.teardown() })
	return a, shim, out
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func exec(t *testing.T, a *App, line string) string {
	t.Helper()
	out, err := a.Exec(context.Background(), line)
	if err != nil {
		t.Fatalf("%s: %v", line, err)
	}
	return out
}

func TestSignInSeedsThenNotifiesNewRecords(t *testing.T) {
	a, shim, out := newTestAgent(t, true)
	ctx := context.Background()
	if _, err := a.SignIn(ctx, "field@fieldsync.test", "secret123"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	waitUntil(t, "first poll", func() bool { return strings.Contains(exec(t, a, "projects"), "Bridge survey") })
	waitUntil(t, "location report", func() bool {
		shim.mu.Lock()
		defer shim.mu.Unlock()
		return shim.locations > 0
	})
	if strings.Contains(out.String(), "[notification]") {
		t.Fatalf("seeding pass must not notify: %q", out.String())
	}

	shim.set(func(f *fakeShim) {
		f.announcements = append(f.announcements, domain.Announcement{ID: "a2", Title: "Road closed", IsActive: true})
		f.projects[0].Progress = 100
	})
	if err := a.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if err := a.Poll(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	notes := out.String()
	if strings.Count(notes, "New announcement: Road closed") != 1 || strings.Count(notes, "Project completed: Bridge survey") != 1 {
		t.Fatalf("expected one notification per record, got %q", notes)
	}
	if got := exec(t, a, "badges"); got != "announcements: 1  completed tasks: 1" {
		t.Fatalf("badges = %q", got)
	}
	exec(t, a, "notifications")
	if got := exec(t, a, "badges"); got != "announcements: 0  completed tasks: 0" {
		t.Fatalf("badges after open = %q", got)
	}
	if got := exec(t, a, "back"); got != "back to dashboard" {
		t.Fatalf("back = %q", got)
	}
}

func TestCommentAndProgressCommands(t *testing.T) {
	a, shim, _ := newTestAgent(t, true)
	if _, err := a.SignIn(context.Background(), "field@fieldsync.test", "secret123"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	waitUntil(t, "first poll", func() bool { return strings.Contains(exec(t, a, "projects"), "p1") })

	if got := exec(t, a, "comment p1 reached the site"); !strings.HasPrefix(got, "comment c") {
		t.Fatalf("comment = %q", got)
	}
	if got := exec(t, a, "comment p1   "); got != "nothing to send" {
		t.Fatalf("empty comment = %q", got)
	}
	got := exec(t, a, "progress p1 100 deck poured")
	if !strings.Contains(got, "pr1") || !strings.Contains(got, "100%") {
		t.Fatalf("progress = %q", got)
	}
	if list := exec(t, a, "projects"); !strings.Contains(list, "100%") {
		t.Fatalf("board not updated: %q", list)
	}
	if err := a.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	row, ok := a.current().board.Project("p1")
	if !ok || len(row.Comments) != 2 {
		t.Fatalf("poll dropped confirmed comments from the row: %+v", row.Comments)
	}
	for _, e := range row.Comments {
		if e.Pending || !strings.HasPrefix(e.Comment.ClientID, "temp-") {
			t.Fatalf("unexpected row entry: %+v", e)
		}
	}
	if _, err := a.Exec(context.Background(), "progress p1 140"); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := a.Exec(context.Background(), "review pr1 APPROVED"); !domain.IsKind(err, domain.KindForbidden) {
		t.Fatalf("expected forbidden review, got %v", err)
	}

	thread := exec(t, a, "open p1")
	if !strings.Contains(thread, "reached the site") || !strings.Contains(thread, "[100% PENDING] deck poured") {
		t.Fatalf("thread = %q", thread)
	}
	if !strings.Contains(thread, "(1 unread)") {
		t.Fatalf("expected the admin comment unread once: %q", thread)
	}
	if again := exec(t, a, "open p1"); !strings.Contains(again, "(0 unread)") {
		t.Fatalf("expected comments marked read: %q", again)
	}
	shim.mu.Lock()
	n := len(shim.comments["p1"])
	shim.mu.Unlock()
	if n != 3 {
		t.Fatalf("server comments = %d, want 3", n)
	}
}

func TestNavigationCommands(t *testing.T) {
	a, _, _ := newTestAgent(t, true)
	if _, err := a.SignIn(context.Background(), "field@fieldsync.test", "secret123"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	exec(t, a, "open p1")
	if got := exec(t, a, "swipe 20"); got != "swipe cancelled" {
		t.Fatalf("short swipe = %q", got)
	}
	if got := exec(t, a, "swipe 120"); got != "back to dashboard" {
		t.Fatalf("long swipe = %q", got)
	}
	if got := exec(t, a, "back"); got != "already at the dashboard" {
		t.Fatalf("back on empty stack = %q", got)
	}
}

func TestSessionExpiryTearsDown(t *testing.T) {
	a, shim, _ := newTestAgent(t, true)
	if _, err := a.SignIn(context.Background(), "field@fieldsync.test", "secret123"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	shim.set(func(f *fakeShim) { f.expired = true })
	if _, err := a.Exec(context.Background(), "open p1"); !domain.IsKind(err, domain.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	select {
	case <-a.Expired():
	case <-time.After(3 * time.Second):
		t.Fatalf("expiry not signalled")
	}
	if _, err := a.Exec(context.Background(), "projects"); !errors.Is(err, ErrSignedOut) {
		t.Fatalf("expected signed out, got %v", err)
	}
}

func TestSignInRefusedWithoutSecureOrigin(t *testing.T) {
	a, shim, _ := newTestAgent(t, false)
	_, err := a.SignIn(context.Background(), "field@fieldsync.test", "secret123")
	reason, ok := geo.ReasonOf(err)
	if !ok || reason != geo.ReasonHTTPSRequired {
		t.Fatalf("expected https-required denial, got %v", err)
	}
	shim.mu.Lock()
	logouts := shim.logouts
	shim.mu.Unlock()
	if logouts != 1 {
		t.Fatalf("expected the session to be revoked, logouts = %d", logouts)
	}
	if _, err := a.Exec(context.Background(), "projects"); !errors.Is(err, ErrSignedOut) {
		t.Fatalf("expected signed out, got %v", err)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	a, shim, _ := newTestAgent(t, true)
	if _, err := a.SignIn(context.Background(), "field@fieldsync.test", "secret123"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if got := exec(t, a, "logout"); got != "signed out" {
		t.Fatalf("logout = %q", got)
	}
	shim.mu.Lock()
	defer shim.mu.Unlock()
	if shim.logouts != 1 {
		t.Fatalf("logouts = %d", shim.logouts)
	}
}
