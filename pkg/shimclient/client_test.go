package shimclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"fieldsync/pkg/domain"
	"fieldsync/pkg/geo"
	"fieldsync/pkg/submit"
)

var (
	_ submit.Backend = (*Client)(nil)
	_ geo.Reporter   = (*Client)(nil)
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login.php":
			writeJSON(w, http.StatusOK, map[string]any{"status": "success", "token": "tok", "user": map[string]any{"id": "u1", "email": "a@example.com"}})
		case "/users.php":
			if r.Header.Get("Authorization") != "Bearer tok" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "error", "message": "Unauthorized"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "success", "users": []map[string]any{{"id": "u1"}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	user, err := c.Login(context.Background(), "a@example.com", "secret123")
	if err != nil || user.ID != "u1" {
		t.Fatalf("login: %+v %v", user, err)
	}
	users, err := c.Users(context.Background())
	if err != nil || len(users) != 1 {
		t.Fatalf("users: %v %v", users, err)
	}
}

func TestUnauthorizedRunsHookOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "error", "message": "Unauthorized"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetToken("expired")
	var calls atomic.Int32
	c.OnUnauthorized(func() { calls.Add(1) })

	_, err := c.Projects(context.Background())
	if !domain.IsKind(err, domain.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected hook once, got %d", calls.Load())
	}
	if c.Token() != "" {
		t.Fatalf("token should be cleared")
	}
	_ = c.MarkRead(context.Background(), "a1")
	if calls.Load() != 2 {
		t.Fatalf("every 401 should reach the hook, got %d", calls.Load())
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		body   map[string]any
		want   domain.ErrorKind
	}{
		{http.StatusBadRequest, map[string]any{"status": "error", "message": "bad"}, domain.KindValidation},
		{http.StatusForbidden, map[string]any{"status": "error", "message": "admin only"}, domain.KindForbidden},
		{http.StatusNotFound, map[string]any{"status": "error", "message": "missing"}, domain.KindNotFound},
		{http.StatusInternalServerError, map[string]any{"status": "error", "message": "oops"}, domain.KindUpstream},
		{http.StatusInternalServerError, map[string]any{"status": "error", "message": "partial", "kind": "partial_write_failure", "completed": []string{"progress_record"}}, domain.KindPartialWrite},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tt.status, tt.body)
		}))
		err := New(srv.URL).ReviewProgress(context.Background(), "p1", domain.ApprovalApproved)
		srv.Close()
		if !domain.IsKind(err, tt.want) {
			t.Fatalf("status %d: expected %s, got %v", tt.status, tt.want, err)
		}
		if domain.PublicMessage(err) != tt.body["message"] {
			t.Fatalf("expected server message, got %q", domain.PublicMessage(err))
		}
	}
}

func TestCreateCommentMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": err.Error()})
			return
		}
		if r.FormValue("project_id") != "p1" || r.FormValue("text") != "hello" || r.FormValue("client_id") != "temp-1" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "fields"})
			return
		}
		files := r.MultipartForm.File["attachments"]
		if len(files) != 2 || files[0].Header.Get("Content-Type") != "image/png" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "files"})
			return
		}
		f, _ := files[1].Open()
		data, _ := io.ReadAll(f)
		f.Close()
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "comment": map[string]any{"id": "c9", "text": "hello", "attachments": []map[string]any{{"name": files[1].Filename, "size": len(data)}}}})
	}))
	defer srv.Close()

	files := []submit.File{{Name: "a.png", Type: "image/png", Data: []byte("png")}, {Name: "b.txt", Data: []byte("notes")}}
	c, err := New(srv.URL).CreateComment(context.Background(), "p1", "temp-1", "hello", files)
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if c.ID != "c9" || c.Attachments[0].Name != "b.txt" || c.Attachments[0].Size != 5 {
		t.Fatalf("unexpected comment %+v", c)
	}
}

func TestSubmitProgressFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		if r.FormValue("action") != "update_progress" || r.FormValue("progress_percentage") != "100" || r.FormValue("latitude") != "1.25" || r.FormValue("client_id") != "temp-2" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "fields"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "success",
			"progress_id": "pr1",
			"comment":     map[string]any{"id": "c1", "progress_id": "pr1", "approval_status": "PENDING"},
			"project":     map[string]any{"id": "p1", "progress": 100, "status": "completed"},
		})
	}))
	defer srv.Close()

	res, err := New(srv.URL).SubmitProgress(context.Background(), "p1", submit.ProgressInput{
		Percentage: 100,
		Note:       "done",
		ClientID:   "temp-2",
		Location:   &domain.GeoPoint{Lat: 1.25, Lng: 3},
	})
	if err != nil {
		t.Fatalf("submit progress: %v", err)
	}
	if res.ProgressID != "pr1" || res.Project.Status != domain.ProjectCompleted || res.Comment.ApprovalStatus != domain.ApprovalPending {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestNetworkFailureIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()
	if _, err := New(url).Announcements(context.Background()); !domain.IsKind(err, domain.KindUpstream) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
}
