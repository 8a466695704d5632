package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRecoverCallsFallback(t *testing.T) {
	h := WithRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects.php", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected fallback status, got %d", rec.Code)
	}
}

func TestWithRequestLogKeepsStatus(t *testing.T) {
	h := WithRequestLog("shim", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing.php", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
