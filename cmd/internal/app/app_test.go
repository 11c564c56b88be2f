package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()

	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestAppHandler_Probes(t *testing.T) {
	t.Parallel()

	h := newTestApp(t, DefaultConfig()).Handler()

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{path: "/healthz", status: http.StatusOK, body: "ok"},
		{path: "/readyz", status: http.StatusOK, body: "ready"},
		{path: "/v1/stats", status: http.StatusOK, body: `"buckets":1009`},
		{path: "/metrics", status: http.StatusOK, body: "chattrack_tracker_live_records"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.status {
			t.Fatalf("%s status=%d want=%d", tc.path, rec.Code, tc.status)
		}
		if !strings.Contains(rec.Body.String(), tc.body) {
			t.Fatalf("%s body=%q want substring %q", tc.path, rec.Body.String(), tc.body)
		}
		if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
			t.Fatalf("%s missing security headers", tc.path)
		}
	}
}

func TestAppHandler_ReadinessRequiresDB(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ReadinessRequireDB = true
	h := newTestApp(t, cfg).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestAppHandler_MetricsDisabled(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MetricsEnabled = false
	h := newTestApp(t, cfg).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d want=%d", rec.Code, http.StatusNotFound)
	}
}

func TestAppHandler_OperationsCountedInMetrics(t *testing.T) {
	t.Parallel()

	h := newTestApp(t, DefaultConfig()).Handler()

	post := func(path, body string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		return rec.Code
	}
	if code := post("/v1/chats/go/join", `{"user":"alice"}`); code != http.StatusNoContent {
		t.Fatalf("join status=%d", code)
	}
	if code := post("/v1/users/alice/contribute", ""); code != http.StatusOK {
		t.Fatalf("contribute status=%d", code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`chattrack_tracker_operations_total{op="join",result="found"} 1`,
		`chattrack_tracker_operations_total{op="contribute",result="found"} 1`,
		`chattrack_http_requests_total{class="2xx",method="POST"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Buckets = 0
	if _, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected error for zero buckets")
	}
}
