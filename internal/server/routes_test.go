package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/camrelay/camrelay/internal/capture"
	"github.com/camrelay/camrelay/internal/capture/index"
	"github.com/camrelay/camrelay/internal/relay"
	"github.com/camrelay/camrelay/internal/version"
)

type listerStub struct {
	entries []index.Entry
	err     error
	limit   int
}

func (l *listerStub) List(_ context.Context, limit int) ([]index.Entry, error) {
	l.limit = limit
	return l.entries, l.err
}

func (l *listerStub) Count(context.Context) (int, error) {
	return len(l.entries), l.err
}

func newRoutesHandler(t *testing.T, lister CaptureLister) (http.Handler, *capture.Store, string) {
	t.Helper()
	dir := t.TempDir()
	static := filepath.Join(dir, "public")
	if err := os.MkdirAll(static, 0o755); err != nil {
		t.Fatalf("mkdir static: %v", err)
	}
	if err := os.WriteFile(filepath.Join(static, "admin.html"), []byte("<h1>admin</h1>"), 0o644); err != nil {
		t.Fatalf("write admin.html: %v", err)
	}
	if err := os.WriteFile(filepath.Join(static, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatalf("write app.js: %v", err)
	}

	store, err := capture.New(capture.Options{
		Dir: filepath.Join(dir, "captures"),
		Now: func() time.Time { return time.UnixMilli(2000) },
	})
	if err != nil {
		t.Fatalf("capture.New() error: %v", err)
	}

	registry := relay.NewRegistry()
	h := NewHandler(HandlerOptions{
		Registry:  registry,
		Captures:  store,
		Index:     lister,
		StaticDir: static,
		Port:      "3000",
	})
	return h, store, static
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestLandingPage(t *testing.T) {
	t.Parallel()

	h, _, _ := newRoutesHandler(t, nil)
	rec := get(t, h, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`href="/admin"`, `href="/client"`, "3000"} {
		if !strings.Contains(body, want) {
			t.Errorf("landing page missing %q", want)
		}
	}
}

func TestLandingPagePrefersStaticIndex(t *testing.T) {
	t.Parallel()

	h, _, static := newRoutesHandler(t, nil)
	if err := os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>custom home</h1>"), 0o644); err != nil {
		t.Fatalf("write index.html: %v", err)
	}

	rec := get(t, h, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "custom home") || strings.Contains(body, `href="/admin"`) {
		t.Fatalf("/ served %q, want static index.html", body)
	}
}

func TestPagesServedFromStaticDir(t *testing.T) {
	t.Parallel()

	h, _, _ := newRoutesHandler(t, nil)

	rec := get(t, h, "/admin")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "admin") {
		t.Fatalf("/admin = %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, "/client"); rec.Code != http.StatusNotFound {
		t.Fatalf("/client without client.html = %d, want 404", rec.Code)
	}
	if rec := get(t, h, "/app.js"); rec.Code != http.StatusOK {
		t.Fatalf("/app.js = %d, want 200", rec.Code)
	}
}

func TestCaptureDownload(t *testing.T) {
	t.Parallel()

	h, store, _ := newRoutesHandler(t, nil)
	if _, err := store.Save(context.Background(), "peer", "AAA="); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	rec := get(t, h, "/captures/capture-2000.jpg")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %s", ct)
	}
	body, _ := io.ReadAll(rec.Body)
	if len(body) != 2 {
		t.Fatalf("body length = %d, want 2", len(body))
	}

	for _, target := range []string{
		"/captures/capture-9999.jpg",
		"/captures/notes.txt",
		"/captures/capture-1.png",
	} {
		if rec := get(t, h, target); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", target, rec.Code)
		}
	}
}

func TestListCaptures(t *testing.T) {
	t.Parallel()

	lister := &listerStub{entries: []index.Entry{{Filename: "capture-1.jpg", Size: 3}}}
	h, _, _ := newRoutesHandler(t, lister)

	rec := get(t, h, "/api/captures?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if lister.limit != 5 {
		t.Errorf("limit = %d, want 5", lister.limit)
	}
	var entries []index.Entry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Filename != "capture-1.jpg" {
		t.Fatalf("entries = %+v", entries)
	}

	get(t, h, "/api/captures")
	if lister.limit != defaultListLimit {
		t.Errorf("default limit = %d, want %d", lister.limit, defaultListLimit)
	}
}

func TestListCapturesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		lister CaptureLister
		target string
		want   int
	}{
		{name: "no index", lister: nil, target: "/api/captures", want: http.StatusServiceUnavailable},
		{name: "bad limit", lister: &listerStub{}, target: "/api/captures?limit=abc", want: http.StatusBadRequest},
		{name: "negative limit", lister: &listerStub{}, target: "/api/captures?limit=-1", want: http.StatusBadRequest},
		{name: "index failure", lister: &listerStub{err: errors.New("boom")}, target: "/api/captures", want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, _, _ := newRoutesHandler(t, tt.lister)
			rec := get(t, h, tt.target)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Error == "" {
				t.Fatalf("expected JSON error body, got %v / %+v", err, resp)
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	cleanup := version.ForTesting("v9.9.9-2-gabc1234")
	t.Cleanup(cleanup)

	registry := relay.NewRegistry()
	registry.Identify(stubPeer("a"), relay.RoleController)
	lister := &listerStub{entries: []index.Entry{{Filename: "capture-1.jpg"}, {Filename: "capture-2.jpg"}}}
	h := NewHandler(HandlerOptions{Registry: registry, Index: lister})

	rec := get(t, h, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Version != "v9.9.9-2-gabc1234" || st.Release != "9.9.9" || !st.ControllerBound || st.CaptureBound {
		t.Fatalf("status = %+v", st)
	}
	if st.Captures != 2 {
		t.Fatalf("status = %+v", st)
	}
}

type stubPeer string

func (p stubPeer) ID() string               { return string(p) }
func (p stubPeer) Send(relay.Message) error { return nil }
