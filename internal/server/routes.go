package server

import (
	"context"
	"errors"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/camrelay/camrelay/internal/capture"
	"github.com/camrelay/camrelay/internal/capture/index"
	"github.com/camrelay/camrelay/internal/relay"
	"github.com/camrelay/camrelay/internal/version"
)

const defaultListLimit = 50

// CaptureLister lists indexed captures, newest first.
type CaptureLister interface {
	List(ctx context.Context, limit int) ([]index.Entry, error)
	Count(ctx context.Context) (int, error)
}

// HandlerOptions wire the HTTP surface.
type HandlerOptions struct {
	WebSocket *Server
	Registry  *relay.Registry
	Captures  *capture.Store
	Index     CaptureLister // optional
	StaticDir string
	Port      string // shown on the landing page
}

// Status is returned by GET /api/status.
type Status struct {
	Version         string `json:"version"`
	Release         string `json:"release"`
	Clients         int    `json:"clients"`
	Captures        int    `json:"captures"`
	ControllerBound bool   `json:"controller_bound"`
	CaptureBound    bool   `json:"capture_bound"`
}

var landingTemplate = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Camera relay</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 50px;">
	<h1>Camera relay</h1>
	<p><a href="/admin" style="font-size: 20px;">Control panel (computer)</a></p>
	<p><a href="/client" style="font-size: 20px;">Camera page (phone)</a></p>
	<p>Server port: {{.Port}}</p>
</body>
</html>
`))

// NewHandler builds the HTTP handler for pages, captures, status and the WebSocket endpoint.
func NewHandler(opts HandlerOptions) http.Handler {
	h := &handler{opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.landing)
	mux.HandleFunc("GET /admin", h.page("admin.html"))
	mux.HandleFunc("GET /client", h.page("client.html"))
	mux.HandleFunc("GET /captures/{filename}", h.captureFile)
	mux.HandleFunc("GET /api/captures", h.listCaptures)
	mux.HandleFunc("GET /api/status", h.status)
	if opts.WebSocket != nil {
		mux.HandleFunc("GET /ws", opts.WebSocket.HandleWebSocket)
	}
	if opts.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(opts.StaticDir)))
	}
	return mux
}

type handler struct {
	opts HandlerOptions
}

// landing serves <static>/index.html when present, else the built-in page.
func (h *handler) landing(w http.ResponseWriter, r *http.Request) {
	if h.opts.StaticDir != "" {
		path := filepath.Join(h.opts.StaticDir, "index.html")
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			http.ServeFile(w, r, path)
			return
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := landingTemplate.Execute(w, struct{ Port string }{Port: h.opts.Port}); err != nil {
		log.Printf("[HTTP] render landing page: %v", err)
	}
}

func (h *handler) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.opts.StaticDir == "" {
			http.NotFound(w, r)
			return
		}
		path := filepath.Join(h.opts.StaticDir, name)
		if _, err := os.Stat(path); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, path)
	}
}

func (h *handler) captureFile(w http.ResponseWriter, r *http.Request) {
	if h.opts.Captures == nil {
		http.NotFound(w, r)
		return
	}
	path, err := h.opts.Captures.Path(r.PathValue("filename"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		log.Printf("[HTTP] open capture %s: %v", path, err)
		writeError(w, http.StatusInternalServerError, "failed to open capture")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stat capture")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (h *handler) listCaptures(w http.ResponseWriter, r *http.Request) {
	if h.opts.Index == nil {
		writeError(w, http.StatusServiceUnavailable, "capture index unavailable")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.opts.Index.List(r.Context(), limit)
	if err != nil {
		log.Printf("[HTTP] list captures: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list captures")
		return
	}
	if entries == nil {
		entries = []index.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	st := Status{Version: version.String(), Release: version.Release()}
	if h.opts.WebSocket != nil {
		st.Clients = h.opts.WebSocket.GetClientCount()
	}
	if h.opts.Index != nil {
		n, err := h.opts.Index.Count(r.Context())
		if err != nil {
			log.Printf("[HTTP] count captures: %v", err)
		}
		st.Captures = n
	}
	if h.opts.Registry != nil {
		b := h.opts.Registry.Snapshot()
		st.ControllerBound = b.Controller != nil
		st.CaptureBound = b.Capture != nil
	}
	writeJSON(w, http.StatusOK, st)
}
