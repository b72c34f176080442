package handler

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"sort"

	"transitmap/internal/config"
	"transitmap/internal/geocode"
	"transitmap/internal/realtime"
	"transitmap/internal/session"
	"transitmap/internal/templates"
	"transitmap/internal/transitapi"
	"transitmap/web"
)

// Metrics counts open event streams.
type Metrics interface {
	SSEOpened()
	SSEClosed()
}

// Handler holds shared dependencies for all HTTP handlers. Per-browser
// state lives in the session the server middleware puts on the request.
type Handler struct {
	api     *transitapi.Client
	rt      *realtime.Store // nil when no alerts feed is configured
	geo     *geocode.Client // nil disables place search
	cfg     *config.Config
	metrics Metrics
	logger  *slog.Logger
	version string // content hash of static assets, for cache busting
}

// New creates a Handler.
func New(api *transitapi.Client, rt *realtime.Store, geo *geocode.Client, cfg *config.Config, m Metrics, logger *slog.Logger) *Handler {
	v := computeAssetVersion(web.Static())
	logger.Info("asset version computed", "version", v)
	return &Handler{api: api, rt: rt, geo: geo, cfg: cfg, metrics: m, logger: logger, version: v}
}

// computeAssetVersion hashes all CSS and JS files in fsys to produce a short
// version string. Changes to any file produce a new version.
func computeAssetVersion(fsys fs.FS) string {
	h := md5.New()
	var paths []string
	fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ext := path.Ext(p); ext == ".css" || ext == ".js" {
			paths = append(paths, p)
		}
		return nil
	})
	sort.Strings(paths) // deterministic order
	for _, p := range paths {
		f, err := fsys.Open(p)
		if err != nil {
			continue
		}
		io.Copy(h, f)
		f.Close()
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:8]
}

// page creates a templates.Page with the asset version pre-filled.
func (h *Handler) page(title, currentPath string) templates.Page {
	return templates.Page{
		Title:        title,
		CurrentPath:  currentPath,
		AssetVersion: h.version,
	}
}

// session returns the request's session, answering 500 when the session
// middleware did not run.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		h.logger.Error("request without session", "path", r.URL.Path)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return nil, false
	}
	return s, true
}

// detached keeps the request's values but not its cancellation, for work
// that outlives the request. The coordinator discards it if superseded.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (h *Handler) routeAlerts(routeID string) []realtime.Alert {
	if routeID == "" {
		return nil
	}
	return h.rt.AlertsForRoute(routeID)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response", "error", err)
	}
}

// errorResponse is the JSON body of every failed API call.
type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}
