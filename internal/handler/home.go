package handler

import (
	"net/http"

	"transitmap/internal/templates"
	"transitmap/internal/view"
)

// Home serves the map page.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	st := sess.Map.Snapshot()

	cfg := templates.MapConfig{
		CenterLat:    h.cfg.MapCenterLat,
		CenterLon:    h.cfg.MapCenterLon,
		Zoom:         h.cfg.MapZoom,
		MinStopsZoom: h.cfg.MinStopsZoom,
		ZoomPrompt:   view.ZoomInPrompt,
	}
	page := templates.MapPage(h.page("Map", "/"), cfg, view.BuildPanel(st), view.BuildBanners(st, h.routeAlerts(st.RouteID)))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(r.Context(), w); err != nil {
		h.logger.Error("rendering map page", "error", err)
	}
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}
