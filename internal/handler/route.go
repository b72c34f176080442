package handler

import (
	"context"
	"net/http"
	"strings"

	"transitmap/internal/routedata"
	"transitmap/internal/templates"
	"transitmap/internal/view"
)

// mapUpdate is what the browser needs to redraw after a state change.
// Panel and Banners are rendered HTML.
type mapUpdate struct {
	Layers  view.Layers `json:"layers"`
	Panel   string      `json:"panel"`
	Banners string      `json:"banners"`
}

func (h *Handler) buildUpdate(ctx context.Context, st routedata.State) (mapUpdate, error) {
	panel, err := templates.RenderString(ctx, templates.TripsPanel(view.BuildPanel(st)))
	if err != nil {
		return mapUpdate{}, err
	}
	banners, err := templates.RenderString(ctx, templates.Banners(view.BuildBanners(st, h.routeAlerts(st.RouteID))))
	if err != nil {
		return mapUpdate{}, err
	}
	return mapUpdate{Layers: view.BuildLayers(st), Panel: panel, Banners: banners}, nil
}

// SelectRoute starts loading a route. The load runs in the background;
// progress reaches the browser over the event stream.
func (h *Handler) SelectRoute(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	routeID := strings.TrimSpace(r.FormValue("route_id"))
	if routeID == "" {
		h.writeError(w, http.StatusBadRequest, "route_id is required")
		return
	}
	go sess.Map.SelectRoute(detached(r), routeID)
	w.WriteHeader(http.StatusAccepted)
}

// SelectTrip selects one trip of the current route, or all trips when
// trip_id is empty.
func (h *Handler) SelectTrip(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	go sess.Map.SelectTrip(detached(r), r.FormValue("trip_id"))
	w.WriteHeader(http.StatusAccepted)
}

// ClearRoute drops the route selection and everything derived from it.
func (h *Handler) ClearRoute(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sess.Map.ClearRoute()
	w.WriteHeader(http.StatusNoContent)
}

// State returns the current map update as JSON.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	u, err := h.buildUpdate(r.Context(), sess.Map.Snapshot())
	if err != nil {
		h.logger.Error("building map state", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}
