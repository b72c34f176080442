package handler

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"transitmap/internal/apperr"
	"transitmap/internal/geo"
	"transitmap/internal/stoproutes"
	"transitmap/internal/templates"
	"transitmap/internal/transitapi"
	"transitmap/internal/view"
)

// stopsResponse is the body of GET /api/stops. Prompt is set instead of
// Stops when the map is zoomed out too far.
type stopsResponse struct {
	Stops  []transitapi.Stop `json:"stops"`
	Prompt string            `json:"prompt,omitempty"`
}

// Stops returns the stops inside the viewport sent by the map on every
// move. Below the minimum zoom no backend call is made.
func (h *Handler) Stops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	zoom, err := strconv.Atoi(q.Get("zoom"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid zoom")
		return
	}
	// Zoomed-out viewports span several world copies; answer before parsing them
	if zoom < h.cfg.MinStopsZoom {
		h.writeJSON(w, http.StatusOK, stopsResponse{Stops: []transitapi.Stop{}, Prompt: view.ZoomInPrompt})
		return
	}
	b, err := parseViewport(q)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rect, ok := view.StopQuery(zoom, b, h.cfg.MinStopsZoom)
	if !ok {
		h.writeJSON(w, http.StatusOK, stopsResponse{Stops: []transitapi.Stop{}, Prompt: view.ZoomInPrompt})
		return
	}

	stops, err := h.api.StopsInRect(r.Context(), rect)
	if err != nil {
		e := apperr.Classify(err, "Could not load stops")
		if e.Kind != apperr.KindCanceled {
			h.logger.Error("loading stops in rect", "error", err)
		}
		h.writeError(w, http.StatusBadGateway, e.Message)
		return
	}
	if stops == nil {
		stops = []transitapi.Stop{}
	}
	h.writeJSON(w, http.StatusOK, stopsResponse{Stops: stops})
}

// parseViewport reads the map bounds, wrapped onto the primary world copy.
func parseViewport(q url.Values) (geo.Bounds, error) {
	var v [4]float64
	for i, key := range []string{"south", "west", "north", "east"} {
		f, err := strconv.ParseFloat(q.Get(key), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return geo.Bounds{}, fmt.Errorf("invalid %s", key)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return geo.Bounds{}, errors.New("invalid bounds")
	}
	b := geo.NewBounds(v[0], v[1], v[2], v[3]).Normalize()
	if !b.Valid() {
		return geo.Bounds{}, errors.New("invalid bounds")
	}
	return b, nil
}

// StopPopup renders a stop's popup, loading its routes on first open.
func (h *Handler) StopPopup(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	stopID := chi.URLParam(r, "stopID")
	loader := sess.Stop(stopID)
	loader.LoadRoutes(r.Context())
	h.renderPopup(w, r, stopID, r.URL.Query().Get("name"), loader.Snapshot())
}

// CheckActive probes which of a stop's routes have a live vehicle and
// re-renders the popup.
func (h *Handler) CheckActive(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	stopID := chi.URLParam(r, "stopID")
	loader := sess.Stop(stopID)
	loader.CheckActiveRoutes(r.Context())
	h.renderPopup(w, r, stopID, r.FormValue("name"), loader.Snapshot())
}

func (h *Handler) renderPopup(w http.ResponseWriter, r *http.Request, stopID, name string, st stoproutes.State) {
	if name == "" {
		name = stopID
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.StopPopup(name, st, h.rt.AlertsForStop(stopID)).Render(r.Context(), w); err != nil {
		h.logger.Error("rendering stop popup", "stop", stopID, "error", err)
	}
}

// Schedule renders a route's departures at a stop. date is YYYY-MM-DD and
// defaults to today.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	stopID := chi.URLParam(r, "stopID")
	routeID := chi.URLParam(r, "routeID")

	date := time.Now()
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, d, time.Local)
		if err != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}
		date = parsed
	}

	sched, err := sess.Stop(stopID).Schedule(r.Context(), routeID, date)
	var appErr *apperr.Error
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err != nil {
		appErr = apperr.Classify(err, "Could not load the schedule")
		w.WriteHeader(http.StatusBadGateway)
	}
	if err := templates.Schedule(sched, appErr).Render(r.Context(), w); err != nil {
		h.logger.Error("rendering schedule", "stop", stopID, "route", routeID, "error", err)
	}
}
