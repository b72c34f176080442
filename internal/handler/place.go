package handler

import (
	"cmp"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"transitmap/internal/geo"
	"transitmap/internal/geocode"
)

const (
	placeSearchRadius  = 20000 // meters around the map centre to prefer
	placeClusterRadius = 200   // meters within which results are merged
	placeSearchLimit   = 10
)

// Place is one place search result.
type Place struct {
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Distance float64 `json:"distance"` // meters from the map centre
}

type placeResponse struct {
	Results []Place `json:"results"`
}

// PlaceSearch geocodes q near the map centre (lat/lon, defaulting to the
// configured centre) so the map can be recentred. Results close to each
// other are merged and the rest ordered by distance.
func (h *Handler) PlaceSearch(w http.ResponseWriter, r *http.Request) {
	if h.geo == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Place search is not configured")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	lat, lon := h.cfg.MapCenterLat, h.cfg.MapCenterLon
	if v, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64); err == nil {
		lat = v
	}
	if v, err := strconv.ParseFloat(r.URL.Query().Get("lon"), 64); err == nil {
		lon = v
	}

	results, err := h.geo.Search(r.Context(), q, geo.Around(lat, lon, placeSearchRadius), placeSearchLimit)
	if err != nil {
		h.logger.Warn("nominatim geocoding failed", "query", q, "error", err)
		h.writeError(w, http.StatusBadGateway, "Place lookup is unavailable right now")
		return
	}

	places := clusterPlaces(results, placeClusterRadius)
	for i := range places {
		places[i].Distance = geo.Haversine(lat, lon, places[i].Lat, places[i].Lon)
	}
	slices.SortStableFunc(places, func(a, b Place) int { return cmp.Compare(a.Distance, b.Distance) })
	h.writeJSON(w, http.StatusOK, placeResponse{Results: places})
}

// clusterPlaces groups results by proximity. Results within radiusMeters
// of a cluster are merged into it, keeping the first result's name and
// moving the cluster to the centroid of its members.
func clusterPlaces(results []geocode.Result, radiusMeters float64) []Place {
	clusters := []Place{}
	counts := []int{}
	for _, r := range results {
		merged := false
		for i := range clusters {
			if geo.Haversine(clusters[i].Lat, clusters[i].Lon, r.Lat, r.Lon) <= radiusMeters {
				n := float64(counts[i])
				clusters[i].Lat = (clusters[i].Lat*n + r.Lat) / (n + 1)
				clusters[i].Lon = (clusters[i].Lon*n + r.Lon) / (n + 1)
				counts[i]++
				merged = true
				break
			}
		}
		if !merged {
			clusters = append(clusters, Place{Name: r.DisplayName, Lat: r.Lat, Lon: r.Lon})
			counts = append(counts, 1)
		}
	}
	return clusters
}
