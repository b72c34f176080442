// Package templates holds the HTML components of the map UI. The components
// are written in .templ files; run `templ generate` after editing one and
// commit the regenerated _templ.go files.
package templates

import (
	"context"
	"net/url"
	"strings"

	"github.com/a-h/templ"

	"transitmap/internal/transitapi"
)

// Page carries the values every full page needs.
type Page struct {
	Title        string
	CurrentPath  string
	AssetVersion string
}

// MapConfig is handed to map.js through a data attribute.
type MapConfig struct {
	CenterLat    float64 `json:"centerLat"`
	CenterLon    float64 `json:"centerLon"`
	Zoom         int     `json:"zoom"`
	MinStopsZoom int     `json:"minStopsZoom"`
	ZoomPrompt   string  `json:"zoomPrompt"`
}

const (
	leafletCSS = "https://unpkg.com/leaflet@1.9.4/dist/leaflet.css"
	leafletJS  = "https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"
)

// RenderString renders c into a string. Used for HTML carried inside JSON
// and SSE payloads.
func RenderString(ctx context.Context, c templ.Component) (string, error) {
	var sb strings.Builder
	if err := c.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func scheduleURL(stopID, routeID string) string {
	return "/stops/" + url.PathEscape(stopID) + "/routes/" + url.PathEscape(routeID) + "/times"
}

// scheduleLabel prefers the short name, falling back to the route id.
func scheduleLabel(s *transitapi.RouteSchedule) string {
	if s.ShortName != "" {
		return s.ShortName
	}
	return s.RouteID
}
