package view

import (
	"strings"

	"transitmap/internal/apperr"
	"transitmap/internal/geo"
	"transitmap/internal/realtime"
	"transitmap/internal/routedata"
	"transitmap/internal/transitapi"
)

// ZoomInPrompt replaces the stop layer below the minimum zoom.
const ZoomInPrompt = "Zoom in to see stops"

// TripItem is one row of the trips panel.
type TripItem struct {
	TripID      string
	DirectionID int
	ShapeID     string
	Selected    bool
}

// Panel is the trips panel of the selected route.
type Panel struct {
	Visible     bool
	RouteID     string
	AllSelected bool
	TotalTrips  int
	WithVehicle []TripItem
	All         []TripItem
}

// BuildPanel partitions the route's trips into those with a live vehicle and
// the full list.
func BuildPanel(s routedata.State) Panel {
	if s.RouteID == "" {
		return Panel{}
	}
	p := Panel{
		Visible:     true,
		RouteID:     s.RouteID,
		AllSelected: s.TripID == "",
		TotalTrips:  len(s.Trips),
		WithVehicle: []TripItem{},
		All:         []TripItem{},
	}
	for _, t := range s.TripsWithVehicle() {
		p.WithVehicle = append(p.WithVehicle, tripItem(t, s.TripID))
	}
	for _, t := range s.Trips {
		p.All = append(p.All, tripItem(t, s.TripID))
	}
	return p
}

func tripItem(t transitapi.TripSummary, selected string) TripItem {
	return TripItem{
		TripID:      t.TripID,
		DirectionID: t.DirectionID,
		ShapeID:     t.ShapeID,
		Selected:    t.TripID == selected,
	}
}

// BannerKind selects a banner's styling.
type BannerKind string

const (
	BannerLoading BannerKind = "loading"
	BannerError   BannerKind = "error"
	BannerAlert   BannerKind = "alert"
)

// Banner is an overlay message on the map.
type Banner struct {
	Kind   BannerKind
	Text   string
	Detail string
	Bottom bool
}

// BuildBanners derives the overlay messages: one loading banner naming every
// operation in flight, the route error unless the route is reloading, the
// trip error unless trip details are reloading, and active service alerts
// for the route. Cancelled requests are never shown.
func BuildBanners(s routedata.State, alerts []realtime.Alert) []Banner {
	var out []Banner

	var loading []string
	if s.Loading.Route {
		loading = append(loading, "Loading route geometry...")
	}
	if s.Loading.Trips {
		loading = append(loading, "Loading trips...")
	}
	if s.Loading.Vehicles {
		loading = append(loading, "Loading buses...")
	}
	if s.Loading.TripDetails {
		loading = append(loading, "Loading trip shape and stops...")
	}
	if len(loading) > 0 {
		out = append(out, Banner{Kind: BannerLoading, Text: strings.Join(loading, " ")})
	}

	if apperr.Visible(s.RouteErr) && !s.Loading.Route {
		out = append(out, Banner{Kind: BannerError, Text: s.RouteErr.Message})
	}
	if apperr.Visible(s.TripErr) && !s.Loading.TripDetails {
		out = append(out, Banner{Kind: BannerError, Text: s.TripErr.Message, Bottom: true})
	}

	for _, a := range alerts {
		out = append(out, Banner{Kind: BannerAlert, Text: a.EffectLabel() + ": " + a.HeaderText, Detail: a.DescText})
	}
	return out
}

// StopQuery decides what the stop layer shows for a viewport: the backend
// rectangle to query, or false when the map is zoomed out too far and the
// zoom-in prompt should be shown instead.
func StopQuery(zoom int, b geo.Bounds, minZoom int) (transitapi.Rect, bool) {
	if zoom < minZoom || b.Empty() {
		return transitapi.Rect{}, false
	}
	return transitapi.Rect{
		TopLeftLat:     b.North,
		TopLeftLon:     b.West,
		BottomRightLat: b.South,
		BottomRightLon: b.East,
	}, true
}
