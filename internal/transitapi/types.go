package transitapi

// Rect is a map rectangle given by its north-west and south-east corners.
type Rect struct {
	TopLeftLat     float64
	TopLeftLon     float64
	BottomRightLat float64
	BottomRightLon float64
}

// Contains reports whether a point lies inside the rectangle, edges included.
func (r Rect) Contains(lat, lon float64) bool {
	return lat <= r.TopLeftLat && lat >= r.BottomRightLat &&
		lon >= r.TopLeftLon && lon <= r.BottomRightLon
}

// Stop is a stop as returned by the in-rect and geometry endpoints.
type Stop struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// RouteSummary is a route serving a stop.
type RouteSummary struct {
	RouteID   string  `json:"routeId"`
	ShortName string  `json:"shortName"`
	LongName  *string `json:"longName"`
	RouteType int     `json:"routeType"`
}

// Label is the short name, or the route id when the backend has none.
func (r RouteSummary) Label() string {
	if r.ShortName != "" {
		return r.ShortName
	}
	return r.RouteID
}

// RouteSchedule lists departure times of one route at one stop on a date.
type RouteSchedule struct {
	StopID    string   `json:"stopId"`
	RouteID   string   `json:"routeId"`
	Date      string   `json:"date"` // YYYY-MM-DD
	ShortName string   `json:"shortName"`
	LongName  *string  `json:"longName"`
	RouteType int      `json:"routeType"`
	Times     []string `json:"times"`
}

// LatLon is a bare coordinate.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Shape is one drawn variant of a route. Points are kept in received order.
type Shape struct {
	ShapeID string   `json:"shapeId"`
	Points  []LatLon `json:"points"`
}

// RouteGeometry is everything needed to draw a route. Stop order is not
// guaranteed to follow the route.
type RouteGeometry struct {
	RouteID string  `json:"routeId"`
	Stops   []Stop  `json:"stops"`
	Shapes  []Shape `json:"shapes"`
}

// TripSummary is one trip of a route.
type TripSummary struct {
	TripID      string `json:"tripId"`
	DirectionID int    `json:"directionId"`
	ShapeID     string `json:"shapeId"`
}

// ShapePoint is a trip shape point. The backend does not guarantee order;
// sort by Sequence before drawing.
type ShapePoint struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Sequence int     `json:"sequence"`
}

// TripShape is the drawn path of one trip.
type TripShape struct {
	Points []ShapePoint `json:"points"`
}

// TripStop is one stop visit of a trip.
type TripStop struct {
	StopID        string  `json:"stopId"`
	StopName      string  `json:"stopName"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Sequence      int     `json:"sequence"`
	ArrivalTime   string  `json:"arrivalTime"`
	DepartureTime string  `json:"departureTime"`
}

// TripStops lists the stop visits of one trip.
type TripStops struct {
	Stops []TripStop `json:"stops"`
}

// VehiclePosition is the latest known position of the vehicle serving a
// trip. Lat and Lon are nil when the backend has no position inside the
// requested freshness window.
type VehiclePosition struct {
	TripID      string   `json:"tripId"`
	VehicleID   *string  `json:"vehicleId,omitempty"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Bearing     *float64 `json:"bearing,omitempty"`
	Speed       *float64 `json:"speed,omitempty"`
	LastUpdated *string  `json:"lastUpdated,omitempty"`
}

// Live reports whether the position carries coordinates.
func (v *VehiclePosition) Live() bool {
	return v != nil && v.Lat != nil && v.Lon != nil
}
