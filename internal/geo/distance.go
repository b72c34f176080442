// Package geo holds the small amount of spherical geometry the map needs.
package geo

import "math"

const earthRadiusMeters = 6_371_000

// Haversine returns the great-circle distance in meters between two lat/lon points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// Around returns the box extending radiusMeters from a point in each
// direction. Longitude span widens with latitude.
func Around(lat, lon, radiusMeters float64) Bounds {
	latDeg := radiusMeters / earthRadiusMeters * (180 / math.Pi)
	lonDeg := latDeg / math.Cos(toRad(lat))
	return NewBounds(lat-latDeg, lon-lonDeg, lat+latDeg, lon+lonDeg)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
