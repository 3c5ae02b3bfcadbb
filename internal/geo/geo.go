// Package geo provides great-circle distance and radius filtering for
// latitude/longitude coordinates expressed in degrees.
package geo

import "math"

// earthRadiusMiles matches the constant used by the backend's nearby query.
const earthRadiusMiles = 3958.8

// Distance returns the haversine distance in miles between two coordinates.
// Identical coordinates return exactly 0.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	if lat1 == lat2 && lng1 == lng2 {
		return 0
	}

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMiles * c
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Locatable is anything exposing a coordinate.
type Locatable interface {
	Coordinates() (lat, lng float64)
}

// WithinRadius returns the candidates whose distance from the viewer is at
// most radius miles. The boundary is inclusive, input order is preserved and
// no candidate is mutated. Radius clamping is the caller's responsibility.
func WithinRadius[T Locatable](viewerLat, viewerLng, radius float64, candidates []T) []T {
	result := make([]T, 0, len(candidates))
	for _, c := range candidates {
		lat, lng := c.Coordinates()
		if Distance(viewerLat, viewerLng, lat, lng) <= radius {
			result = append(result, c)
		}
	}
	return result
}
