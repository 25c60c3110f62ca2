// Package geo checks a reported position against the campus geofence.
package geo

import "math"

const earthRadiusM = 6371000.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// DistanceM returns the great-circle distance between a and b in metres.
func DistanceM(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Fence is a circular geofence.
type Fence struct {
	Center  Point
	RadiusM float64
}

// Check returns the distance from the fence centre and whether p is inside.
// A fence with a non-positive radius contains nothing.
func (f Fence) Check(p Point) (float64, bool) {
	d := DistanceM(f.Center, p)
	return d, f.RadiusM > 0 && d <= f.RadiusM
}
