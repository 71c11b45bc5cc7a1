// Package geo provides great-circle distance math for geofence checks.
package geo

import (
	"math"
)

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate pair in decimal degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Fence is a circular region centered on a point. Buffer widens the
// effective radius to absorb consumer-GPS error.
type Fence struct {
	Center Point
	Radius float64
	Buffer float64
}

// CheckResult carries the measured distance alongside the pass/fail
// outcome so callers can report actionable diagnostics.
type CheckResult struct {
	Inside   bool
	Distance float64
	Allowed  float64
}

// Distance returns the haversine great-circle distance in meters between
// two coordinates.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Contains checks whether p falls within the fence radius plus buffer.
func (f Fence) Contains(p Point) CheckResult {
	d := Distance(f.Center.Latitude, f.Center.Longitude, p.Latitude, p.Longitude)
	allowed := f.Radius + f.Buffer
	return CheckResult{
		Inside:   d <= allowed,
		Distance: d,
		Allowed:  allowed,
	}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
