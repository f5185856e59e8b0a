// Package geo provides great-circle calculations on WGS-84 coordinates
// using a spherical Earth model: haversine distance, initial bearing,
// compass labels and destination points.
package geo

import (
	"math"
)

const (
	// EarthRadiusMeters is the mean Earth radius in meters
	EarthRadiusMeters = 6371000.0
)

// cardinals are the 8-point compass labels, clockwise from north
var cardinals = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// DistanceMeters calculates the great-circle distance between two points
// given in decimal degrees, using the Haversine formula
//
// Formula:
// a = sin²(Δφ/2) + cos φ1 ⋅ cos φ2 ⋅ sin²(Δλ/2)
// c = 2 ⋅ atan2( √a, √(1−a) )
// d = R ⋅ c
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	if lat1 == lat2 && lng1 == lng2 {
		return 0
	}

	lat1Rad := degreesToRadians(lat1)
	lat2Rad := degreesToRadians(lat2)
	deltaLat := degreesToRadians(lat2 - lat1)
	deltaLng := degreesToRadians(lng2 - lng1)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// BearingDegrees returns the initial bearing (forward azimuth) from point 1
// to point 2, normalized into [0, 360).
func BearingDegrees(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := degreesToRadians(lat1)
	lat2Rad := degreesToRadians(lat2)
	deltaLng := degreesToRadians(lng2 - lng1)

	y := math.Sin(deltaLng) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLng)

	return normalizeBearing(radiansToDegrees(math.Atan2(y, x)))
}

// ToCardinal maps a bearing to an 8-point compass label. Sectors are 45°
// wide and centered on each label; exact boundaries round half up, so
// 22.5 is "NE" and 337.5 is "N". Non-finite input maps to "N".
func ToCardinal(bearing float64) string {
	if math.IsNaN(bearing) || math.IsInf(bearing, 0) {
		return cardinals[0]
	}
	b := normalizeBearing(bearing)
	idx := int(math.Floor(b/45+0.5)) % len(cardinals)
	return cardinals[idx]
}

// DestinationPoint returns the point reached by travelling distanceMeters
// from (lat, lng) along the given initial bearing.
func DestinationPoint(lat, lng, bearing, distanceMeters float64) (float64, float64) {
	delta := distanceMeters / EarthRadiusMeters
	theta := degreesToRadians(bearing)
	lat1 := degreesToRadians(lat)
	lng1 := degreesToRadians(lng)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) +
		math.Cos(lat1)*math.Sin(delta)*math.Cos(theta))
	lng2 := lng1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2),
	)

	// wrap longitude into [-180, 180)
	lngDeg := math.Mod(radiansToDegrees(lng2)+540, 360) - 180
	return radiansToDegrees(lat2), lngDeg
}

// normalizeBearing folds any finite angle into [0, 360)
func normalizeBearing(deg float64) float64 {
	b := math.Mod(deg, 360)
	if b < 0 {
		b += 360
	}
	if b >= 360 {
		b = 0
	}
	return b
}

// degreesToRadians converts degrees to radians
func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

func radiansToDegrees(radians float64) float64 {
	return radians * 180 / math.Pi
}
