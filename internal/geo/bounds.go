package geo

import (
	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// Bounds is an axis-aligned latitude/longitude rectangle in degrees
type Bounds struct {
	MinLat float64 `yaml:"min_lat" json:"minLat"`
	MaxLat float64 `yaml:"max_lat" json:"maxLat"`
	MinLng float64 `yaml:"min_lng" json:"minLng"`
	MaxLng float64 `yaml:"max_lng" json:"maxLng"`
}

// IsZero reports whether no bounds are configured
func (b Bounds) IsZero() bool {
	return b == Bounds{}
}

// Valid reports whether the rectangle is non-empty and inside WGS-84 ranges.
func (b Bounds) Valid() bool {
	return b.MinLat <= b.MaxLat && b.MinLng <= b.MaxLng &&
		b.MinLat >= -90 && b.MaxLat <= 90 &&
		b.MinLng >= -180 && b.MaxLng <= 180
}

// Rect converts the bounds into an s2 rectangle.
func (b Bounds) Rect() s2.Rect {
	return s2.Rect{
		Lat: r1.Interval{
			Lo: (s1.Angle(b.MinLat) * s1.Degree).Radians(),
			Hi: (s1.Angle(b.MaxLat) * s1.Degree).Radians(),
		},
		Lng: s1.IntervalFromEndpoints(
			(s1.Angle(b.MinLng) * s1.Degree).Radians(),
			(s1.Angle(b.MaxLng) * s1.Degree).Radians(),
		),
	}
}

// Contains reports whether the point lies inside the rectangle, edges included.
func (b Bounds) Contains(lat, lng float64) bool {
	return b.Rect().ContainsLatLng(s2.LatLngFromDegrees(lat, lng))
}

// Center returns the midpoint of the rectangle.
func (b Bounds) Center() (float64, float64) {
	c := b.Rect().Center()
	return c.Lat.Degrees(), c.Lng.Degrees()
}
