package navigation

import (
	"time"

	"github.com/stuartshay/campus-nav/internal/geo"
)

// Position is a user location
type Position struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Altitude *float64 `json:"altitude,omitempty"`
}

// Destination is the navigation target
type Destination struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Altitude *float64 `json:"altitude,omitempty"`
	Floor    *int     `json:"floor,omitempty"`
	// Label is display text such as "SH 101"; it plays no part in equality.
	Label string `json:"label,omitempty"`
}

// Validate rejects non-finite or out-of-range coordinates
func (d Destination) Validate() error {
	return geo.ValidateCoordinate(d.Lat, d.Lng, d.Altitude)
}

func (d Destination) sameTarget(o *Destination) bool {
	if o == nil {
		return false
	}
	return d.Lat == o.Lat && d.Lng == o.Lng &&
		equalFloatPtr(d.Altitude, o.Altitude) && equalIntPtr(d.Floor, o.Floor)
}

// State is an immutable snapshot of a navigation session. The Engine
// replaces it wholesale on every accepted change; pointer fields are never
// written through after publication.
type State struct {
	HasPermission  bool         `json:"hasPermission"`
	UserPosition   *Position    `json:"userPosition,omitempty"`
	ProviderID     string       `json:"providerId,omitempty"`
	AccuracyMeters *float64     `json:"accuracyMeters,omitempty"`
	Destination    *Destination `json:"destination,omitempty"`

	DistanceMeters *float64 `json:"distanceMeters,omitempty"`
	BearingDegrees *float64 `json:"bearingDegrees,omitempty"`
	ETAMinutes     *int     `json:"etaMinutes,omitempty"`
	FloorAdvice    *string  `json:"floorAdvice,omitempty"`

	StatusMessage string `json:"statusMessage"`
	OnRoute       bool   `json:"onRoute"`

	// Seq increases by one with every published snapshot
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasMetrics reports whether the derived fields are populated
func (s State) HasMetrics() bool {
	return s.DistanceMeters != nil
}

func (s State) clearMetrics() State {
	s.DistanceMeters = nil
	s.BearingDegrees = nil
	s.ETAMinutes = nil
	s.FloorAdvice = nil
	s.OnRoute = true
	return s
}

func equalFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
