package navigation

import (
	"fmt"
	"math"
	"strings"

	"github.com/stuartshay/campus-nav/internal/geo"
)

// Status messages published by the Engine
const (
	StatusPermissionMissing = "Location permission missing"
	StatusNoProvider        = "No location provider enabled"
	StatusMockActive        = "Mock location active"
	outsideBoundsNote       = " (outside bounds)"
	adviceSeparator         = " • "
)

func statusAwaiting(providers []string) string {
	return fmt.Sprintf("Awaiting first fix (%s)", strings.Join(providers, " & "))
}

func statusSeeded(provider string) string {
	return fmt.Sprintf("Seeded from last known (%s)", provider)
}

func statusReceived(provider string) string {
	return fmt.Sprintf("Location received (%s)", provider)
}

func statusRefreshed(provider string) string {
	return fmt.Sprintf("Location refreshed (%s)", provider)
}

func statusNoFix(cfg Config) string {
	return fmt.Sprintf("No GPS fix after %ds", int(cfg.GPSFixTimeout.Seconds()))
}

// shouldRecompute applies the debounce policy: always recompute near the
// destination or on the first computation, otherwise only after moving at
// least the move threshold since the last accepted recompute.
func shouldRecompute(cfg Config, distance float64, last *Position, pos Position) bool {
	if distance <= cfg.NearThresholdMeters {
		return true
	}
	if last == nil {
		return true
	}
	moved := geo.DistanceMeters(last.Lat, last.Lng, pos.Lat, pos.Lng)
	return moved >= cfg.RecalcMoveThresholdMeters
}

// computeETA returns walking minutes rounded to nearest, never below one
func computeETA(distance, walkingSpeedMps float64) int {
	eta := int(math.Round(distance / walkingSpeedMps / 60))
	if eta < 1 {
		return 1
	}
	return eta
}

// floorAdvice combines the destination floor with an altitude heuristic.
// It returns nil when neither part applies.
func floorAdvice(cfg Config, pos Position, dest Destination) *string {
	var parts []string

	if dest.Floor != nil {
		parts = append(parts, fmt.Sprintf("Proceed to floor %d", *dest.Floor))
	}
	if pos.Altitude != nil && dest.Altitude != nil {
		delta := *dest.Altitude - *pos.Altitude
		switch {
		case delta > cfg.FloorStepMeters:
			parts = append(parts, "Go upstairs")
		case delta < -cfg.FloorStepMeters:
			parts = append(parts, "Go downstairs")
		}
	}

	if len(parts) == 0 {
		return nil
	}
	advice := strings.Join(parts, adviceSeparator)
	return &advice
}

// onRoute is false only when the distance grew by more than the off-route
// threshold since the previous accepted recompute.
func onRoute(cfg Config, previous *float64, distance float64) bool {
	if previous == nil {
		return true
	}
	return distance-*previous <= cfg.OffRouteThresholdMeters
}

// statusLine renders "<d> m • <CARDINAL>[ via <provider>][ • acc=<a>m][ (outside bounds)]"
func statusLine(distance, bearing float64, provider string, accuracy *float64, outside bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%.0f m • %s", distance, geo.ToCardinal(bearing))
	if provider != "" {
		fmt.Fprintf(&b, " via %s", provider)
	}
	if accuracy != nil {
		fmt.Fprintf(&b, " • acc=%.1fm", *accuracy)
	}
	if outside {
		b.WriteString(outsideBoundsNote)
	}
	return b.String()
}
