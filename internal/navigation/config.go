package navigation

import (
	"errors"
	"fmt"
	"time"

	"github.com/stuartshay/campus-nav/internal/geo"
)

// Config holds the tunables of a single Engine. Each Engine receives its
// own copy at construction.
type Config struct {
	WalkingSpeedMps           float64
	GPSFixTimeout             time.Duration
	NearThresholdMeters       float64
	RecalcMoveThresholdMeters float64
	OffRouteThresholdMeters   float64
	FloorStepMeters           float64
	EnableFloorAdvice         bool
	CampusBounds              geo.Bounds

	MockLocationEnabled bool
	MockLat             float64
	MockLng             float64

	// RefreshMinInterval throttles ForceRefresh; zero disables throttling.
	RefreshMinInterval time.Duration
	// ProviderRetryInterval is the initial delay before re-subscribing when
	// no provider is available.
	ProviderRetryInterval time.Duration
}

// DefaultConfig returns the stock campus configuration
func DefaultConfig() Config {
	return Config{
		WalkingSpeedMps:           1.4,
		GPSFixTimeout:             10 * time.Second,
		NearThresholdMeters:       25,
		RecalcMoveThresholdMeters: 5,
		OffRouteThresholdMeters:   10,
		FloorStepMeters:           2.5,
		EnableFloorAdvice:         true,
		CampusBounds: geo.Bounds{
			MinLat: 36.9820,
			MaxLat: 36.9905,
			MinLng: -86.4555,
			MaxLng: -86.4380,
		},
		MockLat:               36.98596,
		MockLng:               -86.44990,
		RefreshMinInterval:    time.Second,
		ProviderRetryInterval: time.Second,
	}
}

// Validate checks the configuration for values the Engine cannot run with
func (c Config) Validate() error {
	var errs []error

	if !(c.WalkingSpeedMps > 0) {
		errs = append(errs, fmt.Errorf("walking speed must be positive, got %v", c.WalkingSpeedMps))
	}
	if c.GPSFixTimeout <= 0 {
		errs = append(errs, fmt.Errorf("GPS fix timeout must be positive, got %v", c.GPSFixTimeout))
	}
	if c.NearThresholdMeters < 0 || c.RecalcMoveThresholdMeters < 0 ||
		c.OffRouteThresholdMeters < 0 || c.FloorStepMeters < 0 {
		errs = append(errs, errors.New("distance thresholds must not be negative"))
	}
	if !c.CampusBounds.IsZero() && !c.CampusBounds.Valid() {
		errs = append(errs, fmt.Errorf("invalid campus bounds %+v", c.CampusBounds))
	}
	if c.MockLocationEnabled {
		if err := geo.ValidateCoordinate(c.MockLat, c.MockLng, nil); err != nil {
			errs = append(errs, fmt.Errorf("mock location: %w", err))
		}
	}
	if c.ProviderRetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("provider retry interval must be positive, got %v", c.ProviderRetryInterval))
	}

	return errors.Join(errs...)
}
