// Package location abstracts position feeds (serial GPS, MQTT network
// fixes, mock and scripted feeds) behind a single Source that the
// navigation engine consumes.
package location

import (
	"context"
	"errors"
	"time"
)

// Provider identities attached to every Fix
const (
	ProviderGPS     = "GPS"
	ProviderNetwork = "NETWORK"
	ProviderMock    = "MOCK"
)

var (
	// ErrNoProvider is returned when no provider is enabled
	ErrNoProvider = errors.New("no location provider enabled")
	// ErrPermissionDenied is returned when access to a provider is refused
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrTimeout is returned when no fix arrives within the allowed window
	ErrTimeout = errors.New("timed out waiting for location fix")
)

// Fix is a single position report
type Fix struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Provider  string
	Accuracy  *float64
	Time      time.Time
}

// Provider is one underlying location feed
type Provider interface {
	Name() string
	Enabled() bool
	LastKnown() (Fix, bool)
	// Updates streams fixes until ctx is done, then closes the channel.
	Updates(ctx context.Context) (<-chan Fix, error)
}

// Source is the capability set the navigation engine depends on
type Source interface {
	// LastKnownFix returns a cached, possibly stale, position without blocking.
	LastKnownFix() (Fix, bool)
	// FixStream delivers fixes from every enabled provider until ctx is done.
	// Fixes from different providers may interleave.
	FixStream(ctx context.Context) (<-chan Fix, error)
	// RequestSingleFix waits a bounded time for one fix from any provider.
	RequestSingleFix(ctx context.Context) (Fix, error)
	// Providers lists the names of currently enabled providers.
	Providers() []string
}

// Float returns a pointer to v, for optional Fix fields
func Float(v float64) *float64 {
	return &v
}
