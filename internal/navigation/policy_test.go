package navigation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/campus-nav/internal/geo"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int { return &v }

func TestComputeETA(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		expected int
	}{
		{"zero distance floors to one minute", 0, 1},
		{"tiny distance floors to one minute", 0.001, 1},
		{"scenario A distance", 106.6, 1},
		{"exactly two minutes", 168, 2},
		{"rounds down", 200, 2},
		{"rounds up", 250, 3},
		{"long walk", 1000, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, computeETA(tt.distance, 1.4))
		})
	}
}

func TestShouldRecompute(t *testing.T) {
	cfg := DefaultConfig()
	last := &Position{Lat: 36.98590, Lng: -86.45000}

	t.Run("first computation", func(t *testing.T) {
		assert.True(t, shouldRecompute(cfg, 500, nil, *last))
	})

	t.Run("near destination ignores movement", func(t *testing.T) {
		assert.True(t, shouldRecompute(cfg, 25, last, *last))
	})

	t.Run("small move far away is skipped", func(t *testing.T) {
		pos := Position{Lat: 36.98590, Lng: -86.44997} // ~2.7 m east
		assert.False(t, shouldRecompute(cfg, 100, last, pos))
	})

	t.Run("move past threshold", func(t *testing.T) {
		pos := Position{Lat: 36.98590, Lng: -86.44990} // ~8.9 m east
		assert.True(t, shouldRecompute(cfg, 100, last, pos))
	})
}

func TestFloorAdvice(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		pos      Position
		dest     Destination
		expected string
	}{
		{
			name:     "floor only",
			pos:      Position{},
			dest:     Destination{Floor: intPtr(3)},
			expected: "Proceed to floor 3",
		},
		{
			name:     "upstairs only",
			pos:      Position{Altitude: floatPtr(150)},
			dest:     Destination{Altitude: floatPtr(156)},
			expected: "Go upstairs",
		},
		{
			name:     "floor and downstairs",
			pos:      Position{Altitude: floatPtr(160)},
			dest:     Destination{Altitude: floatPtr(150), Floor: intPtr(1)},
			expected: "Proceed to floor 1 • Go downstairs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advice := floorAdvice(cfg, tt.pos, tt.dest)
			require.NotNil(t, advice)
			assert.Equal(t, tt.expected, *advice)
		})
	}

	t.Run("same level without floor", func(t *testing.T) {
		advice := floorAdvice(cfg, Position{Altitude: floatPtr(150)}, Destination{Altitude: floatPtr(152)})
		assert.Nil(t, advice)
	})

	t.Run("no altitude and no floor", func(t *testing.T) {
		assert.Nil(t, floorAdvice(cfg, Position{}, Destination{}))
	})
}

func TestOnRoute(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, onRoute(cfg, nil, 500))
	assert.True(t, onRoute(cfg, floatPtr(100), 90))
	assert.True(t, onRoute(cfg, floatPtr(100), 110), "growth equal to the threshold stays on route")
	assert.False(t, onRoute(cfg, floatPtr(100), 110.5))
}

func TestStatusLine(t *testing.T) {
	assert.Equal(t, "107 m • E", statusLine(106.6, 90, "", nil, false))
	assert.Equal(t, "107 m • E via GPS • acc=4.5m", statusLine(106.6, 90, "GPS", floatPtr(4.5), false))
	assert.Equal(t, "0 m • N via MOCK (outside bounds)", statusLine(0, 0, "MOCK", nil, true))
}

func TestStatusMessages(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "No GPS fix after 10s", statusNoFix(cfg))
	assert.Equal(t, "Awaiting first fix (GPS & NETWORK)", statusAwaiting([]string{"GPS", "NETWORK"}))
	assert.Equal(t, "Location refreshed (NETWORK)", statusRefreshed("NETWORK"))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero walking speed", func(c *Config) { c.WalkingSpeedMps = 0 }},
		{"zero fix timeout", func(c *Config) { c.GPSFixTimeout = 0 }},
		{"negative near threshold", func(c *Config) { c.NearThresholdMeters = -1 }},
		{"inverted bounds", func(c *Config) { c.CampusBounds = geo.Bounds{MinLat: 2, MaxLat: 1} }},
		{"invalid mock location", func(c *Config) { c.MockLocationEnabled = true; c.MockLat = 100 }},
		{"zero retry interval", func(c *Config) { c.ProviderRetryInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("zero bounds disable the campus check", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CampusBounds = geo.Bounds{}
		cfg.RefreshMinInterval = 0 * time.Second
		assert.NoError(t, cfg.Validate())
	})
}
