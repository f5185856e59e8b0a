package location

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

const (
	sentenceGGA        = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	sentenceRMC        = "$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*70"
	sentenceRMCVoid    = "$GPRMC,220516,V,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*67"
	sentenceRMCSecond  = "$GPRMC,220517,A,5133.90,N,00042.24,W,173.8,231.8,130694,004.2,W*72"
	sentenceBadCheksum = "$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*00"
)

func TestNMEA_Consume(t *testing.T) {
	n := NewNMEA(NMEAConfig{PortPath: "/dev/null"}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := n.hub.subscribe(ctx)

	input := strings.Join([]string{
		"garbage",
		sentenceRMCVoid,
		sentenceBadCheksum,
		sentenceGGA,
		sentenceRMC,
		sentenceRMCSecond,
	}, "\r\n")

	err := n.Consume(strings.NewReader(input))
	assert.ErrorIs(t, err, io.EOF)

	first := receive(t, ch)
	assert.Equal(t, ProviderGPS, first.Provider)
	assert.InDelta(t, 51.563667, first.Latitude, 1e-5)
	assert.InDelta(t, -0.704, first.Longitude, 1e-5)
	require.NotNil(t, first.Altitude)
	assert.InDelta(t, 545.4, *first.Altitude, 1e-9)
	require.NotNil(t, first.Accuracy)
	assert.InDelta(t, 4.5, *first.Accuracy, 1e-9)

	second := receive(t, ch)
	assert.InDelta(t, 51.565, second.Latitude, 1e-5)

	last, ok := n.LastKnown()
	require.True(t, ok)
	assert.Equal(t, second.Latitude, last.Latitude)
}

func TestNMEA_UpdatesRequiresOpenPort(t *testing.T) {
	n := NewNMEA(NMEAConfig{PortPath: "/dev/ttyUSB9"}, zerolog.Nop())
	assert.False(t, n.Enabled())

	_, err := n.Updates(context.Background())
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestNMEA_SessionLifecycle(t *testing.T) {
	n := NewNMEA(NMEAConfig{PortPath: "/dev/ttyFAKE", BaudRate: 4800}, zerolog.Nop())

	var gotMode *serial.Mode
	n.open = func(path string, mode *serial.Mode) (io.ReadCloser, error) {
		gotMode = mode
		return io.NopCloser(strings.NewReader(sentenceRMC + "\n")), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := n.hub.subscribe(ctx)

	err := n.session(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, n.Enabled(), "provider is disabled once the port closes")
	require.NotNil(t, gotMode)
	assert.Equal(t, 4800, gotMode.BaudRate)
	assert.Equal(t, ProviderGPS, receive(t, ch).Provider)
}

func TestNMEA_RunRetriesUntilCancelled(t *testing.T) {
	n := NewNMEA(NMEAConfig{PortPath: "/dev/ttyFAKE", ReconnectInterval: 10 * time.Millisecond}, zerolog.Nop())

	var attempts atomic.Int32
	n.open = func(string, *serial.Mode) (io.ReadCloser, error) {
		attempts.Add(1)
		return nil, errors.New("no such device")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	assert.Eventually(t, func() bool { return attempts.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
