package location

import (
	"context"
	"sync/atomic"
	"time"
)

// Mock reports a fixed position, for indoor demos and tests
type Mock struct {
	lat      float64
	lng      float64
	interval time.Duration
}

// NewMock creates a provider pinned to (lat, lng) that re-emits its
// position every interval (one second when interval is zero).
func NewMock(lat, lng float64, interval time.Duration) *Mock {
	if interval <= 0 {
		interval = time.Second
	}
	return &Mock{lat: lat, lng: lng, interval: interval}
}

func (m *Mock) Name() string { return ProviderMock }
func (m *Mock) Enabled() bool { return true }

func (m *Mock) fix() Fix {
	return Fix{
		Latitude:  m.lat,
		Longitude: m.lng,
		Provider:  ProviderMock,
		Accuracy:  Float(0),
		Time:      time.Now().UTC(),
	}
}

// LastKnown always succeeds with the pinned position
func (m *Mock) LastKnown() (Fix, bool) {
	return m.fix(), true
}

// Updates emits the pinned position immediately, then on every tick
func (m *Mock) Updates(ctx context.Context) (<-chan Fix, error) {
	ch := make(chan Fix, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case ch <- m.fix():
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Feed is a provider driven by explicit Publish calls. It backs scripted
// walkthroughs and lets callers inject fixes from any transport.
type Feed struct {
	name    string
	enabled atomic.Bool
	hub     *hub
}

// NewFeed creates an enabled feed reporting under the given provider name
func NewFeed(name string) *Feed {
	f := &Feed{name: name, hub: newHub()}
	f.enabled.Store(true)
	return f
}

func (f *Feed) Name() string { return f.name }
func (f *Feed) Enabled() bool { return f.enabled.Load() }
func (f *Feed) SetEnabled(on bool) { f.enabled.Store(on) }
func (f *Feed) LastKnown() (Fix, bool) { return f.hub.lastKnown() }
func (f *Feed) Subscribers() int { return f.hub.subscribers() }
func (f *Feed) Updates(ctx context.Context) (<-chan Fix, error) {
	return f.hub.subscribe(ctx), nil
}

// Publish delivers a fix to every subscriber. Provider and Time are filled
// in when empty. Disabled feeds drop the fix silently.
func (f *Feed) Publish(fix Fix) error {
	if !f.Enabled() {
		return nil
	}
	if fix.Provider == "" {
		fix.Provider = f.name
	}
	if fix.Time.IsZero() {
		fix.Time = time.Now().UTC()
	}
	return f.hub.publish(fix)
}
