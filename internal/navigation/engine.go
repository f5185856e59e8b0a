// Package navigation implements the live navigation state engine: it folds
// permission changes, destination commands and position fixes into a
// stream of immutable State snapshots with distance, bearing, ETA, floor
// guidance and an off-route flag.
package navigation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/stuartshay/campus-nav/internal/geo"
	"github.com/stuartshay/campus-nav/internal/location"
	"github.com/stuartshay/campus-nav/internal/metricslog"
)

// ErrClosed is returned by operations on an Engine after Close
var ErrClosed = errors.New("navigation engine closed")

// ErrInvalidCoordinate is returned by SetDestination for malformed input
var ErrInvalidCoordinate = geo.ErrInvalidCoordinate

const maxProviderRetryInterval = 30 * time.Second

type observer struct {
	ch chan State
}

// Engine owns one navigation session's State. All mutations are serialized
// by mu; the fix subscription, the timeout watcher and ForceRefresh calls
// all funnel through it.
type Engine struct {
	cfg     Config
	src     location.Source
	mock    *location.Mock
	sink    metricslog.Sink
	limiter *rate.Limiter
	logger  zerolog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	state        State
	seq          uint64
	lastRecalc   *Position
	lastDistance *float64
	fixReceived  bool
	trackCancel  context.CancelFunc
	observers    map[*observer]struct{}
	closed       bool
}

// New creates an Engine in the unauthorized state. sink may be nil.
func New(cfg Config, src location.Source, sink metricslog.Sink, logger zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil && !cfg.MockLocationEnabled {
		return nil, errors.New("location source is required unless mock location is enabled")
	}
	if sink == nil {
		sink = metricslog.Nop{}
	}

	limit := rate.Inf
	if cfg.RefreshMinInterval > 0 {
		limit = rate.Every(cfg.RefreshMinInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		src:       src,
		sink:      sink,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger.With().Str("component", "navigation").Logger(),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[*observer]struct{}),
	}
	if cfg.MockLocationEnabled {
		e.mock = location.NewMock(cfg.MockLat, cfg.MockLng, 0)
	}
	e.state = State{
		OnRoute:       true,
		StatusMessage: StatusPermissionMissing,
		UpdatedAt:     e.now().UTC(),
	}
	return e, nil
}

// Snapshot returns the current State
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe registers an observer that receives every published snapshot,
// starting with the current one. When the observer falls behind by more
// than buffer snapshots the oldest pending one is discarded, so the latest
// snapshot is always delivered. The returned func unsubscribes.
func (e *Engine) Subscribe(buffer int) (<-chan State, func()) {
	if buffer < 1 {
		buffer = 1
	}
	o := &observer{ch: make(chan State, buffer)}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(o.ch)
		return o.ch, func() {}
	}
	e.observers[o] = struct{}{}
	o.ch <- e.state
	e.mu.Unlock()

	var once sync.Once
	return o.ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.observers[o]; ok {
				delete(e.observers, o)
				close(o.ch)
			}
		})
	}
}

// SetPermission records whether location access is authorized. A grant
// starts tracking; a revocation stops it and keeps the last position.
func (e *Engine) SetPermission(granted bool) {
	e.mu.Lock()
	if e.closed || e.state.HasPermission == granted {
		e.mu.Unlock()
		return
	}

	e.logger.Info().Bool("granted", granted).Msg("Location permission changed")

	next := e.state
	next.HasPermission = granted
	if granted {
		// beginTrackingLocked publishes the first authorized snapshot
		e.state = next
		e.beginTrackingLocked()
	} else {
		next.StatusMessage = StatusPermissionMissing
		e.stopTrackingLocked()
		e.publishLocked(next, false)
	}
	e.mu.Unlock()
}

// SetDestination stores the navigation target and immediately attempts a
// recompute. A target different from the current one resets the debounce
// memory. Malformed coordinates are rejected and leave the State unchanged.
func (e *Engine) SetDestination(dest Destination) error {
	if err := dest.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	next := e.state
	if !dest.sameTarget(next.Destination) {
		e.lastRecalc = nil
		e.lastDistance = nil
		next = next.clearMetrics()
	}
	d := dest
	next.Destination = &d

	if computed, ok := e.attemptRecomputeLocked(next); ok {
		e.publishLocked(computed, true)
	} else {
		e.publishLocked(next, false)
	}

	e.logger.Info().
		Float64("lat", dest.Lat).
		Float64("lng", dest.Lng).
		Str("label", dest.Label).
		Msg("Destination set")
	return nil
}

// ForceRefresh requests a single fix from every enabled provider and folds
// it into the State. Failures are logged and leave the State untouched.
// Calls closer together than the configured refresh interval are ignored.
func (e *Engine) ForceRefresh(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if !e.state.HasPermission {
		e.mu.Unlock()
		e.logger.Warn().Msg("Refresh ignored: location permission missing")
		return nil
	}
	e.mu.Unlock()

	if !e.limiter.Allow() {
		e.logger.Debug().Msg("Refresh throttled")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	var (
		fix location.Fix
		err error
	)
	if e.mock != nil {
		fix, _ = e.mock.LastKnown()
	} else {
		fix, err = e.src.RequestSingleFix(ctx)
	}
	if err != nil {
		e.logger.Warn().Err(err).Msg("Refresh failed")
		return nil
	}
	if !validFix(fix) {
		e.logger.Warn().Float64("lat", fix.Latitude).Float64("lng", fix.Longitude).Msg("Refresh returned malformed fix")
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.state.HasPermission {
		return nil
	}
	if !e.acceptFixLocked(fix, statusRefreshed(fix.Provider)) {
		e.logger.Debug().Str("provider", fix.Provider).Msg("Refresh fix debounced")
	}
	return nil
}

// Close ends the session: the subscription and timeout watcher are
// cancelled, in-flight refreshes are abandoned and observers are closed.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	for o := range e.observers {
		delete(e.observers, o)
		close(o.ch)
	}
	e.mu.Unlock()
	e.logger.Debug().Msg("Navigation engine closed")
}

// beginTrackingLocked seeds the position from the mock override or the
// last-known fix, then starts the fix subscription and timeout watcher.
func (e *Engine) beginTrackingLocked() {
	e.stopTrackingLocked()
	e.fixReceived = false

	if e.mock != nil {
		fix, _ := e.mock.LastKnown()
		e.fixReceived = true
		if !e.acceptFixLocked(fix, StatusMockActive) {
			next := e.state
			next.StatusMessage = StatusMockActive
			e.publishLocked(next, false)
		}
		return
	}

	if fix, ok := e.src.LastKnownFix(); ok && validFix(fix) {
		if !e.acceptFixLocked(fix, statusSeeded(fix.Provider)) {
			next := e.state
			next.StatusMessage = statusSeeded(fix.Provider)
			e.publishLocked(next, false)
		}
	} else {
		next := e.state
		if providers := e.src.Providers(); len(providers) == 0 {
			next.StatusMessage = StatusNoProvider
		} else {
			next.StatusMessage = statusAwaiting(providers)
		}
		e.publishLocked(next, false)
	}

	ctx, cancel := context.WithCancel(e.ctx)
	e.trackCancel = cancel

	e.wg.Add(2)
	go e.track(ctx)
	go e.watchTimeout(ctx)
}

func (e *Engine) stopTrackingLocked() {
	if e.trackCancel != nil {
		e.trackCancel()
		e.trackCancel = nil
	}
}

// track keeps a fix subscription open until ctx is done, re-subscribing
// with exponential backoff while no provider is available.
func (e *Engine) track(ctx context.Context) {
	defer e.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.ProviderRetryInterval
	b.MaxInterval = maxProviderRetryInterval

	for ctx.Err() == nil {
		stream, err := backoff.Retry(ctx, func() (<-chan location.Fix, error) {
			return e.src.FixStream(ctx)
		},
			backoff.WithBackOff(b),
			backoff.WithNotify(func(err error, next time.Duration) {
				e.reportSourceError(ctx, err)
				e.logger.Debug().Err(err).Dur("retry_in", next).Msg("Fix subscription unavailable")
			}),
		)
		if err != nil {
			// Retry gives up after its maximum elapsed time; keep going
			// until the session ends.
			continue
		}

		for fix := range stream {
			e.onFix(ctx, fix)
		}
		e.logger.Debug().Msg("Fix stream ended")
	}
}

// watchTimeout fires once after the configured window and publishes a
// no-fix advisory when nothing arrived. The subscription keeps running.
func (e *Engine) watchTimeout(ctx context.Context) {
	defer e.wg.Done()

	timer := time.NewTimer(e.cfg.GPSFixTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx.Err() != nil || e.fixReceived {
		return
	}
	next := e.state
	next.StatusMessage = statusNoFix(e.cfg)
	e.publishLocked(next, false)
	e.logger.Warn().Dur("timeout", e.cfg.GPSFixTimeout).Msg("No location fix received")
}

func (e *Engine) onFix(ctx context.Context, fix location.Fix) {
	if !validFix(fix) {
		e.logger.Warn().Float64("lat", fix.Latitude).Float64("lng", fix.Longitude).Msg("Ignoring malformed fix")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if ctx.Err() != nil || !e.state.HasPermission {
		return
	}
	e.fixReceived = true
	if !e.acceptFixLocked(fix, statusReceived(fix.Provider)) {
		e.logger.Debug().Str("provider", fix.Provider).Msg("Fix debounced")
	}
}

func (e *Engine) reportSourceError(ctx context.Context, err error) {
	var status string
	switch {
	case errors.Is(err, location.ErrPermissionDenied):
		status = StatusPermissionMissing
	case errors.Is(err, location.ErrNoProvider):
		status = StatusNoProvider
	default:
		e.logger.Warn().Err(err).Msg("Fix subscription failed")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx.Err() != nil || e.state.StatusMessage == status {
		return
	}
	next := e.state
	next.StatusMessage = status
	e.publishLocked(next, false)
}

// acceptFixLocked folds a fix into the State. With a destination set the
// fix is applied only when the debounce policy accepts a recompute, so the
// derived fields always match the published position. It returns false
// when the fix was debounced and nothing was published.
func (e *Engine) acceptFixLocked(fix location.Fix, status string) bool {
	pos := Position{Lat: fix.Latitude, Lng: fix.Longitude, Altitude: fix.Altitude}

	next := e.state
	next.UserPosition = &pos
	next.ProviderID = fix.Provider
	next.AccuracyMeters = fix.Accuracy
	next.StatusMessage = status

	if next.Destination == nil {
		e.publishLocked(next, false)
		return true
	}

	computed, ok := e.attemptRecomputeLocked(next)
	if !ok {
		return false
	}
	e.publishLocked(computed, true)
	return true
}

// attemptRecomputeLocked derives the metrics for s. ok is false when s has
// no position, destination or permission, or when the debounce policy
// skips the recompute.
func (e *Engine) attemptRecomputeLocked(s State) (State, bool) {
	if !s.HasPermission || s.UserPosition == nil || s.Destination == nil {
		return s, false
	}
	pos := *s.UserPosition
	dest := *s.Destination

	distance := geo.DistanceMeters(pos.Lat, pos.Lng, dest.Lat, dest.Lng)
	if !shouldRecompute(e.cfg, distance, e.lastRecalc, pos) {
		return s, false
	}

	bearing := geo.BearingDegrees(pos.Lat, pos.Lng, dest.Lat, dest.Lng)
	eta := computeETA(distance, e.cfg.WalkingSpeedMps)

	var advice *string
	if e.cfg.EnableFloorAdvice && distance <= e.cfg.NearThresholdMeters {
		advice = floorAdvice(e.cfg, pos, dest)
	}

	outside := !e.cfg.CampusBounds.IsZero() && !e.cfg.CampusBounds.Contains(pos.Lat, pos.Lng)

	s.DistanceMeters = &distance
	s.BearingDegrees = &bearing
	s.ETAMinutes = &eta
	s.FloorAdvice = advice
	s.OnRoute = onRoute(e.cfg, e.lastDistance, distance)
	s.StatusMessage = statusLine(distance, bearing, s.ProviderID, s.AccuracyMeters, outside)

	e.lastRecalc = &pos
	e.lastDistance = &distance
	return s, true
}

// publishLocked replaces the State, notifies observers and, for accepted
// recomputes, appends a metrics record.
func (e *Engine) publishLocked(next State, recomputed bool) {
	e.seq++
	next.Seq = e.seq
	next.UpdatedAt = e.now().UTC()
	e.state = next

	for o := range e.observers {
		select {
		case o.ch <- next:
		default:
			select {
			case <-o.ch:
			default:
			}
			select {
			case o.ch <- next:
			default:
			}
		}
	}

	if recomputed {
		e.sink.Append(metricslog.Record{
			Time:           next.UpdatedAt,
			Lat:            next.UserPosition.Lat,
			Lng:            next.UserPosition.Lng,
			DistanceMeters: *next.DistanceMeters,
			BearingDegrees: *next.BearingDegrees,
			ETAMinutes:     *next.ETAMinutes,
		})
		e.logger.Debug().
			Float64("distance_m", *next.DistanceMeters).
			Float64("bearing_deg", *next.BearingDegrees).
			Int("eta_min", *next.ETAMinutes).
			Bool("on_route", next.OnRoute).
			Msg("Navigation recomputed")
	}
}

func validFix(f location.Fix) bool {
	return geo.ValidateCoordinate(f.Latitude, f.Longitude, f.Altitude) == nil
}
