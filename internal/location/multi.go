package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSingleFixTimeout bounds RequestSingleFix when no timeout is configured
const DefaultSingleFixTimeout = 10 * time.Second

// DefaultRescanInterval is how often an open FixStream retries providers
// it could not subscribe to.
const DefaultRescanInterval = time.Second

// Multi merges several providers into one Source
type Multi struct {
	providers     []Provider
	singleTimeout time.Duration
	rescan        time.Duration
	logger        zerolog.Logger
}

// NewMulti creates a Source over the given providers
func NewMulti(logger zerolog.Logger, singleTimeout time.Duration, providers ...Provider) *Multi {
	if singleTimeout <= 0 {
		singleTimeout = DefaultSingleFixTimeout
	}
	return &Multi{
		providers:     providers,
		singleTimeout: singleTimeout,
		rescan:        DefaultRescanInterval,
		logger:        logger.With().Str("component", "location").Logger(),
	}
}

// SetRescanInterval changes how quickly a provider that comes online joins
// streams that are already open. Non-positive values keep the default.
func (m *Multi) SetRescanInterval(d time.Duration) {
	if d > 0 {
		m.rescan = d
	}
}

func (m *Multi) enabled() []Provider {
	var out []Provider
	for _, p := range m.providers {
		if p.Enabled() {
			out = append(out, p)
		}
	}
	return out
}

// Providers returns the names of the currently enabled providers
func (m *Multi) Providers() []string {
	var names []string
	for _, p := range m.enabled() {
		names = append(names, p.Name())
	}
	return names
}

// LastKnownFix returns the most recent cached fix across all providers,
// enabled or not.
func (m *Multi) LastKnownFix() (Fix, bool) {
	var (
		best  Fix
		found bool
	)
	for _, p := range m.providers {
		f, ok := p.LastKnown()
		if !ok {
			continue
		}
		if !found || f.Time.After(best.Time) {
			best = f
			found = true
		}
	}
	return best, found
}

// fanIn tracks which providers feed one merged stream
type fanIn struct {
	m   *Multi
	ctx context.Context
	out chan Fix
	wg  sync.WaitGroup

	mu       sync.Mutex
	attached map[int]bool
}

// attach subscribes to every provider not yet feeding the stream and
// returns how many enabled providers were newly attached.
func (f *fanIn) attach(retry bool) (int, []error) {
	var (
		live int
		errs []error
	)
	for i, p := range f.m.providers {
		f.mu.Lock()
		done := f.attached[i]
		f.mu.Unlock()
		if done {
			continue
		}

		ch, err := p.Updates(f.ctx)
		if err != nil {
			if p.Enabled() {
				errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
				if !retry {
					f.m.logger.Warn().Err(err).Str("provider", p.Name()).Msg("Provider subscription failed")
				}
			}
			continue
		}

		f.mu.Lock()
		f.attached[i] = true
		f.mu.Unlock()
		if p.Enabled() {
			live++
		}
		if retry {
			f.m.logger.Info().Str("provider", p.Name()).Msg("Provider joined fix stream")
		}

		f.wg.Add(1)
		go f.forward(i, p, ch)
	}
	return live, errs
}

// forward copies fixes from one provider while it reports itself enabled.
// A provider whose stream ends is detached so a later rescan can rejoin it.
func (f *fanIn) forward(i int, p Provider, ch <-chan Fix) {
	defer f.wg.Done()
	defer func() {
		f.mu.Lock()
		delete(f.attached, i)
		f.mu.Unlock()
	}()
	for {
		select {
		case <-f.ctx.Done():
			return
		case fix, ok := <-ch:
			if !ok {
				return
			}
			if !p.Enabled() {
				continue
			}
			select {
			case f.out <- fix:
			case <-f.ctx.Done():
				return
			}
		}
	}
}

func (f *fanIn) rescanLoop() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.m.rescan)
	defer ticker.Stop()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			_, _ = f.attach(true)
		}
	}
}

// FixStream subscribes to the configured providers and merges their fixes.
// At least one provider must be enabled. Providers that come online later
// join the stream on the next rescan, and fixes from a provider are
// forwarded only while it is enabled. The channel closes once ctx is done.
func (m *Multi) FixStream(ctx context.Context) (<-chan Fix, error) {
	if len(m.enabled()) == 0 {
		return nil, ErrNoProvider
	}

	ctx, cancel := context.WithCancel(ctx)
	f := &fanIn{
		m:        m,
		ctx:      ctx,
		out:      make(chan Fix, 16),
		attached: make(map[int]bool),
	}

	live, errs := f.attach(false)
	if live == 0 {
		cancel()
		f.wg.Wait()
		if len(errs) == 0 {
			return nil, ErrNoProvider
		}
		return nil, errors.Join(errs...)
	}

	f.wg.Add(1)
	go f.rescanLoop()

	go func() {
		f.wg.Wait()
		cancel()
		close(f.out)
	}()

	return f.out, nil
}

// RequestSingleFix returns the first fix delivered by any enabled provider
// within the configured timeout.
func (m *Multi) RequestSingleFix(ctx context.Context) (Fix, error) {
	ctx, cancel := context.WithTimeout(ctx, m.singleTimeout)
	defer cancel()

	stream, err := m.FixStream(ctx)
	if err != nil {
		return Fix{}, err
	}

	select {
	case f, ok := <-stream:
		if !ok {
			return Fix{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return f, nil
	case <-ctx.Done():
		return Fix{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}
