package location

import (
	"context"
	"sync"

	"github.com/stuartshay/campus-nav/internal/geo"
)

type subscriber struct {
	ch   chan Fix
	done <-chan struct{}
}

// hub fans a provider's fixes out to every live subscriber and keeps the
// most recent one as last-known.
type hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
	last *Fix
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

func (h *hub) subscribe(ctx context.Context) <-chan Fix {
	s := &subscriber{ch: make(chan Fix, 16), done: ctx.Done()}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, s)
		close(s.ch)
		h.mu.Unlock()
	}()

	return s.ch
}

// publish rejects malformed coordinates, then delivers f to subscribers in
// arrival order. A slow subscriber blocks publish until it reads or leaves.
func (h *hub) publish(f Fix) error {
	if err := geo.ValidateCoordinate(f.Latitude, f.Longitude, f.Altitude); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = &f
	for s := range h.subs {
		select {
		case s.ch <- f:
		case <-s.done:
		}
	}
	return nil
}

func (h *hub) lastKnown() (Fix, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return Fix{}, false
	}
	return *h.last, true
}

func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
