package metricslog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Async hands records to a background writer so Append never blocks the
// caller. Records are dropped when the buffer is full.
type Async struct {
	sink    Sink
	pending chan Record
	dropped atomic.Uint64
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAsync wraps sink with a buffered queue and a single writer, which
// keeps rows in submission order.
func NewAsync(sink Sink, buffer int, logger zerolog.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		sink:    sink,
		pending: make(chan Record, buffer),
		logger:  logger.With().Str("component", "metricslog").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}

	a.wg.Add(1)
	go a.worker()

	return a
}

// Append enqueues r without blocking
func (a *Async) Append(r Record) {
	if a.ctx.Err() != nil {
		a.dropped.Add(1)
		return
	}
	select {
	case a.pending <- r:
	default:
		if n := a.dropped.Add(1); n == 1 || n%100 == 0 {
			a.logger.Warn().Uint64("dropped", n).Msg("Metrics log queue is full")
		}
	}
}

// Dropped returns how many records were discarded
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *Async) worker() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			a.drain()
			return
		case r := <-a.pending:
			a.sink.Append(r)
		}
	}
}

func (a *Async) drain() {
	for {
		select {
		case r := <-a.pending:
			a.sink.Append(r)
		default:
			return
		}
	}
}

// Shutdown stops accepting records and waits for queued ones to be written
func (a *Async) Shutdown(timeout time.Duration) error {
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded")
	}
}
