// Package session keeps the live navigation sessions of the service, one
// Engine per client, keyed by a generated session ID.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stuartshay/campus-nav/internal/navigation"
)

var (
	// ErrNotFound is returned for unknown session IDs
	ErrNotFound = errors.New("session not found")
	// ErrLimitReached is returned by Start when the registry is full
	ErrLimitReached = errors.New("session limit reached")
	// ErrShutdown is returned by Start after Shutdown
	ErrShutdown = errors.New("session registry shut down")
)

// DefaultMaxSessions caps concurrent sessions when no limit is configured
const DefaultMaxSessions = 100

// Factory builds the Engine for a new session. The logger already carries
// the session ID.
type Factory func(logger zerolog.Logger) (*navigation.Engine, error)

// Session is one client's navigation session
type Session struct {
	ID        string
	StartedAt time.Time
	Engine    *navigation.Engine
}

// Info is a point-in-time view of a session
type Info struct {
	ID        string           `json:"id"`
	StartedAt time.Time        `json:"startedAt"`
	State     navigation.State `json:"state"`
}

// Registry manages sessions
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	factory  Factory
	max      int
	closed   bool
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry. maxSessions <= 0 selects
// DefaultMaxSessions.
func NewRegistry(factory Factory, maxSessions int, logger zerolog.Logger) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Registry{
		sessions: make(map[string]*Session),
		factory:  factory,
		max:      maxSessions,
		logger:   logger.With().Str("component", "session").Logger(),
	}
}

// Start creates a session with a fresh Engine
func (r *Registry) Start() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrShutdown
	}
	if len(r.sessions) >= r.max {
		return nil, fmt.Errorf("%w (%d)", ErrLimitReached, r.max)
	}

	id := uuid.New().String()
	engine, err := r.factory(r.logger.With().Str("session_id", id).Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create navigation engine: %w", err)
	}

	s := &Session{
		ID:        id,
		StartedAt: time.Now().UTC(),
		Engine:    engine,
	}
	r.sessions[id] = s

	r.logger.Info().Str("session_id", id).Int("active", len(r.sessions)).Msg("Session started")
	return s, nil
}

// Get looks a session up by ID
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// End closes the session's Engine and forgets it
func (r *Registry) End(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.Engine.Close()
	r.logger.Info().Str("session_id", id).Dur("duration", time.Since(s.StartedAt)).Msg("Session ended")
	return nil
}

// List returns sessions newest first, paginated
func (r *Registry) List(limit, offset int) []Info {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})

	if offset >= len(all) {
		return []Info{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	infos := make([]Info, 0, end-offset)
	for _, s := range all[offset:end] {
		infos = append(infos, Info{ID: s.ID, StartedAt: s.StartedAt, State: s.Engine.Snapshot()})
	}
	return infos
}

// Stats counts sessions by progress
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]int{
		"total":      len(r.sessions),
		"authorized": 0,
		"navigating": 0,
	}
	for _, s := range r.sessions {
		state := s.Engine.Snapshot()
		if state.HasPermission {
			stats["authorized"]++
		}
		if state.HasMetrics() {
			stats["navigating"]++
		}
	}
	return stats
}

// Shutdown refuses new sessions and closes every open one
func (r *Registry) Shutdown(timeout time.Duration) error {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Engine.Close()
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info().Int("closed", len(sessions)).Msg("Sessions closed")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded")
	}
}
