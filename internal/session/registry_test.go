package session

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stuartshay/campus-nav/internal/navigation"
)

func mockFactory(logger zerolog.Logger) (*navigation.Engine, error) {
	cfg := navigation.DefaultConfig()
	cfg.MockLocationEnabled = true
	return navigation.New(cfg, nil, nil, logger)
}

func newTestRegistry(t *testing.T, max int) *Registry {
	t.Helper()
	r := NewRegistry(mockFactory, max, zerolog.Nop())
	t.Cleanup(func() { _ = r.Shutdown(time.Second) })
	return r
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry(mockFactory, 0, zerolog.Nop())
	defer func() { _ = r.Shutdown(time.Second) }()

	if r.max != DefaultMaxSessions {
		t.Errorf("expected max %d, got %d", DefaultMaxSessions, r.max)
	}
	if len(r.sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(r.sessions))
	}
}

func TestStartAndGet(t *testing.T) {
	r := newTestRegistry(t, 10)

	s, err := r.Start()
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if s.ID == "" {
		t.Error("expected non-empty session ID")
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Engine != s.Engine {
		t.Error("expected the same engine")
	}
	if got.Engine.Snapshot().HasPermission {
		t.Error("new session should start without permission")
	}
}

func TestGet_NotFound(t *testing.T) {
	r := newTestRegistry(t, 10)

	_, err := r.Get("non-existent-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStart_FactoryError(t *testing.T) {
	r := NewRegistry(func(zerolog.Logger) (*navigation.Engine, error) {
		return nil, errors.New("boom")
	}, 10, zerolog.Nop())

	if _, err := r.Start(); err == nil {
		t.Error("expected factory error")
	}
	if n := r.Stats()["total"]; n != 0 {
		t.Errorf("expected 0 sessions, got %d", n)
	}
}

func TestStart_Limit(t *testing.T) {
	r := newTestRegistry(t, 2)

	for i := 0; i < 2; i++ {
		if _, err := r.Start(); err != nil {
			t.Fatalf("Start() #%d failed: %v", i, err)
		}
	}
	if _, err := r.Start(); !errors.Is(err, ErrLimitReached) {
		t.Errorf("expected ErrLimitReached, got %v", err)
	}
}

func TestEnd(t *testing.T) {
	r := newTestRegistry(t, 10)
	s, _ := r.Start()

	if err := r.End(s.ID); err != nil {
		t.Fatalf("End() failed: %v", err)
	}
	if _, err := r.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after End, got %v", err)
	}
	if err := s.Engine.SetDestination(navigation.Destination{Lat: 36.98, Lng: -86.45}); !errors.Is(err, navigation.ErrClosed) {
		t.Errorf("expected closed engine, got %v", err)
	}
	if err := r.End(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second End, got %v", err)
	}
}

func TestList(t *testing.T) {
	r := newTestRegistry(t, 10)

	first, _ := r.Start()
	time.Sleep(2 * time.Millisecond)
	second, _ := r.Start()

	infos := r.List(10, 0)
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	if infos[0].ID != second.ID || infos[1].ID != first.ID {
		t.Error("expected newest session first")
	}

	if infos = r.List(1, 0); len(infos) != 1 {
		t.Errorf("expected 1 session with limit=1, got %d", len(infos))
	}
	if infos = r.List(10, 100); len(infos) != 0 {
		t.Errorf("expected 0 sessions with offset=100, got %d", len(infos))
	}
}

func TestStats(t *testing.T) {
	r := newTestRegistry(t, 10)

	a, _ := r.Start()
	_, _ = r.Start()

	a.Engine.SetPermission(true)
	if err := a.Engine.SetDestination(navigation.Destination{Lat: 36.98590, Lng: -86.44880}); err != nil {
		t.Fatalf("SetDestination() failed: %v", err)
	}

	stats := r.Stats()
	if stats["total"] != 2 {
		t.Errorf("expected total 2, got %d", stats["total"])
	}
	if stats["authorized"] != 1 {
		t.Errorf("expected authorized 1, got %d", stats["authorized"])
	}
	if stats["navigating"] != 1 {
		t.Errorf("expected navigating 1, got %d", stats["navigating"])
	}
}

func TestShutdown(t *testing.T) {
	r := NewRegistry(mockFactory, 10, zerolog.Nop())
	s, _ := r.Start()
	s.Engine.SetPermission(true)

	if err := r.Shutdown(time.Second); err != nil {
		t.Errorf("Shutdown() failed: %v", err)
	}
	if _, err := r.Start(); !errors.Is(err, ErrShutdown) {
		t.Errorf("expected ErrShutdown, got %v", err)
	}
	if err := s.Engine.ForceRefresh(t.Context()); !errors.Is(err, navigation.ErrClosed) {
		t.Errorf("expected closed engine, got %v", err)
	}
}
