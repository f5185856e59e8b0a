// Package main provides tests for service wiring
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stuartshay/campus-nav/internal/config"
	"github.com/stuartshay/campus-nav/internal/server"
	"github.com/stuartshay/campus-nav/internal/session"
)

func TestHealthzEndpoint(t *testing.T) {
	registry := session.NewRegistry(nil, 1, zerolog.Nop())
	handler := server.New(registry, "campus-nav", zerolog.Nop()).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["status"] != "healthy" || body["service"] != "campus-nav" {
		t.Errorf("Unexpected body %s", rec.Body.String())
	}

	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", contentType)
	}
}

func TestSetLogLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"bogus": zerolog.InfoLevel,
		"info":  zerolog.InfoLevel,
	}
	for level, want := range tests {
		setLogLevel(level)
		if got := zerolog.GlobalLevel(); got != want {
			t.Errorf("setLogLevel(%q): expected %v, got %v", level, want, got)
		}
	}
}

func TestOpenDirectory_MemoryImport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.csv")
	csv := "building,room,floor,lat,lng\nSH,210,2,36.98590,-86.44880\n"
	if err := os.WriteFile(path, []byte(csv), 0o600); err != nil {
		t.Fatalf("Failed to write rooms CSV: %v", err)
	}

	cfg := config.Default()
	cfg.RoomsCSVPath = path

	dir, closeStore, err := openDirectory(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openDirectory failed: %v", err)
	}
	defer closeStore()

	room, err := dir.Resolve(context.Background(), "sh 210")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if room.Label() != "SH 210" {
		t.Errorf("Expected SH 210, got %s", room.Label())
	}
}

func TestOpenDirectory_MissingCSV(t *testing.T) {
	cfg := config.Default()
	cfg.RoomsCSVPath = filepath.Join(t.TempDir(), "absent.csv")

	dir, closeStore, err := openDirectory(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openDirectory failed: %v", err)
	}
	defer closeStore()

	results, err := dir.Search(context.Background(), "SH")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected empty directory, got %v", results)
	}
}

func TestOpenProviders_NoneConfigured(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	source := openProviders(gctx, g, config.Default())
	if got := source.Providers(); len(got) != 0 {
		t.Errorf("Expected no enabled providers, got %v", got)
	}

	cancel()
	if err := g.Wait(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestLocationSources(t *testing.T) {
	cfg := config.Default()
	if got := locationSources(cfg); len(got) != 0 {
		t.Errorf("Expected no sources, got %v", got)
	}

	cfg.Providers.GPSSerialPort = "/dev/ttyUSB0"
	cfg.Providers.MQTTBroker = "tcp://localhost:1883"
	got := locationSources(cfg)
	if len(got) != 2 || got[0] != "GPS" || got[1] != "NETWORK" {
		t.Errorf("Expected [GPS NETWORK], got %v", got)
	}
}
