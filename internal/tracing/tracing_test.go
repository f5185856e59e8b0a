package tracing

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/stuartshay/campus-nav/internal/directory"
)

// recordingExporter keeps exported spans across Shutdown
type recordingExporter struct {
	mu    sync.Mutex
	spans []sdktrace.ReadOnlySpan
}

func (r *recordingExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, spans...)
	return nil
}

func (r *recordingExporter) Shutdown(context.Context) error { return nil }

func (r *recordingExporter) Spans() []sdktrace.ReadOnlySpan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sdktrace.ReadOnlySpan(nil), r.spans...)
}

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInstall_ExportsDirectorySpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exporter := &recordingExporter{}
	shutdown, err := Install(Config{
		ServiceName:      "campus-nav",
		ServiceNamespace: "test",
		ServiceVersion:   "0.0.0",
		Environment:      "test",
		DirectoryBackend: "memory",
		LocationSources:  []string{"GPS", "NETWORK"},
		MockLocation:     true,
	}, exporter)
	require.NoError(t, err)

	store := directory.NewMemory()
	d := directory.New(store, zerolog.Nop())
	_, err = d.ImportCSV(context.Background(), strings.NewReader("building,room,floor,lat,lng\nSH,210,2,36.9859,-86.4488\n"))
	require.NoError(t, err)

	_, err = d.Resolve(context.Background(), "SH 210")
	require.NoError(t, err)
	_, err = d.Resolve(context.Background(), "SH")
	require.Error(t, err)

	// shutdown flushes the batcher
	require.NoError(t, shutdown(context.Background()))

	spans := exporter.Spans()
	require.Len(t, spans, 2)
	for _, s := range spans {
		assert.Equal(t, "directory.Resolve", s.Name())
	}

	res := spans[0].Resource()
	name, ok := res.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "campus-nav", name.AsString())

	backend, ok := res.Set().Value(DirectoryBackendKey)
	require.True(t, ok)
	assert.Equal(t, "memory", backend.AsString())

	sources, ok := res.Set().Value(LocationSourcesKey)
	require.True(t, ok)
	assert.Equal(t, []string{"GPS", "NETWORK"}, sources.AsStringSlice())

	mock, ok := res.Set().Value(MockLocationKey)
	require.True(t, ok)
	assert.True(t, mock.AsBool())
}
