package metricslog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	records []Record
	block   chan struct{}
}

func (m *memorySink) Append(r Record) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

func (m *memorySink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func sampleRecord(i int) Record {
	return Record{
		Time:           time.UnixMilli(1700000000000 + int64(i)*1000),
		Lat:            36.98590,
		Lng:            -86.45000 + float64(i)*0.0001,
		DistanceMeters: 107.0 - float64(i)*8.9,
		BearingDegrees: 90.0,
		ETAMinutes:     1,
	}
}

func TestCSV_WritesHeaderOnceAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nav_metrics.csv")

	sink := NewCSV(path, zerolog.Nop())
	sink.Append(sampleRecord(0))
	sink.Append(sampleRecord(1))
	require.NoError(t, sink.Close())

	// reopening appends without repeating the header
	sink = NewCSV(path, zerolog.Nop())
	sink.Append(sampleRecord(2))
	require.NoError(t, sink.Close())
	assert.Equal(t, 1, sink.Rows())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "timestamp_ms,lat,lng,distance_m,bearing_deg,eta_min", lines[0])
	assert.Equal(t, "1700000000000,36.9859000,-86.4500000,107.00,90.0,1", lines[1])
	assert.True(t, strings.HasSuffix(string(data), "\n"), "rows are newline-terminated")
}

func TestCSV_FailuresAreSwallowed(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	sink := NewCSV(filepath.Join(blocker, "metrics.csv"), zerolog.Nop())
	assert.NotPanics(t, func() { sink.Append(sampleRecord(0)) })
	assert.Equal(t, 0, sink.Rows())
}

func TestAsync_DeliversInOrder(t *testing.T) {
	mem := &memorySink{}
	async := NewAsync(mem, 16, zerolog.Nop())

	for i := 0; i < 10; i++ {
		async.Append(sampleRecord(i))
	}
	require.NoError(t, async.Shutdown(time.Second))

	require.Equal(t, 10, mem.len())
	for i, r := range mem.records {
		assert.Equal(t, sampleRecord(i).Time, r.Time)
	}
	assert.Zero(t, async.Dropped())
}

func TestAsync_DropsWhenFull(t *testing.T) {
	mem := &memorySink{block: make(chan struct{})}
	async := NewAsync(mem, 2, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			async.Append(sampleRecord(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked on a stalled sink")
	}
	assert.Greater(t, async.Dropped(), uint64(0))

	close(mem.block)
	require.NoError(t, async.Shutdown(time.Second))
	assert.LessOrEqual(t, mem.len(), 3)
}

func TestAsync_AppendAfterShutdown(t *testing.T) {
	mem := &memorySink{}
	async := NewAsync(mem, 4, zerolog.Nop())
	require.NoError(t, async.Shutdown(time.Second))

	async.Append(sampleRecord(0))
	assert.Equal(t, 0, mem.len())
	assert.Equal(t, uint64(1), async.Dropped())
}

func TestSummarize(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		s, err := Summarize(strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, 0, s.Rows)
	})

	t.Run("header only", func(t *testing.T) {
		s, err := Summarize(strings.NewReader(strings.Join(Header, ",") + "\n"))
		require.NoError(t, err)
		assert.Equal(t, 0, s.Rows)
		assert.Equal(t, 0.0, s.MinDistanceMeters)
	})

	t.Run("round trip through CSV sink", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "metrics.csv")
		sink := NewCSV(path, zerolog.Nop())
		for i := 0; i < 5; i++ {
			sink.Append(sampleRecord(i))
		}
		require.NoError(t, sink.Close())

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()

		s, err := Summarize(f)
		require.NoError(t, err)
		assert.Equal(t, 5, s.Rows)
		assert.InDelta(t, 107.0, s.MaxDistanceMeters, 0.01)
		assert.InDelta(t, 71.4, s.MinDistanceMeters, 0.01)
		assert.InDelta(t, 71.4, s.FinalDistanceMeters, 0.01)
		assert.InDelta(t, 89.2, s.AvgDistanceMeters, 0.01)
		assert.Equal(t, int64(1700000000000), s.First.UnixMilli())
		assert.Equal(t, int64(1700000004000), s.Last.UnixMilli())
	})

	t.Run("bad header", func(t *testing.T) {
		_, err := Summarize(strings.NewReader("a,b,c,d,e,f\n"))
		assert.Error(t, err)
	})

	t.Run("bad row", func(t *testing.T) {
		input := strings.Join(Header, ",") + "\n1,2,3,not-a-number,5,1\n"
		_, err := Summarize(strings.NewReader(input))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
		assert.Contains(t, err.Error(), "distance_m")
	})
}
