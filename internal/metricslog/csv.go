// Package metricslog records every accepted navigation recompute to an
// append-only CSV file for offline analysis. Writes are best-effort and
// never surface errors to the navigation engine.
package metricslog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Header is the first row of every metrics log file
var Header = []string{"timestamp_ms", "lat", "lng", "distance_m", "bearing_deg", "eta_min"}

// Record is one accepted recompute
type Record struct {
	Time           time.Time
	Lat            float64
	Lng            float64
	DistanceMeters float64
	BearingDegrees float64
	ETAMinutes     int
}

// Sink receives records. Implementations must not block for long and
// must swallow their own failures.
type Sink interface {
	Append(r Record)
}

// Nop discards every record
type Nop struct{}

func (Nop) Append(Record) {}

// CSV appends records to a single file, writing the header only when the
// file is new or empty.
type CSV struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger

	file   *os.File
	writer *csv.Writer
	rows   int
}

// NewCSV creates a CSV sink. The file is opened lazily on first Append.
func NewCSV(path string, logger zerolog.Logger) *CSV {
	return &CSV{
		path:   path,
		logger: logger.With().Str("component", "metricslog").Str("path", path).Logger(),
	}
}

// Append writes one row and flushes it. On failure the file is closed so
// the next Append retries the open.
func (c *CSV) Append(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writer == nil {
		if err := c.open(); err != nil {
			c.logger.Warn().Err(err).Msg("Metrics log unavailable")
			return
		}
	}

	if err := c.writer.Write(formatRow(r)); err != nil {
		c.logger.Warn().Err(err).Msg("Metrics log write failed")
		c.closeFile()
		return
	}
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		c.logger.Warn().Err(err).Msg("Metrics log flush failed")
		c.closeFile()
		return
	}
	c.rows++
}

// Rows returns the number of rows written by this sink
func (c *CSV) Rows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

// Close flushes and closes the current file
func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeFile()
}

func (c *CSV) open() error {
	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat %s: %w", c.path, err)
	}

	c.file = f
	c.writer = csv.NewWriter(f)

	if info.Size() == 0 {
		if err := c.writer.Write(Header); err != nil {
			c.closeFile()
			return fmt.Errorf("write header: %w", err)
		}
		c.writer.Flush()
	}
	return nil
}

func (c *CSV) closeFile() error {
	if c.writer != nil {
		c.writer.Flush()
		c.writer = nil
	}
	if c.file != nil {
		err := c.file.Close()
		c.file = nil
		return err
	}
	return nil
}

func formatRow(r Record) []string {
	return []string{
		strconv.FormatInt(r.Time.UnixMilli(), 10),
		strconv.FormatFloat(r.Lat, 'f', 7, 64),
		strconv.FormatFloat(r.Lng, 'f', 7, 64),
		strconv.FormatFloat(r.DistanceMeters, 'f', 2, 64),
		strconv.FormatFloat(r.BearingDegrees, 'f', 1, 64),
		strconv.Itoa(r.ETAMinutes),
	}
}
