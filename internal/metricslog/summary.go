package metricslog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// Summary holds statistics over a metrics log
type Summary struct {
	Rows                int       `json:"rows"`
	MinDistanceMeters   float64   `json:"minDistanceMeters"`
	MaxDistanceMeters   float64   `json:"maxDistanceMeters"`
	AvgDistanceMeters   float64   `json:"avgDistanceMeters"`
	FinalDistanceMeters float64   `json:"finalDistanceMeters"`
	FinalETAMinutes     int       `json:"finalEtaMinutes"`
	First               time.Time `json:"first"`
	Last                time.Time `json:"last"`
}

// Summarize reads a metrics log and computes distance statistics. Rows
// that fail to parse are reported with their line number.
func Summarize(r io.Reader) (Summary, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(Header)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Summary{}, nil
	}
	if err != nil {
		return Summary{}, fmt.Errorf("read header: %w", err)
	}
	for i, col := range Header {
		if header[i] != col {
			return Summary{}, fmt.Errorf("unexpected header column %d: %q", i+1, header[i])
		}
	}

	summary := Summary{MinDistanceMeters: math.MaxFloat64}
	var total float64

	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Summary{}, fmt.Errorf("line %d: %w", line, err)
		}

		rec, err := parseRow(row)
		if err != nil {
			return Summary{}, fmt.Errorf("line %d: %w", line, err)
		}

		if summary.Rows == 0 {
			summary.First = rec.Time
		}
		summary.Rows++
		summary.Last = rec.Time
		summary.FinalDistanceMeters = rec.DistanceMeters
		summary.FinalETAMinutes = rec.ETAMinutes
		total += rec.DistanceMeters

		if rec.DistanceMeters > summary.MaxDistanceMeters {
			summary.MaxDistanceMeters = rec.DistanceMeters
		}
		if rec.DistanceMeters < summary.MinDistanceMeters {
			summary.MinDistanceMeters = rec.DistanceMeters
		}
	}

	if summary.Rows == 0 {
		summary.MinDistanceMeters = 0
		return summary, nil
	}
	summary.AvgDistanceMeters = total / float64(summary.Rows)
	return summary, nil
}

func parseRow(row []string) (Record, error) {
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid timestamp_ms: %w", err)
	}

	floats := make([]float64, 4)
	for i := range floats {
		floats[i], err = strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return Record{}, fmt.Errorf("invalid %s: %w", Header[i+1], err)
		}
	}

	eta, err := strconv.Atoi(row[5])
	if err != nil {
		return Record{}, fmt.Errorf("invalid eta_min: %w", err)
	}

	return Record{
		Time:           time.UnixMilli(ts).UTC(),
		Lat:            floats[0],
		Lng:            floats[1],
		DistanceMeters: floats[2],
		BearingDegrees: floats[3],
		ETAMinutes:     eta,
	}, nil
}
