package directory

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stuartshay/campus-nav/internal/geo"
)

// ImportCSV loads rooms from the campus export into the store when it is
// still empty. Columns are building,room,floor,lat,lng followed by the
// optional alt_m,accuracy_m,notes,created_at. The header row is skipped,
// rows missing building, room or valid coordinates are dropped and unparsable
// optional numbers are left unset. It returns the number of rows imported.
func (d *Directory) ImportCSV(ctx context.Context, r io.Reader) (int, error) {
	n, err := d.store.CountRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count rooms: %w", err)
	}
	if n > 0 {
		d.logger.Debug().Int("rooms", n).Msg("Room table already populated, skipping import")
		return 0, nil
	}

	rooms, skipped, err := parseRooms(r)
	if err != nil {
		return 0, err
	}
	if len(rooms) == 0 {
		return 0, nil
	}
	if err := d.store.InsertRooms(ctx, rooms); err != nil {
		return 0, fmt.Errorf("failed to insert rooms: %w", err)
	}

	d.logger.Info().Int("imported", len(rooms)).Int("skipped", skipped).Msg("Room table imported")
	return len(rooms), nil
}

// ImportCSVFile opens path and runs ImportCSV on it
func (d *Directory) ImportCSVFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open rooms CSV: %w", err)
	}
	defer func() { _ = f.Close() }() // nolint:errcheck // read-only file

	return d.ImportCSV(ctx, f)
}

func parseRooms(r io.Reader) ([]Room, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		rooms   []Room
		skipped int
		header  = true
	)
	for {
		cols, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read rooms CSV: %w", err)
		}
		if header {
			header = false
			continue
		}

		room, ok := parseRoom(cols)
		if !ok {
			skipped++
			continue
		}
		rooms = append(rooms, room)
	}
	return rooms, skipped, nil
}

func parseRoom(cols []string) (Room, bool) {
	if len(cols) < 5 {
		return Room{}, false
	}

	building := strings.TrimSpace(cols[0])
	room := strings.TrimSpace(cols[1])
	lat := parseFloat(cols[3])
	lng := parseFloat(cols[4])
	if building == "" || room == "" || lat == nil || lng == nil {
		return Room{}, false
	}
	if geo.ValidateCoordinate(*lat, *lng, nil) != nil {
		return Room{}, false
	}

	r := Room{
		Building: strings.ToUpper(building),
		Room:     room,
		Floor:    parseInt(cols[2]),
		Lat:      *lat,
		Lng:      *lng,
	}
	if len(cols) > 5 {
		r.AltitudeMeters = parseFloat(cols[5])
	}
	if len(cols) > 6 {
		r.AccuracyMeters = parseFloat(cols[6])
	}
	if len(cols) > 7 {
		r.Notes = strings.TrimSpace(cols[7])
	}
	if len(cols) > 8 {
		if ms := parseInt64(cols[8]); ms != nil {
			t := time.UnixMilli(*ms).UTC()
			r.CreatedAt = &t
		}
	}
	return r, true
}

func parseFloat(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseInt(s string) *int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &v
}

func parseInt64(s string) *int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
