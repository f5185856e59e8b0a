// Package directory resolves free-text room queries such as "SH 210" into
// destination coordinates, searches the room table and imports it from
// the campus CSV export.
package directory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stuartshay/campus-nav/internal/geo"
)

// MaxQueryLength bounds search queries; longer ones return no results
const MaxQueryLength = 40

var (
	// ErrNotFound is returned when a query cannot be parsed or matches no room
	ErrNotFound = errors.New("room not found")
	// ErrNearbyUnsupported is returned by Nearby for stores without a spatial index
	ErrNearbyUnsupported = errors.New("nearby search not supported by this store")
	// ErrInvalidRadius is returned by Nearby for a non-positive or non-finite radius
	ErrInvalidRadius = errors.New("radius must be a positive number of meters")
)

// Room is one row of the room table
type Room struct {
	ID             int64
	Building       string
	Room           string
	Floor          *int
	Lat            float64
	Lng            float64
	AltitudeMeters *float64
	AccuracyMeters *float64
	Notes          string
	CreatedAt      *time.Time
}

// Label renders the room as "BUILDING ROOM"
func (r Room) Label() string {
	return r.Building + " " + r.Room
}

// Store is the room table. Lookups are case-insensitive.
type Store interface {
	FindRoom(ctx context.Context, building, room string) (Room, error)
	// SearchRooms returns rooms whose "BUILDING ROOM" label, building or
	// room contains pattern, ordered by building then room.
	SearchRooms(ctx context.Context, pattern string) ([]Room, error)
	// InsertRooms adds rooms, replacing existing (building, room) pairs.
	InsertRooms(ctx context.Context, rooms []Room) error
	CountRooms(ctx context.Context) (int, error)
}

// NearbyStore is implemented by stores with a spatial index
type NearbyStore interface {
	Nearby(lat, lng, radiusMeters float64) []Room
}

// ParseQuery splits a query into building and room: the last
// whitespace-separated token is the room, the rest is the building.
func ParseQuery(query string) (building, room string, err error) {
	tokens := strings.Fields(query)
	if len(tokens) < 2 {
		return "", "", fmt.Errorf("%w: %q needs a building and a room", ErrNotFound, query)
	}
	return strings.Join(tokens[:len(tokens)-1], " "), tokens[len(tokens)-1], nil
}

// Directory answers destination lookups against a Store
type Directory struct {
	store  Store
	tracer trace.Tracer
	logger zerolog.Logger
}

// New creates a Directory over store
func New(store Store, logger zerolog.Logger) *Directory {
	return &Directory{
		store:  store,
		tracer: otel.Tracer("github.com/stuartshay/campus-nav/internal/directory"),
		logger: logger.With().Str("component", "directory").Logger(),
	}
}

// Resolve parses query and looks the room up. Parse failures and misses
// both wrap ErrNotFound.
func (d *Directory) Resolve(ctx context.Context, query string) (Room, error) {
	ctx, span := d.tracer.Start(ctx, "directory.Resolve",
		trace.WithAttributes(attribute.String("directory.query", query)))
	defer span.End()

	building, room, err := ParseQuery(query)
	if err != nil {
		span.SetStatus(codes.Error, "unparsable query")
		return Room{}, err
	}

	r, err := d.store.FindRoom(ctx, strings.ToUpper(building), room)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.logger.Error().Err(err).Str("query", query).Msg("Room lookup failed")
		}
		return Room{}, err
	}

	span.SetAttributes(
		attribute.String("directory.room", r.Label()),
		attribute.Float64("directory.lat", r.Lat),
		attribute.Float64("directory.lng", r.Lng),
	)
	return r, nil
}

// Search returns matching room labels. Blank or over-long queries return
// no results. Rooms in a building named exactly like the query come first.
func (d *Directory) Search(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" || len(query) > MaxQueryLength {
		return []string{}, nil
	}

	ctx, span := d.tracer.Start(ctx, "directory.Search",
		trace.WithAttributes(attribute.String("directory.query", query)))
	defer span.End()

	rooms, err := d.store.SearchRooms(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("search failed: %w", err)
	}

	sort.SliceStable(rooms, func(i, j int) bool {
		ei := strings.EqualFold(rooms[i].Building, query)
		ej := strings.EqualFold(rooms[j].Building, query)
		if ei != ej {
			return ei
		}
		if rooms[i].Building != rooms[j].Building {
			return rooms[i].Building < rooms[j].Building
		}
		return rooms[i].Room < rooms[j].Room
	})

	labels := make([]string, 0, len(rooms))
	for _, r := range rooms {
		labels = append(labels, r.Label())
	}
	span.SetAttributes(attribute.Int("directory.results", len(labels)))
	return labels, nil
}

// NearbyRoom is one Nearby result
type NearbyRoom struct {
	Label          string  `json:"label"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	Floor          *int    `json:"floor,omitempty"`
	DistanceMeters float64 `json:"distanceMeters"`
}

// Nearby lists rooms within radiusMeters of (lat, lng), closest first
func (d *Directory) Nearby(lat, lng, radiusMeters float64) ([]NearbyRoom, error) {
	if err := geo.ValidateCoordinate(lat, lng, nil); err != nil {
		return nil, err
	}
	if !(radiusMeters > 0) || math.IsInf(radiusMeters, 1) {
		return nil, ErrInvalidRadius
	}
	ns, ok := d.store.(NearbyStore)
	if !ok {
		return nil, ErrNearbyUnsupported
	}

	rooms := ns.Nearby(lat, lng, radiusMeters)
	out := make([]NearbyRoom, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, NearbyRoom{
			Label:          r.Label(),
			Lat:            r.Lat,
			Lng:            r.Lng,
			Floor:          r.Floor,
			DistanceMeters: geo.DistanceMeters(lat, lng, r.Lat, r.Lng),
		})
	}
	return out, nil
}
