package directory

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/campus-nav/internal/geo"
)

const roomsCSV = `building,room,floor,lat,lng,alt_m,accuracy_m,notes,created_at
sh,210,2,36.98590,-86.44880,160.5,4.0,Snell Hall lab,1700000000000
SH,101,1,36.98585,-86.44890,,,,
GRH,1001,1,36.98720,-86.45210,150,,Grise Hall,
CH,105,x,36.98650,-86.45100,bad,,,

,300,3,36.98600,-86.44900
MMTH,,1,36.98610,-86.44950
KTH,201,2,,-86.44000
EST,110,1,NaN,-86.44000
short,row
`

func newTestDirectory(t *testing.T) (*Directory, *Memory) {
	t.Helper()
	store := NewMemory()
	d := New(store, zerolog.Nop())
	n, err := d.ImportCSV(context.Background(), strings.NewReader(roomsCSV))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	return d, store
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		building string
		room     string
		wantErr  bool
	}{
		{"building and room", "SH 210", "SH", "210", false},
		{"multi-word building", "Grise Hall 1001", "Grise Hall", "1001", false},
		{"extra whitespace", "  sh \t 210  ", "sh", "210", false},
		{"single token", "SH210", "", "", true},
		{"blank", "   ", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			building, room, err := ParseQuery(tt.query)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.building, building)
			assert.Equal(t, tt.room, room)
		})
	}
}

func TestImportCSV(t *testing.T) {
	d, store := newTestDirectory(t)
	ctx := context.Background()

	r, err := store.FindRoom(ctx, "SH", "210")
	require.NoError(t, err)
	assert.Equal(t, "SH", r.Building, "building is upper-cased")
	require.NotNil(t, r.Floor)
	assert.Equal(t, 2, *r.Floor)
	require.NotNil(t, r.AltitudeMeters)
	assert.Equal(t, 160.5, *r.AltitudeMeters)
	require.NotNil(t, r.AccuracyMeters)
	assert.Equal(t, 4.0, *r.AccuracyMeters)
	assert.Equal(t, "Snell Hall lab", r.Notes)
	require.NotNil(t, r.CreatedAt)
	assert.Equal(t, int64(1700000000000), r.CreatedAt.UnixMilli())

	r, err = store.FindRoom(ctx, "CH", "105")
	require.NoError(t, err)
	assert.Nil(t, r.Floor, "unparsable floor is unset")
	assert.Nil(t, r.AltitudeMeters)

	t.Run("skips when populated", func(t *testing.T) {
		n, err := d.ImportCSV(ctx, strings.NewReader(roomsCSV))
		require.NoError(t, err)
		assert.Zero(t, n)
		count, _ := store.CountRooms(ctx)
		assert.Equal(t, 4, count)
	})

	t.Run("empty input", func(t *testing.T) {
		d := New(NewMemory(), zerolog.Nop())
		n, err := d.ImportCSV(ctx, strings.NewReader(""))
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestResolve(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	r, err := d.Resolve(ctx, "sh 210")
	require.NoError(t, err)
	assert.Equal(t, "SH 210", r.Label())
	assert.Equal(t, 36.98590, r.Lat)
	assert.Equal(t, -86.44880, r.Lng)

	_, err = d.Resolve(ctx, "SH 999")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.Resolve(ctx, "SH")
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingStore struct{ Store }

func (failingStore) FindRoom(context.Context, string, string) (Room, error) {
	return Room{}, errors.New("connection refused")
}

func (failingStore) SearchRooms(context.Context, string) ([]Room, error) {
	return nil, errors.New("connection refused")
}

func TestResolve_StoreError(t *testing.T) {
	d := New(failingStore{}, zerolog.Nop())

	_, err := d.Resolve(context.Background(), "SH 210")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	_, err = d.Search(context.Background(), "SH")
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	d, store := newTestDirectory(t)
	ctx := context.Background()

	require.NoError(t, store.InsertRooms(ctx, []Room{
		{Building: "ASH", Room: "1", Lat: 36.9860, Lng: -86.4500},
	}))

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{"blank", "  ", []string{}},
		{"too long", strings.Repeat("x", MaxQueryLength+1), []string{}},
		{"exact building first", "sh", []string{"SH 101", "SH 210", "ASH 1"}},
		{"label match", "SH 2", []string{"SH 210"}},
		{"room match", "100", []string{"GRH 1001"}},
		{"no match", "ZZZ", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Search(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNearby(t *testing.T) {
	d, _ := newTestDirectory(t)

	rooms, err := d.Nearby(36.98590, -86.44880, 20)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "SH 210", rooms[0].Label)
	assert.InDelta(t, 0, rooms[0].DistanceMeters, 0.01)
	require.NotNil(t, rooms[0].Floor)
	assert.Equal(t, 2, *rooms[0].Floor)
	assert.Equal(t, "SH 101", rooms[1].Label)
	assert.Greater(t, rooms[1].DistanceMeters, rooms[0].DistanceMeters)
	assert.Less(t, rooms[1].DistanceMeters, 20.0)

	rooms, err = d.Nearby(36.98590, -86.44880, 5000)
	require.NoError(t, err)
	assert.Len(t, rooms, 4)

	_, err = New(failingStore{}, zerolog.Nop()).Nearby(0, 0, 10)
	assert.ErrorIs(t, err, ErrNearbyUnsupported)

	_, err = d.Nearby(91, 0, 10)
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)

	for _, radius := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		_, err = d.Nearby(36.98590, -86.44880, radius)
		assert.ErrorIs(t, err, ErrInvalidRadius, "radius %v", radius)
	}
}

func TestMemory_InsertReplaces(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.InsertRooms(ctx, []Room{{Building: "SH", Room: "210", Lat: 36.9859, Lng: -86.4488}}))
	first, err := m.FindRoom(ctx, "sh", "210")
	require.NoError(t, err)

	require.NoError(t, m.InsertRooms(ctx, []Room{{Building: "SH", Room: "210", Lat: 36.9870, Lng: -86.4520}}))
	second, err := m.FindRoom(ctx, "SH", "210")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 36.9870, second.Lat)
	count, _ := m.CountRooms(ctx)
	assert.Equal(t, 1, count)

	assert.Empty(t, m.Nearby(36.9859, -86.4488, 10), "old coordinates leave the index")
	assert.Len(t, m.Nearby(36.9870, -86.4520, 10), 1)
}
