package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/rtree"

	"github.com/stuartshay/campus-nav/internal/geo"
)

type roomKey struct {
	building string
	room     string
}

func keyOf(building, room string) roomKey {
	return roomKey{building: strings.ToUpper(building), room: strings.ToUpper(room)}
}

// Memory is an in-process Store with an R-tree over room coordinates
type Memory struct {
	mu     sync.RWMutex
	rooms  map[roomKey]Room
	nextID int64
	index  rtree.RTreeG[roomKey]
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{rooms: make(map[roomKey]Room)}
}

func (m *Memory) FindRoom(_ context.Context, building, room string) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[keyOf(building, room)]
	if !ok {
		return Room{}, fmt.Errorf("%w: %s %s", ErrNotFound, building, room)
	}
	return r, nil
}

func (m *Memory) SearchRooms(_ context.Context, pattern string) ([]Room, error) {
	pattern = strings.ToUpper(pattern)

	m.mu.RLock()
	var out []Room
	for _, r := range m.rooms {
		if strings.Contains(strings.ToUpper(r.Label()), pattern) ||
			strings.Contains(strings.ToUpper(r.Building), pattern) ||
			strings.Contains(strings.ToUpper(r.Room), pattern) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Building != out[j].Building {
			return out[i].Building < out[j].Building
		}
		return out[i].Room < out[j].Room
	})
	return out, nil
}

func (m *Memory) InsertRooms(_ context.Context, rooms []Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rooms {
		k := keyOf(r.Building, r.Room)
		if old, ok := m.rooms[k]; ok {
			m.index.Delete(point(old), point(old), k)
			r.ID = old.ID
		} else {
			m.nextID++
			r.ID = m.nextID
		}
		m.rooms[k] = r
		m.index.Insert(point(r), point(r), k)
	}
	return nil
}

func (m *Memory) CountRooms(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms), nil
}

// Nearby returns rooms within radiusMeters of (lat, lng), closest first.
// The R-tree prunes to the enclosing box; the exact distance filters it.
func (m *Memory) Nearby(lat, lng, radiusMeters float64) []Room {
	north, _ := geo.DestinationPoint(lat, lng, 0, radiusMeters)
	_, east := geo.DestinationPoint(lat, lng, 90, radiusMeters)
	south, _ := geo.DestinationPoint(lat, lng, 180, radiusMeters)
	_, west := geo.DestinationPoint(lat, lng, 270, radiusMeters)

	type hit struct {
		room     Room
		distance float64
	}

	m.mu.RLock()
	var hits []hit
	m.index.Search([2]float64{west, south}, [2]float64{east, north},
		func(_, _ [2]float64, k roomKey) bool {
			r := m.rooms[k]
			if d := geo.DistanceMeters(lat, lng, r.Lat, r.Lng); d <= radiusMeters {
				hits = append(hits, hit{room: r, distance: d})
			}
			return true
		})
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })

	out := make([]Room, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.room)
	}
	return out
}

func point(r Room) [2]float64 {
	return [2]float64{r.Lng, r.Lat}
}
