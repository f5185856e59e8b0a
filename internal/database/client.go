// Package database provides the PostgreSQL room directory with connection
// pooling and health checks. Client satisfies directory.Store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/stuartshay/campus-nav/internal/directory"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id          BIGSERIAL PRIMARY KEY,
	building    TEXT NOT NULL,
	room        TEXT NOT NULL,
	floor       INTEGER,
	lat         DOUBLE PRECISION NOT NULL,
	lng         DOUBLE PRECISION NOT NULL,
	alt_m       DOUBLE PRECISION,
	accuracy_m  DOUBLE PRECISION,
	notes       TEXT,
	created_at  TIMESTAMPTZ,
	UNIQUE (building, room)
)`

const roomColumns = `id, building, room, floor, lat, lng, alt_m, accuracy_m, notes, created_at`

// Client wraps a PostgreSQL database connection
type Client struct {
	db *sql.DB
}

// NewClient creates a new database client with connection pooling
func NewClient(dsn string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (also failed to close: %w)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Migrate creates the rooms table when missing
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// FindRoom looks a room up case-insensitively
func (c *Client) FindRoom(ctx context.Context, building, room string) (directory.Room, error) {
	query := `SELECT ` + roomColumns + `
		FROM rooms
		WHERE UPPER(building) = UPPER($1) AND UPPER(room) = UPPER($2)
		LIMIT 1`

	r, err := scanRoom(c.db.QueryRowContext(ctx, query, building, room))
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Room{}, fmt.Errorf("%w: %s %s", directory.ErrNotFound, building, room)
	}
	if err != nil {
		return directory.Room{}, fmt.Errorf("query failed: %w", err)
	}
	return r, nil
}

// SearchRooms matches pattern as a substring of the label, building or room
func (c *Client) SearchRooms(ctx context.Context, pattern string) ([]directory.Room, error) {
	query := `SELECT ` + roomColumns + `
		FROM rooms
		WHERE (building || ' ' || room) ILIKE $1
			OR building ILIKE $1
			OR room ILIKE $1
		ORDER BY building, room`

	rows, err := c.db.QueryContext(ctx, query, containsPattern(pattern))
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }() // nolint:errcheck // Close in defer, error not actionable

	var rooms []directory.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		rooms = append(rooms, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return rooms, nil
}

// InsertRooms upserts rooms in one transaction
func (c *Client) InsertRooms(ctx context.Context, rooms []directory.Room) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rooms (building, room, floor, lat, lng, alt_m, accuracy_m, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (building, room) DO UPDATE SET
			floor = EXCLUDED.floor,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			alt_m = EXCLUDED.alt_m,
			accuracy_m = EXCLUDED.accuracy_m,
			notes = EXCLUDED.notes,
			created_at = EXCLUDED.created_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }() // nolint:errcheck // closed with the transaction

	for _, r := range rooms {
		_, err := stmt.ExecContext(ctx, insertArgs(r)...)
		if err != nil {
			return fmt.Errorf("insert %s failed: %w", r.Label(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// CountRooms returns the number of rooms
func (c *Client) CountRooms(ctx context.Context) (int, error) {
	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}
	return count, nil
}

// HealthCheck verifies database connectivity
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (directory.Room, error) {
	var (
		r         directory.Room
		floor     sql.NullInt64
		altitude  sql.NullFloat64
		accuracy  sql.NullFloat64
		notes     sql.NullString
		createdAt sql.NullTime
	)

	err := row.Scan(
		&r.ID,
		&r.Building,
		&r.Room,
		&floor,
		&r.Lat,
		&r.Lng,
		&altitude,
		&accuracy,
		&notes,
		&createdAt,
	)
	if err != nil {
		return directory.Room{}, err
	}

	// NULL columns stay unset
	if floor.Valid {
		f := int(floor.Int64)
		r.Floor = &f
	}
	if altitude.Valid {
		r.AltitudeMeters = &altitude.Float64
	}
	if accuracy.Valid {
		r.AccuracyMeters = &accuracy.Float64
	}
	if notes.Valid {
		r.Notes = notes.String
	}
	if createdAt.Valid {
		t := createdAt.Time.UTC()
		r.CreatedAt = &t
	}
	return r, nil
}

func insertArgs(r directory.Room) []any {
	var (
		floor     sql.NullInt64
		altitude  sql.NullFloat64
		accuracy  sql.NullFloat64
		notes     sql.NullString
		createdAt sql.NullTime
	)
	if r.Floor != nil {
		floor = sql.NullInt64{Int64: int64(*r.Floor), Valid: true}
	}
	if r.AltitudeMeters != nil {
		altitude = sql.NullFloat64{Float64: *r.AltitudeMeters, Valid: true}
	}
	if r.AccuracyMeters != nil {
		accuracy = sql.NullFloat64{Float64: *r.AccuracyMeters, Valid: true}
	}
	if r.Notes != "" {
		notes = sql.NullString{String: r.Notes, Valid: true}
	}
	if r.CreatedAt != nil {
		createdAt = sql.NullTime{Time: *r.CreatedAt, Valid: true}
	}
	return []any{r.Building, r.Room, floor, r.Lat, r.Lng, altitude, accuracy, notes, createdAt}
}

// containsPattern escapes LIKE wildcards and wraps s for a substring match
func containsPattern(s string) string {
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}
