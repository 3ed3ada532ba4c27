// Package db writes spots and proxy statistics to TimescaleDB.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/saviobatista/dxcluster-proxy/internal/stats"
	"github.com/saviobatista/dxcluster-proxy/internal/store"
	"github.com/saviobatista/dxcluster-proxy/internal/types"
)

// SinkName identifies this sink in logs and metrics
const SinkName = "postgres"

type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// NewWithDB wraps an existing connection pool
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// DB returns the underlying connection pool
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping verifies the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Name returns the sink name
func (c *Client) Name() string {
	return SinkName
}

// PublishSpot inserts a stored spot
func (c *Client) PublishSpot(ctx context.Context, spot types.Spot) error {
	query := `
		INSERT INTO spots (
			time, spotter, spotter_grid, dx_call, dx_grid,
			freq_khz, band, mode, comment, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := c.db.ExecContext(ctx, query,
		time.UnixMilli(spot.Timestamp).UTC(),
		spot.Spotter,
		nullString(spot.SpotterGrid),
		spot.DXCall,
		nullString(spot.DXGrid),
		spot.FreqKHz,
		store.Band(spot.FreqKHz),
		nullString(string(spot.Mode)),
		spot.Comment,
		spot.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to insert spot: %w", describe(err))
	}
	return nil
}

// StoreProxyStats inserts a statistics snapshot
func (c *Client) StoreProxyStats(ctx context.Context, snap stats.Snapshot) error {
	query := `
		INSERT INTO proxy_stats (
			time, total_lines, spot_lines, rejected_lines,
			stored_spots, duplicate_spots, evicted_spots,
			connects, disconnects, sink_errors, uptime_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := c.db.ExecContext(ctx, query,
		snap.Time,
		int64(snap.TotalLines),
		int64(snap.SpotLines),
		int64(snap.RejectedLines),
		int64(snap.StoredSpots),
		int64(snap.DuplicateSpots),
		int64(snap.EvictedSpots),
		int64(snap.Connects),
		int64(snap.Disconnects),
		int64(snap.SinkErrors),
		int64(snap.Uptime.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert proxy stats: %w", describe(err))
	}
	return nil
}

// GetProxyStats retrieves statistics snapshots for a time range, newest first
func (c *Client) GetProxyStats(ctx context.Context, start, end time.Time) ([]stats.Snapshot, error) {
	query := `
		SELECT
			time, total_lines, spot_lines, rejected_lines,
			stored_spots, duplicate_spots, evicted_spots,
			connects, disconnects, sink_errors, uptime_seconds
		FROM proxy_stats
		WHERE time BETWEEN $1 AND $2
		ORDER BY time DESC
	`

	rows, err := c.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, describe(err)
	}
	defer rows.Close()

	var out []stats.Snapshot
	for rows.Next() {
		var (
			snap          stats.Snapshot
			uptimeSeconds int64
		)
		if err := rows.Scan(
			&snap.Time,
			&snap.TotalLines,
			&snap.SpotLines,
			&snap.RejectedLines,
			&snap.StoredSpots,
			&snap.DuplicateSpots,
			&snap.EvictedSpots,
			&snap.Connects,
			&snap.Disconnects,
			&snap.SinkErrors,
			&uptimeSeconds,
		); err != nil {
			return nil, err
		}
		snap.Uptime = time.Duration(uptimeSeconds) * time.Second
		out = append(out, snap)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// describe annotates Postgres errors with their condition name
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s (%s): %w", pqErr.Code.Name(), pqErr.Code, err)
	}
	return err
}
