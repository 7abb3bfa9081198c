// Package alertstore keeps a durable SQLite record of every fall alert.
//
// The Store is registered with the publisher as a Deliverer, so alerts are
// written off the frame loop. Schema changes are golang-migrate migrations
// embedded in the binary.
package alertstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/fallwatch/internal/detect"
	"github.com/banshee-data/fallwatch/internal/fall"
	"github.com/banshee-data/fallwatch/internal/pipeline"
)

// Store is an alert database.
type Store struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// One connection keeps the per-connection PRAGMAs below in force.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}

	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	diagf("Opened alert store %s", path)
	return s, nil
}

// Path returns the file the store was opened from.
func (s *Store) Path() string { return s.path }

// Deliver implements publish.Deliverer by recording the alert. Re-delivering
// the same alert ID is a no-op.
func (s *Store) Deliver(ctx context.Context, a pipeline.Alert) error {
	verdict, err := json.Marshal(a.Verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	_, err = s.ExecContext(ctx, `
		INSERT OR IGNORE INTO alerts (
			alert_id, stream_id, person_id, x, y, w, h,
			location, note, frame_index, ts_unix_nanos, verdict_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.StreamID, a.PersonID,
		a.Box.X, a.Box.Y, a.Box.W, a.Box.H,
		a.Location, a.Note, int64(a.FrameIndex), a.Timestamp.UnixNano(), string(verdict),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert %s: %w", a.ID, err)
	}
	return nil
}

const selectAlerts = `
	SELECT alert_id, stream_id, person_id, x, y, w, h,
	       location, note, frame_index, ts_unix_nanos, verdict_json
	FROM alerts`

// RecentAlerts returns up to limit alerts across all streams, newest first.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]pipeline.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.QueryContext(ctx, selectAlerts+`
		ORDER BY ts_unix_nanos DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanAlerts(rows)
}

// AlertsForStream returns alerts for one stream at or after since, oldest
// first.
func (s *Store) AlertsForStream(ctx context.Context, stream string, since time.Time) ([]pipeline.Alert, error) {
	rows, err := s.QueryContext(ctx, selectAlerts+`
		WHERE stream_id = ? AND ts_unix_nanos >= ?
		ORDER BY ts_unix_nanos ASC, rowid ASC`, stream, since.UnixNano())
	if err != nil {
		return nil, err
	}
	return scanAlerts(rows)
}

// CountByStream returns the number of stored alerts per stream.
func (s *Store) CountByStream(ctx context.Context) (map[string]int, error) {
	rows, err := s.QueryContext(ctx, `SELECT stream_id, COUNT(*) FROM alerts GROUP BY stream_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var stream string
		var n int
		if err := rows.Scan(&stream, &n); err != nil {
			return nil, err
		}
		counts[stream] = n
	}
	return counts, rows.Err()
}

func scanAlerts(rows *sql.Rows) ([]pipeline.Alert, error) {
	defer rows.Close()

	var alerts []pipeline.Alert
	for rows.Next() {
		var (
			id, stream, location, note string
			person                     int
			box                        detect.Box
			frameIndex, tsNanos        int64
			verdictJSON                sql.NullString
		)
		if err := rows.Scan(&id, &stream, &person, &box.X, &box.Y, &box.W, &box.H,
			&location, &note, &frameIndex, &tsNanos, &verdictJSON); err != nil {
			return nil, err
		}
		alertID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("bad alert id %q: %w", id, err)
		}
		var verdict fall.Verdict
		if verdictJSON.Valid && verdictJSON.String != "" {
			if err := json.Unmarshal([]byte(verdictJSON.String), &verdict); err != nil {
				opsf("Alert %s has unreadable verdict: %v", id, err)
			}
		}
		alerts = append(alerts, pipeline.Alert{
			ID:         alertID,
			StreamID:   stream,
			PersonID:   person,
			Box:        box,
			Location:   location,
			Note:       note,
			FrameIndex: uint64(frameIndex),
			Timestamp:  time.Unix(0, tsNanos).UTC(),
			Verdict:    verdict,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}
