// Package store persists zone lists per source in SQLite for the reference
// backend.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/zone-editor/internal/zone"
)

// ErrInvalid wraps zones refused by Replace.
var ErrInvalid = errors.New("invalid zone")

const schema = `
CREATE TABLE IF NOT EXISTS zones (
    source        TEXT    NOT NULL,
    id            TEXT    NOT NULL,
    position      INTEGER NOT NULL,
    body          TEXT    NOT NULL,
    in_count      INTEGER,
    out_count     INTEGER,
    current_count INTEGER,
    updated_at    TEXT    NOT NULL,
    PRIMARY KEY (source, id)
);
CREATE INDEX IF NOT EXISTS zones_source_position ON zones (source, position);
`

// Store is a zone repository. Counters are owned by the store: values
// submitted with a zone are ignored and stored counters survive saves.
type Store struct {
	db    *sql.DB
	newID func() string
	now   func() time.Time
	log   *logger.Module
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, newID: uuid.NewString, now: time.Now, log: logger.For("Store")}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// List returns the zones of source in stored order. An unknown source has
// no zones.
func (s *Store) List(ctx context.Context, source string) (zone.List, error) {
	return list(ctx, s.db, source)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func list(ctx context.Context, q querier, source string) (zone.List, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT body, in_count, out_count, current_count
        FROM zones
        WHERE source = ?
        ORDER BY position, id
    `, source)
	if err != nil {
		return nil, fmt.Errorf("query zones: %w", err)
	}
	defer rows.Close()

	zones := zone.List{}
	for rows.Next() {
		var (
			body         string
			in, out, cur sql.NullInt64
		)
		if err := rows.Scan(&body, &in, &out, &cur); err != nil {
			return nil, err
		}
		var z zone.Zone
		if err := json.Unmarshal([]byte(body), &z); err != nil {
			return nil, fmt.Errorf("decode zone: %w", err)
		}
		z.Counters = zone.Counters{In: intPtr(in), Out: intPtr(out), Current: intPtr(cur)}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// Sources lists every source with stored zones.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source FROM zones ORDER BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// Replace stores zones for source in the submitted order. Zones with an
// empty or provisional id get a new UUID. With removeMissing, stored zones
// absent from the submission are deleted; otherwise they are kept after
// the submitted ones. It returns the stored list.
func (s *Store) Replace(ctx context.Context, source string, zones zone.List, removeMissing bool) (zone.List, error) {
	zones = zones.Clone()
	seen := make(map[string]bool, len(zones))
	for i := range zones {
		z := &zones[i]
		if z.ID == "" || z.Provisional {
			z.ID = s.newID()
			z.Provisional = false
		}
		if err := z.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		if seen[z.ID] {
			return nil, fmt.Errorf("%w: %w: %s", ErrInvalid, zone.ErrDuplicateID, z.ID)
		}
		seen[z.ID] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if removeMissing {
		if err := deleteMissing(ctx, tx, source, seen); err != nil {
			return nil, err
		}
	} else {
		// Kept zones move behind the submitted ones, in their old order.
		if _, err := tx.ExecContext(ctx,
			`UPDATE zones SET position = position + ? WHERE source = ?`, len(zones), source); err != nil {
			return nil, fmt.Errorf("shift positions: %w", err)
		}
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	for i, z := range zones {
		z.Counters = zone.Counters{}
		body, err := json.Marshal(z)
		if err != nil {
			return nil, fmt.Errorf("encode zone %s: %w", z.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO zones (source, id, position, body, updated_at)
            VALUES (?, ?, ?, ?, ?)
            ON CONFLICT (source, id) DO UPDATE SET
                position   = excluded.position,
                body       = excluded.body,
                updated_at = excluded.updated_at
        `, source, z.ID, i, string(body), now)
		if err != nil {
			return nil, fmt.Errorf("upsert zone %s: %w", z.ID, err)
		}
	}

	stored, err := list(ctx, tx, source)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.log.Info("stored %d zones for %s (remove_missing=%v)", len(stored), source, removeMissing)
	return stored, nil
}

func deleteMissing(ctx context.Context, tx *sql.Tx, source string, keep map[string]bool) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM zones WHERE source = ?`, source)
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM zones WHERE source = ? AND id = ?`, source, id); err != nil {
			return fmt.Errorf("delete zone %s: %w", id, err)
		}
	}
	return nil
}

// SetCounters records counter values for a stored zone. It reports whether
// the zone exists.
func (s *Store) SetCounters(ctx context.Context, source, id string, c zone.Counters) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE zones SET in_count = ?, out_count = ?, current_count = ?
        WHERE source = ? AND id = ?
    `, nullInt(c.In), nullInt(c.Out), nullInt(c.Current), source, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
