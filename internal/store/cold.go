package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/tiered-memory/internal/model"
)

// Cold is the SQLite-backed archive for items demoted out of the episodic
// tier under capacity pressure. Archived items are outside the live tiers:
// they don't count against capacity and retrieval never scans them, but
// they remain queryable for audit and manual restore.
type Cold struct {
	db     *sql.DB
	dbPath string
}

// ColdRecord is an archived item plus demotion metadata.
type ColdRecord struct {
	model.Item
	DemotedAt time.Time `json:"demoted_at"`
	Reason    string    `json:"reason"`
}

// NewCold opens or creates the cold archive at dir/cold.db.
func NewCold(dir string) (*Cold, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dir, "cold.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open cold db: %w", err)
	}

	c := &Cold{db: db, dbPath: dbPath}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cold db: %w", err)
	}
	if err := os.Chmod(dbPath, 0o600); err != nil {
		db.Close()
		return nil, fmt.Errorf("chmod cold db: %w", err)
	}
	return c, nil
}

func (c *Cold) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cold_items (
		id               TEXT PRIMARY KEY,
		payload          TEXT NOT NULL,
		tier             TEXT NOT NULL,
		created_at       TEXT NOT NULL,
		last_accessed_at TEXT NOT NULL,
		importance       REAL NOT NULL,
		access_count     INTEGER NOT NULL,
		tags             TEXT,
		decay_rate       REAL NOT NULL,
		demoted_at       TEXT NOT NULL,
		reason           TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cold_demoted ON cold_items(demoted_at DESC);
	CREATE INDEX IF NOT EXISTS idx_cold_importance ON cold_items(importance);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Archive stores a demoted item. Re-archiving an id overwrites the
// previous record.
func (c *Cold) Archive(ctx context.Context, item *model.Item, reason string) error {
	var tagsJSON *string
	if !item.Tags.Empty() {
		b, _ := json.Marshal(item.Tags)
		s := string(b)
		tagsJSON = &s
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cold_items
		 (id, payload, tier, created_at, last_accessed_at, importance, access_count, tags, decay_rate, demoted_at, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Payload, string(item.Tier),
		item.CreatedAt.UTC().Format(time.RFC3339),
		item.LastAccessedAt.UTC().Format(time.RFC3339),
		item.Importance, item.AccessCount, tagsJSON, item.DecayRate,
		time.Now().UTC().Format(time.RFC3339), reason)
	if err != nil {
		return fmt.Errorf("%w: archive %s: %v", model.ErrPersistence, item.ID, err)
	}
	return nil
}

// Get retrieves an archived record by id.
func (c *Cold) Get(ctx context.Context, id string) (*ColdRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, payload, tier, created_at, last_accessed_at, importance, access_count, tags, decay_rate, demoted_at, reason
		 FROM cold_items WHERE id = ?`, id)
	rec, err := scanCold(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get cold %s: %w", id, err)
	}
	return rec, nil
}

// List returns archived records, most recently demoted first.
func (c *Cold) List(ctx context.Context, limit int) ([]*ColdRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, payload, tier, created_at, last_accessed_at, importance, access_count, tags, decay_rate, demoted_at, reason
		 FROM cold_items ORDER BY demoted_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list cold: %w", err)
	}
	defer rows.Close()

	var out []*ColdRecord
	for rows.Next() {
		rec, err := scanCold(rows)
		if err != nil {
			return nil, fmt.Errorf("list cold: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes an archived record, typically after manual restore.
func (c *Cold) Delete(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cold_items WHERE id = ?`, id)
	return err
}

// Count returns the number of archived records.
func (c *Cold) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cold_items`).Scan(&n)
	return n, err
}

// Clear drops all archived records. Part of a full-memory clear.
func (c *Cold) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cold_items`)
	return err
}

// Path returns the archive's on-disk location.
func (c *Cold) Path() string {
	return c.dbPath
}

// Close closes the archive.
func (c *Cold) Close() error {
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCold(row scanner) (*ColdRecord, error) {
	var rec ColdRecord
	var tier, createdAt, lastAccessed, demotedAt string
	var tagsJSON sql.NullString

	err := row.Scan(
		&rec.ID, &rec.Payload, &tier, &createdAt, &lastAccessed,
		&rec.Importance, &rec.AccessCount, &tagsJSON, &rec.DecayRate,
		&demotedAt, &rec.Reason,
	)
	if err != nil {
		return nil, err
	}

	rec.Tier = model.Tier(tier)
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.LastAccessedAt, _ = time.Parse(time.RFC3339, lastAccessed)
	rec.DemotedAt, _ = time.Parse(time.RFC3339, demotedAt)
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &rec.Tags)
	}
	return &rec, nil
}
