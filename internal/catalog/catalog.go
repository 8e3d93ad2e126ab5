// Package catalog persists virtual array registrations to SQLite so the
// engine can restore them when a container is reopened. Callback source is
// snappy-compressed at rest.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"virtualds/internal/array"
)

// ErrNotFound reports a registration name missing from the catalog.
var ErrNotFound = errors.New("registration not found")

// Record is one persisted registration.
type Record struct {
	Name       string
	Language   string
	EntryPoint string
	Source     string
	Shape      array.Shape
	Type       array.ElementType
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Catalog stores registrations in a SQLite database.
type Catalog struct {
	db       *sql.DB
	mu       sync.RWMutex
	dbPath   string
	compress bool
	logger   *zap.Logger
}

// Open creates or opens a catalog database at the given path.
func Open(dbPath string, compress bool, logger *zap.Logger) (*Catalog, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	c := &Catalog{db: db, dbPath: dbPath, compress: compress, logger: logger.Named("catalog")}
	if err := c.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS registrations (
		name TEXT PRIMARY KEY,
		language TEXT NOT NULL,
		entry_point TEXT NOT NULL,
		source BLOB NOT NULL,
		compressed INTEGER NOT NULL DEFAULT 0,
		shape TEXT NOT NULL,
		element_type TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_registrations_language ON registrations(language);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Put inserts or replaces a registration.
func (c *Catalog) Put(r *Record) error {
	if err := r.Shape.Validate(); err != nil {
		return err
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid element type for registration %s", r.Name)
	}

	blob := []byte(r.Source)
	compressed := 0
	if c.compress {
		blob = snappy.Encode(nil, blob)
		compressed = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(`
		INSERT INTO registrations (name, language, entry_point, source, compressed, shape, element_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			language = excluded.language,
			entry_point = excluded.entry_point,
			source = excluded.source,
			compressed = excluded.compressed,
			shape = excluded.shape,
			element_type = excluded.element_type,
			updated_at = CURRENT_TIMESTAMP`,
		r.Name, r.Language, r.EntryPoint, blob, compressed, r.Shape.String(), r.Type.String())
	if err != nil {
		return fmt.Errorf("failed to store registration %s: %w", r.Name, err)
	}

	c.logger.Debug("stored registration",
		zap.String("name", r.Name),
		zap.String("language", r.Language),
		zap.Int("source_bytes", len(r.Source)),
		zap.Int("stored_bytes", len(blob)))
	return nil
}

// Get returns a registration by name.
func (c *Catalog) Get(name string) (*Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	row := c.db.QueryRow(`
		SELECT name, language, entry_point, source, compressed, shape, element_type, created_at, updated_at
		FROM registrations WHERE name = ?`, name)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return r, err
}

// List returns every registration, ordered by name.
func (c *Catalog) List() ([]*Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.Query(`
		SELECT name, language, entry_point, source, compressed, shape, element_type, created_at, updated_at
		FROM registrations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Delete removes a registration.
func (c *Catalog) Delete(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec(`DELETE FROM registrations WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete registration %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Restore replays every stored registration through register, which is
// expected to re-resolve and re-register the callback against the live
// container. A failed replay is logged and skipped; inputs may legitimately
// have disappeared since the registration was stored.
func (c *Catalog) Restore(register func(source, language string) error) (int, error) {
	records, err := c.List()
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, r := range records {
		if err := register(r.Source, r.Language); err != nil {
			c.logger.Warn("skipping stale registration",
				zap.String("name", r.Name),
				zap.Error(err))
			continue
		}
		restored++
	}
	return restored, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r          Record
		blob       []byte
		compressed int
		shape      string
		typ        string
	)
	if err := row.Scan(&r.Name, &r.Language, &r.EntryPoint, &blob, &compressed,
		&shape, &typ, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}

	if compressed != 0 {
		decoded, err := snappy.Decode(nil, blob)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress source for %s: %w", r.Name, err)
		}
		blob = decoded
	}
	r.Source = string(blob)

	s, err := array.ParseShape(shape)
	if err != nil {
		return nil, fmt.Errorf("bad stored shape for %s: %w", r.Name, err)
	}
	r.Shape = s

	t, err := array.ParseElementType(typ)
	if err != nil {
		return nil, fmt.Errorf("bad stored element type for %s: %w", r.Name, err)
	}
	r.Type = t
	return &r, nil
}
