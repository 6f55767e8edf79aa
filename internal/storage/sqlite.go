package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/reqtrack/reqtrack/internal/normalize"
	"github.com/reqtrack/reqtrack/internal/position"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the durable, SQLite-backed position store. It preserves the same
// field set, defaults, and ordering (newest first) across restarts.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "reqtrack.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

const positionColumns = "id, code, title, department, location, status, budget, req, raw_json"

// List returns all positions, most recently inserted first.
func (s *Store) List() ([]position.Position, error) {
	rows, err := s.db.Query("SELECT " + positionColumns + " FROM positions ORDER BY seq DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []position.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// Get returns the position with the given id.
func (s *Store) Get(id string) (position.Position, error) {
	row := s.db.QueryRow("SELECT "+positionColumns+" FROM positions WHERE id = ?", id)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return position.Position{}, ErrNotFound
	}
	return p, err
}

// Create normalizes fields into a canonical record and inserts it.
func (s *Store) Create(fields normalize.Row) (position.Position, error) {
	p := buildPosition(fields)

	var rawJSON any
	if p.Raw != nil {
		b, err := json.Marshal(p.Raw)
		if err != nil {
			return position.Position{}, fmt.Errorf("marshalling raw row: %w", err)
		}
		rawJSON = string(b)
	}

	_, err := s.db.Exec(`
		INSERT INTO positions (id, code, title, department, location, status, budget, req, raw_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Code, p.Title, p.Department, p.Location, p.Status,
		nullFloat(p.Budget), nullString(p.Req), rawJSON,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return position.Position{}, ErrDuplicateID
		}
		return position.Position{}, err
	}
	return p, nil
}

// Update performs a read-modify-write inside a transaction so the merge is
// atomic with respect to the webhook path touching the same record.
func (s *Store) Update(id string, fields map[string]any) (position.Position, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return position.Position{}, fmt.Errorf("beginning update transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow("SELECT "+positionColumns+" FROM positions WHERE id = ?", id)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return position.Position{}, ErrNotFound
	}
	if err != nil {
		return position.Position{}, err
	}

	p.Apply(fields)

	if _, err := tx.Exec(`
		UPDATE positions SET code = ?, title = ?, department = ?, location = ?, status = ?, budget = ?, req = ?
		WHERE id = ?`,
		p.Code, p.Title, p.Department, p.Location, p.Status,
		nullFloat(p.Budget), nullString(p.Req), id,
	); err != nil {
		return position.Position{}, err
	}
	if err := tx.Commit(); err != nil {
		return position.Position{}, fmt.Errorf("committing update: %w", err)
	}
	return p, nil
}

// ApplyExternalStatus overwrites the status of every record whose req equals
// requisitionID and reports how many matched.
func (s *Store) ApplyExternalStatus(requisitionID, status string) (int, error) {
	res, err := s.db.Exec("UPDATE positions SET status = ? WHERE req = ?", status, requisitionID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(r rowScanner) (position.Position, error) {
	var p position.Position
	var budget sql.NullFloat64
	var req sql.NullString
	var rawJSON sql.NullString

	err := r.Scan(&p.ID, &p.Code, &p.Title, &p.Department, &p.Location, &p.Status, &budget, &req, &rawJSON)
	if err != nil {
		return position.Position{}, err
	}
	if budget.Valid {
		b := budget.Float64
		p.Budget = &b
	}
	if req.Valid {
		rv := req.String
		p.Req = &rv
	}
	if rawJSON.Valid && rawJSON.String != "" {
		var raw map[string]any
		if err := json.Unmarshal([]byte(rawJSON.String), &raw); err != nil {
			return position.Position{}, fmt.Errorf("parsing raw_json for %s: %w", p.ID, err)
		}
		p.Raw = raw
	}
	return p, nil
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
