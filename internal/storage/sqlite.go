package storage

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// SQLite drivers registered by this package
const (
	DriverCGO    = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureGo = "sqlite"  // modernc.org/sqlite
)

// SQLite wraps a SQLite connection
type SQLite struct {
	Conn *sql.DB
}

// OpenSQLite opens the database at dbPath with the named driver
func OpenSQLite(driver, dbPath string) (*SQLite, error) {
	if driver == "" {
		driver = DriverCGO
	}
	if driver != DriverCGO && driver != DriverPureGo {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open(driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; SQLite serializes writes anyway and this keeps
	// transactions from failing with SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLite{Conn: conn}, nil
}

// Close closes the database connection
func (db *SQLite) Close() error {
	return db.Conn.Close()
}

// Migrate executes every .sql file in fsys in name order. Statements must be
// idempotent (CREATE ... IF NOT EXISTS).
func (db *SQLite) Migrate(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}

		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		if _, err := db.Conn.Exec(string(data)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}
