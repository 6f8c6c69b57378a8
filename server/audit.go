package server

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// AuditEvent is one recorded membrane operation.
type AuditEvent struct {
	ID          int64
	At          time.Time
	Op          string
	Compartment string
	Count       int
}

// AuditLog records nukes and sweeps to SQLite so that severed boundaries
// can be reviewed after the process exits.
type AuditLog struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// OpenAuditLog opens or creates the audit database at dbPath.
func OpenAuditLog(dbPath string) (*AuditLog, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating audit dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at INTEGER NOT NULL,
		op TEXT NOT NULL,
		compartment TEXT NOT NULL,
		count INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &AuditLog{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (a *AuditLog) Path() string { return a.dbPath }

// Close closes the database connection.
func (a *AuditLog) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Record appends an event. Compartment is empty for runtime-wide operations.
func (a *AuditLog) Record(op, compartmentName string, count int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.Exec(
		"INSERT INTO events (at, op, compartment, count) VALUES (?, ?, ?, ?)",
		time.Now().UnixNano(), op, compartmentName, count,
	)
	if err != nil {
		return fmt.Errorf("recording %s: %w", op, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (a *AuditLog) Recent(limit int) ([]AuditEvent, error) {
	rows, err := a.db.Query(
		"SELECT id, at, op, compartment, count FROM events ORDER BY id DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var at int64
		if err := rows.Scan(&e.ID, &at, &e.Op, &e.Compartment, &e.Count); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.At = time.Unix(0, at)
		events = append(events, e)
	}
	return events, rows.Err()
}
