package sqlite

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection with thread-safe access.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// New creates and initializes a new SQLite database connection.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// migrate creates the necessary tables if they don't exist.
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		total_images INTEGER NOT NULL DEFAULT 0,
		processed_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		cancelled_count INTEGER NOT NULL DEFAULT 0,
		cancelled BOOLEAN NOT NULL DEFAULT 0,
		total_people INTEGER NOT NULL DEFAULT 0,
		total_vehicles INTEGER NOT NULL DEFAULT 0,
		total_traffic_lights INTEGER NOT NULL DEFAULT 0,
		lights_red INTEGER NOT NULL DEFAULT 0,
		lights_green INTEGER NOT NULL DEFAULT 0,
		lights_yellow INTEGER NOT NULL DEFAULT 0,
		lights_unknown INTEGER NOT NULL DEFAULT 0,
		total_processing_time REAL NOT NULL DEFAULT 0,
		average_processing_time REAL NOT NULL DEFAULT 0,
		elapsed_time REAL NOT NULL DEFAULT 0,
		confidence_threshold REAL NOT NULL,
		worker_count INTEGER NOT NULL DEFAULT 0,
		failed TEXT NOT NULL DEFAULT '[]',
		skipped TEXT NOT NULL DEFAULT 'null',
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS image_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		image_path TEXT NOT NULL,
		people_count INTEGER NOT NULL DEFAULT 0,
		vehicle_count INTEGER NOT NULL DEFAULT 0,
		lights_total INTEGER NOT NULL DEFAULT 0,
		lights_red INTEGER NOT NULL DEFAULT 0,
		lights_green INTEGER NOT NULL DEFAULT 0,
		lights_yellow INTEGER NOT NULL DEFAULT 0,
		lights_unknown INTEGER NOT NULL DEFAULT 0,
		conf_people REAL NOT NULL DEFAULT 0,
		conf_vehicles REAL NOT NULL DEFAULT 0,
		conf_traffic_lights REAL NOT NULL DEFAULT 0,
		processing_time REAL NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL,
		UNIQUE (batch_id, idx),
		FOREIGN KEY (batch_id) REFERENCES batches(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS item_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		image_path TEXT NOT NULL,
		kind TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		UNIQUE (batch_id, idx),
		FOREIGN KEY (batch_id) REFERENCES batches(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_batches_started_at ON batches(started_at);
	CREATE INDEX IF NOT EXISTS idx_image_results_batch_id ON image_results(batch_id);
	CREATE INDEX IF NOT EXISTS idx_image_results_image_path ON image_results(image_path);
	CREATE INDEX IF NOT EXISTS idx_item_errors_batch_id ON item_errors(batch_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection for use by repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Lock acquires a write lock.
func (db *DB) Lock() {
	db.mu.Lock()
}

// Unlock releases the write lock.
func (db *DB) Unlock() {
	db.mu.Unlock()
}

// RLock acquires a read lock.
func (db *DB) RLock() {
	db.mu.RLock()
}

// RUnlock releases the read lock.
func (db *DB) RUnlock() {
	db.mu.RUnlock()
}
