package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Config holds database configuration
type Config struct {
	Path string
}

// Open opens the SQLite database at cfg.Path and runs migrations
func Open(cfg Config) (*sql.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; serialize through one connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// migrate runs all database migrations
func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if err := runMigration(db, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
	}

	return nil
}

type migration struct {
	name string
	up   string
}

func runMigration(db *sql.DB, m migration) error {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM migrations WHERE name = ?", m.name).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil // Already applied
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.up); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO migrations (name) VALUES (?)", m.name); err != nil {
		return err
	}
	return tx.Commit()
}

var migrations = []migration{
	{
		name: "001_create_settings",
		up: `
			CREATE TABLE settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
			INSERT INTO settings (key, value) VALUES ('kiosk.auto_print', 'false');
		`,
	},
	{
		name: "002_create_students",
		up: `
			CREATE TABLE students (
				card_id TEXT PRIMARY KEY,
				full_name TEXT NOT NULL,
				subject_name TEXT NOT NULL DEFAULT '',
				login TEXT NOT NULL DEFAULT '',
				password TEXT NOT NULL DEFAULT '',
				exam_date TEXT NOT NULL DEFAULT '',
				exam_time TEXT NOT NULL DEFAULT '',
				room TEXT NOT NULL DEFAULT '',
				photo_url TEXT NOT NULL DEFAULT '',
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
	{
		name: "003_create_activity_log",
		up: `
			CREATE TABLE activity_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
				action TEXT NOT NULL,
				card_id TEXT,
				operator TEXT,
				details TEXT
			);
			CREATE INDEX idx_activity_log_timestamp ON activity_log(timestamp);
			CREATE INDEX idx_activity_log_action ON activity_log(action);
			CREATE INDEX idx_activity_log_card_id ON activity_log(card_id);
		`,
	},
}
