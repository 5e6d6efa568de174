package store

import (
	"database/sql"
	"fmt"
)

// Schema for widget session persistence. widget_sessions holds the
// authoritative per-widget record the host pushes on handshake;
// widget_scores holds the latest gated score per widget; doc_scores is
// the rollup the progress indicator renders.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS widget_sessions (
		widget_id  TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		progress   INTEGER NOT NULL DEFAULT 0,
		score      INTEGER NOT NULL DEFAULT 0,
		user_data  TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS widget_scores (
		widget_id  TEXT PRIMARY KEY,
		doc_id     TEXT NOT NULL,
		trunk_id   TEXT NOT NULL,
		progress   INTEGER NOT NULL DEFAULT 0,
		score      INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_widget_scores_doc ON widget_scores(doc_id)`,
	`CREATE TABLE IF NOT EXISTS doc_scores (
		doc_id     TEXT PRIMARY KEY,
		trunk_id   TEXT NOT NULL,
		score      INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

func applySchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// applySQLitePragmas tunes the connection for one writer and many
// readers.
func applySQLitePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("pragma %q failed: %w", pragma, err)
		}
	}
	return nil
}
