package attemptstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

// migrateSchema brings the database to targetVersion.
//
// Version 1 had no host load or reasoning token columns; version 2 adds both.
func migrateSchema(db *sql.DB) error {
	const targetVersion = 2

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS build_attempts (
  attempt_id TEXT PRIMARY KEY,
  build_id TEXT NOT NULL,
  unit INTEGER NOT NULL DEFAULT 0,
  phase_number REAL NOT NULL DEFAULT 0,
  phase_name TEXT NOT NULL DEFAULT '',
  attempt INTEGER NOT NULL,
  model TEXT NOT NULL DEFAULT '',
  max_tokens INTEGER NOT NULL DEFAULT 0,
  thinking_budget INTEGER NOT NULL DEFAULT 0,
  timeout_ms INTEGER NOT NULL DEFAULT 0,
  category TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT '',
  finish_reason TEXT NOT NULL DEFAULT '',
  files_kept INTEGER NOT NULL DEFAULT 0,
  input_tokens INTEGER NOT NULL DEFAULT 0,
  output_tokens INTEGER NOT NULL DEFAULT 0,
  cache_read_tokens INTEGER NOT NULL DEFAULT 0,
  truncation_json TEXT NOT NULL DEFAULT '',
  excerpt TEXT NOT NULL DEFAULT '',
  started_at_unix_ms INTEGER NOT NULL,
  finished_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_build_attempts_build ON build_attempts(build_id, unit, attempt);
CREATE INDEX IF NOT EXISTS idx_build_attempts_finished ON build_attempts(finished_at_unix_ms DESC);
`); err != nil {
		return err
	}

	for _, col := range []struct{ name, ddl string }{
		{"reasoning_tokens", `ALTER TABLE build_attempts ADD COLUMN reasoning_tokens INTEGER NOT NULL DEFAULT 0`},
		{"host_load_json", `ALTER TABLE build_attempts ADD COLUMN host_load_json TEXT NOT NULL DEFAULT ''`},
	} {
		has, err := columnExists(tx, "build_attempts", col.name)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := tx.Exec(col.ddl); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func columnExists(tx *sql.Tx, table string, column string) (bool, error) {
	rows, err := tx.Query(fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func truncateRunes(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	if maxRunes <= 0 || s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
