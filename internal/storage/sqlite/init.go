package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id INTEGER PRIMARY KEY,
	guid TEXT NOT NULL,
	current_path TEXT NOT NULL DEFAULT '',
	target_path TEXT NOT NULL DEFAULT '',
	referrer_url TEXT NOT NULL DEFAULT '',
	tab_url TEXT NOT NULL DEFAULT '',
	tab_referrer_url TEXT NOT NULL DEFAULT '',
	mime_type TEXT NOT NULL DEFAULT '',
	original_mime_type TEXT NOT NULL DEFAULT '',
	start_time INTEGER NOT NULL DEFAULT 0,
	end_time INTEGER NOT NULL DEFAULT 0,
	etag TEXT NOT NULL DEFAULT '',
	last_modified TEXT NOT NULL DEFAULT '',
	received_bytes INTEGER NOT NULL DEFAULT 0,
	total_bytes INTEGER NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	danger_type INTEGER NOT NULL DEFAULT 0,
	interrupt_reason INTEGER NOT NULL DEFAULT 0,
	hash TEXT NOT NULL DEFAULT '',
	opened INTEGER NOT NULL DEFAULT 0,
	last_access_time INTEGER NOT NULL DEFAULT 0,
	transient INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS downloads_url_chains (
	id INTEGER NOT NULL,
	chain_index INTEGER NOT NULL,
	url TEXT NOT NULL,
	PRIMARY KEY (id, chain_index)
);
CREATE INDEX IF NOT EXISTS idx_downloads_target_path ON downloads(target_path);
`

// columns added after the first release; older databases are migrated in place.
var addedColumns = []struct{ name, def string }{
	{"embedder_data", "TEXT NOT NULL DEFAULT ''"},
	{"attribution_id", "TEXT NOT NULL DEFAULT ''"},
	{"attribution_name", "TEXT NOT NULL DEFAULT ''"},
	{"slices", "TEXT NOT NULL DEFAULT ''"},
	{"reroute_info", "BLOB"},
}

// InitDB opens the SQLite database at path and creates or migrates the
// history schema.
func InitDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY between the store worker and readers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	for _, col := range addedColumns {
		if err := ensureColumn(ctx, db, "downloads", col.name, col.def); err != nil {
			db.Close()

			return nil, fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
	}

	return db, nil
}

func ensureColumn(ctx context.Context, db *sql.DB, table, column, def string) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return err
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
			return err
		}

		if name == column {
			return nil
		}
	}

	if err := rows.Err(); err != nil {
		return err
	}

	rows.Close()

	_, err = db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, def))

	return err
}
