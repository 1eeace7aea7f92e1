package database

import (
	"database/sql"
	"fmt"
)

// schema is applied on every start; all statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS manga (
	id          INTEGER PRIMARY KEY,
	title       TEXT NOT NULL,
	author      TEXT,
	genres      TEXT NOT NULL DEFAULT '[]',
	status      TEXT,
	description TEXT,
	cover_url   TEXT,
	in_library  INTEGER NOT NULL DEFAULT 0,
	source_id   TEXT
);

CREATE TABLE IF NOT EXISTS history (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	manga_id     INTEGER NOT NULL,
	chapter_name TEXT NOT NULL,
	page_number  INTEGER NOT NULL DEFAULT 0,
	read_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (manga_id) REFERENCES manga(id)
);

CREATE INDEX IF NOT EXISTS idx_history_read_at ON history(read_at DESC);
CREATE INDEX IF NOT EXISTS idx_manga_in_library ON manga(in_library);
`

func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
