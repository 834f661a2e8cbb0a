package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Connection pragmas: WAL so page reads never wait on backfill writes,
// and a busy timeout for concurrent views of one stream.
const pragmas = "_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

// DB is the SQLite message cache of a session (roam.db).
type DB struct {
	*sql.DB
	path string
}

// Open opens the cache at path, creating the file if needed. Call Migrate
// before use.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?"+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping db %s: %w", path, err)
	}
	return &DB{DB: conn, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}
