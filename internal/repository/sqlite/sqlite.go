// Package sqlite implements the repository interfaces using SQLite as the
// storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code — works everywhere Go works.
//
// SCHEMA SHAPE:
// Share grants and presence entries are child tables with a foreign key to
// snippets. A snippet exclusively owns its grants and presence — they have
// no lifecycle of their own. Mutations on the children run inside
// transactions so concurrent joins/grants converge without corrupting
// state (two simultaneous presence joins can't duplicate an entry: the
// table's composite primary key plus the transactional replace make the
// second write overwrite the first).
package sqlite

import (
	"database/sql"
	"fmt"

	// Side-effect import: the driver registers itself with database/sql
	// under the name "sqlite".
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and hands out the per-interface
// stores. The three stores share the pool — splitting them is purely a
// namespacing matter, since each repository interface has its own method
// set (Create, GetByID, Update mean different things per aggregate).
type DB struct {
	conn     *sql.DB
	snippets *SnippetStore
	users    *UserStore
	settings *SettingsStore
}

// SnippetStore implements repository.SnippetRepository, including the
// snippet's child share grants and presence entries.
type SnippetStore struct {
	conn *sql.DB
}

// UserStore implements repository.UserRepository.
type UserStore struct {
	conn *sql.DB
}

// SettingsStore implements repository.SettingsRepository.
type SettingsStore struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/snipsafe.db"  → file-based database (persistent)
//   - ":memory:"          → in-memory database (tests, lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Ping forces an immediate connection so a bad path or permissions
	// issue surfaces here, not on the first query.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL mode allows concurrent reads while a write is in progress —
	// essential for a web server where multiple requests hit the DB.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. The child tables (grants,
	// presence) rely on them.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{
		conn:     conn,
		snippets: &SnippetStore{conn: conn},
		users:    &UserStore{conn: conn},
		settings: &SettingsStore{conn: conn},
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Snippets returns the snippet repository backed by this connection.
func (db *DB) Snippets() *SnippetStore { return db.snippets }

// Users returns the user repository backed by this connection.
func (db *DB) Users() *UserStore { return db.users }

// Settings returns the settings repository backed by this connection.
func (db *DB) Settings() *SettingsStore { return db.settings }

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE TABLE IF NOT EXISTS keeps it safe to
// run on every startup.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			display_name  TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			organization  TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'user',
			provider      TEXT NOT NULL DEFAULT '',
			external_id   TEXT NOT NULL DEFAULT '',
			active        INTEGER NOT NULL DEFAULT 1,
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL,
			UNIQUE (organization, username)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_external
			ON users(provider, external_id) WHERE provider != '';
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// share_id stays UNIQUE forever: soft-deleted rows are kept, so a
	// burned share link can never resolve to a different snippet later.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS snippets (
			id           TEXT PRIMARY KEY,
			title        TEXT NOT NULL,
			content      TEXT NOT NULL DEFAULT '',
			language     TEXT NOT NULL DEFAULT '',
			description  TEXT NOT NULL DEFAULT '',
			owner_id     TEXT NOT NULL REFERENCES users(id),
			organization TEXT NOT NULL,
			share_id     TEXT NOT NULL UNIQUE,
			visibility   TEXT NOT NULL DEFAULT 'private',
			tags         TEXT NOT NULL DEFAULT '[]',
			view_count   INTEGER NOT NULL DEFAULT 0,
			active       INTEGER NOT NULL DEFAULT 1,
			created_at   DATETIME NOT NULL,
			updated_at   DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snippets_owner ON snippets(owner_id);
		CREATE INDEX IF NOT EXISTS idx_snippets_org ON snippets(organization, active);
	`)
	if err != nil {
		return fmt.Errorf("creating snippets table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS share_grants (
			id         TEXT PRIMARY KEY,
			snippet_id TEXT NOT NULL REFERENCES snippets(id) ON DELETE CASCADE,
			user_id    TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL DEFAULT '',
			permission TEXT NOT NULL DEFAULT 'view',
			granted_by TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_grants_snippet ON share_grants(snippet_id);
		CREATE INDEX IF NOT EXISTS idx_grants_user ON share_grants(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating share_grants table: %w", err)
	}

	// Composite primary key: at most one presence entry per viewer per
	// snippet, enforced by the schema itself.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS presence_entries (
			snippet_id    TEXT NOT NULL REFERENCES snippets(id) ON DELETE CASCADE,
			user_id       TEXT NOT NULL,
			session_token TEXT NOT NULL DEFAULT '',
			last_seen     DATETIME NOT NULL,
			PRIMARY KEY (snippet_id, user_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating presence_entries table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS app_settings (
			id                 INTEGER PRIMARY KEY CHECK (id = 1),
			auth_mode          TEXT NOT NULL DEFAULT 'local',
			allow_registration INTEGER NOT NULL DEFAULT 1,
			updated_at         DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating app_settings table: %w", err)
	}

	return nil
}
