package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for the ledger's tables: repos,
// files, symbols, edges, versions, symbol_versions, metrics,
// slice_handles, spillover_items, blobs, audit_log and metadata.
type Store struct {
	db    *sql.DB
	stmts *stmtCache
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	stmts, err := newStmtCache(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("statement cache: %w", err)
	}
	return &Store{db: db, stmts: stmts}, nil
}

// Close clears the statement cache and closes the underlying database
// connection.
func (s *Store) Close() error {
	s.stmts.purge()
	return s.db.Close()
}

// prepared returns an LRU-cached prepared statement for query.
func (s *Store) prepared(query string) (*sql.Stmt, error) {
	return s.stmts.get(query)
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS repos (
	repo_id     TEXT PRIMARY KEY,
	root_path   TEXT NOT NULL,
	config_json TEXT NOT NULL DEFAULT '{}',
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS files (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	repo_id         TEXT NOT NULL REFERENCES repos(repo_id),
	rel_path        TEXT NOT NULL,
	directory       TEXT NOT NULL DEFAULT '',
	language        TEXT NOT NULL DEFAULT '',
	content_hash    TEXT NOT NULL DEFAULT '',
	byte_size       INTEGER NOT NULL DEFAULT 0,
	last_indexed_at TIMESTAMP,
	UNIQUE(repo_id, rel_path)
);
CREATE INDEX IF NOT EXISTS idx_files_repo_dir ON files(repo_id, directory);
CREATE INDEX IF NOT EXISTS idx_files_repo_lang ON files(repo_id, language);

CREATE TABLE IF NOT EXISTS symbols (
	symbol_id         TEXT PRIMARY KEY,
	repo_id           TEXT NOT NULL REFERENCES repos(repo_id),
	file_id           INTEGER NOT NULL REFERENCES files(id),
	kind              TEXT NOT NULL,
	name              TEXT NOT NULL,
	exported          INTEGER NOT NULL DEFAULT 0,
	visibility        TEXT NOT NULL DEFAULT '',
	language          TEXT NOT NULL DEFAULT '',
	start_line        INTEGER NOT NULL DEFAULT 0,
	start_col         INTEGER NOT NULL DEFAULT 0,
	end_line          INTEGER NOT NULL DEFAULT 0,
	end_col           INTEGER NOT NULL DEFAULT 0,
	ast_fingerprint   TEXT NOT NULL DEFAULT '',
	signature_json    TEXT NOT NULL DEFAULT '{}',
	summary           TEXT NOT NULL DEFAULT '',
	invariants_json   TEXT NOT NULL DEFAULT '[]',
	side_effects_json TEXT NOT NULL DEFAULT '[]',
	updated_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_symbols_repo_file ON symbols(repo_id, file_id);
CREATE INDEX IF NOT EXISTS idx_symbols_repo_name ON symbols(repo_id, name);
CREATE INDEX IF NOT EXISTS idx_symbols_repo_kind ON symbols(repo_id, kind);

CREATE TABLE IF NOT EXISTS edges (
	edge_id        INTEGER PRIMARY KEY AUTOINCREMENT,
	repo_id        TEXT NOT NULL REFERENCES repos(repo_id),
	from_symbol_id TEXT NOT NULL,
	to_symbol_id   TEXT NOT NULL,
	type           TEXT NOT NULL,
	weight         REAL NOT NULL DEFAULT 1.0,
	provenance     TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_edges_repo_from ON edges(repo_id, from_symbol_id);
CREATE INDEX IF NOT EXISTS idx_edges_repo_to ON edges(repo_id, to_symbol_id);
CREATE INDEX IF NOT EXISTS idx_edges_repo_type ON edges(repo_id, type);

CREATE TABLE IF NOT EXISTS versions (
	version_id        TEXT PRIMARY KEY,
	repo_id           TEXT NOT NULL REFERENCES repos(repo_id),
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	reason            TEXT NOT NULL DEFAULT '',
	prev_version_hash TEXT NOT NULL DEFAULT '',
	version_hash      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_versions_repo_created ON versions(repo_id, created_at);

CREATE TABLE IF NOT EXISTS symbol_versions (
	version_id        TEXT NOT NULL REFERENCES versions(version_id),
	symbol_id         TEXT NOT NULL,
	ast_fingerprint   TEXT NOT NULL DEFAULT '',
	signature_json    TEXT NOT NULL DEFAULT '{}',
	summary           TEXT NOT NULL DEFAULT '',
	invariants_json   TEXT NOT NULL DEFAULT '[]',
	side_effects_json TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY(version_id, symbol_id)
);
CREATE INDEX IF NOT EXISTS idx_symver_symbol ON symbol_versions(symbol_id);

CREATE TABLE IF NOT EXISTS metrics (
	symbol_id      TEXT PRIMARY KEY,
	fan_in         INTEGER NOT NULL DEFAULT 0,
	fan_out        INTEGER NOT NULL DEFAULT 0,
	churn_30d      INTEGER NOT NULL DEFAULT 0,
	test_refs_json TEXT NOT NULL DEFAULT '[]',
	updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS slice_handles (
	handle        TEXT PRIMARY KEY,
	repo_id       TEXT NOT NULL REFERENCES repos(repo_id),
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at    TIMESTAMP NOT NULL,
	min_version   TEXT NOT NULL DEFAULT '',
	max_version   TEXT NOT NULL DEFAULT '',
	slice_hash    TEXT NOT NULL DEFAULT '',
	spillover_ref TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_slice_handles_repo ON slice_handles(repo_id);
CREATE INDEX IF NOT EXISTS idx_slice_handles_expires ON slice_handles(expires_at);

CREATE TABLE IF NOT EXISTS spillover_items (
	spillover_ref TEXT NOT NULL,
	symbol_id     TEXT NOT NULL,
	rank          REAL NOT NULL DEFAULT 0,
	ordinal       INTEGER NOT NULL,
	PRIMARY KEY(spillover_ref, ordinal)
);

CREATE TABLE IF NOT EXISTS blobs (
	hash TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	data BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	repo_id     TEXT NOT NULL,
	ts          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	operation   TEXT NOT NULL,
	detail_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_audit_repo_ts ON audit_log(repo_id, ts);

CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
