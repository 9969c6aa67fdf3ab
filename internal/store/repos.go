package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// InsertRepo registers a new repo, or updates root_path and config_json if
// repo_id already exists.
func (s *Store) InsertRepo(r *Repo) error {
	_, err := s.db.Exec(
		`INSERT INTO repos (repo_id, root_path, config_json) VALUES (?, ?, ?)
		 ON CONFLICT(repo_id) DO UPDATE SET root_path = excluded.root_path, config_json = excluded.config_json`,
		r.RepoID, r.RootPath, r.ConfigJSON,
	)
	if err != nil {
		return fmt.Errorf("insert repo: %w", err)
	}
	return nil
}

// RepoByID returns a registered repo by id.
func (s *Store) RepoByID(repoID string) (*Repo, error) {
	row := s.db.QueryRow(`SELECT repo_id, root_path, config_json, created_at FROM repos WHERE repo_id = ?`, repoID)
	var r Repo
	if err := row.Scan(&r.RepoID, &r.RootPath, &r.ConfigJSON, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repo by id: %w", err)
	}
	return &r, nil
}

// SetMetadata stores an opaque key/value pair (e.g. the adapters hash).
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	return nil
}

// Metadata reads back a previously stored key, returning "" if absent.
func (s *Store) Metadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("metadata: %w", err)
	}
	return value, nil
}
