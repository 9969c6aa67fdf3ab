package store

import (
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
)

// PutBlob stores a content-addressed blob if absent and returns its hash.
// Deduplicates identical card/policy payloads across symbols and versions.
func (s *Store) PutBlob(kind string, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hash := fmt.Sprintf("%x", sum)
	_, err := s.db.Exec(
		`INSERT INTO blobs (hash, kind, data) VALUES (?, ?, ?) ON CONFLICT(hash) DO NOTHING`,
		hash, kind, data,
	)
	if err != nil {
		return "", fmt.Errorf("put blob: %w", err)
	}
	return hash, nil
}

// Blob retrieves a stored blob by its content hash.
func (s *Store) Blob(hash string) (*Blob, error) {
	row := s.db.QueryRow(`SELECT hash, kind, data FROM blobs WHERE hash = ?`, hash)
	var b Blob
	if err := row.Scan(&b.Hash, &b.Kind, &b.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blob: %w", err)
	}
	return &b, nil
}
