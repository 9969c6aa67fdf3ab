package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// InsertVersion records a finalized version and its per-symbol snapshot
// tuples inside a single transaction.
func (s *Store) InsertVersion(v *Version, symbolSnapshots []*SymbolVersion) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("insert version: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO versions (version_id, repo_id, reason, prev_version_hash, version_hash)
		 VALUES (?, ?, ?, ?, ?)`,
		v.VersionID, v.RepoID, v.Reason, v.PrevVersionHash, v.VersionHash,
	); err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO symbol_versions (version_id, symbol_id, ast_fingerprint, signature_json, summary, invariants_json, side_effects_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("insert version: prepare: %w", err)
	}
	defer stmt.Close()

	for _, sv := range symbolSnapshots {
		if _, err := stmt.Exec(v.VersionID, sv.SymbolID, sv.ASTFingerprint, sv.SignatureJSON, sv.Summary, sv.InvariantsJSON, sv.SideEffectsJSON); err != nil {
			return fmt.Errorf("insert version: symbol snapshot %s: %w", sv.SymbolID, err)
		}
	}
	return tx.Commit()
}

// LatestVersion returns the most recently created version for a repo.
// created_at has second precision, so version_id (strictly increasing
// per repo) breaks ties between versions finalized close together.
func (s *Store) LatestVersion(repoID string) (*Version, error) {
	row := s.db.QueryRow(
		`SELECT version_id, repo_id, created_at, reason, prev_version_hash, version_hash
		 FROM versions WHERE repo_id = ? ORDER BY created_at DESC, version_id DESC LIMIT 1`, repoID)
	return scanVersion(row)
}

// VersionByID returns one version by id.
func (s *Store) VersionByID(versionID string) (*Version, error) {
	row := s.db.QueryRow(
		`SELECT version_id, repo_id, created_at, reason, prev_version_hash, version_hash
		 FROM versions WHERE version_id = ?`, versionID)
	return scanVersion(row)
}

func scanVersion(row *sql.Row) (*Version, error) {
	var v Version
	if err := row.Scan(&v.VersionID, &v.RepoID, &v.CreatedAt, &v.Reason, &v.PrevVersionHash, &v.VersionHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan version: %w", err)
	}
	return &v, nil
}

// SymbolVersionsByVersion returns every symbol snapshot recorded for a
// version — the basis for diffing two versions in the Delta Governor.
func (s *Store) SymbolVersionsByVersion(versionID string) ([]*SymbolVersion, error) {
	rows, err := s.db.Query(
		`SELECT version_id, symbol_id, ast_fingerprint, signature_json, summary, invariants_json, side_effects_json
		 FROM symbol_versions WHERE version_id = ?`, versionID)
	if err != nil {
		return nil, fmt.Errorf("symbol versions by version: %w", err)
	}
	defer rows.Close()

	var out []*SymbolVersion
	for rows.Next() {
		var sv SymbolVersion
		if err := rows.Scan(&sv.VersionID, &sv.SymbolID, &sv.ASTFingerprint, &sv.SignatureJSON, &sv.Summary, &sv.InvariantsJSON, &sv.SideEffectsJSON); err != nil {
			return nil, fmt.Errorf("scan symbol version: %w", err)
		}
		out = append(out, &sv)
	}
	return out, rows.Err()
}

// SnapshotCurrentSymbols builds the per-symbol snapshot rows for a new
// version directly from the live symbols table of a repo.
func (s *Store) SnapshotCurrentSymbols(repoID string) ([]*SymbolVersion, error) {
	rows, err := s.db.Query(
		`SELECT symbol_id, ast_fingerprint, signature_json, summary, invariants_json, side_effects_json
		 FROM symbols WHERE repo_id = ?`, repoID)
	if err != nil {
		return nil, fmt.Errorf("snapshot current symbols: %w", err)
	}
	defer rows.Close()

	var out []*SymbolVersion
	for rows.Next() {
		var sv SymbolVersion
		if err := rows.Scan(&sv.SymbolID, &sv.ASTFingerprint, &sv.SignatureJSON, &sv.Summary, &sv.InvariantsJSON, &sv.SideEffectsJSON); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		out = append(out, &sv)
	}
	return out, rows.Err()
}
