package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path"
)

// InsertFile inserts or updates a file row, keyed on (repo_id, rel_path).
// Returns the file's surrogate id.
func (s *Store) InsertFile(f *File) (int64, error) {
	dir := path.Dir(f.RelPath)
	res, err := s.db.Exec(
		`INSERT INTO files (repo_id, rel_path, directory, language, content_hash, byte_size, last_indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(repo_id, rel_path) DO UPDATE SET
		   language = excluded.language,
		   content_hash = excluded.content_hash,
		   byte_size = excluded.byte_size,
		   last_indexed_at = CURRENT_TIMESTAMP`,
		f.RepoID, f.RelPath, dir, f.Language, f.ContentHash, f.ByteSize,
	)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// Conflict path: LastInsertId is unreliable on upsert, look it up.
		return s.fileIDByPath(f.RepoID, f.RelPath)
	}
	return id, nil
}

func (s *Store) fileIDByPath(repoID, relPath string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM files WHERE repo_id = ? AND rel_path = ?`, repoID, relPath).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("file id by path: %w", err)
	}
	return id, nil
}

// FileByPath returns a file row by its repo-relative path.
func (s *Store) FileByPath(repoID, relPath string) (*File, error) {
	row := s.db.QueryRow(
		`SELECT id, repo_id, rel_path, directory, language, content_hash, byte_size, last_indexed_at
		 FROM files WHERE repo_id = ? AND rel_path = ?`, repoID, relPath)
	return scanFile(row)
}

// FileByID returns a file row by its surrogate id.
func (s *Store) FileByID(fileID int64) (*File, error) {
	row := s.db.QueryRow(
		`SELECT id, repo_id, rel_path, directory, language, content_hash, byte_size, last_indexed_at
		 FROM files WHERE id = ?`, fileID)
	return scanFile(row)
}

func scanFile(row *sql.Row) (*File, error) {
	var f File
	var lastIndexed sql.NullTime
	if err := row.Scan(&f.ID, &f.RepoID, &f.RelPath, &f.Directory, &f.Language, &f.ContentHash, &f.ByteSize, &lastIndexed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan file: %w", err)
	}
	if lastIndexed.Valid {
		f.LastIndexedAt = lastIndexed.Time
	}
	return &f, nil
}

// FilesByRepo returns all files registered for a repo.
func (s *Store) FilesByRepo(repoID string) ([]*File, error) {
	rows, err := s.db.Query(
		`SELECT id, repo_id, rel_path, directory, language, content_hash, byte_size, last_indexed_at
		 FROM files WHERE repo_id = ? ORDER BY rel_path`, repoID)
	if err != nil {
		return nil, fmt.Errorf("files by repo: %w", err)
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		var f File
		var lastIndexed sql.NullTime
		if err := rows.Scan(&f.ID, &f.RepoID, &f.RelPath, &f.Directory, &f.Language, &f.ContentHash, &f.ByteSize, &lastIndexed); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		if lastIndexed.Valid {
			f.LastIndexedAt = lastIndexed.Time
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// DeleteFileData removes a file's symbols and edges touching those
// symbols, then the file row itself, all inside one transaction — the
// incremental-reindex cascade used before re-extracting a changed file.
func (s *Store) DeleteFileData(fileID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete file data: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT symbol_id FROM symbols WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("delete file data: select symbols: %w", err)
	}
	var symbolIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("delete file data: scan symbol: %w", err)
		}
		symbolIDs = append(symbolIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("delete file data: %w", err)
	}

	if len(symbolIDs) > 0 {
		args := stringsToArgs(symbolIDs)
		ph := placeholderList(len(symbolIDs))
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM edges WHERE from_symbol_id IN (%s)`, ph), args...); err != nil {
			return fmt.Errorf("delete file data: edges from: %w", err)
		}
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM edges WHERE to_symbol_id IN (%s)`, ph), args...); err != nil {
			return fmt.Errorf("delete file data: edges to: %w", err)
		}
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM metrics WHERE symbol_id IN (%s)`, ph), args...); err != nil {
			return fmt.Errorf("delete file data: metrics: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM symbols WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("delete file data: symbols: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM files WHERE id = ?`, fileID); err != nil {
		return fmt.Errorf("delete file data: file: %w", err)
	}
	return tx.Commit()
}
