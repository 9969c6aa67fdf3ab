package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertSliceHandle records a leased slice handle and its spillover
// reference (empty if nothing was cut).
func (s *Store) InsertSliceHandle(h *SliceHandle) error {
	_, err := s.db.Exec(
		`INSERT INTO slice_handles (handle, repo_id, expires_at, min_version, max_version, slice_hash, spillover_ref)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.Handle, h.RepoID, h.ExpiresAt, h.MinVersion, h.MaxVersion, h.SliceHash, h.SpilloverRef,
	)
	if err != nil {
		return fmt.Errorf("insert slice handle: %w", err)
	}
	return nil
}

// SliceHandleByID returns a slice handle row, regardless of expiry —
// callers check ExpiresAt themselves so an expired lease produces a
// PolicyError with a clear nextBestAction instead of a generic not-found.
func (s *Store) SliceHandleByID(handle string) (*SliceHandle, error) {
	row := s.db.QueryRow(
		`SELECT handle, repo_id, created_at, expires_at, min_version, max_version, slice_hash, spillover_ref
		 FROM slice_handles WHERE handle = ?`, handle)
	var h SliceHandle
	if err := row.Scan(&h.Handle, &h.RepoID, &h.CreatedAt, &h.ExpiresAt, &h.MinVersion, &h.MaxVersion, &h.SliceHash, &h.SpilloverRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("slice handle by id: %w", err)
	}
	return &h, nil
}

// TouchSliceHandle renews a handle's lease.
func (s *Store) TouchSliceHandle(handle string, expiresAt time.Time) error {
	_, err := s.db.Exec(`UPDATE slice_handles SET expires_at = ? WHERE handle = ?`, expiresAt, handle)
	if err != nil {
		return fmt.Errorf("touch slice handle: %w", err)
	}
	return nil
}

// SweepExpiredSliceHandles deletes slice handles (and their spillover
// items) whose lease has expired as of now.
func (s *Store) SweepExpiredSliceHandles(now time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("sweep slice handles: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT handle, spillover_ref FROM slice_handles WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep slice handles: select: %w", err)
	}
	var handles, spillovers []string
	for rows.Next() {
		var handle, ref string
		if err := rows.Scan(&handle, &ref); err != nil {
			rows.Close()
			return 0, fmt.Errorf("sweep slice handles: scan: %w", err)
		}
		handles = append(handles, handle)
		if ref != "" {
			spillovers = append(spillovers, ref)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(handles) == 0 {
		return 0, tx.Commit()
	}
	if len(spillovers) > 0 {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM spillover_items WHERE spillover_ref IN (%s)`, placeholderList(len(spillovers))), stringsToArgs(spillovers)...); err != nil {
			return 0, fmt.Errorf("sweep slice handles: spillover items: %w", err)
		}
	}
	res, err := tx.Exec(fmt.Sprintf(`DELETE FROM slice_handles WHERE handle IN (%s)`, placeholderList(len(handles))), stringsToArgs(handles)...)
	if err != nil {
		return 0, fmt.Errorf("sweep slice handles: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

// InsertSpilloverItems stores the ranked symbols dropped from a slice by
// the budget cut, preserving rank order for paged retrieval.
func (s *Store) InsertSpilloverItems(ref string, items []*SpilloverItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("insert spillover items: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO spillover_items (spillover_ref, symbol_id, rank, ordinal) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("insert spillover items: prepare: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.Exec(ref, it.SymbolID, it.Rank, it.Ordinal); err != nil {
			return fmt.Errorf("insert spillover items: %w", err)
		}
	}
	return tx.Commit()
}

// SpilloverPage returns a page of spillover items ordered by rank.
func (s *Store) SpilloverPage(ref string, offset, limit int) ([]*SpilloverItem, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM spillover_items WHERE spillover_ref = ?`, ref).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("spillover page: count: %w", err)
	}
	rows, err := s.db.Query(
		`SELECT spillover_ref, symbol_id, rank, ordinal FROM spillover_items
		 WHERE spillover_ref = ? ORDER BY ordinal LIMIT ? OFFSET ?`, ref, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("spillover page: %w", err)
	}
	defer rows.Close()

	var out []*SpilloverItem
	for rows.Next() {
		var it SpilloverItem
		if err := rows.Scan(&it.SpilloverRef, &it.SymbolID, &it.Rank, &it.Ordinal); err != nil {
			return nil, 0, fmt.Errorf("scan spillover item: %w", err)
		}
		out = append(out, &it)
	}
	return out, total, rows.Err()
}
