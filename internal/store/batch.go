package store

import (
	"database/sql"
	"fmt"
)

// batchChunkSize bounds the number of bound parameters per IN (...) query.
// SQLite's default parameter limit is 999; 500 leaves headroom for the
// non-list parameters some callers add.
const batchChunkSize = 500

// SymbolsByIDs fetches symbols for an id list, chunking transparently so
// callers never hit the engine's parameter limit. Ids with no matching
// row are simply absent from the returned map.
func (s *Store) SymbolsByIDs(symbolIDs []string) (map[string]*Symbol, error) {
	out := make(map[string]*Symbol, len(symbolIDs))
	for start := 0; start < len(symbolIDs); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(symbolIDs) {
			end = len(symbolIDs)
		}
		chunk := symbolIDs[start:end]
		rows, err := s.db.Query(
			fmt.Sprintf(`SELECT `+symbolCols+` FROM symbols WHERE symbol_id IN (%s)`, placeholderList(len(chunk))),
			stringsToArgs(chunk)...,
		)
		if err != nil {
			return nil, fmt.Errorf("symbols by ids: %w", err)
		}
		syms, err := scanSymbols(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		for _, sym := range syms {
			out[sym.SymbolID] = sym
		}
	}
	return out, nil
}

// MetricsByIDs fetches metrics rows for an id list, chunked like
// SymbolsByIDs. Symbols with no metrics row yet are absent from the map;
// callers treat absence as zero-value metrics.
func (s *Store) MetricsByIDs(symbolIDs []string) (map[string]*Metrics, error) {
	out := make(map[string]*Metrics, len(symbolIDs))
	for start := 0; start < len(symbolIDs); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(symbolIDs) {
			end = len(symbolIDs)
		}
		chunk := symbolIDs[start:end]
		rows, err := s.db.Query(
			fmt.Sprintf(`SELECT symbol_id, fan_in, fan_out, churn_30d, test_refs_json, updated_at
				FROM metrics WHERE symbol_id IN (%s)`, placeholderList(len(chunk))),
			stringsToArgs(chunk)...,
		)
		if err != nil {
			return nil, fmt.Errorf("metrics by ids: %w", err)
		}
		for rows.Next() {
			var m Metrics
			if err := rows.Scan(&m.SymbolID, &m.FanIn, &m.FanOut, &m.Churn30d, &m.TestRefsJSON, &m.UpdatedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan metrics: %w", err)
			}
			out[m.SymbolID] = &m
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// FilesByIDs fetches file rows for an id list, chunked.
func (s *Store) FilesByIDs(fileIDs []int64) (map[int64]*File, error) {
	out := make(map[int64]*File, len(fileIDs))
	for start := 0; start < len(fileIDs); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(fileIDs) {
			end = len(fileIDs)
		}
		chunk := fileIDs[start:end]
		rows, err := s.db.Query(
			fmt.Sprintf(`SELECT id, repo_id, rel_path, directory, language, content_hash, byte_size, last_indexed_at
				FROM files WHERE id IN (%s)`, placeholderList(len(chunk))),
			int64sToArgs(chunk)...,
		)
		if err != nil {
			return nil, fmt.Errorf("files by ids: %w", err)
		}
		for rows.Next() {
			var f File
			var lastIndexed sql.NullTime
			if err := rows.Scan(&f.ID, &f.RepoID, &f.RelPath, &f.Directory, &f.Language, &f.ContentHash, &f.ByteSize, &lastIndexed); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan file: %w", err)
			}
			if lastIndexed.Valid {
				f.LastIndexedAt = lastIndexed.Time
			}
			out[f.ID] = &f
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// SymbolsByRepo returns every live symbol in a repo, ordered by symbol_id
// so bulk graph construction iterates deterministically.
func (s *Store) SymbolsByRepo(repoID string) ([]*Symbol, error) {
	rows, err := s.db.Query(`SELECT `+symbolCols+` FROM symbols WHERE repo_id = ? ORDER BY symbol_id`, repoID)
	if err != nil {
		return nil, fmt.Errorf("symbols by repo: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}
