package store

import (
	"database/sql"
	"fmt"
)

// Repository aggregates computed on read with SQL, never materialized.

// DirectoryAggregate is one directory's file and symbol totals.
type DirectoryAggregate struct {
	Directory   string
	FileCount   int
	SymbolCount int
	ByteSize    int64
}

// DirectoryTree returns per-directory aggregates for a repo, ordered by
// directory path.
func (s *Store) DirectoryTree(repoID string) ([]*DirectoryAggregate, error) {
	rows, err := s.db.Query(
		`SELECT f.directory,
		        COUNT(*),
		        COALESCE((SELECT COUNT(*) FROM symbols sym
		                  JOIN files f2 ON f2.id = sym.file_id
		                  WHERE f2.repo_id = f.repo_id AND f2.directory = f.directory), 0),
		        COALESCE(SUM(f.byte_size), 0)
		 FROM files f
		 WHERE f.repo_id = ?
		 GROUP BY f.directory
		 ORDER BY f.directory`, repoID)
	if err != nil {
		return nil, fmt.Errorf("directory tree: %w", err)
	}
	defer rows.Close()

	var out []*DirectoryAggregate
	for rows.Next() {
		var d DirectoryAggregate
		if err := rows.Scan(&d.Directory, &d.FileCount, &d.SymbolCount, &d.ByteSize); err != nil {
			return nil, fmt.Errorf("scan directory aggregate: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// HotspotSymbol is one row of a top-by-metric query.
type HotspotSymbol struct {
	SymbolID string
	Name     string
	Kind     string
	RelPath  string
	FanIn    int
	FanOut   int
	Churn30d int
}

// TopByFanIn returns the most-depended-upon symbols in a repo.
func (s *Store) TopByFanIn(repoID string, limit int) ([]*HotspotSymbol, error) {
	return s.queryHotspots(`ORDER BY m.fan_in DESC, sym.symbol_id`, repoID, limit)
}

// TopByChurn returns the symbols with the highest recent churn.
func (s *Store) TopByChurn(repoID string, limit int) ([]*HotspotSymbol, error) {
	return s.queryHotspots(`ORDER BY m.churn_30d DESC, sym.symbol_id`, repoID, limit)
}

func (s *Store) queryHotspots(orderBy string, repoID string, limit int) ([]*HotspotSymbol, error) {
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT sym.symbol_id, sym.name, sym.kind, f.rel_path, m.fan_in, m.fan_out, m.churn_30d
		 FROM symbols sym
		 JOIN metrics m ON m.symbol_id = sym.symbol_id
		 JOIN files f ON f.id = sym.file_id
		 WHERE sym.repo_id = ? `+orderBy+` LIMIT ?`, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("top symbols: %w", err)
	}
	defer rows.Close()

	var out []*HotspotSymbol
	for rows.Next() {
		var h HotspotSymbol
		if err := rows.Scan(&h.SymbolID, &h.Name, &h.Kind, &h.RelPath, &h.FanIn, &h.FanOut, &h.Churn30d); err != nil {
			return nil, fmt.Errorf("scan hotspot: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// LargestFiles returns a repo's biggest files by byte size.
func (s *Store) LargestFiles(repoID string, limit int) ([]*File, error) {
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, repo_id, rel_path, directory, language, content_hash, byte_size, last_indexed_at
		 FROM files WHERE repo_id = ? ORDER BY byte_size DESC, rel_path LIMIT ?`, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("largest files: %w", err)
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
