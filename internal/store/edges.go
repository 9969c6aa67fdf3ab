package store

import (
	"fmt"
	"strings"
)

// InsertEdge inserts a new edge row and returns its surrogate id.
func (s *Store) InsertEdge(e *Edge) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO edges (repo_id, from_symbol_id, to_symbol_id, type, weight, provenance)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.RepoID, e.FromSymbolID, e.ToSymbolID, e.Type, e.Weight, e.Provenance,
	)
	if err != nil {
		return 0, fmt.Errorf("insert edge: %w", err)
	}
	return res.LastInsertId()
}

// EdgesFrom returns outgoing edges for a symbol, used for fan-out and
// forward slice traversal.
func (s *Store) EdgesFrom(symbolID string) ([]*Edge, error) {
	return s.queryEdges(`SELECT edge_id, repo_id, from_symbol_id, to_symbol_id, type, weight, provenance, created_at
		FROM edges WHERE from_symbol_id = ?`, symbolID)
}

// EdgesTo returns incoming edges for a symbol, used for fan-in and
// reverse blast-radius traversal. Unresolved sentinel targets never
// appear here since they never match a real symbol_id.
func (s *Store) EdgesTo(symbolID string) ([]*Edge, error) {
	return s.queryEdges(`SELECT edge_id, repo_id, from_symbol_id, to_symbol_id, type, weight, provenance, created_at
		FROM edges WHERE to_symbol_id = ?`, symbolID)
}

// EdgesByRepo returns every edge in a repo, for bulk graph construction
// (avoids N+1 per-symbol queries when building an in-memory adjacency).
func (s *Store) EdgesByRepo(repoID string) ([]*Edge, error) {
	return s.queryEdges(`SELECT edge_id, repo_id, from_symbol_id, to_symbol_id, type, weight, provenance, created_at
		FROM edges WHERE repo_id = ?`, repoID)
}

func (s *Store) queryEdges(query string, args ...any) ([]*Edge, error) {
	stmt, err := s.prepared(query)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var out []*Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.EdgeID, &e.RepoID, &e.FromSymbolID, &e.ToSymbolID, &e.Type, &e.Weight, &e.Provenance, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// BulkReverseNeighbors returns, for a set of symbol ids, every symbol
// with an edge pointing at one of them, in a single query. The Engine's
// incremental-refresh bookkeeping (recordBlastRadius) uses it to find the
// files affected by a change.
func (s *Store) BulkReverseNeighbors(symbolIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(symbolIDs))
	if len(symbolIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT from_symbol_id, to_symbol_id FROM edges WHERE to_symbol_id IN (%s)`, placeholderList(len(symbolIDs))),
		stringsToArgs(symbolIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("bulk reverse neighbors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("scan reverse neighbor: %w", err)
		}
		out[to] = append(out[to], from)
	}
	return out, rows.Err()
}

// UnresolvedEdgesByRepo returns every edge in a repo still pointing at an
// unresolved: sentinel, the working set for the resolution pass.
func (s *Store) UnresolvedEdgesByRepo(repoID string) ([]*Edge, error) {
	return s.queryEdges(`SELECT edge_id, repo_id, from_symbol_id, to_symbol_id, type, weight, provenance, created_at
		FROM edges WHERE repo_id = ? AND to_symbol_id LIKE ? || '%'`, repoID, UnresolvedPrefix)
}

// UnresolvedEdgesByLanguage restricts UnresolvedEdgesByRepo to edges
// whose source symbol belongs to one language, so per-language
// resolution passes can run concurrently without touching each other's
// working set.
func (s *Store) UnresolvedEdgesByLanguage(repoID, language string) ([]*Edge, error) {
	return s.queryEdges(`SELECT e.edge_id, e.repo_id, e.from_symbol_id, e.to_symbol_id, e.type, e.weight, e.provenance, e.created_at
		FROM edges e JOIN symbols sym ON sym.symbol_id = e.from_symbol_id
		WHERE e.repo_id = ? AND sym.language = ? AND e.to_symbol_id LIKE ? || '%'`, repoID, language, UnresolvedPrefix)
}

// UpdateEdgeTarget rebinds an edge's to_symbol_id, used by the resolution
// pass once it finds a concrete definition for a previously unresolved
// call or import target.
func (s *Store) UpdateEdgeTarget(edgeID int64, toSymbolID string) error {
	_, err := s.db.Exec(`UPDATE edges SET to_symbol_id = ? WHERE edge_id = ?`, toSymbolID, edgeID)
	if err != nil {
		return fmt.Errorf("update edge target: %w", err)
	}
	return nil
}

// IsUnresolved reports whether a to_symbol_id is an unresolved sentinel
// rather than a real symbol reference.
func IsUnresolved(toSymbolID string) bool {
	return strings.HasPrefix(toSymbolID, UnresolvedPrefix)
}

// UnresolvedTarget builds the sentinel value stored in edges.to_symbol_id
// when extraction or resolution cannot bind a call/import target to a
// concrete symbol.
func UnresolvedTarget(name string) string {
	return UnresolvedPrefix + name
}
