package store

import "fmt"

// CommitBatch flushes a BatchedStore's buffered symbols and edges into
// SQLite inside a single transaction — the one point where the
// parallel extraction pipeline touches the database for a given file.
func (s *Store) CommitBatch(batch *BatchedStore) error {
	batch.mu.Lock()
	symbols := append([]*Symbol(nil), batch.Symbols...)
	edges := append([]*Edge(nil), batch.Edges...)
	batch.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	symStmt, err := tx.Prepare(
		`INSERT INTO symbols (` + symbolCols + `)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(symbol_id) DO UPDATE SET
		   file_id = excluded.file_id, kind = excluded.kind, name = excluded.name,
		   exported = excluded.exported, visibility = excluded.visibility,
		   language = excluded.language, start_line = excluded.start_line,
		   start_col = excluded.start_col, end_line = excluded.end_line,
		   end_col = excluded.end_col, ast_fingerprint = excluded.ast_fingerprint,
		   signature_json = excluded.signature_json, summary = excluded.summary,
		   invariants_json = excluded.invariants_json,
		   side_effects_json = excluded.side_effects_json,
		   updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("commit batch: prepare symbols: %w", err)
	}
	defer symStmt.Close()

	for _, sym := range symbols {
		if _, err := symStmt.Exec(
			sym.SymbolID, sym.RepoID, sym.FileID, sym.Kind, sym.Name, boolToInt(sym.Exported),
			sym.Visibility, sym.Language, sym.StartLine, sym.StartCol, sym.EndLine, sym.EndCol,
			sym.ASTFingerprint, sym.SignatureJSON, sym.Summary, sym.InvariantsJSON, sym.SideEffectsJSON,
		); err != nil {
			return fmt.Errorf("commit batch: symbol %s: %w", sym.SymbolID, err)
		}
	}

	edgeStmt, err := tx.Prepare(
		`INSERT INTO edges (repo_id, from_symbol_id, to_symbol_id, type, weight, provenance) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("commit batch: prepare edges: %w", err)
	}
	defer edgeStmt.Close()

	for _, e := range edges {
		if _, err := edgeStmt.Exec(e.RepoID, e.FromSymbolID, e.ToSymbolID, e.Type, e.Weight, e.Provenance); err != nil {
			return fmt.Errorf("commit batch: edge %s->%s: %w", e.FromSymbolID, e.ToSymbolID, err)
		}
	}

	return tx.Commit()
}
