package store

import (
	"database/sql"
	"errors"
	"fmt"
)

const symbolCols = `symbol_id, repo_id, file_id, kind, name, exported, visibility, language,
	start_line, start_col, end_line, end_col, ast_fingerprint, signature_json,
	summary, invariants_json, side_effects_json, updated_at`

// InsertSymbol inserts or replaces a symbol row keyed on symbol_id.
func (s *Store) InsertSymbol(sym *Symbol) error {
	_, err := s.db.Exec(
		`INSERT INTO symbols (`+symbolCols+`)
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
		   updated_at = CURRENT_TIMESTAMP`,
		sym.SymbolID, sym.RepoID, sym.FileID, sym.Kind, sym.Name, boolToInt(sym.Exported),
		sym.Visibility, sym.Language, sym.StartLine, sym.StartCol, sym.EndLine, sym.EndCol,
		sym.ASTFingerprint, sym.SignatureJSON, sym.Summary, sym.InvariantsJSON, sym.SideEffectsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert symbol: %w", err)
	}
	return nil
}

// SymbolByID returns one symbol by its opaque id.
func (s *Store) SymbolByID(symbolID string) (*Symbol, error) {
	stmt, err := s.prepared(`SELECT ` + symbolCols + ` FROM symbols WHERE symbol_id = ?`)
	if err != nil {
		return nil, fmt.Errorf("symbol by id: %w", err)
	}
	return scanSymbol(stmt.QueryRow(symbolID))
}

// SymbolsByFile returns all symbols declared in a file.
func (s *Store) SymbolsByFile(fileID int64) ([]*Symbol, error) {
	rows, err := s.db.Query(`SELECT `+symbolCols+` FROM symbols WHERE file_id = ? ORDER BY start_line`, fileID)
	if err != nil {
		return nil, fmt.Errorf("symbols by file: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// SymbolsByName returns all symbols in a repo matching a name, for
// cross-file resolution during the resolve pass.
func (s *Store) SymbolsByName(repoID, name string) ([]*Symbol, error) {
	rows, err := s.db.Query(`SELECT `+symbolCols+` FROM symbols WHERE repo_id = ? AND name = ?`, repoID, name)
	if err != nil {
		return nil, fmt.Errorf("symbols by name: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// SearchSymbols performs a bounded case-insensitive substring search over
// symbol names within a repo.
func (s *Store) SearchSymbols(repoID, query string, limit int) ([]*Symbol, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+symbolCols+` FROM symbols WHERE repo_id = ? AND name LIKE ? ESCAPE '\' ORDER BY name LIMIT ?`,
		repoID, "%"+escapeLike(query)+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search symbols: %w", err)
	}
	defer rows.Close()
	return scanSymbols(rows)
}

func scanSymbols(rows *sql.Rows) ([]*Symbol, error) {
	var out []*Symbol
	for rows.Next() {
		sym, err := scanSymbolRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSymbol(row scanner) (*Symbol, error) {
	return scanSymbolRow(row)
}

func scanSymbolRow(row scanner) (*Symbol, error) {
	var sym Symbol
	var exported int
	var updatedAt sql.NullTime
	err := row.Scan(
		&sym.SymbolID, &sym.RepoID, &sym.FileID, &sym.Kind, &sym.Name, &exported,
		&sym.Visibility, &sym.Language, &sym.StartLine, &sym.StartCol, &sym.EndLine, &sym.EndCol,
		&sym.ASTFingerprint, &sym.SignatureJSON, &sym.Summary, &sym.InvariantsJSON, &sym.SideEffectsJSON,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan symbol: %w", err)
	}
	sym.Exported = exported != 0
	if updatedAt.Valid {
		sym.UpdatedAt = updatedAt.Time
	}
	return &sym, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
