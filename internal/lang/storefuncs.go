package lang

import (
	"context"
	"fmt"
	"strings"

	"github.com/risor-io/risor/object"

	"github.com/sdlhq/sdl/internal/store"
)

// Risor scripts can't construct Go struct pointers, so these host functions
// accept Risor maps with primitive values and build store.Symbol/store.Edge
// on the Go side before handing them to the DataStore.

func makeInsertSymbolFn(data store.DataStore) *object.Builtin {
	return object.NewBuiltin("insert_symbol", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("insert_symbol", 1, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("insert_symbol: %v", err)
		}

		sym := &store.Symbol{
			SymbolID:        getString(m, "symbol_id"),
			RepoID:          getString(m, "repo_id"),
			FileID:          getInt64(m, "file_id"),
			Kind:            getString(m, "kind"),
			Name:            getString(m, "name"),
			Exported:        getBool(m, "exported"),
			Visibility:      getString(m, "visibility"),
			Language:        getString(m, "language"),
			StartLine:       getInt(m, "start_line"),
			StartCol:        getInt(m, "start_col"),
			EndLine:         getInt(m, "end_line"),
			EndCol:          getInt(m, "end_col"),
			ASTFingerprint:  getString(m, "ast_fingerprint"),
			SignatureJSON:   getStringDefault(m, "signature_json", "{}"),
			Summary:         getString(m, "summary"),
			InvariantsJSON:  getStringDefault(m, "invariants_json", "[]"),
			SideEffectsJSON: getStringDefault(m, "side_effects_json", "[]"),
		}
		if sym.SymbolID == "" {
			return object.Errorf("insert_symbol: symbol_id is required")
		}

		if err := data.InsertSymbol(sym); err != nil {
			return object.Errorf("insert_symbol: %v", err)
		}
		return object.NewString(sym.SymbolID)
	})
}

func makeInsertEdgeFn(data store.DataStore) *object.Builtin {
	return object.NewBuiltin("insert_edge", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("insert_edge", 1, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("insert_edge: %v", err)
		}

		edge := &store.Edge{
			RepoID:       getString(m, "repo_id"),
			FromSymbolID: getString(m, "from_symbol_id"),
			ToSymbolID:   getString(m, "to_symbol_id"),
			Type:         getStringDefault(m, "type", store.EdgeCall),
			Weight:       getFloatDefault(m, "weight", 1.0),
			Provenance:   getString(m, "provenance"),
		}
		if edge.FromSymbolID == "" || edge.ToSymbolID == "" {
			return object.Errorf("insert_edge: from_symbol_id and to_symbol_id are required")
		}

		id, insertErr := data.InsertEdge(edge)
		if insertErr != nil {
			return object.Errorf("insert_edge: %v", insertErr)
		}
		return object.NewInt(id)
	})
}

// makeSymbolsByNameFn wraps DataStore.SymbolsByName for cross-file lookups
// during the resolve pass (e.g. binding a call's callee name to a symbol
// declared in another file of the same repo).
func makeSymbolsByNameFn(data store.DataStore) *object.Builtin {
	return object.NewBuiltin("symbols_by_name", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("symbols_by_name", 2, len(args))
		}
		repoID, err := toString(args[0])
		if err != nil {
			return object.Errorf("symbols_by_name: %v", err)
		}
		name, err := toString(args[1])
		if err != nil {
			return object.Errorf("symbols_by_name: %v", err)
		}

		syms, queryErr := data.SymbolsByName(repoID, name)
		if queryErr != nil {
			return object.Errorf("symbols_by_name: %v", queryErr)
		}
		return symbolsToList(syms)
	})
}

// makeSymbolsByFileFn wraps DataStore.SymbolsByFile — used by extraction to
// link methods back to a receiver type declared earlier in the same file.
func makeSymbolsByFileFn(data store.DataStore) *object.Builtin {
	return object.NewBuiltin("symbols_by_file", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("symbols_by_file", 1, len(args))
		}
		fileID, err := toInt64(args[0])
		if err != nil {
			return object.Errorf("symbols_by_file: %v", err)
		}

		syms, queryErr := data.SymbolsByFile(fileID)
		if queryErr != nil {
			return object.Errorf("symbols_by_file: %v", queryErr)
		}
		return symbolsToList(syms)
	})
}

// MakeBuildSymbolIDFn returns a build_symbol_id(kind, qualified_name)
// builtin closed over a single file's repo-relative path, so extraction
// scripts never construct the opaque symbol id format themselves.
// Exported so engine.go can pass it as an extra global without importing
// the risor object package directly.
func MakeBuildSymbolIDFn(relPath string) any {
	return object.NewBuiltin("build_symbol_id", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("build_symbol_id", 2, len(args))
		}
		kind, err := toString(args[0])
		if err != nil {
			return object.Errorf("build_symbol_id: %v", err)
		}
		qualifiedName, err := toString(args[1])
		if err != nil {
			return object.Errorf("build_symbol_id: %v", err)
		}
		return object.NewString(store.BuildSymbolID(relPath, kind, qualifiedName))
	})
}

// makeFingerprintFn returns the fingerprint(kind, qualified_name,
// normalized_signature) builtin. Scripts pass a whitespace-normalized
// signature so the hash is stable over formatting and file position and
// sensitive only to structural and signature change.
func makeFingerprintFn() *object.Builtin {
	return object.NewBuiltin("fingerprint", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 3 {
			return object.NewArgsError("fingerprint", 3, len(args))
		}
		kind, err := toString(args[0])
		if err != nil {
			return object.Errorf("fingerprint: %v", err)
		}
		qualifiedName, err := toString(args[1])
		if err != nil {
			return object.Errorf("fingerprint: %v", err)
		}
		signature, err := toString(args[2])
		if err != nil {
			return object.Errorf("fingerprint: %v", err)
		}
		return object.NewString(store.ComputeASTFingerprint(kind, qualifiedName, signature))
	})
}

// MakeUnresolvedTargetFn returns an unresolved_target(name) builtin that
// builds the sentinel stored in edges.to_symbol_id when a call or import
// target can't be bound to a concrete symbol yet.
func MakeUnresolvedTargetFn() any {
	return object.NewBuiltin("unresolved_target", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("unresolved_target", 1, len(args))
		}
		name, err := toString(args[0])
		if err != nil {
			return object.Errorf("unresolved_target: %v", err)
		}
		return object.NewString(store.UnresolvedTarget(name))
	})
}

// MakeQualifiedNameFn returns a qualified_name(...parts) builtin joining
// name components the same way the id/fingerprint builders do.
func MakeQualifiedNameFn() any {
	return object.NewBuiltin("qualified_name", func(ctx context.Context, args ...object.Object) object.Object {
		parts := make([]string, 0, len(args))
		for _, a := range args {
			s, err := toString(a)
			if err != nil {
				return object.Errorf("qualified_name: %v", err)
			}
			parts = append(parts, s)
		}
		return object.NewString(store.QualifiedName(parts...))
	})
}

// MakeUnresolvedEdgesFn returns an unresolved_edges(repo_id, language)
// builtin listing every edge still pointing at an unresolved: sentinel
// whose source symbol belongs to the given language — the working set
// one language's resolution pass iterates over.
func MakeUnresolvedEdgesFn(s *store.Store) any {
	return object.NewBuiltin("unresolved_edges", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("unresolved_edges", 2, len(args))
		}
		repoID, err := toString(args[0])
		if err != nil {
			return object.Errorf("unresolved_edges: %v", err)
		}
		language, err := toString(args[1])
		if err != nil {
			return object.Errorf("unresolved_edges: %v", err)
		}
		edges, queryErr := s.UnresolvedEdgesByLanguage(repoID, language)
		if queryErr != nil {
			return object.Errorf("unresolved_edges: %v", queryErr)
		}
		var results []object.Object
		for _, e := range edges {
			name := strings.TrimPrefix(e.ToSymbolID, store.UnresolvedPrefix)
			results = append(results, object.NewMap(map[string]object.Object{
				"edge_id":         object.NewInt(e.EdgeID),
				"from_symbol_id":  object.NewString(e.FromSymbolID),
				"unresolved_name": object.NewString(name),
				"type":            object.NewString(e.Type),
			}))
		}
		if results == nil {
			results = []object.Object{}
		}
		return object.NewList(results)
	})
}

// MakeUpdateEdgeTargetFn returns an update_edge_target(edge_id,
// to_symbol_id) builtin that rebinds a previously unresolved edge once
// the resolution pass finds a concrete definition.
func MakeUpdateEdgeTargetFn(s *store.Store) any {
	return object.NewBuiltin("update_edge_target", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("update_edge_target", 2, len(args))
		}
		edgeID, err := toInt64(args[0])
		if err != nil {
			return object.Errorf("update_edge_target: %v", err)
		}
		toSymbolID, err := toString(args[1])
		if err != nil {
			return object.Errorf("update_edge_target: %v", err)
		}
		if updErr := s.UpdateEdgeTarget(edgeID, toSymbolID); updErr != nil {
			return object.Errorf("update_edge_target: %v", updErr)
		}
		return object.Nil
	})
}

// symbolsToList converts a slice of store.Symbol to a Risor list of maps.
func symbolsToList(syms []*store.Symbol) object.Object {
	var results []object.Object
	for _, sym := range syms {
		results = append(results, object.NewMap(map[string]object.Object{
			"symbol_id":  object.NewString(sym.SymbolID),
			"repo_id":    object.NewString(sym.RepoID),
			"file_id":    object.NewInt(sym.FileID),
			"kind":       object.NewString(sym.Kind),
			"name":       object.NewString(sym.Name),
			"exported":   object.NewBool(sym.Exported),
			"visibility": object.NewString(sym.Visibility),
			"language":   object.NewString(sym.Language),
			"start_line": object.NewInt(int64(sym.StartLine)),
			"start_col":  object.NewInt(int64(sym.StartCol)),
			"end_line":   object.NewInt(int64(sym.EndLine)),
			"end_col":    object.NewInt(int64(sym.EndCol)),
		}))
	}
	if results == nil {
		results = []object.Object{}
	}
	return object.NewList(results)
}

// --- Map/scalar extraction helpers ---

func extractMap(obj object.Object) (map[string]object.Object, error) {
	m, ok := obj.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("expected map, got %s", obj.Type())
	}
	return m.Value(), nil
}

func getString(m map[string]object.Object, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	if s, ok := v.(*object.String); ok {
		return s.Value()
	}
	return ""
}

func getStringDefault(m map[string]object.Object, key, def string) string {
	v := getString(m, key)
	if v == "" {
		return def
	}
	return v
}

func getInt(m map[string]object.Object, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	if i, ok := v.(*object.Int); ok {
		return int(i.Value())
	}
	if f, ok := v.(*object.Float); ok {
		return int(f.Value())
	}
	return 0
}

func getInt64(m map[string]object.Object, key string) int64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	if i, ok := v.(*object.Int); ok {
		return i.Value()
	}
	if f, ok := v.(*object.Float); ok {
		return int64(f.Value())
	}
	return 0
}

func getBool(m map[string]object.Object, key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	if b, ok := v.(*object.Bool); ok {
		return b.Value()
	}
	return false
}

func getFloatDefault(m map[string]object.Object, key string, def float64) float64 {
	v, ok := m[key]
	if !ok {
		return def
	}
	if f, ok := v.(*object.Float); ok {
		return f.Value()
	}
	if i, ok := v.(*object.Int); ok {
		return float64(i.Value())
	}
	return def
}

func toInt64(obj object.Object) (int64, error) {
	if i, ok := obj.(*object.Int); ok {
		return i.Value(), nil
	}
	if f, ok := obj.(*object.Float); ok {
		return int64(f.Value()), nil
	}
	return 0, fmt.Errorf("expected int, got %s", obj.Type())
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}
