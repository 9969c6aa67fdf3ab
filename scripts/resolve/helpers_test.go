package go_resolve_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sdlhq/sdl/internal/lang"
	"github.com/sdlhq/sdl/internal/store"
)

const testRepoID = "testrepo"

func findModuleRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find module root")
		}
		dir = parent
	}
}

// testEnv wires a temp SQLite store and a Runtime against the real
// scripts directory, so extraction and resolution run exactly as the
// Engine runs them.
type testEnv struct {
	store *store.Store
	rt    *lang.Runtime
	t     *testing.T
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	require.NoError(t, s.InsertRepo(&store.Repo{RepoID: testRepoID, RootPath: t.TempDir(), ConfigJSON: "{}"}))

	rt := lang.NewRuntime(s, filepath.Join(findModuleRoot(t), "scripts"))
	t.Cleanup(func() { s.Close() })
	return &testEnv{store: s, rt: rt, t: t}
}

func (e *testEnv) extract(language, relPath, src string) int64 {
	e.t.Helper()

	absPath := filepath.Join(e.t.TempDir(), filepath.Base(relPath))
	require.NoError(e.t, os.WriteFile(absPath, []byte(src), 0o644))

	fileID, err := e.store.InsertFile(&store.File{RepoID: testRepoID, RelPath: relPath, Language: language})
	require.NoError(e.t, err)

	extras := map[string]any{
		"repo_id":           testRepoID,
		"file_path":         absPath,
		"rel_path":          relPath,
		"file_id":           fileID,
		"language":          language,
		"build_symbol_id":   lang.MakeBuildSymbolIDFn(relPath),
		"unresolved_target": lang.MakeUnresolvedTargetFn(),
		"qualified_name":    lang.MakeQualifiedNameFn(),
	}
	require.NoError(e.t, e.rt.RunScript(context.Background(), lang.ExtractionScriptPath(language), extras))
	return fileID
}

func (e *testEnv) resolve(language string) {
	e.t.Helper()
	extras := map[string]any{
		"repo_id":            testRepoID,
		"language":           language,
		"unresolved_edges":   lang.MakeUnresolvedEdgesFn(e.store),
		"update_edge_target": lang.MakeUpdateEdgeTargetFn(e.store),
		"unresolved_target":  lang.MakeUnresolvedTargetFn(),
	}
	require.NoError(e.t, e.rt.RunScript(context.Background(), lang.ResolutionScriptPath(language), extras))
}

func findSymbol(syms []*store.Symbol, kind, name string) *store.Symbol {
	for _, s := range syms {
		if s.Kind == kind && s.Name == name {
			return s
		}
	}
	return nil
}
