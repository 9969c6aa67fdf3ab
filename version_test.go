package sdl

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlhq/sdl/internal/store"
)

func seedSymbols(t *testing.T, e *Engine, repoID string, names ...string) {
	t.Helper()
	s := e.Store()
	require.NoError(t, s.InsertRepo(&store.Repo{RepoID: repoID, RootPath: t.TempDir(), ConfigJSON: "{}"}))
	fileID, err := s.InsertFile(&store.File{RepoID: repoID, RelPath: "x.go", Language: "go"})
	require.NoError(t, err)
	for _, name := range names {
		require.NoError(t, s.InsertSymbol(&store.Symbol{
			SymbolID:       store.BuildSymbolID("x.go", store.KindFunction, name),
			RepoID:         repoID,
			FileID:         fileID,
			Kind:           store.KindFunction,
			Name:           name,
			Language:       "go",
			ASTFingerprint: store.ComputeASTFingerprint(store.KindFunction, name, "func "+name+"()"),
		}))
	}
}

func TestCreateVersion_ChainsParentHash(t *testing.T) {
	e := newTestEngine(t)
	seedSymbols(t, e, "r", "a", "b")

	v1, err := e.CreateVersion("r", "first")
	require.NoError(t, err)
	assert.Empty(t, v1.PrevVersionHash)
	assert.NotEmpty(t, v1.VersionHash)

	// Unchanged content reproduces the same state hashes.
	v2, err := e.CreateVersion("r", "second")
	require.NoError(t, err)
	assert.Equal(t, v1.VersionHash, v2.VersionHash)
	assert.Equal(t, v1.PrevVersionHash, v2.PrevVersionHash)

	// A content change extends the chain from the latest hash.
	fileID, err := e.Store().InsertFile(&store.File{RepoID: "r", RelPath: "y.go", Language: "go"})
	require.NoError(t, err)
	require.NoError(t, e.Store().InsertSymbol(&store.Symbol{
		SymbolID: store.BuildSymbolID("y.go", store.KindFunction, "c"),
		RepoID:   "r", FileID: fileID, Kind: store.KindFunction, Name: "c",
		Language: "go", ASTFingerprint: "fp-c",
	}))
	v3, err := e.CreateVersion("r", "third")
	require.NoError(t, err)
	assert.Equal(t, v1.VersionHash, v3.PrevVersionHash)
	assert.NotEqual(t, v1.VersionHash, v3.VersionHash)
}

func TestCreateVersion_SnapshotsAllLiveSymbols(t *testing.T) {
	e := newTestEngine(t)
	seedSymbols(t, e, "r", "a", "b", "c")

	v, err := e.CreateVersion("r", "")
	require.NoError(t, err)

	snaps, err := e.Store().SymbolVersionsByVersion(v.VersionID)
	require.NoError(t, err)
	assert.Len(t, snaps, 3)
}

func TestCreateVersion_FirstVersionsOfIdenticalTreesMatch(t *testing.T) {
	e1 := newTestEngine(t)
	e2 := newTestEngine(t)
	seedSymbols(t, e1, "r", "a", "b")
	seedSymbols(t, e2, "r", "a", "b")

	v1, err := e1.CreateVersion("r", "")
	require.NoError(t, err)
	v2, err := e2.CreateVersion("r", "")
	require.NoError(t, err)

	assert.Equal(t, v1.VersionHash, v2.VersionHash,
		"version determinism: same fingerprints, empty parent, same hash")
}

func TestNewVersionID_FormatAndMonotonicity(t *testing.T) {
	t.Parallel()
	pattern := regexp.MustCompile(`^demo-v\d+$`)

	prev := ""
	for i := 0; i < 5; i++ {
		id := NewVersionID("demo")
		assert.Regexp(t, pattern, id)
		assert.Greater(t, id, prev, "ids must be strictly increasing")
		prev = id
	}
}

func TestComputeVersionHash_OrderIndependent(t *testing.T) {
	t.Parallel()
	a := map[string]string{"s1": "f1", "s2": "f2"}
	b := map[string]string{"s2": "f2", "s1": "f1"}
	assert.Equal(t, store.ComputeVersionHash(a), store.ComputeVersionHash(b))

	c := map[string]string{"s1": "f1", "s2": "CHANGED"}
	assert.NotEqual(t, store.ComputeVersionHash(a), store.ComputeVersionHash(c))
}
