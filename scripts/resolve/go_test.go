package go_resolve_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlhq/sdl/internal/store"
)

func TestGoResolve_CrossFileCall(t *testing.T) {
	env := newTestEnv(t)
	callerFile := env.extract("go", "caller.go", `package main

func caller() { helper() }
`)
	calleeFile := env.extract("go", "callee.go", `package main

func helper() {}
`)
	env.resolve("go")

	callerSyms, err := env.store.SymbolsByFile(callerFile)
	require.NoError(t, err)
	calleeSyms, err := env.store.SymbolsByFile(calleeFile)
	require.NoError(t, err)

	caller := findSymbol(callerSyms, store.KindFunction, "caller")
	helper := findSymbol(calleeSyms, store.KindFunction, "helper")
	require.NotNil(t, caller)
	require.NotNil(t, helper)

	edges, err := env.store.EdgesFrom(caller.SymbolID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, helper.SymbolID, edges[0].ToSymbolID)
	assert.False(t, store.IsUnresolved(edges[0].ToSymbolID))
}

func TestGoResolve_ExternalCallStaysUnresolved(t *testing.T) {
	env := newTestEnv(t)
	fileID := env.extract("go", "ext.go", `package main

import "fmt"

func show() { fmt.Println("x") }
`)
	env.resolve("go")

	syms, err := env.store.SymbolsByFile(fileID)
	require.NoError(t, err)
	show := findSymbol(syms, store.KindFunction, "show")
	require.NotNil(t, show)

	edges, err := env.store.EdgesFrom(show.SymbolID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "unresolved:Println", edges[0].ToSymbolID,
		"no local Println definition, the sentinel survives resolution")
}

func TestGoResolve_IntraRepoImportBindsPackage(t *testing.T) {
	env := newTestEnv(t)
	appFile := env.extract("go", "cmd/app/main.go", `package main

import "example.com/proj/storage"

func main() { storage.Open() }
`)
	pkgFile := env.extract("go", "storage/storage.go", `package storage

func Open() {}
`)
	env.resolve("go")

	appSyms, err := env.store.SymbolsByFile(appFile)
	require.NoError(t, err)
	pkgSyms, err := env.store.SymbolsByFile(pkgFile)
	require.NoError(t, err)

	mainPkg := findSymbol(appSyms, store.KindModule, "main")
	storagePkg := findSymbol(pkgSyms, store.KindModule, "storage")
	require.NotNil(t, mainPkg)
	require.NotNil(t, storagePkg)

	edges, err := env.store.EdgesFrom(mainPkg.SymbolID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, store.EdgeImport, edges[0].Type)
	assert.Equal(t, storagePkg.SymbolID, edges[0].ToSymbolID,
		"import path's last segment matches the storage package symbol")

	// The storage.Open() call binds to the concrete function too.
	mainFn := findSymbol(appSyms, store.KindFunction, "main")
	openFn := findSymbol(pkgSyms, store.KindFunction, "Open")
	require.NotNil(t, mainFn)
	require.NotNil(t, openFn)
	callEdges, err := env.store.EdgesFrom(mainFn.SymbolID)
	require.NoError(t, err)
	require.Len(t, callEdges, 1)
	assert.Equal(t, openFn.SymbolID, callEdges[0].ToSymbolID)
}

func TestGoResolve_DeterministicPickOnDuplicates(t *testing.T) {
	env := newTestEnv(t)
	env.extract("go", "caller.go", `package main

func caller() { dup() }
`)
	f1 := env.extract("go", "a_dup.go", `package main

func dup() {}
`)
	f2 := env.extract("go", "b_dup.go", `package main

func dup() {}
`)
	env.resolve("go")

	syms1, err := env.store.SymbolsByFile(f1)
	require.NoError(t, err)
	syms2, err := env.store.SymbolsByFile(f2)
	require.NoError(t, err)
	d1 := findSymbol(syms1, store.KindFunction, "dup")
	d2 := findSymbol(syms2, store.KindFunction, "dup")
	require.NotNil(t, d1)
	require.NotNil(t, d2)

	want := d1.SymbolID
	if d2.SymbolID < want {
		want = d2.SymbolID
	}

	unresolved, err := env.store.UnresolvedEdgesByRepo(testRepoID)
	require.NoError(t, err)
	assert.Empty(t, unresolved, "the dup call should have been bound")

	all, err := env.store.EdgesByRepo(testRepoID)
	require.NoError(t, err)
	var bound *store.Edge
	for _, e := range all {
		if e.ToSymbolID == d1.SymbolID || e.ToSymbolID == d2.SymbolID {
			bound = e
		}
	}
	require.NotNil(t, bound)
	assert.Equal(t, want, bound.ToSymbolID, "ties break on the smallest symbol id")
}

func TestGoResolve_DoesNotTouchOtherLanguages(t *testing.T) {
	env := newTestEnv(t)
	env.extract("go", "caller.go", `package main

func caller() { shared() }
`)
	// A python symbol with the same base name must not capture the Go
	// call's sentinel.
	pyFile := env.extract("python", "shared.py", `def shared():
    pass
`)
	env.resolve("go")

	pySyms, err := env.store.SymbolsByFile(pyFile)
	require.NoError(t, err)
	shared := findSymbol(pySyms, store.KindFunction, "shared")
	require.NotNil(t, shared)

	unresolved, err := env.store.UnresolvedEdgesByRepo(testRepoID)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "unresolved:shared", unresolved[0].ToSymbolID)
}
