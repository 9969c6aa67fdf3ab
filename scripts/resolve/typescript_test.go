package go_resolve_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlhq/sdl/internal/store"
)

func TestTSResolve_CrossFileCall(t *testing.T) {
	env := newTestEnv(t)
	callerFile := env.extract("typescript", "caller.ts", `import { helper } from "./helper";

export function caller(): void {
  helper();
}
`)
	calleeFile := env.extract("typescript", "helper.ts", `export function helper(): void {}`)
	env.resolve("typescript")

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
}

func TestTSResolve_ExtensionlessRelativeImport(t *testing.T) {
	env := newTestEnv(t)
	appFile := env.extract("typescript", "src/tsapp.ts", `import { tool } from "./tsutil";

export function run(): void {}
`)
	utilFile := env.extract("typescript", "src/tsutil.ts", `import path from "path";

export function tool(): void {}
`)
	env.resolve("typescript")

	appSyms, err := env.store.SymbolsByFile(appFile)
	require.NoError(t, err)
	utilSyms, err := env.store.SymbolsByFile(utilFile)
	require.NoError(t, err)

	appMod := findSymbol(appSyms, store.KindModule, "tsapp")
	utilMod := findSymbol(utilSyms, store.KindModule, "tsutil")
	require.NotNil(t, appMod)
	require.NotNil(t, utilMod)

	edges, err := env.store.EdgesFrom(appMod.SymbolID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, utilMod.SymbolID, edges[0].ToSymbolID)
}

func TestTSResolve_ImportIgnoresOtherLanguageStem(t *testing.T) {
	env := newTestEnv(t)
	appFile := env.extract("typescript", "src/view.ts", `import { render } from "./layout";

export function show(): void {}
`)
	tsFile := env.extract("typescript", "src/layout.ts", `import path from "path";

export function render(): void {}
`)
	// A python file sharing the stem also carries a module symbol named
	// "layout"; it must never capture the TS import's sentinel.
	pyFile := env.extract("python", "tools/layout.py", `import json

def render():
    pass
`)
	env.resolve("typescript")

	appSyms, err := env.store.SymbolsByFile(appFile)
	require.NoError(t, err)
	tsSyms, err := env.store.SymbolsByFile(tsFile)
	require.NoError(t, err)
	pySyms, err := env.store.SymbolsByFile(pyFile)
	require.NoError(t, err)

	appMod := findSymbol(appSyms, store.KindModule, "view")
	tsMod := findSymbol(tsSyms, store.KindModule, "layout")
	pyMod := findSymbol(pySyms, store.KindModule, "layout")
	require.NotNil(t, appMod)
	require.NotNil(t, tsMod)
	require.NotNil(t, pyMod, "the collision is only real if the python module symbol exists")

	edges, err := env.store.EdgesFrom(appMod.SymbolID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, tsMod.SymbolID, edges[0].ToSymbolID,
		"relative import binds to the same-language module regardless of id order")
}

func TestTSResolve_InterfaceReferenceBinds(t *testing.T) {
	env := newTestEnv(t)
	useFile := env.extract("typescript", "use.ts", `export function make(): void {
  Shape();
}
`)
	defFile := env.extract("typescript", "shape.ts", `export interface Shape {
  area(): number;
}
`)
	env.resolve("typescript")

	useSyms, err := env.store.SymbolsByFile(useFile)
	require.NoError(t, err)
	defSyms, err := env.store.SymbolsByFile(defFile)
	require.NoError(t, err)

	makeFn := findSymbol(useSyms, store.KindFunction, "make")
	shape := findSymbol(defSyms, store.KindInterface, "Shape")
	require.NotNil(t, makeFn)
	require.NotNil(t, shape)

	edges, err := env.store.EdgesFrom(makeFn.SymbolID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, shape.SymbolID, edges[0].ToSymbolID)
}
