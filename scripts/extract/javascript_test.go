package go_extract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlhq/sdl/internal/store"
)

func TestJSExtract_ExportedAndPrivateFunctions(t *testing.T) {
	env := newTestEnv(t)
	fileID := env.extractSource("javascript", "lib.js", `export function visible() {}

function hidden() {}
`)
	syms, err := env.store.SymbolsByFile(fileID)
	require.NoError(t, err)

	vis := findSymbol(syms, store.KindFunction, "visible")
	require.NotNil(t, vis)
	assert.True(t, vis.Exported)
	assert.Equal(t, "public", vis.Visibility)

	hid := findSymbol(syms, store.KindFunction, "hidden")
	require.NotNil(t, hid)
	assert.False(t, hid.Exported)
	assert.Equal(t, "private", hid.Visibility)
}

func TestJSExtract_ClassWithMethodsAndConstructor(t *testing.T) {
	env := newTestEnv(t)
	fileID := env.extractSource("javascript", "queue.js", `export class Queue {
  constructor(limit) {
    this.limit = limit;
  }

  push(item) {
    this.validate(item);
  }

  validate(item) {}
}
`)
	syms, err := env.store.SymbolsByFile(fileID)
	require.NoError(t, err)

	require.NotNil(t, findSymbol(syms, store.KindClass, "Queue"))
	require.NotNil(t, findSymbol(syms, store.KindConstructor, "constructor"))

	push := findSymbol(syms, store.KindMethod, "push")
	validate := findSymbol(syms, store.KindMethod, "validate")
	require.NotNil(t, push)
	require.NotNil(t, validate)

	edges, err := env.store.EdgesFrom(push.SymbolID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, validate.SymbolID, edges[0].ToSymbolID)
}

func TestJSExtract_ArrowFunctionBinding(t *testing.T) {
	env := newTestEnv(t)
	fileID := env.extractSource("javascript", "arrow.js", `const compute = (a, b) => a + b;

const LIMIT = 10;
`)
	syms, err := env.store.SymbolsByFile(fileID)
	require.NoError(t, err)

	assert.NotNil(t, findSymbol(syms, store.KindFunction, "compute"))
	assert.NotNil(t, findSymbol(syms, store.KindVariable, "LIMIT"))
}

func TestJSExtract_ImportsAnchorModuleSymbol(t *testing.T) {
	env := newTestEnv(t)
	fileID := env.extractSource("javascript", "src/app.js", `import { helper } from "./util.js";
import fs from "fs";

function main() {
  helper();
}
`)
	syms, err := env.store.SymbolsByFile(fileID)
	require.NoError(t, err)

	mod := findSymbol(syms, store.KindModule, "app")
	require.NotNil(t, mod)

	edges, err := env.store.EdgesFrom(mod.SymbolID)
	require.NoError(t, err)

	targets := map[string]bool{}
	for _, e := range edges {
		require.Equal(t, store.EdgeImport, e.Type)
		targets[e.ToSymbolID] = true
	}
	assert.Contains(t, targets, "unresolved:./util.js")
	assert.Contains(t, targets, "unresolved:fs")
}

func TestJSExtract_NewExpressionEdge(t *testing.T) {
	env := newTestEnv(t)
	fileID := env.extractSource("javascript", "new.js", `class Widget {}

function build() {
  return new Widget();
}
`)
	syms, err := env.store.SymbolsByFile(fileID)
	require.NoError(t, err)

	build := findSymbol(syms, store.KindFunction, "build")
	widget := findSymbol(syms, store.KindClass, "Widget")
	require.NotNil(t, build)
	require.NotNil(t, widget)

	edges, err := env.store.EdgesFrom(build.SymbolID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, widget.SymbolID, edges[0].ToSymbolID)
	assert.Equal(t, store.EdgeCall, edges[0].Type)
}

func TestJSExtract_MethodCallOnMemberExpression(t *testing.T) {
	env := newTestEnv(t)
	fileID := env.extractSource("javascript", "mem.js", `function run(client) {
  client.connect();
}
`)
	syms, err := env.store.SymbolsByFile(fileID)
	require.NoError(t, err)
	run := findSymbol(syms, store.KindFunction, "run")
	require.NotNil(t, run)

	edges, err := env.store.EdgesFrom(run.SymbolID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "unresolved:connect", edges[0].ToSymbolID)
}
