// Package sdl implements the Symbol Delta Ledger: a persistent,
// versioned, language-aware code-knowledge store that serves a
// budgeted, ranked slice of a repository to LLM agents instead of raw
// files.
//
// # Pipeline
//
// SDL operates in four coupled stages, leaves first:
//
//  1. Indexer (Engine.Refresh): walks a repository, picks a language
//     adapter per extension, hashes file contents, and runs that
//     language's Risor extraction script to populate symbols and edges
//     for changed files only.
//  2. Resolve (Engine.Resolve): runs each language's resolution script
//     against the current symbol table, binding cross-file calls and
//     imports — emitting unresolved: sentinel edges for anything it
//     can't bind.
//  3. Version Ledger (Engine.CreateVersion): snapshots the live symbol
//     set and computes a deterministic, content-addressed version hash
//     chained to its parent.
//  4. Slice Engine and Delta Governor (BuildSlice, Delta): a budgeted,
//     ranked graph traversal from task-derived seeds, and a
//     dependency-neighbourhood blast-radius walk between two versions.
//
// # Usage
//
//	e, err := sdl.New("sdl.db", "path/to/scripts")
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	versionID, _, err := e.Refresh(ctx, repoID, ModeFull, "initial index")
//
//	slice, err := e.BuildSlice(ctx, SliceRequest{
//		RepoID:   repoID,
//		TaskText: "fix the timeout in the retry loop",
//		Budget:   Budget{MaxCards: 20, MaxEstimatedTokens: 8000},
//	})
//
// # Scripts
//
// Language-specific extraction/resolution logic lives in Risor scripts
// under scripts/extract and scripts/resolve, run by the embedded
// runtime in internal/lang against tree-sitter parse trees. See
// internal/lang for the full set of host functions exposed to scripts.
package sdl
