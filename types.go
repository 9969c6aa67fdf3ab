package sdl

import "github.com/sdlhq/sdl/internal/store"

// Public type aliases over internal/store types. These are Go type
// aliases (=) — identical to the internal types at compile time — so
// external consumers of the package work with the storage data model
// directly without a conversion layer.

type (
	Repo               = store.Repo
	File               = store.File
	Symbol             = store.Symbol
	Edge               = store.Edge
	Version            = store.Version
	SymbolVersion      = store.SymbolVersion
	Metrics            = store.Metrics
	SliceHandle        = store.SliceHandle
	SpilloverItem      = store.SpilloverItem
	Blob               = store.Blob
	AuditEntry         = store.AuditEntry
	DirectoryAggregate = store.DirectoryAggregate
	HotspotSymbol      = store.HotspotSymbol
)

// Symbol kind and edge type constants, re-exported for callers that build
// requests against this package without importing internal/store.
const (
	KindFunction    = store.KindFunction
	KindMethod      = store.KindMethod
	KindConstructor = store.KindConstructor
	KindClass       = store.KindClass
	KindInterface   = store.KindInterface
	KindType        = store.KindType
	KindModule      = store.KindModule
	KindVariable    = store.KindVariable

	EdgeCall   = store.EdgeCall
	EdgeImport = store.EdgeImport
	EdgeConfig = store.EdgeConfig
)

// RepoConfig is the caller-supplied configuration accepted by
// repo.register. It round-trips verbatim through the repos.config_json
// column; config file parsing and discovery live with the caller, so an
// opaque JSON-serializable shape is all that's needed here.
type RepoConfig struct {
	Ignore       []string `json:"ignore,omitempty"`
	Languages    []string `json:"languages,omitempty"`
	MaxFileBytes int64    `json:"maxFileBytes,omitempty"`
}

// DefaultMaxFileBytes bounds the size of any single file the
// skeleton/window extractors will operate on, and is the default applied
// to a newly registered repo when RepoConfig.MaxFileBytes is zero.
const DefaultMaxFileBytes = 1 << 20 // 1 MiB
