package store

import "time"

// Extraction domain types

// Repo is one registered repository tree.
type Repo struct {
	RepoID     string
	RootPath   string
	ConfigJSON string
	CreatedAt  time.Time
}

// File is one indexed source file within a repo. FileID is a synthetic
// autoincrement surrogate; files are addressed logically by
// (repo_id, rel_path).
type File struct {
	ID            int64
	RepoID        string
	RelPath       string
	Directory     string
	Language      string
	ContentHash   string
	ByteSize      int64
	LastIndexedAt time.Time
}

// Symbol kinds named by the data model.
const (
	KindFunction    = "function"
	KindMethod      = "method"
	KindConstructor = "constructor"
	KindClass       = "class"
	KindInterface   = "interface"
	KindType        = "type"
	KindModule      = "module"
	KindVariable    = "variable"
)

// Symbol is a canonical, language-agnostic code symbol. SymbolID is a
// stable structural path derived from (file, kind, qualified name) that
// survives re-indexing as long as that identity doesn't change.
type Symbol struct {
	SymbolID        string
	RepoID          string
	FileID          int64
	Kind            string
	Name            string
	Exported        bool
	Visibility      string
	Language        string
	StartLine       int
	StartCol        int
	EndLine         int
	EndCol          int
	ASTFingerprint  string
	SignatureJSON   string
	Summary         string
	InvariantsJSON  string
	SideEffectsJSON string
	UpdatedAt       time.Time
}

// Edge types.
const (
	EdgeCall   = "call"
	EdgeImport = "import"
	EdgeConfig = "config"
)

// UnresolvedPrefix marks an edge target that extraction could not bind to
// a concrete symbol. A target carrying this prefix never corresponds to a
// symbols row.
const UnresolvedPrefix = "unresolved:"

// Edge is a directed relationship between two symbols. ToSymbolID may
// carry an UnresolvedPrefix sentinel instead of a real symbol_id.
type Edge struct {
	EdgeID       int64
	RepoID       string
	FromSymbolID string
	ToSymbolID   string
	Type         string
	Weight       float64
	Provenance   string
	CreatedAt    time.Time
}

// Version is one content-addressed snapshot of a repo's symbol state.
type Version struct {
	VersionID       string
	RepoID          string
	CreatedAt       time.Time
	Reason          string
	PrevVersionHash string
	VersionHash     string
}

// SymbolVersion is a per-symbol snapshot tuple captured when a version is
// finalized.
type SymbolVersion struct {
	VersionID       string
	SymbolID        string
	ASTFingerprint  string
	SignatureJSON   string
	Summary         string
	InvariantsJSON  string
	SideEffectsJSON string
}

// Metrics holds derived, incrementally-maintained per-symbol statistics.
type Metrics struct {
	SymbolID     string
	FanIn        int
	FanOut       int
	Churn30d     int
	TestRefsJSON string
	UpdatedAt    time.Time
}

// SliceHandle is an opaque, leased pointer to a previously-built slice.
type SliceHandle struct {
	Handle       string
	RepoID       string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	MinVersion   string
	MaxVersion   string
	SliceHash    string
	SpilloverRef string
}

// SpilloverItem is one symbol dropped during a budget cut, retained under
// a spillover handle for later paged retrieval.
type SpilloverItem struct {
	SpilloverRef string
	SymbolID     string
	Rank         float64
	Ordinal      int
}

// Blob is an immutable, deduplicated content-addressed byte blob — card or
// policy payloads.
type Blob struct {
	Hash string
	Kind string // "card" | "policy"
	Data []byte
}

// AuditEntry is one row of the durable audit log.
type AuditEntry struct {
	ID         int64
	RepoID     string
	Timestamp  time.Time
	Operation  string
	DetailJSON string
}
