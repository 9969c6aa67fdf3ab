package sdl

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sdlhq/sdl/internal/lang"
	"github.com/sdlhq/sdl/internal/store"
)

func marshalConfig(cfg RepoConfig) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalConfig(configJSON string) (RepoConfig, error) {
	var cfg RepoConfig
	if configJSON == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// RefreshMode selects between a full rescan (prune anything absent) and
// an incremental scan (content-hash comparison only).
type RefreshMode string

const (
	ModeFull        RefreshMode = "full"
	ModeIncremental RefreshMode = "incremental"
)

var repoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Engine orchestrates the Indexer: file discovery, change detection,
// extraction and resolution via per-language Risor scripts, and version
// finalization. It owns the one primary Store write handle; readers get
// their own connections and never block it.
type Engine struct {
	store      *store.Store
	scriptsDir string
	scriptsFS  fs.FS
	logger     *zap.Logger
	languages  map[string]bool // nil means "all languages"

	useParallel bool

	sliceCache  *lru.Cache[string, *GraphSlice]
	sliceTTL    time.Duration
	diagnostics DiagnosticsProvider
	diagTimeout time.Duration
	policy      PolicyFunc

	sweepStop chan struct{}
	sweepDone chan struct{}

	// blastRadius accumulates file IDs touched by the in-flight refresh,
	// consumed by the incremental metrics update. nil means "recompute
	// everything". Resolve does not read it; it always runs over the
	// whole repo.
	blastRadius map[int64]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLanguages restricts which languages the Engine will process.
func WithLanguages(languages ...string) Option {
	return func(e *Engine) {
		e.languages = make(map[string]bool, len(languages))
		for _, l := range languages {
			e.languages[l] = true
		}
	}
}

// WithParallel controls the parallel extraction pipeline (engine_parallel.go).
// Enabled by default; disable for deterministic single-threaded tests.
func WithParallel(parallel bool) Option {
	return func(e *Engine) { e.useParallel = parallel }
}

// WithScriptsFS loads Risor scripts from an embedded fs.FS instead of a
// directory on disk.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) { e.scriptsFS = fsys }
}

// WithLogger injects a *zap.Logger for the Engine and the scripts it runs.
// Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSliceTTL overrides the lease duration for slice and spillover
// handles.
func WithSliceTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.sliceTTL = ttl }
}

// WithDiagnosticTimeout overrides the deadline applied to external
// diagnostics lookups during delta.get.
func WithDiagnosticTimeout(d time.Duration) Option {
	return func(e *Engine) { e.diagTimeout = d }
}

// New creates an Engine backed by a SQLite database at dbPath.
func New(dbPath string, scriptsDir string, opts ...Option) (*Engine, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}

	cache, err := lru.New[string, *GraphSlice](sliceCacheSize)
	if err != nil {
		s.Close()
		return nil, &StorageError{Op: "sliceCache", Err: err}
	}

	e := &Engine{
		store:       s,
		scriptsDir:  scriptsDir,
		useParallel: true,
		logger:      zap.NewNop(),
		sliceCache:  cache,
		sweepStop:   make(chan struct{}),
		sweepDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.sweepHandles()
	return e, nil
}

// sweepHandles periodically deletes expired slice and spillover handles
// until Close.
func (e *Engine) sweepHandles() {
	defer close(e.sweepDone)
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n, err := e.store.SweepExpiredSliceHandles(time.Now()); err != nil {
				e.logger.Warn("handle sweep failed", zap.Error(err))
			} else if n > 0 {
				e.logger.Info("swept expired handles", zap.Int64("count", n))
			}
		case <-e.sweepStop:
			return
		}
	}
}

// Close stops the handle sweeper and releases the Engine's database
// resources. The shutdown path awaits in-flight operations before
// calling Close.
func (e *Engine) Close() error {
	close(e.sweepStop)
	<-e.sweepDone
	e.sliceCache.Purge()
	return e.store.Close()
}

// Store returns the underlying Store for direct access by the CLI and
// other package files (version.go, graph.go, delta.go, slice.go, skeleton.go).
func (e *Engine) Store() *store.Store { return e.store }

func (e *Engine) newRuntime(data store.DataStore) *lang.Runtime {
	var opts []lang.RuntimeOption
	if e.scriptsFS != nil {
		opts = append(opts, lang.WithRuntimeFS(e.scriptsFS))
	}
	opts = append(opts, lang.WithLogger(e.logger))
	return lang.NewRuntime(data, e.scriptsDir, opts...)
}

// --- repo.register / repo.status -----------------------------------------

// RegisterRepo validates and records a new repo. Re-registering an
// existing repoId updates its rootPath/config in place.
func (e *Engine) RegisterRepo(repoID, rootPath string, cfg RepoConfig) error {
	if !repoIDPattern.MatchString(repoID) {
		return &ConfigError{Field: "repoId", Message: "must match [A-Za-z0-9_-]{1,128}"}
	}
	norm, err := NormalizePath(rootPath)
	if err != nil {
		return err
	}
	info, statErr := os.Stat(norm)
	if statErr != nil || !info.IsDir() {
		return &ConfigError{Field: "rootPath", Message: "path-not-found"}
	}
	if cfg.MaxFileBytes == 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}

	configJSON, err := marshalConfig(cfg)
	if err != nil {
		return &ConfigError{Field: "config", Message: err.Error()}
	}

	if err := e.store.InsertRepo(&store.Repo{RepoID: repoID, RootPath: norm, ConfigJSON: configJSON}); err != nil {
		return &StorageError{Op: "InsertRepo", Err: err}
	}
	return nil
}

// resolveLanguages merges the Engine-wide language filter (WithLanguages)
// with a repo's own RepoConfig.Languages. The repo's list wins when set;
// nil means "no restriction".
func (e *Engine) resolveLanguages(cfgLanguages []string) map[string]bool {
	if len(cfgLanguages) > 0 {
		set := make(map[string]bool, len(cfgLanguages))
		for _, l := range cfgLanguages {
			set[l] = true
		}
		return set
	}
	return e.languages
}

// RepoStatus reports operational health for a registered repo, exposed
// via repo.status.
type RepoStatus struct {
	RootPath        string
	LatestVersionID string
	FilesIndexed    int
	SymbolsIndexed  int
	HealthScore     float64
	Components      map[string]string
}

// Status returns a repo's current indexing state.
func (e *Engine) Status(repoID string) (*RepoStatus, error) {
	repo, err := e.store.RepoByID(repoID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, &NotFoundError{Kind: "repo", ID: repoID}
		}
		return nil, &StorageError{Op: "RepoByID", Err: err}
	}

	files, err := e.store.FilesByRepo(repoID)
	if err != nil {
		return nil, &StorageError{Op: "FilesByRepo", Err: err}
	}

	var symbolCount int
	for _, f := range files {
		syms, err := e.store.SymbolsByFile(f.ID)
		if err != nil {
			return nil, &StorageError{Op: "SymbolsByFile", Err: err}
		}
		symbolCount += len(syms)
	}

	var latestVersionID string
	components := map[string]string{"storage": "ok"}
	if v, err := e.store.LatestVersion(repoID); err == nil {
		latestVersionID = v.VersionID
		components["ledger"] = "ok"
	} else if err == store.ErrNotFound {
		components["ledger"] = "unindexed"
	} else {
		components["ledger"] = "error"
	}

	health := 1.0
	if components["ledger"] == "unindexed" {
		health = 0.5
	}

	return &RepoStatus{
		RootPath:        repo.RootPath,
		LatestVersionID: latestVersionID,
		FilesIndexed:    len(files),
		SymbolsIndexed:  symbolCount,
		HealthScore:     health,
		Components:      components,
	}, nil
}

// --- index.refresh ---------------------------------------------------------

// Refresh performs a full or incremental reindex of a registered repo:
// discover files, extract changed ones, resolve cross-file edges, update
// metrics, and finalize a new Version. Any single-file failure is logged
// and skipped (IndexError) — the version is still created.
func (e *Engine) Refresh(ctx context.Context, repoID string, mode RefreshMode, reason string) (versionID string, changedFiles int, err error) {
	repo, err := e.store.RepoByID(repoID)
	if err != nil {
		if err == store.ErrNotFound {
			return "", 0, &NotFoundError{Kind: "repo", ID: repoID}
		}
		return "", 0, &StorageError{Op: "RepoByID", Err: err}
	}

	cfg, _ := unmarshalConfig(repo.ConfigJSON)

	paths, err := e.discoverFiles(repo.RootPath, cfg)
	if err != nil {
		return "", 0, &ConfigError{Field: "rootPath", Message: err.Error()}
	}

	if mode == ModeFull {
		if err := e.pruneMissing(repoID, repo.RootPath, paths); err != nil {
			return "", 0, &StorageError{Op: "pruneMissing", Err: err}
		}
	}

	languages := e.resolveLanguages(cfg.Languages)

	e.blastRadius = make(map[int64]bool)
	changedFiles, err = e.indexPaths(ctx, repoID, repo.RootPath, paths, languages)
	if err != nil {
		e.logger.Warn("refresh: indexing had errors", zap.Error(err))
	}

	if err := e.Resolve(ctx, repoID); err != nil {
		e.logger.Warn("refresh: resolve had errors", zap.Error(err))
	}

	if err := e.updateMetrics(repoID, mode); err != nil {
		e.logger.Warn("refresh: metrics update failed", zap.Error(err))
	}

	versionID, verr := e.finalizeVersion(repoID, reason)
	if verr != nil {
		return "", changedFiles, &StorageError{Op: "finalizeVersion", Err: verr}
	}

	e.invalidateSliceCache(repoID)
	e.recordAdaptersHash()
	e.blastRadius = nil
	return versionID, changedFiles, nil
}

// indexPaths runs the (possibly parallel) extraction pipeline over paths
// relative to root, returning the count of files actually re-extracted.
func (e *Engine) indexPaths(ctx context.Context, repoID, root string, paths []string, languages map[string]bool) (int, error) {
	if e.useParallel {
		return e.indexFilesParallel(ctx, repoID, root, paths, languages)
	}
	return e.indexFilesSerial(ctx, repoID, root, paths, languages)
}

func (e *Engine) indexFilesSerial(ctx context.Context, repoID, root string, paths []string, languages map[string]bool) (int, error) {
	var errs []error
	changed := 0
	for _, absPath := range paths {
		did, err := e.indexFile(ctx, repoID, root, absPath, languages)
		if err != nil {
			errs = append(errs, &IndexError{Path: absPath, Err: err})
			e.logger.Warn("index: file failed, skipping", zap.String("path", absPath), zap.Error(err))
			continue
		}
		if did {
			changed++
		}
	}
	if len(errs) > 0 {
		return changed, fmt.Errorf("indexing had %d error(s): %w", len(errs), errs[0])
	}
	return changed, nil
}

func (e *Engine) indexFile(ctx context.Context, repoID, root, absPath string, languages map[string]bool) (bool, error) {
	relPath := toRelSlash(root, absPath)
	language, ok := lang.LanguageForFile(absPath)
	if !ok {
		return false, nil
	}
	if languages != nil && !languages[language] {
		return false, nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return false, fmt.Errorf("read file: %w", err)
	}
	hash := fmt.Sprintf("%x", sha256.Sum256(content))

	existing, err := e.store.FileByPath(repoID, relPath)
	if err != nil && err != store.ErrNotFound {
		return false, fmt.Errorf("lookup file: %w", err)
	}
	if existing != nil && existing.ContentHash == hash {
		return false, nil
	}

	var oldSymbolIDs []string
	if existing != nil {
		oldSyms, err := e.store.SymbolsByFile(existing.ID)
		if err != nil {
			return false, fmt.Errorf("capture old symbols: %w", err)
		}
		for _, s := range oldSyms {
			oldSymbolIDs = append(oldSymbolIDs, s.SymbolID)
		}
		if err := e.store.DeleteFileData(existing.ID); err != nil {
			return false, fmt.Errorf("delete old data: %w", err)
		}
	}

	fileID, err := e.store.InsertFile(&store.File{
		RepoID:      repoID,
		RelPath:     relPath,
		Language:    language,
		ContentHash: hash,
		ByteSize:    int64(len(content)),
	})
	if err != nil {
		return false, fmt.Errorf("insert file: %w", err)
	}

	rt := e.newRuntime(e.store)
	extras := e.scriptExtras(repoID, absPath, relPath, fileID, language)
	scriptPath := lang.ExtractionScriptPath(language)
	if err := rt.RunScript(ctx, scriptPath, extras); err != nil {
		return false, fmt.Errorf("extraction script: %w", err)
	}

	e.recordBlastRadius(fileID, oldSymbolIDs)
	return true, nil
}

// scriptExtras builds the globals every extraction/resolution script gets
// beyond the standard parse/query/insert_* set: file identity plus a
// symbol_id builder closed over this file's repo-relative path, so scripts
// never construct the opaque id format themselves.
func (e *Engine) scriptExtras(repoID, absPath, relPath string, fileID int64, language string) map[string]any {
	return map[string]any{
		"repo_id":           repoID,
		"file_path":         absPath,
		"rel_path":          relPath,
		"file_id":           fileID,
		"language":          language,
		"build_symbol_id":   lang.MakeBuildSymbolIDFn(relPath),
		"unresolved_target": lang.MakeUnresolvedTargetFn(),
		"qualified_name":    lang.MakeQualifiedNameFn(),
	}
}

// recordBlastRadius marks fileID (always) plus every file that referenced
// one of the symbols this reindex just removed or superseded, so the
// incremental metrics update touches exactly the affected set.
func (e *Engine) recordBlastRadius(fileID int64, oldSymbolIDs []string) {
	e.blastRadius[fileID] = true
	if len(oldSymbolIDs) == 0 {
		return
	}
	rev, err := e.store.BulkReverseNeighbors(oldSymbolIDs)
	if err != nil {
		return
	}
	for _, froms := range rev {
		for _, fromSym := range froms {
			sym, err := e.store.SymbolByID(fromSym)
			if err == nil {
				e.blastRadius[sym.FileID] = true
			}
		}
	}
}

// Resolve runs each language's resolution script once per repo, binding
// cross-file call/import targets that extraction left as unresolved:
// sentinels. One script invocation per language, fanned out in parallel
// via errgroup since each language's script only touches its own
// symbols and edges.
func (e *Engine) Resolve(ctx context.Context, repoID string) error {
	files, err := e.store.FilesByRepo(repoID)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	languages := map[string]bool{}
	for _, f := range files {
		languages[f.Language] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	for language := range languages {
		language := language
		g.Go(func() error {
			rt := e.newRuntime(e.store)
			extras := map[string]any{
				"repo_id":            repoID,
				"language":           language,
				"unresolved_edges":   lang.MakeUnresolvedEdgesFn(e.store),
				"update_edge_target": lang.MakeUpdateEdgeTargetFn(e.store),
				"unresolved_target":  lang.MakeUnresolvedTargetFn(),
			}
			scriptPath := lang.ResolutionScriptPath(language)
			if err := rt.RunScript(gctx, scriptPath, extras); err != nil {
				return fmt.Errorf("resolution script for %s: %w", language, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// --- discovery ---------------------------------------------------------

var defaultSkipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// discoverFiles lists candidate source files under root: git-aware when
// root is a git work tree, falling back to a filesystem walk. Results are
// filtered to supported languages and the repo's ignore patterns.
func (e *Engine) discoverFiles(root string, cfg RepoConfig) ([]string, error) {
	paths, err := e.gitListFiles(root)
	if err != nil {
		paths, err = e.walkListFiles(root)
		if err != nil {
			return nil, err
		}
	}
	if len(cfg.Ignore) == 0 {
		return paths, nil
	}
	var out []string
	for _, p := range paths {
		rel := toRelSlash(root, p)
		if matchesAny(cfg.Ignore, rel) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func matchesAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, rel); ok {
			return true
		}
		for _, seg := range strings.Split(rel, "/") {
			if ok, _ := filepath.Match(pat, seg); ok {
				return true
			}
		}
	}
	return false
}

func (e *Engine) gitListFiles(root string) ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		absPath := filepath.Join(root, line)
		if _, ok := lang.LanguageForFile(absPath); ok {
			paths = append(paths, absPath)
		}
	}
	return paths, nil
}

func (e *Engine) walkListFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") || defaultSkipDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := lang.LanguageForFile(path); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}

// pruneMissing deletes File rows (and cascading symbols/edges/metrics)
// for files the scanner no longer observes.
func (e *Engine) pruneMissing(repoID, root string, presentAbs []string) error {
	present := make(map[string]bool, len(presentAbs))
	for _, p := range presentAbs {
		present[toRelSlash(root, p)] = true
	}
	stored, err := e.store.FilesByRepo(repoID)
	if err != nil {
		return err
	}
	for _, f := range stored {
		if !present[f.RelPath] {
			if err := e.store.DeleteFileData(f.ID); err != nil {
				return fmt.Errorf("prune %s: %w", f.RelPath, err)
			}
			e.blastRadius = nil // signal "recompute everything" on prune
		}
	}
	return nil
}

// --- symbol.search -----------------------------------------------------

// SymbolSearchResult is one row of a symbol.search response.
type SymbolSearchResult struct {
	SymbolID string
	Name     string
	File     string
	Kind     string
}

// SearchSymbols performs a bounded substring search over symbol names
// within a repo, exact-name matches tie-broken by kind specificity (S3).
func (e *Engine) SearchSymbols(repoID, query string, limit int) ([]SymbolSearchResult, error) {
	syms, err := e.store.SearchSymbols(repoID, query, limit)
	if err != nil {
		return nil, &StorageError{Op: "SearchSymbols", Err: err}
	}

	sortSymbolsByRelevance(syms, query)

	out := make([]SymbolSearchResult, 0, len(syms))
	for _, s := range syms {
		f, err := e.store.FileByID(s.FileID)
		path := ""
		if err == nil {
			path = f.RelPath
		}
		out = append(out, SymbolSearchResult{SymbolID: s.SymbolID, Name: s.Name, File: path, Kind: s.Kind})
	}
	return out, nil
}

func sortSymbolsByRelevance(syms []*store.Symbol, query string) {
	q := strings.ToLower(query)
	rank := func(s *store.Symbol) int {
		if strings.ToLower(s.Name) == q {
			return 0
		}
		return 1
	}
	for i := 1; i < len(syms); i++ {
		j := i
		for j > 0 {
			a, b := syms[j-1], syms[j]
			ra, rb := rank(a), rank(b)
			less := ra < rb
			if ra == rb {
				less = kindSpecificityRank(a.Kind) <= kindSpecificityRank(b.Kind)
			}
			if less {
				break
			}
			syms[j-1], syms[j] = syms[j], syms[j-1]
			j--
		}
	}
}

// kindSpecificityRank mirrors the Slice Engine's symbolKindSpecificity
// ordering so search tie-breaking agrees with slice scoring.
func kindSpecificityRank(kind string) int {
	switch kind {
	case store.KindClass:
		return 0
	case store.KindFunction:
		return 1
	case store.KindMethod:
		return 2
	case store.KindInterface:
		return 3
	case store.KindType:
		return 4
	case store.KindConstructor:
		return 5
	case store.KindModule:
		return 6
	case store.KindVariable:
		return 7
	default:
		return 8
	}
}

// --- path helpers --------------------------------------------------------

// NormalizePath forward-slash-normalizes a path: Windows backslashes
// are accepted and converted; "~" and ".." traversal are rejected.
func NormalizePath(p string) (string, error) {
	if strings.Contains(p, "~") {
		return "", &ConfigError{Field: "path", Message: "path-traversal"}
	}
	slashed := strings.ReplaceAll(p, `\`, `/`)
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", &ConfigError{Field: "path", Message: "path-traversal"}
		}
	}
	clean := filepath.Clean(slashed)
	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", &ConfigError{Field: "path", Message: "path-not-found"}
	}
	return abs, nil
}

func toRelSlash(root, absPath string) string {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		rel = absPath
	}
	return filepath.ToSlash(rel)
}
