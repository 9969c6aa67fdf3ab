package lang

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
	"go.uber.org/zap"

	"github.com/sdlhq/sdl/internal/store"
)

// Runtime embeds a Risor VM and provides tree-sitter host functions plus
// DataStore access to extraction and resolution scripts.
type Runtime struct {
	data       store.DataStore
	scriptsDir string
	fsys       fs.FS
	sources    *sourceStore
	logger     *zap.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load scripts from an fs.FS
// instead of from disk, and wires the Risor importer to FSImporter for
// import-statement resolution between scripts.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) { r.fsys = fsys }
}

// WithLogger injects a *zap.Logger for the runtime's "log" host function
// and internal diagnostics. Defaults to zap.NewNop() when omitted.
func WithLogger(logger *zap.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = logger }
}

// NewRuntime creates a Runtime wired to the given DataStore (a *store.Store
// for direct writes, or a *store.BatchedStore under the parallel
// extraction pipeline) and scripts directory.
func NewRuntime(data store.DataStore, scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		data:       data,
		scriptsDir: scriptsDir,
		sources:    newSourceStore(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) error {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	return r.eval(ctx, src, scriptPath, extraGlobals)
}

// RunSource executes Risor source code directly — useful for testing
// extraction logic without script files on disk.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) error {
	return r.eval(ctx, source, "<inline>", extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) error {
	globals := r.buildGlobals(extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	_, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return fmt.Errorf("lang: script %s: %w", label, err)
	}
	return nil
}

func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}
	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file and returns its source code, from the
// embedded fs.FS when configured, otherwise from scriptsDir on disk.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("lang: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("lang: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// ExtractionScriptPath returns the path to a language's extraction script.
func ExtractionScriptPath(language string) string {
	return filepath.Join("extract", language+".risor")
}

// ResolutionScriptPath returns the path to a language's resolution script.
func ResolutionScriptPath(language string) string {
	return filepath.Join("resolve", language+".risor")
}

// buildGlobals constructs the full set of globals exposed to Risor scripts.
func (r *Runtime) buildGlobals(extra map[string]any) map[string]any {
	globals := map[string]any{
		"parse":       makeParseFn(r.sources),
		"parse_src":   makeParseSrcFn(r.sources),
		"node_text":   makeNodeTextFn(r.sources),
		"node_child":  makeNodeChildFn(),
		"query":       makeQueryFn(r.sources),
		"fingerprint": makeFingerprintFn(),
		"log":         mustProxy(&logObject{logger: r.logger}),
	}

	if r.data != nil {
		globals["insert_symbol"] = makeInsertSymbolFn(r.data)
		globals["insert_edge"] = makeInsertEdgeFn(r.data)
		globals["symbols_by_name"] = makeSymbolsByNameFn(r.data)
		globals["symbols_by_file"] = makeSymbolsByFileFn(r.data)
	}

	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("lang: proxy error: %v", err))
	}
	return p
}
