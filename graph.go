package sdl

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/sdlhq/sdl/internal/store"
)

// Graph is an in-memory adjacency view of one repo's symbols and edges,
// bulk-loaded from Storage so traversals never issue per-hop queries.
// Parallel edges between the same endpoints collapse here with summed
// weight; the edges table itself stays a multigraph. Adjacency lists are
// sorted at build time so iteration order is reproducible across loads.
type Graph struct {
	RepoID  string
	Symbols map[string]*store.Symbol
	Files   map[int64]*store.File

	out     map[string][]*store.Edge
	in      map[string][]*store.Edge
	metrics map[string]*store.Metrics
}

// LoadGraph builds the in-memory graph for a repo from its current
// stored state. The load observes one consistent snapshot: all three
// bulk reads happen before any adjacency is built, and the single-writer
// rule means no refresh interleaves mid-load.
func (e *Engine) LoadGraph(repoID string) (*Graph, error) {
	syms, err := e.store.SymbolsByRepo(repoID)
	if err != nil {
		return nil, &StorageError{Op: "SymbolsByRepo", Err: err}
	}
	files, err := e.store.FilesByRepo(repoID)
	if err != nil {
		return nil, &StorageError{Op: "FilesByRepo", Err: err}
	}
	edges, err := e.store.EdgesByRepo(repoID)
	if err != nil {
		return nil, &StorageError{Op: "EdgesByRepo", Err: err}
	}

	g := &Graph{
		RepoID:  repoID,
		Symbols: make(map[string]*store.Symbol, len(syms)),
		Files:   make(map[int64]*store.File, len(files)),
		out:     make(map[string][]*store.Edge),
		in:      make(map[string][]*store.Edge),
		metrics: make(map[string]*store.Metrics),
	}
	ids := make([]string, 0, len(syms))
	for _, s := range syms {
		g.Symbols[s.SymbolID] = s
		ids = append(ids, s.SymbolID)
	}
	for _, f := range files {
		g.Files[f.ID] = f
	}

	// Collapse parallel edges on (from, to, type), summing weight.
	type edgeKey struct{ from, to, typ string }
	collapsed := make(map[edgeKey]*store.Edge, len(edges))
	for _, ed := range edges {
		k := edgeKey{ed.FromSymbolID, ed.ToSymbolID, ed.Type}
		if prev, ok := collapsed[k]; ok {
			prev.Weight += ed.Weight
			continue
		}
		cp := *ed
		collapsed[k] = &cp
	}
	for _, ed := range collapsed {
		g.out[ed.FromSymbolID] = append(g.out[ed.FromSymbolID], ed)
		if !store.IsUnresolved(ed.ToSymbolID) {
			g.in[ed.ToSymbolID] = append(g.in[ed.ToSymbolID], ed)
		}
	}
	for id := range g.out {
		es := g.out[id]
		sort.Slice(es, func(i, j int) bool {
			if es[i].ToSymbolID != es[j].ToSymbolID {
				return es[i].ToSymbolID < es[j].ToSymbolID
			}
			return es[i].Type < es[j].Type
		})
	}
	for id := range g.in {
		es := g.in[id]
		sort.Slice(es, func(i, j int) bool {
			if es[i].FromSymbolID != es[j].FromSymbolID {
				return es[i].FromSymbolID < es[j].FromSymbolID
			}
			return es[i].Type < es[j].Type
		})
	}

	if len(ids) > 0 {
		metrics, err := e.store.MetricsByIDs(ids)
		if err != nil {
			return nil, &StorageError{Op: "MetricsByIDs", Err: err}
		}
		g.metrics = metrics
	}
	return g, nil
}

// Out returns a symbol's outgoing edges in deterministic order. Targets
// may be unresolved: sentinels; callers filter.
func (g *Graph) Out(symbolID string) []*store.Edge { return g.out[symbolID] }

// In returns a symbol's incoming edges in deterministic order.
func (g *Graph) In(symbolID string) []*store.Edge { return g.in[symbolID] }

// FanIn counts resolved edges pointing at a symbol.
func (g *Graph) FanIn(symbolID string) int { return len(g.in[symbolID]) }

// FanOut counts edges leaving a symbol, unresolved targets included.
func (g *Graph) FanOut(symbolID string) int { return len(g.out[symbolID]) }

// Metrics returns the stored metrics row for a symbol, or zero-value
// metrics when none has been computed yet.
func (g *Graph) Metrics(symbolID string) *store.Metrics {
	if m, ok := g.metrics[symbolID]; ok {
		return m
	}
	return &store.Metrics{SymbolID: symbolID, TestRefsJSON: "[]"}
}

// FileOf returns the file a symbol lives in, or nil.
func (g *Graph) FileOf(symbolID string) *store.File {
	sym, ok := g.Symbols[symbolID]
	if !ok {
		return nil
	}
	return g.Files[sym.FileID]
}

// normLog maps a count onto [0,1] logarithmically: 0 stays 0, limit and
// above saturate at 1.
func normLog(x, limit float64) float64 {
	if x <= 0 {
		return 0
	}
	v := math.Log(x+1) / math.Log(limit+1)
	return clamp01(v)
}

// normLinear maps a count onto [0,1] linearly with saturation at limit.
func normLinear(x, limit float64) float64 {
	if x <= 0 || limit <= 0 {
		return 0
	}
	return clamp01(x / limit)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Hotness scores a symbol by how central and how recently-changed it is:
// 0.5·norm_log(fan_in,100) + 0.3·norm_log(fan_out,50) +
// 0.2·norm_linear(churn_30d,20), clamped to [0,1].
func (g *Graph) Hotness(symbolID string) float64 {
	m := g.Metrics(symbolID)
	h := 0.5*normLog(float64(m.FanIn), 100) +
		0.3*normLog(float64(m.FanOut), 50) +
		0.2*normLinear(float64(m.Churn30d), 20)
	return clamp01(h)
}

// isTestPath reports whether a repo-relative path looks like a test
// file across the supported language conventions.
func isTestPath(relPath string) bool {
	p := strings.ToLower(relPath)
	base := p
	if i := strings.LastIndex(p, "/"); i >= 0 {
		base = p[i+1:]
	}
	return strings.HasSuffix(base, "_test.go") ||
		strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.") ||
		strings.HasPrefix(base, "test_") ||
		strings.Contains(p, "/tests/") ||
		strings.HasPrefix(p, "tests/")
}

// IsTestSymbol reports whether a symbol is declared in a test file.
func (g *Graph) IsTestSymbol(symbolID string) bool {
	f := g.FileOf(symbolID)
	return f != nil && isTestPath(f.RelPath)
}

// --- metrics maintenance -------------------------------------------------

// updateMetrics rewrites fan-in/fan-out/test-ref metrics after a refresh.
// Full mode recomputes every symbol; incremental mode restricts the
// rewrite to the affected set — symbols in the changed files plus their
// one-hop graph neighbours. churn_30d is supplied externally and is
// preserved as stored.
func (e *Engine) updateMetrics(repoID string, mode RefreshMode) error {
	g, err := e.LoadGraph(repoID)
	if err != nil {
		return err
	}

	affected := make(map[string]bool)
	if mode == ModeFull || e.blastRadius == nil {
		for id := range g.Symbols {
			affected[id] = true
		}
	} else {
		for id, sym := range g.Symbols {
			if e.blastRadius[sym.FileID] {
				affected[id] = true
			}
		}
		// One-hop neighbours in both directions: their fan counts moved
		// when the changed files' edges were re-emitted. Expand from a
		// snapshot of the changed-file set so this stays exactly one hop.
		base := make([]string, 0, len(affected))
		for id := range affected {
			base = append(base, id)
		}
		for _, id := range base {
			for _, ed := range g.out[id] {
				if !store.IsUnresolved(ed.ToSymbolID) {
					affected[ed.ToSymbolID] = true
				}
			}
			for _, ed := range g.in[id] {
				affected[ed.FromSymbolID] = true
			}
		}
	}

	batch := make([]*store.Metrics, 0, len(affected))
	for id := range affected {
		if _, live := g.Symbols[id]; !live {
			continue
		}
		var testRefs []string
		for _, ed := range g.in[id] {
			if f := g.FileOf(ed.FromSymbolID); f != nil && isTestPath(f.RelPath) {
				testRefs = append(testRefs, f.RelPath)
			}
		}
		sort.Strings(testRefs)
		testRefsJSON, _ := json.Marshal(testRefs)
		if testRefs == nil {
			testRefsJSON = []byte("[]")
		}

		batch = append(batch, &store.Metrics{
			SymbolID:     id,
			FanIn:        g.FanIn(id),
			FanOut:       g.FanOut(id),
			Churn30d:     g.Metrics(id).Churn30d,
			TestRefsJSON: string(testRefsJSON),
		})
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].SymbolID < batch[j].SymbolID })

	return e.store.UpsertMetricsBatch(batch)
}

// --- aggregates ----------------------------------------------------------

// DirectoryTree returns per-directory file/symbol aggregates, computed
// in SQL on read.
func (e *Engine) DirectoryTree(repoID string) ([]*store.DirectoryAggregate, error) {
	return e.store.DirectoryTree(repoID)
}

// TopByFanIn returns the repo's most-depended-upon symbols.
func (e *Engine) TopByFanIn(repoID string, limit int) ([]*store.HotspotSymbol, error) {
	return e.store.TopByFanIn(repoID, limit)
}

// TopByChurn returns the repo's highest-churn symbols.
func (e *Engine) TopByChurn(repoID string, limit int) ([]*store.HotspotSymbol, error) {
	return e.store.TopByChurn(repoID, limit)
}

// LargestFiles returns the repo's biggest files by byte size.
func (e *Engine) LargestFiles(repoID string, limit int) ([]*store.File, error) {
	return e.store.LargestFiles(repoID, limit)
}
