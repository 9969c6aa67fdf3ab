package sdl

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sdlhq/sdl/internal/store"
)

// Defaults for the blast-radius walk and the diagnostics deadline.
const (
	DefaultMaxHops           = 3
	DefaultDiagnosticTimeout = 5 * time.Second
)

// SubDiff is one structured field-level diff on a modified symbol.
type SubDiff struct {
	Changed bool   `json:"changed"`
	Before  string `json:"before,omitempty"`
	After   string `json:"after,omitempty"`
}

// ChangedSymbol is one entry of a version delta's change set.
type ChangedSymbol struct {
	SymbolID   string `json:"symbolId"`
	ChangeType string `json:"changeType"` // "added" | "removed" | "modified"

	Signature   *SubDiff `json:"signature,omitempty"`
	Invariants  *SubDiff `json:"invariants,omitempty"`
	SideEffects *SubDiff `json:"sideEffects,omitempty"`

	InterfaceStable   bool    `json:"interfaceStable"`
	BehaviorStable    bool    `json:"behaviorStable"`
	SideEffectsStable bool    `json:"sideEffectsStable"`
	RiskScore         float64 `json:"riskScore"`
}

// Blast-radius signals and priorities.
const (
	SignalDiagnostic      = "diagnostic"
	SignalDirectDependent = "directDependent"
	SignalGraph           = "graph"

	PriorityMust     = "must"
	PriorityShould   = "should"
	PriorityOptional = "optional"
)

// BlastItem is one symbol reached by the reverse-dependency walk, or a
// diagnostic suspect merged in front of it.
type BlastItem struct {
	SymbolID string  `json:"symbolId"`
	Distance int     `json:"distance"`
	Rank     float64 `json:"rank"`
	Signal   string  `json:"signal"`
	Priority string  `json:"priority"`

	Code         string `json:"code,omitempty"`
	MessageShort string `json:"messageShort,omitempty"`
}

// DeltaBudget caps the governor's output; nil means uncapped.
type DeltaBudget struct {
	MaxCards  int `json:"maxCards"`
	MaxTokens int `json:"maxTokens"`
}

// DeltaPack is the delta.get response: the change set between two
// versions plus the budget-governed blast radius.
type DeltaPack struct {
	RepoID      string `json:"repoId"`
	FromVersion string `json:"fromVersion"`
	ToVersion   string `json:"toVersion"`

	ChangedSymbols  []ChangedSymbol `json:"changedSymbols"`
	BlastRadius     []BlastItem     `json:"blastRadius"`
	Trimmed         bool            `json:"trimmed,omitempty"`
	SpilloverHandle string          `json:"spilloverHandle,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
}

// DiagnosticSuspect is one symbol an external diagnostics producer
// flags as implicated in a change.
type DiagnosticSuspect struct {
	SymbolID     string
	Code         string
	MessageShort string
}

// DiagnosticsProvider supplies external diagnostic evidence for a
// version transition. Implementations must respect the context
// deadline; the governor abandons them when it expires.
type DiagnosticsProvider interface {
	Suspects(ctx context.Context, repoID, fromVersion, toVersion string) ([]DiagnosticSuspect, error)
}

// WithDiagnostics wires an external diagnostics producer into delta.get.
func WithDiagnostics(p DiagnosticsProvider) Option {
	return func(e *Engine) { e.diagnostics = p }
}

// Delta computes the change set between two versions of a repo, walks
// the blast radius (reverse dependents and resolved dependencies) from
// the changed symbols, merges
// diagnostic evidence, and applies the budget cut. Dropped items are
// retained under a spillover handle for paged retrieval.
func (e *Engine) Delta(ctx context.Context, repoID, fromVersion, toVersion string, maxHops int, budget *DeltaBudget) (*DeltaPack, error) {
	if maxHops == 0 {
		maxHops = DefaultMaxHops
	}

	from, err := e.snapshotMap(fromVersion)
	if err != nil {
		return nil, err
	}
	to, err := e.snapshotMap(toVersion)
	if err != nil {
		return nil, err
	}

	changed := diffSnapshots(from, to)

	pack := &DeltaPack{
		RepoID:         repoID,
		FromVersion:    fromVersion,
		ToVersion:      toVersion,
		ChangedSymbols: changed,
	}
	if len(changed) == 0 {
		return pack, nil
	}

	g, err := e.LoadGraph(repoID)
	if err != nil {
		return nil, err
	}

	seeds := make([]string, 0, len(changed))
	for _, c := range changed {
		seeds = append(seeds, c.SymbolID)
	}
	radius, warnings := blastRadius(g, seeds, maxHops)
	pack.Warnings = warnings

	if e.diagnostics != nil {
		radius = e.mergeDiagnostics(ctx, repoID, fromVersion, toVersion, radius)
	}

	if budget != nil {
		kept, dropped := governBudget(radius, *budget, func(it BlastItem) int {
			if sym, ok := g.Symbols[it.SymbolID]; ok {
				return estimateSymbolTokens(sym)
			}
			return 40
		})
		pack.BlastRadius = kept
		if len(dropped) > 0 {
			pack.Trimmed = true
			handle, err := e.persistSpillover(repoID, fromVersion, toVersion, dropped)
			if err != nil {
				e.logger.Warn("delta: spillover persistence failed", zap.Error(err))
			} else {
				pack.SpilloverHandle = handle
			}
		}
	} else {
		pack.BlastRadius = radius
	}
	return pack, nil
}

// snapshotMap loads a version's per-symbol snapshots keyed by symbol id.
func (e *Engine) snapshotMap(versionID string) (map[string]*store.SymbolVersion, error) {
	if _, err := e.store.VersionByID(versionID); err != nil {
		if err == store.ErrNotFound {
			return nil, &NotFoundError{Kind: "version", ID: versionID}
		}
		return nil, &StorageError{Op: "VersionByID", Err: err}
	}
	snaps, err := e.store.SymbolVersionsByVersion(versionID)
	if err != nil {
		return nil, &StorageError{Op: "SymbolVersionsByVersion", Err: err}
	}
	m := make(map[string]*store.SymbolVersion, len(snaps))
	for _, sv := range snaps {
		m[sv.SymbolID] = sv
	}
	return m, nil
}

// diffSnapshots computes added/removed/modified between two snapshot
// maps, with structured sub-diffs and stability tiers on modifications.
// Output is sorted by (changeType rank, symbol_id) so packs are
// reproducible.
func diffSnapshots(from, to map[string]*store.SymbolVersion) []ChangedSymbol {
	var out []ChangedSymbol

	for id, sy := range to {
		sx, ok := from[id]
		if !ok {
			out = append(out, ChangedSymbol{
				SymbolID:          id,
				ChangeType:        "added",
				InterfaceStable:   false,
				BehaviorStable:    false,
				SideEffectsStable: false,
				RiskScore:         0.3,
			})
			continue
		}
		if sx.ASTFingerprint == sy.ASTFingerprint {
			continue
		}
		cs := ChangedSymbol{
			SymbolID:    id,
			ChangeType:  "modified",
			Signature:   subDiff(sx.SignatureJSON, sy.SignatureJSON),
			Invariants:  subDiff(sx.InvariantsJSON, sy.InvariantsJSON),
			SideEffects: subDiff(sx.SideEffectsJSON, sy.SideEffectsJSON),
		}
		cs.InterfaceStable = !cs.Signature.Changed
		cs.BehaviorStable = !cs.Invariants.Changed && sx.Summary == sy.Summary
		cs.SideEffectsStable = !cs.SideEffects.Changed
		cs.RiskScore = riskScore(cs)
		out = append(out, cs)
	}

	for id := range from {
		if _, ok := to[id]; !ok {
			out = append(out, ChangedSymbol{
				SymbolID:          id,
				ChangeType:        "removed",
				InterfaceStable:   false,
				BehaviorStable:    false,
				SideEffectsStable: false,
				RiskScore:         0.8,
			})
		}
	}

	rank := map[string]int{"removed": 0, "modified": 1, "added": 2}
	sort.Slice(out, func(i, j int) bool {
		if rank[out[i].ChangeType] != rank[out[j].ChangeType] {
			return rank[out[i].ChangeType] < rank[out[j].ChangeType]
		}
		return out[i].SymbolID < out[j].SymbolID
	})
	return out
}

func subDiff(before, after string) *SubDiff {
	if before == after {
		return &SubDiff{Changed: false}
	}
	return &SubDiff{Changed: true, Before: before, After: after}
}

// riskScore derives a [0,1] risk from the stability tiers: interface
// breaks dominate, side-effect drift counts more than a body-only edit.
func riskScore(cs ChangedSymbol) float64 {
	r := 0.2
	if !cs.InterfaceStable {
		r += 0.35
	}
	if !cs.SideEffectsStable {
		r += 0.25
	}
	if !cs.BehaviorStable {
		r += 0.15
	}
	return clamp01(r)
}

// blastRadius BFS-walks the dependency neighbourhood of the changed
// seeds up to maxHops levels: reverse dependents first and foremost,
// plus resolved dependencies — an added symbol has no dependents yet,
// but the symbols it newly references see their fan-in move and belong
// in the radius. Distance 0 is a direct neighbour of a seed. Seeds
// themselves never appear in the output; seeds missing from the graph
// (e.g. removed symbols) are warned about and skipped.
func blastRadius(g *Graph, seeds []string, maxHops int) ([]BlastItem, []string) {
	if maxHops <= 0 || len(seeds) == 0 {
		return nil, nil
	}

	var warnings []string
	visited := make(map[string]bool, len(seeds))
	var frontier []string
	for _, s := range seeds {
		if visited[s] {
			continue
		}
		visited[s] = true
		if _, ok := g.Symbols[s]; !ok {
			warnings = append(warnings, "seed not in graph: "+s)
			continue
		}
		frontier = append(frontier, s)
	}

	var items []BlastItem
	for d := 0; d < maxHops && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			var neighbours []string
			for _, ed := range g.In(id) {
				neighbours = append(neighbours, ed.FromSymbolID)
			}
			for _, ed := range g.Out(id) {
				if !store.IsUnresolved(ed.ToSymbolID) {
					neighbours = append(neighbours, ed.ToSymbolID)
				}
			}
			for _, dep := range neighbours {
				if visited[dep] {
					continue
				}
				visited[dep] = true
				next = append(next, dep)

				nd := 1 - float64(d)/float64(maxHops)
				nf := math.Log(float64(g.Metrics(dep).FanIn)+1) / math.Log(101)
				tp := 0.0
				if g.IsTestSymbol(dep) {
					tp = 1.0
				}
				item := BlastItem{
					SymbolID: dep,
					Distance: d,
					Rank:     clamp01(0.6*nd + 0.3*nf + 0.1*tp),
					Signal:   SignalGraph,
					Priority: PriorityOptional,
				}
				if d == 0 {
					item.Signal = SignalDirectDependent
					item.Priority = PriorityMust
				} else if d == 1 {
					item.Priority = PriorityShould
				}
				items = append(items, item)
			}
		}
		frontier = next
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Rank != items[j].Rank {
			return items[i].Rank > items[j].Rank
		}
		return items[i].SymbolID < items[j].SymbolID
	})
	return items, warnings
}

// mergeDiagnostics prepends external diagnostic suspects (rank 1.0,
// priority must) to the blast radius, deduplicating graph-discovered
// symbols, under the configured deadline. On timeout or error the
// radius is returned unchanged.
func (e *Engine) mergeDiagnostics(ctx context.Context, repoID, fromVersion, toVersion string, radius []BlastItem) []BlastItem {
	timeout := e.diagTimeout
	if timeout <= 0 {
		timeout = DefaultDiagnosticTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		suspects []DiagnosticSuspect
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		suspects, err := e.diagnostics.Suspects(dctx, repoID, fromVersion, toVersion)
		ch <- result{suspects, err}
	}()

	var suspects []DiagnosticSuspect
	select {
	case r := <-ch:
		if r.err != nil {
			e.logger.Warn("delta: diagnostics failed, proceeding without", zap.Error(r.err))
			return radius
		}
		suspects = r.suspects
	case <-dctx.Done():
		e.logger.Warn("delta: diagnostics timed out, proceeding without")
		return radius
	}
	if len(suspects) == 0 {
		return radius
	}

	seen := make(map[string]bool, len(suspects))
	merged := make([]BlastItem, 0, len(suspects)+len(radius))
	for _, s := range suspects {
		if seen[s.SymbolID] {
			continue
		}
		seen[s.SymbolID] = true
		merged = append(merged, BlastItem{
			SymbolID:     s.SymbolID,
			Rank:         1.0,
			Signal:       SignalDiagnostic,
			Priority:     PriorityMust,
			Code:         s.Code,
			MessageShort: s.MessageShort,
		})
	}
	for _, it := range radius {
		if seen[it.SymbolID] {
			continue
		}
		merged = append(merged, it)
	}
	return merged
}

// governBudget applies the priority-tiered cut: items are considered in
// (priority, rank desc, symbol_id) order and kept greedily while both
// the card and token budgets hold. Everything else spills over.
func governBudget(items []BlastItem, budget DeltaBudget, estimate func(BlastItem) int) (kept, dropped []BlastItem) {
	tier := map[string]int{PriorityMust: 0, PriorityShould: 1, PriorityOptional: 2}
	ordered := append([]BlastItem(nil), items...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if tier[ordered[i].Priority] != tier[ordered[j].Priority] {
			return tier[ordered[i].Priority] < tier[ordered[j].Priority]
		}
		if ordered[i].Rank != ordered[j].Rank {
			return ordered[i].Rank > ordered[j].Rank
		}
		return ordered[i].SymbolID < ordered[j].SymbolID
	})

	maxCards := budget.MaxCards
	if maxCards <= 0 {
		maxCards = len(ordered)
	}
	maxTokens := budget.MaxTokens
	if maxTokens <= 0 {
		maxTokens = math.MaxInt
	}

	tokens := 0
	for _, it := range ordered {
		cost := estimate(it)
		if len(kept) < maxCards && tokens+cost <= maxTokens {
			kept = append(kept, it)
			tokens += cost
			continue
		}
		dropped = append(dropped, it)
	}
	return kept, dropped
}

// persistSpillover stores the dropped set under a fresh opaque handle so
// slice.spillover.get can page through it later. The handle shares the
// slice-handle lease table and its periodic sweep.
func (e *Engine) persistSpillover(repoID, fromVersion, toVersion string, dropped []BlastItem) (string, error) {
	handle := newOpaqueHandle()
	items := make([]*store.SpilloverItem, len(dropped))
	for i, it := range dropped {
		items[i] = &store.SpilloverItem{
			SpilloverRef: handle,
			SymbolID:     it.SymbolID,
			Rank:         it.Rank,
			Ordinal:      i,
		}
	}
	if err := e.store.InsertSpilloverItems(handle, items); err != nil {
		return "", err
	}
	now := time.Now()
	err := e.store.InsertSliceHandle(&store.SliceHandle{
		Handle:       handle,
		RepoID:       repoID,
		ExpiresAt:    now.Add(e.handleTTL()),
		MinVersion:   fromVersion,
		MaxVersion:   toVersion,
		SpilloverRef: handle,
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}
