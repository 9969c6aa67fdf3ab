package sdl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdlhq/sdl/internal/store"
)

func sv(id, fingerprint, sig string) *store.SymbolVersion {
	return &store.SymbolVersion{
		SymbolID:        id,
		ASTFingerprint:  fingerprint,
		SignatureJSON:   sig,
		InvariantsJSON:  "[]",
		SideEffectsJSON: "[]",
	}
}

func TestDiffSnapshots(t *testing.T) {
	t.Parallel()

	from := map[string]*store.SymbolVersion{
		"kept":    sv("kept", "f1", `{"raw":"a"}`),
		"gone":    sv("gone", "f2", `{"raw":"b"}`),
		"changed": sv("changed", "f3", `{"raw":"old"}`),
	}
	to := map[string]*store.SymbolVersion{
		"kept":    sv("kept", "f1", `{"raw":"a"}`),
		"changed": sv("changed", "f3-new", `{"raw":"new"}`),
		"fresh":   sv("fresh", "f4", `{"raw":"c"}`),
	}

	out := diffSnapshots(from, to)
	require.Len(t, out, 3)

	byID := map[string]ChangedSymbol{}
	for _, c := range out {
		byID[c.SymbolID] = c
	}

	assert.Equal(t, "added", byID["fresh"].ChangeType)
	assert.Equal(t, "removed", byID["gone"].ChangeType)

	mod := byID["changed"]
	assert.Equal(t, "modified", mod.ChangeType)
	require.NotNil(t, mod.Signature)
	assert.True(t, mod.Signature.Changed)
	assert.Equal(t, `{"raw":"old"}`, mod.Signature.Before)
	assert.Equal(t, `{"raw":"new"}`, mod.Signature.After)
	assert.False(t, mod.InterfaceStable)
	assert.True(t, mod.SideEffectsStable)
	assert.Greater(t, mod.RiskScore, 0.0)
	assert.LessOrEqual(t, mod.RiskScore, 1.0)

	// Removals carry more risk than additions.
	assert.Greater(t, byID["gone"].RiskScore, byID["fresh"].RiskScore)
}

func TestDiffSnapshots_BodyOnlyChangeKeepsInterfaceStable(t *testing.T) {
	t.Parallel()
	from := map[string]*store.SymbolVersion{"s": sv("s", "f-old", `{"raw":"same"}`)}
	to := map[string]*store.SymbolVersion{"s": sv("s", "f-new", `{"raw":"same"}`)}

	out := diffSnapshots(from, to)
	require.Len(t, out, 1)
	assert.True(t, out[0].InterfaceStable)
	assert.True(t, out[0].SideEffectsStable)

	stableRisk := out[0].RiskScore
	to2 := map[string]*store.SymbolVersion{"s": sv("s", "f-new", `{"raw":"different"}`)}
	out2 := diffSnapshots(from, to2)
	require.Len(t, out2, 1)
	assert.Greater(t, out2[0].RiskScore, stableRisk, "interface breaks raise risk")
}

func TestBlastRadius_DistancesAndSignals(t *testing.T) {
	fx := newGraphFixture(t)
	require.NoError(t, fx.e.updateMetrics("r", ModeFull))
	g, err := fx.e.LoadGraph("r")
	require.NoError(t, err)

	// shared changed: helper is its direct dependent, caller and the
	// test are one more hop out.
	items, warnings := blastRadius(g, []string{fx.shared}, 3)
	assert.Empty(t, warnings)

	byID := map[string]BlastItem{}
	for _, it := range items {
		byID[it.SymbolID] = it
	}
	require.Contains(t, byID, fx.helper)
	require.Contains(t, byID, fx.caller)
	require.Contains(t, byID, fx.tests)

	assert.Equal(t, 0, byID[fx.helper].Distance)
	assert.Equal(t, SignalDirectDependent, byID[fx.helper].Signal)
	assert.Equal(t, PriorityMust, byID[fx.helper].Priority)

	assert.Equal(t, 1, byID[fx.caller].Distance)
	assert.Equal(t, SignalGraph, byID[fx.caller].Signal)
	assert.Equal(t, PriorityShould, byID[fx.caller].Priority)

	// Test files earn the testProximity bonus at equal distance.
	assert.Greater(t, byID[fx.tests].Rank, byID[fx.caller].Rank)

	// Sorted by rank descending.
	for i := 1; i < len(items); i++ {
		assert.GreaterOrEqual(t, items[i-1].Rank, items[i].Rank)
	}
}

func TestBlastRadius_EdgeCases(t *testing.T) {
	fx := newGraphFixture(t)
	g, err := fx.e.LoadGraph("r")
	require.NoError(t, err)

	items, _ := blastRadius(g, []string{fx.shared}, 0)
	assert.Empty(t, items, "maxHops <= 0 yields empty")

	items, _ = blastRadius(g, nil, 3)
	assert.Empty(t, items, "empty change set yields empty")

	items, warnings := blastRadius(g, []string{"sym_missing"}, 3)
	assert.Empty(t, items)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "sym_missing")
}

func TestBlastRadius_Monotonicity(t *testing.T) {
	fx := newGraphFixture(t)
	g, err := fx.e.LoadGraph("r")
	require.NoError(t, err)

	prev := map[string]bool{}
	for hops := 1; hops <= 4; hops++ {
		items, _ := blastRadius(g, []string{fx.shared}, hops)
		cur := map[string]bool{}
		for _, it := range items {
			cur[it.SymbolID] = true
		}
		for id := range prev {
			assert.True(t, cur[id], "increasing maxHops must never drop %s", id)
		}
		prev = cur
	}
}

func TestGovernBudget(t *testing.T) {
	t.Parallel()
	items := []BlastItem{
		{SymbolID: "opt1", Rank: 0.9, Priority: PriorityOptional},
		{SymbolID: "must1", Rank: 0.3, Priority: PriorityMust},
		{SymbolID: "should1", Rank: 0.8, Priority: PriorityShould},
		{SymbolID: "must2", Rank: 0.7, Priority: PriorityMust},
	}
	est := func(BlastItem) int { return 100 }

	kept, dropped := governBudget(items, DeltaBudget{MaxCards: 3, MaxTokens: 1000}, est)
	require.Len(t, kept, 3)
	require.Len(t, dropped, 1)

	// must items first regardless of rank, then should, then optional.
	assert.Equal(t, "must2", kept[0].SymbolID)
	assert.Equal(t, "must1", kept[1].SymbolID)
	assert.Equal(t, "should1", kept[2].SymbolID)
	assert.Equal(t, "opt1", dropped[0].SymbolID)

	// Token budget binds even when the card budget does not.
	kept, dropped = governBudget(items, DeltaBudget{MaxCards: 10, MaxTokens: 250}, est)
	assert.Len(t, kept, 2)
	assert.Len(t, dropped, 2)
}

// fakeDiagnostics returns canned suspects, optionally after a delay.
type fakeDiagnostics struct {
	suspects []DiagnosticSuspect
	delay    time.Duration
}

func (f *fakeDiagnostics) Suspects(ctx context.Context, repoID, fromVersion, toVersion string) ([]DiagnosticSuspect, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.suspects, nil
}

func insertVersionPair(t *testing.T, fx *graphFixture) (string, string) {
	t.Helper()
	s := fx.e.Store()

	v1 := &store.Version{VersionID: NewVersionID("r"), RepoID: "r", VersionHash: "h1"}
	require.NoError(t, s.InsertVersion(v1, []*store.SymbolVersion{
		sv(fx.caller, "fc", "{}"), sv(fx.helper, "fh", "{}"), sv(fx.shared, "fs", "{}"),
	}))
	v2 := &store.Version{VersionID: NewVersionID("r"), RepoID: "r", VersionHash: "h2", PrevVersionHash: "h1"}
	require.NoError(t, s.InsertVersion(v2, []*store.SymbolVersion{
		sv(fx.caller, "fc", "{}"), sv(fx.helper, "fh", "{}"), sv(fx.shared, "fs-CHANGED", "{}"),
	}))
	return v1.VersionID, v2.VersionID
}

func TestDelta_EndToEndWithSpillover(t *testing.T) {
	fx := newGraphFixture(t)
	require.NoError(t, fx.e.updateMetrics("r", ModeFull))
	v1, v2 := insertVersionPair(t, fx)

	pack, err := fx.e.Delta(context.Background(), "r", v1, v2, DefaultMaxHops,
		&DeltaBudget{MaxCards: 1})
	require.NoError(t, err)

	require.Len(t, pack.ChangedSymbols, 1)
	assert.Equal(t, fx.shared, pack.ChangedSymbols[0].SymbolID)
	assert.Equal(t, "modified", pack.ChangedSymbols[0].ChangeType)

	require.Len(t, pack.BlastRadius, 1)
	assert.True(t, pack.Trimmed)
	require.NotEmpty(t, pack.SpilloverHandle)

	page, err := fx.e.SpilloverGet(pack.SpilloverHandle, "", 1)
	require.NoError(t, err)
	require.Len(t, page.Symbols, 1)
	assert.True(t, page.HasMore)

	page2, err := fx.e.SpilloverGet(pack.SpilloverHandle, page.Cursor, 10)
	require.NoError(t, err)
	assert.False(t, page2.HasMore)
	assert.NotEmpty(t, page2.Symbols)
}

func TestDelta_UnknownVersion(t *testing.T) {
	fx := newGraphFixture(t)
	_, err := fx.e.Delta(context.Background(), "r", "r-v1", "r-v2", DefaultMaxHops, nil)
	var ne *NotFoundError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "version", ne.Kind)
}

func TestDelta_DiagnosticsMergeAndDedup(t *testing.T) {
	fx := newGraphFixture(t)
	require.NoError(t, fx.e.updateMetrics("r", ModeFull))
	v1, v2 := insertVersionPair(t, fx)

	fx.e.diagnostics = &fakeDiagnostics{suspects: []DiagnosticSuspect{
		{SymbolID: fx.helper, Code: "E042", MessageShort: "type mismatch"},
	}}

	pack, err := fx.e.Delta(context.Background(), "r", v1, v2, DefaultMaxHops, nil)
	require.NoError(t, err)

	require.NotEmpty(t, pack.BlastRadius)
	first := pack.BlastRadius[0]
	assert.Equal(t, fx.helper, first.SymbolID)
	assert.Equal(t, SignalDiagnostic, first.Signal)
	assert.Equal(t, 1.0, first.Rank)
	assert.Equal(t, "E042", first.Code)

	// helper appears exactly once despite also being graph-discovered.
	count := 0
	for _, it := range pack.BlastRadius {
		if it.SymbolID == fx.helper {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestDelta_DiagnosticsTimeoutProceedsWithout(t *testing.T) {
	fx := newGraphFixture(t)
	require.NoError(t, fx.e.updateMetrics("r", ModeFull))
	v1, v2 := insertVersionPair(t, fx)

	fx.e.diagnostics = &fakeDiagnostics{
		suspects: []DiagnosticSuspect{{SymbolID: fx.helper, Code: "SLOW"}},
		delay:    2 * time.Second,
	}
	fx.e.diagTimeout = 50 * time.Millisecond

	start := time.Now()
	pack, err := fx.e.Delta(context.Background(), "r", v1, v2, DefaultMaxHops, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "the deadline must cut the provider off")

	for _, it := range pack.BlastRadius {
		assert.NotEqual(t, SignalDiagnostic, it.Signal)
	}
}
