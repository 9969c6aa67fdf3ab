package sdl

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sdlhq/sdl/internal/store"
)

// Slice engine defaults.
const (
	DefaultMaxCards           = 20
	DefaultMaxEstimatedTokens = 8000
	DefaultSliceTTL           = time.Hour
	DefaultFrontierSize       = 10

	sliceCacheSize = 64
)

// Budget caps a slice by card count and estimated tokens.
type Budget struct {
	MaxCards           int `json:"maxCards"`
	MaxEstimatedTokens int `json:"maxEstimatedTokens"`
}

func (b Budget) withDefaults() Budget {
	if b.MaxCards <= 0 {
		b.MaxCards = DefaultMaxCards
	}
	if b.MaxEstimatedTokens <= 0 {
		b.MaxEstimatedTokens = DefaultMaxEstimatedTokens
	}
	return b
}

// SliceRequest describes the task a slice is built for.
type SliceRequest struct {
	RepoID          string   `json:"repoId"`
	TaskText        string   `json:"taskText"`
	StackTrace      string   `json:"stackTrace,omitempty"`
	FailingTestPath string   `json:"failingTestPath,omitempty"`
	EditedFiles     []string `json:"editedFiles,omitempty"`
	EntrySymbols    []string `json:"entrySymbols,omitempty"`
	Budget          Budget   `json:"budget"`
}

// Card is a small structured summary of one symbol: identity, range,
// kind, signature, deps, metrics, and the version it was observed at.
type Card struct {
	SymbolID  string          `json:"symbolId"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	File      string          `json:"file"`
	StartLine int             `json:"startLine"`
	EndLine   int             `json:"endLine"`
	Language  string          `json:"language"`
	Exported  bool            `json:"exported"`
	Signature json.RawMessage `json:"signature,omitempty"`
	Summary   string          `json:"summary,omitempty"`

	FanIn   int      `json:"fanIn"`
	FanOut  int      `json:"fanOut"`
	Hotness float64  `json:"hotness"`
	Deps    []string `json:"deps,omitempty"`

	VersionID       string  `json:"versionId"`
	Etag            string  `json:"etag"`
	EstimatedTokens int     `json:"estimatedTokens"`
	Score           float64 `json:"score"`
}

// SliceEdge is one compressed edge of a slice: both endpoints are cards,
// or the target sits in the frontier.
type SliceEdge struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Type   string  `json:"type"`
	Weight float64 `json:"weight"`
}

// FrontierItem is a scored neighbour just outside the budget cut,
// returned so callers can aim a follow-up request.
type FrontierItem struct {
	SymbolID string  `json:"symbolId"`
	Score    float64 `json:"score"`
	Why      string  `json:"why"`
}

// Truncation records that a budget cut occurred and why.
type Truncation struct {
	Truncated bool   `json:"truncated"`
	Reason    string `json:"reason,omitempty"`
}

// GraphSlice is the slice.build payload.
type GraphSlice struct {
	RepoID       string         `json:"repoId"`
	VersionID    string         `json:"versionId"`
	Budget       Budget         `json:"budget"`
	StartSymbols []string       `json:"startSymbols"`
	Cards        []Card         `json:"cards"`
	Edges        []SliceEdge    `json:"edges"`
	Frontier     []FrontierItem `json:"frontier,omitempty"`
	Truncation   *Truncation    `json:"truncation,omitempty"`
}

// SliceResult wraps a built slice with its leased handle and ETag.
type SliceResult struct {
	Handle       string      `json:"sliceHandle"`
	LeaseExpires time.Time   `json:"lease"`
	Etag         string      `json:"sliceEtag"`
	Slice        *GraphSlice `json:"slice"`
}

// estimateTokens approximates the LLM token cost of a string as
// ceil(chars/4), the fallback when no language tokenizer is available.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// estimateSymbolTokens approximates the token cost of serving a symbol
// card from its source extent: roughly 60 chars per line.
func estimateSymbolTokens(sym *store.Symbol) int {
	lines := sym.EndLine - sym.StartLine + 1
	if lines < 1 {
		lines = 1
	}
	est := lines * 60 / 4
	if est < 40 {
		est = 40
	}
	return est
}

// newOpaqueHandle returns a 32-hex-digit random handle.
func newOpaqueHandle() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// handleTTL returns the configured lease TTL for slice and spillover
// handles.
func (e *Engine) handleTTL() time.Duration {
	if e.sliceTTL > 0 {
		return e.sliceTTL
	}
	return DefaultSliceTTL
}

// --- scoring --------------------------------------------------------------

var taskTokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

func tokenizeTask(text string) []string {
	raw := taskTokenPattern.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, t := range raw {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// queryOverlap scores task-token overlap against a symbol's name and
// file path with tiered match weights, normalized to [0,1] by token
// count.
func queryOverlap(tokens []string, name, relPath string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	lname := strings.ToLower(name)
	lpath := strings.ToLower(relPath)

	sum := 0.0
	for _, t := range tokens {
		switch {
		case t == lname:
			sum += 1.25
		case strings.HasPrefix(lname, t):
			sum += 1.0
		case strings.Contains(lname, t):
			sum += 0.75
		case strings.Contains(lpath, t):
			sum += 0.4
		}
	}
	return clamp01(sum / (1.25 * float64(len(tokens))))
}

// stackFrame is one parsed file:line location from a stack trace.
type stackFrame struct {
	file string
	line int
}

var stackFramePattern = regexp.MustCompile(`([\w./\\-]+\.[A-Za-z]+):(\d+)`)

func parseStackTrace(trace string) []stackFrame {
	var frames []stackFrame
	for _, m := range stackFramePattern.FindAllStringSubmatch(trace, -1) {
		line, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		frames = append(frames, stackFrame{file: strings.ReplaceAll(m[1], `\`, "/"), line: line})
	}
	return frames
}

// stacktraceLocality: 1.0 when a frame lands inside the symbol's range,
// 0.5 when a frame is in the same file, else 0.
func stacktraceLocality(frames []stackFrame, sym *store.Symbol, relPath string) float64 {
	best := 0.0
	for _, fr := range frames {
		if !strings.HasSuffix(fr.file, relPath) && !strings.HasSuffix(relPath, fr.file) {
			continue
		}
		if fr.line >= sym.StartLine && fr.line <= sym.EndLine {
			return 1.0
		}
		best = 0.5
	}
	return best
}

var aggregatorStems = map[string]bool{
	"index": true, "util": true, "utils": true, "types": true,
	"main": true, "mod": true,
}

// structuralSpecificity downweights files unlikely to hold the task's
// core logic: tests, build output, scripts, and aggregator modules.
func structuralSpecificity(relPath string) float64 {
	p := strings.ToLower(relPath)
	v := 1.0
	if isTestPath(p) || strings.Contains(p, "/dist/") || strings.HasPrefix(p, "dist/") ||
		strings.Contains(p, "scripts/") {
		v *= 0.55
	}
	base := p
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	if aggregatorStems[base] {
		v *= 0.75
	}
	return v
}

// symbolKindSpecificity weights definition kinds by how much task
// context a card of that kind usually carries.
func symbolKindSpecificity(kind string) float64 {
	switch kind {
	case store.KindClass:
		return 1.0
	case store.KindFunction:
		return 0.98
	case store.KindMethod:
		return 0.95
	case store.KindInterface:
		return 0.9
	case store.KindType:
		return 0.88
	case store.KindConstructor:
		return 0.8
	case store.KindModule:
		return 0.7
	case store.KindVariable:
		return 0.55
	default:
		return 0.6
	}
}

// sliceScorer caches the request-derived inputs of the per-symbol score.
type sliceScorer struct {
	g      *Graph
	tokens []string
	frames []stackFrame
}

func newSliceScorer(g *Graph, req SliceRequest) *sliceScorer {
	return &sliceScorer{
		g:      g,
		tokens: tokenizeTask(req.TaskText),
		frames: parseStackTrace(req.StackTrace),
	}
}

// score combines the five factors with the standard weights.
func (sc *sliceScorer) score(symbolID string) float64 {
	sym, ok := sc.g.Symbols[symbolID]
	if !ok {
		return 0
	}
	relPath := ""
	if f := sc.g.FileOf(symbolID); f != nil {
		relPath = f.RelPath
	}
	q := queryOverlap(sc.tokens, sym.Name, relPath)
	st := stacktraceLocality(sc.frames, sym, relPath)
	hot := sc.g.Hotness(symbolID)
	structure := structuralSpecificity(relPath)
	kind := symbolKindSpecificity(sym.Kind)
	return clamp01(q*0.4 + st*0.2 + hot*0.15 + structure*0.15 + kind*0.1)
}

// --- seed selection -------------------------------------------------------

const seedSearchTopK = 8

// selectSeeds unions entry symbols, stack-frame hits, edited-file
// symbols, and top-k name-search matches over the task tokens. Output is
// sorted for determinism.
func (e *Engine) selectSeeds(g *Graph, sc *sliceScorer, req SliceRequest) []string {
	seeds := make(map[string]bool)

	for _, id := range req.EntrySymbols {
		if _, ok := g.Symbols[id]; ok {
			seeds[id] = true
		}
	}

	if len(sc.frames) > 0 {
		for id, sym := range g.Symbols {
			relPath := ""
			if f := g.FileOf(id); f != nil {
				relPath = f.RelPath
			}
			if stacktraceLocality(sc.frames, sym, relPath) == 1.0 {
				seeds[id] = true
			}
		}
	}

	edited := make(map[string]bool, len(req.EditedFiles))
	for _, p := range req.EditedFiles {
		edited[strings.TrimPrefix(strings.ReplaceAll(p, `\`, "/"), "./")] = true
	}
	if len(edited) > 0 {
		for id := range g.Symbols {
			if f := g.FileOf(id); f != nil && edited[f.RelPath] {
				seeds[id] = true
			}
		}
	}

	for _, token := range sc.tokens {
		matches, err := e.store.SearchSymbols(req.RepoID, token, seedSearchTopK)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if _, ok := g.Symbols[m.SymbolID]; ok {
				seeds[m.SymbolID] = true
			}
		}
	}

	out := make([]string, 0, len(seeds))
	for id := range seeds {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// --- traversal ------------------------------------------------------------

type sliceCandidate struct {
	symbolID string
	score    float64
	why      string
}

// candidateHeap orders by (score desc, symbol_id asc).
type candidateHeap []sliceCandidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score > h[j].score
	}
	return h[i].symbolID < h[j].symbolID
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)   { *h = append(*h, x.(sliceCandidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// BuildSlice scores, traverses, and budget-cuts a slice for the task,
// then leases a handle over it. Results are cached per (repo, version,
// request shape) and invalidated wholesale on index refresh.
func (e *Engine) BuildSlice(ctx context.Context, req SliceRequest) (*SliceResult, error) {
	if req.RepoID == "" {
		return nil, &ValidationError{Field: "repoId", Message: "required"}
	}
	req.Budget = req.Budget.withDefaults()

	version, err := e.store.LatestVersion(req.RepoID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, &NotFoundError{Kind: "version", ID: req.RepoID + " (repo not indexed)"}
		}
		return nil, &StorageError{Op: "LatestVersion", Err: err}
	}

	cacheKey := sliceCacheKey(req, version.VersionID)
	if cached, ok := e.sliceCache.Get(cacheKey); ok {
		return e.leaseSlice(req.RepoID, version.VersionID, cached)
	}

	g, err := e.LoadGraph(req.RepoID)
	if err != nil {
		return nil, err
	}

	sc := newSliceScorer(g, req)
	seeds := e.selectSeeds(g, sc, req)

	slice := traverseSlice(g, sc, seeds, req, version.VersionID)
	e.sliceCache.Add(cacheKey, slice)
	return e.leaseSlice(req.RepoID, version.VersionID, slice)
}

// traverseSlice runs the beam-like budgeted walk from the seeds.
func traverseSlice(g *Graph, sc *sliceScorer, seeds []string, req SliceRequest, versionID string) *GraphSlice {
	budget := req.Budget
	pq := &candidateHeap{}
	heap.Init(pq)
	queued := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		heap.Push(pq, sliceCandidate{symbolID: id, score: sc.score(id), why: "seed"})
		queued[id] = true
	}

	admitted := make(map[string]*Card)
	var order []string
	var rejected []sliceCandidate
	tokens := 0
	truncated := false

	for pq.Len() > 0 {
		cand := heap.Pop(pq).(sliceCandidate)
		if _, ok := admitted[cand.symbolID]; ok {
			continue
		}
		sym, ok := g.Symbols[cand.symbolID]
		if !ok {
			continue
		}

		est := estimateSymbolTokens(sym)
		if len(admitted) >= budget.MaxCards || tokens+est > budget.MaxEstimatedTokens {
			truncated = true
			rejected = append(rejected, cand)
			continue
		}

		card := buildCard(g, sym, versionID)
		card.Score = cand.score
		card.EstimatedTokens = est
		admitted[cand.symbolID] = card
		order = append(order, cand.symbolID)
		tokens += est

		// Expand both directions: out-neighbours carry the slice forward
		// along dependencies, in-neighbours surface callers of what was
		// just admitted.
		var neighbours []*store.Edge
		neighbours = append(neighbours, g.Out(cand.symbolID)...)
		neighbours = append(neighbours, g.In(cand.symbolID)...)
		for _, ed := range neighbours {
			next := ed.ToSymbolID
			if next == cand.symbolID {
				next = ed.FromSymbolID
			}
			if store.IsUnresolved(next) || queued[next] {
				continue
			}
			queued[next] = true
			intrinsic := sc.score(next)
			tentative := ed.Weight * cand.score
			score := intrinsic
			why := "scored"
			if tentative > score {
				score = tentative
				why = fmt.Sprintf("reached via %s (%s)", sym.Name, ed.Type)
			}
			heap.Push(pq, sliceCandidate{symbolID: next, score: clamp01(score), why: why})
		}
	}

	cards := make([]Card, 0, len(order))
	for _, id := range order {
		cards = append(cards, *admitted[id])
	}
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Score != cards[j].Score {
			return cards[i].Score > cards[j].Score
		}
		return cards[i].SymbolID < cards[j].SymbolID
	})

	// Frontier: best-scored candidates that missed the cut, seen-but-
	// unexpanded queue remnants included.
	frontier := buildFrontier(rejected, admitted)
	inFrontier := make(map[string]bool, len(frontier))
	for _, f := range frontier {
		inFrontier[f.SymbolID] = true
	}

	var edges []SliceEdge
	seenEdge := make(map[string]bool)
	addEdge := func(ed *store.Edge) {
		key := ed.FromSymbolID + "\x00" + ed.ToSymbolID + "\x00" + ed.Type
		if seenEdge[key] {
			return
		}
		seenEdge[key] = true
		edges = append(edges, SliceEdge{From: ed.FromSymbolID, To: ed.ToSymbolID, Type: ed.Type, Weight: ed.Weight})
	}
	for _, id := range order {
		for _, ed := range g.Out(id) {
			if _, ok := admitted[ed.ToSymbolID]; ok || inFrontier[ed.ToSymbolID] {
				addEdge(ed)
			}
		}
		for _, ed := range g.In(id) {
			if inFrontier[ed.FromSymbolID] {
				addEdge(ed)
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].To != edges[j].To {
			return edges[i].To < edges[j].To
		}
		return edges[i].Type < edges[j].Type
	})

	slice := &GraphSlice{
		RepoID:       req.RepoID,
		VersionID:    versionID,
		Budget:       budget,
		StartSymbols: seeds,
		Cards:        cards,
		Edges:        edges,
		Frontier:     frontier,
	}
	if truncated {
		slice.Truncation = &Truncation{Truncated: true, Reason: "budget"}
	}
	return slice
}

func buildFrontier(rejected []sliceCandidate, admitted map[string]*Card) []FrontierItem {
	sort.Slice(rejected, func(i, j int) bool {
		if rejected[i].score != rejected[j].score {
			return rejected[i].score > rejected[j].score
		}
		return rejected[i].symbolID < rejected[j].symbolID
	})
	var out []FrontierItem
	seen := make(map[string]bool)
	for _, c := range rejected {
		if seen[c.symbolID] {
			continue
		}
		if _, ok := admitted[c.symbolID]; ok {
			continue
		}
		seen[c.symbolID] = true
		out = append(out, FrontierItem{SymbolID: c.symbolID, Score: c.score, Why: c.why})
		if len(out) >= DefaultFrontierSize {
			break
		}
	}
	return out
}

// buildCard assembles a card from graph state.
func buildCard(g *Graph, sym *store.Symbol, versionID string) *Card {
	relPath := ""
	if f := g.Files[sym.FileID]; f != nil {
		relPath = f.RelPath
	}
	var deps []string
	for _, ed := range g.Out(sym.SymbolID) {
		if !store.IsUnresolved(ed.ToSymbolID) {
			deps = append(deps, ed.ToSymbolID)
		}
	}
	m := g.Metrics(sym.SymbolID)
	return &Card{
		SymbolID:  sym.SymbolID,
		Name:      sym.Name,
		Kind:      sym.Kind,
		File:      relPath,
		StartLine: sym.StartLine,
		EndLine:   sym.EndLine,
		Language:  sym.Language,
		Exported:  sym.Exported,
		Signature: json.RawMessage(sym.SignatureJSON),
		Summary:   sym.Summary,
		FanIn:     m.FanIn,
		FanOut:    m.FanOut,
		Hotness:   g.Hotness(sym.SymbolID),
		Deps:      deps,
		VersionID: versionID,
		Etag:      cardEtag(sym),
	}
}

// cardEtag derives the card's ETag from the symbol's fingerprint, so it
// changes exactly when observable card content changes.
func cardEtag(sym *store.Symbol) string {
	sum := sha256.Sum256([]byte(sym.SymbolID + "\x00" + sym.ASTFingerprint))
	return fmt.Sprintf("%x", sum[:16])
}

// sliceHash is the slice-level ETag: a digest over the sorted card set
// and the version it was observed at.
func sliceHash(slice *GraphSlice) string {
	ids := make([]string, len(slice.Cards))
	for i, c := range slice.Cards {
		ids[i] = c.SymbolID
	}
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{'|'})
	}
	h.Write([]byte(slice.VersionID))
	return fmt.Sprintf("%x", h.Sum(nil))
}

func sliceCacheKey(req SliceRequest, versionID string) string {
	shape := struct {
		TaskText        string
		StackTrace      string
		FailingTestPath string
		EditedFiles     []string
		EntrySymbols    []string
		Budget          Budget
	}{
		req.TaskText, req.StackTrace, req.FailingTestPath,
		append([]string(nil), req.EditedFiles...),
		append([]string(nil), req.EntrySymbols...),
		req.Budget,
	}
	sort.Strings(shape.EditedFiles)
	sort.Strings(shape.EntrySymbols)
	b, _ := json.Marshal(shape)
	sum := sha256.Sum256(b)
	return req.RepoID + "|" + versionID + "|" + fmt.Sprintf("%x", sum[:12])
}

// invalidateSliceCache drops every cached slice for a repo.
func (e *Engine) invalidateSliceCache(repoID string) {
	prefix := repoID + "|"
	for _, key := range e.sliceCache.Keys() {
		if strings.HasPrefix(key, prefix) {
			e.sliceCache.Remove(key)
		}
	}
}

// leaseSlice persists a fresh handle over a built slice.
func (e *Engine) leaseSlice(repoID, versionID string, slice *GraphSlice) (*SliceResult, error) {
	handle := newOpaqueHandle()
	expires := time.Now().Add(e.handleTTL())
	etag := sliceHash(slice)
	err := e.store.InsertSliceHandle(&store.SliceHandle{
		Handle:     handle,
		RepoID:     repoID,
		ExpiresAt:  expires,
		MinVersion: versionID,
		MaxVersion: versionID,
		SliceHash:  etag,
	})
	if err != nil {
		return nil, &StorageError{Op: "InsertSliceHandle", Err: err}
	}
	return &SliceResult{Handle: handle, LeaseExpires: expires, Etag: etag, Slice: slice}, nil
}

// --- slice.refresh --------------------------------------------------------

// SliceRefreshResult is the slice.refresh response.
type SliceRefreshResult struct {
	CurrentVersion string     `json:"currentVersion"`
	NotModified    bool       `json:"notModified,omitempty"`
	Delta          *DeltaPack `json:"delta,omitempty"`
	LeaseExpires   time.Time  `json:"lease"`
}

// SliceRefresh implements the conditional-refresh contract: notModified
// when the repo hasn't moved past knownVersion, otherwise the delta from
// knownVersion to current, either way with a renewed lease.
func (e *Engine) SliceRefresh(ctx context.Context, handle, knownVersion string) (*SliceRefreshResult, error) {
	h, err := e.lookupLiveHandle(handle)
	if err != nil {
		return nil, err
	}

	current, err := e.store.LatestVersion(h.RepoID)
	if err != nil {
		return nil, &StorageError{Op: "LatestVersion", Err: err}
	}

	expires := time.Now().Add(e.handleTTL())
	if err := e.store.TouchSliceHandle(handle, expires); err != nil {
		return nil, &StorageError{Op: "TouchSliceHandle", Err: err}
	}

	if current.VersionID == knownVersion {
		return &SliceRefreshResult{CurrentVersion: current.VersionID, NotModified: true, LeaseExpires: expires}, nil
	}

	pack, err := e.Delta(ctx, h.RepoID, knownVersion, current.VersionID, DefaultMaxHops, nil)
	if err != nil {
		return nil, err
	}
	return &SliceRefreshResult{CurrentVersion: current.VersionID, Delta: pack, LeaseExpires: expires}, nil
}

// lookupLiveHandle fetches a handle and rejects expired leases with a
// self-correcting denial.
func (e *Engine) lookupLiveHandle(handle string) (*store.SliceHandle, error) {
	h, err := e.store.SliceHandleByID(handle)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, &NotFoundError{Kind: "handle", ID: handle}
		}
		return nil, &StorageError{Op: "SliceHandleByID", Err: err}
	}
	if time.Now().After(h.ExpiresAt) {
		return nil, &PolicyError{
			Message:               "handle-expired",
			NextBestAction:        "slice.build",
			RequiredFieldsForNext: []string{"repoId", "taskText"},
		}
	}
	return h, nil
}

// --- slice.spillover.get --------------------------------------------------

// SpilloverSymbol is one paged spillover entry.
type SpilloverSymbol struct {
	SymbolID string  `json:"symbolId"`
	Rank     float64 `json:"rank"`
}

// SpilloverPageResult is one page of a spillover set.
type SpilloverPageResult struct {
	HasMore bool              `json:"hasMore"`
	Cursor  string            `json:"cursor,omitempty"`
	Symbols []SpilloverSymbol `json:"symbols"`
}

// SpilloverGet pages through the items dropped by a previous budget
// cut. The cursor is the next ordinal, returned opaque.
func (e *Engine) SpilloverGet(spilloverHandle, cursor string, pageSize int) (*SpilloverPageResult, error) {
	h, err := e.lookupLiveHandle(spilloverHandle)
	if err != nil {
		return nil, err
	}
	ref := h.SpilloverRef
	if ref == "" {
		return nil, &NotFoundError{Kind: "handle", ID: spilloverHandle}
	}

	offset := 0
	if cursor != "" {
		offset, err = strconv.Atoi(cursor)
		if err != nil || offset < 0 {
			return nil, &ValidationError{Field: "cursor", Message: "malformed cursor"}
		}
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	items, total, err := e.store.SpilloverPage(ref, offset, pageSize)
	if err != nil {
		return nil, &StorageError{Op: "SpilloverPage", Err: err}
	}

	out := &SpilloverPageResult{}
	for _, it := range items {
		out.Symbols = append(out.Symbols, SpilloverSymbol{SymbolID: it.SymbolID, Rank: it.Rank})
	}
	next := offset + len(items)
	if next < total {
		out.HasMore = true
		out.Cursor = strconv.Itoa(next)
	}
	return out, nil
}

// --- symbol.getCard -------------------------------------------------------

// CardResponse is the symbol.getCard result: either a card or a
// notModified short-circuit, always with the current ETag.
type CardResponse struct {
	NotModified bool   `json:"notModified,omitempty"`
	Etag        string `json:"etag"`
	Card        *Card  `json:"card,omitempty"`
}

// GetCard builds one symbol's card, honoring ifNoneMatch: the ETag is
// fingerprint-derived, so notModified comes back iff the symbol's
// fingerprint is unchanged. Card payloads are stored content-addressed
// so identical cards share one blob.
func (e *Engine) GetCard(repoID, symbolID, ifNoneMatch string) (*CardResponse, error) {
	sym, err := e.store.SymbolByID(symbolID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, &NotFoundError{Kind: "symbol", ID: symbolID}
		}
		return nil, &StorageError{Op: "SymbolByID", Err: err}
	}
	if sym.RepoID != repoID {
		return nil, &NotFoundError{Kind: "symbol", ID: symbolID}
	}

	etag := cardEtag(sym)
	if ifNoneMatch != "" && ifNoneMatch == etag {
		return &CardResponse{NotModified: true, Etag: etag}, nil
	}

	versionID := ""
	if v, err := e.store.LatestVersion(repoID); err == nil {
		versionID = v.VersionID
	}

	relPath := ""
	if f, err := e.store.FileByID(sym.FileID); err == nil {
		relPath = f.RelPath
	}
	outEdges, err := e.store.EdgesFrom(symbolID)
	if err != nil {
		return nil, &StorageError{Op: "EdgesFrom", Err: err}
	}
	var deps []string
	for _, ed := range outEdges {
		if !store.IsUnresolved(ed.ToSymbolID) {
			deps = append(deps, ed.ToSymbolID)
		}
	}
	sort.Strings(deps)
	m, err := e.store.MetricsByID(symbolID)
	if err != nil {
		return nil, &StorageError{Op: "MetricsByID", Err: err}
	}

	card := &Card{
		SymbolID:  sym.SymbolID,
		Name:      sym.Name,
		Kind:      sym.Kind,
		File:      relPath,
		StartLine: sym.StartLine,
		EndLine:   sym.EndLine,
		Language:  sym.Language,
		Exported:  sym.Exported,
		Signature: json.RawMessage(sym.SignatureJSON),
		Summary:   sym.Summary,
		FanIn:     m.FanIn,
		FanOut:    m.FanOut,
		Deps:      deps,
		VersionID: versionID,
		Etag:      etag,
	}
	card.Hotness = clamp01(0.5*normLog(float64(m.FanIn), 100) +
		0.3*normLog(float64(m.FanOut), 50) +
		0.2*normLinear(float64(m.Churn30d), 20))
	card.EstimatedTokens = estimateSymbolTokens(sym)

	if payload, err := json.Marshal(card); err == nil {
		if _, err := e.store.PutBlob("card", payload); err != nil {
			e.logger.Warn("getCard: blob store failed")
		}
	}
	return &CardResponse{Etag: etag, Card: card}, nil
}
