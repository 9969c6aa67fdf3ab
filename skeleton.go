package sdl

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"

	"github.com/sdlhq/sdl/internal/lang"
	"github.com/sdlhq/sdl/internal/store"
)

// Extractor defaults.
const (
	DefaultWindowMaxLines  = 120
	DefaultExtractTokens   = 2000
	DefaultContextLines    = 3
	skeletonElideThreshold = 3
	elisionSentinel        = "  // …"
)

// WindowGranularity selects the shape of a raw code window.
type WindowGranularity string

const (
	GranularitySymbol     WindowGranularity = "symbol"
	GranularityBlock      WindowGranularity = "block"
	GranularityFileWindow WindowGranularity = "fileWindow"
)

// WindowResult is a raw, budget-bound slice of one file.
type WindowResult struct {
	SymbolID  string `json:"symbolId,omitempty"`
	File      string `json:"file"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

// SkeletonResult is a shape-preserving view: signatures and control-flow
// scaffolding kept, long bodies elided.
type SkeletonResult struct {
	File      string `json:"file"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
	IRHash    string `json:"irHash"`
}

// IROp is one entry of the skeleton's structured op stream.
type IROp struct {
	Op     string `json:"op"` // call | if | try | return | throw | sideEffect | elision
	Line   int    `json:"line"`
	Detail string `json:"detail,omitempty"`
}

// HotPathResult is the lines of a symbol mentioning a caller-supplied
// identifier set, with context.
type HotPathResult struct {
	File               string   `json:"file"`
	Excerpt            string   `json:"excerpt"`
	MatchedIdentifiers []string `json:"matchedIdentifiers"`
	Lines              []int    `json:"lines"`
	Truncated          bool     `json:"truncated,omitempty"`
}

// --- policy gate ----------------------------------------------------------

// NeedWindowRequest is the code.needWindow input: the caller must state
// why raw code is needed and what it expects to find.
type NeedWindowRequest struct {
	RepoID            string            `json:"repoId"`
	SymbolID          string            `json:"symbolId"`
	Reason            string            `json:"reason"`
	ExpectedLines     int               `json:"expectedLines"`
	IdentifiersToFind []string          `json:"identifiersToFind"`
	Granularity       WindowGranularity `json:"granularity,omitempty"`
	MaxTokens         int               `json:"maxTokens,omitempty"`
}

// PolicyDecision is the gate's verdict on a raw-code request. The
// decision itself comes from an external evaluator; the core only
// surfaces the signal.
type PolicyDecision struct {
	Allow                 bool     `json:"allow"`
	Reason                string   `json:"reason,omitempty"`
	NextBestAction        string   `json:"nextBestAction,omitempty"`
	RequiredFieldsForNext []string `json:"requiredFieldsForNext,omitempty"`
}

// PolicyFunc evaluates a raw-code request. Nil means the built-in
// field-presence check only.
type PolicyFunc func(req NeedWindowRequest) PolicyDecision

// WithPolicy installs an external policy evaluator for code.needWindow.
func WithPolicy(p PolicyFunc) Option {
	return func(e *Engine) { e.policy = p }
}

// NeedWindow gates and serves a raw code window. A denial carries
// nextBestAction and requiredFieldsForNext so the caller can
// self-correct. Approved requests are audited and the decision stored
// content-addressed.
func (e *Engine) NeedWindow(req NeedWindowRequest) (*WindowResult, error) {
	if req.Reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "required"}
	}
	if req.ExpectedLines <= 0 {
		return nil, &ValidationError{Field: "expectedLines", Message: "must be positive"}
	}

	decision := PolicyDecision{Allow: true}
	if e.policy != nil {
		decision = e.policy(req)
	}
	if payload, err := json.Marshal(decision); err == nil {
		if _, err := e.store.PutBlob("policy", payload); err != nil {
			e.logger.Warn("needWindow: policy blob store failed")
		}
	}
	detail, _ := json.Marshal(map[string]any{"symbolId": req.SymbolID, "allow": decision.Allow, "reason": req.Reason})
	if err := e.store.AppendAudit(&store.AuditEntry{RepoID: req.RepoID, Operation: "code.needWindow", DetailJSON: string(detail)}); err != nil {
		e.logger.Warn("needWindow: audit append failed", zap.Error(err))
	}

	if !decision.Allow {
		nba := decision.NextBestAction
		if nba == "" {
			nba = "code.getSkeleton"
		}
		fields := decision.RequiredFieldsForNext
		if len(fields) == 0 {
			fields = []string{"repoId", "symbolId"}
		}
		return nil, &PolicyError{Message: "window denied: " + decision.Reason, NextBestAction: nba, RequiredFieldsForNext: fields}
	}

	granularity := req.Granularity
	if granularity == "" {
		granularity = GranularitySymbol
	}
	return e.GetWindow(req.RepoID, req.SymbolID, granularity, req.ExpectedLines, req.MaxTokens)
}

// --- shared loading -------------------------------------------------------

// symbolSource is everything the extractors need about one symbol.
type symbolSource struct {
	sym     *store.Symbol
	file    *store.File
	relPath string
	src     []byte
	lines   []string
}

// loadSymbolSource resolves a symbol to its file bytes, enforcing the
// repo's max-file-bytes refusal: oversized files return (nil, nil) and a
// log line, never an error.
func (e *Engine) loadSymbolSource(repoID, symbolID string) (*symbolSource, error) {
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
	f, err := e.store.FileByID(sym.FileID)
	if err != nil {
		return nil, &StorageError{Op: "FileByID", Err: err}
	}
	return e.loadFileSource(repoID, sym, f)
}

func (e *Engine) loadFileSource(repoID string, sym *store.Symbol, f *store.File) (*symbolSource, error) {
	repo, err := e.store.RepoByID(repoID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, &NotFoundError{Kind: "repo", ID: repoID}
		}
		return nil, &StorageError{Op: "RepoByID", Err: err}
	}
	cfg, _ := unmarshalConfig(repo.ConfigJSON)
	maxBytes := cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	if f.ByteSize > maxBytes {
		e.logger.Info("extractor refused oversized file",
			zap.String("path", f.RelPath), zap.Int64("bytes", f.ByteSize))
		return nil, nil
	}

	src, err := os.ReadFile(filepath.Join(repo.RootPath, filepath.FromSlash(f.RelPath)))
	if err != nil {
		return nil, &StorageError{Op: "ReadFile", Err: err}
	}
	if int64(len(src)) > maxBytes {
		e.logger.Info("extractor refused oversized file",
			zap.String("path", f.RelPath), zap.Int64("bytes", int64(len(src))))
		return nil, nil
	}
	return &symbolSource{
		sym:     sym,
		file:    f,
		relPath: f.RelPath,
		src:     src,
		lines:   strings.Split(string(src), "\n"),
	}, nil
}

// parseTree parses a loaded source with its language grammar. A parse
// failure is treated like an adapter parse failure: nil tree, no error.
func parseTree(ss *symbolSource) *sitter.Node {
	grammar, ok := lang.ParserForLanguage(ss.file.Language)
	if !ok {
		return nil
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)
	tree, err := parser.ParseCtx(context.Background(), nil, ss.src)
	if err != nil || tree == nil {
		return nil
	}
	return tree.RootNode()
}

// symbolNode locates the smallest named node spanning the symbol's
// recorded range.
func symbolNode(root *sitter.Node, sym *store.Symbol) *sitter.Node {
	if root == nil {
		return nil
	}
	start := sitter.Point{Row: uint32(sym.StartLine - 1), Column: uint32(sym.StartCol)}
	end := sitter.Point{Row: uint32(sym.EndLine - 1), Column: uint32(sym.EndCol)}
	n := root.NamedDescendantForPointRange(start, end)
	if n == nil {
		return root
	}
	return n
}

// --- window ---------------------------------------------------------------

// GetWindow returns a raw slice of the symbol's file at the requested
// granularity, bounded by maxLines and maxTokens. Oversized files are
// refused with a nil result.
func (e *Engine) GetWindow(repoID, symbolID string, granularity WindowGranularity, maxLines, maxTokens int) (*WindowResult, error) {
	ss, err := e.loadSymbolSource(repoID, symbolID)
	if err != nil || ss == nil {
		return nil, err
	}
	if maxLines <= 0 {
		maxLines = DefaultWindowMaxLines
	}
	if maxTokens <= 0 {
		maxTokens = DefaultExtractTokens
	}

	start, end := ss.sym.StartLine, ss.sym.EndLine
	switch granularity {
	case GranularityBlock:
		start, end = expandToBraceBalance(ss.lines, start, end)
	case GranularityFileWindow:
		mid := (start + end) / 2
		start = mid - maxLines/2
		end = start + maxLines - 1
	}
	if start < 1 {
		start = 1
	}
	if end > len(ss.lines) {
		end = len(ss.lines)
	}

	text, outEnd, truncated := clipLines(ss.lines, start, end, maxLines, maxTokens)
	return &WindowResult{
		SymbolID:  symbolID,
		File:      ss.relPath,
		StartLine: start,
		EndLine:   outEnd,
		Text:      text,
		Truncated: truncated,
	}, nil
}

// expandToBraceBalance widens a line range outward until braces balance
// or the file bounds stop it.
func expandToBraceBalance(lines []string, start, end int) (int, int) {
	balance := 0
	for i := start - 1; i < end && i < len(lines); i++ {
		balance += strings.Count(lines[i], "{") - strings.Count(lines[i], "}")
	}
	for balance != 0 && (start > 1 || end < len(lines)) {
		if balance > 0 && end < len(lines) {
			end++
			balance += strings.Count(lines[end-1], "{") - strings.Count(lines[end-1], "}")
		} else if balance < 0 && start > 1 {
			start--
			balance += strings.Count(lines[start-1], "{") - strings.Count(lines[start-1], "}")
		} else {
			break
		}
	}
	return start, end
}

// clipLines joins lines[start..end] (1-based, inclusive) under both
// budgets, reporting the last line included and whether clipping
// occurred.
func clipLines(lines []string, start, end, maxLines, maxTokens int) (string, int, bool) {
	truncated := false
	if end-start+1 > maxLines {
		end = start + maxLines - 1
		truncated = true
	}
	var b strings.Builder
	tokens := 0
	out := start - 1
	for i := start; i <= end && i <= len(lines); i++ {
		cost := estimateTokens(lines[i-1]) + 1
		if tokens+cost > maxTokens {
			truncated = true
			break
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(lines[i-1])
		tokens += cost
		out = i
	}
	return b.String(), out, truncated
}

// --- skeleton -------------------------------------------------------------

// Node types whose start line anchors skeleton output, across the
// supported grammars.
var skeletonDeclTypes = map[string]bool{
	"function_declaration": true, "method_declaration": true,
	"function_definition": true, "class_definition": true, "decorated_definition": true,
	"class_declaration": true, "method_definition": true,
	"type_declaration": true, "type_spec": true,
	"interface_declaration": true, "type_alias_declaration": true, "enum_declaration": true,
	"import_declaration": true, "import_statement": true, "import_from_statement": true,
	"package_clause": true, "lexical_declaration": true,
	"var_declaration": true, "const_declaration": true,
}

// skeletonFlowTypes maps control-flow node types to IR ops. Loop and
// switch scaffolding is kept in the skeleton text but carries no op of
// its own.
var skeletonFlowTypes = map[string]string{
	"if_statement":     "if",
	"else_clause":      "if",
	"elif_clause":      "if",
	"try_statement":    "try",
	"catch_clause":     "try",
	"except_clause":    "try",
	"finally_clause":   "try",
	"defer_statement":  "sideEffect",
	"go_statement":     "sideEffect",
	"return_statement": "return",
	"throw_statement":  "throw",
	"raise_statement":  "throw",
}

// skeletonLoopTypes is scaffolding kept without an IR op.
var skeletonLoopTypes = map[string]bool{
	"for_statement":               true,
	"while_statement":             true,
	"expression_switch_statement": true,
	"type_switch_statement":       true,
	"select_statement":            true,
	"switch_statement":            true,
	"match_statement":             true,
}

var callNodeTypes = map[string]bool{
	"call_expression": true, "call": true, "new_expression": true,
}

var sideEffectNodeTypes = map[string]bool{
	"assignment_expression": true, "augmented_assignment": true,
	"assignment": true, "update_expression": true, "inc_statement": true, "dec_statement": true,
}

// GetSkeleton produces the shape-preserving view of a symbol (or, with
// an empty symbolID, a whole file): declarations, signatures, and
// control-flow scaffolding kept, long bodies elided behind a sentinel.
// The structured op stream hashed into IRHash walks the same nodes.
func (e *Engine) GetSkeleton(repoID, symbolID, file string, exportedOnly bool, maxLines, maxTokens int) (*SkeletonResult, error) {
	var ss *symbolSource
	var err error
	if symbolID != "" {
		ss, err = e.loadSymbolSource(repoID, symbolID)
	} else {
		ss, err = e.loadNamedFile(repoID, file)
	}
	if err != nil || ss == nil {
		return nil, err
	}
	if maxLines <= 0 {
		maxLines = DefaultWindowMaxLines
	}
	if maxTokens <= 0 {
		maxTokens = DefaultExtractTokens
	}

	root := parseTree(ss)
	if root == nil {
		return nil, &NotFoundError{Kind: "symbol", ID: "unparseable: " + ss.relPath}
	}
	scope := root
	startLine, endLine := 1, len(ss.lines)
	if ss.sym != nil {
		scope = symbolNode(root, ss.sym)
		startLine, endLine = ss.sym.StartLine, ss.sym.EndLine
	}

	keep := make(map[int]bool)
	var ops []IROp
	walkSkeleton(scope, ss.src, keep, &ops, exportedOnly)
	keep[startLine] = true

	// Assemble: kept lines in order, one elision sentinel (and op) per
	// gap longer than the threshold.
	var rows []int
	for line := range keep {
		if line >= startLine && line <= endLine {
			rows = append(rows, line)
		}
	}
	sort.Ints(rows)

	var b strings.Builder
	tokens := 0
	emitted := 0
	truncated := false
	prev := startLine - 1
	for _, line := range rows {
		if line > prev+1 && line-prev-1 > skeletonElideThreshold {
			if emitted > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(elisionSentinel)
			emitted++
			ops = append(ops, IROp{Op: "elision", Line: prev + 1})
		}
		text := ss.lines[line-1]
		cost := estimateTokens(text) + 1
		if emitted >= maxLines || tokens+cost > maxTokens {
			truncated = true
			break
		}
		if emitted > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(text)
		tokens += cost
		emitted++
		prev = line
	}

	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Line < ops[j].Line })
	return &SkeletonResult{
		File:      ss.relPath,
		StartLine: startLine,
		EndLine:   endLine,
		Text:      b.String(),
		Truncated: truncated,
		IRHash:    hashIR(ops),
	}, nil
}

// loadNamedFile builds a file-scoped source for whole-file skeletons.
func (e *Engine) loadNamedFile(repoID, relPath string) (*symbolSource, error) {
	norm := strings.TrimPrefix(strings.ReplaceAll(relPath, `\`, "/"), "./")
	f, err := e.store.FileByPath(repoID, norm)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, &NotFoundError{Kind: "file", ID: relPath}
		}
		return nil, &StorageError{Op: "FileByPath", Err: err}
	}
	return e.loadFileSource(repoID, nil, f)
}

// walkSkeleton marks the lines to keep and emits the IR op stream.
func walkSkeleton(node *sitter.Node, src []byte, keep map[int]bool, ops *[]IROp, exportedOnly bool) {
	nodeType := node.Type()
	line := int(node.StartPoint().Row) + 1

	if skeletonDeclTypes[nodeType] {
		if !exportedOnly || declLooksExported(node, src) {
			keep[line] = true
		}
	}
	if op, ok := skeletonFlowTypes[nodeType]; ok {
		keep[line] = true
		*ops = append(*ops, IROp{Op: op, Line: line, Detail: nodeType})
	}
	if skeletonLoopTypes[nodeType] {
		keep[line] = true
	}
	if callNodeTypes[nodeType] {
		detail := ""
		if fn := node.ChildByFieldName("function"); fn != nil {
			detail = fn.Content(src)
		} else if c := node.ChildByFieldName("constructor"); c != nil {
			detail = c.Content(src)
		}
		if len(detail) > 64 {
			detail = detail[:64]
		}
		*ops = append(*ops, IROp{Op: "call", Line: line, Detail: detail})
	}
	if sideEffectNodeTypes[nodeType] {
		*ops = append(*ops, IROp{Op: "sideEffect", Line: line, Detail: nodeType})
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		walkSkeleton(node.NamedChild(i), src, keep, ops, exportedOnly)
	}
}

// declLooksExported approximates per-language export checks on raw
// declaration text: Go capitalization or an explicit export keyword.
func declLooksExported(node *sitter.Node, src []byte) bool {
	text := node.Content(src)
	if strings.HasPrefix(text, "export ") || strings.Contains(text, "export ") {
		return true
	}
	if name := node.ChildByFieldName("name"); name != nil {
		n := name.Content(src)
		if n != "" {
			c := n[:1]
			return c == strings.ToUpper(c) && c != strings.ToLower(c)
		}
	}
	// Imports and package clauses have no name; always kept.
	return node.ChildByFieldName("name") == nil
}

// hashIR digests the serialized op stream into the stable IR hash.
func hashIR(ops []IROp) string {
	b, _ := json.Marshal(ops)
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}

// --- hot-path -------------------------------------------------------------

var identifierNodeTypes = map[string]bool{
	"identifier": true, "field_identifier": true, "property_identifier": true,
	"type_identifier": true, "package_identifier": true, "shorthand_property_identifier": true,
}

// GetHotPath extracts the lines of a symbol that mention any identifier
// in the caller-supplied set — exact matches on identifier nodes, any
// component of a member chain, the constructor of a throw/new — each
// with contextLines of surrounding code.
func (e *Engine) GetHotPath(repoID, symbolID string, identifiers []string, maxLines, maxTokens, contextLines int) (*HotPathResult, error) {
	if len(identifiers) == 0 {
		return nil, &ValidationError{Field: "identifiersToFind", Message: "required"}
	}
	ss, err := e.loadSymbolSource(repoID, symbolID)
	if err != nil || ss == nil {
		return nil, err
	}
	if maxLines <= 0 {
		maxLines = DefaultWindowMaxLines
	}
	if maxTokens <= 0 {
		maxTokens = DefaultExtractTokens
	}
	if contextLines < 0 {
		contextLines = DefaultContextLines
	}

	root := parseTree(ss)
	if root == nil {
		return nil, &NotFoundError{Kind: "symbol", ID: "unparseable: " + ss.relPath}
	}
	scope := symbolNode(root, ss.sym)

	wanted := make(map[string]bool, len(identifiers))
	for _, id := range identifiers {
		wanted[id] = true
	}

	matchLines := make(map[int]bool)
	matchedIdents := make(map[string]bool)
	walkHotPath(scope, ss.src, wanted, matchLines, matchedIdents)

	if len(matchLines) == 0 {
		return &HotPathResult{File: ss.relPath, Excerpt: "", MatchedIdentifiers: nil, Lines: nil}, nil
	}

	// Expand matches by context and merge into the final line set, kept
	// inside the symbol's own extent.
	include := make(map[int]bool)
	for line := range matchLines {
		for l := line - contextLines; l <= line+contextLines; l++ {
			if l >= ss.sym.StartLine && l <= ss.sym.EndLine && l >= 1 && l <= len(ss.lines) {
				include[l] = true
			}
		}
	}
	var rows []int
	for l := range include {
		rows = append(rows, l)
	}
	sort.Ints(rows)

	var b strings.Builder
	tokens := 0
	emitted := 0
	truncated := false
	prev := -10
	for _, line := range rows {
		if emitted >= maxLines {
			truncated = true
			break
		}
		text := ss.lines[line-1]
		cost := estimateTokens(text) + 1
		if tokens+cost > maxTokens {
			truncated = true
			break
		}
		if emitted > 0 {
			if line > prev+1 {
				b.WriteString("\n" + elisionSentinel)
			}
			b.WriteByte('\n')
		}
		b.WriteString(text)
		tokens += cost
		emitted++
		prev = line
	}

	var matched []string
	for id := range matchedIdents {
		matched = append(matched, id)
	}
	sort.Strings(matched)
	var lineNums []int
	for l := range matchLines {
		lineNums = append(lineNums, l)
	}
	sort.Ints(lineNums)

	return &HotPathResult{
		File:               ss.relPath,
		Excerpt:            b.String(),
		MatchedIdentifiers: matched,
		Lines:              lineNums,
		Truncated:          truncated,
	}, nil
}

func walkHotPath(node *sitter.Node, src []byte, wanted map[string]bool, matchLines map[int]bool, matched map[string]bool) {
	if identifierNodeTypes[node.Type()] {
		text := node.Content(src)
		if wanted[text] {
			matchLines[int(node.StartPoint().Row)+1] = true
			matched[text] = true
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		walkHotPath(node.NamedChild(i), src, wanted, matchLines, matched)
	}
}
