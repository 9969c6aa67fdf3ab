// Package lang implements the pluggable Language Adapter contract: it
// wraps tree-sitter parsing and an embedded Risor scripting runtime so
// each supported language's extraction and resolution logic lives in a
// small script rather than hand-written Go per language.
package lang

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
)

// extToLanguage maps file extensions to canonical language names. Only
// the languages with a matching scripts/extract and scripts/resolve
// pair are registered; adding a language is adding a grammar import
// here plus a script pair, not a change to the Engine.
var extToLanguage = map[string]string{
	".go":  "go",
	".ts":  "typescript",
	".tsx": "typescript",
	".js":  "javascript",
	".jsx": "javascript",
	".py":  "python",
}

// langToGrammar maps language names to tree-sitter Language objects.
// Lazily initialized on first call via sync.Once.
var (
	langToGrammar map[string]*sitter.Language
	grammarsOnce  sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		langToGrammar = map[string]*sitter.Language{
			"go":         golang.GetLanguage(),
			"typescript": ts.GetLanguage(),
			"javascript": javascript.GetLanguage(),
			"python":     python.GetLanguage(),
		}
	})
}

// LanguageForFile returns the canonical language name for a file path
// based on its extension. Returns ("", false) if unrecognized.
func LanguageForFile(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := extToLanguage[ext]
	return lang, ok
}

// ParserForLanguage returns the tree-sitter Language for a canonical
// language name. Returns (nil, false) if unsupported.
func ParserForLanguage(lang string) (*sitter.Language, bool) {
	initGrammars()
	l, ok := langToGrammar[lang]
	return l, ok
}

// SupportedLanguages returns the canonical names of every language this
// build has both a grammar and a script pair for.
func SupportedLanguages() []string {
	return []string{"go", "python", "javascript", "typescript"}
}
