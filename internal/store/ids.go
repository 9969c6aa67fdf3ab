package store

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// BuildSymbolID derives a stable, opaque symbol_id from the symbol's
// structural identity. Re-extracting the same file produces the same id
// for the same (kind, qualified name) pair even if the symbol moved
// within the file, so edges and metrics addressed by symbol_id survive
// pure reformatting.
func BuildSymbolID(relPath, kind, qualifiedName string) string {
	h := sha256.Sum256([]byte(relPath + "\x00" + kind + "\x00" + qualifiedName))
	return fmt.Sprintf("sym_%x", h[:16])
}

// QualifiedName joins a symbol's enclosing path (e.g. receiver or
// namespace segments) with its own name using "." as separator, skipping
// empty segments.
func QualifiedName(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ".")
}
