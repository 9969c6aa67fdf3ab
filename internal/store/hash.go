package store

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// ComputeASTFingerprint computes a deterministic hash of a symbol's
// structural identity from its kind, qualified name, and a normalized
// structural signature (e.g. parameter/return shape, declared members).
// It is insensitive to whitespace, comments, and source position — only
// structure and the symbol's semantic signature affect it.
func ComputeASTFingerprint(kind, qualifiedName, normalizedSignature string) string {
	h := sha256.New()
	fmt.Fprintf(h, "kind:%s\n", kind)
	fmt.Fprintf(h, "name:%s\n", qualifiedName)
	fmt.Fprintf(h, "sig:%s\n", normalizedSignature)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ComputeVersionHash computes a version's content hash from the sorted
// set of (symbol_id, ast_fingerprint) pairs present in that version. Edge
// topology deliberately does not participate: two versions with identical
// symbol fingerprints but differently-resolved edges hash the same,
// because version identity tracks code content, not derived graph shape.
func ComputeVersionHash(fingerprints map[string]string) string {
	ids := make([]string, 0, len(fingerprints))
	for id := range fingerprints {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		fmt.Fprintf(h, "%s:%s\n", id, fingerprints[id])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
