package sdl

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/sdlhq/sdl/internal/store"
)

// finalizeVersion snapshots the repo's live symbol table and records a new
// Version, chaining it to the previous version's hash. Called at the end
// of every Refresh, successful or not — a version always exists after a
// refresh even if some files failed to index.
func (e *Engine) finalizeVersion(repoID, reason string) (string, error) {
	v, err := e.CreateVersion(repoID, reason)
	if err != nil {
		return "", err
	}
	return v.VersionID, nil
}

// CreateVersion builds and persists a new Version from the repo's current
// symbol table. version_hash chains the previous version's hash with a
// deterministic digest of every live symbol's (symbol_id, ast_fingerprint)
// pair. A refresh that observes no content change reproduces the latest
// version's (prev_version_hash, version_hash) pair instead of extending
// the chain, so re-indexing an unchanged tree is hash-idempotent: two
// versions hash equal iff their fingerprint sets and parent hashes
// match.
func (e *Engine) CreateVersion(repoID, reason string) (*store.Version, error) {
	snapshots, err := e.store.SnapshotCurrentSymbols(repoID)
	if err != nil {
		return nil, fmt.Errorf("snapshot symbols: %w", err)
	}

	fingerprints := make(map[string]string, len(snapshots))
	for _, sv := range snapshots {
		fingerprints[sv.SymbolID] = sv.ASTFingerprint
	}
	contentHash := store.ComputeVersionHash(fingerprints)

	v := &store.Version{
		VersionID: NewVersionID(repoID),
		RepoID:    repoID,
		Reason:    reason,
	}

	prev, err := e.store.LatestVersion(repoID)
	switch {
	case err == store.ErrNotFound:
		v.VersionHash = chainVersionHash("", contentHash)
	case err != nil:
		return nil, fmt.Errorf("latest version: %w", err)
	case chainVersionHash(prev.PrevVersionHash, contentHash) == prev.VersionHash:
		// Same content as the latest version: same state, same hashes.
		v.PrevVersionHash = prev.PrevVersionHash
		v.VersionHash = prev.VersionHash
	default:
		v.PrevVersionHash = prev.VersionHash
		v.VersionHash = chainVersionHash(prev.VersionHash, contentHash)
	}

	if err := e.store.InsertVersion(v, snapshots); err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}
	return v, nil
}

// chainVersionHash combines a parent version_hash with the content hash
// of the live symbol set: H(prev_version_hash || content_hash). The
// first version of a repo has an empty prev_version_hash, so its
// version_hash equals H(content_hash).
func chainVersionHash(prevVersionHash, contentHash string) string {
	h := sha256.New()
	h.Write([]byte(prevVersionHash))
	h.Write([]byte(contentHash))
	return fmt.Sprintf("%x", h.Sum(nil))
}

var (
	versionIDMu      sync.Mutex
	lastVersionMilli int64
)

// NewVersionID builds a "<repoId>-v<unix-millis>" identifier. Two calls
// within the same millisecond still produce distinct, strictly
// increasing ids.
func NewVersionID(repoID string) string {
	versionIDMu.Lock()
	defer versionIDMu.Unlock()
	now := time.Now().UnixMilli()
	if now <= lastVersionMilli {
		now = lastVersionMilli + 1
	}
	lastVersionMilli = now
	return fmt.Sprintf("%s-v%d", repoID, now)
}
