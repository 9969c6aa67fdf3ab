package store

import "sync"

// BatchedStore buffers one file's extraction output in memory so a
// parallel worker can run an adapter without touching SQLite directly;
// a single committing goroutine later flushes the buffer transactionally
// via CommitBatch. Symbol ids are deterministic (BuildSymbolID), so
// unlike the fake-id remapping a surrogate-keyed schema would need, no
// id translation happens at commit time here — the buffer exists purely
// to keep writes off the hot extraction path.
type BatchedStore struct {
	store *Store
	mu    sync.Mutex

	RepoID  string
	Symbols []*Symbol
	Edges   []*Edge
}

// NewBatchedStore wraps a Store for buffered, single-file extraction.
func NewBatchedStore(s *Store, repoID string) *BatchedStore {
	return &BatchedStore{store: s, RepoID: repoID}
}

// InsertSymbol buffers a symbol for the eventual commit.
func (b *BatchedStore) InsertSymbol(sym *Symbol) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Symbols = append(b.Symbols, sym)
	return nil
}

// InsertEdge buffers an edge for the eventual commit. The returned id is
// synthetic and only meaningful within this batch — nothing downstream
// keys off edge_id, so no remap table is needed at commit time.
func (b *BatchedStore) InsertEdge(e *Edge) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Edges = append(b.Edges, e)
	return int64(len(b.Edges)), nil
}

// SymbolsByName proxies to the underlying store plus whatever this batch
// has buffered so far, so extraction scripts can resolve references to
// symbols declared earlier in the same file before it's committed.
func (b *BatchedStore) SymbolsByName(repoID, name string) ([]*Symbol, error) {
	committed, err := b.store.SymbolsByName(repoID, name)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sym := range b.Symbols {
		if sym.RepoID == repoID && sym.Name == name {
			committed = append(committed, sym)
		}
	}
	return committed, nil
}

// SymbolsByFile proxies to the underlying store plus buffered symbols for
// the same file.
func (b *BatchedStore) SymbolsByFile(fileID int64) ([]*Symbol, error) {
	committed, err := b.store.SymbolsByFile(fileID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sym := range b.Symbols {
		if sym.FileID == fileID {
			committed = append(committed, sym)
		}
	}
	return committed, nil
}
