package store

import (
	"database/sql"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// stmtCacheSize bounds the prepared-statement cache. Eviction closes the
// statement; *sql.Stmt is safe for concurrent use, so readers holding an
// evicted statement finish their in-flight calls before Close takes
// effect.
const stmtCacheSize = 200

type stmtCache struct {
	mu  sync.Mutex
	db  *sql.DB
	lru *lru.Cache[string, *sql.Stmt]
}

func newStmtCache(db *sql.DB) (*stmtCache, error) {
	c := &stmtCache{db: db}
	l, err := lru.NewWithEvict(stmtCacheSize, func(_ string, stmt *sql.Stmt) {
		stmt.Close()
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// get returns a prepared statement for query, preparing and caching it on
// first use.
func (c *stmtCache) get(query string) (*sql.Stmt, error) {
	c.mu.Lock()
	if stmt, ok := c.lru.Get(query); ok {
		c.mu.Unlock()
		return stmt, nil
	}
	c.mu.Unlock()

	stmt, err := c.db.Prepare(query)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.lru.Get(query); ok {
		// Lost a race with another preparer; keep the cached one.
		stmt.Close()
		return prev, nil
	}
	c.lru.Add(query, stmt)
	return stmt, nil
}

// purge closes every cached statement.
func (c *stmtCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
