package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// UpsertMetrics writes or replaces a symbol's derived metrics row.
func (s *Store) UpsertMetrics(m *Metrics) error {
	_, err := s.db.Exec(
		`INSERT INTO metrics (symbol_id, fan_in, fan_out, churn_30d, test_refs_json, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(symbol_id) DO UPDATE SET
		   fan_in = excluded.fan_in, fan_out = excluded.fan_out,
		   churn_30d = excluded.churn_30d, test_refs_json = excluded.test_refs_json,
		   updated_at = CURRENT_TIMESTAMP`,
		m.SymbolID, m.FanIn, m.FanOut, m.Churn30d, m.TestRefsJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert metrics: %w", err)
	}
	return nil
}

// UpsertMetricsBatch writes a set of metrics rows inside one
// transaction, so a partially-applied incremental update is never
// visible.
func (s *Store) UpsertMetricsBatch(batch []*Metrics) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("upsert metrics batch: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO metrics (symbol_id, fan_in, fan_out, churn_30d, test_refs_json, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(symbol_id) DO UPDATE SET
		   fan_in = excluded.fan_in, fan_out = excluded.fan_out,
		   churn_30d = excluded.churn_30d, test_refs_json = excluded.test_refs_json,
		   updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("upsert metrics batch: prepare: %w", err)
	}
	defer stmt.Close()

	for _, m := range batch {
		if _, err := stmt.Exec(m.SymbolID, m.FanIn, m.FanOut, m.Churn30d, m.TestRefsJSON); err != nil {
			return fmt.Errorf("upsert metrics batch: %s: %w", m.SymbolID, err)
		}
	}
	return tx.Commit()
}

// MetricsByID returns a symbol's derived metrics, or zero-value metrics
// if none have been computed yet.
func (s *Store) MetricsByID(symbolID string) (*Metrics, error) {
	row := s.db.QueryRow(
		`SELECT symbol_id, fan_in, fan_out, churn_30d, test_refs_json, updated_at FROM metrics WHERE symbol_id = ?`,
		symbolID)
	var m Metrics
	var updatedAt sql.NullTime
	err := row.Scan(&m.SymbolID, &m.FanIn, &m.FanOut, &m.Churn30d, &m.TestRefsJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &Metrics{SymbolID: symbolID, TestRefsJSON: "[]"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metrics by id: %w", err)
	}
	if updatedAt.Valid {
		m.UpdatedAt = updatedAt.Time
	}
	return &m, nil
}
