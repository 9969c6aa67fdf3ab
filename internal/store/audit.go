package store

import "fmt"

// AppendAudit records one durable audit entry for an external operation.
// The audit log is append-only: no update or delete path touches it.
func (s *Store) AppendAudit(e *AuditEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_log (repo_id, operation, detail_json) VALUES (?, ?, ?)`,
		e.RepoID, e.Operation, e.DetailJSON,
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// RecentAudit returns the most recent audit entries for a repo.
func (s *Store) RecentAudit(repoID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, repo_id, ts, operation, detail_json FROM audit_log
		 WHERE repo_id = ? ORDER BY ts DESC LIMIT ?`, repoID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.RepoID, &e.Timestamp, &e.Operation, &e.DetailJSON); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
