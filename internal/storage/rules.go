package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Evaluator Rules ---

// CreateRule inserts a new rule. Returns ErrConflict when the name is taken.
func (s *Store) CreateRule(r EvaluatorRule) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO evaluator_rules (id, name, description, check_prompt, priority, is_active, knowledge_entry_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Description, r.CheckPrompt, r.Priority, r.IsActive, nullable(r.KnowledgeEntryID), now, now,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("rule %q: %w", r.Name, ErrConflict)
	}
	return err
}

// UpsertRuleByName inserts the rule, or on a name conflict refreshes
// description, check prompt, priority, and knowledge link in place.
func (s *Store) UpsertRuleByName(r EvaluatorRule) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO evaluator_rules (id, name, description, check_prompt, priority, is_active, knowledge_entry_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			check_prompt = excluded.check_prompt,
			priority = excluded.priority,
			knowledge_entry_id = excluded.knowledge_entry_id,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.Description, r.CheckPrompt, r.Priority, r.IsActive, nullable(r.KnowledgeEntryID), now, now,
	)
	return err
}

// UpdateRule rewrites description, check prompt, and priority for an
// existing rule (used when re-synthesizing from a changed knowledge entry).
func (s *Store) UpdateRule(id, description, checkPrompt string, priority int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE evaluator_rules SET description = ?, check_prompt = ?, priority = ?, updated_at = ?
		WHERE id = ?`,
		description, checkPrompt, priority, now, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetRule(id string) (EvaluatorRule, error) {
	row := s.db.QueryRow(ruleSelect+` WHERE id = ?`, id)
	return scanRule(row)
}

// GetRuleByKnowledgeEntry returns the rule linked to the given knowledge
// entry, or ErrNotFound. At most one such rule exists per entry.
func (s *Store) GetRuleByKnowledgeEntry(entryID string) (EvaluatorRule, error) {
	row := s.db.QueryRow(ruleSelect+` WHERE knowledge_entry_id = ?`, entryID)
	return scanRule(row)
}

// ListActiveRules returns active rules ordered by priority descending,
// ties broken by name.
func (s *Store) ListActiveRules() ([]EvaluatorRule, error) {
	return s.listRules(ruleSelect + ` WHERE is_active = 1 ORDER BY priority DESC, name`)
}

// ListRules returns all rules, active first, priority descending.
func (s *Store) ListRules() ([]EvaluatorRule, error) {
	return s.listRules(ruleSelect + ` ORDER BY is_active DESC, priority DESC, name`)
}

func (s *Store) listRules(query string) ([]EvaluatorRule, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EvaluatorRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) SetRuleActive(id string, active bool) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE evaluator_rules SET is_active = ?, updated_at = ? WHERE id = ?`, active, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRule(id string) error {
	res, err := s.db.Exec(`DELETE FROM evaluator_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const ruleSelect = `SELECT id, name, description, check_prompt, priority, is_active, knowledge_entry_id, created_at, updated_at
	FROM evaluator_rules`

func scanRule(row rowScanner) (EvaluatorRule, error) {
	var r EvaluatorRule
	var entryID sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.CheckPrompt, &r.Priority, &r.IsActive, &entryID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return EvaluatorRule{}, ErrNotFound
	}
	if err != nil {
		return EvaluatorRule{}, err
	}
	r.KnowledgeEntryID = entryID.String
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return EvaluatorRule{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return EvaluatorRule{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
