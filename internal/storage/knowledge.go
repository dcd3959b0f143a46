package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Knowledge Entries ---

// CreateKnowledgeEntry inserts a new entry. Returns ErrConflict when an
// entry with the same (category, key) already exists.
func (s *Store) CreateKnowledgeEntry(e KnowledgeEntry) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO knowledge_entries (id, category, key, value, display_title, sort_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Category, e.Key, e.Value, e.DisplayTitle, e.SortOrder, now, now,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("knowledge entry %s/%s: %w", e.Category, e.Key, ErrConflict)
	}
	return err
}

// UpsertKnowledgeEntry inserts the entry, or on a (category, key) conflict
// updates value and display title in place. Returns the id of the row that
// was written (the existing row's id on update).
func (s *Store) UpsertKnowledgeEntry(e KnowledgeEntry) (string, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO knowledge_entries (id, category, key, value, display_title, sort_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category, key) DO UPDATE SET
			value = excluded.value,
			display_title = excluded.display_title,
			updated_at = excluded.updated_at`,
		e.ID, e.Category, e.Key, e.Value, e.DisplayTitle, e.SortOrder, now, now,
	)
	if err != nil {
		return "", err
	}

	var id string
	err = s.db.QueryRow(`SELECT id FROM knowledge_entries WHERE category = ? AND key = ?`, e.Category, e.Key).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("reading back upserted entry: %w", err)
	}
	return id, nil
}

func (s *Store) GetKnowledgeEntry(id string) (KnowledgeEntry, error) {
	row := s.db.QueryRow(`
		SELECT id, category, key, value, display_title, sort_order, created_at, updated_at
		FROM knowledge_entries WHERE id = ?`, id)
	return scanKnowledgeEntry(row)
}

// ListKnowledge returns all entries ordered by category then sort order.
// Pass an empty category to list everything.
func (s *Store) ListKnowledge(category string) ([]KnowledgeEntry, error) {
	query := `SELECT id, category, key, value, display_title, sort_order, created_at, updated_at
		FROM knowledge_entries`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY category, sort_order, key`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []KnowledgeEntry
	for rows.Next() {
		e, err := scanKnowledgeEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// ListCategories returns the distinct categories present in the knowledge
// store, in first-seen (category, sort_order) order.
func (s *Store) ListCategories() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT category FROM knowledge_entries ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// NextSortOrder returns max(sort_order)+1 for the given category.
func (s *Store) NextSortOrder(category string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(sort_order) FROM knowledge_entries WHERE category = ?`, category).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64) + 1, nil
}

// UpdateKnowledgeEntry rewrites value and display title for an entry.
func (s *Store) UpdateKnowledgeEntry(id, value, displayTitle string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE knowledge_entries SET value = ?, display_title = ?, updated_at = ? WHERE id = ?`,
		value, displayTitle, now, id,
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

func (s *Store) DeleteKnowledgeEntry(id string) error {
	res, err := s.db.Exec(`DELETE FROM knowledge_entries WHERE id = ?`, id)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKnowledgeEntry(row rowScanner) (KnowledgeEntry, error) {
	var e KnowledgeEntry
	var createdAt, updatedAt string
	err := row.Scan(&e.ID, &e.Category, &e.Key, &e.Value, &e.DisplayTitle, &e.SortOrder, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return KnowledgeEntry{}, ErrNotFound
	}
	if err != nil {
		return KnowledgeEntry{}, err
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return KnowledgeEntry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return KnowledgeEntry{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return e, nil
}

// --- Wizard Steps ---

// CreateWizardStep inserts a new step. Returns ErrConflict when the
// category slug is already taken.
func (s *Store) CreateWizardStep(step WizardStep) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO wizard_steps (id, title, category, sort_order, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		step.ID, step.Title, step.Category, step.SortOrder, now,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("wizard step %q: %w", step.Category, ErrConflict)
	}
	return err
}

func (s *Store) GetWizardStep(id string) (WizardStep, error) {
	var step WizardStep
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, title, category, sort_order, created_at
		FROM wizard_steps WHERE id = ?`, id,
	).Scan(&step.ID, &step.Title, &step.Category, &step.SortOrder, &createdAt)
	if err == sql.ErrNoRows {
		return WizardStep{}, ErrNotFound
	}
	if err != nil {
		return WizardStep{}, err
	}
	if step.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return WizardStep{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return step, nil
}

func (s *Store) ListWizardSteps() ([]WizardStep, error) {
	rows, err := s.db.Query(`
		SELECT id, title, category, sort_order, created_at
		FROM wizard_steps ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []WizardStep
	for rows.Next() {
		var step WizardStep
		var createdAt string
		if err := rows.Scan(&step.ID, &step.Title, &step.Category, &step.SortOrder, &createdAt); err != nil {
			return nil, err
		}
		if step.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, step)
	}
	return results, rows.Err()
}

// UpdateWizardStep updates title, category, and sort order for the step.
func (s *Store) UpdateWizardStep(step WizardStep) error {
	res, err := s.db.Exec(`
		UPDATE wizard_steps SET title = ?, category = ?, sort_order = ? WHERE id = ?`,
		step.Title, step.Category, step.SortOrder, step.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("wizard step %q: %w", step.Category, ErrConflict)
	}
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

// DeleteWizardStep removes a step. It refuses to delete a step whose
// category still has knowledge entries.
func (s *Store) DeleteWizardStep(id string) error {
	step, err := s.GetWizardStep(id)
	if err != nil {
		return err
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM knowledge_entries WHERE category = ?`, step.Category).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("step %q has %d knowledge entries: %w", step.Category, count, ErrConflict)
	}

	_, err = s.db.Exec(`DELETE FROM wizard_steps WHERE id = ?`, id)
	return err
}
