package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Prompt Versions ---

// CreatePromptVersion inserts a new version. When v.IsActive is set, all
// other versions are deactivated in the same transaction so the single
// active version invariant holds.
func (s *Store) CreatePromptVersion(v PromptVersion) error {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if v.IsActive {
		if _, err := tx.Exec(`UPDATE prompt_versions SET is_active = 0 WHERE is_active = 1`); err != nil {
			return fmt.Errorf("deactivating versions: %w", err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO prompt_versions (id, name, system_prompt, user_prompt, is_active, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Name, v.SystemPrompt, v.UserPrompt, v.IsActive, v.Notes, now,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) GetPromptVersion(id string) (PromptVersion, error) {
	row := s.db.QueryRow(promptSelect+` WHERE id = ?`, id)
	return scanPromptVersion(row)
}

// GetActivePromptVersion returns the single active version, or ErrNotFound.
func (s *Store) GetActivePromptVersion() (PromptVersion, error) {
	row := s.db.QueryRow(promptSelect + ` WHERE is_active = 1 LIMIT 1`)
	return scanPromptVersion(row)
}

func (s *Store) ListPromptVersions() ([]PromptVersion, error) {
	rows, err := s.db.Query(promptSelect + ` ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PromptVersion
	for rows.Next() {
		v, err := scanPromptVersion(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

// UpdatePromptVersion rewrites name, prompts, and notes for a version.
func (s *Store) UpdatePromptVersion(v PromptVersion) error {
	res, err := s.db.Exec(`
		UPDATE prompt_versions SET name = ?, system_prompt = ?, user_prompt = ?, notes = ?
		WHERE id = ?`,
		v.Name, v.SystemPrompt, v.UserPrompt, v.Notes, v.ID,
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

// UpdatePromptVersionText overwrites just the prompt texts, used when a
// version is regenerated after a knowledge change.
func (s *Store) UpdatePromptVersionText(id, systemPrompt, userPrompt string) error {
	res, err := s.db.Exec(`
		UPDATE prompt_versions SET system_prompt = ?, user_prompt = ? WHERE id = ?`,
		systemPrompt, userPrompt, id,
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

// ActivatePromptVersion makes the given version the single active one.
// Deactivate-all and activate-target run in one transaction; activating a
// missing id rolls back, leaving the previous active version in place.
func (s *Store) ActivatePromptVersion(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE prompt_versions SET is_active = 0 WHERE is_active = 1`); err != nil {
		return fmt.Errorf("deactivating versions: %w", err)
	}

	res, err := tx.Exec(`UPDATE prompt_versions SET is_active = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("activating version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (s *Store) DeletePromptVersion(id string) error {
	res, err := s.db.Exec(`DELETE FROM prompt_versions WHERE id = ?`, id)
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

const promptSelect = `SELECT id, name, system_prompt, user_prompt, is_active, notes, created_at
	FROM prompt_versions`

func scanPromptVersion(row rowScanner) (PromptVersion, error) {
	var v PromptVersion
	var createdAt string
	err := row.Scan(&v.ID, &v.Name, &v.SystemPrompt, &v.UserPrompt, &v.IsActive, &v.Notes, &createdAt)
	if err == sql.ErrNoRows {
		return PromptVersion{}, ErrNotFound
	}
	if err != nil {
		return PromptVersion{}, err
	}
	if v.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return PromptVersion{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return v, nil
}
