package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// --- Test Cases ---

func (s *Store) CreateTestCase(tc TestCase) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tags := tc.Tags
	if tags == "" {
		tags = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO test_cases (id, name, email_thread, customer_email, customer_name, subject, order_number, expected_behavior, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tc.ID, tc.Name, tc.EmailThread, tc.CustomerEmail, tc.CustomerName, tc.Subject, tc.OrderNumber, tc.ExpectedBehavior, tags, now,
	)
	return err
}

func (s *Store) GetTestCase(id string) (TestCase, error) {
	row := s.db.QueryRow(testCaseSelect+` WHERE id = ?`, id)
	return scanTestCase(row)
}

// ListTestCases returns test cases newest first. Pass a tag to restrict to
// cases whose tags array contains it.
func (s *Store) ListTestCases(tag string) ([]TestCase, error) {
	query := testCaseSelect
	var args []any
	if tag != "" {
		query += ` WHERE EXISTS (SELECT 1 FROM json_each(test_cases.tags) WHERE json_each.value = ?)`
		args = append(args, tag)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TestCase
	for rows.Next() {
		tc, err := scanTestCase(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, tc)
	}
	return results, rows.Err()
}

// ListTags returns the distinct tags used across all test cases, sorted.
func (s *Store) ListTags() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT json_each.value
		FROM test_cases, json_each(test_cases.tags)
		ORDER BY json_each.value`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *Store) UpdateTestCase(tc TestCase) error {
	tags := tc.Tags
	if tags == "" {
		tags = "[]"
	}
	res, err := s.db.Exec(`
		UPDATE test_cases SET name = ?, email_thread = ?, customer_email = ?, customer_name = ?, subject = ?, order_number = ?, expected_behavior = ?, tags = ?
		WHERE id = ?`,
		tc.Name, tc.EmailThread, tc.CustomerEmail, tc.CustomerName, tc.Subject, tc.OrderNumber, tc.ExpectedBehavior, tags, tc.ID,
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

func (s *Store) DeleteTestCase(id string) error {
	res, err := s.db.Exec(`DELETE FROM test_cases WHERE id = ?`, id)
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

const testCaseSelect = `SELECT id, name, email_thread, customer_email, customer_name, subject, order_number, expected_behavior, tags, created_at
	FROM test_cases`

func scanTestCase(row rowScanner) (TestCase, error) {
	var tc TestCase
	var createdAt string
	err := row.Scan(&tc.ID, &tc.Name, &tc.EmailThread, &tc.CustomerEmail, &tc.CustomerName, &tc.Subject, &tc.OrderNumber, &tc.ExpectedBehavior, &tc.Tags, &createdAt)
	if err == sql.ErrNoRows {
		return TestCase{}, ErrNotFound
	}
	if err != nil {
		return TestCase{}, err
	}
	if tc.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return TestCase{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return tc, nil
}

// TagList decodes the JSON tags column of a test case.
func (tc TestCase) TagList() []string {
	var tags []string
	if err := json.Unmarshal([]byte(tc.Tags), &tags); err != nil {
		return nil
	}
	return tags
}

// --- Test Results ---

// SaveTestResult records one generate or generate+evaluate run. Results are
// append-only; there is no update path.
func (s *Store) SaveTestResult(r TestResult) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var score any
	if r.HasScore {
		score = r.EvaluatorScore
	}
	_, err := s.db.Exec(`
		INSERT INTO test_results (id, test_case_id, prompt_version_id, agent_response, evaluator_score, evaluator_reasoning, rule_checks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TestCaseID, nullable(r.PromptVersionID), r.AgentResponse, score, nullable(r.EvaluatorReasoning), nullable(r.RuleChecks), now,
	)
	return err
}

func (s *Store) GetTestResult(id string) (TestResult, error) {
	row := s.db.QueryRow(testResultSelect+` WHERE r.id = ?`, id)
	return scanTestResult(row)
}

// ListTestResults returns results newest first, with the test case and
// prompt version names joined in. Either filter may be empty.
func (s *Store) ListTestResults(testCaseID, promptVersionID string) ([]TestResult, error) {
	query := testResultSelect
	var args []any
	var where []string
	if testCaseID != "" {
		where = append(where, `r.test_case_id = ?`)
		args = append(args, testCaseID)
	}
	if promptVersionID != "" {
		where = append(where, `r.prompt_version_id = ?`)
		args = append(args, promptVersionID)
	}
	for i, cond := range where {
		if i == 0 {
			query += ` WHERE ` + cond
		} else {
			query += ` AND ` + cond
		}
	}
	query += ` ORDER BY r.created_at DESC, r.id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TestResult
	for rows.Next() {
		r, err := scanTestResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

const testResultSelect = `SELECT r.id, r.test_case_id, r.prompt_version_id, r.agent_response,
		r.evaluator_score, r.evaluator_reasoning, r.rule_checks, r.created_at,
		COALESCE(tc.name, ''), COALESCE(pv.name, '')
	FROM test_results r
	LEFT JOIN test_cases tc ON tc.id = r.test_case_id
	LEFT JOIN prompt_versions pv ON pv.id = r.prompt_version_id`

func scanTestResult(row rowScanner) (TestResult, error) {
	var r TestResult
	var versionID, reasoning, ruleChecks sql.NullString
	var score sql.NullInt64
	var createdAt string
	err := row.Scan(
		&r.ID, &r.TestCaseID, &versionID, &r.AgentResponse,
		&score, &reasoning, &ruleChecks, &createdAt,
		&r.TestCaseName, &r.PromptVersionName,
	)
	if err == sql.ErrNoRows {
		return TestResult{}, ErrNotFound
	}
	if err != nil {
		return TestResult{}, err
	}
	r.PromptVersionID = versionID.String
	r.EvaluatorReasoning = reasoning.String
	r.RuleChecks = ruleChecks.String
	if score.Valid {
		r.EvaluatorScore = int(score.Int64)
		r.HasScore = true
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return TestResult{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return r, nil
}
