package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a create violates a unique constraint
// (duplicate category+key, duplicate rule name, duplicate step category).
var ErrConflict = errors.New("already exists")

// KnowledgeEntry is one fact, policy, or answer in the business's
// operating knowledge. Unique on (Category, Key).
type KnowledgeEntry struct {
	ID           string
	Category     string
	Key          string
	Value        string
	DisplayTitle string
	SortOrder    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Title returns the display title, falling back to the key.
func (e KnowledgeEntry) Title() string {
	if e.DisplayTitle != "" {
		return e.DisplayTitle
	}
	return e.Key
}

// WizardStep is one step of the training wizard. Its category slug is the
// namespace knowledge entries live under.
type WizardStep struct {
	ID        string
	Title     string
	Category  string
	SortOrder int
	CreatedAt time.Time
}

// EvaluatorRule is one natural-language predicate the evaluator checks.
// KnowledgeEntryID links a synthesized rule back to the entry it was
// derived from; manually authored rules leave it empty.
type EvaluatorRule struct {
	ID               string
	Name             string
	Description      string
	CheckPrompt      string
	Priority         int // 1-10, higher checked first
	IsActive         bool
	KnowledgeEntryID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PromptVersion is one versioned (system prompt, user prompt) pair.
// At most one version is active at a time.
type PromptVersion struct {
	ID           string
	Name         string
	SystemPrompt string
	UserPrompt   string
	IsActive     bool
	Notes        string
	CreatedAt    time.Time
}

// TestCase is a sample customer email thread plus optional ground truth.
type TestCase struct {
	ID               string
	Name             string
	EmailThread      string
	CustomerEmail    string
	CustomerName     string
	Subject          string
	OrderNumber      string
	ExpectedBehavior string
	Tags             string // JSON array stored as text
	CreatedAt        time.Time
}

// TestResult is an append-only record of one generate+evaluate run.
// Evaluator fields are empty when the run was generate-only; HasScore
// distinguishes a real zero score from "not evaluated".
type TestResult struct {
	ID                 string
	TestCaseID         string
	PromptVersionID    string
	AgentResponse      string
	EvaluatorScore     int
	HasScore           bool
	EvaluatorReasoning string
	RuleChecks         string // JSON object stored as text
	CreatedAt          time.Time
	TestCaseName       string // joined, list queries only
	PromptVersionName  string // joined, list queries only
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
