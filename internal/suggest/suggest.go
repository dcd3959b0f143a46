// Package suggest turns evaluation results into training data improvements
// and applies them back to the knowledge store.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/promptbench/internal/anthropic"
	"github.com/kalambet/promptbench/internal/evaluator"
	"github.com/kalambet/promptbench/internal/jsonblock"
	"github.com/kalambet/promptbench/internal/promptgen"
	"github.com/kalambet/promptbench/internal/storage"
)

const (
	suggestMaxTokens = 4096
	maxSuggestions   = 3
	fallbackSummary  = "Unable to generate suggestions at this time."
)

// Gateway is the LLM call suggestion generation needs.
type Gateway interface {
	Generate(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (anthropic.Response, error)
}

// Suggestion proposes one knowledge entry to add or extend. StepCategory
// is always one of the existing wizard step categories.
type Suggestion struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	StepTitle     string `json:"stepTitle"`
	StepCategory  string `json:"stepCategory"`
	QuestionTitle string `json:"questionTitle"`
	QuestionValue string `json:"questionValue"`
	Reasoning     string `json:"reasoning"`
	Priority      string `json:"priority"`
	RuleViolated  string `json:"ruleViolated,omitempty"`
}

// Result is a bounded batch of suggestions plus a one-line summary.
type Result struct {
	Suggestions []Suggestion `json:"suggestions"`
	Summary     string       `json:"summary"`
}

// Engine generates and applies suggestions.
type Engine struct {
	store   *storage.Store
	gateway Gateway
	prompts *promptgen.Generator
	logger  *slog.Logger
}

func New(store *storage.Store, gateway Gateway, prompts *promptgen.Generator) *Engine {
	return &Engine{store: store, gateway: gateway, prompts: prompts, logger: slog.Default()}
}

// Generate proposes training data improvements from an evaluation. A reply
// that cannot be parsed yields an empty suggestion list with a fallback
// summary rather than an error; the workbench stays usable when the model
// rambles.
func (e *Engine) Generate(ctx context.Context, emailThread, agentResponse string, ev evaluator.Evaluation) (Result, error) {
	entries, err := e.store.ListKnowledge("")
	if err != nil {
		return Result{}, fmt.Errorf("loading knowledge: %w", err)
	}
	steps, err := e.store.ListWizardSteps()
	if err != nil {
		return Result{}, fmt.Errorf("loading wizard steps: %w", err)
	}

	system := buildSystemPrompt(entries, steps)
	user := buildUserPrompt(emailThread, agentResponse, ev)

	resp, err := e.gateway.Generate(ctx, system, []anthropic.Message{{Role: "user", Content: user}}, suggestMaxTokens)
	if err != nil {
		return Result{}, fmt.Errorf("suggestion call: %w", err)
	}

	var result Result
	if err := jsonblock.Decode(resp.Text, &result); err != nil {
		e.logger.Warn("failed to parse suggestions, returning empty set", "error", err)
		return Result{Suggestions: []Suggestion{}, Summary: fallbackSummary}, nil
	}

	result.Suggestions = sanitize(result.Suggestions, steps, e.logger)
	if result.Suggestions == nil {
		result.Suggestions = []Suggestion{}
	}
	if result.Summary == "" {
		result.Summary = fallbackSummary
	}
	return result, nil
}

// sanitize enforces the suggestion contract: known wizard categories only,
// required fields present, at most maxSuggestions, ids assigned.
func sanitize(suggestions []Suggestion, steps []storage.WizardStep, logger *slog.Logger) []Suggestion {
	known := map[string]string{}
	for _, s := range steps {
		known[s.Category] = s.Title
	}

	var kept []Suggestion
	for _, sug := range suggestions {
		title, ok := known[sug.StepCategory]
		if !ok {
			logger.Warn("dropping suggestion with unknown category", "category", sug.StepCategory)
			continue
		}
		if sug.QuestionTitle == "" || sug.QuestionValue == "" {
			logger.Warn("dropping incomplete suggestion", "title", sug.QuestionTitle)
			continue
		}
		sug.StepTitle = title
		sug.Type = "add_to_existing"
		if sug.ID == "" {
			sug.ID = "sug_" + uuid.New().String()[:8]
		}
		switch sug.Priority {
		case "high", "medium", "low":
		default:
			sug.Priority = "medium"
		}
		kept = append(kept, sug)
		if len(kept) == maxSuggestions {
			break
		}
	}
	return kept
}

// ApplyRequest applies one suggestion to the knowledge store.
// PromptVersionID, when set, asks for the version's prompts to be
// regenerated from the updated training data; SkipRegenerate suppresses
// that for batch application.
type ApplyRequest struct {
	StepCategory    string `json:"stepCategory"`
	QuestionTitle   string `json:"questionTitle"`
	QuestionValue   string `json:"questionValue"`
	PromptVersionID string `json:"promptVersionId,omitempty"`
	SkipRegenerate  bool   `json:"skipRegenerate,omitempty"`
}

// ApplyResult reports what Apply did.
type ApplyResult struct {
	EntryID       string `json:"entry_id"`
	PromptUpdated bool   `json:"prompt_updated"`
	Message       string `json:"message"`
}

// Apply upserts the suggested knowledge entry and, unless skipped,
// regenerates the named prompt version from the updated training data.
// Regeneration failure is logged, not fatal: the knowledge write stands.
func (e *Engine) Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	if req.StepCategory == "" || req.QuestionTitle == "" || req.QuestionValue == "" {
		return ApplyResult{}, fmt.Errorf("stepCategory, questionTitle, and questionValue are required")
	}

	sortOrder, err := e.store.NextSortOrder(req.StepCategory)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("computing sort order: %w", err)
	}

	entryID, err := e.store.UpsertKnowledgeEntry(storage.KnowledgeEntry{
		ID:           uuid.New().String(),
		Category:     req.StepCategory,
		Key:          req.QuestionTitle,
		Value:        req.QuestionValue,
		DisplayTitle: req.QuestionTitle,
		SortOrder:    sortOrder,
	})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("applying suggestion: %w", err)
	}

	result := ApplyResult{
		EntryID: entryID,
		Message: fmt.Sprintf("Added %q to %q", req.QuestionTitle, req.StepCategory),
	}

	if req.PromptVersionID != "" && !req.SkipRegenerate {
		gen, err := e.prompts.GenerateFromTraining(ctx)
		if err != nil {
			e.logger.Warn("prompt regeneration failed, knowledge entry kept", "error", err)
			return result, nil
		}
		if err := e.store.UpdatePromptVersionText(req.PromptVersionID, gen.SystemPrompt, gen.UserPrompt); err != nil {
			e.logger.Warn("updating prompt version failed", "version_id", req.PromptVersionID, "error", err)
			return result, nil
		}
		result.PromptUpdated = true
		result.Message += ". Prompt updated"
	}

	return result, nil
}

func buildSystemPrompt(entries []storage.KnowledgeEntry, steps []storage.WizardStep) string {
	var stepInfo strings.Builder
	titles := map[string]string{}
	for _, s := range steps {
		fmt.Fprintf(&stepInfo, "- **%s** (category: %q)\n", s.Title, s.Category)
		titles[s.Category] = s.Title
	}

	var categories []string
	byCategory := map[string][]storage.KnowledgeEntry{}
	for _, e := range entries {
		if _, ok := byCategory[e.Category]; !ok {
			categories = append(categories, e.Category)
		}
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	var kb strings.Builder
	for i, cat := range categories {
		if i > 0 {
			kb.WriteString("\n\n")
		}
		title := titles[cat]
		if title == "" {
			title = cat
		}
		fmt.Fprintf(&kb, "### %s (%s)\n", title, cat)
		for j, e := range byCategory[cat] {
			if j > 0 {
				kb.WriteString("\n")
			}
			fmt.Fprintf(&kb, "- **%s**: %s", e.Key, e.Value)
		}
	}

	return fmt.Sprintf(`You are an AI assistant that helps improve customer service agent training data.
Your job is to analyze evaluation results and suggest specific improvements to the training knowledge base.

## AVAILABLE TRAINING WIZARD STEPS

You MUST use one of these existing steps for your suggestions:

%s
## Current Knowledge Base Entries

%s

## Your Task

Based on the evaluation results, suggest specific improvements to add to the training wizard.

**CRITICAL: You MUST use existing steps from the list above.** Map each suggestion to the most appropriate existing step.
- Do NOT create new steps
- Do NOT invent new category names
- Pick the best-fit existing step for each suggestion

## Output Format

Respond with a JSON object:
`+"```json"+`
{
  "suggestions": [
    {
      "id": "unique_id",
      "type": "add_to_existing",
      "stepTitle": "Exact Step Title from list above",
      "stepCategory": "exact_category_slug_from_list_above",
      "questionTitle": "short_snake_case_key",
      "questionValue": "The actual content/value to add",
      "reasoning": "Why this improvement is needed",
      "priority": "high|medium|low",
      "ruleViolated": "Name of the rule that was violated (if applicable)"
    }
  ],
  "summary": "Brief summary of all suggested improvements"
}
`+"```"+`

Guidelines:
- **ALWAYS use existing steps** - Pick the closest matching step from the list above
- **MAXIMUM 3 SUGGESTIONS** - Focus on the most impactful improvements only
- **NO REPETITION** - If multiple issues stem from the same root cause, consolidate into ONE comprehensive suggestion
- **ONE suggestion per rule violation** - Don't create separate suggestions for examples, rules, and guidelines about the same issue
- **questionTitle must be short snake_case** - e.g., "escalation_timeframe", "refund_policy"
- Only suggest improvements that would prevent the identified issues
- Be specific and actionable
- Priority should be "high" for rule violations, "medium" for quality issues, "low" for minor improvements
- Generate unique IDs using format "sug_" + random string
- If the score is 80+, suggest at most 1 improvement or none at all`, stepInfo.String(), kb.String())
}

func buildUserPrompt(emailThread, agentResponse string, ev evaluator.Evaluation) string {
	var checks strings.Builder
	for rule, check := range ev.RuleChecks {
		status := "FAILED"
		if check.Passed {
			status = "PASSED"
		}
		fmt.Fprintf(&checks, "- **%s**: %s - %s\n", rule, status, check.Reasoning)
	}

	return fmt.Sprintf(`## Evaluation Results

**Score**: %d/100

**Overall Assessment**:
%s

**Rule Checks**:
%s
## Original Email Thread
%s

## Agent Response That Was Evaluated
%s

---

Please analyze these results and suggest specific improvements to add to the training wizard.
Focus especially on any failed rule checks - what knowledge could be added to prevent these failures?
If the score is already high (80+), you may suggest fewer or no improvements.`,
		ev.Score, ev.Reasoning, checks.String(), emailThread, agentResponse)
}
