// Package rulegen turns rule-like knowledge entries into evaluator rules.
// Entries whose text contains prescriptive wording are sent to the model,
// which drafts a named check; everything else is skipped without a call.
package rulegen

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/promptbench/internal/anthropic"
	"github.com/kalambet/promptbench/internal/jsonblock"
	"github.com/kalambet/promptbench/internal/storage"
)

const synthMaxTokens = 1024

// Gateway is the LLM call rule synthesis needs.
type Gateway interface {
	Generate(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (anthropic.Response, error)
}

// Outcome describes what SynthesizeForEntry did with an entry.
type Outcome int

const (
	// OutcomeSkipped means the entry had no rule-like wording.
	OutcomeSkipped Outcome = iota
	// OutcomeCreated means a new rule was inserted.
	OutcomeCreated
	// OutcomeUpdated means an existing linked rule was refreshed in place.
	OutcomeUpdated
)

// Synthesizer derives evaluator rules from knowledge entries.
type Synthesizer struct {
	store   *storage.Store
	gateway Gateway
	logger  *slog.Logger
}

func New(store *storage.Store, gateway Gateway) *Synthesizer {
	return &Synthesizer{store: store, gateway: gateway, logger: slog.Default()}
}

func synthesisPrompt(e storage.KnowledgeEntry) string {
	return fmt.Sprintf(`You are helping create an evaluator rule for checking AI customer service agent responses.

Given this training content from the %q category:

**%s**: %s

Generate an evaluator rule that can check if an agent response follows this guidance.

Respond with JSON only:
{
  "name": "short_snake_case_name",
  "description": "Brief description of what this rule checks",
  "check_prompt": "A clear prompt that asks: does the response violate this rule? Include specific things to look for. End with: Return PASS if compliant, FAIL if violated.",
  "priority": 5
}

Priority scale: 1-3 = low, 4-6 = medium, 7-10 = high (based on business impact)

IMPORTANT: The check_prompt should be specific and actionable. Reference the actual content/values from the training.`, e.Category, e.Key, e.Value)
}

type draftRule struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CheckPrompt string `json:"check_prompt"`
	Priority    int    `json:"priority"`
}

// SynthesizeForEntry derives a rule from one knowledge entry. Entries
// without rule-like wording are skipped without touching the model.
// Re-running for an entry that already produced a rule refreshes that
// rule in place, so synthesis is safe to repeat.
func (s *Synthesizer) SynthesizeForEntry(ctx context.Context, entryID string) (Outcome, error) {
	entry, err := s.store.GetKnowledgeEntry(entryID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("loading knowledge entry %s: %w", entryID, err)
	}

	if !ContainsRulePattern(entry.Value) {
		return OutcomeSkipped, nil
	}

	resp, err := s.gateway.Generate(ctx, "", []anthropic.Message{{Role: "user", Content: synthesisPrompt(entry)}}, synthMaxTokens)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("synthesis call: %w", err)
	}

	var draft draftRule
	if err := jsonblock.Decode(resp.Text, &draft); err != nil {
		return OutcomeSkipped, fmt.Errorf("parsing synthesized rule: %w", err)
	}
	if draft.Name == "" || draft.CheckPrompt == "" {
		return OutcomeSkipped, fmt.Errorf("synthesized rule missing name or check_prompt")
	}
	if draft.Priority < 1 || draft.Priority > 10 {
		draft.Priority = 5
	}

	existing, err := s.store.GetRuleByKnowledgeEntry(entry.ID)
	switch {
	case err == nil:
		if err := s.store.UpdateRule(existing.ID, draft.Description, draft.CheckPrompt, draft.Priority); err != nil {
			return OutcomeSkipped, fmt.Errorf("updating rule %s: %w", existing.ID, err)
		}
		return OutcomeUpdated, nil
	case err == storage.ErrNotFound:
		rule := storage.EvaluatorRule{
			ID:               uuid.New().String(),
			Name:             draft.Name,
			Description:      draft.Description,
			CheckPrompt:      draft.CheckPrompt,
			Priority:         draft.Priority,
			IsActive:         true,
			KnowledgeEntryID: entry.ID,
		}
		// A name collision with a rule from another entry resolves to an
		// in-place refresh of that rule.
		if err := s.store.UpsertRuleByName(rule); err != nil {
			return OutcomeSkipped, fmt.Errorf("saving rule %q: %w", rule.Name, err)
		}
		return OutcomeCreated, nil
	default:
		return OutcomeSkipped, fmt.Errorf("checking existing rule: %w", err)
	}
}

// ScanStats summarizes a ScanAll pass.
type ScanStats struct {
	Scanned      int `json:"scanned"`
	WithPatterns int `json:"with_patterns"`
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
}

// ScanAll runs synthesis over every knowledge entry with bounded
// concurrency. Per-entry failures are logged and counted, not fatal.
func (s *Synthesizer) ScanAll(ctx context.Context) (ScanStats, error) {
	entries, err := s.store.ListKnowledge("")
	if err != nil {
		return ScanStats{}, fmt.Errorf("listing knowledge: %w", err)
	}

	stats := ScanStats{Scanned: len(entries)}
	outcomes := make([]Outcome, len(entries))
	failed := make([]bool, len(entries))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid hammering the API.

	for i, entry := range entries {
		if !ContainsRulePattern(entry.Value) {
			stats.Skipped++
			continue
		}
		stats.WithPatterns++

		i, entry := i, entry
		g.Go(func() error {
			outcome, err := s.SynthesizeForEntry(gCtx, entry.ID)
			if err != nil {
				s.logger.Warn("rule synthesis failed", "entry_id", entry.ID, "key", entry.Key, "error", err)
				failed[i] = true
				return nil
			}
			outcomes[i] = outcome
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}

	for i := range entries {
		if failed[i] {
			stats.Failed++
			continue
		}
		switch outcomes[i] {
		case OutcomeCreated:
			stats.Created++
		case OutcomeUpdated:
			stats.Updated++
		}
	}
	return stats, nil
}
