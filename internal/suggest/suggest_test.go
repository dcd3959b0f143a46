package suggest

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kalambet/promptbench/internal/anthropic"
	"github.com/kalambet/promptbench/internal/evaluator"
	"github.com/kalambet/promptbench/internal/promptgen"
	"github.com/kalambet/promptbench/internal/storage"
)

type stubGateway struct {
	reply      string
	lastSystem string
	lastUser   string
}

func (g *stubGateway) Generate(_ context.Context, system string, messages []anthropic.Message, _ int) (anthropic.Response, error) {
	g.lastSystem = system
	if len(messages) > 0 {
		g.lastUser = messages[0].Content
	}
	return anthropic.Response{Text: g.reply, Model: "stub"}, nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newEngine(s *storage.Store, gw *stubGateway) *Engine {
	return New(s, gw, promptgen.New(s, gw))
}

func sampleEvaluation() evaluator.Evaluation {
	return evaluator.Evaluation{
		Score:     45,
		Reasoning: "Promised a refund against policy.",
		RuleChecks: map[string]evaluator.RuleCheck{
			"no_refund_promises": {Passed: false, Reasoning: "Explicit refund promise."},
		},
	}
}

func suggestionReply(suggestions []map[string]any) string {
	b, _ := json.Marshal(map[string]any{
		"suggestions": suggestions,
		"summary":     "Tighten refund policy guidance.",
	})
	return "```json\n" + string(b) + "\n```"
}

func TestGenerate(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateKnowledgeEntry(storage.KnowledgeEntry{ID: "k1", Category: "policies", Key: "refunds", Value: "30 days"}); err != nil {
		t.Fatalf("CreateKnowledgeEntry: %v", err)
	}

	gw := &stubGateway{reply: suggestionReply([]map[string]any{
		{
			"type": "add_to_existing", "stepTitle": "Policies", "stepCategory": "policies",
			"questionTitle": "refund_approval", "questionValue": "Refunds require manager approval.",
			"reasoning": "Prevents refund promises.", "priority": "high", "ruleViolated": "no_refund_promises",
		},
	})}

	result, err := newEngine(s, gw).Generate(context.Background(), "Where is my refund?", "You'll get one today!", sampleEvaluation())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(result.Suggestions) != 1 {
		t.Fatalf("suggestions = %d, want 1", len(result.Suggestions))
	}
	sug := result.Suggestions[0]
	if sug.StepCategory != "policies" || sug.Priority != "high" {
		t.Errorf("suggestion = %+v", sug)
	}
	if sug.ID == "" {
		t.Error("suggestion id not assigned")
	}
	if !strings.Contains(gw.lastSystem, "**Policies** (category: \"policies\")") {
		t.Error("system prompt missing wizard steps")
	}
	if !strings.Contains(gw.lastUser, "**Score**: 45/100") {
		t.Errorf("user prompt missing score:\n%s", gw.lastUser)
	}
	if !strings.Contains(gw.lastUser, "no_refund_promises") {
		t.Error("user prompt missing rule check")
	}
}

func TestGenerateCapsAtThree(t *testing.T) {
	s := openTestStore(t)

	var many []map[string]any
	for _, title := range []string{"a", "b", "c", "d", "e", "f"} {
		many = append(many, map[string]any{
			"type": "add_to_existing", "stepCategory": "policies",
			"questionTitle": title, "questionValue": "v", "priority": "medium",
		})
	}
	gw := &stubGateway{reply: suggestionReply(many)}

	result, err := newEngine(s, gw).Generate(context.Background(), "e", "a", sampleEvaluation())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(result.Suggestions) != 3 {
		t.Errorf("suggestions = %d, want capped at 3", len(result.Suggestions))
	}
}

func TestGenerateDropsUnknownCategories(t *testing.T) {
	s := openTestStore(t)

	gw := &stubGateway{reply: suggestionReply([]map[string]any{
		{"stepCategory": "made_up_category", "questionTitle": "x", "questionValue": "y", "priority": "high"},
		{"stepCategory": "tone", "questionTitle": "signoff_style", "questionValue": "End warmly.", "priority": "invalid"},
	})}

	result, err := newEngine(s, gw).Generate(context.Background(), "e", "a", sampleEvaluation())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(result.Suggestions) != 1 {
		t.Fatalf("suggestions = %d, want 1 after dropping unknown category", len(result.Suggestions))
	}
	if result.Suggestions[0].StepCategory != "tone" {
		t.Errorf("kept = %+v", result.Suggestions[0])
	}
	if result.Suggestions[0].Priority != "medium" {
		t.Errorf("invalid priority not normalized: %q", result.Suggestions[0].Priority)
	}
	if result.Suggestions[0].StepTitle != "Tone & Sign-offs" {
		t.Errorf("step title not resolved: %q", result.Suggestions[0].StepTitle)
	}
}

func TestGenerateParseFallback(t *testing.T) {
	s := openTestStore(t)
	gw := &stubGateway{reply: "Sorry, I have no suggestions in the requested format."}

	result, err := newEngine(s, gw).Generate(context.Background(), "e", "a", sampleEvaluation())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(result.Suggestions) != 0 {
		t.Errorf("suggestions = %d, want 0", len(result.Suggestions))
	}
	if result.Summary != fallbackSummary {
		t.Errorf("summary = %q", result.Summary)
	}
}

func TestApply(t *testing.T) {
	s := openTestStore(t)
	gw := &stubGateway{}

	result, err := newEngine(s, gw).Apply(context.Background(), ApplyRequest{
		StepCategory:  "policies",
		QuestionTitle: "refund_approval",
		QuestionValue: "Refunds require manager approval.",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.PromptUpdated {
		t.Error("prompt marked updated without a version id")
	}

	entry, err := s.GetKnowledgeEntry(result.EntryID)
	if err != nil {
		t.Fatalf("GetKnowledgeEntry: %v", err)
	}
	if entry.Category != "policies" || entry.Key != "refund_approval" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestApplyRegeneratesPrompt(t *testing.T) {
	s := openTestStore(t)
	gw := &stubGateway{reply: "You are the Acme support agent."}

	if err := s.CreatePromptVersion(storage.PromptVersion{ID: "v1", Name: "base", SystemPrompt: "old", UserPrompt: "old user", IsActive: true}); err != nil {
		t.Fatalf("CreatePromptVersion: %v", err)
	}

	result, err := newEngine(s, gw).Apply(context.Background(), ApplyRequest{
		StepCategory:    "policies",
		QuestionTitle:   "refund_approval",
		QuestionValue:   "Refunds require manager approval.",
		PromptVersionID: "v1",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.PromptUpdated {
		t.Fatal("prompt not updated")
	}

	v, err := s.GetPromptVersion("v1")
	if err != nil {
		t.Fatalf("GetPromptVersion: %v", err)
	}
	if v.SystemPrompt != "You are the Acme support agent." {
		t.Errorf("system prompt = %q", v.SystemPrompt)
	}
}

func TestApplySkipRegenerate(t *testing.T) {
	s := openTestStore(t)
	gw := &stubGateway{reply: "new prompt"}

	if err := s.CreatePromptVersion(storage.PromptVersion{ID: "v1", Name: "base", SystemPrompt: "old", UserPrompt: "u"}); err != nil {
		t.Fatalf("CreatePromptVersion: %v", err)
	}

	result, err := newEngine(s, gw).Apply(context.Background(), ApplyRequest{
		StepCategory:    "policies",
		QuestionTitle:   "k",
		QuestionValue:   "v",
		PromptVersionID: "v1",
		SkipRegenerate:  true,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.PromptUpdated {
		t.Error("prompt updated despite SkipRegenerate")
	}

	v, err := s.GetPromptVersion("v1")
	if err != nil {
		t.Fatalf("GetPromptVersion: %v", err)
	}
	if v.SystemPrompt != "old" {
		t.Errorf("system prompt changed: %q", v.SystemPrompt)
	}
}

func TestApplyMissingFields(t *testing.T) {
	s := openTestStore(t)
	if _, err := newEngine(s, &stubGateway{}).Apply(context.Background(), ApplyRequest{StepCategory: "policies"}); err == nil {
		t.Fatal("expected error for missing fields")
	}
}
