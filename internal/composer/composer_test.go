package composer

import (
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/promptbench/internal/storage"
)

func TestRenderTrainingData(t *testing.T) {
	entries := []storage.KnowledgeEntry{
		{Category: "business", Key: "company_name", DisplayTitle: "Company Name", Value: "Acme Co"},
		{Category: "business", Key: "products", Value: "Widgets"},
		{Category: "policies", Key: "refunds", Value: "30 day window"},
		{Category: "policies", Key: "empty_entry", Value: "   "},
	}

	text, err := RenderTrainingData(entries)
	if err != nil {
		t.Fatalf("RenderTrainingData: %v", err)
	}

	if !strings.HasPrefix(text, "TRAINING DATA:\n\n") {
		t.Errorf("missing header: %q", text[:30])
	}
	if !strings.Contains(text, "## BUSINESS\n") || !strings.Contains(text, "## POLICIES\n") {
		t.Errorf("categories not uppercased:\n%s", text)
	}
	if !strings.Contains(text, "### Company Name\nAcme Co\n") {
		t.Errorf("display title not used:\n%s", text)
	}
	if !strings.Contains(text, "### products\nWidgets\n") {
		t.Errorf("key fallback missing:\n%s", text)
	}
	if strings.Contains(text, "empty_entry") {
		t.Errorf("blank-value entry should be skipped:\n%s", text)
	}

	// Same input renders the same output.
	again, err := RenderTrainingData(entries)
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if text != again {
		t.Error("rendering is not deterministic")
	}
}

func TestRenderTrainingDataEmpty(t *testing.T) {
	_, err := RenderTrainingData(nil)
	if !errors.Is(err, ErrNoTrainingData) {
		t.Fatalf("err = %v, want ErrNoTrainingData", err)
	}
	_, err = RenderTrainingData([]storage.KnowledgeEntry{{Category: "x", Key: "y", Value: ""}})
	if !errors.Is(err, ErrNoTrainingData) {
		t.Fatalf("all-blank err = %v, want ErrNoTrainingData", err)
	}
}

func TestRenderEvaluationPrompt(t *testing.T) {
	entries := []storage.KnowledgeEntry{
		{Category: "policies", Key: "refunds", Value: "30 days"},
	}
	rules := []storage.EvaluatorRule{
		{Name: "always_sign_off", Description: "Responses end with a sign-off", CheckPrompt: "Does the response end with a sign-off?", Priority: 9},
		{Name: "no_refund_promises", CheckPrompt: "Does the response avoid promising refunds?", Priority: 5},
	}

	prompt, err := RenderEvaluationPrompt(entries, rules, "")
	if err != nil {
		t.Fatalf("RenderEvaluationPrompt: %v", err)
	}

	if !strings.Contains(prompt, "## Business Context") {
		t.Error("missing business context section")
	}
	if !strings.Contains(prompt, "- **refunds**: 30 days") {
		t.Error("knowledge entry not rendered")
	}
	if !strings.Contains(prompt, "### always_sign_off\nResponses end with a sign-off\nCheck: Does the response end with a sign-off?\nPriority: 9") {
		t.Errorf("rule block not rendered:\n%s", prompt)
	}
	// Rules arrive priority-sorted; rendering preserves the order.
	if strings.Index(prompt, "always_sign_off") > strings.Index(prompt, "no_refund_promises") {
		t.Error("rule order not preserved")
	}
	if strings.Contains(prompt, "Expected Behavior Check") {
		t.Error("expected behavior section present without expected behavior")
	}
	if !strings.Contains(prompt, "3. Provide reasoning for each rule check") {
		t.Error("task steps misnumbered without expected behavior")
	}
}

func TestRenderEvaluationPromptExpectedBehavior(t *testing.T) {
	rules := []storage.EvaluatorRule{{Name: "r", CheckPrompt: "c", Priority: 5}}
	prompt, err := RenderEvaluationPrompt(nil, rules, "offer a replacement")
	if err != nil {
		t.Fatalf("RenderEvaluationPrompt: %v", err)
	}
	if !strings.Contains(prompt, "### Expected Behavior Check") {
		t.Error("missing expected behavior rule")
	}
	if !strings.Contains(prompt, `"offer a replacement"`) {
		t.Error("expected behavior text missing")
	}
	if !strings.Contains(prompt, "3. Check if the response meets the Expected Behavior") {
		t.Error("expected behavior step missing")
	}
	if !strings.Contains(prompt, "4. Provide reasoning for each rule check") {
		t.Error("task steps not renumbered with expected behavior")
	}
	if !strings.Contains(prompt, "   - Meeting the expected behavior") {
		t.Error("scoring criteria missing expected behavior line")
	}
}

func TestRenderEvaluationPromptNoRules(t *testing.T) {
	_, err := RenderEvaluationPrompt(nil, nil, "")
	if !errors.Is(err, ErrNoActiveRules) {
		t.Fatalf("err = %v, want ErrNoActiveRules", err)
	}
}

func TestRenderEvaluationContext(t *testing.T) {
	ctx := RenderEvaluationContext("customer email", "agent reply", "")
	if !strings.HasPrefix(ctx, "## Email Thread\ncustomer email\n\n## Agent Response\nagent reply") {
		t.Errorf("context = %q", ctx)
	}
	if strings.Contains(ctx, "## Expected Behavior") {
		t.Error("expected behavior present when empty")
	}

	ctx = RenderEvaluationContext("e", "a", "apologize first")
	if !strings.Contains(ctx, "## Expected Behavior\nThe test case specifies that the agent should: apologize first") {
		t.Errorf("context = %q", ctx)
	}
}

func TestRenderUserMessage(t *testing.T) {
	tc := storage.TestCase{
		EmailThread:   "Where is my order?",
		CustomerName:  "Sam Doe",
		CustomerEmail: "sam@example.com",
		Subject:       "Order status",
		OrderNumber:   "ORD-123",
	}
	msg := RenderUserMessage(DefaultUserPrompt, tc)
	for _, want := range []string{"Where is my order?", "Sam Doe", "sam@example.com", "Order status", "ORD-123"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
	if strings.Contains(msg, "{{") {
		t.Errorf("unfilled placeholder remains:\n%s", msg)
	}
}
