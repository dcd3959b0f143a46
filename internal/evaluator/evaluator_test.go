package evaluator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/promptbench/internal/anthropic"
	"github.com/kalambet/promptbench/internal/composer"
	"github.com/kalambet/promptbench/internal/storage"
)

type stubGateway struct {
	reply      string
	err        error
	calls      int
	lastSystem string
	lastUser   string
}

func (g *stubGateway) Generate(_ context.Context, system string, messages []anthropic.Message, _ int) (anthropic.Response, error) {
	g.calls++
	g.lastSystem = system
	if len(messages) > 0 {
		g.lastUser = messages[0].Content
	}
	if g.err != nil {
		return anthropic.Response{}, g.err
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

func seedRules(t *testing.T, s *storage.Store) {
	t.Helper()
	rules := []storage.EvaluatorRule{
		{ID: "r1", Name: "always_sign_off", CheckPrompt: "Does the response end with a sign-off?", Priority: 9, IsActive: true},
		{ID: "r2", Name: "no_refund_promises", CheckPrompt: "Does the response avoid promising refunds?", Priority: 5, IsActive: true},
	}
	for _, r := range rules {
		if err := s.CreateRule(r); err != nil {
			t.Fatalf("CreateRule: %v", err)
		}
	}
}

func TestEvaluate(t *testing.T) {
	s := openTestStore(t)
	seedRules(t, s)

	gw := &stubGateway{reply: "```json\n" + `{
		"score": 85,
		"reasoning": "Solid response, polite and accurate.",
		"ruleChecks": {
			"always_sign_off": {"passed": true, "reasoning": "Ends with Best regards."},
			"no_refund_promises": {"passed": false, "reasoning": "Promised a refund."}
		}
	}` + "\n```"}

	ev, err := New(s, gw).Evaluate(context.Background(), "Where is my order?", "It shipped yesterday.\nBest regards", "")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if ev.Score != 85 {
		t.Errorf("score = %d, want 85", ev.Score)
	}
	if !ev.RuleChecks["always_sign_off"].Passed || ev.RuleChecks["no_refund_promises"].Passed {
		t.Errorf("ruleChecks = %+v", ev.RuleChecks)
	}
	if !strings.Contains(gw.lastSystem, "always_sign_off") {
		t.Error("system prompt missing rules")
	}
	if !strings.Contains(gw.lastUser, "## Agent Response\nIt shipped yesterday.") {
		t.Errorf("user context = %q", gw.lastUser)
	}
}

func TestEvaluateNoActiveRules(t *testing.T) {
	s := openTestStore(t)
	gw := &stubGateway{}

	_, err := New(s, gw).Evaluate(context.Background(), "e", "a", "")
	if !errors.Is(err, composer.ErrNoActiveRules) {
		t.Fatalf("err = %v, want ErrNoActiveRules", err)
	}
	if gw.calls != 0 {
		t.Errorf("gateway called %d times with no rules, want 0", gw.calls)
	}
}

func TestEvaluateParseFailure(t *testing.T) {
	s := openTestStore(t)
	seedRules(t, s)

	gw := &stubGateway{reply: "I cannot evaluate this response."}
	_, err := New(s, gw).Evaluate(context.Background(), "e", "a", "")

	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if perr.Raw != "I cannot evaluate this response." {
		t.Errorf("Raw = %q", perr.Raw)
	}
}

func TestEvaluateIncompleteRuleChecks(t *testing.T) {
	s := openTestStore(t)
	seedRules(t, s)

	gw := &stubGateway{reply: `{"score": 90, "reasoning": "fine", "ruleChecks": {"always_sign_off": {"passed": true, "reasoning": "yes"}}}`}
	_, err := New(s, gw).Evaluate(context.Background(), "e", "a", "")

	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *ParseError for dropped rule", err)
	}
	if !strings.Contains(perr.Err.Error(), "no_refund_promises") {
		t.Errorf("error does not name the missing rule: %v", perr.Err)
	}
}

func TestEvaluateScoreOutOfRange(t *testing.T) {
	s := openTestStore(t)
	seedRules(t, s)

	gw := &stubGateway{reply: `{"score": 140, "reasoning": "x", "ruleChecks": {"always_sign_off": {"passed": true, "reasoning": "y"}, "no_refund_promises": {"passed": true, "reasoning": "z"}}}`}
	_, err := New(s, gw).Evaluate(context.Background(), "e", "a", "")

	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *ParseError for out-of-range score", err)
	}
}

func TestEvaluateGatewayError(t *testing.T) {
	s := openTestStore(t)
	seedRules(t, s)

	gwErr := errors.New("connection refused")
	gw := &stubGateway{err: gwErr}
	_, err := New(s, gw).Evaluate(context.Background(), "e", "a", "")
	if !errors.Is(err, gwErr) {
		t.Fatalf("err = %v, want wrapped gateway error", err)
	}
}
