// Package evaluator scores agent responses against the rule catalog using
// an LLM judge.
package evaluator

import (
	"context"
	"fmt"

	"github.com/kalambet/promptbench/internal/anthropic"
	"github.com/kalambet/promptbench/internal/composer"
	"github.com/kalambet/promptbench/internal/jsonblock"
	"github.com/kalambet/promptbench/internal/storage"
)

const evalMaxTokens = 2048

// Gateway is the LLM call the evaluator needs.
type Gateway interface {
	Generate(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (anthropic.Response, error)
}

// RuleCheck is the judge's verdict on one rule.
type RuleCheck struct {
	Passed    bool   `json:"passed"`
	Reasoning string `json:"reasoning"`
}

// Evaluation is the parsed and validated judge output.
type Evaluation struct {
	Score      int                  `json:"score"`
	Reasoning  string               `json:"reasoning"`
	RuleChecks map[string]RuleCheck `json:"ruleChecks"`
}

// ParseError is returned when the judge's reply could not be parsed or
// failed validation. Raw carries the model text for logging.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing evaluation: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Evaluator orchestrates prompt assembly, the judge call, and validation.
type Evaluator struct {
	store   *storage.Store
	gateway Gateway
}

func New(store *storage.Store, gateway Gateway) *Evaluator {
	return &Evaluator{store: store, gateway: gateway}
}

// Evaluate judges an agent response against the active rules and the
// knowledge store. Returns composer.ErrNoActiveRules when no rules are
// active, and *ParseError when the judge's reply is unusable.
func (e *Evaluator) Evaluate(ctx context.Context, emailThread, agentResponse, expectedBehavior string) (Evaluation, error) {
	rules, err := e.store.ListActiveRules()
	if err != nil {
		return Evaluation{}, fmt.Errorf("loading active rules: %w", err)
	}

	entries, err := e.store.ListKnowledge("")
	if err != nil {
		return Evaluation{}, fmt.Errorf("loading knowledge: %w", err)
	}

	system, err := composer.RenderEvaluationPrompt(entries, rules, expectedBehavior)
	if err != nil {
		return Evaluation{}, err
	}
	userContext := composer.RenderEvaluationContext(emailThread, agentResponse, expectedBehavior)

	resp, err := e.gateway.Generate(ctx, system, []anthropic.Message{{Role: "user", Content: userContext}}, evalMaxTokens)
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluation call: %w", err)
	}

	return parseEvaluation(resp.Text, rules)
}

// parseEvaluation extracts and validates the judge's JSON verdict. Every
// active rule must have a check in the reply; a reply the judge dropped
// rules from is rejected rather than silently scored.
func parseEvaluation(text string, rules []storage.EvaluatorRule) (Evaluation, error) {
	var ev Evaluation
	if err := jsonblock.Decode(text, &ev); err != nil {
		return Evaluation{}, &ParseError{Raw: text, Err: err}
	}

	if ev.Score < 0 || ev.Score > 100 {
		return Evaluation{}, &ParseError{Raw: text, Err: fmt.Errorf("score %d out of range", ev.Score)}
	}
	if ev.Reasoning == "" {
		return Evaluation{}, &ParseError{Raw: text, Err: fmt.Errorf("missing reasoning")}
	}
	if ev.RuleChecks == nil {
		return Evaluation{}, &ParseError{Raw: text, Err: fmt.Errorf("missing ruleChecks")}
	}
	for _, r := range rules {
		if _, ok := ev.RuleChecks[r.Name]; !ok {
			return Evaluation{}, &ParseError{Raw: text, Err: fmt.Errorf("ruleChecks missing rule %q", r.Name)}
		}
	}

	return ev, nil
}
