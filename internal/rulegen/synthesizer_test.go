package rulegen

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/kalambet/promptbench/internal/anthropic"
	"github.com/kalambet/promptbench/internal/storage"
)

type countingGateway struct {
	reply string
	calls atomic.Int32
}

func (g *countingGateway) Generate(context.Context, string, []anthropic.Message, int) (anthropic.Response, error) {
	g.calls.Add(1)
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

const draftReply = "```json\n" + `{
	"name": "never_promise_refunds",
	"description": "Agents must not promise refunds.",
	"check_prompt": "Does the response promise a refund? Return PASS if compliant, FAIL if violated.",
	"priority": 8
}` + "\n```"

func TestContainsRulePattern(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"Never promise a refund without approval", true},
		{"always sign off with the company name", true},
		{"Refunds MUST be approved by a manager", true},
		{"Don't share internal links", true},
		{"Our shipping takes 3-5 business days", false},
		{"The company was mustered in 1999", false},
		{"", false},
	}
	for _, c := range cases {
		if got := ContainsRulePattern(c.text); got != c.want {
			t.Errorf("ContainsRulePattern(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestSynthesizeSkipsNonRuleContent(t *testing.T) {
	s := openTestStore(t)
	gw := &countingGateway{reply: draftReply}

	if err := s.CreateKnowledgeEntry(storage.KnowledgeEntry{ID: "k1", Category: "business", Key: "hours", Value: "We are open 9 to 5"}); err != nil {
		t.Fatalf("CreateKnowledgeEntry: %v", err)
	}

	outcome, err := New(s, gw).SynthesizeForEntry(context.Background(), "k1")
	if err != nil {
		t.Fatalf("SynthesizeForEntry: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Errorf("outcome = %v, want OutcomeSkipped", outcome)
	}
	if got := gw.calls.Load(); got != 0 {
		t.Errorf("gateway called %d times for non-rule content, want 0", got)
	}
}

func TestSynthesizeCreatesRule(t *testing.T) {
	s := openTestStore(t)
	gw := &countingGateway{reply: draftReply}

	if err := s.CreateKnowledgeEntry(storage.KnowledgeEntry{ID: "k1", Category: "policies", Key: "refunds", Value: "Never promise refunds without manager approval"}); err != nil {
		t.Fatalf("CreateKnowledgeEntry: %v", err)
	}

	outcome, err := New(s, gw).SynthesizeForEntry(context.Background(), "k1")
	if err != nil {
		t.Fatalf("SynthesizeForEntry: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("outcome = %v, want OutcomeCreated", outcome)
	}

	rule, err := s.GetRuleByKnowledgeEntry("k1")
	if err != nil {
		t.Fatalf("GetRuleByKnowledgeEntry: %v", err)
	}
	if rule.Name != "never_promise_refunds" || rule.Priority != 8 || !rule.IsActive {
		t.Errorf("rule = %+v", rule)
	}
}

func TestSynthesizeIdempotent(t *testing.T) {
	s := openTestStore(t)
	gw := &countingGateway{reply: draftReply}
	synth := New(s, gw)

	if err := s.CreateKnowledgeEntry(storage.KnowledgeEntry{ID: "k1", Category: "policies", Key: "refunds", Value: "Never promise refunds"}); err != nil {
		t.Fatalf("CreateKnowledgeEntry: %v", err)
	}

	if _, err := synth.SynthesizeForEntry(context.Background(), "k1"); err != nil {
		t.Fatalf("first synthesis: %v", err)
	}
	outcome, err := synth.SynthesizeForEntry(context.Background(), "k1")
	if err != nil {
		t.Fatalf("second synthesis: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Errorf("second outcome = %v, want OutcomeUpdated", outcome)
	}

	rules, err := s.ListRules()
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 1 {
		t.Errorf("rule count after re-synthesis = %d, want 1", len(rules))
	}
}

func TestSynthesizePriorityClamped(t *testing.T) {
	s := openTestStore(t)
	gw := &countingGateway{reply: `{"name": "r", "description": "d", "check_prompt": "c. Return PASS if compliant, FAIL if violated.", "priority": 42}`}

	if err := s.CreateKnowledgeEntry(storage.KnowledgeEntry{ID: "k1", Category: "policies", Key: "p", Value: "This is mandatory"}); err != nil {
		t.Fatalf("CreateKnowledgeEntry: %v", err)
	}
	if _, err := New(s, gw).SynthesizeForEntry(context.Background(), "k1"); err != nil {
		t.Fatalf("SynthesizeForEntry: %v", err)
	}

	rule, err := s.GetRuleByKnowledgeEntry("k1")
	if err != nil {
		t.Fatalf("GetRuleByKnowledgeEntry: %v", err)
	}
	if rule.Priority != 5 {
		t.Errorf("priority = %d, want clamped default 5", rule.Priority)
	}
}

func TestScanAll(t *testing.T) {
	s := openTestStore(t)
	gw := &countingGateway{reply: draftReply}

	entries := []storage.KnowledgeEntry{
		{ID: "k1", Category: "policies", Key: "refunds", Value: "Never promise refunds"},
		{ID: "k2", Category: "business", Key: "hours", Value: "Open 9 to 5"},
		{ID: "k3", Category: "tone", Key: "style", Value: "Stay friendly at all times"},
	}
	for _, e := range entries {
		if err := s.CreateKnowledgeEntry(e); err != nil {
			t.Fatalf("CreateKnowledgeEntry %s: %v", e.ID, err)
		}
	}

	stats, err := New(s, gw).ScanAll(context.Background())
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if stats.Scanned != 3 || stats.WithPatterns != 1 || stats.Skipped != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Created != 1 {
		t.Errorf("created = %d, want 1", stats.Created)
	}
	if got := gw.calls.Load(); got != 1 {
		t.Errorf("gateway calls = %d, want 1", got)
	}
}

func TestWorkerProcessesJob(t *testing.T) {
	s := openTestStore(t)
	gw := &countingGateway{reply: draftReply}

	if err := s.CreateKnowledgeEntry(storage.KnowledgeEntry{ID: "k1", Category: "policies", Key: "refunds", Value: "Never promise refunds"}); err != nil {
		t.Fatalf("CreateKnowledgeEntry: %v", err)
	}
	if err := s.EnqueueJob(storage.Job{ID: "j1", Type: JobType, PayloadJSON: `{"knowledge_entry_id":"k1"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	w := NewWorker(s, New(s, gw), 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce did not process the job")
	}

	if _, err := s.GetRuleByKnowledgeEntry("k1"); err != nil {
		t.Errorf("rule not created by worker: %v", err)
	}

	// Queue is drained.
	done, err = w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if done {
		t.Error("RunOnce claimed a job from an empty queue")
	}
}
