package promptgen

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
	lastSystem string
	lastUser   string
	calls      int
}

func (g *stubGateway) Generate(_ context.Context, system string, messages []anthropic.Message, _ int) (anthropic.Response, error) {
	g.calls++
	g.lastSystem = system
	if len(messages) > 0 {
		g.lastUser = messages[0].Content
	}
	return anthropic.Response{Text: g.reply, Model: "stub", Usage: anthropic.Usage{InputTokens: 10, OutputTokens: 20}}, nil
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

func TestGenerateFromTraining(t *testing.T) {
	s := openTestStore(t)
	gw := &stubGateway{reply: "You are the support agent for Acme Co.\n"}

	if err := s.CreateKnowledgeEntry(storage.KnowledgeEntry{ID: "k1", Category: "business", Key: "company_name", Value: "Acme Co"}); err != nil {
		t.Fatalf("CreateKnowledgeEntry: %v", err)
	}

	gen, err := New(s, gw).GenerateFromTraining(context.Background())
	if err != nil {
		t.Fatalf("GenerateFromTraining: %v", err)
	}

	if gen.SystemPrompt != "You are the support agent for Acme Co." {
		t.Errorf("system prompt = %q, want trimmed reply", gen.SystemPrompt)
	}
	if gen.UserPrompt != composer.DefaultUserPrompt {
		t.Error("user prompt is not the default template")
	}
	if !strings.HasPrefix(gen.Name, "Generated Prompt - ") {
		t.Errorf("name = %q", gen.Name)
	}
	if gw.lastSystem != composer.GenerationSystemPrompt {
		t.Error("generation system prompt not used")
	}
	if !strings.Contains(gw.lastUser, "TRAINING DATA:") || !strings.Contains(gw.lastUser, "Acme Co") {
		t.Errorf("user message missing training data:\n%s", gw.lastUser)
	}
}

func TestGenerateFromTrainingEmptyStore(t *testing.T) {
	s := openTestStore(t)
	gw := &stubGateway{reply: "whatever"}

	_, err := New(s, gw).GenerateFromTraining(context.Background())
	if !errors.Is(err, composer.ErrNoTrainingData) {
		t.Fatalf("err = %v, want ErrNoTrainingData", err)
	}
	if gw.calls != 0 {
		t.Errorf("gateway called %d times with empty store, want 0", gw.calls)
	}
}

func TestGenerateAgentResponse(t *testing.T) {
	s := openTestStore(t)
	gw := &stubGateway{reply: "Hi Sam, your order shipped yesterday."}

	tc := storage.TestCase{
		EmailThread:  "Where is my order?",
		CustomerName: "Sam Doe",
		OrderNumber:  "ORD-9",
	}
	resp, err := New(s, gw).GenerateAgentResponse(context.Background(), "You are a support agent.", composer.DefaultUserPrompt, tc)
	if err != nil {
		t.Fatalf("GenerateAgentResponse: %v", err)
	}

	if resp.Response != "Hi Sam, your order shipped yesterday." {
		t.Errorf("response = %q", resp.Response)
	}
	if resp.Usage.OutputTokens != 20 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if gw.lastSystem != "You are a support agent." {
		t.Errorf("system = %q", gw.lastSystem)
	}
	if !strings.Contains(gw.lastUser, "Where is my order?") || !strings.Contains(gw.lastUser, "ORD-9") {
		t.Errorf("user message not filled from test case:\n%s", gw.lastUser)
	}
}
