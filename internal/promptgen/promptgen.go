// Package promptgen builds prompt versions from the knowledge store and
// drafts agent responses for test cases.
package promptgen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/promptbench/internal/anthropic"
	"github.com/kalambet/promptbench/internal/composer"
	"github.com/kalambet/promptbench/internal/storage"
)

const genMaxTokens = 4096

// Gateway is the LLM call prompt generation needs.
type Gateway interface {
	Generate(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (anthropic.Response, error)
}

// GeneratedPrompt is a freshly drafted prompt version, not yet saved.
type GeneratedPrompt struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
	Notes        string `json:"notes"`
}

// Generator drafts system prompts and agent responses.
type Generator struct {
	store   *storage.Store
	gateway Gateway
}

func New(store *storage.Store, gateway Gateway) *Generator {
	return &Generator{store: store, gateway: gateway}
}

// GenerateFromTraining renders the knowledge store as training data and
// asks the model for an agent system prompt. Returns
// composer.ErrNoTrainingData when the store is empty.
func (g *Generator) GenerateFromTraining(ctx context.Context) (GeneratedPrompt, error) {
	entries, err := g.store.ListKnowledge("")
	if err != nil {
		return GeneratedPrompt{}, fmt.Errorf("loading knowledge: %w", err)
	}

	trainingData, err := composer.RenderTrainingData(entries)
	if err != nil {
		return GeneratedPrompt{}, err
	}

	resp, err := g.gateway.Generate(ctx, composer.GenerationSystemPrompt,
		[]anthropic.Message{{Role: "user", Content: composer.GenerationUserMessage(trainingData)}}, genMaxTokens)
	if err != nil {
		return GeneratedPrompt{}, fmt.Errorf("generation call: %w", err)
	}

	systemPrompt := strings.TrimSpace(resp.Text)
	if systemPrompt == "" {
		return GeneratedPrompt{}, fmt.Errorf("model returned an empty system prompt")
	}

	return GeneratedPrompt{
		Name:         "Generated Prompt - " + time.Now().Format("2006-01-02 15:04:05"),
		SystemPrompt: systemPrompt,
		UserPrompt:   composer.DefaultUserPrompt,
		Notes:        "Auto-generated from training data",
	}, nil
}

// AgentResponse is a drafted reply for a test case, with token usage for
// display.
type AgentResponse struct {
	Response string          `json:"response"`
	Model    string          `json:"model"`
	Usage    anthropic.Usage `json:"usage"`
}

// GenerateAgentResponse drafts a reply to the test case's email thread
// using the given prompt version's system and user prompts.
func (g *Generator) GenerateAgentResponse(ctx context.Context, systemPrompt, userPrompt string, tc storage.TestCase) (AgentResponse, error) {
	userMessage := composer.RenderUserMessage(userPrompt, tc)

	resp, err := g.gateway.Generate(ctx, systemPrompt,
		[]anthropic.Message{{Role: "user", Content: userMessage}}, genMaxTokens)
	if err != nil {
		return AgentResponse{}, fmt.Errorf("response call: %w", err)
	}

	return AgentResponse{
		Response: resp.Text,
		Model:    resp.Model,
		Usage:    resp.Usage,
	}, nil
}
