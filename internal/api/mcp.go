package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/promptbench/internal/evaluator"
	"github.com/kalambet/promptbench/internal/rulegen"
	"github.com/kalambet/promptbench/internal/storage"
	"github.com/kalambet/promptbench/internal/suggest"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store       *storage.Store
	Evaluator   *evaluator.Evaluator
	Suggestions *suggest.Engine
}

// NewMCPServer creates an MCP server with workbench tools and resources
// registered, so agent clients can train and evaluate over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"promptbench",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("promptbench: workbench for training, versioning, and evaluating customer service agent prompts."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("add_knowledge",
			mcp.WithDescription("Add a fact, policy, or answer to the agent's training knowledge. Rule synthesis runs in the background."),
			mcp.WithString("category", mcp.Description("Wizard step category slug (e.g. policies, tone)"), mcp.Required()),
			mcp.WithString("key", mcp.Description("Short snake_case key for the entry"), mcp.Required()),
			mcp.WithString("value", mcp.Description("The content of the entry"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Optional display title")),
		),
		mcpAddKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("evaluate_response",
			mcp.WithDescription("Score a customer service agent response against the active evaluation rules."),
			mcp.WithString("email_thread", mcp.Description("The customer email thread"), mcp.Required()),
			mcp.WithString("agent_response", mcp.Description("The agent response to evaluate"), mcp.Required()),
			mcp.WithString("expected_behavior", mcp.Description("Optional expected behavior to check against")),
		),
		mcpEvaluateResponse(deps),
	)

	s.AddTool(
		mcp.NewTool("suggest_improvements",
			mcp.WithDescription("Suggest training data improvements from an evaluation result (JSON produced by evaluate_response)."),
			mcp.WithString("email_thread", mcp.Description("The customer email thread"), mcp.Required()),
			mcp.WithString("agent_response", mcp.Description("The evaluated agent response"), mcp.Required()),
			mcp.WithString("evaluation", mcp.Description("Evaluation JSON from evaluate_response"), mcp.Required()),
		),
		mcpSuggestImprovements(deps),
	)

	s.AddTool(
		mcp.NewTool("list_rules",
			mcp.WithDescription("List the active evaluation rules, highest priority first."),
		),
		mcpListRules(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"prompt://active",
			"Active Prompt Version",
			mcp.WithResourceDescription("The currently active prompt version as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceActivePrompt(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"rules://active",
			"Active Evaluation Rules",
			mcp.WithResourceDescription("Active evaluation rules ordered by priority"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceActiveRules(deps),
	)

	return s
}

func mcpAddKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		category, err := req.RequireString("category")
		if err != nil {
			return mcpError("category is required"), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}
		title := req.GetString("title", "")

		sortOrder, err := deps.Store.NextSortOrder(category)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compute sort order: %v", err)), nil
		}

		entryID, err := deps.Store.UpsertKnowledgeEntry(storage.KnowledgeEntry{
			ID:           uuid.New().String(),
			Category:     category,
			Key:          key,
			Value:        value,
			DisplayTitle: title,
			SortOrder:    sortOrder,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save entry: %v", err)), nil
		}

		// Queue background rule synthesis for the new content.
		payload, err := json.Marshal(rulegen.SynthesizePayload{KnowledgeEntryID: entryID})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal synthesis payload: %v", err)), nil
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        rulegen.JobType,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			return mcpError(fmt.Sprintf("saved entry but failed to queue rule synthesis: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored knowledge entry %s (%s/%s)", entryID, category, key)), nil
	}
}

func mcpEvaluateResponse(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		emailThread, err := req.RequireString("email_thread")
		if err != nil {
			return mcpError("email_thread is required"), nil
		}
		agentResponse, err := req.RequireString("agent_response")
		if err != nil {
			return mcpError("agent_response is required"), nil
		}
		expectedBehavior := req.GetString("expected_behavior", "")

		ev, err := deps.Evaluator.Evaluate(ctx, emailThread, agentResponse, expectedBehavior)
		if err != nil {
			return mcpError(fmt.Sprintf("evaluation failed: %v", err)), nil
		}

		b, err := json.Marshal(ev)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal evaluation: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSuggestImprovements(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		emailThread, err := req.RequireString("email_thread")
		if err != nil {
			return mcpError("email_thread is required"), nil
		}
		agentResponse, err := req.RequireString("agent_response")
		if err != nil {
			return mcpError("agent_response is required"), nil
		}
		evaluationJSON, err := req.RequireString("evaluation")
		if err != nil {
			return mcpError("evaluation is required"), nil
		}

		var ev evaluator.Evaluation
		if err := json.Unmarshal([]byte(evaluationJSON), &ev); err != nil {
			return mcpError(fmt.Sprintf("invalid evaluation JSON: %v", err)), nil
		}

		result, err := deps.Suggestions.Generate(ctx, emailThread, agentResponse, ev)
		if err != nil {
			return mcpError(fmt.Sprintf("suggestion generation failed: %v", err)), nil
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal suggestions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListRules(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rules, err := deps.Store.ListActiveRules()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list rules: %v", err)), nil
		}
		if len(rules) == 0 {
			return mcpText("[]"), nil
		}

		type ruleSummary struct {
			Name        string `json:"name"`
			Description string `json:"description,omitempty"`
			CheckPrompt string `json:"check_prompt"`
			Priority    int    `json:"priority"`
		}
		summaries := make([]ruleSummary, len(rules))
		for i, r := range rules {
			summaries[i] = ruleSummary{
				Name:        r.Name,
				Description: r.Description,
				CheckPrompt: r.CheckPrompt,
				Priority:    r.Priority,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal rules: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceActivePrompt(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		v, err := deps.Store.GetActivePromptVersion()
		if err != nil {
			return nil, fmt.Errorf("failed to get active prompt version: %w", err)
		}

		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal prompt version: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceActiveRules(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rules, err := deps.Store.ListActiveRules()
		if err != nil {
			return nil, fmt.Errorf("failed to list rules: %w", err)
		}

		b, err := json.Marshal(rules)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal rules: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
