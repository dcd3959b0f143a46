// Package composer renders the prompts the workbench sends to the model:
// training data text, the evaluation system prompt, the evaluation
// context, and the agent user prompt. Everything here is pure string
// assembly; callers fetch the data and make the LLM calls.
package composer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/promptbench/internal/storage"
)

// ErrNoActiveRules is returned when an evaluation prompt is requested but
// no active rules exist. Evaluating against an empty rule set would always
// succeed, so it is refused.
var ErrNoActiveRules = errors.New("no active evaluation rules")

// ErrNoTrainingData is returned when prompt generation is requested before
// any knowledge has been entered.
var ErrNoTrainingData = errors.New("no training data found")

// DefaultUserPrompt is the user prompt attached to generated prompt
// versions. Placeholders are filled per test case by RenderUserMessage.
const DefaultUserPrompt = `Please analyze this customer service email and provide an appropriate response.

EMAIL THREAD:
{{thread}}

CUSTOMER INFO:
- Name: {{customer_name}}
- Email: {{customer_email}}
- Subject: {{subject}}
- Order Number: {{order_number}}

Provide a professional, empathetic response that addresses the customer's concerns.`

// GenerationSystemPrompt instructs the model how to build an agent system
// prompt from training data.
const GenerationSystemPrompt = `You are an expert at creating system prompts for customer service AI agents.

Your task is to generate a comprehensive system prompt based on the training data provided. The system prompt should:

1. Define the agent's role and identity clearly
2. Include all relevant business information (company, products, shipping)
3. Incorporate policies (refunds, returns, shipping)
4. Define capabilities and limitations
5. Set the appropriate tone and communication style
6. Include sign-off guidelines
7. List things the agent must never say or do

Output ONLY the system prompt text, no explanations or markdown formatting. The prompt should be ready to use directly.`

// RenderTrainingData formats knowledge entries as a training data document,
// grouped by category in the order entries arrive. Entries with empty
// values are skipped; a category whose entries are all empty is omitted.
func RenderTrainingData(entries []storage.KnowledgeEntry) (string, error) {
	type group struct {
		category string
		items    []storage.KnowledgeEntry
	}
	var groups []group
	index := map[string]int{}
	for _, e := range entries {
		if strings.TrimSpace(e.Value) == "" {
			continue
		}
		i, ok := index[e.Category]
		if !ok {
			i = len(groups)
			index[e.Category] = i
			groups = append(groups, group{category: e.Category})
		}
		groups[i].items = append(groups[i].items, e)
	}

	if len(groups) == 0 {
		return "", ErrNoTrainingData
	}

	var sb strings.Builder
	sb.WriteString("TRAINING DATA:\n\n")
	for _, g := range groups {
		fmt.Fprintf(&sb, "## %s\n", strings.ToUpper(g.category))
		for _, e := range g.items {
			fmt.Fprintf(&sb, "### %s\n%s\n\n", e.Title(), e.Value)
		}
	}
	return sb.String(), nil
}

// GenerationUserMessage wraps rendered training data in the instruction
// sent as the user turn of a prompt generation call.
func GenerationUserMessage(trainingData string) string {
	return "Based on the following training data, generate a comprehensive system prompt for a customer service AI agent:\n\n" + trainingData
}

// RenderEvaluationPrompt builds the evaluator's system prompt from the
// knowledge store and the active rules. expectedBehavior, when non-empty,
// is appended as an extra high-priority check.
func RenderEvaluationPrompt(entries []storage.KnowledgeEntry, rules []storage.EvaluatorRule, expectedBehavior string) (string, error) {
	if len(rules) == 0 {
		return "", ErrNoActiveRules
	}

	var sb strings.Builder
	sb.WriteString(`You are an AI evaluator for customer service agent responses. Your job is to analyze agent responses and score them based on quality, accuracy, and adherence to business rules.

## Business Context

`)

	var categories []string
	byCategory := map[string][]storage.KnowledgeEntry{}
	for _, e := range entries {
		if _, ok := byCategory[e.Category]; !ok {
			categories = append(categories, e.Category)
		}
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}
	for _, category := range categories {
		fmt.Fprintf(&sb, "\n### %s\n", category)
		for _, e := range byCategory[category] {
			fmt.Fprintf(&sb, "- **%s**: %s\n", e.Key, e.Value)
		}
	}

	sb.WriteString(`
## Evaluation Rules

You must check the agent response against these rules:

`)
	for _, r := range rules {
		fmt.Fprintf(&sb, "### %s\n%s\nCheck: %s\nPriority: %d\n\n", r.Name, r.Description, r.CheckPrompt, r.Priority)
	}

	if expectedBehavior != "" {
		fmt.Fprintf(&sb, `### Expected Behavior Check
This test case has a specific expected behavior defined. The agent response should align with this expectation.
Check: Does the response fulfill the expected behavior: %q?
Priority: high

`, expectedBehavior)
	}

	sb.WriteString("## Your Task\n\n")
	sb.WriteString("1. Analyze the email thread and agent response\n")
	sb.WriteString("2. Check each rule and determine if it passed or failed\n")
	step := 3
	if expectedBehavior != "" {
		fmt.Fprintf(&sb, "%d. Check if the response meets the Expected Behavior\n", step)
		step++
	}
	fmt.Fprintf(&sb, "%d. Provide reasoning for each rule check\n", step)
	step++
	fmt.Fprintf(&sb, "%d. Calculate an overall score from 0-100 based on:\n", step)
	sb.WriteString("   - Rule compliance (weighted by priority)\n")
	if expectedBehavior != "" {
		sb.WriteString("   - Meeting the expected behavior\n")
	}
	sb.WriteString(`   - Response quality
   - Professionalism
   - Accuracy

## Output Format

Respond with a JSON object in this exact format:
` + "```json" + `
{
  "score": 85,
  "reasoning": "Overall assessment of the response...",
  "ruleChecks": {
    "rule_name_1": {
      "passed": true,
      "reasoning": "Explanation..."
    },
    "rule_name_2": {
      "passed": false,
      "reasoning": "Explanation..."
    }
  }
}
` + "```" + `

Be strict but fair in your evaluation. Focus on what matters for customer satisfaction.`)

	return sb.String(), nil
}

// RenderEvaluationContext builds the user turn of an evaluation call: the
// email thread, the agent response, and the expected behavior if present.
func RenderEvaluationContext(emailThread, agentResponse, expectedBehavior string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Email Thread\n%s\n\n## Agent Response\n%s", emailThread, agentResponse)
	if expectedBehavior != "" {
		fmt.Fprintf(&sb, "\n\n## Expected Behavior\nThe test case specifies that the agent should: %s", expectedBehavior)
	}
	sb.WriteString("\n\nPlease evaluate this agent response according to the rules and provide your assessment in JSON format.")
	return sb.String()
}

// RenderUserMessage fills a prompt version's user prompt with test case
// fields. Unknown placeholders are left untouched.
func RenderUserMessage(userPrompt string, tc storage.TestCase) string {
	r := strings.NewReplacer(
		"{{thread}}", tc.EmailThread,
		"{{customer_name}}", tc.CustomerName,
		"{{customer_email}}", tc.CustomerEmail,
		"{{subject}}", tc.Subject,
		"{{order_number}}", tc.OrderNumber,
	)
	return r.Replace(userPrompt)
}
