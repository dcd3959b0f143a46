package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/promptbench/internal/config"
)

// --- knowledge ---

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the agent's training knowledge",
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/knowledge"
		if category != "" {
			path += "?category=" + url.QueryEscape(category)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var entries []struct {
			ID           string `json:"ID"`
			Category     string `json:"Category"`
			Key          string `json:"Key"`
			Value        string `json:"Value"`
			DisplayTitle string `json:"DisplayTitle"`
		}
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No knowledge entries found.")
			return nil
		}

		for _, e := range entries {
			value := e.Value
			if len(value) > 80 {
				value = value[:80] + "..."
			}
			fmt.Printf("%s  %s/%s  %s\n",
				colorize(colorCyan, e.ID[:8]),
				colorize(colorBold, e.Category), e.Key,
				value,
			)
		}
		return nil
	},
}

var knowledgeAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a knowledge entry (queues rule synthesis)",
	Long: `Add a knowledge entry.

Examples:
  promptbench knowledge add --category policies --key refunds --value "Never promise refunds without approval"
  promptbench knowledge add --category tone --key sign_off --value "Sign every email as 'The Support Team'" --title "Sign-off"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		key, _ := cmd.Flags().GetString("key")
		value, _ := cmd.Flags().GetString("value")
		title, _ := cmd.Flags().GetString("title")

		if category == "" || key == "" || value == "" {
			return fmt.Errorf("--category, --key, and --value are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]string{
			"category": category,
			"key":      key,
			"value":    value,
		}
		if title != "" {
			req["displayTitle"] = title
		}

		resp, err := client.post(cmd.Context(), "/knowledge", req)
		if err != nil {
			return err
		}

		var entry struct {
			ID string `json:"ID"`
		}
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}

		printSuccess("Added %s/%s (%s)", category, key, entry.ID)
		return nil
	},
}

var knowledgeDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a knowledge entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/knowledge/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted entry %s", args[0])
		return nil
	},
}

func init() {
	knowledgeListCmd.Flags().String("category", "", "filter by wizard step category")
	knowledgeAddCmd.Flags().String("category", "", "wizard step category slug")
	knowledgeAddCmd.Flags().String("key", "", "snake_case key for the entry")
	knowledgeAddCmd.Flags().String("value", "", "entry content")
	knowledgeAddCmd.Flags().String("title", "", "display title for the entry")

	knowledgeCmd.AddCommand(knowledgeListCmd)
	knowledgeCmd.AddCommand(knowledgeAddCmd)
	knowledgeCmd.AddCommand(knowledgeDeleteCmd)
}

// --- rules ---

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage evaluation rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List evaluation rules, highest priority first",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/rules?active=true"
		if all {
			path = "/rules"
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var rules []struct {
			ID          string `json:"ID"`
			Name        string `json:"Name"`
			CheckPrompt string `json:"CheckPrompt"`
			Priority    int    `json:"Priority"`
			IsActive    bool   `json:"IsActive"`
		}
		if err := decodeJSON(resp, &rules); err != nil {
			return err
		}

		if len(rules) == 0 {
			fmt.Println("No rules found.")
			return nil
		}

		for _, r := range rules {
			state := ""
			if all && !r.IsActive {
				state = colorize(colorYellow, " (inactive)")
			}
			fmt.Printf("%s  [%d] %s%s\n    %s\n",
				colorize(colorCyan, r.ID[:8]),
				r.Priority,
				colorize(colorBold, r.Name),
				state,
				r.CheckPrompt,
			)
		}
		return nil
	},
}

var rulesScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan all knowledge entries and synthesize missing rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Scanning knowledge entries...")
		resp, err := client.post(cmd.Context(), "/rules/scan", map[string]any{})
		if err != nil {
			return err
		}

		var stats struct {
			Scanned      int `json:"Scanned"`
			WithPatterns int `json:"WithPatterns"`
			Created      int `json:"Created"`
			Updated      int `json:"Updated"`
			Skipped      int `json:"Skipped"`
			Failed       int `json:"Failed"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Scanned", "%d", stats.Scanned)
		printStatus("With rule patterns", "%d", stats.WithPatterns)
		printStatus("Rules created", "%d", stats.Created)
		printStatus("Rules updated", "%d", stats.Updated)
		if stats.Failed > 0 {
			printWarning("%d entries failed, see server logs", stats.Failed)
		}
		return nil
	},
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleActive(cmd.Context(), args[0], true)
	},
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a rule without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleActive(cmd.Context(), args[0], false)
	},
}

func setRuleActive(ctx context.Context, id string, active bool) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.patch(ctx, "/rules/"+id+"/active", map[string]bool{"active": active})
	if err != nil {
		return err
	}

	var result map[string]any
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	if active {
		printSuccess("Enabled rule %s", id)
	} else {
		printSuccess("Disabled rule %s", id)
	}
	return nil
}

func init() {
	rulesListCmd.Flags().Bool("all", false, "include inactive rules")
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesScanCmd)
	rulesCmd.AddCommand(rulesEnableCmd)
	rulesCmd.AddCommand(rulesDisableCmd)
}

// --- prompt ---

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Manage prompt versions",
}

var promptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompt versions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/prompts")
		if err != nil {
			return err
		}

		var versions []struct {
			ID        string `json:"ID"`
			Name      string `json:"Name"`
			IsActive  bool   `json:"IsActive"`
			CreatedAt string `json:"CreatedAt"`
		}
		if err := decodeJSON(resp, &versions); err != nil {
			return err
		}

		if len(versions) == 0 {
			fmt.Println("No prompt versions found.")
			return nil
		}

		for _, v := range versions {
			marker := "  "
			if v.IsActive {
				marker = colorize(colorGreen, "* ")
			}
			fmt.Printf("%s%s  %s  %s\n", marker, colorize(colorCyan, v.ID[:8]), v.CreatedAt, v.Name)
		}
		return nil
	},
}

var promptShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a prompt version (active version when no id is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/prompts/active"
		if len(args) == 1 {
			path = "/prompts/" + args[0]
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var v any
		if err := decodeJSON(resp, &v); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	},
}

var promptActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Make a prompt version the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/prompts/"+args[0]+"/activate", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Activated prompt version %s", result["id"])
		return nil
	},
}

var promptGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new prompt version from the training knowledge",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Generating prompt from training data...")
		resp, err := client.post(cmd.Context(), "/prompts/generate", map[string]any{})
		if err != nil {
			return err
		}

		var v struct {
			ID   string `json:"ID"`
			Name string `json:"Name"`
		}
		if err := decodeJSON(resp, &v); err != nil {
			return err
		}

		printSuccess("Created %q (%s), inactive until you activate it", v.Name, v.ID)
		return nil
	},
}

func init() {
	promptCmd.AddCommand(promptListCmd)
	promptCmd.AddCommand(promptShowCmd)
	promptCmd.AddCommand(promptActivateCmd)
	promptCmd.AddCommand(promptGenerateCmd)
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run <test-case-id>",
	Short: "Draft an agent response for a test case",
	Long: `Draft an agent response for a test case with the active prompt
version (or --prompt) and record the result.

Examples:
  promptbench run a1b2c3d4 --evaluate
  promptbench run a1b2c3d4 --prompt f9e8d7c6`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		evaluate, _ := cmd.Flags().GetBool("evaluate")
		promptID, _ := cmd.Flags().GetString("prompt")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"testCaseId": args[0],
			"evaluate":   evaluate,
		}
		if promptID != "" {
			req["promptVersionId"] = promptID
		}

		printStep("Generating agent response...")
		resp, err := client.post(cmd.Context(), "/generator/run", req)
		if err != nil {
			return err
		}

		var result struct {
			Result struct {
				ID            string `json:"ID"`
				AgentResponse string `json:"AgentResponse"`
			} `json:"result"`
			Evaluation *struct {
				Score     int    `json:"score"`
				Reasoning string `json:"reasoning"`
			} `json:"evaluation"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Result.AgentResponse)
		if result.Evaluation != nil {
			fmt.Println()
			printStatus("Score", "%d/100", result.Evaluation.Score)
			printStatus("Reasoning", "%s", result.Evaluation.Reasoning)
		}
		printSuccess("Saved result %s", result.Result.ID)
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("evaluate", false, "evaluate the drafted response")
	runCmd.Flags().String("prompt", "", "prompt version id (default: active version)")
}

// --- evaluate ---

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate an agent response against the active rules",
	Long: `Evaluate an agent response against the active rules.

Examples:
  promptbench evaluate --thread thread.txt --response response.txt
  promptbench evaluate --test-case a1b2c3d4 --response response.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		threadFile, _ := cmd.Flags().GetString("thread")
		responseFile, _ := cmd.Flags().GetString("response")
		testCaseID, _ := cmd.Flags().GetString("test-case")
		expected, _ := cmd.Flags().GetString("expected")

		if responseFile == "" {
			return fmt.Errorf("--response is required")
		}
		if threadFile == "" && testCaseID == "" {
			return fmt.Errorf("one of --thread or --test-case is required")
		}

		response, err := os.ReadFile(responseFile)
		if err != nil {
			return fmt.Errorf("reading response file: %w", err)
		}

		req := map[string]any{
			"agentResponse": strings.TrimSpace(string(response)),
		}
		if threadFile != "" {
			thread, err := os.ReadFile(threadFile)
			if err != nil {
				return fmt.Errorf("reading thread file: %w", err)
			}
			req["emailThread"] = strings.TrimSpace(string(thread))
		}
		if testCaseID != "" {
			req["testCaseId"] = testCaseID
		}
		if expected != "" {
			req["expectedBehavior"] = expected
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Evaluating response...")
		resp, err := client.post(cmd.Context(), "/evaluate", req)
		if err != nil {
			return err
		}

		var ev struct {
			Score      int    `json:"score"`
			Reasoning  string `json:"reasoning"`
			RuleChecks map[string]struct {
				Passed    bool   `json:"passed"`
				Reasoning string `json:"reasoning"`
			} `json:"ruleChecks"`
		}
		if err := decodeJSON(resp, &ev); err != nil {
			return err
		}

		printStatus("Score", "%d/100", ev.Score)
		printStatus("Reasoning", "%s", ev.Reasoning)
		for name, check := range ev.RuleChecks {
			if check.Passed {
				printSuccess("%s", name)
			} else {
				printError("%s: %s", name, check.Reasoning)
			}
		}
		return nil
	},
}

func init() {
	evaluateCmd.Flags().String("thread", "", "file with the customer email thread")
	evaluateCmd.Flags().String("response", "", "file with the agent response to evaluate")
	evaluateCmd.Flags().String("test-case", "", "test case id to take the thread from")
	evaluateCmd.Flags().String("expected", "", "expected behavior to check against")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadClient()

		for _, kv := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, kv.Key), kv.Value)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
