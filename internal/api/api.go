// Package api exposes the workbench over a chi REST surface and an MCP
// server.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/promptbench/internal/evaluator"
	"github.com/kalambet/promptbench/internal/promptgen"
	"github.com/kalambet/promptbench/internal/rulegen"
	"github.com/kalambet/promptbench/internal/storage"
	"github.com/kalambet/promptbench/internal/suggest"
)

const maxRequestBodySize = 1 << 20 // 1MB

type AppDeps struct {
	Store       *storage.Store
	Evaluator   *evaluator.Evaluator
	Generator   *promptgen.Generator
	Suggestions *suggest.Engine
	Synthesizer *rulegen.Synthesizer
	Token       string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Get("/health", handleHealth)

	r.Get("/knowledge", handleListKnowledge(deps))
	r.Post("/knowledge", handleCreateKnowledge(deps))
	r.Get("/knowledge/categories", handleListCategories(deps))
	r.Put("/knowledge/{id}", handleUpdateKnowledge(deps))
	r.Delete("/knowledge/{id}", handleDeleteKnowledge(deps))

	r.Get("/wizard-steps", handleListWizardSteps(deps))
	r.Post("/wizard-steps", handleCreateWizardStep(deps))
	r.Put("/wizard-steps/{id}", handleUpdateWizardStep(deps))
	r.Delete("/wizard-steps/{id}", handleDeleteWizardStep(deps))

	r.Get("/rules", handleListRules(deps))
	r.Post("/rules", handleCreateRule(deps))
	r.Put("/rules/{id}", handleUpdateRule(deps))
	r.Patch("/rules/{id}/active", handleSetRuleActive(deps))
	r.Delete("/rules/{id}", handleDeleteRule(deps))
	r.Post("/rules/generate", handleGenerateRule(deps))
	r.Post("/rules/scan", handleScanRules(deps))

	r.Get("/prompts", handleListPrompts(deps))
	r.Post("/prompts", handleCreatePrompt(deps))
	r.Get("/prompts/active", handleGetActivePrompt(deps))
	r.Post("/prompts/generate", handleGeneratePrompt(deps))
	r.Get("/prompts/{id}", handleGetPrompt(deps))
	r.Put("/prompts/{id}", handleUpdatePrompt(deps))
	r.Post("/prompts/{id}/activate", handleActivatePrompt(deps))
	r.Delete("/prompts/{id}", handleDeletePrompt(deps))

	r.Get("/test-cases", handleListTestCases(deps))
	r.Post("/test-cases", handleCreateTestCase(deps))
	r.Get("/test-cases/tags", handleListTags(deps))
	r.Get("/test-cases/{id}", handleGetTestCase(deps))
	r.Put("/test-cases/{id}", handleUpdateTestCase(deps))
	r.Delete("/test-cases/{id}", handleDeleteTestCase(deps))

	r.Get("/results", handleListResults(deps))
	r.Get("/results/{id}", handleGetResult(deps))

	r.Post("/generator/run", handleGeneratorRun(deps))
	r.Post("/evaluate", handleEvaluate(deps))
	r.Post("/suggestions", handleSuggestions(deps))
	r.Post("/suggestions/apply", handleApplySuggestion(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
