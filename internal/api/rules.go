package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/promptbench/internal/rulegen"
	"github.com/kalambet/promptbench/internal/storage"
)

type ruleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CheckPrompt string `json:"checkPrompt"`
	Priority    int    `json:"priority"`
}

func handleListRules(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rules []storage.EvaluatorRule
		var err error
		if r.URL.Query().Get("active") == "true" {
			rules, err = deps.Store.ListActiveRules()
		} else {
			rules, err = deps.Store.ListRules()
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list rules: %v", err)
			return
		}
		if rules == nil {
			rules = []storage.EvaluatorRule{}
		}
		writeJSON(w, rules)
	}
}

func handleCreateRule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ruleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" || req.CheckPrompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name and checkPrompt are required")
			return
		}
		if req.Priority < 1 || req.Priority > 10 {
			req.Priority = 5
		}

		rule := storage.EvaluatorRule{
			ID:          uuid.New().String(),
			Name:        req.Name,
			Description: req.Description,
			CheckPrompt: req.CheckPrompt,
			Priority:    req.Priority,
			IsActive:    true,
		}
		if err := deps.Store.CreateRule(rule); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				httpError(w, http.StatusConflict, "invalid_request_error", "rule %q already exists", req.Name)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create rule: %v", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, rule)
	}
}

func handleUpdateRule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req ruleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Priority < 1 || req.Priority > 10 {
			req.Priority = 5
		}

		if err := deps.Store.UpdateRule(id, req.Description, req.CheckPrompt, req.Priority); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "rule not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update rule: %v", err)
			return
		}

		rule, err := deps.Store.GetRule(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load rule: %v", err)
			return
		}
		writeJSON(w, rule)
	}
}

func handleSetRuleActive(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req struct {
			Active bool `json:"active"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		if err := deps.Store.SetRuleActive(id, req.Active); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "rule not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update rule: %v", err)
			return
		}
		writeJSON(w, map[string]any{"status": "updated", "active": req.Active})
	}
}

func handleDeleteRule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteRule(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "rule not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete rule: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

// handleGenerateRule runs rule synthesis synchronously for one knowledge
// entry, for when the user clicks "generate" and wants the result now.
func handleGenerateRule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			KnowledgeEntryID string `json:"knowledgeEntryId"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.KnowledgeEntryID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "knowledgeEntryId is required")
			return
		}

		if _, err := deps.Store.GetKnowledgeEntry(req.KnowledgeEntryID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "knowledge entry not found")
			return
		}

		outcome, err := deps.Synthesizer.SynthesizeForEntry(r.Context(), req.KnowledgeEntryID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "rule synthesis failed: %v", err)
			return
		}

		if outcome == rulegen.OutcomeSkipped {
			writeJSON(w, map[string]any{
				"rule":    nil,
				"message": "Content does not appear to contain a checkable rule",
			})
			return
		}

		rule, err := deps.Store.GetRuleByKnowledgeEntry(req.KnowledgeEntryID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load synthesized rule: %v", err)
			return
		}
		writeJSON(w, map[string]any{
			"rule":    rule,
			"updated": outcome == rulegen.OutcomeUpdated,
		})
	}
}

func handleScanRules(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Synthesizer.ScanAll(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "rule scan failed: %v", err)
			return
		}
		writeJSON(w, stats)
	}
}
