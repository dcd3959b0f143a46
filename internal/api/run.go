package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/kalambet/promptbench/internal/composer"
	"github.com/kalambet/promptbench/internal/evaluator"
	"github.com/kalambet/promptbench/internal/storage"
	"github.com/kalambet/promptbench/internal/suggest"
)

type generatorRunRequest struct {
	TestCaseID      string `json:"testCaseId"`
	PromptVersionID string `json:"promptVersionId"`
	Evaluate        bool   `json:"evaluate"`
}

type generatorRunResponse struct {
	Result     storage.TestResult    `json:"result"`
	Evaluation *evaluator.Evaluation `json:"evaluation,omitempty"`
	Model      string                `json:"model"`
}

// handleGeneratorRun drafts an agent response for a test case with the
// selected (or active) prompt version, optionally evaluates it, and
// records an append-only result.
func handleGeneratorRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generatorRunRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.TestCaseID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "testCaseId is required")
			return
		}

		tc, err := deps.Store.GetTestCase(req.TestCaseID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "test case not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load test case: %v", err)
			return
		}

		var version storage.PromptVersion
		if req.PromptVersionID != "" {
			version, err = deps.Store.GetPromptVersion(req.PromptVersionID)
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "prompt version not found")
				return
			}
		} else {
			version, err = deps.Store.GetActivePromptVersion()
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "no active prompt version, activate one or pass promptVersionId")
				return
			}
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load prompt version: %v", err)
			return
		}

		agentResp, err := deps.Generator.GenerateAgentResponse(r.Context(), version.SystemPrompt, version.UserPrompt, tc)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "response generation failed: %v", err)
			return
		}

		result := storage.TestResult{
			ID:              uuid.New().String(),
			TestCaseID:      tc.ID,
			PromptVersionID: version.ID,
			AgentResponse:   agentResp.Response,
		}

		var evaluation *evaluator.Evaluation
		if req.Evaluate {
			ev, err := deps.Evaluator.Evaluate(r.Context(), tc.EmailThread, agentResp.Response, tc.ExpectedBehavior)
			if err != nil {
				// The draft is still worth keeping; record it unevaluated.
				slog.Warn("evaluation failed, saving result without score", "test_case_id", tc.ID, "error", err)
			} else {
				evaluation = &ev
				result.EvaluatorScore = ev.Score
				result.HasScore = true
				result.EvaluatorReasoning = ev.Reasoning
				if checks, err := json.Marshal(ev.RuleChecks); err == nil {
					result.RuleChecks = string(checks)
				}
			}
		}

		if err := deps.Store.SaveTestResult(result); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save result: %v", err)
			return
		}

		writeJSON(w, generatorRunResponse{
			Result:     result,
			Evaluation: evaluation,
			Model:      agentResp.Model,
		})
	}
}

type evaluateRequest struct {
	TestCaseID       string `json:"testCaseId"`
	EmailThread      string `json:"emailThread"`
	AgentResponse    string `json:"agentResponse"`
	ExpectedBehavior string `json:"expectedBehavior"`
}

// handleEvaluate judges an agent response. The thread and expected
// behavior come from the test case when testCaseId is given, otherwise
// from the request itself.
func handleEvaluate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req evaluateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.AgentResponse == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "agentResponse is required")
			return
		}

		emailThread := req.EmailThread
		expectedBehavior := req.ExpectedBehavior
		if req.TestCaseID != "" {
			tc, err := deps.Store.GetTestCase(req.TestCaseID)
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "test case not found")
				return
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to load test case: %v", err)
				return
			}
			emailThread = tc.EmailThread
			if expectedBehavior == "" {
				expectedBehavior = tc.ExpectedBehavior
			}
		}
		if emailThread == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "emailThread or testCaseId is required")
			return
		}

		ev, err := deps.Evaluator.Evaluate(r.Context(), emailThread, req.AgentResponse, expectedBehavior)
		if errors.Is(err, composer.ErrNoActiveRules) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no active evaluation rules, create or activate rules first")
			return
		}
		var perr *evaluator.ParseError
		if errors.As(err, &perr) {
			httpError(w, http.StatusBadGateway, "api_error", "evaluator returned an unusable reply: %v", perr.Err)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "evaluation failed: %v", err)
			return
		}

		writeJSON(w, ev)
	}
}

type suggestionsRequest struct {
	EmailThread   string               `json:"emailThread"`
	AgentResponse string               `json:"agentResponse"`
	Evaluation    evaluator.Evaluation `json:"evaluation"`
}

func handleSuggestions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req suggestionsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.EmailThread == "" || req.AgentResponse == "" || req.Evaluation.Reasoning == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "emailThread, agentResponse, and evaluation are required")
			return
		}

		result, err := deps.Suggestions.Generate(r.Context(), req.EmailThread, req.AgentResponse, req.Evaluation)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "suggestion generation failed: %v", err)
			return
		}
		writeJSON(w, result)
	}
}

func handleApplySuggestion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req suggest.ApplyRequest
		if !decodeBody(w, r, &req) {
			return
		}

		result, err := deps.Suggestions.Apply(r.Context(), req)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to apply suggestion: %v", err)
			return
		}
		writeJSON(w, result)
	}
}
