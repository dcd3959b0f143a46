package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/promptbench/internal/storage"
)

type testCaseRequest struct {
	Name             string   `json:"name"`
	EmailThread      string   `json:"emailThread"`
	CustomerEmail    string   `json:"customerEmail"`
	CustomerName     string   `json:"customerName"`
	Subject          string   `json:"subject"`
	OrderNumber      string   `json:"orderNumber"`
	ExpectedBehavior string   `json:"expectedBehavior"`
	Tags             []string `json:"tags"`
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		return "[]", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func handleListTestCases(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cases, err := deps.Store.ListTestCases(r.URL.Query().Get("tag"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list test cases: %v", err)
			return
		}
		if cases == nil {
			cases = []storage.TestCase{}
		}
		writeJSON(w, cases)
	}
}

func handleCreateTestCase(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req testCaseRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" || req.EmailThread == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name and emailThread are required")
			return
		}

		tags, err := marshalTags(req.Tags)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal tags: %v", err)
			return
		}

		tc := storage.TestCase{
			ID:               uuid.New().String(),
			Name:             req.Name,
			EmailThread:      req.EmailThread,
			CustomerEmail:    req.CustomerEmail,
			CustomerName:     req.CustomerName,
			Subject:          req.Subject,
			OrderNumber:      req.OrderNumber,
			ExpectedBehavior: req.ExpectedBehavior,
			Tags:             tags,
		}
		if err := deps.Store.CreateTestCase(tc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create test case: %v", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, tc)
	}
}

func handleGetTestCase(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tc, err := deps.Store.GetTestCase(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "test case not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get test case: %v", err)
			return
		}
		writeJSON(w, tc)
	}
}

func handleUpdateTestCase(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req testCaseRequest
		if !decodeBody(w, r, &req) {
			return
		}

		tc, err := deps.Store.GetTestCase(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "test case not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load test case: %v", err)
			return
		}

		if req.Name != "" {
			tc.Name = req.Name
		}
		if req.EmailThread != "" {
			tc.EmailThread = req.EmailThread
		}
		if req.CustomerEmail != "" {
			tc.CustomerEmail = req.CustomerEmail
		}
		if req.CustomerName != "" {
			tc.CustomerName = req.CustomerName
		}
		if req.Subject != "" {
			tc.Subject = req.Subject
		}
		if req.OrderNumber != "" {
			tc.OrderNumber = req.OrderNumber
		}
		if req.ExpectedBehavior != "" {
			tc.ExpectedBehavior = req.ExpectedBehavior
		}
		if req.Tags != nil {
			tags, err := marshalTags(req.Tags)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal tags: %v", err)
				return
			}
			tc.Tags = tags
		}

		if err := deps.Store.UpdateTestCase(tc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update test case: %v", err)
			return
		}
		writeJSON(w, tc)
	}
}

func handleDeleteTestCase(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteTestCase(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "test case not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete test case: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleListTags(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tags, err := deps.Store.ListTags()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list tags: %v", err)
			return
		}
		if tags == nil {
			tags = []string{}
		}
		writeJSON(w, tags)
	}
}

// --- Test Results ---

func handleListResults(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := deps.Store.ListTestResults(
			r.URL.Query().Get("testCaseId"),
			r.URL.Query().Get("promptVersionId"),
		)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list results: %v", err)
			return
		}
		if results == nil {
			results = []storage.TestResult{}
		}
		writeJSON(w, results)
	}
}

func handleGetResult(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := deps.Store.GetTestResult(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "result not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get result: %v", err)
			return
		}
		writeJSON(w, result)
	}
}
