package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/promptbench/internal/rulegen"
	"github.com/kalambet/promptbench/internal/storage"
)

type knowledgeRequest struct {
	Category     string `json:"category"`
	Key          string `json:"key"`
	Value        string `json:"value"`
	DisplayTitle string `json:"displayTitle"`
}

func handleListKnowledge(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Store.ListKnowledge(r.URL.Query().Get("category"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list knowledge: %v", err)
			return
		}
		if entries == nil {
			entries = []storage.KnowledgeEntry{}
		}
		writeJSON(w, entries)
	}
}

func handleCreateKnowledge(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req knowledgeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Category == "" || req.Key == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "category and key are required")
			return
		}

		sortOrder, err := deps.Store.NextSortOrder(req.Category)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute sort order: %v", err)
			return
		}

		entry := storage.KnowledgeEntry{
			ID:           uuid.New().String(),
			Category:     req.Category,
			Key:          req.Key,
			Value:        req.Value,
			DisplayTitle: req.DisplayTitle,
			SortOrder:    sortOrder,
		}
		if err := deps.Store.CreateKnowledgeEntry(entry); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				httpError(w, http.StatusConflict, "invalid_request_error", "entry %s/%s already exists", req.Category, req.Key)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create entry: %v", err)
			return
		}

		// Rule synthesis runs in the background so the write returns fast.
		enqueueSynthesis(deps, entry.ID)

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, entry)
	}
}

// enqueueSynthesis queues a rule_synthesize job for the entry.
// Best effort: a queue failure is logged, the knowledge write stands.
func enqueueSynthesis(deps AppDeps, entryID string) {
	payload, err := json.Marshal(rulegen.SynthesizePayload{KnowledgeEntryID: entryID})
	if err != nil {
		slog.Error("failed to marshal synthesis payload", "entry_id", entryID, "error", err)
		return
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        rulegen.JobType,
		PayloadJSON: string(payload),
	}
	if err := deps.Store.EnqueueJob(job); err != nil {
		slog.Error("failed to enqueue rule synthesis", "entry_id", entryID, "error", err)
	}
}

func handleUpdateKnowledge(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req knowledgeRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if err := deps.Store.UpdateKnowledgeEntry(id, req.Value, req.DisplayTitle); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "knowledge entry not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update entry: %v", err)
			return
		}

		// Changed text may contain new rule-like wording.
		enqueueSynthesis(deps, id)

		entry, err := deps.Store.GetKnowledgeEntry(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load entry: %v", err)
			return
		}
		writeJSON(w, entry)
	}
}

func handleDeleteKnowledge(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteKnowledgeEntry(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "knowledge entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete entry: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleListCategories(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		categories, err := deps.Store.ListCategories()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list categories: %v", err)
			return
		}
		if categories == nil {
			categories = []string{}
		}
		writeJSON(w, categories)
	}
}

// --- Wizard Steps ---

type wizardStepRequest struct {
	Title     string `json:"title"`
	Category  string `json:"category"`
	SortOrder *int   `json:"sortOrder"`
}

var slugStrip = regexp.MustCompile(`[^a-z0-9\s]`)
var slugSpaces = regexp.MustCompile(`\s+`)

// slugify derives a category slug from a step title: lowercase, strip
// punctuation, spaces to underscores.
func slugify(title string) string {
	s := strings.ToLower(title)
	s = slugStrip.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	return slugSpaces.ReplaceAllString(s, "_")
}

func handleListWizardSteps(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		steps, err := deps.Store.ListWizardSteps()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list wizard steps: %v", err)
			return
		}
		if steps == nil {
			steps = []storage.WizardStep{}
		}
		writeJSON(w, steps)
	}
}

func handleCreateWizardStep(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req wizardStepRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}

		category := req.Category
		if category == "" {
			category = slugify(req.Title)
		}
		if category == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title %q produces an empty category slug", req.Title)
			return
		}

		sortOrder := 0
		if req.SortOrder != nil {
			sortOrder = *req.SortOrder
		} else {
			steps, err := deps.Store.ListWizardSteps()
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to list wizard steps: %v", err)
				return
			}
			for _, s := range steps {
				if s.SortOrder >= sortOrder {
					sortOrder = s.SortOrder + 1
				}
			}
		}

		step := storage.WizardStep{
			ID:        uuid.New().String(),
			Title:     req.Title,
			Category:  category,
			SortOrder: sortOrder,
		}
		if err := deps.Store.CreateWizardStep(step); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				httpError(w, http.StatusConflict, "invalid_request_error", "step with category %q already exists", category)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create wizard step: %v", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, step)
	}
}

func handleUpdateWizardStep(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req wizardStepRequest
		if !decodeBody(w, r, &req) {
			return
		}

		step, err := deps.Store.GetWizardStep(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "wizard step not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load wizard step: %v", err)
			return
		}

		if req.Title != "" {
			step.Title = req.Title
			// A renamed step gets a fresh slug unless one is given.
			if req.Category == "" {
				step.Category = slugify(req.Title)
			}
		}
		if req.Category != "" {
			step.Category = req.Category
		}
		if req.SortOrder != nil {
			step.SortOrder = *req.SortOrder
		}

		if err := deps.Store.UpdateWizardStep(step); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				httpError(w, http.StatusConflict, "invalid_request_error", "step with category %q already exists", step.Category)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update wizard step: %v", err)
			return
		}
		writeJSON(w, step)
	}
}

func handleDeleteWizardStep(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteWizardStep(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "wizard step not found")
			return
		}
		if errors.Is(err, storage.ErrConflict) {
			httpError(w, http.StatusConflict, "invalid_request_error", "step still has knowledge entries: %v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete wizard step: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}
