package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/promptbench/internal/composer"
	"github.com/kalambet/promptbench/internal/storage"
)

type promptRequest struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"systemPrompt"`
	UserPrompt   string `json:"userPrompt"`
	IsActive     bool   `json:"isActive"`
	Notes        string `json:"notes"`
}

func handleListPrompts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versions, err := deps.Store.ListPromptVersions()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list prompt versions: %v", err)
			return
		}
		if versions == nil {
			versions = []storage.PromptVersion{}
		}
		writeJSON(w, versions)
	}
}

func handleCreatePrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req promptRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" || req.SystemPrompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name and systemPrompt are required")
			return
		}
		if req.UserPrompt == "" {
			req.UserPrompt = composer.DefaultUserPrompt
		}

		v := storage.PromptVersion{
			ID:           uuid.New().String(),
			Name:         req.Name,
			SystemPrompt: req.SystemPrompt,
			UserPrompt:   req.UserPrompt,
			IsActive:     req.IsActive,
			Notes:        req.Notes,
		}
		if err := deps.Store.CreatePromptVersion(v); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create prompt version: %v", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, v)
	}
}

func handleGetPrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Store.GetPromptVersion(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "prompt version not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get prompt version: %v", err)
			return
		}
		writeJSON(w, v)
	}
}

func handleGetActivePrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Store.GetActivePromptVersion()
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no active prompt version")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get active prompt version: %v", err)
			return
		}
		writeJSON(w, v)
	}
}

func handleUpdatePrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req promptRequest
		if !decodeBody(w, r, &req) {
			return
		}

		v, err := deps.Store.GetPromptVersion(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "prompt version not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load prompt version: %v", err)
			return
		}

		if req.Name != "" {
			v.Name = req.Name
		}
		if req.SystemPrompt != "" {
			v.SystemPrompt = req.SystemPrompt
		}
		if req.UserPrompt != "" {
			v.UserPrompt = req.UserPrompt
		}
		if req.Notes != "" {
			v.Notes = req.Notes
		}

		if err := deps.Store.UpdatePromptVersion(v); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update prompt version: %v", err)
			return
		}
		writeJSON(w, v)
	}
}

func handleActivatePrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Store.ActivatePromptVersion(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "prompt version not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to activate prompt version: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "activated", "id": id})
	}
}

func handleDeletePrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeletePromptVersion(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "prompt version not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete prompt version: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

// handleGeneratePrompt drafts a new prompt version from the knowledge
// store and saves it inactive, ready for review and activation.
func handleGeneratePrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gen, err := deps.Generator.GenerateFromTraining(r.Context())
		if errors.Is(err, composer.ErrNoTrainingData) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no training data found, complete the wizard first")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "prompt generation failed: %v", err)
			return
		}

		v := storage.PromptVersion{
			ID:           uuid.New().String(),
			Name:         gen.Name,
			SystemPrompt: gen.SystemPrompt,
			UserPrompt:   gen.UserPrompt,
			Notes:        gen.Notes,
		}
		if err := deps.Store.CreatePromptVersion(v); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save generated prompt: %v", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, v)
	}
}
