package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestGenerate(t *testing.T) {
	var gotReq messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != apiVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "claude-sonnet-4-20250514",
			"content": []map[string]any{
				{"type": "text", "text": "Hello, "},
				{"type": "tool_use", "id": "x"},
				{"type": "text", "text": "world."},
			},
			"usage": map[string]int{"input_tokens": 12, "output_tokens": 5},
		})
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", "", srv.URL)
	resp, err := c.Generate(context.Background(), "be brief", []Message{{Role: "user", Content: "hi"}}, 256)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if gotReq.System != "be brief" || gotReq.MaxTokens != 256 || gotReq.Model != defaultModel {
		t.Errorf("request = %+v", gotReq)
	}
	if resp.Text != "Hello, world." {
		t.Errorf("text = %q, want non-text blocks filtered", resp.Text)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "authentication_error", "message": "invalid x-api-key"},
		})
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("bad-key", "", srv.URL)
	_, err := c.Generate(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, 16)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if !apiErr.IsAuth() || apiErr.Type != "authentication_error" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestGenerateRateLimitRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"type": "rate_limit_error", "message": "slow down"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":   defaultModel,
			"content": []map[string]any{{"type": "text", "text": "ok"}},
			"usage":   map[string]int{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", "", srv.URL)
	resp, err := c.Generate(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, 16)
	if err != nil {
		t.Fatalf("Generate after retries: %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("text = %q", resp.Text)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}
