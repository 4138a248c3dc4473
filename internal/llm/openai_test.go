package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newChatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func completionBody(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func TestCompleteReturnsContent(t *testing.T) {
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Fatalf("Authorization = %q", got)
		}
		var payload struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Model != "test-model" {
			t.Fatalf("model = %q", payload.Model)
		}
		if len(payload.Messages) != 2 {
			t.Fatalf("messages = %d", len(payload.Messages))
		}
		_ = json.NewEncoder(w).Encode(completionBody("DATABASE_QUERY"))
	})

	client, err := NewOpenAIClient(OpenAIConfig{
		BaseURL: server.URL,
		APIKey:  "key-1",
		Model:   "test-model",
	})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}

	resp, err := client.Complete(context.Background(), Request{
		Purpose: "classify",
		Messages: []Message{
			{Role: RoleSystem, Content: "classify intents"},
			{Role: RoleUser, Content: "find python devs"},
		},
		Temperature: 0.1,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "DATABASE_QUERY" {
		t.Fatalf("Content = %q", resp.Content)
	}
	if resp.Model != "test-model" {
		t.Fatalf("Model = %q", resp.Model)
	}
}

func TestCompleteRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int64
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(completionBody("ok"))
	})

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "k", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}

	resp, err := client.Complete(context.Background(), Request{Purpose: "generate"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("Content = %q", resp.Content)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestCompleteDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int64
	server := newChatServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}

	if _, err := client.Complete(context.Background(), Request{Purpose: "classify"}); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestNewOpenAIClientValidatesConfig(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{APIKey: "k"}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
	if _, err := NewOpenAIClient(OpenAIConfig{BaseURL: "http://localhost"}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
