package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucaresi/stima/pkg/llm"
)

func anthropicTestConfig(baseURL string) llm.Config {
	cfg := llm.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.APIKey = "test-key"
	cfg.Model = "test-model"
	cfg.Timeout = 2 * time.Second
	cfg.CircuitFailureThreshold = 10
	return cfg
}

func TestAnthropicClient_Complete_ForcedTool(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q, want test-key", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Errorf("missing anthropic-version header")
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"tool_use","name":"produce_estimate","input":{"project_name":"CRM"}}],"stop_reason":"tool_use"}`))
	}))
	defer srv.Close()

	client, err := llm.NewAnthropicClient(anthropicTestConfig(srv.URL), srv.Client())
	if err != nil {
		t.Fatalf("NewAnthropicClient: %v", err)
	}

	resp, err := client.Complete(context.Background(), llm.Request{
		System:    "you estimate projects",
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "estimate this"}},
		Tool:      &llm.Tool{Name: "produce_estimate", InputSchema: json.RawMessage(`{"type":"object"}`)},
		ForceTool: true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Structured == nil {
		t.Fatalf("expected structured payload, got none")
	}
	var payload map[string]any
	if err := json.Unmarshal(resp.Structured, &payload); err != nil {
		t.Fatalf("structured payload not valid JSON: %v", err)
	}
	if payload["project_name"] != "CRM" {
		t.Fatalf("unexpected structured payload: %v", payload)
	}

	tc, ok := gotBody["tool_choice"].(map[string]any)
	if !ok || tc["type"] != "any" {
		t.Fatalf("expected tool_choice any, got %v", gotBody["tool_choice"])
	}
	if gotBody["system"] != "you estimate projects" {
		t.Fatalf("system prompt not forwarded: %v", gotBody["system"])
	}
}

func TestAnthropicClient_Complete_TextAndToolBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Updated the core effort."},{"type":"tool_use","name":"produce_estimate","input":{"project_name":"CRM"}}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	client, err := llm.NewAnthropicClient(anthropicTestConfig(srv.URL), srv.Client())
	if err != nil {
		t.Fatalf("NewAnthropicClient: %v", err)
	}

	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "raise the core"}},
		Tool:     &llm.Tool{Name: "produce_estimate", InputSchema: json.RawMessage(`{"type":"object"}`)},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Updated the core effort." {
		t.Fatalf("text = %q", resp.Text)
	}
	if resp.Structured == nil {
		t.Fatalf("expected structured payload alongside text")
	}
}

func TestAnthropicClient_Complete_AuthErrorNotRetryable(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	client, err := llm.NewAnthropicClient(anthropicTestConfig(srv.URL), srv.Client())
	if err != nil {
		t.Fatalf("NewAnthropicClient: %v", err)
	}

	_, err = client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *llm.APIError, got %T", err)
	}
	if apiErr.Kind != llm.KindAuth {
		t.Fatalf("kind = %q, want auth", apiErr.Kind)
	}
	if llm.Retryable(err) {
		t.Fatalf("auth errors must not be retryable")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestAnthropicClient_Complete_RateLimitedRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	client, err := llm.NewAnthropicClient(anthropicTestConfig(srv.URL), srv.Client())
	if err != nil {
		t.Fatalf("NewAnthropicClient: %v", err)
	}

	_, err = client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *llm.APIError, got %v", err)
	}
	if apiErr.Kind != llm.KindRateLimit {
		t.Fatalf("kind = %q, want rate_limit", apiErr.Kind)
	}
	if !llm.Retryable(err) {
		t.Fatalf("rate limits must be retryable")
	}
}

func TestAnthropicClient_CircuitBreaker_Opens(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := anthropicTestConfig(srv.URL)
	cfg.CircuitFailureThreshold = 2
	cfg.CircuitReset = time.Minute
	client, err := llm.NewAnthropicClient(cfg, srv.Client())
	if err != nil {
		t.Fatalf("NewAnthropicClient: %v", err)
	}

	req := llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}
	for i := 0; i < 2; i++ {
		if _, err := client.Complete(context.Background(), req); err == nil {
			t.Fatalf("expected error on attempt %d", i+1)
		}
	}
	if _, err := client.Complete(context.Background(), req); err != llm.ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Fatalf("circuit open call must not reach the server, attempts = %d", attempts)
	}
}
