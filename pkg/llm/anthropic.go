package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const anthropicVersion = "2023-06-01"

// AnthropicClient talks to the Anthropic messages API. Structured output is
// obtained by exposing a single tool and forcing the model to call it.
type AnthropicClient struct {
	cfg    Config
	client *http.Client

	// simple circuit breaker state
	failures  int32
	openUntil int64 // unix nano
}

var _ Provider = (*AnthropicClient)(nil)

// NewAnthropicClient creates a messages API client.
func NewAnthropicClient(cfg Config, httpClient *http.Client) (*AnthropicClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("anthropic: base url is required")
	}
	if httpClient == nil {
		httpClient = defaultHTTPClient(cfg.Timeout)
	}
	c := &AnthropicClient{cfg: cfg, client: httpClient}
	logger.Info("llm: anthropic client created",
		slog.String("base_url", cfg.BaseURL), slog.String("model", cfg.Model))
	return c, nil
}

func (c *AnthropicClient) Name() string { return ProviderAnthropic }

// request/response wire types for the messages API

type anthropicRequest struct {
	Model      string               `json:"model"`
	MaxTokens  int                  `json:"max_tokens"`
	System     string               `json:"system,omitempty"`
	Messages   []anthropicMessage   `json:"messages"`
	Tools      []anthropicTool      `json:"tools,omitempty"`
	ToolChoice *anthropicToolChoice `json:"tool_choice,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
}

type anthropicContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one messages API call. No retries happen at this layer;
// callers own the retry policy.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.isCircuitOpen() {
		return nil, ErrCircuitOpen
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	body := anthropicRequest{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		System:    req.System,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	if req.Tool != nil {
		body.Tools = []anthropicTool{{
			Name:        req.Tool.Name,
			Description: req.Tool.Description,
			InputSchema: req.Tool.InputSchema,
		}}
		choice := "auto"
		if req.ForceTool {
			choice = "any"
		}
		body.ToolChoice = &anthropicToolChoice{Type: choice}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	ctxReq, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxReq, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.recordFailure()
		return nil, &APIError{Kind: KindTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return nil, &APIError{Kind: KindTransport, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		msg := apiErrorMessage(raw)
		apiErr := classifyStatus(resp.StatusCode, msg)
		if apiErr.Kind != KindAuth {
			c.recordFailure()
		}
		logger.Warn("llm: anthropic call failed",
			slog.Int("status", resp.StatusCode), slog.String("kind", string(apiErr.Kind)))
		return nil, apiErr
	}

	var decoded anthropicResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		c.recordFailure()
		return nil, &APIError{Kind: KindTransport, Message: fmt.Sprintf("decode response: %v", err)}
	}

	out := &Response{}
	var texts []string
	for _, block := range decoded.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case "tool_use":
			if out.Structured == nil && len(block.Input) > 0 {
				out.Structured = block.Input
			}
		}
	}
	out.Text = strings.Join(texts, "\n")

	atomic.StoreInt32(&c.failures, 0)
	logger.Info("llm: anthropic call completed",
		slog.String("model", c.cfg.Model),
		slog.Int64("latency_ms", time.Since(start).Milliseconds()),
		slog.Bool("structured", out.Structured != nil))
	return out, nil
}

func apiErrorMessage(raw []byte) string {
	var eb anthropicErrorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func (c *AnthropicClient) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.failures) < int32(c.cfg.CircuitFailureThreshold) || c.cfg.CircuitFailureThreshold <= 0 {
		return false
	}
	if time.Now().UnixNano() < atomic.LoadInt64(&c.openUntil) {
		return true
	}
	// half-open: reset failures and allow a request
	atomic.StoreInt32(&c.failures, 0)
	return false
}

func (c *AnthropicClient) recordFailure() {
	v := atomic.AddInt32(&c.failures, 1)
	if c.cfg.CircuitFailureThreshold > 0 && v >= int32(c.cfg.CircuitFailureThreshold) {
		atomic.StoreInt64(&c.openUntil, time.Now().Add(c.cfg.CircuitReset).UnixNano())
	}
}
