package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaClient runs completions against a local Ollama instance. Structured
// output is obtained through the generate API's format parameter, which
// constrains the model to the supplied JSON schema.
type OllamaClient struct {
	api    *api.Client
	cfg    Config
	client *http.Client

	// simple circuit breaker state
	failures  int32
	openUntil int64 // unix nano
	closed    int32 // atomic flag for Close()
}

var _ Provider = (*OllamaClient)(nil)

// NewOllamaClient creates an Ollama-backed provider.
func NewOllamaClient(cfg Config, httpClient *http.Client) (*OllamaClient, error) {
	if httpClient == nil {
		httpClient = defaultHTTPClient(cfg.Timeout)
	}
	u, err := url.ParseRequestURI(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid base url: %w", err)
	}
	c := &OllamaClient{
		api:    api.NewClient(u, httpClient),
		cfg:    cfg,
		client: httpClient,
	}
	logger.Info("llm: ollama client created",
		slog.String("base_url", cfg.BaseURL), slog.String("model", cfg.Model))
	return c, nil
}

func (c *OllamaClient) Name() string { return ProviderOllama }

// Complete sends one generate call. Chat turns are flattened into a single
// transcript prompt. When ForceTool is set the tool schema is passed as the
// response format so the model can only emit conforming JSON.
func (c *OllamaClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.isCircuitOpen() {
		return nil, ErrCircuitOpen
	}

	genReq := &api.GenerateRequest{
		Model:  c.cfg.Model,
		System: req.System,
		Prompt: buildTranscript(req.Messages),
	}
	if req.ForceTool && req.Tool != nil {
		genReq.Format = req.Tool.InputSchema
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	if maxTokens > 0 {
		genReq.Options = map[string]any{"num_predict": maxTokens}
	}

	ctxReq, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var sb strings.Builder
	start := time.Now()
	err := c.api.Generate(ctxReq, genReq, func(r api.GenerateResponse) error {
		sb.WriteString(r.Response)
		return nil
	})
	if err != nil {
		c.recordFailure()
		return nil, &APIError{Kind: KindTransport, Message: err.Error()}
	}

	text := sb.String()
	out := &Response{Text: text}
	if frag, ok := extractJSON(text); ok {
		out.Structured = frag
		// a reply that is nothing but the JSON payload carries no prose
		if strings.HasPrefix(strings.TrimSpace(text), "{") || strings.HasPrefix(strings.TrimSpace(text), "```") {
			out.Text = ""
		}
	}

	atomic.StoreInt32(&c.failures, 0)
	logger.Info("llm: ollama call completed",
		slog.String("model", c.cfg.Model),
		slog.Int64("latency_ms", time.Since(start).Milliseconds()),
		slog.Bool("structured", out.Structured != nil))
	return out, nil
}

// Health pings the Ollama instance by listing installed models.
func (c *OllamaClient) Health(ctx context.Context) error {
	if c.isCircuitOpen() {
		return ErrCircuitOpen
	}

	ctxReq, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return err
	}
	u := base.ResolveReference(&url.URL{Path: "/api/tags"})
	req, err := http.NewRequestWithContext(ctxReq, http.MethodGet, u.String(), nil)
	if err != nil {
		c.recordFailure()
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.recordFailure()
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		c.recordFailure()
		return fmt.Errorf("health check failed: %w", err)
	}
	if len(tags.Models) == 0 {
		c.recordFailure()
		return fmt.Errorf("health check failed: no models installed")
	}

	atomic.StoreInt32(&c.failures, 0)
	return nil
}

// Close releases idle connections on the underlying transport. Close is
// idempotent and safe to call multiple times.
func (c *OllamaClient) Close() error {
	if c == nil {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	if c.client != nil && c.client.Transport != nil {
		if tr, ok := c.client.Transport.(interface{ CloseIdleConnections() }); ok {
			tr.CloseIdleConnections()
		}
	}
	return nil
}

func (c *OllamaClient) isCircuitOpen() bool {
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

func (c *OllamaClient) recordFailure() {
	v := atomic.AddInt32(&c.failures, 1)
	if c.cfg.CircuitFailureThreshold > 0 && v >= int32(c.cfg.CircuitFailureThreshold) {
		atomic.StoreInt64(&c.openUntil, time.Now().Add(c.cfg.CircuitReset).UnixNano())
	}
}

func buildTranscript(msgs []Message) string {
	if len(msgs) == 1 && msgs[0].Role == RoleUser {
		return msgs[0].Content
	}
	var sb strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			sb.WriteString("User: ")
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Assistant:")
	return sb.String()
}

// extractJSON pulls the first top-level JSON object out of a model reply,
// tolerating markdown code fences around it.
func extractJSON(s string) (json.RawMessage, bool) {
	t := trimCodeFence(s)
	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	frag := strings.TrimSpace(t[start : end+1])
	if !json.Valid([]byte(frag)) {
		return nil, false
	}
	return json.RawMessage(frag), true
}

func trimCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	if i := strings.LastIndex(t, "```"); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}
