// Package ai is the structured-output gateway: it turns project requirements
// into schema-valid estimates through an LLM provider, and refines existing
// estimates conversationally.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lucaresi/stima/pkg/llm"
	"github.com/lucaresi/stima/pkg/models"
)

const estimateToolName = "produce_estimate"

// ErrInvalidEstimate flags a structured reply that failed schema validation
// or could not be decoded. Initial runs retry it; refine calls surface it.
var ErrInvalidEstimate = errors.New("estimate does not match schema")

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by the ai package. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// EngineConfig tunes the gateway. Zero values get defaults.
type EngineConfig struct {
	SchemaVersion string
	MaxTokens     int             // token budget for initial estimates
	ChatMaxTokens int             // token budget for refine calls
	Backoff       []time.Duration // waits between initial attempts
}

// Engine owns the provider, the schema loader and the retry schedule.
// It is stateless beyond the loader's schema cache and safe for
// concurrent use.
type Engine struct {
	provider llm.Provider
	loader   *Loader
	cfg      EngineConfig
}

func NewEngine(provider llm.Provider, loader *Loader, cfg EngineConfig) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if loader == nil {
		return nil, fmt.Errorf("schema loader is required")
	}

	// apply sensible defaults
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = "v1"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.ChatMaxTokens == 0 {
		cfg.ChatMaxTokens = 4096
	}
	if cfg.Backoff == nil {
		cfg.Backoff = []time.Duration{2 * time.Second, 4 * time.Second}
	}

	return &Engine{provider: provider, loader: loader, cfg: cfg}, nil
}

// EstimateInput carries the documents an initial estimation is built from.
type EstimateInput struct {
	Requirements string
	ModelDoc     string
	Enrichment   string
}

// Estimate runs an initial estimation. Structured output is forced; the
// reply must validate against the estimate schema. Transient failures and
// invalid payloads are retried per the backoff schedule, authorization and
// quota denials surface immediately.
func (e *Engine) Estimate(ctx context.Context, in EstimateInput) (*models.Estimate, error) {
	tool, err := e.tool()
	if err != nil {
		return nil, err
	}

	req := llm.Request{
		System:    buildEstimateSystemPrompt(in.ModelDoc),
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: buildUserPrompt(in.Requirements, in.Enrichment)}},
		Tool:      tool,
		ForceTool: true,
		MaxTokens: e.cfg.MaxTokens,
	}

	attempts := len(e.cfg.Backoff) + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		logger.Info("estimate attempt", "attempt", attempt, "attempts", attempts, "provider", e.provider.Name())

		est, err := e.once(ctx, req)
		if err == nil {
			return est, nil
		}
		lastErr = err
		logger.Warn("estimate attempt failed", "attempt", attempt, "err", err)

		if !llm.Retryable(err) {
			return nil, err
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.cfg.Backoff[attempt-1]):
			}
		}
	}

	return nil, fmt.Errorf("estimation failed after %d attempts: %w", attempts, lastErr)
}

func (e *Engine) once(ctx context.Context, req llm.Request) (*models.Estimate, error) {
	resp, err := e.provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	if len(resp.Structured) == 0 {
		return nil, fmt.Errorf("%w: model returned no structured payload", ErrInvalidEstimate)
	}

	return e.decode(ctx, resp.Structured)
}

// RefineInput carries one chat turn over an existing estimate.
type RefineInput struct {
	ModelDoc string
	History  []models.ChatTurn
	Message  string
	Current  *models.Estimate
}

// RefineResult is the outcome of a refine call. Estimate is nil when the
// model answered with prose only.
type RefineResult struct {
	Reply    string
	Estimate *models.Estimate
}

// Refine sends a chat message over the current estimate. The model decides
// between a prose answer and a complete updated estimate. Single attempt:
// any failure surfaces to the caller and must not mutate job state.
func (e *Engine) Refine(ctx context.Context, in RefineInput) (*RefineResult, error) {
	if in.Current == nil {
		return nil, fmt.Errorf("current estimate is required")
	}

	tool, err := e.tool()
	if err != nil {
		return nil, err
	}
	system, err := buildRefineSystemPrompt(in.ModelDoc, in.Current)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(in.History)+1)
	for _, turn := range in.History {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: in.Message})

	resp, err := e.provider.Complete(ctx, llm.Request{
		System:    system,
		Messages:  messages,
		Tool:      tool,
		MaxTokens: e.cfg.ChatMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}

	out := &RefineResult{Reply: strings.TrimSpace(resp.Text)}
	if len(resp.Structured) > 0 {
		est, err := e.decode(ctx, resp.Structured)
		if err != nil {
			return nil, err
		}
		out.Estimate = est
	}

	return out, nil
}

// ReloadSchemas refreshes the schema cache from the repository.
func (e *Engine) ReloadSchemas(ctx context.Context) error {
	return e.loader.Reload(ctx)
}

// decode validates a structured payload against the estimate schema and
// unmarshals it.
func (e *Engine) decode(ctx context.Context, payload json.RawMessage) (*models.Estimate, error) {
	schema, ok := e.loader.GetSchema(e.cfg.SchemaVersion)
	if !ok {
		return nil, fmt.Errorf("no schema found for version %s", e.cfg.SchemaVersion)
	}

	verrs, err := schema.ValidateBytes(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("schema validate error: %w", err)
	}
	if len(verrs) > 0 {
		var sb strings.Builder
		for _, v := range verrs {
			sb.WriteString(v.Message)
			sb.WriteString("; ")
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidEstimate, sb.String())
	}

	var est models.Estimate
	if err := json.Unmarshal(payload, &est); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrInvalidEstimate, err)
	}

	return &est, nil
}

func (e *Engine) tool() (*llm.Tool, error) {
	raw, ok := e.loader.SchemaBytes(e.cfg.SchemaVersion)
	if !ok {
		return nil, fmt.Errorf("no schema found for version %s", e.cfg.SchemaVersion)
	}

	return &llm.Tool{
		Name:        estimateToolName,
		Description: "Produce a complete structured software project estimate using the Core & Satellites model.",
		InputSchema: raw,
	}, nil
}
