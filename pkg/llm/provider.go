package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"
)

// Message is one turn of a conversation sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Tool describes a structured-output schema the model can be asked to fill.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request is a provider-independent completion request. When ForceTool is set
// the provider must make the model emit the tool schema; otherwise the model
// may answer with text, a tool payload, or both.
type Request struct {
	System    string
	Messages  []Message
	Tool      *Tool
	ForceTool bool
	MaxTokens int
}

// Response carries the model reply. Structured is nil when the model answered
// with free text only.
type Response struct {
	Text       string
	Structured json.RawMessage
}

// Provider is a completion-capable model backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// NewProvider builds the provider selected by cfg. A nil httpClient gets a
// transport with sane pooling defaults.
func NewProvider(cfg Config, httpClient *http.Client) (Provider, error) {
	switch cfg.Provider {
	case ProviderAnthropic, "":
		return NewAnthropicClient(cfg, httpClient)
	case ProviderOllama:
		return NewOllamaClient(cfg, httpClient)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 15 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// package-level logger for pkg/llm; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by pkg/llm. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}
