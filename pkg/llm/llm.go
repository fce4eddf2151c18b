// Package llm talks to chat-completion services that can be asked for
// JSON output constrained by a schema.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// SchemaName and Schema, when set, ask the backend for JSON matching the
	// given JSON Schema document.
	SchemaName string
	Schema     json.RawMessage
}

// Response is the assistant's reply.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client is a chat-completion backend.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: status %d: %s", e.Code, e.Body)
}

// Config selects and configures a backend.
type Config struct {
	Provider string // "openai" or "ollama"
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// New builds the client for cfg.Provider.
func New(cfg Config) (Client, error) {
	hc := &http.Client{Timeout: cfg.Timeout}
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAI(cfg.BaseURL, cfg.APIKey, hc), nil
	case "ollama":
		return NewOllama(cfg.BaseURL, hc), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

const maxErrBody = 512

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrBody {
		return s[:maxErrBody] + "..."
	}
	return s
}
