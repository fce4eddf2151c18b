package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// Ollama uses the native /api/chat endpoint with structured output.
type Ollama struct {
	baseURL string
	client  *http.Client
}

// NewOllama creates a client. A nil http.Client means http.DefaultClient.
func NewOllama(baseURL string, hc *http.Client) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Ollama{baseURL: strings.TrimRight(baseURL, "/"), client: hc}
}

type ollamaChatReq struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResp struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

// Complete implements Client.
func (c *Ollama) Complete(ctx context.Context, in Request) (Response, error) {
	body := ollamaChatReq{
		Model:    in.Model,
		Messages: in.Messages,
		Options:  map[string]any{"temperature": in.Temperature},
	}
	if in.MaxTokens > 0 {
		body.Options["num_predict"] = in.MaxTokens
	}
	if len(in.Schema) > 0 {
		body.Format = in.Schema
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("llm: ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Response{}, &StatusError{Code: resp.StatusCode, Body: truncate(string(b))}
	}

	var out ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("llm: ollama decode: %w", err)
	}
	return Response{
		Content:          out.Message.Content,
		Model:            out.Model,
		PromptTokens:     out.PromptEvalCount,
		CompletionTokens: out.EvalCount,
	}, nil
}
