package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bankscout/bankscout/engine/domain"
	"github.com/bankscout/bankscout/engine/schema"
	"github.com/bankscout/bankscout/pkg/llm"
)

type promptInput struct {
	Schema  json.RawMessage    `json:"schema"`
	Item    map[string]*string `json:"item"`
	Context promptContext      `json:"context"`
}

type promptContext struct {
	Bank      string          `json:"bank"`
	Category  domain.Category `json:"category"`
	PageTitle string          `json:"page_title,omitempty"`
	SourceURL string          `json:"source_url,omitempty"`
}

func (e *Engine) request(sc *schema.Schema, item map[string]*string, meta domain.SourceMeta) (llm.Request, error) {
	cat := meta.Category
	if cat == "" {
		cat = sc.Category
	}
	in := promptInput{
		Schema: sc.JSONSchema(),
		Item:   item,
		Context: promptContext{
			Bank:      meta.Bank,
			Category:  cat,
			PageTitle: meta.PageTitle,
			SourceURL: meta.SourceURL,
		},
	}
	b, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return llm.Request{}, fmt.Errorf("normalize: prompt: %w", err)
	}
	return llm.Request{
		Model: e.opts.Model,
		Messages: []llm.Message{
			{Role: "system", Content: e.opts.SystemPrompt},
			{Role: "user", Content: string(b)},
		},
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
		SchemaName:  strings.ReplaceAll(sc.Name, "-", "_"),
		Schema:      sc.JSONSchema(),
	}, nil
}

var errNoObject = errors.New("no JSON object in reply")

// decode pulls the first JSON object out of a reply that may be wrapped in a
// code fence or surrounded by prose. Numbers stay json.Number.
func decode(content string) ([]byte, map[string]any, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, nil, errNoObject
	}

	dec := json.NewDecoder(strings.NewReader(s[start:]))
	dec.UseNumber()
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, err
	}
	var values map[string]any
	inner := json.NewDecoder(bytes.NewReader(raw))
	inner.UseNumber()
	if err := inner.Decode(&values); err != nil {
		return nil, nil, err
	}
	if values == nil {
		return nil, nil, errNoObject
	}
	return raw, values, nil
}
