// Package normalize projects raw card text onto a typed schema through an
// AI completion service and validates everything the service returns.
package normalize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bankscout/bankscout/engine/domain"
	"github.com/bankscout/bankscout/engine/schema"
	"github.com/bankscout/bankscout/pkg/cache"
	"github.com/bankscout/bankscout/pkg/llm"
	"github.com/bankscout/bankscout/pkg/metrics"
	"github.com/bankscout/bankscout/pkg/resilience"
)

// Options configures the Engine. Limiter, Breaker and Cache are optional.
type Options struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string

	Limiter *resilience.Limiter
	Breaker *resilience.Breaker

	Cache    cache.Cache
	CacheTTL time.Duration

	Metrics *metrics.Registry
	Now     func() time.Time
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Model:        "gpt-4o-mini",
		Temperature:  0,
		MaxTokens:    1024,
		SystemPrompt: defaultSystemPrompt,
		CacheTTL:     24 * time.Hour,
	}
}

const defaultSystemPrompt = `You normalize Russian retail banking product cards.
You receive a JSON object with a target schema, the raw card fields and context.
Reply with one JSON object that has exactly the schema's properties.
Ranges are arrays [min, max] of non-negative plain numbers with min <= max, or [] if the card gives no value.
Numbers are plain digits with a dot as the decimal separator and no thousands separators (5000000, never 5,000,000 or 5 000 000).
Percent ranges are in percent (9.9 for 9.9%). Amounts are in units of currency (5 млн is 5000000).
Durations are in months (1 год is 12, 90 дней is 3).
"до X" means [0, X]. "от X" alone means [X, X]. A free product has [0, 0].
Currency is an ISO code from the enum or null. Strings are copied, never translated.
Use null when the card does not mention a field. Never invent values.`

// Engine normalizes raw items. It is safe for concurrent use.
type Engine struct {
	client llm.Client
	reg    *schema.Registry
	opts   Options
	logger *slog.Logger

	callDur   *metrics.Histogram
	cacheHits *metrics.Counter
}

// New creates an Engine.
func New(client llm.Client, reg *schema.Registry, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultOptions()
	if opts.Model == "" {
		opts.Model = d.Model
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = d.SystemPrompt
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = d.CacheTTL
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		client: client,
		reg:    reg,
		opts:   opts,
		logger: logger,
		callDur: opts.Metrics.Histogram("bankscout_ai_call_duration_seconds",
			"Latency of completion calls.", metrics.DefaultBuckets),
		cacheHits: opts.Metrics.Counter("bankscout_ai_cache_hits_total",
			"Normalizations served from the result cache."),
	}
}

// Normalize maps item onto the named schema.
//
// Errors: domain.ErrUnknownSchema and *domain.ValidationError for bad input,
// domain.ErrServiceUnavailable when the service cannot be reached or its
// reply cannot be decoded (retryable), *domain.SchemaViolation when the reply
// does not satisfy the schema (not retryable).
func (e *Engine) Normalize(ctx context.Context, item domain.RawItem, schemaName string, meta domain.SourceMeta) (domain.Record, error) {
	sc, err := e.reg.Lookup(schemaName)
	if err != nil {
		return domain.Record{}, err
	}
	if err := domain.ValidateRawItem(item); err != nil {
		return domain.Record{}, err
	}

	cleaned := cleanItem(item)
	key, err := cacheKey(sc, cleaned)
	if err != nil {
		return domain.Record{}, fmt.Errorf("normalize: cache key: %w", err)
	}

	if fields, ok := e.cached(ctx, sc, key); ok {
		e.cacheHits.Inc()
		return e.record(sc, meta, fields), nil
	}

	req, err := e.request(sc, cleaned, meta)
	if err != nil {
		return domain.Record{}, err
	}
	content, err := e.complete(ctx, req)
	if err != nil {
		return domain.Record{}, err
	}

	obj, values, err := decode(content)
	if err != nil {
		return domain.Record{}, domain.ServiceUnavailable(fmt.Errorf("malformed reply: %w", err))
	}
	fields, err := sc.Validate(values)
	if err != nil {
		e.logger.Debug("reply failed validation", "schema", sc.Name, "title", item.Title(), "err", err)
		return domain.Record{}, err
	}

	if err := e.opts.Cache.Set(ctx, key, obj, e.opts.CacheTTL); err != nil {
		e.logger.Warn("normalize: cache store failed", "err", err)
	}
	return e.record(sc, meta, fields), nil
}

func (e *Engine) cached(ctx context.Context, sc *schema.Schema, key string) (map[string]domain.Value, bool) {
	b, err := e.opts.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			e.logger.Warn("normalize: cache lookup failed", "err", err)
		}
		return nil, false
	}
	_, values, err := decode(string(b))
	if err != nil {
		return nil, false
	}
	fields, err := sc.Validate(values)
	if err != nil {
		return nil, false
	}
	return fields, true
}

// complete runs one completion call behind the limiter and breaker.
func (e *Engine) complete(ctx context.Context, req llm.Request) (string, error) {
	if l := e.opts.Limiter; l != nil {
		// Wait fails early when the deadline cannot be met; that is the
		// caller's deadline, not the service's fault.
		if err := l.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("normalize: rate limit: %w: %v", context.DeadlineExceeded, err)
		}
	}

	var resp llm.Response
	call := func(ctx context.Context) error {
		var err error
		resp, err = e.client.Complete(ctx, req)
		return err
	}

	start := time.Now()
	var err error
	if b := e.opts.Breaker; b != nil {
		err = b.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	e.callDur.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domain.ServiceUnavailable(err)
	}
	e.logger.Debug("completion done", "model", resp.Model,
		"prompt_tokens", resp.PromptTokens, "completion_tokens", resp.CompletionTokens,
		"duration", time.Since(start))
	return resp.Content, nil
}

func (e *Engine) record(sc *schema.Schema, meta domain.SourceMeta, fields map[string]domain.Value) domain.Record {
	cat := meta.Category
	if cat == "" {
		cat = sc.Category
	}
	return domain.Record{
		Schema:        sc.Name,
		SchemaVersion: sc.Version,
		Bank:          meta.Bank,
		Category:      cat,
		CollectedAt:   e.opts.Now().UTC(),
		SourceURL:     meta.SourceURL,
		PageTitle:     meta.PageTitle,
		Fields:        fields,
	}
}

func cleanItem(item domain.RawItem) map[string]*string {
	out := make(map[string]*string, len(item))
	for k, v := range item {
		if v == nil {
			out[k] = nil
			continue
		}
		c := schema.CleanText(*v)
		if c == "" {
			out[k] = nil
			continue
		}
		out[k] = &c
	}
	return out
}

// cacheKey hashes the schema identity and the canonical item JSON. Map keys
// marshal sorted, so equal items hash equally.
func cacheKey(sc *schema.Schema, item map[string]*string) (string, error) {
	b, err := json.Marshal(item)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00", sc.Name, sc.Version)
	h.Write(b)
	return "normalize:" + hex.EncodeToString(h.Sum(nil)), nil
}
