package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bankscout/bankscout/engine/browser"
	"github.com/bankscout/bankscout/engine/domain"
	"github.com/bankscout/bankscout/engine/extract"
	"github.com/bankscout/bankscout/engine/normalize"
	"github.com/bankscout/bankscout/engine/pipeline"
	"github.com/bankscout/bankscout/engine/schema"
	"github.com/bankscout/bankscout/pkg/cache"
	"github.com/bankscout/bankscout/pkg/config"
	"github.com/bankscout/bankscout/pkg/llm"
	"github.com/bankscout/bankscout/pkg/metrics"
	"github.com/bankscout/bankscout/pkg/resilience"
)

type app struct {
	controller *pipeline.Controller
	cache      cache.Cache
}

func (a *app) Close() error { return a.cache.Close() }

func build(ctx context.Context, cfg *config.Config, met *metrics.Registry, sink pipeline.Sink, logger *slog.Logger) (*app, error) {
	reg, err := schema.Default()
	if err != nil {
		return nil, err
	}

	client, err := llm.New(llm.Config{
		Provider: cfg.AI.Provider,
		BaseURL:  cfg.AI.BaseURL,
		APIKey:   cfg.AI.APIKey,
		Timeout:  cfg.AI.Timeout,
	})
	if err != nil {
		return nil, err
	}

	c, err := newCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	breaker := resilience.NewBreaker(resilience.BreakerOpts{
		FailThreshold: cfg.AI.BreakerThreshold,
		Timeout:       cfg.AI.BreakerCooldown,
		HalfOpenMax:   1,
		OnStateChange: func(from, to resilience.State) {
			logger.Warn("ai circuit breaker", "from", from, "to", to)
		},
	})

	norm := normalize.New(client, reg, normalize.Options{
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
		Limiter:     resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.AI.Rate, Burst: cfg.AI.Burst}),
		Breaker:     breaker,
		Cache:       c,
		CacheTTL:    cfg.Cache.TTL,
		Metrics:     met,
	}, logger.With("component", "normalize"))

	bopts, err := browserOptions(cfg.Parsing)
	if err != nil {
		c.Close()
		return nil, err
	}
	ctrl := pipeline.New(browser.PlaywrightLauncher{}, norm, pipeline.Options{
		Browser:      bopts,
		Retries:      cfg.Parsing.Retries,
		RetryWait:    cfg.Parsing.RetryWait,
		MaxRetryWait: 30 * time.Second,
		Workers:      cfg.Parsing.Concurrency,
	}, sink, met, logger.With("component", "pipeline"))

	return &app{controller: ctrl, cache: c}, nil
}

func browserOptions(p config.ParsingConfig) (browser.Options, error) {
	kind, err := browser.ParseKind(p.Browser)
	if err != nil {
		return browser.Options{}, fmt.Errorf("%w: %v", domain.ErrLaunch, err)
	}
	o := browser.OptionsFromSeconds(p.Timeout, p.ShortTimeoutRatio)
	o.Kind = kind
	o.Headless = p.Headless
	o.PaceMin, o.PaceMax = p.PaceMin, p.PaceMax
	o.InstallBrowsers = p.InstallBrowsers
	if p.UserAgent != "" {
		o.UserAgent = p.UserAgent
	}
	return o, nil
}

func newCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Type {
	case "redis":
		return cache.NewRedis(ctx, cfg.RedisURL, "bankscout:")
	case "none":
		return cache.Nop{}, nil
	default:
		return cache.NewMemory(10 * time.Minute), nil
	}
}

// buildSources resolves enabled sources, or exactly the named ones when only
// is non-empty.
func buildSources(cfg *config.Config, only []string, logger *slog.Logger) ([]pipeline.Source, error) {
	candidates := cfg.EnabledSources()
	if len(only) > 0 {
		candidates = nil
		for _, name := range only {
			i := slices.IndexFunc(cfg.Sources, func(s config.SourceConfig) bool { return s.Name == name })
			if i < 0 {
				return nil, fmt.Errorf("unknown source %q", name)
			}
			candidates = append(candidates, cfg.Sources[i])
		}
	}

	out := make([]pipeline.Source, 0, len(candidates))
	for _, sc := range candidates {
		ex, err := extract.Lookup(sc.Extractor, logger)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w (known: %s)", sc.Name, err, strings.Join(extract.Names(), ", "))
		}
		out = append(out, pipeline.Source{
			Name:      sc.Name,
			Bank:      sc.Bank,
			Category:  domain.Category(sc.Category),
			Schema:    sc.Schema,
			URL:       sc.URL,
			Extractor: ex,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sources to run")
	}
	return out, nil
}
