// Package pipeline runs a source through browser session, extractor and
// normalizer, retrying what can be retried and reporting the rest.
//
// Each run moves through idle, session_open, extracting, normalizing and
// closed, and ends as success, partial_failure or hard_failure. The browser
// session is released on every exit path, cancellation included.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bankscout/bankscout/engine/browser"
	"github.com/bankscout/bankscout/engine/domain"
	"github.com/bankscout/bankscout/engine/extract"
	"github.com/bankscout/bankscout/pkg/fn"
	"github.com/bankscout/bankscout/pkg/metrics"
)

// ErrNoItems is the run error when a page yields no items.
var ErrNoItems = errors.New("pipeline: extraction produced no items")

// Normalizer turns a raw item into a typed record.
type Normalizer interface {
	Normalize(ctx context.Context, item domain.RawItem, schemaName string, meta domain.SourceMeta) (domain.Record, error)
}

// Source is one listing page and how to read it.
type Source struct {
	Name      string
	Bank      string
	Category  domain.Category
	Schema    string
	URL       string
	Extractor extract.Extractor
}

// Options configures a Controller.
type Options struct {
	Browser browser.Options
	// Retries is the attempt budget for extraction and for each item.
	Retries      int
	RetryWait    time.Duration
	MaxRetryWait time.Duration
	// Workers bounds concurrent sources in RunAll.
	Workers int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Browser:      browser.DefaultOptions(),
		Retries:      3,
		RetryWait:    2 * time.Second,
		MaxRetryWait: 30 * time.Second,
		Workers:      2,
	}
}

// Outcome is the result of one run: the records in page order and the
// report.
type Outcome struct {
	Records []domain.Record `json:"records"`
	Report  *Report         `json:"report"`
}

// Controller sequences runs. It holds no per-run state and is safe for
// concurrent use.
type Controller struct {
	launcher browser.Launcher
	norm     Normalizer
	opts     Options
	sink     Sink
	met      *metrics.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Controller. A nil sink discards events; nil metrics use a
// private registry.
func New(launcher browser.Launcher, norm Normalizer, opts Options, sink Sink, met *metrics.Registry, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = DiscardSink{}
	}
	if met == nil {
		met = metrics.New()
	}
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = DefaultOptions().RetryWait
	}
	if opts.MaxRetryWait <= 0 {
		opts.MaxRetryWait = DefaultOptions().MaxRetryWait
	}
	if opts.MaxRetryWait < opts.RetryWait {
		opts.MaxRetryWait = opts.RetryWait
	}
	return &Controller{
		launcher: launcher,
		norm:     norm,
		opts:     opts,
		sink:     sink,
		met:      met,
		logger:   logger,
		now:      time.Now,
	}
}

// run is the state of one Run call.
type run struct {
	c   *Controller
	src Source
	rep *Report
	log *slog.Logger
}

// Run processes one source. It always returns a report; records are only
// those that normalized.
func (c *Controller) Run(ctx context.Context, src Source) Outcome {
	r := &run{
		c:   c,
		src: src,
		rep: &Report{
			RunID:     uuid.NewString(),
			Source:    src.Name,
			Bank:      src.Bank,
			URL:       src.URL,
			State:     StateIdle,
			StartedAt: c.now(),
		},
	}
	r.log = c.logger.With("run_id", r.rep.RunID, "source", src.Name)
	r.emit(ctx, Event{Kind: EventRunStarted})

	records := r.execute(ctx)

	r.setState(ctx, StateClosed)
	r.rep.FinishedAt = c.now()
	r.rep.settle()
	c.observe(r.rep)
	r.emit(ctx, Event{Kind: EventRunFinished, Report: r.rep})
	return Outcome{Records: records, Report: r.rep}
}

// RunAll runs sources concurrently, bounded by Options.Workers. Outcomes
// keep the order of sources; one source failing leaves the others alone.
func (c *Controller) RunAll(ctx context.Context, sources []Source) []Outcome {
	return fn.ParMap(sources, c.opts.Workers, func(s Source) Outcome {
		return c.Run(ctx, s)
	})
}

func (r *run) execute(ctx context.Context) []domain.Record {
	if r.src.Extractor == nil {
		r.rep.Err = fmt.Errorf("%w: source %s has no extractor", domain.ErrUnknownExtractor, r.src.Name)
		return nil
	}

	r.setState(ctx, StateSessionOpen)
	sess, err := browser.Open(ctx, r.c.launcher, r.c.opts.Browser, r.log)
	if err != nil {
		r.rep.Err = err
		return nil
	}
	defer r.close(sess)

	r.setState(ctx, StateExtracting)
	listing, err := r.extract(ctx, sess)
	if err != nil {
		r.rep.Err = err
		return nil
	}
	// The browser is not needed past this point.
	r.close(sess)

	r.rep.PageTitle = listing.Title
	r.rep.Cards = listing.Cards
	r.rep.Dropped = listing.Dropped
	r.rep.Discovered = len(listing.Items)
	r.rep.CardFailures = listing.CardFailures
	for _, cf := range listing.CardFailures {
		idx := cf.Index
		r.emit(ctx, Event{Kind: EventCardFailed, Index: &idx, Reason: cf.Reason})
	}
	if len(listing.Items) == 0 {
		r.rep.Err = ErrNoItems
		return nil
	}

	r.setState(ctx, StateNormalizing)
	return r.normalize(ctx, listing)
}

func (r *run) extract(ctx context.Context, sess *browser.Session) (extract.Listing, error) {
	stage := func(ctx context.Context, s *browser.Session) fn.Result[extract.Listing] {
		r.rep.ExtractAttempts++
		return fn.FromPair(r.src.Extractor.Extract(ctx, s, r.src.URL))
	}
	opts := r.retryOpts("extract")
	return fn.TracedStage("pipeline.extract", fn.RetryStage(opts, stage))(ctx, sess).Unwrap()
}

func (r *run) normalize(ctx context.Context, listing extract.Listing) []domain.Record {
	meta := domain.SourceMeta{
		Bank:      r.src.Bank,
		Category:  r.src.Category,
		SourceURL: listing.URL,
		PageTitle: listing.Title,
	}
	records := make([]domain.Record, 0, len(listing.Items))

	for i, item := range listing.Items {
		attempts := 0
		stage := func(ctx context.Context, item domain.RawItem) fn.Result[domain.Record] {
			attempts++
			return fn.FromPair(r.c.norm.Normalize(ctx, item, r.src.Schema, meta))
		}
		opts := r.retryOpts("normalize")
		rec, err := fn.TracedStage("pipeline.normalize", fn.RetryStage(opts, stage))(ctx, item).Unwrap()

		if err != nil {
			if ctx.Err() != nil {
				r.rep.Err = ctx.Err()
				return records
			}
			if domain.Classify(err) == domain.ScopeFatal {
				r.rep.Err = err
				return records
			}
			r.fail(ctx, i, item, err, attempts)
			continue
		}
		records = append(records, rec)
		r.rep.Normalized++
		idx := i
		r.emit(ctx, Event{Kind: EventItemNormalized, Index: &idx, Record: &rec})
	}
	return records
}

func (r *run) fail(ctx context.Context, i int, item domain.RawItem, err error, attempts int) {
	f := Failure{
		Index:    i,
		Title:    item.Title(),
		Item:     item,
		Kind:     domain.Kind(err),
		Reason:   err.Error(),
		Attempts: attempts,
		Err:      err,
	}
	r.rep.Failures = append(r.rep.Failures, f)
	r.rep.Failed++
	r.emit(ctx, Event{Kind: EventItemFailed, Index: &f.Index, Reason: f.Reason})
}

func (r *run) retryOpts(stage string) fn.RetryOpts {
	return fn.RetryOpts{
		MaxAttempts: r.c.opts.Retries,
		InitialWait: r.c.opts.RetryWait,
		MaxWait:     r.c.opts.MaxRetryWait,
		Jitter:      true,
		ShouldRetry: domain.Retryable,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			r.log.Warn("retrying", "stage", stage, "attempt", attempt, "wait", wait, "err", err)
		},
	}
}

// close releases the session. Session.Close is bounded by its own timeout,
// so a cancelled run still tears its browser down.
func (r *run) close(sess *browser.Session) {
	if err := sess.Close(); err != nil {
		r.log.Warn("session close", "err", err)
	}
}

func (r *run) setState(ctx context.Context, s State) {
	r.rep.State = s
	r.emit(ctx, Event{Kind: EventRunState, State: s})
}

// emit never blocks the run on a cancelled context and never fails it.
func (r *run) emit(ctx context.Context, ev Event) {
	ev.RunID = r.rep.RunID
	ev.Source = r.src.Name
	ev.Time = r.c.now()
	if err := r.c.sink.Emit(context.WithoutCancel(ctx), ev); err != nil {
		r.log.Warn("event emit failed", "kind", ev.Kind, "err", err)
	}
}

func (c *Controller) observe(rep *Report) {
	src := rep.Source
	c.met.Counter("bankscout_runs_total", "Pipeline runs by terminal status.", "source", src, "status", string(rep.Status)).Inc()
	c.met.Counter("bankscout_items_discovered_total", "Items extracted.", "source", src).Add(int64(rep.Discovered))
	c.met.Counter("bankscout_items_normalized_total", "Items normalized.", "source", src).Add(int64(rep.Normalized))
	for _, f := range rep.Failures {
		c.met.Counter("bankscout_items_failed_total", "Items that failed normalization.", "source", src, "kind", f.Kind).Inc()
	}
	c.met.Counter("bankscout_card_failures_total", "Cards skipped during extraction.", "source", src).Add(int64(len(rep.CardFailures)))
	c.met.Histogram("bankscout_run_duration_seconds", "Run wall time.", nil, "source", src).Observe(rep.Duration().Seconds())
}
