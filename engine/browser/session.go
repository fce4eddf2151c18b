package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bankscout/bankscout/engine/domain"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("browser: session closed")

// Session is one browser page owned by a single extraction run. It is not
// meant for concurrent use; the mutex only guards Close against in-flight
// operations.
type Session struct {
	page    Page
	release func() error
	opts    Options
	log     *slog.Logger
	rnd     func() float64

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// Open launches a browser through l. If ctx is cancelled while the launch is
// in flight, Open returns ctx.Err() and the browser is released as soon as
// the launch finishes.
func Open(ctx context.Context, l Launcher, opts Options, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()

	type launched struct {
		page    Page
		release func() error
		err     error
	}
	ch := make(chan launched, 1)
	go func() {
		p, rel, err := l.Launch(ctx, opts)
		ch <- launched{p, rel, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil && r.release != nil {
				_ = r.release()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, domain.ErrLaunch) {
				return nil, r.err
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrLaunch, r.err)
		}
		log.Debug("browser session opened", "kind", opts.Kind, "headless", opts.Headless)
		return &Session{page: r.page, release: r.release, opts: opts, log: log, rnd: rand.Float64}, nil
	}
}

// Options returns the effective options.
func (s *Session) Options() Options { return s.opts }

// Do runs a blocking page operation as a suspension point: it returns
// ctx.Err() as soon as ctx is done, leaving f to be unblocked by Close.
func (s *Session) Do(ctx context.Context, f func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	done := make(chan error, 1)
	go func() { done <- f() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Navigate loads url and waits for cond. Timeouts map to
// domain.ErrNavigationTimeout, other failures to domain.ErrNavigation.
func (s *Session) Navigate(ctx context.Context, url string, cond WaitCondition) error {
	err := s.Do(ctx, func() error { return s.page.Goto(url, cond, s.opts.Timeout) })
	return s.navErr(ctx, err, "goto "+url)
}

// WaitFor waits for the current page to reach cond.
func (s *Session) WaitFor(ctx context.Context, cond WaitCondition) error {
	err := s.Do(ctx, func() error { return s.page.WaitForLoadState(cond, s.opts.Timeout) })
	return s.navErr(ctx, err, "wait "+cond.String())
}

func (s *Session) navErr(ctx context.Context, err error, what string) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, ErrTimeout):
		return fmt.Errorf("%w: %s after %s", domain.ErrNavigationTimeout, what, s.opts.Timeout)
	default:
		return fmt.Errorf("%w: %s: %v", domain.ErrNavigation, what, err)
	}
}

// Pace sleeps for a duration drawn uniformly from [min, max]. Each call
// draws afresh.
func (s *Session) Pace(ctx context.Context, min, max time.Duration) error {
	d := s.paceDelay(min, max)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// paceDelay draws a fresh duration in [min, max) on every call.
func (s *Session) paceDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(s.rnd()*float64(max-min))
}

// PaceDefault paces within the configured range.
func (s *Session) PaceDefault(ctx context.Context) error {
	return s.Pace(ctx, s.opts.PaceMin, s.opts.PaceMax)
}

// WaitAttached waits up to the full timeout for selector to exist.
func (s *Session) WaitAttached(ctx context.Context, selector string) error {
	err := s.Do(ctx, func() error {
		return s.page.Locator(selector).First().WaitFor(StateAttached, s.opts.Timeout)
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%w: %s: %v", domain.ErrContainerMissing, selector, err)
	}
}

// WaitHidden waits up to the short timeout for selector to disappear. A miss
// is expected on some sites and only reported as false.
func (s *Session) WaitHidden(ctx context.Context, selector string) bool {
	err := s.Do(ctx, func() error {
		return s.page.Locator(selector).First().WaitFor(StateHidden, s.opts.ShortTimeout)
	})
	if err != nil && ctx.Err() == nil {
		s.log.Debug("element still visible", "selector", selector, "err", err)
	}
	return err == nil
}

// Title returns the page title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	err := s.Do(ctx, func() error {
		var err error
		title, err = s.page.Title()
		return err
	})
	return title, err
}

// URL returns the current page URL.
func (s *Session) URL() string { return s.page.URL() }

// Locator returns a lazy locator on the page.
func (s *Session) Locator(selector string) Locator { return s.page.Locator(selector) }

// Close releases every browser resource. It is safe to call more than once
// and from any exit path; teardown is bounded by CloseTimeout rather than
// any context so a cancelled run still releases its browser.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		done := make(chan error, 1)
		go func() { done <- s.release() }()

		t := time.NewTimer(s.opts.CloseTimeout)
		defer t.Stop()
		select {
		case err := <-done:
			s.closeErr = err
		case <-t.C:
			s.closeErr = fmt.Errorf("browser: close timed out after %s", s.opts.CloseTimeout)
		}
		if s.closeErr != nil {
			s.log.Warn("browser session close", "err", s.closeErr)
		} else {
			s.log.Debug("browser session closed")
		}
	})
	return s.closeErr
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
