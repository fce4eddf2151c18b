// Package browser owns one automated browser page per extraction run and
// exposes navigation, jittered pacing and timeout-scaled waits on it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTimeout is returned by Page and Locator implementations when a wait
// runs out of time.
var ErrTimeout = errors.New("browser: timeout")

// WaitCondition is the page load state a navigation waits for.
type WaitCondition int

const (
	WaitDOMReady WaitCondition = iota
	WaitLoad
	WaitNetworkIdle
)

func (w WaitCondition) String() string {
	switch w {
	case WaitDOMReady:
		return "domcontentloaded"
	case WaitLoad:
		return "load"
	case WaitNetworkIdle:
		return "networkidle"
	default:
		return "unknown"
	}
}

// ElementState is the element condition a locator wait targets.
type ElementState int

const (
	StateAttached ElementState = iota
	StateDetached
	StateVisible
	StateHidden
)

// Page is the part of a browser page the session drives. Calls block until
// done or until their timeout passes; they are not context-aware, Session
// runs them as cancellable suspension points.
type Page interface {
	Goto(url string, wait WaitCondition, timeout time.Duration) error
	WaitForLoadState(wait WaitCondition, timeout time.Duration) error
	Title() (string, error)
	URL() string
	Locator(selector string) Locator
}

// Locator addresses zero or more elements by selector. Nth and First are
// lazy; nothing is resolved until an action runs.
type Locator interface {
	Count() (int, error)
	Nth(i int) Locator
	First() Locator
	ScrollIntoView(timeout time.Duration) error
	Click(timeout time.Duration) error
	WaitFor(state ElementState, timeout time.Duration) error
	InnerHTML(timeout time.Duration) (string, error)
}

// Kind is a browser engine.
type Kind string

const (
	Chromium Kind = "chromium"
	Firefox  Kind = "firefox"
	WebKit   Kind = "webkit"
)

// ParseKind accepts chromium, firefox or webkit in any case.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Chromium, Firefox, WebKit:
		return k, nil
	case "":
		return Chromium, nil
	default:
		return "", fmt.Errorf("browser: unknown kind %q", s)
	}
}

// Launcher starts a browser and returns its page plus a release func that
// tears down everything it started.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Page, func() error, error)
}
