// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bankscout/bankscout/engine/browser"
)

// ErrPageClosed is returned by page operations after release.
var ErrPageClosed = errors.New("browsertest: page closed")

// Element is one matched element.
type Element struct {
	HTML string
	// Err fails InnerHTML on this element.
	Err error
	// ScrollErr fails ScrollIntoView on this element.
	ScrollErr error
	Hidden    bool
}

// Page is a scripted page. Elements maps a selector to what it matches;
// OnClick runs when the first element of a selector is clicked.
type Page struct {
	mu        sync.Mutex
	TitleText string
	URLText   string
	Elements  map[string][]*Element
	OnClick   map[string]func(p *Page)
	// GotoErrs is consumed one entry per Goto; nil entries succeed.
	GotoErrs []error
	// Block, when set, holds every Goto until closed or until release.
	Block chan struct{}

	gotos    []string
	closed   bool
	closedCh chan struct{}
}

// NewPage returns an empty page titled title.
func NewPage(title string) *Page {
	return &Page{
		TitleText: title,
		Elements:  map[string][]*Element{},
		OnClick:   map[string]func(p *Page){},
		closedCh:  make(chan struct{}),
	}
}

// Set replaces the elements matched by selector.
func (p *Page) Set(selector string, els ...*Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Elements[selector] = els
}

// Append adds elements matched by selector. It does not lock, so OnClick
// callbacks may use it.
func (p *Page) Append(selector string, els ...*Element) {
	p.Elements[selector] = append(p.Elements[selector], els...)
}

// Gotos returns every URL passed to Goto.
func (p *Page) Gotos() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.gotos...)
}

// Closed reports whether the page was released.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.closedCh)
	}
	return nil
}

func (p *Page) Goto(url string, _ browser.WaitCondition, _ time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPageClosed
	}
	p.gotos = append(p.gotos, url)
	p.URLText = url
	var err error
	if len(p.GotoErrs) > 0 {
		err, p.GotoErrs = p.GotoErrs[0], p.GotoErrs[1:]
	}
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-p.closedCh:
			return ErrPageClosed
		}
	}
	return err
}

func (p *Page) WaitForLoadState(browser.WaitCondition, time.Duration) error {
	return p.check()
}

func (p *Page) Title() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrPageClosed
	}
	return p.TitleText, nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.URLText
}

func (p *Page) Locator(selector string) browser.Locator {
	return &Locator{page: p, selector: selector, index: -1}
}

func (p *Page) check() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPageClosed
	}
	return nil
}

// Locator is a lazy selector plus optional index.
type Locator struct {
	page     *Page
	selector string
	index    int
}

func (l *Locator) resolve() (*Element, error) {
	p := l.page
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPageClosed
	}
	els := p.Elements[l.selector]
	i := l.index
	if i < 0 {
		i = 0
	}
	if i >= len(els) {
		return nil, fmt.Errorf("%w: %s[%d] not found", browser.ErrTimeout, l.selector, i)
	}
	return els[i], nil
}

func (l *Locator) Count() (int, error) {
	p := l.page
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPageClosed
	}
	return len(p.Elements[l.selector]), nil
}

func (l *Locator) Nth(i int) browser.Locator {
	return &Locator{page: l.page, selector: l.selector, index: i}
}

func (l *Locator) First() browser.Locator { return l.Nth(0) }

func (l *Locator) ScrollIntoView(time.Duration) error {
	el, err := l.resolve()
	if err != nil {
		return err
	}
	return el.ScrollErr
}

func (l *Locator) Click(time.Duration) error {
	el, err := l.resolve()
	if err != nil {
		return err
	}
	if el.Hidden {
		return fmt.Errorf("%w: %s not visible", browser.ErrTimeout, l.selector)
	}
	l.page.mu.Lock()
	fn := l.page.OnClick[l.selector]
	l.page.mu.Unlock()
	if fn != nil {
		l.page.mu.Lock()
		fn(l.page)
		l.page.mu.Unlock()
	}
	return nil
}

// WaitFor answers immediately: a wait that would not be satisfied fails with
// browser.ErrTimeout.
func (l *Locator) WaitFor(state browser.ElementState, _ time.Duration) error {
	el, err := l.resolve()
	if errors.Is(err, ErrPageClosed) {
		return err
	}
	present := err == nil
	visible := present && !el.Hidden
	var ok bool
	switch state {
	case browser.StateAttached:
		ok = present
	case browser.StateDetached:
		ok = !present
	case browser.StateVisible:
		ok = visible
	case browser.StateHidden:
		ok = !visible
	}
	if !ok {
		return fmt.Errorf("%w: %s", browser.ErrTimeout, l.selector)
	}
	return nil
}

func (l *Locator) InnerHTML(time.Duration) (string, error) {
	el, err := l.resolve()
	if err != nil {
		return "", err
	}
	if el.Err != nil {
		return "", el.Err
	}
	return el.HTML, nil
}

// Launcher hands out Page on every launch and counts launches and releases.
type Launcher struct {
	Page *Page
	Err  error

	mu       sync.Mutex
	launches int
	releases int
}

func (l *Launcher) Launch(context.Context, browser.Options) (browser.Page, func() error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.Err != nil {
		return nil, nil, l.Err
	}
	return l.Page, func() error {
		l.mu.Lock()
		l.releases++
		l.mu.Unlock()
		return l.Page.release()
	}, nil
}

// Launches returns how many times Launch was called.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Releases returns how many times a release func ran.
func (l *Launcher) Releases() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releases
}
