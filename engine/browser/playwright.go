package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/bankscout/bankscout/engine/domain"
)

// PlaywrightLauncher starts a real browser through the playwright driver.
type PlaywrightLauncher struct{}

// Launch starts the driver, the browser, a context and one page.
func (PlaywrightLauncher) Launch(_ context.Context, opts Options) (Page, func() error, error) {
	if opts.InstallBrowsers {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{string(opts.Kind)}}); err != nil {
			return nil, nil, fmt.Errorf("%w: install %s: %v", domain.ErrLaunch, opts.Kind, err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: start driver: %v", domain.ErrLaunch, err)
	}

	bt := pw.Chromium
	var args []string
	switch opts.Kind {
	case Firefox:
		bt = pw.Firefox
	case WebKit:
		bt = pw.WebKit
	default:
		args = []string{"--disable-blink-features=AutomationControlled", "--no-sandbox"}
	}

	browser, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     args,
		Timeout:  playwright.Float(ms(opts.Timeout)),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, nil, fmt.Errorf("%w: launch %s: %v", domain.ErrLaunch, opts.Kind, err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:   &playwright.Size{Width: 1920, Height: 1080},
		UserAgent:  playwright.String(opts.UserAgent),
		Locale:     playwright.String(opts.Locale),
		TimezoneId: playwright.String(opts.TimezoneID),
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, nil, fmt.Errorf("%w: new context: %v", domain.ErrLaunch, err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return nil, nil, fmt.Errorf("%w: new page: %v", domain.ErrLaunch, err)
	}

	release := func() error {
		return errors.Join(bctx.Close(), browser.Close(), pw.Stop())
	}
	return &pwPage{page: page}, release, nil
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Goto(url string, wait WaitCondition, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(ms(timeout)),
		WaitUntil: waitUntil(wait),
	})
	return mapErr(err)
}

func (p *pwPage) WaitForLoadState(wait WaitCondition, timeout time.Duration) error {
	return mapErr(p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   loadState(wait),
		Timeout: playwright.Float(ms(timeout)),
	}))
}

func (p *pwPage) Title() (string, error) {
	t, err := p.page.Title()
	return t, mapErr(err)
}

func (p *pwPage) URL() string { return p.page.URL() }

func (p *pwPage) Locator(selector string) Locator {
	return pwLocator{loc: p.page.Locator(selector)}
}

type pwLocator struct {
	loc playwright.Locator
}

func (l pwLocator) Count() (int, error) {
	n, err := l.loc.Count()
	return n, mapErr(err)
}

func (l pwLocator) Nth(i int) Locator { return pwLocator{loc: l.loc.Nth(i)} }
func (l pwLocator) First() Locator    { return pwLocator{loc: l.loc.First()} }

func (l pwLocator) ScrollIntoView(timeout time.Duration) error {
	return mapErr(l.loc.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{
		Timeout: playwright.Float(ms(timeout)),
	}))
}

func (l pwLocator) Click(timeout time.Duration) error {
	return mapErr(l.loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(ms(timeout))}))
}

func (l pwLocator) WaitFor(state ElementState, timeout time.Duration) error {
	return mapErr(l.loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   selectorState(state),
		Timeout: playwright.Float(ms(timeout)),
	}))
}

func (l pwLocator) InnerHTML(timeout time.Duration) (string, error) {
	h, err := l.loc.InnerHTML(playwright.LocatorInnerHTMLOptions{Timeout: playwright.Float(ms(timeout))})
	return h, mapErr(err)
}

func mapErr(err error) error {
	if err != nil && errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func waitUntil(w WaitCondition) *playwright.WaitUntilState {
	switch w {
	case WaitLoad:
		return playwright.WaitUntilStateLoad
	case WaitNetworkIdle:
		return playwright.WaitUntilStateNetworkidle
	default:
		return playwright.WaitUntilStateDomcontentloaded
	}
}

func loadState(w WaitCondition) *playwright.LoadState {
	switch w {
	case WaitLoad:
		return playwright.LoadStateLoad
	case WaitNetworkIdle:
		return playwright.LoadStateNetworkidle
	default:
		return playwright.LoadStateDomcontentloaded
	}
}

func selectorState(s ElementState) *playwright.WaitForSelectorState {
	switch s {
	case StateDetached:
		return playwright.WaitForSelectorStateDetached
	case StateVisible:
		return playwright.WaitForSelectorStateVisible
	case StateHidden:
		return playwright.WaitForSelectorStateHidden
	default:
		return playwright.WaitForSelectorStateAttached
	}
}
