package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bankscout/bankscout/engine/browser"
	"github.com/bankscout/bankscout/engine/domain"
	"github.com/bankscout/bankscout/engine/schema"
)

// FieldSpec reads one field from a card's HTML.
type FieldSpec struct {
	Name string
	// Selector is relative to the card. Empty selects the card root.
	Selector string
	// Attr reads an attribute instead of text. href values are resolved
	// against the page URL.
	Attr string
	// All joins the text of every match with "; " instead of taking the
	// first.
	All bool
}

// CardLayout describes a page that lists products as uniform cards.
type CardLayout struct {
	// Container must appear before cards are enumerated.
	Container string
	// Card matches each card inside Container.
	Card string
	// LoadMore is an optional control that reveals more cards.
	LoadMore string
	// MaxLoadMore caps LoadMore clicks; zero means one.
	MaxLoadMore int
	Fields      []FieldSpec
}

func (l CardLayout) cardSelector() string {
	return strings.TrimSpace(l.Container + " " + l.Card)
}

// ScrapeCards reads every card on url following layout.
//
// Navigation and container failures are returned; the controller decides
// whether to retry. A card whose page operations fail is recorded in
// CardFailures and skipped. Cards without a title are dropped.
func ScrapeCards(ctx context.Context, s *browser.Session, pageURL string, layout CardLayout, log *slog.Logger) (Listing, error) {
	if log == nil {
		log = slog.Default()
	}
	out := Listing{URL: pageURL}

	if err := s.Navigate(ctx, pageURL, browser.WaitDOMReady); err != nil {
		return out, err
	}
	if err := s.WaitFor(ctx, browser.WaitNetworkIdle); err != nil {
		return out, err
	}
	if err := s.PaceDefault(ctx); err != nil {
		return out, err
	}

	if layout.LoadMore != "" {
		if err := expand(ctx, s, layout, log); err != nil {
			return out, err
		}
	}

	if err := s.WaitAttached(ctx, layout.Container); err != nil {
		return out, err
	}

	title, err := s.Title(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		log.Warn("page title unavailable", "url", pageURL, "err", err)
	}
	out.Title = schema.CleanText(title)

	base, _ := url.Parse(pageURL)
	cards := s.Locator(layout.cardSelector())
	var n int
	if err := s.Do(ctx, func() error {
		var err error
		n, err = cards.Count()
		return err
	}); err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, fmt.Errorf("%w: count %s: %v", domain.ErrContainerMissing, layout.cardSelector(), err)
	}
	out.Cards = n

	for i := 0; i < n; i++ {
		item, err := readCard(ctx, s, cards.Nth(i), layout.Fields, base)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			cerr := &domain.CardError{Index: i, Err: err}
			log.Warn("card skipped", "card_index", i, "err", err)
			out.CardFailures = append(out.CardFailures, CardFailure{Index: i, Reason: err.Error(), Err: cerr})
			continue
		}
		if item.Title() == "" {
			out.Dropped++
			log.Debug("card without title dropped", "card_index", i)
			continue
		}
		out.Items = append(out.Items, item)
	}
	out.ItemCount = len(out.Items)

	log.Info("page extracted", "url", pageURL, "cards", n, "items", out.ItemCount,
		"card_failures", len(out.CardFailures), "dropped", out.Dropped)
	return out, nil
}

// expand clicks the load-more control until it stops showing or the click
// budget runs out. A control that never disappears is tolerated.
func expand(ctx context.Context, s *browser.Session, layout CardLayout, log *slog.Logger) error {
	clicks := layout.MaxLoadMore
	if clicks <= 0 {
		clicks = 1
	}
	ctl := s.Locator(layout.LoadMore).First()
	short := s.Options().ShortTimeout

	for i := 0; i < clicks; i++ {
		var visible bool
		err := s.Do(ctx, func() error {
			visible = ctl.WaitFor(browser.StateVisible, short) == nil
			return nil
		})
		if err != nil {
			return err
		}
		if !visible {
			return nil
		}

		err = s.Do(ctx, func() error { return ctl.ScrollIntoView(short) })
		if err == nil {
			err = s.PaceDefault(ctx)
		}
		if err == nil {
			err = s.Do(ctx, func() error { return ctl.Click(short) })
		}
		if err == nil {
			err = s.PaceDefault(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("load more failed", "selector", layout.LoadMore, "click", i+1, "err", err)
			return nil
		}

		if err := s.WaitFor(ctx, browser.WaitNetworkIdle); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug("network not idle after load more", "err", err)
		}
		if s.WaitHidden(ctx, layout.LoadMore) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug("load more still visible", "click", i+1)
	}
	return nil
}

func readCard(ctx context.Context, s *browser.Session, card browser.Locator, fields []FieldSpec, base *url.URL) (domain.RawItem, error) {
	timeout := s.Options().ShortTimeout
	if err := s.Do(ctx, func() error { return card.ScrollIntoView(timeout) }); err != nil {
		return nil, fmt.Errorf("scroll: %w", err)
	}

	var html string
	if err := s.Do(ctx, func() error {
		var err error
		html, err = card.InnerHTML(timeout)
		return err
	}); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return ReadFields(doc.Selection, fields, base), nil
}

// ReadFields extracts fields from a parsed card. Every field is read
// independently; a field that cannot be read is nil.
func ReadFields(card *goquery.Selection, fields []FieldSpec, base *url.URL) domain.RawItem {
	item := make(domain.RawItem, len(fields))
	for _, f := range fields {
		item[f.Name] = f.read(card, base)
	}
	return item
}

func (f FieldSpec) read(card *goquery.Selection, base *url.URL) *string {
	sel := card
	if f.Selector != "" {
		sel = card.Find(f.Selector)
	}
	if sel.Length() == 0 {
		return nil
	}

	var v string
	switch {
	case f.Attr != "":
		raw, ok := sel.First().Attr(f.Attr)
		if !ok {
			return nil
		}
		v = strings.TrimSpace(raw)
		if f.Attr == "href" {
			v = resolve(base, v)
		}
	case f.All:
		parts := make([]string, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			if t := schema.CleanText(s.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		v = strings.Join(parts, "; ")
	default:
		v = schema.CleanText(sel.First().Text())
	}
	if v == "" {
		return nil
	}
	return &v
}

func resolve(base *url.URL, href string) string {
	if base == nil || href == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
