// Package extract turns a bank's product listing page into an ordered
// sequence of raw card field maps.
//
// Each source site gets its own Extractor. Sites that render products as a
// uniform list of cards describe themselves with a CardLayout and share the
// card protocol in ScrapeCards.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bankscout/bankscout/engine/browser"
	"github.com/bankscout/bankscout/engine/domain"
)

// Extractor reads one source site. It borrows the session for the duration
// of Extract and never closes it.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, s *browser.Session, url string) (Listing, error)
}

// Listing is what an extractor read from one page.
type Listing struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	// ItemCount is len(Items).
	ItemCount int              `json:"item_count"`
	Items     []domain.RawItem `json:"items"`
	// Cards is how many cards were enumerated on the page.
	Cards        int           `json:"cards"`
	CardFailures []CardFailure `json:"card_failures,omitempty"`
	// Dropped counts cards read without a title.
	Dropped int `json:"dropped"`
}

// CardFailure records a card skipped because reading it failed.
type CardFailure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

type factory func(log *slog.Logger) Extractor

var registry = map[string]factory{}

func register(name string, f factory) {
	if _, dup := registry[name]; dup {
		panic("extract: duplicate extractor " + name)
	}
	registry[name] = f
}

// Lookup builds the extractor registered under name.
func Lookup(name string, log *slog.Logger) (Extractor, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownExtractor, name)
	}
	if log == nil {
		log = slog.Default()
	}
	return f(log.With("extractor", name)), nil
}

// Names lists registered extractors in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
