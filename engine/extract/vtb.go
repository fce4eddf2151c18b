package extract

import (
	"context"
	"log/slog"

	"github.com/bankscout/bankscout/engine/browser"
)

// VTB renders every retail product page as a grid of product cards with a
// "show more" button under it.
const (
	vtbContainer = "[data-testid='products-list']"
	vtbCard      = "[data-testid='product-card']"
	vtbLoadMore  = "button[data-testid='show-more']"
)

// Default product listing pages.
const (
	VTBCreditURL      = "https://www.vtb.ru/personal/kredit/"
	VTBDebitCardsURL  = "https://www.vtb.ru/personal/karty/debetovye/"
	VTBCreditCardsURL = "https://www.vtb.ru/personal/karty/kreditnye/"
)

var vtbCommon = []FieldSpec{
	{Name: "title", Selector: "[data-testid='product-title']"},
	{Name: "subtitle", Selector: "[data-testid='product-subtitle']"},
	{Name: "link", Selector: "a[href]", Attr: "href"},
}

func vtbLayout(fields ...FieldSpec) CardLayout {
	return CardLayout{
		Container:   vtbContainer,
		Card:        vtbCard,
		LoadMore:    vtbLoadMore,
		MaxLoadMore: 3,
		Fields:      append(append([]FieldSpec(nil), vtbCommon...), fields...),
	}
}

// cardExtractor is a site whose pages follow one CardLayout.
type cardExtractor struct {
	name   string
	layout CardLayout
	log    *slog.Logger
}

func (e *cardExtractor) Name() string { return e.name }

func (e *cardExtractor) Extract(ctx context.Context, s *browser.Session, url string) (Listing, error) {
	return ScrapeCards(ctx, s, url, e.layout, e.log)
}

// Layout exposes the card layout, mainly for tests that script a page.
func (e *cardExtractor) Layout() CardLayout { return e.layout }

// VTBCredit reads cash loan offers.
func VTBCredit(log *slog.Logger) Extractor {
	return &cardExtractor{name: "vtb-credit", log: log, layout: vtbLayout(
		FieldSpec{Name: "rate", Selector: "[data-testid='product-rate']"},
		FieldSpec{Name: "amount", Selector: "[data-testid='product-amount']"},
		FieldSpec{Name: "term", Selector: "[data-testid='product-term']"},
		FieldSpec{Name: "features", Selector: "[data-testid='product-feature']", All: true},
	)}
}

// VTBDebitCards reads debit card offers.
func VTBDebitCards(log *slog.Logger) Extractor {
	return &cardExtractor{name: "vtb-debit-cards", log: log, layout: vtbLayout(
		FieldSpec{Name: "cashback", Selector: "[data-testid='product-cashback']"},
		FieldSpec{Name: "service_fee", Selector: "[data-testid='product-service']"},
		FieldSpec{Name: "balance_rate", Selector: "[data-testid='product-balance-rate']"},
		FieldSpec{Name: "features", Selector: "[data-testid='product-feature']", All: true},
	)}
}

// VTBCreditCards reads credit card offers.
func VTBCreditCards(log *slog.Logger) Extractor {
	return &cardExtractor{name: "vtb-credit-cards", log: log, layout: vtbLayout(
		FieldSpec{Name: "credit_limit", Selector: "[data-testid='product-limit']"},
		FieldSpec{Name: "grace_period", Selector: "[data-testid='product-grace']"},
		FieldSpec{Name: "rate", Selector: "[data-testid='product-rate']"},
		FieldSpec{Name: "service_fee", Selector: "[data-testid='product-service']"},
		FieldSpec{Name: "cashback", Selector: "[data-testid='product-cashback']"},
	)}
}

func init() {
	register("vtb-credit", VTBCredit)
	register("vtb-debit-cards", VTBDebitCards)
	register("vtb-credit-cards", VTBCreditCards)
}
