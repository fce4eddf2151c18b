package schema

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/bankscout/bankscout/engine/domain"
)

// CleanText applies NFKC, drops format characters (soft hyphens, zero-width
// spaces) and collapses whitespace. NFKC folds NBSP and narrow NBSP into
// plain spaces.
func CleanText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

var (
	numberRe  = regexp.MustCompile(`\d+(?: \d{3})*(?:[.,]\d+)?`)
	wordRe    = regexp.MustCompile(`^\s*(\p{L}+\.?)`)
	upToRe    = regexp.MustCompile(`(?:^|\s)(?:до|не более|up to|max\.?|≤|<)\s*$`)
	nothingRe = regexp.MustCompile(`^(?:-|—|–|нет|n/a|none)$`)
)

type affix struct {
	stem   string
	factor float64
}

// Matched by prefix against the word following a number; order matters
// where stems overlap.
var multipliers = []affix{
	{"тыс", 1e3}, {"thousand", 1e3}, {"k", 1e3},
	{"млрд", 1e9}, {"миллиард", 1e9}, {"billion", 1e9}, {"bn", 1e9},
	{"млн", 1e6}, {"миллион", 1e6}, {"million", 1e6}, {"mln", 1e6},
	{"m", 1e6}, {"b", 1e9},
}

// months per unit
var units = []affix{
	{"лет", 12}, {"год", 12}, {"г.", 12}, {"year", 12},
	{"мес", 1}, {"month", 1},
	{"нед", 7.0 / 30}, {"week", 7.0 / 30},
	{"дн", 1.0 / 30}, {"день", 1.0 / 30}, {"day", 1.0 / 30},
}

// lookupAffix returns the factor of the first stem word starts with. Single
// letter stems must match the whole word.
func lookupAffix(table []affix, word string) float64 {
	for _, a := range table {
		if len([]rune(a.stem)) == 1 {
			if word == a.stem {
				return a.factor
			}
			continue
		}
		if strings.HasPrefix(word, a.stem) {
			return a.factor
		}
	}
	return 0
}

// nextWord returns the first word of s (letters plus an optional trailing
// dot) and the rest of s after it.
func nextWord(s string) (string, string) {
	m := wordRe.FindStringSubmatch(s)
	if m == nil {
		return "", s
	}
	return m[1], s[len(m[0]):]
}

// signLen returns the byte length of a minus sign written directly before a
// number, or 0. A dash after a digit, a percent sign or other text is a
// range separator ("9.9%-15%", "5-10"); after a space or at the start it is a
// sign ("-5%", "от -3%").
func signLen(before string) int {
	for _, m := range []string{"-", "−"} {
		rest, ok := strings.CutSuffix(before, m)
		if !ok {
			continue
		}
		if rest == "" || strings.HasSuffix(rest, " ") {
			return len(m)
		}
	}
	return 0
}

type token struct {
	val    float64
	mult   float64 // 0 when none was written
	unit   float64 // 0 when none was written
	prefix string
}

func tokenize(s string) ([]token, error) {
	locs := numberRe.FindAllStringIndex(s, -1)
	toks := make([]token, 0, len(locs))
	prev := 0
	for i, loc := range locs {
		digits := strings.ReplaceAll(s[loc[0]:loc[1]], " ", "")
		digits = strings.ReplaceAll(digits, ",", ".")
		v, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", digits)
		}
		start := loc[0]
		if n := signLen(s[:start]); n > 0 {
			v = -v
			start -= n
		}
		end := len(s)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		suffix := s[loc[1]:end]
		t := token{val: v, prefix: s[prev:start]}
		word, rest := nextWord(suffix)
		if f := lookupAffix(multipliers, strings.TrimSuffix(word, ".")); f != 0 {
			t.mult = f
			word, _ = nextWord(strings.TrimLeft(rest, " %"))
		}
		t.unit = lookupAffix(units, word)
		toks = append(toks, t)
		prev = loc[1]
	}
	return toks, nil
}

// ParseRange reads a free-text quantity such as "от 9,9% до 15%",
// "9.9% - 15%", "до 5 млн ₽" or "от 1 до 5 лет" as a range of the given
// type. A lone upper bound ("до X") becomes [0, X]; a lone number becomes
// [X, X]. Durations are returned in months. Bounds are not reordered.
func ParseRange(t domain.FieldType, s string) (domain.Range, error) {
	clean := strings.ToLower(CleanText(s))
	if clean == "" || nothingRe.MatchString(clean) {
		return domain.Range{}, nil
	}
	toks, err := tokenize(clean)
	if err != nil {
		return domain.Range{}, err
	}
	if len(toks) == 0 {
		if strings.Contains(clean, "бесплат") || strings.Contains(clean, "free") {
			return domain.NewRange(0, 0), nil
		}
		return domain.Range{}, fmt.Errorf("no number in %q", s)
	}
	if len(toks) > 2 {
		return domain.Range{}, fmt.Errorf("want at most two numbers, found %d in %q", len(toks), s)
	}

	// "от 1 до 5 млн", "от 1 до 5 лет": a trailing multiplier or unit covers
	// the lower bound too, unless that would invert the range.
	last := toks[len(toks)-1]
	for i := range toks[:len(toks)-1] {
		if toks[i].mult == 0 && last.mult != 0 && toks[i].val <= last.val {
			toks[i].mult = last.mult
		}
		if toks[i].unit == 0 && last.unit != 0 {
			toks[i].unit = last.unit
		}
	}

	vals := make([]float64, len(toks))
	for i, tk := range toks {
		v := tk.val
		if tk.mult != 0 {
			v *= tk.mult
		}
		if t == domain.TypeDuration && tk.unit != 0 {
			v = math.Round(v*tk.unit*100) / 100
		}
		vals[i] = v
	}

	if len(vals) == 1 {
		if upToRe.MatchString(toks[0].prefix) {
			return domain.NewRange(0, vals[0]), nil
		}
		return domain.NewRange(vals[0], vals[0]), nil
	}
	return domain.NewRange(vals[0], vals[1]), nil
}

var currencyHints = []struct {
	needle string
	code   domain.Currency
}{
	{"₽", domain.RUB}, {"руб", domain.RUB}, {"rub", domain.RUB}, {"rur", domain.RUB},
	{"$", domain.USD}, {"usd", domain.USD}, {"доллар", domain.USD},
	{"€", domain.EUR}, {"eur", domain.EUR}, {"евро", domain.EUR},
	{"¥", domain.CNY}, {"cny", domain.CNY}, {"юан", domain.CNY}, {"yuan", domain.CNY}, {"rmb", domain.CNY},
}

// ParseCurrency accepts an ISO code or a symbol/word naming exactly one of
// the accepted currencies.
func ParseCurrency(s string) (domain.Currency, error) {
	clean := CleanText(s)
	if c := domain.Currency(strings.ToUpper(clean)); c.Valid() {
		return c, nil
	}
	lower := strings.ToLower(clean)
	if lower == "р" || lower == "р." {
		return domain.RUB, nil
	}
	var found domain.Currency
	for _, h := range currencyHints {
		if !strings.Contains(lower, h.needle) {
			continue
		}
		if found != "" && found != h.code {
			return "", fmt.Errorf("ambiguous currency %q", s)
		}
		found = h.code
	}
	if found == "" {
		return "", fmt.Errorf("unknown currency %q", s)
	}
	return found, nil
}
