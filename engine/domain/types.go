// Package domain holds the data model shared by every stage of the
// scrape-and-normalize pipeline.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RawItem is one product card as read from the page: field name to text,
// nil when the field could not be read.
type RawItem map[string]*string

// Str returns a pointer to s.
func Str(s string) *string { return &s }

// Get returns the field value and whether it is present.
func (r RawItem) Get(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// Title returns the trimmed title, or "" if missing.
func (r RawItem) Title() string {
	t, _ := r.Get(FieldTitle)
	return strings.TrimSpace(t)
}

// Fields returns the field names in sorted order.
func (r RawItem) Fields() []string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// FieldTitle is the primary identifying field of every card.
const FieldTitle = "title"

// Category tags the kind of product a listing page holds.
type Category string

const (
	CategoryCredit     Category = "credit"
	CategoryDebitCard  Category = "debit_card"
	CategoryCreditCard Category = "credit_card"
	CategoryDeposit    Category = "deposit"
)

// Currency is an ISO 4217 code accepted in records.
type Currency string

const (
	RUB Currency = "RUB"
	USD Currency = "USD"
	EUR Currency = "EUR"
	CNY Currency = "CNY"
)

// Currencies lists every accepted currency code.
var Currencies = []Currency{RUB, USD, EUR, CNY}

// Valid reports whether c is one of Currencies.
func (c Currency) Valid() bool {
	for _, k := range Currencies {
		if c == k {
			return true
		}
	}
	return false
}

// FieldType is the semantic type of a schema field.
type FieldType string

const (
	TypeString       FieldType = "string"
	TypeDecimalRange FieldType = "decimal_range"
	TypePercentRange FieldType = "percent_range"
	TypeCurrency     FieldType = "currency"
	TypeDuration     FieldType = "duration" // months
)

// IsRange reports whether values of t are ranges.
func (t FieldType) IsRange() bool {
	return t == TypeDecimalRange || t == TypePercentRange || t == TypeDuration
}

// Range is either empty or a closed interval [Min, Max]. It encodes as a
// JSON array of zero or two numbers.
type Range struct {
	Min, Max float64
	Set      bool
}

// NewRange returns the interval [min, max].
func NewRange(min, max float64) Range { return Range{Min: min, Max: max, Set: true} }

func (r Range) String() string {
	if !r.Set {
		return "[]"
	}
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

func (r Range) MarshalJSON() ([]byte, error) {
	if !r.Set {
		return []byte("[]"), nil
	}
	return json.Marshal([2]float64{r.Min, r.Max})
}

func (r *Range) UnmarshalJSON(b []byte) error {
	var nums []float64
	if err := json.Unmarshal(b, &nums); err != nil {
		return err
	}
	switch len(nums) {
	case 0:
		*r = Range{}
	case 2:
		*r = NewRange(nums[0], nums[1])
	default:
		return fmt.Errorf("range: want 0 or 2 numbers, got %d", len(nums))
	}
	return nil
}

// Value is one typed field of a record. A null Value has neither text,
// range nor currency.
type Value struct {
	Type     FieldType
	Text     *string
	Range    *Range
	Currency Currency
}

// IsNull reports whether the value is absent.
func (v Value) IsNull() bool {
	return v.Text == nil && v.Range == nil && v.Currency == ""
}

// MarshalJSON writes the bare value: a string, a range array, a currency code or null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.IsNull():
		return []byte("null"), nil
	case v.Range != nil:
		return v.Range.MarshalJSON()
	case v.Currency != "":
		return json.Marshal(string(v.Currency))
	default:
		return json.Marshal(*v.Text)
	}
}

// SourceMeta is the context a record is collected in.
type SourceMeta struct {
	Bank      string   `json:"bank"`
	Category  Category `json:"category"`
	SourceURL string   `json:"source_url,omitempty"`
	PageTitle string   `json:"page_title,omitempty"`
}

// Record is a fully validated product record. Fields holds one Value for
// every field of its schema, in no particular order.
type Record struct {
	Schema        string           `json:"schema"`
	SchemaVersion int              `json:"schema_version"`
	Bank          string           `json:"bank"`
	Category      Category         `json:"category"`
	CollectedAt   time.Time        `json:"collected_at"`
	SourceURL     string           `json:"source_url,omitempty"`
	PageTitle     string           `json:"page_title,omitempty"`
	Fields        map[string]Value `json:"fields"`
}

// Text returns a string field.
func (r Record) Text(name string) (string, bool) {
	v, ok := r.Fields[name]
	if !ok || v.Text == nil {
		return "", false
	}
	return *v.Text, true
}

// Range returns a range field.
func (r Record) Range(name string) (Range, bool) {
	v, ok := r.Fields[name]
	if !ok || v.Range == nil {
		return Range{}, false
	}
	return *v.Range, true
}

// Currency returns a currency field.
func (r Record) Currency(name string) (Currency, bool) {
	v, ok := r.Fields[name]
	if !ok || v.Currency == "" {
		return "", false
	}
	return v.Currency, true
}

// SameFields reports whether two records carry equal typed fields,
// ignoring collection time and context.
func (r Record) SameFields(o Record) bool {
	if r.Schema != o.Schema || len(r.Fields) != len(o.Fields) {
		return false
	}
	for k, v := range r.Fields {
		w, ok := o.Fields[k]
		if !ok {
			return false
		}
		a, _ := v.MarshalJSON()
		b, _ := w.MarshalJSON()
		if !bytes.Equal(a, b) {
			return false
		}
	}
	return true
}
