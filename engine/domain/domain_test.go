package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRawItemAccessors(t *testing.T) {
	item := RawItem{"title": Str("  Кредит наличными "), "rate": nil, "amount": Str("до 5 млн ₽")}
	if got := item.Title(); got != "Кредит наличными" {
		t.Fatalf("Title() = %q", got)
	}
	if _, ok := item.Get("rate"); ok {
		t.Fatal("nil field should not be present")
	}
	if _, ok := item.Get("nope"); ok {
		t.Fatal("unknown field should not be present")
	}
	if got := strings.Join(item.Fields(), ","); got != "amount,rate,title" {
		t.Fatalf("Fields() = %s", got)
	}
}

func TestRangeJSON(t *testing.T) {
	tests := []struct {
		r    Range
		want string
	}{
		{Range{}, "[]"},
		{NewRange(9.9, 15), "[9.9,15]"},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.r)
		if err != nil || string(b) != tt.want {
			t.Errorf("Marshal(%v) = %s, %v", tt.r, b, err)
		}
		var back Range
		if err := json.Unmarshal(b, &back); err != nil || back != tt.r {
			t.Errorf("Unmarshal(%s) = %v, %v", b, back, err)
		}
	}
	var r Range
	if err := json.Unmarshal([]byte("[1,2,3]"), &r); err == nil {
		t.Fatal("three numbers should not decode")
	}
}

func TestValueJSON(t *testing.T) {
	rg := NewRange(0, 5e6)
	rec := Record{Schema: "credit-product", Fields: map[string]Value{
		"title":    {Type: TypeString, Text: Str("Кредит")},
		"amount":   {Type: TypeDecimalRange, Range: &rg},
		"currency": {Type: TypeCurrency, Currency: RUB},
		"bonus":    {Type: TypeString},
	}}
	b, err := json.Marshal(rec.Fields)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"amount":[0,5000000],"bonus":null,"currency":"RUB","title":"Кредит"}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}
	if v, ok := rec.Range("amount"); !ok || v.Max != 5e6 {
		t.Fatalf("Range() = %v %v", v, ok)
	}
	if c, ok := rec.Currency("currency"); !ok || c != RUB {
		t.Fatalf("Currency() = %v %v", c, ok)
	}
	if _, ok := rec.Text("bonus"); ok {
		t.Fatal("null text should not be present")
	}
}

func TestSameFields(t *testing.T) {
	a := Record{Schema: "s", Fields: map[string]Value{"t": {Type: TypeString, Text: Str("x")}}}
	b := Record{Schema: "s", Fields: map[string]Value{"t": {Type: TypeString, Text: Str("x")}}}
	if !a.SameFields(b) {
		t.Fatal("equal fields should compare equal")
	}
	b.Fields["t"] = Value{Type: TypeString, Text: Str("y")}
	if a.SameFields(b) {
		t.Fatal("different fields should differ")
	}
}

func TestCurrencyValid(t *testing.T) {
	for _, c := range Currencies {
		if !c.Valid() {
			t.Errorf("%s should be valid", c)
		}
	}
	if Currency("RUR").Valid() {
		t.Fatal("RUR is not accepted")
	}
}

func TestSchemaViolationUnwrap(t *testing.T) {
	err := fmt.Errorf("normalize: %w", &SchemaViolation{Schema: "credit-product", Field: "rate", Value: `"abc"`, Reason: "not a range"})
	if !errors.Is(err, ErrSchemaViolation) {
		t.Fatal("should unwrap to ErrSchemaViolation")
	}
	var sv *SchemaViolation
	if !errors.As(err, &sv) || sv.Field != "rate" {
		t.Fatalf("errors.As failed: %v", err)
	}
	if !strings.Contains(err.Error(), "field rate") {
		t.Fatalf("message: %s", err)
	}
}

func TestCardErrorUnwrap(t *testing.T) {
	cause := errors.New("element detached")
	err := &CardError{Index: 1, Err: cause}
	if !errors.Is(err, ErrCardExtraction) || !errors.Is(err, cause) {
		t.Fatal("CardError should match both sentinel and cause")
	}
}

func TestClassifyAndRetryable(t *testing.T) {
	tests := []struct {
		err       error
		scope     Scope
		retryable bool
		kind      string
	}{
		{nil, ScopeNone, false, ""},
		{fmt.Errorf("open: %w", ErrLaunch), ScopeFatal, false, "launch"},
		{fmt.Errorf("goto: %w", ErrNavigationTimeout), ScopeSource, true, "navigation_timeout"},
		{ErrNavigation, ScopeSource, true, "navigation"},
		{ErrContainerMissing, ScopeSource, true, "container_missing"},
		{&CardError{Index: 2, Err: errors.New("x")}, ScopeCard, false, "card_extraction"},
		{ServiceUnavailable(errors.New("503")), ScopeItem, true, "service_unavailable"},
		{&SchemaViolation{Field: "rate"}, ScopeItem, false, "schema_violation"},
		{ErrUnknownSchema, ScopeItem, false, "unknown_schema"},
		{&ValidationError{Field: "title", Wrapped: ErrMissingTitle}, ScopeItem, false, "invalid_item"},
		{context.Canceled, ScopeFatal, false, "cancelled"},
		{ServiceUnavailable(context.DeadlineExceeded), ScopeFatal, false, "deadline"},
		{errors.New("boom"), ScopeSource, false, "other"},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.scope {
			t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.scope)
		}
		if got := Retryable(tt.err); got != tt.retryable {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.retryable)
		}
		if got := Kind(tt.err); got != tt.kind {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.kind)
		}
	}
}

func TestValidateRawItem(t *testing.T) {
	long := strings.Repeat("я", MaxRawFieldLen+1)
	tests := []struct {
		name string
		item RawItem
		want error
	}{
		{"ok", RawItem{"title": Str("Card"), "price": nil}, nil},
		{"nil title", RawItem{"title": nil}, ErrMissingTitle},
		{"blank title", RawItem{"title": Str("   ")}, ErrMissingTitle},
		{"too long", RawItem{"title": Str("Card"), "terms": Str(long)}, ErrFieldTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRawItem(tt.item)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}

	many := RawItem{"title": Str("x")}
	for i := 0; i < MaxRawFields; i++ {
		many[fmt.Sprintf("f%d", i)] = nil
	}
	if !errors.Is(ValidateRawItem(many), ErrTooManyFields) {
		t.Fatal("expected ErrTooManyFields")
	}
}
