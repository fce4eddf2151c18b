package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankscout/bankscout/engine/domain"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var m map[string]any
	require.NoError(t, dec.Decode(&m))
	return m
}

func mustSchema(t *testing.T, name string) *Schema {
	t.Helper()
	reg, err := Default()
	require.NoError(t, err)
	s, err := reg.Lookup(name)
	require.NoError(t, err)
	return s
}

func TestDefaultRegistry(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, []string{"credit-card", "credit-product", "debit-card"}, reg.Names())

	_, err = reg.Lookup("mortgage")
	assert.ErrorIs(t, err, domain.ErrUnknownSchema)

	s := mustSchema(t, "credit-product")
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, domain.CategoryCredit, s.Category)
	assert.Equal(t, []string{"title", "rate", "amount", "term"}, s.Required())
}

func TestParseRejectsBadSchemas(t *testing.T) {
	tests := map[string]string{
		"no title":        "schemas: [{name: a, version: 1, fields: [{name: rate, type: percent_range}]}]",
		"unknown type":    "schemas: [{name: a, version: 1, fields: [{name: title, type: string}, {name: x, type: money}]}]",
		"duplicate field": "schemas: [{name: a, version: 1, fields: [{name: title, type: string}, {name: title, type: string}]}]",
		"bad default":     "schemas: [{name: a, version: 1, fields: [{name: title, type: string}, {name: c, type: currency, default: GBP}]}]",
		"no version":      "schemas: [{name: a, fields: [{name: title, type: string}]}]",
		"duplicate name":  "schemas: [{name: a, version: 1, fields: [{name: title, type: string}]}, {name: a, version: 2, fields: [{name: title, type: string}]}]",
		"not yaml":        "schemas: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		typ      domain.FieldType
		in       string
		min, max float64
		empty    bool
	}{
		{domain.TypePercentRange, "9.9% - 15%", 9.9, 15, false},
		{domain.TypePercentRange, "от 9,9% до 15%", 9.9, 15, false},
		{domain.TypePercentRange, "15%", 15, 15, false},
		{domain.TypePercentRange, "до 10% кэшбэк", 0, 10, false},
		{domain.TypeDecimalRange, "до 5 млн ₽", 0, 5e6, false},
		{domain.TypeDecimalRange, "5 000 000 ₽", 5e6, 5e6, false},
		{domain.TypeDecimalRange, "от 1 до 5 млн ₽", 1e6, 5e6, false},
		{domain.TypeDecimalRange, "от 50 000 до 5 млн ₽", 5e4, 5e6, false},
		{domain.TypeDecimalRange, "до 30 тыс. ₽", 0, 3e4, false},
		{domain.TypeDecimalRange, "Бесплатно", 0, 0, false},
		{domain.TypeDecimalRange, "—", 0, 0, true},
		{domain.TypeDuration, "от 1 до 5 лет", 12, 60, false},
		{domain.TypeDuration, "от 3 месяцев до 5 лет", 3, 60, false},
		{domain.TypeDuration, "до 200 дней", 0, 6.67, false},
		{domain.TypeDuration, "36", 36, 36, false},
		{domain.TypeDecimalRange, "5m", 5e6, 5e6, false},
		{domain.TypeDecimalRange, "до 2b", 0, 2e9, false},
		{domain.TypePercentRange, "9.9%-15%", 9.9, 15, false},
		{domain.TypeDecimalRange, "5-10", 5, 10, false},
		{domain.TypePercentRange, "-5%", -5, -5, false},
		{domain.TypePercentRange, "−2%", -2, -2, false},
		{domain.TypePercentRange, "от -3% до 10%", -3, 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r, err := ParseRange(tt.typ, tt.in)
			require.NoError(t, err)
			if tt.empty {
				assert.False(t, r.Set)
				return
			}
			require.True(t, r.Set)
			assert.InDelta(t, tt.min, r.Min, 1e-9)
			assert.InDelta(t, tt.max, r.Max, 1e-9)
		})
	}
}

func TestParseRangeErrors(t *testing.T) {
	for _, in := range []string{"по запросу", "1, 2, 3"} {
		_, err := ParseRange(domain.TypeDecimalRange, in)
		assert.Error(t, err, in)
	}
}

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		in   string
		want domain.Currency
		err  bool
	}{
		{"RUB", domain.RUB, false},
		{"usd", domain.USD, false},
		{"₽", domain.RUB, false},
		{"руб.", domain.RUB, false},
		{"р.", domain.RUB, false},
		{"$", domain.USD, false},
		{"евро", domain.EUR, false},
		{"китайский юань", domain.CNY, false},
		{"₽ или $", "", true},
		{"GBP", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCurrency(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "от 9,9% до 15%", CleanText("  от 9,9% до\n15% "))
	assert.Equal(t, "Кредит", CleanText("Кре\u00adдит\u200b"))
}

func TestValidateCreditProduct(t *testing.T) {
	s := mustSchema(t, "credit-product")
	vals, err := s.Validate(decode(t, `{
		"title": "Кредит наличными",
		"rate": "9.9% - 15%",
		"amount": [0, 5000000],
		"term": [12, 60],
		"extra": "ignored"
	}`))
	require.NoError(t, err)

	require.NotNil(t, vals["rate"].Range)
	assert.Equal(t, domain.NewRange(9.9, 15), *vals["rate"].Range)
	assert.Equal(t, domain.NewRange(0, 5e6), *vals["amount"].Range)
	assert.Equal(t, domain.RUB, vals["currency"].Currency, "default applied")
	assert.True(t, vals["subtitle"].IsNull())
	assert.Len(t, vals, len(s.Fields))
	_, extra := vals["extra"]
	assert.False(t, extra)
}

func TestValidateViolations(t *testing.T) {
	s := mustSchema(t, "credit-product")
	base := `"title": "Кредит", "amount": [0, 100], "term": [12, 60]`
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"missing required", `{"title": "Кредит", "rate": [1, 2], "amount": [0, 100]}`, "term"},
		{"null required", `{` + base + `, "rate": null}`, "rate"},
		{"blank title", `{"title": "  ", "rate": [1, 2], "amount": [0, 100], "term": [1, 2]}`, "title"},
		{"inverted", `{` + base + `, "rate": [15, 9.9]}`, "rate"},
		{"three numbers", `{` + base + `, "rate": [1, 2, 3]}`, "rate"},
		{"one number array", `{` + base + `, "rate": [1]}`, "rate"},
		{"negative", `{` + base + `, "rate": [-1, 2]}`, "rate"},
		{"negative text", `{` + base + `, "rate": "-5%"}`, "rate"},
		{"negative text bounds", `{` + base + `, "rate": ["-1", "2"]}`, "rate"},
		{"negative lower bound in text", `{` + base + `, "rate": "от -3% до 10%"}`, "rate"},
		{"text range", `{` + base + `, "rate": "по запросу"}`, "rate"},
		{"bad currency", `{` + base + `, "rate": [1, 2], "currency": "GBP"}`, "currency"},
		{"object title", `{"title": {}, "rate": [1, 2], "amount": [0, 1], "term": [1, 2]}`, "title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vals, err := s.Validate(decode(t, tt.doc))
			assert.Nil(t, vals, "no partial record")
			var sv *domain.SchemaViolation
			require.True(t, errors.As(err, &sv), "got %v", err)
			assert.Equal(t, tt.field, sv.Field)
			assert.Equal(t, "credit-product", sv.Schema)
			assert.ErrorIs(t, err, domain.ErrSchemaViolation)
		})
	}
}

func TestValidateDefaultsAndNumbers(t *testing.T) {
	s := mustSchema(t, "debit-card")
	vals, err := s.Validate(decode(t, `{"title": 2024, "cashback": 5}`))
	require.NoError(t, err)
	assert.Equal(t, "2024", *vals["title"].Text)
	assert.Equal(t, domain.NewRange(5, 5), *vals["cashback"].Range)
	assert.Equal(t, domain.NewRange(0, 0), *vals["service_fee"].Range)
	assert.True(t, vals["balance_rate"].IsNull())

	vals, err = s.Validate(decode(t, `{"title": "Карта", "service_fee": []}`))
	require.NoError(t, err)
	assert.False(t, vals["service_fee"].Range.Set, "explicit empty range kept")
}

func TestValidateIsDeterministic(t *testing.T) {
	s := mustSchema(t, "credit-card")
	doc := `{"title": "Карта 200 дней", "credit_limit": "до 1 млн ₽", "grace_period": "до 200 дней", "currency": "₽"}`
	a, err := s.Validate(decode(t, doc))
	require.NoError(t, err)
	b, err := s.Validate(decode(t, doc))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, domain.NewRange(0, 6.67), *a["grace_period"].Range)
}

func TestJSONSchema(t *testing.T) {
	s := mustSchema(t, "credit-product")
	var doc struct {
		Type       string                    `json:"type"`
		Required   []string                  `json:"required"`
		Properties map[string]map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(s.JSONSchema(), &doc))
	assert.Equal(t, "object", doc.Type)
	assert.Equal(t, s.Required(), doc.Required)
	assert.Equal(t, "array", doc.Properties["rate"]["type"])
	assert.EqualValues(t, 2, doc.Properties["rate"]["maxItems"])
	assert.Contains(t, doc.Properties["currency"]["enum"], "RUB")
}
