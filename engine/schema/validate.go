package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/bankscout/bankscout/engine/domain"
)

// Validate checks candidate values (as decoded from JSON with UseNumber)
// against s. It returns one Value per schema field, or the first
// *domain.SchemaViolation in field declaration order. Unknown keys are ignored.
func (s *Schema) Validate(values map[string]any) (map[string]domain.Value, error) {
	out := make(map[string]domain.Value, len(s.Fields))
	for _, f := range s.Fields {
		raw, present := values[f.Name]
		if !present || isBlank(raw) {
			if f.Default != nil {
				raw = f.Default
			} else if f.Required {
				return nil, s.violation(f, raw, "required field missing")
			} else {
				out[f.Name] = domain.Value{Type: f.Type}
				continue
			}
		}
		v, err := coerce(f, raw)
		if err != nil {
			return nil, s.violation(f, raw, err.Error())
		}
		if f.Required && v.IsNull() {
			return nil, s.violation(f, raw, "required field missing")
		}
		out[f.Name] = v
	}
	return out, nil
}

func (s *Schema) violation(f Field, raw any, reason string) *domain.SchemaViolation {
	val := "null"
	if raw != nil {
		if b, err := json.Marshal(raw); err == nil {
			val = string(b)
		} else {
			val = fmt.Sprint(raw)
		}
	}
	return &domain.SchemaViolation{Schema: s.Name, Field: f.Name, Value: val, Reason: reason}
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return CleanText(t) == ""
	}
	return false
}

// coerce converts one raw value to the field's type.
func coerce(f Field, raw any) (domain.Value, error) {
	switch f.Type {
	case domain.TypeString:
		switch t := raw.(type) {
		case string:
			c := CleanText(t)
			if c == "" {
				return domain.Value{Type: f.Type}, nil
			}
			return domain.Value{Type: f.Type, Text: &c}, nil
		case json.Number:
			s := t.String()
			return domain.Value{Type: f.Type, Text: &s}, nil
		}
		return domain.Value{}, fmt.Errorf("want string, got %T", raw)

	case domain.TypeCurrency:
		s, ok := raw.(string)
		if !ok {
			return domain.Value{}, fmt.Errorf("want currency code, got %T", raw)
		}
		c, err := ParseCurrency(s)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.Value{Type: f.Type, Currency: c}, nil

	case domain.TypeDecimalRange, domain.TypePercentRange, domain.TypeDuration:
		r, err := coerceRange(f.Type, raw)
		if err != nil {
			return domain.Value{}, err
		}
		if err := checkRange(r); err != nil {
			return domain.Value{}, err
		}
		return domain.Value{Type: f.Type, Range: &r}, nil
	}
	return domain.Value{}, fmt.Errorf("unsupported type %q", f.Type)
}

func coerceRange(t domain.FieldType, raw any) (domain.Range, error) {
	switch v := raw.(type) {
	case []any:
		switch len(v) {
		case 0:
			return domain.Range{}, nil
		case 2:
			lo, err := toNumber(t, v[0])
			if err != nil {
				return domain.Range{}, err
			}
			hi, err := toNumber(t, v[1])
			if err != nil {
				return domain.Range{}, err
			}
			return domain.NewRange(lo, hi), nil
		default:
			return domain.Range{}, fmt.Errorf("want zero or two numbers, got %d", len(v))
		}
	case string:
		return ParseRange(t, v)
	default:
		n, err := toNumber(t, raw)
		if err != nil {
			return domain.Range{}, err
		}
		return domain.NewRange(n, n), nil
	}
}

var errNotNumber = errors.New("not a number")

func toNumber(t domain.FieldType, v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		r, err := ParseRange(t, n)
		if err != nil {
			return 0, err
		}
		if !r.Set || r.Min != r.Max {
			return 0, fmt.Errorf("%w: %q", errNotNumber, n)
		}
		return r.Min, nil
	}
	return 0, fmt.Errorf("%w: %T", errNotNumber, v)
}

func checkRange(r domain.Range) error {
	if !r.Set {
		return nil
	}
	for _, x := range []float64{r.Min, r.Max} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("non-finite bound %v", x)
		}
		if x < 0 {
			return fmt.Errorf("negative bound %v", x)
		}
	}
	if r.Min > r.Max {
		return fmt.Errorf("min %v greater than max %v", r.Min, r.Max)
	}
	return nil
}
