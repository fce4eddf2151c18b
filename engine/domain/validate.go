package domain

import (
	"strings"
	"unicode/utf8"
)

// Limits applied to raw items before they are sent for normalization.
const (
	MaxRawFields   = 64
	MaxRawFieldLen = 4096
)

// ValidateRawItem checks a RawItem before normalization.
func ValidateRawItem(item RawItem) error {
	if item.Title() == "" {
		v, _ := item.Get(FieldTitle)
		return &ValidationError{Field: FieldTitle, Value: v, Wrapped: ErrMissingTitle}
	}
	if len(item) > MaxRawFields {
		return &ValidationError{Field: "*", Value: strings.Join(item.Fields(), ","), Wrapped: ErrTooManyFields}
	}
	for _, name := range item.Fields() {
		v, ok := item.Get(name)
		if ok && utf8.RuneCountInString(v) > MaxRawFieldLen {
			return &ValidationError{Field: name, Value: v, Wrapped: ErrFieldTooLong}
		}
	}
	return nil
}
