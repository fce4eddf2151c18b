package domain

import (
	"context"
	"errors"
	"fmt"
)

// Pipeline failure kinds.
var (
	ErrLaunch             = errors.New("browser launch failed")
	ErrNavigation         = errors.New("navigation failed")
	ErrNavigationTimeout  = errors.New("navigation timeout")
	ErrContainerMissing   = errors.New("card container missing")
	ErrCardExtraction     = errors.New("card extraction failed")
	ErrServiceUnavailable = errors.New("normalization service unavailable")
	ErrSchemaViolation    = errors.New("schema violation")
	ErrUnknownSchema      = errors.New("unknown schema")
	ErrUnknownExtractor   = errors.New("unknown extractor")

	ErrMissingTitle  = errors.New("missing title")
	ErrFieldTooLong  = errors.New("field too long")
	ErrTooManyFields = errors.New("too many fields")
)

// ValidationError wraps a sentinel with the offending raw field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, clip(e.Value))
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// SchemaViolation is returned when a normalized value does not satisfy its
// schema field. Value is the offending value as received.
type SchemaViolation struct {
	Schema string
	Field  string
	Value  string
	Reason string
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("schema %s: field %s: %s (value=%s)", e.Schema, e.Field, e.Reason, clip(e.Value))
}

func (e *SchemaViolation) Unwrap() error { return ErrSchemaViolation }

// CardError is a failure confined to one product card.
type CardError struct {
	Index int
	Err   error
}

func (e *CardError) Error() string {
	return fmt.Sprintf("card %d: %v", e.Index, e.Err)
}

func (e *CardError) Unwrap() []error { return []error{ErrCardExtraction, e.Err} }

// ServiceUnavailable marks err as a failure to reach the completion service.
func ServiceUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
}

func clip(s string) string {
	const max = 120
	r := []rune(s)
	if len(r) > max {
		return string(r[:max]) + "…"
	}
	return s
}

// Scope is how far a failure reaches.
type Scope int

const (
	ScopeNone   Scope = iota
	ScopeCard         // one card, absorbed by the extractor
	ScopeItem         // one item, recorded in the report
	ScopeSource       // one source run, retried then fatal for that source
	ScopeFatal        // aborts the run immediately
)

func (s Scope) String() string {
	switch s {
	case ScopeNone:
		return "none"
	case ScopeCard:
		return "card"
	case ScopeItem:
		return "item"
	case ScopeSource:
		return "source"
	case ScopeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps an error onto the scope its recovery should cover.
func Classify(err error) Scope {
	switch {
	case err == nil:
		return ScopeNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ScopeFatal
	case errors.Is(err, ErrLaunch):
		return ScopeFatal
	case errors.Is(err, ErrCardExtraction):
		return ScopeCard
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, ErrSchemaViolation),
		errors.Is(err, ErrUnknownSchema):
		return ScopeItem
	default:
		var ve *ValidationError
		if errors.As(err, &ve) {
			return ScopeItem
		}
		return ScopeSource
	}
}

// Retryable reports whether repeating the failed operation may succeed.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrNavigationTimeout) ||
		errors.Is(err, ErrNavigation) ||
		errors.Is(err, ErrContainerMissing) ||
		errors.Is(err, ErrServiceUnavailable)
}

// Kind returns a short stable label for err, used in reports and metrics.
func Kind(err error) string {
	for _, k := range []struct {
		err  error
		name string
	}{
		{context.Canceled, "cancelled"},
		{context.DeadlineExceeded, "deadline"},
		{ErrLaunch, "launch"},
		{ErrNavigationTimeout, "navigation_timeout"},
		{ErrNavigation, "navigation"},
		{ErrContainerMissing, "container_missing"},
		{ErrCardExtraction, "card_extraction"},
		{ErrServiceUnavailable, "service_unavailable"},
		{ErrSchemaViolation, "schema_violation"},
		{ErrUnknownSchema, "unknown_schema"},
		{ErrUnknownExtractor, "unknown_extractor"},
	} {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "invalid_item"
	}
	if err == nil {
		return ""
	}
	return "other"
}
