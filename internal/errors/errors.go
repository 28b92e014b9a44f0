// Package errors provides centralized error handling with categories the
// fetch run controller uses to turn provider failures into state transitions.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// ErrorCategory represents the type of error for better categorization.
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryNetwork       ErrorCategory = "network"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryDatabase      ErrorCategory = "database"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryState         ErrorCategory = "state"
	CategoryGeneric       ErrorCategory = "generic"

	// Enrichment pipeline specific categories
	CategoryProviderQuota     ErrorCategory = "provider-quota"     // provider declared rate/quota exhaustion
	CategoryProviderTransient ErrorCategory = "provider-transient" // timeouts, 5xx, malformed pages
	CategoryProviderData      ErrorCategory = "provider-data"      // permanent data errors, no retry
	CategoryReconciliation    ErrorCategory = "reconciliation"     // entity matching failures
	CategoryFetchState        ErrorCategory = "fetch-state"        // claim/commit bookkeeping
	CategoryQuotaQueue        ErrorCategory = "quota-queue"        // retry queue operations
)

// Classification is the retry policy bucket an error falls into.
type Classification int

const (
	// ClassTransient errors are retried with exponential backoff.
	ClassTransient Classification = iota
	// ClassQuota errors are deferred to the quota retry queue.
	ClassQuota
	// ClassPermanent errors fail the run immediately.
	ClassPermanent
)

func (c Classification) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassQuota:
		return "quota"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// EnhancedError wraps an error with component, category and context metadata.
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time
}

// Error implements the error interface.
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface.
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches on category when the target is also an EnhancedError.
func (ee *EnhancedError) Is(target error) bool {
	var other *EnhancedError
	if stderrors.As(target, &other) {
		return ee.Category == other.Category
	}
	return stderrors.Is(ee.Err, target)
}

// GetContext returns a copy of the context map.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	contextCopy := make(map[string]any, len(ee.Context))
	maps.Copy(contextCopy, ee.Context)
	return contextCopy
}

// ErrorBuilder provides a fluent interface for creating enhanced errors.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates a new error builder wrapping err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new error builder from a formatted message.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a key/value pair to the error context.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build returns the enhanced error.
func (eb *ErrorBuilder) Build() error {
	category := eb.category
	if category == "" {
		category = CategoryGeneric
	}
	return &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
}

// Classify maps an error onto the retry taxonomy. Unknown errors are treated
// as transient so a flaky dependency never permanently fails a run on its
// first hiccup.
func Classify(err error) Classification {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		switch ee.Category {
		case CategoryProviderQuota:
			return ClassQuota
		case CategoryProviderData, CategoryValidation, CategoryNotFound, CategoryConfiguration:
			return ClassPermanent
		}
	}
	return ClassTransient
}

// IsQuota reports whether err is a provider quota exhaustion error.
func IsQuota(err error) bool {
	return Classify(err) == ClassQuota
}

// CategoryOf returns the category of err, or CategoryGeneric for plain errors.
func CategoryOf(err error) ErrorCategory {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.Category
	}
	return CategoryGeneric
}

// Re-exported standard helpers so callers need a single errors import.

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// NewStd creates a basic error without enhancement.
func NewStd(text string) error { return stderrors.New(text) }
