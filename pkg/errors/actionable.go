// Package errors turns seedbox connection failures into operator-facing errors
// with a category and concrete suggestions.
//
// Basic Usage:
//
//	enricher := errors.NewEnricher()
//	_, err := filesystem.Connect(ctx, host, filesystem.ConnectOptions{})
//	if err != nil {
//	    actionableErr := enricher.Enrich(err, host.Address())
//	    fmt.Println(actionableErr.Error())
//	    fmt.Println(errors.FormatSuggestions(actionableErr))
//	}
//
// The enricher extracts a host:port target from the message when none is given.
// The original error stays reachable through errors.Is and errors.As.
package errors

import "strings"

// Exported constants.
const (
	CategoryAuth              ErrorCategory = "auth"
	CategoryConnectTimeout    ErrorCategory = "connect_timeout"
	CategoryFingerprint       ErrorCategory = "fingerprint"
	CategoryHostKeyUnverified ErrorCategory = "host_key_unverified"
	CategoryKeyRead           ErrorCategory = "key_read"
	CategoryNetwork           ErrorCategory = "network"
	CategoryPermission        ErrorCategory = "permission"
	CategoryTransport         ErrorCategory = "transport"
	CategoryUnknown           ErrorCategory = "unknown"
)

// ActionableError represents an error with actionable suggestions for the operator.
type ActionableError interface {
	error
	OriginalError() string
	Category() ErrorCategory
	Suggestions() []string
	Target() string
	Unwrap() error
}

// NewActionableError creates a new ActionableError wrapping err.
func NewActionableError(
	err error,
	category ErrorCategory,
	suggestions []string,
	target string,
) ActionableError {
	return &actionableError{
		err:         err,
		category:    category,
		suggestions: suggestions,
		target:      target,
	}
}

// ErrorCategory represents the type of error that occurred.
type ErrorCategory string

// FormatSuggestions formats the suggestions from an ActionableError as a bulleted list.
// Returns empty string if the error is nil or has no suggestions.
func FormatSuggestions(err error) string {
	if err == nil {
		return ""
	}

	actionable, ok := err.(ActionableError) //nolint:errorlint // Only a direct ActionableError carries suggestions
	if !ok {
		return ""
	}

	suggestions := actionable.Suggestions()
	if len(suggestions) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, suggestion := range suggestions {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("  • ")
		builder.WriteString(suggestion)
	}

	return builder.String()
}

// actionableError is the concrete implementation of ActionableError.
type actionableError struct {
	err         error
	category    ErrorCategory
	suggestions []string
	target      string
}

// Category returns the error category.
func (e *actionableError) Category() ErrorCategory {
	return e.category
}

// Error implements the error interface.
func (e *actionableError) Error() string {
	return e.err.Error()
}

// OriginalError returns the original error message.
func (e *actionableError) OriginalError() string {
	return e.err.Error()
}

// Suggestions returns the list of actionable suggestions.
func (e *actionableError) Suggestions() []string {
	return e.suggestions
}

// Target returns the host or path the error concerns.
func (e *actionableError) Target() string {
	return e.target
}

// Unwrap returns the original error.
func (e *actionableError) Unwrap() error {
	return e.err
}
