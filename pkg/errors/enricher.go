package errors

import (
	"errors"
	"regexp"
)

// Enricher enriches standard errors with actionable suggestions.
type Enricher interface {
	Enrich(err error, target string) error
}

// NewEnricher creates a new Enricher with default pattern matcher and suggestion generator.
func NewEnricher() Enricher {
	return &enricher{
		matcher:   NewPatternMatcher(),
		generator: NewSuggestionGenerator(),
	}
}

//nolint:gochecknoglobals // Compiled once, shared by every enricher
var hostPortPattern = regexp.MustCompile(`(?:[\w.-]+@)?(?:\[[0-9a-fA-F:.]+\]|[\w.-]+):\d{1,5}\b`)

// enricher is the concrete implementation of Enricher.
type enricher struct {
	matcher   PatternMatcher
	generator SuggestionGenerator
}

// Enrich takes an error and enriches it with category and actionable suggestions.
// If the error is already an ActionableError, it is returned unchanged.
// If target is empty, a host:port is extracted from the error message.
func (e *enricher) Enrich(err error, target string) error {
	if err == nil {
		return nil
	}

	var actionableErr ActionableError
	if errors.As(err, &actionableErr) {
		return actionableErr
	}

	if target == "" {
		target = extractTarget(err.Error())
	}

	category := e.matcher.Match(err)

	return NewActionableError(err, category, e.generator.Generate(category, target), target)
}

// extractTarget finds the first user@host:port or host:port in an error message,
// as produced by net and x/crypto/ssh errors:
//   - "dial tcp 10.0.0.5:22: connect: connection refused"
//   - "transport error: SSH handshake with seedbox.example.com:2222 failed: EOF"
func extractTarget(errorMsg string) string {
	return hostPortPattern.FindString(errorMsg)
}
