package errors

import (
	"errors"
	"strings"

	"github.com/joe/seedstream/pkg/filesystem"
)

// PatternMatcher matches errors to categories.
type PatternMatcher interface {
	Match(err error) ErrorCategory
}

// NewPatternMatcher creates a new PatternMatcher with predefined rules.
// Sentinel errors are checked first, then message patterns, in order.
func NewPatternMatcher() PatternMatcher {
	return &patternMatcher{
		sentinels: []sentinelRule{
			{filesystem.ErrFingerprintMismatch, CategoryFingerprint},
			{filesystem.ErrHostKeyUnverified, CategoryHostKeyUnverified},
			{filesystem.ErrKeyRead, CategoryKeyRead},
			{filesystem.ErrAuthFailure, CategoryAuth},
			{filesystem.ErrConnectTimeout, CategoryConnectTimeout},
		},
		patterns: []patternRule{
			{CategoryAuth, []string{"unable to authenticate", "no supported methods remain"}},
			{CategoryConnectTimeout, []string{"i/o timeout", "deadline exceeded", "timed out"}},
			{CategoryNetwork, []string{
				"connection refused",
				"no such host",
				"network is unreachable",
				"no route to host",
			}},
			{CategoryPermission, []string{"permission denied", "operation not permitted"}},
			{CategoryTransport, []string{
				"connection reset",
				"broken pipe",
				"eof",
				"transport error",
				"handshake failed",
			}},
		},
	}
}

type sentinelRule struct {
	target   error
	category ErrorCategory
}

type patternRule struct {
	category ErrorCategory
	patterns []string
}

// patternMatcher is the concrete implementation of PatternMatcher.
type patternMatcher struct {
	sentinels []sentinelRule
	patterns  []patternRule
}

// Match returns the error category.
func (m *patternMatcher) Match(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}

	for _, rule := range m.sentinels {
		if errors.Is(err, rule.target) {
			return rule.category
		}
	}

	lowerMsg := strings.ToLower(err.Error())

	for _, rule := range m.patterns {
		for _, pattern := range rule.patterns {
			if strings.Contains(lowerMsg, pattern) {
				return rule.category
			}
		}
	}

	return CategoryUnknown
}
