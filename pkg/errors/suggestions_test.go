package errors_test

import (
	"strings"
	"testing"

	pkgerrors "github.com/joe/seedstream/pkg/errors"
)

func TestSuggestionGenerator_EveryCategoryHasSuggestions(t *testing.T) {
	t.Parallel()

	categories := []pkgerrors.ErrorCategory{
		pkgerrors.CategoryAuth,
		pkgerrors.CategoryConnectTimeout,
		pkgerrors.CategoryFingerprint,
		pkgerrors.CategoryHostKeyUnverified,
		pkgerrors.CategoryKeyRead,
		pkgerrors.CategoryNetwork,
		pkgerrors.CategoryPermission,
		pkgerrors.CategoryTransport,
		pkgerrors.CategoryUnknown,
		pkgerrors.ErrorCategory("made-up"),
	}

	generator := pkgerrors.NewSuggestionGenerator()

	for _, category := range categories {
		t.Run(string(category), func(t *testing.T) {
			t.Parallel()

			if len(generator.Generate(category, "box:22")) == 0 {
				t.Errorf("expected suggestions for %q", category)
			}
		})
	}
}

func TestSuggestionGenerator_MentionsTarget(t *testing.T) {
	t.Parallel()

	generator := pkgerrors.NewSuggestionGenerator()

	tests := []pkgerrors.ErrorCategory{
		pkgerrors.CategoryAuth,
		pkgerrors.CategoryConnectTimeout,
		pkgerrors.CategoryFingerprint,
		pkgerrors.CategoryNetwork,
	}

	for _, category := range tests {
		withTarget := strings.Join(generator.Generate(category, "seedbox:2222"), "\n")
		if !strings.Contains(withTarget, "seedbox:2222") {
			t.Errorf("%s: expected target in suggestions, got %q", category, withTarget)
		}

		withoutTarget := generator.Generate(category, "")
		if len(withoutTarget) == 0 {
			t.Errorf("%s: expected suggestions without a target", category)
		}
	}
}

func TestSuggestionGenerator_FingerprintNeverAdvisesSilentReplace(t *testing.T) {
	t.Parallel()

	suggestions := strings.ToLower(strings.Join(
		pkgerrors.NewSuggestionGenerator().Generate(pkgerrors.CategoryFingerprint, ""), "\n"))

	if !strings.Contains(suggestions, "never replaced automatically") {
		t.Errorf("expected the stored fingerprint to be described as sticky, got %q", suggestions)
	}
}
