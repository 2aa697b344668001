package errors_test

import (
	"errors"
	"strings"
	"testing"

	pkgerrors "github.com/joe/seedstream/pkg/errors"
)

func TestActionableError_Accessors(t *testing.T) {
	t.Parallel()

	original := errors.New("connection refused")
	err := pkgerrors.NewActionableError(
		original,
		pkgerrors.CategoryNetwork,
		[]string{"Check the port"},
		"box:22",
	)

	if err.Error() != "connection refused" {
		t.Errorf("unexpected Error(): %q", err.Error())
	}

	if err.OriginalError() != "connection refused" {
		t.Errorf("unexpected OriginalError(): %q", err.OriginalError())
	}

	if err.Category() != pkgerrors.CategoryNetwork {
		t.Errorf("unexpected Category(): %q", err.Category())
	}

	if err.Target() != "box:22" {
		t.Errorf("unexpected Target(): %q", err.Target())
	}

	if !errors.Is(err, original) {
		t.Error("expected errors.Is to reach the original error")
	}
}

func TestFormatSuggestions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "plain error", err: errors.New("boom"), expected: ""},
		{
			name:     "no suggestions",
			err:      pkgerrors.NewActionableError(errors.New("boom"), pkgerrors.CategoryUnknown, nil, ""),
			expected: "",
		},
		{
			name: "two suggestions",
			err: pkgerrors.NewActionableError(
				errors.New("boom"),
				pkgerrors.CategoryUnknown,
				[]string{"first", "second"},
				"",
			),
			expected: "  • first\n  • second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := pkgerrors.FormatSuggestions(tt.err); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestFormatSuggestions_FromEnricher(t *testing.T) {
	t.Parallel()

	err := pkgerrors.NewEnricher().Enrich(errors.New("dial tcp 10.0.0.5:22: connect: connection refused"), "")

	formatted := pkgerrors.FormatSuggestions(err)
	if !strings.Contains(formatted, "10.0.0.5:22") {
		t.Errorf("expected suggestions to mention the target, got %q", formatted)
	}

	if strings.Count(formatted, "•") < 2 {
		t.Errorf("expected a bulleted list, got %q", formatted)
	}
}
