//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package stream_test

import (
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/seedstream/pkg/stream"
)

// TestParseRange covers the header forms against a 1024-byte file.
func TestParseRange(t *testing.T) {
	t.Parallel()

	const size = 1024

	tests := []struct {
		name          string
		header        string
		want          *stream.Range
		unsatisfiable bool
	}{
		{name: "no header", header: ""},
		{name: "first half", header: "bytes=0-511", want: &stream.Range{Start: 0, End: 511}},
		{name: "open ended", header: "bytes=1000-", want: &stream.Range{Start: 1000, End: 1023}},
		{name: "last byte", header: "bytes=1023-1023", want: &stream.Range{Start: 1023, End: 1023}},
		{name: "suffix", header: "bytes=-24", want: &stream.Range{Start: 1000, End: 1023}},
		{name: "suffix longer than file", header: "bytes=-5000", want: &stream.Range{Start: 0, End: 1023}},
		{name: "unit is case-insensitive", header: "Bytes=0-0", want: &stream.Range{Start: 0, End: 0}},
		{name: "spaces", header: "  bytes= 10 - 19 ", want: &stream.Range{Start: 10, End: 19}},
		{name: "past the end", header: "bytes=2000-3000", unsatisfiable: true},
		{name: "start at size", header: "bytes=1024-", unsatisfiable: true},
		{name: "end at size", header: "bytes=0-1024", unsatisfiable: true},
		{name: "reversed", header: "bytes=500-100", unsatisfiable: true},
		{name: "empty suffix", header: "bytes=-0", unsatisfiable: true},
		{name: "start beyond int64", header: "bytes=99999999999999999999-", unsatisfiable: true},
		{name: "end beyond int64", header: "bytes=0-99999999999999999999", unsatisfiable: true},
		{name: "suffix beyond int64", header: "bytes=-99999999999999999999", want: &stream.Range{Start: 0, End: 1023}},
		{name: "other unit", header: "items=0-1"},
		{name: "multiple ranges", header: "bytes=0-1,5-6"},
		{name: "garbage", header: "bytes=abc-def"},
		{name: "negative", header: "bytes=--5"},
		{name: "no dash", header: "bytes=100"},
		{name: "signed start", header: "bytes=+1-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			got, err := stream.ParseRange(tt.header, size)
			if tt.unsatisfiable {
				g.Expect(err).Should(MatchError(stream.ErrRangeNotSatisfiable))
				g.Expect(got).Should(BeNil())

				return
			}

			g.Expect(err).ShouldNot(HaveOccurred())
			g.Expect(got).Should(Equal(tt.want))
		})
	}
}

// TestParseRange_EmptyFile verifies every explicit range of an empty file is unsatisfiable.
func TestParseRange_EmptyFile(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	for _, header := range []string{"bytes=0-", "bytes=0-0", "bytes=-1"} {
		_, err := stream.ParseRange(header, 0)
		g.Expect(err).Should(MatchError(stream.ErrRangeNotSatisfiable), header)
	}
}

// TestRange_Headers verifies the derived header values.
func TestRange_Headers(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rng := stream.Range{Start: 0, End: 511}
	g.Expect(rng.Length()).Should(BeEquivalentTo(512))
	g.Expect(rng.ContentRange(1024)).Should(Equal("bytes 0-511/1024"))
}
