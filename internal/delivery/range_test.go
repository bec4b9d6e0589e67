package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	const size = 1000
	tests := []struct {
		name   string
		header string
		want   Range
		err    bool
	}{
		{name: "closed", header: "bytes=0-99", want: Range{0, 99}},
		{name: "open ended", header: "bytes=100-", want: Range{100, 999}},
		{name: "suffix", header: "bytes=-200", want: Range{800, 999}},
		{name: "suffix larger than file", header: "bytes=-5000", want: Range{0, 999}},
		{name: "end clamped", header: "bytes=900-5000", want: Range{900, 999}},
		{name: "first of many", header: "bytes=10-19, 50-59", want: Range{10, 19}},
		{name: "whitespace", header: " bytes= 5 - 9 ", want: Range{5, 9}},
		{name: "start past end", header: "bytes=1000-", err: true},
		{name: "inverted", header: "bytes=50-10", err: true},
		{name: "wrong unit", header: "items=0-1", err: true},
		{name: "garbage", header: "bytes=abc", err: true},
		{name: "empty suffix", header: "bytes=-", err: true},
		{name: "zero suffix", header: "bytes=-0", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, size)
			if tt.err {
				require.ErrorIs(t, err, ErrInvalidRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRangeEmptyResource(t *testing.T) {
	_, err := ParseRange("bytes=0-", 0)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestFormatContentRange(t *testing.T) {
	assert.Equal(t, "bytes 10-19/1000", FormatContentRange(Range{10, 19}, 1000))
}
