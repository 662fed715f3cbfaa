package recon

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateError(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Short message unchanged",
			input:    "connection refused",
			expected: "connection refused",
		},
		{
			name:     "Exactly at the limit unchanged",
			input:    strings.Repeat("x", maxErrorMessageLen),
			expected: strings.Repeat("x", maxErrorMessageLen),
		},
		{
			name:     "ASCII overflow cut at the limit",
			input:    strings.Repeat("x", maxErrorMessageLen+10),
			expected: strings.Repeat("x", maxErrorMessageLen),
		},
		{
			name:     "Multi-byte rune straddling the limit is dropped whole",
			input:    strings.Repeat("x", maxErrorMessageLen-1) + "日本語",
			expected: strings.Repeat("x", maxErrorMessageLen-1),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := truncateError(tc.input)
			assert.Equal(t, tc.expected, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), maxErrorMessageLen)
		})
	}
}
