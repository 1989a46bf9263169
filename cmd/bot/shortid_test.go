package main

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
)

func TestShortID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"uuid", "5f0c1a2b-3d4e-4f60-8a9b-0c1d2e3f4a5b", "5f0c1a2b"},
		{"exactly_8", "12345678", "12345678"},
		{"short", "abcd", "abcd"},
		{"empty", "", ""},
		// 'é' is 2 bytes; 5 of them = 10 bytes
		{"multibyte", "ééééé", "éééé"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := shortID(tc.in)
			assert.Equal(t, tc.want, got)
			assert.LessOrEqual(t, len(got), 8)
		})
	}
}

func TestShortID_Properties(t *testing.T) {
	prop := func(s string) bool {
		got := shortID(s)
		if len(s) <= 8 {
			return got == s
		}
		return got == s[:8]
	}
	assert.NoError(t, quick.Check(prop, &quick.Config{MaxCount: 512}))
}
