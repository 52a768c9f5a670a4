package views

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPHasher(t *testing.T) {
	h := NewIPHasher("secret")

	a := h.Hash("203.0.113.7")
	assert.Len(t, a, 64)
	assert.Equal(t, a, h.Hash(" 203.0.113.7 "))
	assert.Equal(t, a, h.Hash("::ffff:203.0.113.7"), "v4-mapped addresses hash like v4")
	assert.NotEqual(t, a, h.Hash("203.0.113.8"))
	assert.NotEqual(t, a, NewIPHasher("other").Hash("203.0.113.7"), "digest depends on the key")
	assert.Empty(t, h.Hash(""))

	long := NewIPHasher(strings.Repeat("k", 200))
	assert.NotEmpty(t, long.Hash("203.0.113.7"))
}

func TestSanitizeUserAgent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Mozilla/5.0 (X11; Linux x86_64)", "Mozilla/5.0 (X11; Linux x86_64)"},
		{"markup", "Mozilla<script>alert(1)</script>/5.0", "Mozilla/5.0"},
		{"ampersand", "Bot & Co", "Bot & Co"},
		{"control", "Mozilla\t/5.0\n", "Mozilla/5.0"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeUserAgent(tt.in))
		})
	}

	assert.Len(t, []rune(SanitizeUserAgent(strings.Repeat("é", 1000))), MaxUserAgentLength)
}
