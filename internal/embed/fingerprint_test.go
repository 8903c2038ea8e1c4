package embed

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already normal", "refund policy", "refund policy"},
		{"collapses inner runs", "refund   policy", "refund policy"},
		{"tabs and newlines collapse", "refund\t\n policy", "refund policy"},
		{"trims edges", "  refund policy \n", "refund policy"},
		{"preserves case", "Refund Policy", "Refund Policy"},
		{"empty", "", ""},
		{"whitespace only", " \t\n ", ""},
		{"non-breaking space", "refund policy", "refund policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestFingerprint_StableAcrossWhitespaceVariants(t *testing.T) {
	a := Fingerprint("nomic-embed-text", "refund  policy\n")
	b := Fingerprint("nomic-embed-text", " refund policy")

	assert.Equal(t, a, b, "whitespace variants should share a fingerprint")
}

func TestFingerprint_VariesByModel(t *testing.T) {
	a := Fingerprint("nomic-embed-text", "refund policy")
	b := Fingerprint("mxbai-embed-large", "refund policy")

	assert.NotEqual(t, a, b, "model id must be part of the key")
}

func TestFingerprint_VariesByText(t *testing.T) {
	a := Fingerprint("nomic-embed-text", "refund policy")
	b := Fingerprint("nomic-embed-text", "shipping policy")

	assert.NotEqual(t, a, b)
}

func TestFingerprint_CaseSensitive(t *testing.T) {
	a := Fingerprint("nomic-embed-text", "Refund Policy")
	b := Fingerprint("nomic-embed-text", "refund policy")

	assert.NotEqual(t, a, b, "normalization preserves case")
}

func TestFingerprint_ModelTextBoundaryUnambiguous(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide.
	assert.NotEqual(t, Fingerprint("ab", "c"), Fingerprint("a", "bc"))
}

func TestFingerprint_Format(t *testing.T) {
	fp := Fingerprint("nomic-embed-text", "refund policy")

	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), fp)
}
