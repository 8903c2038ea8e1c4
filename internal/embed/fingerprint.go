package embed

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Normalize canonicalizes text for fingerprinting: runs of whitespace
// collapse to a single space and leading/trailing whitespace is dropped.
// Case is preserved, so "Refund Policy" and "refund policy" embed
// separately.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// Fingerprint identifies a (model, text) pair for caching and reuse. The
// model id is part of the key, so switching models never serves vectors
// computed by the previous one.
func Fingerprint(modelID, text string) string {
	h := sha256.Sum256([]byte(modelID + "\x00" + Normalize(text)))
	return hex.EncodeToString(h[:])
}
