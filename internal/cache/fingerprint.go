package cache

import "crypto/sha256"

// fingerprintSeparator is a byte that cannot appear in normal UTF-8 text
// (the ASCII "unit separator") placed between prompt and model so that
// ("ab", "c") and ("a", "bc") never collide.
const fingerprintSeparator = 0x1f

// NewFingerprint canonicalizes (prompt, model) into a deterministic key.
// spec.md §9 leaves whitespace/case normalization as an open question and
// this repo resolves it by mandating byte-equality: the raw prompt is
// hashed as given, with no normalization step. Two requests yield the same
// fingerprint iff their (prompt, model) bytes are equal.
func NewFingerprint(prompt, model string) Fingerprint {
	h := sha256.New()
	_, _ = h.Write([]byte(prompt))
	_, _ = h.Write([]byte{fingerprintSeparator})
	_, _ = h.Write([]byte(model))
	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}
