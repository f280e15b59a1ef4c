package common

import (
	"strings"
	"unicode/utf8"
)

const MaxRequesterLength = 64

// NormalizeRequester lowercases and trims a requester identity and enforces
// the length limit. Blacklist entries and redemption identities go through
// the same normalization so they compare equal.
func NormalizeRequester(name string) (normalized string, truncated bool) {
	normalized = strings.ToLower(strings.TrimSpace(name))
	if len(normalized) <= MaxRequesterLength {
		return normalized, false
	}
	// Cut on a rune boundary so a multi-byte name never ends mid-rune.
	cut := MaxRequesterLength
	for cut > 0 && !utf8.RuneStart(normalized[cut]) {
		cut--
	}
	return normalized[:cut], true
}
