package collector

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// fingerprintSeparator joins fingerprint components.
const fingerprintSeparator = "|"

// FingerprintComponents returns the fixed, ordered component list the
// fingerprint is computed over.
func FingerprintComponents(s Signals) []string {
	return []string{
		s.UserAgent,
		s.Language,
		strconv.Itoa(s.Screen.Width) + "x" + strconv.Itoa(s.Screen.Height),
		strconv.Itoa(s.Screen.ColorDepth),
		strconv.Itoa(s.TimezoneOffset),
		s.Platform,
		strconv.FormatBool(s.CookiesEnabled),
		s.CanvasDigest,
	}
}

// Fingerprint derives the stability hash for a signal set.
func Fingerprint(s Signals) string {
	return HashString(strings.Join(FingerprintComponents(s), fingerprintSeparator))
}

// HashString reduces input to a 32-bit rolling hash (h = h*31 + c over UTF-16
// code units, wrapping) and formats it as unsigned lowercase hex. The empty
// string hashes to "0". Not a security primitive.
func HashString(input string) string {
	var h uint32
	for _, c := range utf16.Encode([]rune(input)) {
		h = h<<5 - h + uint32(c)
	}
	return strconv.FormatUint(uint64(h), 16)
}
