package integration

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ---------------------------------------------------------------------------
// Matching-key normalization used by deduplication and conflict detection
// ---------------------------------------------------------------------------

// addressAbbreviations folds common address words to their short form
var addressAbbreviations = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"road":      "rd",
	"boulevard": "blvd",
	"drive":     "dr",
	"lane":      "ln",
	"apartment": "apt",
	"suite":     "ste",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
}

// countryCallingCodes maps a calling code to the national number length that follows it
var countryCallingCodes = []struct {
	code   string
	length int
}{
	{"86", 11},
	{"44", 10},
	{"1", 10},
}

const (
	// minPhoneDigits is the shortest normalized phone used as a matching key
	minPhoneDigits = 7
	// maxNationalDigits is the longest national number in countryCallingCodes
	maxNationalDigits = 11
)

// foldDiacritics strips combining marks (é → e) and returns NFC text
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// normalizeEmail lower-cases and trims an email address
func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeName lower-cases, folds diacritics, drops punctuation and collapses spaces
func normalizeName(s string) string {
	s = strings.ToLower(foldDiacritics(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// normalizeAddress is normalizeName with punctuation treated as a word break
// and common address words abbreviated
func normalizeAddress(s string) string {
	s = strings.ToLower(foldDiacritics(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
	words := strings.Fields(s)
	for i, w := range words {
		if short, ok := addressAbbreviations[w]; ok {
			words[i] = short
		}
	}
	return strings.Join(words, " ")
}

// normalizePhone keeps digits only and strips a known country code. The code
// is only recognized after an international "+" or "00" prefix, or when the
// number is too long to be a national one, so a domestic number that happens
// to start with a calling code (CN mobiles start with "1") stays intact.
func normalizePhone(s string) string {
	trimmed := strings.TrimSpace(s)
	digits := phoneDigits(trimmed)
	international := strings.HasPrefix(trimmed, "+")
	if strings.HasPrefix(digits, "00") {
		digits = digits[2:]
		international = true
	}

	for _, cc := range countryCallingCodes {
		if !strings.HasPrefix(digits, cc.code) || len(digits) != len(cc.code)+cc.length {
			continue
		}
		if international || len(digits) > maxNationalDigits {
			return digits[len(cc.code):]
		}
	}
	return digits
}

// phoneDigits returns the digit-only form used for conflict comparison
func phoneDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// nameSimilarity returns 1 - distance/maxLen over normalized names, 1 for two empty names
func nameSimilarity(a, b string) float64 {
	a, b = normalizeName(a), normalizeName(b)
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
