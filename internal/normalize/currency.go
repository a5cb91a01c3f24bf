package normalize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	parenCodeRe = regexp.MustCompile(`\(([A-Za-z]{3})\)`)
	bareCodeRe  = regexp.MustCompile(`\b([A-Z]{3})\b`)
)

// foldTransform decomposes accented characters and drops the combining
// marks, mapping e.g. "ş" -> "s" and "ü" -> "u".
var foldTransform = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// FoldTurkish lowercases text with Turkish case rules and folds locale
// characters to ASCII, so "DOLARI" and "doları" compare equal.
func FoldTurkish(s string) string {
	s = strings.ToLowerSpecial(unicode.TurkishCase, s)
	// Dotless ı has no combining mark to strip; map it directly.
	s = strings.ReplaceAll(s, "ı", "i")
	folded, _, err := transform.String(foldTransform, s)
	if err != nil {
		return s
	}
	return folded
}

// MapCurrencyName resolves a localized currency name to an ISO code by
// exact match against the supplied map. Map keys are folded the same way
// as the input, so callers can supply either form.
func MapCurrencyName(text string, names map[string]string) (string, bool) {
	needle := FoldTurkish(strings.TrimSpace(text))
	if needle == "" {
		return "", false
	}
	for name, code := range names {
		if FoldTurkish(name) == needle {
			return code, true
		}
	}
	return "", false
}

// MapCurrencyNameSubstring is the looser fallback: the folded map key must
// appear as a substring of the folded input. Names are tried longest
// first so the most specific entry wins, with a lexicographic tie-break
// to keep resolution stable across runs.
func MapCurrencyNameSubstring(text string, names map[string]string) (string, bool) {
	needle := FoldTurkish(strings.TrimSpace(text))
	if needle == "" {
		return "", false
	}
	folded := make([]string, 0, len(names))
	byFolded := make(map[string]string, len(names))
	for name, code := range names {
		f := FoldTurkish(name)
		folded = append(folded, f)
		byFolded[f] = code
	}
	sort.Slice(folded, func(i, j int) bool {
		if len(folded[i]) != len(folded[j]) {
			return len(folded[i]) > len(folded[j])
		}
		return folded[i] < folded[j]
	})
	for _, f := range folded {
		if strings.Contains(needle, f) {
			return byFolded[f], true
		}
	}
	return "", false
}

// CodeFromText resolves cell text to a known ISO code using a fixed
// priority order: a parenthesized 3-letter code, then an exact
// case-insensitive code match on short tokens, then the caller's name map
// (exact, then substring), then a bare 3-letter code anywhere in the text.
// First match wins; unknown codes never match.
func CodeFromText(text string, names map[string]string, known map[string]struct{}) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}

	if m := parenCodeRe.FindStringSubmatch(trimmed); m != nil {
		if code := strings.ToUpper(m[1]); isKnown(code, known) {
			return code, true
		}
	}

	// Exact code match bounded to short tokens; avoids matching substrings
	// of longer words.
	if len(trimmed) <= 4 {
		if code := strings.ToUpper(trimmed); isKnown(code, known) {
			return code, true
		}
	}

	if code, ok := MapCurrencyName(trimmed, names); ok && isKnown(code, known) {
		return code, true
	}
	if code, ok := MapCurrencyNameSubstring(trimmed, names); ok && isKnown(code, known) {
		return code, true
	}

	if m := bareCodeRe.FindStringSubmatch(strings.ToUpper(trimmed)); m != nil {
		if isKnown(m[1], known) {
			return m[1], true
		}
	}

	return "", false
}

func isKnown(code string, known map[string]struct{}) bool {
	if len(known) == 0 {
		return false
	}
	_, ok := known[code]
	return ok
}
