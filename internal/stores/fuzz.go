package stores

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// indelParams makes a substitution cost as much as a delete plus an insert,
// so the distance counts only insertions and deletions
var indelParams = levenshtein.NewParams().SubCost(2)

// processName drops non-ASCII characters, turns everything that is not a letter
// or digit into a space, lowercases and trims
func processName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= utf8.RuneSelf:
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(b.String())
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// TokenSortRatio scores two names from 0 to 100 regardless of word order.
// Both names are processed, their tokens sorted and rejoined, and the result
// scored by insert/delete edit distance. An empty side scores 0.
func TokenSortRatio(a, b string) int {
	a = sortTokens(processName(a))
	b = sortTokens(processName(b))
	if a == "" || b == "" {
		return 0
	}

	lensum := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	dist := levenshtein.Distance(a, b, indelParams)
	return int(math.RoundToEven(100 * float64(lensum-dist) / float64(lensum)))
}

// TitleCase capitalizes the first letter of each whitespace-separated word
// and lowercases the rest, joining words with single spaces
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}
