package stores

import (
	"sort"
	"strings"
)

const (
	// DefaultThreshold is the minimum score for mapping a name onto a known store
	DefaultThreshold = 51
	// DefaultAnalysisThreshold is the threshold the diagnostic analysis has historically used
	DefaultAnalysisThreshold = 80
	// DefaultTopK is how many candidates Analyze reports
	DefaultTopK = 5
)

// Normalizer maps raw store names onto a set of canonical names.
// It holds no state besides its threshold.
type Normalizer struct {
	Threshold int
}

// NewNormalizer returns a Normalizer; a non-positive threshold uses DefaultThreshold
func NewNormalizer(threshold int) Normalizer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Normalizer{Threshold: threshold}
}

// Match is one scored candidate
type Match struct {
	Name  string `json:"store"`
	Score int    `json:"score"`
}

// Analysis is the read-only report produced by Analyze
type Analysis struct {
	Input      string  `json:"input"`
	Normalized *string `json:"normalized"` // nil for an empty input
	Matched    bool    `json:"matched"`
	Threshold  int     `json:"threshold"`
	Matches    []Match `json:"top_matches"`
}

// Normalize returns the canonical name for raw. The second result is false
// only when raw is empty or whitespace.
func (n Normalizer) Normalize(raw string, known []string) (string, bool) {
	name, _, ok := n.resolve(raw, known)
	return name, ok
}

// resolve also reports whether the result is an existing known name
func (n Normalizer) resolve(raw string, known []string) (string, bool, bool) {
	store := strings.TrimSpace(raw)
	if store == "" {
		return "", false, false
	}
	if len(known) == 0 {
		return TitleCase(store), false, true
	}

	best, ok := bestMatch(store, known)
	if ok && best.Score >= n.threshold() {
		return best.Name, true, true
	}
	return TitleCase(store), false, true
}

func (n Normalizer) threshold() int {
	if n.Threshold <= 0 {
		return DefaultThreshold
	}
	return n.Threshold
}

// bestMatch returns the highest scoring known name; the first one wins ties
func bestMatch(store string, known []string) (Match, bool) {
	var best Match
	found := false
	for _, name := range known {
		score := TokenSortRatio(store, name)
		if !found || score > best.Score {
			best = Match{Name: name, Score: score}
			found = true
		}
	}
	return best, found
}

// Analyze scores raw against every known name and reports the topK best.
// Equal scores keep the order of known. A non-positive topK uses DefaultTopK.
func (n Normalizer) Analyze(raw string, known []string, topK int) Analysis {
	if topK <= 0 {
		topK = DefaultTopK
	}

	analysis := Analysis{Input: raw, Threshold: n.threshold(), Matches: []Match{}}
	if strings.TrimSpace(raw) == "" {
		return analysis
	}

	matches := make([]Match, len(known))
	for i, name := range known {
		matches[i] = Match{Name: name, Score: TokenSortRatio(raw, name)}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	analysis.Matches = matches
	normalized, matched, _ := n.resolve(raw, known)
	analysis.Normalized = &normalized
	analysis.Matched = matched
	return analysis
}
