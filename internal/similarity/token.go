package similarity

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// TokenScorer is a weighted string similarity tolerant of token reordering
// and partial overlap, e.g. "Acme Corp" against "ACME CORPORATION 123 Main St".
type TokenScorer struct{}

// NewTokenScorer creates a TokenScorer
func NewTokenScorer() *TokenScorer {
	return &TokenScorer{}
}

// Name implements Scorer
func (s *TokenScorer) Name() string {
	return "Token"
}

// BestMatch implements Scorer
func (s *TokenScorer) BestMatch(ctx context.Context, query string, candidates []string) (Match, error) {
	if len(candidates) == 0 {
		return Match{}, ErrEmptyCandidatePool
	}

	q := normalize(query)
	scores := make([]float64, len(candidates))
	for i, candidate := range candidates {
		scores[i] = WeightedRatio(q, normalize(candidate))
	}

	return best(candidates, scores), nil
}

// WeightedRatio combines plain, partial, token-sort and token-set ratios of
// two normalized strings into a score in [0,100]
func WeightedRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}

	la, lb := len([]rune(a)), len([]rune(b))
	lenRatio := float64(max(la, lb)) / float64(min(la, lb))

	const tokenScale = 0.95
	score := ratio(a, b)

	if lenRatio < 1.5 {
		score = math.Max(score, tokenScale*tokenSortRatio(a, b))
		score = math.Max(score, tokenScale*tokenSetRatio(a, b))
		return round(score)
	}

	partialScale := 0.9
	if lenRatio >= 8 {
		partialScale = 0.6
	}

	score = math.Max(score, partialScale*partialRatio(a, b))
	score = math.Max(score, tokenScale*partialScale*tokenSortRatio(a, b))
	score = math.Max(score, tokenScale*partialScale*tokenSetRatio(a, b))
	return round(score)
}

// ratio is 100 * (1 - edit distance / longer length)
func ratio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(dist)/float64(longest))
}

// partialRatio aligns the shorter string against every window of the longer
func partialRatio(a, b string) float64 {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}

	s := string(short)
	bestScore := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		if r := ratio(s, string(long[i:i+len(short)])); r > bestScore {
			bestScore = r
			if bestScore == 100 {
				break
			}
		}
	}
	return bestScore
}

func tokenSortRatio(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	sort.Strings(ta)
	sort.Strings(tb)
	return ratio(strings.Join(ta, " "), strings.Join(tb, " "))
}

// tokenSetRatio compares the shared tokens with each side's remainder.
// A string whose tokens are a subset of the other's scores 100.
func tokenSetRatio(a, b string) float64 {
	setA, setB := tokenSet(a), tokenSet(b)

	var inter, diffA, diffB []string
	for tok := range setA {
		if setB[tok] {
			inter = append(inter, tok)
		} else {
			diffA = append(diffA, tok)
		}
	}
	for tok := range setB {
		if !setA[tok] {
			diffB = append(diffB, tok)
		}
	}
	sort.Strings(inter)
	sort.Strings(diffA)
	sort.Strings(diffB)

	if len(inter) > 0 && (len(diffA) == 0 || len(diffB) == 0) {
		return 100
	}

	t0 := strings.Join(inter, " ")
	t1 := strings.TrimSpace(t0 + " " + strings.Join(diffA, " "))
	t2 := strings.TrimSpace(t0 + " " + strings.Join(diffB, " "))

	score := ratio(t1, t2)
	if t0 != "" {
		score = math.Max(score, ratio(t0, t1))
		score = math.Max(score, ratio(t0, t2))
	}
	return score
}

// normalize lower-cases s, turns non-alphanumerics into spaces and
// collapses runs of whitespace
func normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

func tokens(s string) []string {
	return strings.Fields(s)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokens(s) {
		set[tok] = true
	}
	return set
}

func round(f float64) float64 {
	return math.Round(f*100) / 100
}
