package resolver

import (
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

const (
	weightLevenshtein = 0.20
	weightJaroWinkler = 0.30
	weightJaccard     = 0.30
	weightDate        = 0.20

	jaroWinklerPrefixBoost = 0.1
	jaroWinklerPrefixMax   = 4
)

// Similarity computes the weighted composite score between two normalized
// markets, clamped to [0,1]. Similarity(m, m) == 1.0 and Similarity is
// symmetric.
func Similarity(a, b Normalized) float64 {
	score := weightLevenshtein*levenshteinSimilarity(a.Text, b.Text) +
		weightJaroWinkler*jaroWinklerSimilarity(a.Text, b.Text) +
		weightJaccard*jaccardSimilarity(a.Tokens, b.Tokens) +
		weightDate*dateSimilarity(a.Dates, b.Dates)

	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

// levenshteinSimilarity is 1 - distance/max(len), using
// github.com/agnivade/levenshtein for the edit-distance computation.
func levenshteinSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}

// jaroWinklerSimilarity is the standard Jaro similarity with a prefix
// boost of 0.1 over the first 4 matching characters.
func jaroWinklerSimilarity(a, b string) float64 {
	jaro := jaroSimilarity(a, b)
	if jaro == 0 {
		return 0
	}

	prefixLen := 0
	maxPrefix := jaroWinklerPrefixMax
	if len(a) < maxPrefix {
		maxPrefix = len(a)
	}
	if len(b) < maxPrefix {
		maxPrefix = len(b)
	}
	for i := 0; i < maxPrefix; i++ {
		if a[i] != b[i] {
			break
		}
		prefixLen++
	}

	return jaro + float64(prefixLen)*jaroWinklerPrefixBoost*(1-jaro)
}

func jaroSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	la, lb := len(a), len(b)
	matchDistance := la / 2
	if lb/2 > matchDistance {
		matchDistance = lb / 2
	}
	if matchDistance > 0 {
		matchDistance--
	}

	aMatches := make([]bool, la)
	bMatches := make([]bool, lb)

	matches := 0
	for i := 0; i < la; i++ {
		start := i - matchDistance
		if start < 0 {
			start = 0
		}
		end := i + matchDistance + 1
		if end > lb {
			end = lb
		}
		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := 0; i < la; i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(la) + m/float64(lb) + (m-float64(transpositions)/2)/m) / 3.0
}

// jaccardSimilarity is |A ∩ B| / |A ∪ B| over token sets.
func jaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	setA := toSet(a)
	setB := toSet(b)

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// dateSimilarity is 1.0 if both sides have no dates, 0.5 if exactly one
// side has dates, else 1.0 if any cross-side pair is within 24h and 0.0
// otherwise.
func dateSimilarity(a, b []time.Time) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.5
	}
	for _, da := range a {
		for _, db := range b {
			diff := da.Sub(db)
			if diff < 0 {
				diff = -diff
			}
			if diff <= 24*time.Hour {
				return 1.0
			}
		}
	}
	return 0.0
}
