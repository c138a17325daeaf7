package resolver

import (
	"testing"
	"time"

	"arb-engine/internal/types"
)

func TestSimilarityReflexive(t *testing.T) {
	t.Parallel()
	n := Normalize("Will BTC hit $100k by 12/31/2024?", "")
	if got := Similarity(n, n); got != 1.0 {
		t.Errorf("Similarity(m, m) = %v, want 1.0", got)
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	t.Parallel()
	a := Normalize("Will BTC hit $100k by 12/31/2024?", "")
	b := Normalize("Will Bitcoin reach $100k in 2024?", "")
	if got1, got2 := Similarity(a, b), Similarity(b, a); got1 != got2 {
		t.Errorf("Similarity not symmetric: %v vs %v", got1, got2)
	}
}

func TestSimilarityCrossVenueTitles(t *testing.T) {
	t.Parallel()
	a := Normalize("Will BTC hit $100k by 12/31/2024?", "")
	b := Normalize("Will Bitcoin reach $100k in 2024?", "")

	score := Similarity(a, b)
	if score < 0.85 {
		t.Errorf("composite score = %v, want >= 0.85", score)
	}
	conf := types.ConfidenceFor(score)
	if conf != types.ConfidenceMedium && conf != types.ConfidenceHigh {
		t.Errorf("confidence = %v, want medium or high", conf)
	}
}

func TestDateSimilarityBoundary(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, time.December, 31, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		b    time.Time
		want float64
	}{
		{"23h59m apart", base.Add(23*time.Hour + 59*time.Minute), 1.0},
		{"24h01m apart", base.Add(24*time.Hour + time.Minute), 0.0},
		{"exactly 24h apart", base.Add(24 * time.Hour), 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := dateSimilarity([]time.Time{base}, []time.Time{tc.b})
			if got != tc.want {
				t.Errorf("dateSimilarity = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDateSimilarityEmptyBothSides(t *testing.T) {
	t.Parallel()
	if got := dateSimilarity(nil, nil); got != 1.0 {
		t.Errorf("dateSimilarity(nil, nil) = %v, want 1.0", got)
	}
}

func TestDateSimilarityOneSidedEmpty(t *testing.T) {
	t.Parallel()
	dates := []time.Time{time.Now()}
	if got := dateSimilarity(dates, nil); got != 0.5 {
		t.Errorf("dateSimilarity one-sided = %v, want 0.5", got)
	}
}

func TestJaccardSimilarityBoundaries(t *testing.T) {
	t.Parallel()
	if got := jaccardSimilarity(nil, nil); got != 1.0 {
		t.Errorf("jaccard(nil, nil) = %v, want 1.0", got)
	}
	if got := jaccardSimilarity([]string{"btc", "price"}, []string{"eth", "price"}); got <= 0 || got >= 1 {
		t.Errorf("partial overlap jaccard = %v, want in (0,1)", got)
	}
}

func TestLevenshteinSimilarityIdentical(t *testing.T) {
	t.Parallel()
	if got := levenshteinSimilarity("hello world", "hello world"); got != 1.0 {
		t.Errorf("levenshteinSimilarity identical = %v, want 1.0", got)
	}
}
