package resolver

import (
	"testing"
	"time"
)

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()
	cases := []string{
		"Will BTC hit $100k by 12/31/2024?",
		"  Messy   Whitespace -- And Punctuation!!  ",
		"",
	}
	for _, s := range cases {
		first := Normalize(s, "")
		second := Normalize(first.Text, "")
		if first.Text != second.Text {
			t.Errorf("Normalize not idempotent for %q: %q vs %q", s, first.Text, second.Text)
		}
	}
}

func TestNormalizeDropsShortAndNumericTokens(t *testing.T) {
	t.Parallel()
	n := Normalize("Will it hit 100000 by 2024 ok", "")
	for _, tok := range n.Tokens {
		if len(tok) <= 2 {
			t.Errorf("token %q should have been dropped (len <= 2)", tok)
		}
		if isPurelyNumeric(tok) {
			t.Errorf("token %q should have been dropped (purely numeric)", tok)
		}
	}
}

func TestExtractDatesThreePatterns(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		text string
		want time.Time
	}{
		{"slash", "resolves on 12/31/2024 at noon", time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)},
		{"iso", "resolves on 2024-12-31 at noon", time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)},
		{"month", "resolves on dec 31, 2024 at noon", time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := Normalize(tc.text, "")
			if len(n.Dates) != 1 {
				t.Fatalf("expected 1 date, got %d: %v", len(n.Dates), n.Dates)
			}
			if !n.Dates[0].Equal(tc.want) {
				t.Errorf("got %v, want %v", n.Dates[0], tc.want)
			}
		})
	}
}

func TestExtractDatesDiscardsUnparseable(t *testing.T) {
	t.Parallel()
	n := Normalize("resolves on 02/30/2024", "")
	if len(n.Dates) != 0 {
		t.Errorf("expected unparseable date to be discarded, got %v", n.Dates)
	}
}
