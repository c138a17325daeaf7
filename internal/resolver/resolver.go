package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"arb-engine/internal/errs"
	"arb-engine/internal/types"
)

// MappingStore is the persistence contract the Resolver needs. Defined
// here, consumer-side, so internal/store can implement it without resolver
// depending on store.
type MappingStore interface {
	// GetByCanonicalID returns the existing mapping, if any.
	GetByCanonicalID(ctx context.Context, canonicalID string) (types.CanonicalMarket, bool, error)
	// Upsert persists cm: if cm.CanonicalID already exists, venue id fields
	// and similarity are updated, but the title is left unchanged unless
	// the persisted title is empty. Otherwise cm is inserted.
	Upsert(ctx context.Context, cm types.CanonicalMarket) error
	// ListAll returns every known canonical mapping, used by the detector's
	// subscription bootstrap.
	ListAll(ctx context.Context) ([]types.CanonicalMarket, error)
}

// Resolver implements the Market Identity Resolver.
type Resolver struct {
	store               MappingStore
	similarityThreshold float64
	logger              *slog.Logger

	// nowSuffix produces the canonical-id collision-breaking suffix.
	// Isolated behind a field so the wall-clock suffix can be swapped for
	// a content hash without touching the matching algorithm.
	nowSuffix func() string
}

// New constructs a Resolver. similarityThreshold is the configured minimum
// match score.
func New(store MappingStore, similarityThreshold float64, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:               store,
		similarityThreshold: similarityThreshold,
		logger:              logger.With("component", "resolver"),
		nowSuffix:           defaultNowSuffix,
	}
}

func defaultNowSuffix() string {
	return fmt.Sprintf("%x", time.Now().UnixNano())
}

// candidate pairs a VenueMarket with its precomputed normalization, so the
// O(n*m) matching loop below doesn't re-normalize the same market
// repeatedly.
type candidate struct {
	market types.VenueMarket
	norm   Normalized
}

// Sync runs one market-sync pass: fuzzy-match venueAMarkets against
// venueBMarkets and persist the resulting CanonicalMarket set. It is not
// used on the hot path; call on a periodic trigger or from
// POST /api/markets/sync.
func (r *Resolver) Sync(ctx context.Context, venueAMarkets, venueBMarkets []types.VenueMarket) ([]types.CanonicalMarket, error) {
	if len(venueAMarkets) == 0 && len(venueBMarkets) == 0 {
		return nil, errs.New(errs.MatchingError, "no markets from either venue")
	}

	aCandidates := normalizeAll(venueAMarkets)
	bCandidates := normalizeAll(venueBMarkets)

	matched := make([]bool, len(bCandidates))
	results := make([]types.CanonicalMarket, 0, len(aCandidates))

	for _, a := range aCandidates {
		bestIdx := -1
		bestScore := 0.0

		for j, b := range bCandidates {
			if matched[j] {
				continue
			}
			score := Similarity(a.norm, b.norm)
			if score > bestScore {
				bestScore = score
				bestIdx = j
			}
		}

		if bestIdx == -1 || bestScore < r.similarityThreshold {
			continue
		}
		matched[bestIdx] = true

		b := bCandidates[bestIdx]
		title := a.market.Title
		if len(b.market.Title) < len(title) {
			title = b.market.Title
		}

		cm := types.CanonicalMarket{
			CanonicalID:     r.canonicalID(a, b),
			Title:           title,
			VenueAMarketID:  a.market.VenueMarketID,
			VenueBMarketID:  b.market.VenueMarketID,
			SimilarityScore: bestScore,
			Confidence:      types.ConfidenceFor(bestScore),
			UpdatedAt:       time.Now(),
		}
		results = append(results, cm)
	}

	for _, cm := range results {
		if err := r.store.Upsert(ctx, cm); err != nil {
			return nil, errs.Wrap(errs.DataStoreError, "upsert canonical mapping", err)
		}
	}

	r.logger.Info("market sync complete",
		"venue_a_markets", len(venueAMarkets),
		"venue_b_markets", len(venueBMarkets),
		"matched", len(results),
	)

	return results, nil
}

func normalizeAll(markets []types.VenueMarket) []candidate {
	out := make([]candidate, 0, len(markets))
	for _, m := range markets {
		out = append(out, candidate{market: m, norm: Normalize(m.Title, m.Description)})
	}
	return out
}

// canonicalID derives the id from the normalized title of the shorter
// side (by title length), whitespace replaced with '-', truncated to 50
// characters, suffixed with a collision-breaking component. A fresh id is
// minted on every sync; updates then land via the Upsert existence check.
func (r *Resolver) canonicalID(a, b candidate) string {
	shorter := a.market.Title
	if len(b.market.Title) < len(shorter) {
		shorter = b.market.Title
	}

	norm := Normalize(shorter, "")
	slug := strings.ReplaceAll(norm.Text, " ", "-")
	if len(slug) > 50 {
		slug = slug[:50]
	}
	if slug == "" {
		slug = "market"
	}

	return slug + "-" + r.nowSuffix()
}
