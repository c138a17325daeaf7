package resolver

import "arb-engine/internal/types"

// Index is a read-only, point-in-time view of the canonical mapping set,
// keyed for the detector's lookups on both venue_a_market_id and
// venue_b_market_id. Writers (the Resolver, after a Sync) publish a new
// Index wholesale rather than mutate one in place.
type Index struct {
	byVenueA map[string]types.CanonicalMarket
	byVenueB map[string]types.CanonicalMarket
	all      []types.CanonicalMarket
}

// BuildIndex constructs an Index from a flat mapping list, e.g. the result
// of Resolver.Sync or MappingStore.ListAll.
func BuildIndex(mappings []types.CanonicalMarket) *Index {
	idx := &Index{
		byVenueA: make(map[string]types.CanonicalMarket, len(mappings)),
		byVenueB: make(map[string]types.CanonicalMarket, len(mappings)),
		all:      mappings,
	}
	for _, cm := range mappings {
		if cm.VenueAMarketID != "" {
			idx.byVenueA[cm.VenueAMarketID] = cm
		}
		if cm.VenueBMarketID != "" {
			idx.byVenueB[cm.VenueBMarketID] = cm
		}
	}
	return idx
}

// Lookup finds the CanonicalMarket for a (venue, venue_market_id) pair.
func (idx *Index) Lookup(venue types.Venue, venueMarketID string) (types.CanonicalMarket, bool) {
	if idx == nil {
		return types.CanonicalMarket{}, false
	}
	if venue == types.VenueA {
		cm, ok := idx.byVenueA[venueMarketID]
		return cm, ok
	}
	cm, ok := idx.byVenueB[venueMarketID]
	return cm, ok
}

// All returns every mapping in this snapshot.
func (idx *Index) All() []types.CanonicalMarket {
	if idx == nil {
		return nil
	}
	return idx.all
}
