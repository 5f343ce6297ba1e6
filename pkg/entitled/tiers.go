package entitled

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultTierOrder is the default tier precedence, lowest first.
var DefaultTierOrder = []string{TierFree, "adfree", "pro", "premium"}

// Catalog is the static tier configuration, built once from deployment
// configuration and injected wherever tiers are resolved. It is read-only
// after construction.
type Catalog struct {
	tiers map[string]TierConfig
	rank  map[string]int
	order []string
}

// NewCatalog builds a tier catalog. The free tier is required. order is the
// tier precedence (lowest first); if empty, DefaultTierOrder is used. Every
// configured tier must appear in the order.
func NewCatalog(tiers map[string]TierConfig, order []string) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("catalog requires at least one tier")
	}
	if _, ok := tiers[TierFree]; !ok {
		return nil, fmt.Errorf("catalog requires the %q tier", TierFree)
	}
	if len(order) == 0 {
		order = DefaultTierOrder
	}

	rank := make(map[string]int, len(order))
	for i, name := range order {
		rank[name] = i
	}
	for name := range tiers {
		if _, ok := rank[name]; !ok {
			return nil, fmt.Errorf("tier %q missing from precedence order", name)
		}
	}

	catalog := &Catalog{
		tiers: make(map[string]TierConfig, len(tiers)),
		rank:  rank,
		order: append([]string(nil), order...),
	}
	for name, tc := range tiers {
		tc.Name = name
		catalog.tiers[name] = tc
	}
	return catalog, nil
}

// Get returns the configuration for a tier.
func (c *Catalog) Get(name string) (TierConfig, bool) {
	tc, ok := c.tiers[name]
	return tc, ok
}

// Has reports whether the tier exists in the catalog.
func (c *Catalog) Has(name string) bool {
	_, ok := c.tiers[name]
	return ok
}

// Rank returns the precedence rank of a tier (higher is better), or -1 for
// a tier absent from the catalog.
func (c *Catalog) Rank(name string) int {
	if !c.Has(name) {
		return -1
	}
	return c.rank[name]
}

// LowestPaidTier returns the lowest-precedence tier above free. This is the
// trust-policy ceiling for unverified client claims.
func (c *Catalog) LowestPaidTier() string {
	for _, name := range c.order {
		if name == TierFree {
			continue
		}
		if c.Has(name) {
			return name
		}
	}
	return TierFree
}

// HighestTier returns the highest-precedence tier among candidates that
// exist in the catalog, or "" if none do.
func (c *Catalog) HighestTier(candidates []string) string {
	best := ""
	bestRank := -1
	for _, name := range candidates {
		if r := c.Rank(name); r > bestRank {
			best = name
			bestRank = r
		}
	}
	return best
}

// PriceMap maps provider price references to tier names. It is built once
// at process start and is read-only afterwards. Resolution is strict:
// unknown references are a hard error, never a default.
type PriceMap struct {
	prices map[string]string
	known  []string
}

// NewPriceMap builds a price map, validating every target tier against the
// catalog. Lookups are case-insensitive.
func NewPriceMap(prices map[string]string, catalog *Catalog) (*PriceMap, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	pm := &PriceMap{prices: make(map[string]string, len(prices))}
	for ref, tier := range prices {
		if !catalog.Has(tier) {
			return nil, fmt.Errorf("price %q maps to unknown tier %q: %w", ref, tier, ErrInvalidTier)
		}
		key := strings.ToLower(strings.TrimSpace(ref))
		if key == "" {
			return nil, fmt.Errorf("empty price reference")
		}
		pm.prices[key] = tier
		pm.known = append(pm.known, strings.TrimSpace(ref))
	}
	sort.Strings(pm.known)
	return pm, nil
}

// Resolve maps a price reference to its tier. An unknown reference returns
// an *UnmappedPriceError carrying the unresolved reference and the known
// set, so handlers can surface an operator-actionable retryable error.
func (pm *PriceMap) Resolve(ref string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(ref))
	if tier, ok := pm.prices[key]; ok {
		return tier, nil
	}
	return "", &UnmappedPriceError{PriceRef: ref, KnownRefs: pm.KnownRefs()}
}

// KnownRefs returns the configured price references, sorted.
func (pm *PriceMap) KnownRefs() []string {
	return append([]string(nil), pm.known...)
}
