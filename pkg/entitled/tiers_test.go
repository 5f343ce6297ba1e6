package entitled_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrykit/entitled/pkg/entitled"
)

func TestNewCatalog(t *testing.T) {
	_, err := entitled.NewCatalog(nil, nil)
	assert.Error(t, err, "empty catalog")

	_, err = entitled.NewCatalog(map[string]entitled.TierConfig{
		"pro": {MonthlyCredits: 100},
	}, nil)
	assert.Error(t, err, "catalog without free tier")

	_, err = entitled.NewCatalog(map[string]entitled.TierConfig{
		"free":     {},
		"platinum": {MonthlyCredits: 1000},
	}, nil)
	assert.Error(t, err, "tier missing from precedence order")
}

func TestCatalog_Precedence(t *testing.T) {
	catalog := testCatalog(t)

	assert.Greater(t, catalog.Rank("premium"), catalog.Rank("pro"))
	assert.Greater(t, catalog.Rank("pro"), catalog.Rank("adfree"))
	assert.Equal(t, -1, catalog.Rank("unknown"))
	assert.Equal(t, "adfree", catalog.LowestPaidTier())
	assert.Equal(t, "premium", catalog.HighestTier([]string{"adfree", "premium", "pro"}))
	assert.Empty(t, catalog.HighestTier([]string{"unknown"}))
}

func TestNewPriceMap_ValidatesTiers(t *testing.T) {
	catalog := testCatalog(t)

	_, err := entitled.NewPriceMap(map[string]string{"price_x": "platinum"}, catalog)
	assert.ErrorIs(t, err, entitled.ErrInvalidTier)
}

func TestPriceMap_Resolve(t *testing.T) {
	catalog := testCatalog(t)
	pm, err := entitled.NewPriceMap(map[string]string{
		"price_pro_monthly":     "pro",
		"price_premium_monthly": "premium",
	}, catalog)
	require.NoError(t, err)

	tier, err := pm.Resolve("price_pro_monthly")
	assert.NoError(t, err)
	assert.Equal(t, "pro", tier)

	// Lookups are case-insensitive.
	tier, err = pm.Resolve("PRICE_PREMIUM_MONTHLY")
	assert.NoError(t, err)
	assert.Equal(t, "premium", tier)

	_, err = pm.Resolve("price_unknown")
	var unmapped *entitled.UnmappedPriceError
	require.ErrorAs(t, err, &unmapped)
	assert.Equal(t, "price_unknown", unmapped.PriceRef)
	assert.Len(t, unmapped.KnownRefs, 2)
}
