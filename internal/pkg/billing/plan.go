package billing

import "strings"

// Product identifiers sold through the app stores.
const (
	ProductWeekly = "rockid_weekly_399"
	ProductAnnual = "rockid_annual_4999"
)

// tokensByProduct maps a store product id to the token count granted per
// purchase or renewal. Unknown ids map to 0; the subscription flags are still
// set for those so subscription-only products keep working.
var tokensByProduct = map[string]int{
	ProductWeekly: 200,
	ProductAnnual: 4000,
}

// TokensForProduct returns the token grant for a product id and whether the
// product is known.
func TokensForProduct(productID string) (int, bool) {
	tokens, ok := tokensByProduct[strings.TrimSpace(productID)]
	return tokens, ok
}
