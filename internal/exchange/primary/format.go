package primary

import "github.com/shopspring/decimal"

const priceDecimals = 4

func formatPrice(price float64) string {
	return decimal.NewFromFloat(price).Round(priceDecimals).String()
}

// formatQty renders whole nominals; bonds trade in units.
func formatQty(qty float64) string {
	return decimal.NewFromFloat(qty).Truncate(0).String()
}
