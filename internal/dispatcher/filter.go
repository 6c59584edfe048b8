package dispatcher

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/optimizer"
)

// Results on small inputs that return more than five times the input are
// treated as quoting artifacts.
const (
	sanityMaxRatio   = 5
	sanityInputFloor = 10_000_000
)

var one = decimal.NewFromInt(1)

// priceOK reports whether the product of the hop spot prices clears
// 1 + threshold. Routes referencing a venue missing from src fail.
func priceOK(route domain.Route, src optimizer.VenueSource, threshold decimal.Decimal) bool {
	product := one
	for _, e := range route.Edges {
		v, ok := src.Venue(e.Venue)
		if !ok || v.Quoter == nil {
			return false
		}
		product = product.Mul(v.Quoter.SpotPrice(e.Direction))
	}
	return product.GreaterThanOrEqual(one.Add(threshold))
}

func plausible(res optimizer.Result) bool {
	if res.Amount >= sanityInputFloor {
		return true
	}
	return res.Profit <= sanityMaxRatio*res.Amount
}
