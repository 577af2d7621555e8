package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"aiInvestSim/internal/domain"
)

// MarketData defines the interface to the external price-data collaborator.
// A missing or failed quote must surface as an error, never as a zero price.
type MarketData interface {
	// GetPrice retrieves the current price for a single asset.
	GetPrice(ctx context.Context, asset string) (decimal.Decimal, error)

	// GetPrices retrieves current prices for the given assets in one call.
	// Assets without a quote are absent from the result and reported in err
	// only if nothing could be fetched at all.
	GetPrices(ctx context.Context, assets []string) (domain.PriceMap, error)
}
