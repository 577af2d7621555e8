// Package binanceclient implements the ports.MarketData interface on top of
// Binance spot ticker endpoints. The simulation only reads prices; no orders
// ever reach the exchange.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aiInvestSim/internal/domain"
	"aiInvestSim/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
)

// defaultSymbolMap translates the asset identifiers the decision source uses
// into Binance ticker symbols. Unknown assets fall back to UPPER(asset)+"USDT".
var defaultSymbolMap = map[string]string{
	"bitcoin":  "BTCUSDT",
	"btc":      "BTCUSDT",
	"ethereum": "ETHUSDT",
	"eth":      "ETHUSDT",
	"solana":   "SOLUSDT",
	"sol":      "SOLUSDT",
	"ripple":   "XRPUSDT",
	"xrp":      "XRPUSDT",
	"dogecoin": "DOGEUSDT",
	"doge":     "DOGEUSDT",
	"cardano":  "ADAUSDT",
	"ada":      "ADAUSDT",
	"bnb":      "BNBUSDT",
}

// Client implements the ports.MarketData interface using the go-binance library.
type Client struct {
	spotClient *binance.Client
	logger     ports.Logger
	symbolMap  map[string]string
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey    string
	SecretKey string
	Logger    ports.Logger
	SymbolMap map[string]string // Extra asset-to-symbol overrides, optional
}

// New creates a new Binance market data adapter. Price endpoints are public,
// so empty API keys are fine.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	symbolMap := make(map[string]string, len(defaultSymbolMap)+len(cfg.SymbolMap))
	for asset, symbol := range defaultSymbolMap {
		symbolMap[asset] = symbol
	}
	for asset, symbol := range cfg.SymbolMap {
		symbolMap[strings.ToLower(asset)] = symbol
	}

	return &Client{
		spotClient: binance.NewClient(cfg.APIKey, cfg.SecretKey),
		logger:     cfg.Logger,
		symbolMap:  symbolMap,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1100, -1101, -1102, -1121: // Parameter errors, invalid symbol
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrMarketData
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrMarketData, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// symbolFor resolves the ticker symbol for an asset identifier.
func (c *Client) symbolFor(asset string) string {
	if symbol, ok := c.symbolMap[strings.ToLower(asset)]; ok {
		return symbol
	}
	return strings.ToUpper(asset) + "USDT"
}

// GetPrice retrieves the current spot price for a single asset.
func (c *Client) GetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	op := "GetPrice"
	symbol := c.symbolFor(asset)

	tickers, err := c.spotClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no ticker returned for %s (%s)", ports.ErrPriceUnavailable, asset, symbol)
	}

	price, err := decimal.NewFromString(tickers[0].Price)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", tickers[0].Price, err), op)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: zero price returned for %s (%s)", ports.ErrPriceUnavailable, asset, symbol)
	}
	return price, nil
}

// GetPrices retrieves current spot prices for a set of assets in one call.
// Every requested asset must resolve to a positive price.
func (c *Client) GetPrices(ctx context.Context, assets []string) (domain.PriceMap, error) {
	op := "GetPrices"
	if len(assets) == 0 {
		return domain.PriceMap{}, nil
	}

	symbols := make([]string, 0, len(assets))
	assetBySymbol := make(map[string]string, len(assets))
	for _, asset := range assets {
		symbol := c.symbolFor(asset)
		symbols = append(symbols, symbol)
		assetBySymbol[symbol] = asset
	}

	tickers, err := c.spotClient.NewListPricesService().Symbols(symbols).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	prices := make(domain.PriceMap, len(assets))
	for _, ticker := range tickers {
		asset, ok := assetBySymbol[ticker.Symbol]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(ticker.Price)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("could not parse price '%s' for %s: %w", ticker.Price, asset, err), op)
		}
		if price.IsPositive() {
			prices[asset] = price
		}
	}

	for _, asset := range assets {
		if _, ok := prices[asset]; !ok {
			return nil, fmt.Errorf("%w: no usable price for %s (%s)", ports.ErrPriceUnavailable, asset, c.symbolFor(asset))
		}
	}

	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"assets": len(assets)})
	return prices, nil
}
