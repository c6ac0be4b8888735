package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	engerrors "github.com/ducminhle1904/virtual-autotrader/internal/errors"
)

// BybitConfig holds the configuration for the Bybit price source
type BybitConfig struct {
	Testnet  bool
	Quote    string // appended to base symbols, e.g. ETH -> ETHUSDT
	Category string // spot, linear, inverse
}

// BybitSource reads last-traded prices from public Bybit market tickers
type BybitSource struct {
	httpClient *bybit_api.Client
	quote      string
	category   string
	testnet    bool
}

// NewBybitSource creates a ticker-backed source. Market data endpoints are
// public, so no API credentials are needed.
func NewBybitSource(config BybitConfig) *BybitSource {
	baseURL := bybit_api.MAINNET
	if config.Testnet {
		baseURL = bybit_api.TESTNET
	}
	if config.Quote == "" {
		config.Quote = "USDT"
	}
	if config.Category == "" {
		config.Category = "spot"
	}

	return &BybitSource{
		httpClient: bybit_api.NewBybitHttpClient("", "", bybit_api.WithBaseURL(baseURL)),
		quote:      strings.ToUpper(config.Quote),
		category:   config.Category,
		testnet:    config.Testnet,
	}
}

// Environment returns "testnet" or "mainnet"
func (b *BybitSource) Environment() string {
	if b.testnet {
		return "testnet"
	}
	return "mainnet"
}

// MarketSymbol maps a signal symbol onto the exchange pair
func (b *BybitSource) MarketSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(symbol, b.quote) {
		return symbol
	}
	return symbol + b.quote
}

// Price gets the latest price for symbol
func (b *BybitSource) Price(ctx context.Context, symbol string) (float64, error) {
	params := map[string]interface{}{
		"category": b.category,
		"symbol":   b.MarketSymbol(symbol),
	}

	result, err := b.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return 0, engerrors.NewFetchError("pricing", "price", fmt.Errorf("failed to get latest price: %w", err))
	}

	price, err := parseTickerResponse(result)
	if err != nil {
		return 0, engerrors.NewFetchError("pricing", "price", fmt.Errorf("failed to parse price response: %w", err))
	}
	return price, nil
}

// parseTickerResponse extracts lastPrice of the first ticker
func parseTickerResponse(response interface{}) (float64, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return 0, fmt.Errorf("invalid response type")
	}

	if serverResp.RetCode != 0 {
		return 0, fmt.Errorf("API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode)
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal result: %w", err)
	}

	var tickerResult struct {
		Category string `json:"category"`
		List     []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &tickerResult); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ticker result: %w", err)
	}

	if len(tickerResult.List) == 0 {
		return 0, fmt.Errorf("no ticker data found")
	}

	price, err := strconv.ParseFloat(tickerResult.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid last price %q: %w", tickerResult.List[0].LastPrice, err)
	}
	return price, nil
}
