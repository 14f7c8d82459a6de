package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"cryptoPilot/internal/ports"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// Client implements ports.MarketDataProvider against the CoinGecko REST API.
// Requests are rate limited client-side; the free tier tolerates roughly one
// request per second.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     ports.Logger

	idMapMu sync.RWMutex
	idMap   map[string]string // upper-case symbol -> coingecko coin id
}

// Config holds configuration for the CoinGecko client.
type Config struct {
	BaseURL         string
	APIKey          string // Optional demo/pro key
	RateLimitPerSec float64
	RateLimitBurst  int
	RequestTimeout  time.Duration
	Logger          ports.Logger
}

type cgMarketData struct {
	ID                       string  `json:"id"`
	Symbol                   string  `json:"symbol"`
	CurrentPrice             float64 `json:"current_price"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	TotalVolume              float64 `json:"total_volume"`
	MarketCapRank            int     `json:"market_cap_rank"`
}

type cgCoinListEntry struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// New creates a CoinGecko market data client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for CoinGecko client")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rps := cfg.RateLimitPerSec
	if rps <= 0 {
		rps = 1.0
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     cfg.Logger,
		idMap:      defaultIDMap(),
	}
	cfg.Logger.Info(context.Background(), "CoinGecko client initialized", map[string]interface{}{"baseURL": c.baseURL, "rateLimitPerSec": rps})
	return c, nil
}

// defaultIDMap seeds the symbol-to-id mapping with majors so the client works
// without a /coins/list call. RefreshIDMap extends it.
func defaultIDMap() map[string]string {
	return map[string]string{
		"BTC":   "bitcoin",
		"ETH":   "ethereum",
		"BNB":   "binancecoin",
		"SOL":   "solana",
		"XRP":   "ripple",
		"ADA":   "cardano",
		"DOGE":  "dogecoin",
		"DOT":   "polkadot",
		"AVAX":  "avalanche-2",
		"LINK":  "chainlink",
		"MATIC": "matic-network",
		"LTC":   "litecoin",
		"USDT":  "tether",
		"USDC":  "usd-coin",
	}
}

// request performs a rate-limited GET and decodes the JSON response.
func (c *Client) request(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait for %s: %w", endpoint, err)
	}

	fullURL := c.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request to %s: %v", ports.ErrQuoteUnavailable, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: coingecko %s", ports.ErrRateLimited, endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: coingecko %s returned status %d", ports.ErrQuoteUnavailable, endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return nil
}

// RefreshIDMap reloads the full symbol-to-id mapping from /coins/list.
// Symbols already mapped keep their existing id so majors do not get
// shadowed by obscure coins reusing the same ticker.
func (c *Client) RefreshIDMap(ctx context.Context) error {
	var entries []cgCoinListEntry
	if err := c.request(ctx, "/coins/list", nil, &entries); err != nil {
		return fmt.Errorf("failed to refresh coin ID map: %w", err)
	}

	c.idMapMu.Lock()
	defer c.idMapMu.Unlock()
	added := 0
	for _, e := range entries {
		sym := strings.ToUpper(e.Symbol)
		if _, exists := c.idMap[sym]; !exists {
			c.idMap[sym] = e.ID
			added++
		}
	}
	c.logger.Info(ctx, "CoinGecko ID map refreshed", map[string]interface{}{"total": len(c.idMap), "added": added})
	return nil
}

func (c *Client) coinID(asset string) (string, error) {
	c.idMapMu.RLock()
	defer c.idMapMu.RUnlock()
	id, ok := c.idMap[strings.ToUpper(asset)]
	if !ok {
		return "", fmt.Errorf("%w: no CoinGecko id known for asset %s", ports.ErrQuoteUnavailable, asset)
	}
	return id, nil
}

// vsCurrency maps a quote currency to CoinGecko's vs_currency values.
// Dollar-pegged stables are valued in USD.
func vsCurrency(currency string) string {
	switch strings.ToUpper(currency) {
	case "USDT", "USDC", "BUSD", "DAI", "":
		return "usd"
	default:
		return strings.ToLower(currency)
	}
}

// GetQuote fetches the current quote for a single asset.
func (c *Client) GetQuote(ctx context.Context, asset, currency string) (*ports.Quote, error) {
	quotes, err := c.GetQuotes(ctx, []string{asset}, currency)
	if err != nil {
		return nil, err
	}
	quote, ok := quotes[strings.ToUpper(asset)]
	if !ok {
		return nil, fmt.Errorf("%w: no market data returned for %s", ports.ErrQuoteUnavailable, asset)
	}
	return quote, nil
}

// GetQuotes fetches quotes for several assets in one /coins/markets call.
func (c *Client) GetQuotes(ctx context.Context, assets []string, currency string) (map[string]*ports.Quote, error) {
	if len(assets) == 0 {
		return map[string]*ports.Quote{}, nil
	}

	ids := make([]string, 0, len(assets))
	idToSymbol := make(map[string]string, len(assets))
	for _, asset := range assets {
		id, err := c.coinID(asset)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		idToSymbol[id] = strings.ToUpper(asset)
	}

	params := url.Values{}
	params.Set("vs_currency", vsCurrency(currency))
	params.Set("ids", strings.Join(ids, ","))

	var markets []cgMarketData
	if err := c.request(ctx, "/coins/markets", params, &markets); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	quotes := make(map[string]*ports.Quote, len(markets))
	for _, m := range markets {
		symbol, ok := idToSymbol[m.ID]
		if !ok {
			continue
		}
		quotes[symbol] = &ports.Quote{
			Asset:         symbol,
			Currency:      strings.ToUpper(currency),
			Price:         m.CurrentPrice,
			Change24hPct:  m.PriceChangePercentage24h,
			Volume24h:     m.TotalVolume,
			MarketCapRank: m.MarketCapRank,
			FetchedAt:     now,
		}
	}
	c.logger.Debug(ctx, "Fetched quotes", map[string]interface{}{"requested": len(assets), "returned": len(quotes)})
	return quotes, nil
}
