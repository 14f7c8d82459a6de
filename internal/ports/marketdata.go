package ports

import (
	"context"
	"time"
)

// Quote is a spot price snapshot for a single asset in a quote currency.
type Quote struct {
	Asset         string    // Asset symbol (e.g., "ETH")
	Currency      string    // Quote currency (e.g., "USDT")
	Price         float64   // Last traded price
	Change24hPct  float64   // 24h price change, percent
	Volume24h     float64   // 24h traded volume in the quote currency
	MarketCapRank int       // Provider market-cap rank (0 if unknown)
	FetchedAt     time.Time // When the quote was fetched from the provider
}

// MarketDataProvider supplies spot quotes for portfolio valuation and
// advisor market snapshots. Implementations are expected to rate-limit
// themselves against the upstream API.
type MarketDataProvider interface {
	// GetQuote fetches the current quote for a single asset.
	GetQuote(ctx context.Context, asset, currency string) (*Quote, error)
	// GetQuotes fetches quotes for several assets in one call where the
	// provider supports batching.
	GetQuotes(ctx context.Context, assets []string, currency string) (map[string]*Quote, error)
}

// QuoteCache caches quotes between poll cycles so valuation reads do not hit
// the upstream provider.
type QuoteCache interface {
	// Get returns the cached quote for an asset or ErrCacheMiss.
	Get(ctx context.Context, asset, currency string) (*Quote, error)
	// Put stores a quote under the provider TTL.
	Put(ctx context.Context, quote *Quote) error
}
