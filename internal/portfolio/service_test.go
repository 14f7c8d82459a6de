package portfolio

import (
	"context"
	"testing"
	"time"

	"cryptoPilot/internal/domain"
	"cryptoPilot/internal/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
func (m *mockLogger) Fatal(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// memRepo is an in-memory ports.PortfolioRepository.
type memRepo struct {
	nextID     int64
	portfolios map[int64]*domain.Portfolio
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, portfolios: make(map[int64]*domain.Portfolio)}
}

func (r *memRepo) CreatePortfolio(ctx context.Context, p *domain.Portfolio) (int64, error) {
	p.ID = r.nextID
	r.nextID++
	cp := *p
	r.portfolios[p.ID] = &cp
	return p.ID, nil
}

func (r *memRepo) UpdatePortfolio(ctx context.Context, p *domain.Portfolio) error {
	stored, ok := r.portfolios[p.ID]
	if !ok {
		return ports.ErrNotFound
	}
	stored.Name = p.Name
	stored.BaseCurrency = p.BaseCurrency
	stored.UpdatedAt = p.UpdatedAt
	return nil
}

func (r *memRepo) DeletePortfolio(ctx context.Context, id int64) error {
	if _, ok := r.portfolios[id]; !ok {
		return ports.ErrNotFound
	}
	delete(r.portfolios, id)
	return nil
}

func (r *memRepo) FindPortfolioByID(ctx context.Context, id int64) (*domain.Portfolio, error) {
	p, ok := r.portfolios[id]
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (r *memRepo) FindAllPortfolios(ctx context.Context) ([]*domain.Portfolio, error) {
	out := make([]*domain.Portfolio, 0, len(r.portfolios))
	for _, p := range r.portfolios {
		out = append(out, p)
	}
	return out, nil
}

func (r *memRepo) UpsertHolding(ctx context.Context, h *domain.Holding) error {
	p, ok := r.portfolios[h.PortfolioID]
	if !ok {
		return ports.ErrNotFound
	}
	for _, existing := range p.Holdings {
		if existing.Asset == h.Asset {
			existing.Amount = h.Amount
			existing.CostBasis = h.CostBasis
			existing.UpdatedAt = h.UpdatedAt
			return nil
		}
	}
	cp := *h
	p.Holdings = append(p.Holdings, &cp)
	return nil
}

func (r *memRepo) DeleteHolding(ctx context.Context, portfolioID int64, asset string) error {
	p, ok := r.portfolios[portfolioID]
	if !ok {
		return ports.ErrNotFound
	}
	for i, h := range p.Holdings {
		if h.Asset == asset {
			p.Holdings = append(p.Holdings[:i], p.Holdings[i+1:]...)
			return nil
		}
	}
	return ports.ErrNotFound
}

// mockMarket serves quotes from a fixed price table and counts calls.
type mockMarket struct {
	prices map[string]float64
	calls  int
}

func (m *mockMarket) GetQuote(ctx context.Context, asset, currency string) (*ports.Quote, error) {
	quotes, err := m.GetQuotes(ctx, []string{asset}, currency)
	if err != nil {
		return nil, err
	}
	q, ok := quotes[asset]
	if !ok {
		return nil, ports.ErrQuoteUnavailable
	}
	return q, nil
}

func (m *mockMarket) GetQuotes(ctx context.Context, assets []string, currency string) (map[string]*ports.Quote, error) {
	m.calls++
	out := make(map[string]*ports.Quote)
	for _, asset := range assets {
		price, ok := m.prices[asset]
		if !ok {
			continue
		}
		out[asset] = &ports.Quote{Asset: asset, Currency: currency, Price: price, FetchedAt: time.Now().UTC()}
	}
	return out, nil
}

// mockCache is a map-backed ports.QuoteCache.
type mockCache struct {
	entries map[string]*ports.Quote
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]*ports.Quote)}
}

func (c *mockCache) Get(ctx context.Context, asset, currency string) (*ports.Quote, error) {
	q, ok := c.entries[asset+":"+currency]
	if !ok {
		return nil, ports.ErrCacheMiss
	}
	return q, nil
}

func (c *mockCache) Put(ctx context.Context, quote *ports.Quote) error {
	c.entries[quote.Asset+":"+quote.Currency] = quote
	return nil
}

func newTestService(t *testing.T, market *mockMarket, cache *mockCache) (*Service, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	cfg := Config{
		Repo:   repo,
		Market: market,
		Logger: &mockLogger{},
	}
	// A nil *mockCache must stay a nil interface, not a typed nil.
	if cache != nil {
		cfg.Cache = cache
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)
	return svc, repo
}

func TestService_CreateRenameDelete(t *testing.T) {
	svc, _ := newTestService(t, &mockMarket{}, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, "  Main  ", "usdt")
	require.NoError(t, err)
	assert.Equal(t, "Main", p.Name)
	assert.Equal(t, "USDT", p.BaseCurrency)
	assert.NotZero(t, p.ID)

	_, err = svc.Create(ctx, "   ", "USDT")
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	renamed, err := svc.Rename(ctx, p.ID, "Primary")
	require.NoError(t, err)
	assert.Equal(t, "Primary", renamed.Name)

	require.NoError(t, svc.Delete(ctx, p.ID))
	_, err = svc.Get(ctx, p.ID)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestService_SetHolding(t *testing.T) {
	svc, _ := newTestService(t, &mockMarket{}, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, "Main", "USDT")
	require.NoError(t, err)

	require.NoError(t, svc.SetHolding(ctx, p.ID, "eth", decimal.NewFromFloat(2.5), decimal.NewFromInt(1800)))

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Holdings, 1)
	assert.Equal(t, "ETH", got.Holdings[0].Asset)
	assert.True(t, got.Holdings[0].Amount.Equal(decimal.NewFromFloat(2.5)))

	err = svc.SetHolding(ctx, p.ID, "ETH", decimal.NewFromInt(-1), decimal.Zero)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	err = svc.SetHolding(ctx, 999, "ETH", decimal.NewFromInt(1), decimal.Zero)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestService_ApplyFill(t *testing.T) {
	svc, _ := newTestService(t, &mockMarket{}, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, "Main", "USDT")
	require.NoError(t, err)

	// First buy establishes the position.
	require.NoError(t, svc.ApplyFill(ctx, p.ID, "ETH", domain.Buy, decimal.NewFromInt(2), decimal.NewFromInt(2000)))
	// Second buy at a different price blends the basis: (2*2000 + 2*3000) / 4 = 2500.
	require.NoError(t, svc.ApplyFill(ctx, p.ID, "ETH", domain.Buy, decimal.NewFromInt(2), decimal.NewFromInt(3000)))

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	h := got.FindHolding("ETH")
	require.NotNil(t, h)
	assert.True(t, h.Amount.Equal(decimal.NewFromInt(4)), "amount %s", h.Amount)
	assert.True(t, h.CostBasis.Equal(decimal.NewFromInt(2500)), "basis %s", h.CostBasis)

	// Selling more than held is rejected.
	err = svc.ApplyFill(ctx, p.ID, "ETH", domain.Sell, decimal.NewFromInt(5), decimal.NewFromInt(2600))
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)

	// Selling the full balance removes the holding.
	require.NoError(t, svc.ApplyFill(ctx, p.ID, "ETH", domain.Sell, decimal.NewFromInt(4), decimal.NewFromInt(2600)))
	got, err = svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.FindHolding("ETH"))
}

func TestService_Value(t *testing.T) {
	market := &mockMarket{prices: map[string]float64{"ETH": 2000, "BTC": 60000}}
	cache := newMockCache()
	svc, _ := newTestService(t, market, cache)
	ctx := context.Background()

	p, err := svc.Create(ctx, "Main", "USDT")
	require.NoError(t, err)
	require.NoError(t, svc.SetHolding(ctx, p.ID, "ETH", decimal.NewFromInt(2), decimal.NewFromInt(1500)))
	require.NoError(t, svc.SetHolding(ctx, p.ID, "BTC", decimal.NewFromFloat(0.5), decimal.NewFromInt(50000)))

	v, err := svc.Value(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, v.Holdings, 2)

	// 2*2000 + 0.5*60000 = 34000
	assert.True(t, v.Total.Equal(decimal.NewFromInt(34000)), "total %s", v.Total)
	// 2*1500 + 0.5*50000 = 28000
	assert.True(t, v.CostBasis.Equal(decimal.NewFromInt(28000)), "cost %s", v.CostBasis)
	assert.True(t, v.Unrealized.Equal(decimal.NewFromInt(6000)), "pnl %s", v.Unrealized)
	assert.Equal(t, 1, market.calls)

	// Second valuation is served from the cache.
	_, err = svc.Value(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, market.calls)
}

func TestService_Value_QuoteUnavailable(t *testing.T) {
	market := &mockMarket{prices: map[string]float64{"ETH": 2000}}
	svc, _ := newTestService(t, market, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, "Main", "USDT")
	require.NoError(t, err)
	require.NoError(t, svc.SetHolding(ctx, p.ID, "OBSCURECOIN", decimal.NewFromInt(10), decimal.Zero))

	_, err = svc.Value(ctx, p.ID)
	assert.ErrorIs(t, err, ports.ErrQuoteUnavailable)
}

func TestService_Value_EmptyPortfolio(t *testing.T) {
	market := &mockMarket{}
	svc, _ := newTestService(t, market, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, "Empty", "USDT")
	require.NoError(t, err)

	v, err := svc.Value(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, v.Total.IsZero())
	assert.Empty(t, v.Holdings)
	assert.Equal(t, 0, market.calls)
}
