package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptoPilot/internal/domain"
	"cryptoPilot/internal/ports"

	"github.com/shopspring/decimal"
)

// Service manages portfolios and their holdings and values them against
// live quotes. Valuation math is done in decimals end to end.
type Service struct {
	repo   ports.PortfolioRepository
	market ports.MarketDataProvider
	cache  ports.QuoteCache
	logger ports.Logger
}

// Config holds dependencies for the portfolio service.
type Config struct {
	Repo   ports.PortfolioRepository
	Market ports.MarketDataProvider
	Cache  ports.QuoteCache
	Logger ports.Logger
}

// Valuation is a point-in-time value of a portfolio.
type Valuation struct {
	PortfolioID  int64
	BaseCurrency string
	Total        decimal.Decimal
	CostBasis    decimal.Decimal
	Unrealized   decimal.Decimal // Total minus cost basis
	Holdings     []HoldingValue
	ValuedAt     time.Time
}

// HoldingValue is one holding's contribution to a valuation.
type HoldingValue struct {
	Asset      string
	Amount     decimal.Decimal
	Price      decimal.Decimal
	Value      decimal.Decimal
	CostBasis  decimal.Decimal // Total acquisition cost (per-unit basis * amount)
	Unrealized decimal.Decimal
}

// NewService creates a portfolio service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("portfolio repository is required")
	}
	if cfg.Market == nil {
		return nil, fmt.Errorf("market data provider is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Service{
		repo:   cfg.Repo,
		market: cfg.Market,
		cache:  cfg.Cache,
		logger: cfg.Logger,
	}, nil
}

// Create validates and persists a new portfolio.
func (s *Service) Create(ctx context.Context, name, baseCurrency string) (*domain.Portfolio, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: portfolio name is required", ports.ErrInvalidRequest)
	}
	baseCurrency = strings.ToUpper(strings.TrimSpace(baseCurrency))
	if baseCurrency == "" {
		baseCurrency = "USDT"
	}

	now := time.Now().UTC()
	p := &domain.Portfolio{
		Name:         name,
		BaseCurrency: baseCurrency,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.repo.CreatePortfolio(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create portfolio: %w", err)
	}
	s.logger.Info(ctx, "Portfolio created", map[string]interface{}{"portfolioID": p.ID, "name": p.Name})
	return p, nil
}

// Rename updates the portfolio's name.
func (s *Service) Rename(ctx context.Context, id int64, name string) (*domain.Portfolio, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: portfolio name is required", ports.ErrInvalidRequest)
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Name = name
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdatePortfolio(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update portfolio %d: %w", id, err)
	}
	return p, nil
}

// Delete removes a portfolio and its holdings.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeletePortfolio(ctx, id); err != nil {
		return fmt.Errorf("failed to delete portfolio %d: %w", id, err)
	}
	s.logger.Info(ctx, "Portfolio deleted", map[string]interface{}{"portfolioID": id})
	return nil
}

// Get returns a portfolio with its holdings.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Portfolio, error) {
	p, err := s.repo.FindPortfolioByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio %d: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("portfolio %d: %w", id, ports.ErrNotFound)
	}
	return p, nil
}

// List returns all portfolios.
func (s *Service) List(ctx context.Context) ([]*domain.Portfolio, error) {
	return s.repo.FindAllPortfolios(ctx)
}

// SetHolding creates or replaces a holding's balance and cost basis.
func (s *Service) SetHolding(ctx context.Context, portfolioID int64, asset string, amount, costBasis decimal.Decimal) error {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return fmt.Errorf("%w: asset is required", ports.ErrInvalidRequest)
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: holding amount cannot be negative", ports.ErrInvalidRequest)
	}
	if _, err := s.Get(ctx, portfolioID); err != nil {
		return err
	}

	h := &domain.Holding{
		PortfolioID: portfolioID,
		Asset:       asset,
		Amount:      amount,
		CostBasis:   costBasis,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.repo.UpsertHolding(ctx, h); err != nil {
		return fmt.Errorf("failed to upsert holding %s: %w", asset, err)
	}
	return nil
}

// RemoveHolding deletes a holding from a portfolio.
func (s *Service) RemoveHolding(ctx context.Context, portfolioID int64, asset string) error {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if err := s.repo.DeleteHolding(ctx, portfolioID, asset); err != nil {
		return fmt.Errorf("failed to delete holding %s: %w", asset, err)
	}
	return nil
}

// ApplyFill adjusts a holding for an executed trade: buys increase the
// balance and blend the cost basis, sells decrease the balance.
func (s *Service) ApplyFill(ctx context.Context, portfolioID int64, asset string, side domain.OrderSide, quantity, price decimal.Decimal) error {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if quantity.IsNegative() || quantity.IsZero() {
		return fmt.Errorf("%w: fill quantity must be positive", ports.ErrInvalidRequest)
	}

	p, err := s.Get(ctx, portfolioID)
	if err != nil {
		return err
	}
	existing := p.FindHolding(asset)

	var amount, basis decimal.Decimal
	if existing != nil {
		amount = existing.Amount
		basis = existing.CostBasis
	}

	switch side {
	case domain.Buy:
		newAmount := amount.Add(quantity)
		// Weighted-average basis over the combined position.
		totalCost := basis.Mul(amount).Add(price.Mul(quantity))
		basis = totalCost.Div(newAmount)
		amount = newAmount
	case domain.Sell:
		if quantity.GreaterThan(amount) {
			return fmt.Errorf("%w: selling %s %s exceeds held %s", ports.ErrInsufficientFunds, quantity, asset, amount)
		}
		amount = amount.Sub(quantity)
	default:
		return fmt.Errorf("%w: unknown order side %q", ports.ErrInvalidRequest, side)
	}

	if amount.IsZero() {
		if err := s.repo.DeleteHolding(ctx, portfolioID, asset); err != nil {
			return fmt.Errorf("failed to delete emptied holding %s: %w", asset, err)
		}
		return nil
	}

	h := &domain.Holding{
		PortfolioID: portfolioID,
		Asset:       asset,
		Amount:      amount,
		CostBasis:   basis,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.repo.UpsertHolding(ctx, h); err != nil {
		return fmt.Errorf("failed to apply fill to holding %s: %w", asset, err)
	}
	s.logger.Debug(ctx, "Fill applied to holding", map[string]interface{}{
		"portfolioID": portfolioID, "asset": asset, "side": side, "amount": amount.String(),
	})
	return nil
}

// Value computes the current market value of a portfolio. Quotes come from
// the cache when fresh, from the provider otherwise (write-through).
func (s *Service) Value(ctx context.Context, portfolioID int64) (*Valuation, error) {
	p, err := s.Get(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	v := &Valuation{
		PortfolioID:  p.ID,
		BaseCurrency: p.BaseCurrency,
		ValuedAt:     time.Now().UTC(),
	}
	if len(p.Holdings) == 0 {
		return v, nil
	}

	quotes, err := s.quotesFor(ctx, p)
	if err != nil {
		return nil, err
	}

	for _, h := range p.Holdings {
		quote, ok := quotes[h.Asset]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ports.ErrQuoteUnavailable, h.Asset)
		}
		price := decimal.NewFromFloat(quote.Price)
		value := h.MarketValue(price)
		cost := h.CostBasis.Mul(h.Amount)

		v.Holdings = append(v.Holdings, HoldingValue{
			Asset:      h.Asset,
			Amount:     h.Amount,
			Price:      price,
			Value:      value,
			CostBasis:  cost,
			Unrealized: value.Sub(cost),
		})
		v.Total = v.Total.Add(value)
		v.CostBasis = v.CostBasis.Add(cost)
	}
	v.Unrealized = v.Total.Sub(v.CostBasis)

	s.logger.Debug(ctx, "Portfolio valued", map[string]interface{}{
		"portfolioID": p.ID, "total": v.Total.String(), "holdings": len(v.Holdings),
	})
	return v, nil
}

// quotesFor resolves quotes for every holding, hitting the provider only for
// cache misses.
func (s *Service) quotesFor(ctx context.Context, p *domain.Portfolio) (map[string]*ports.Quote, error) {
	quotes := make(map[string]*ports.Quote, len(p.Holdings))
	var missing []string

	for _, h := range p.Holdings {
		if s.cache != nil {
			quote, err := s.cache.Get(ctx, h.Asset, p.BaseCurrency)
			if err == nil {
				quotes[h.Asset] = quote
				continue
			}
			if !errors.Is(err, ports.ErrCacheMiss) {
				s.logger.Warn(ctx, "Quote cache read failed", map[string]interface{}{"asset": h.Asset, "error": err.Error()})
			}
		}
		missing = append(missing, h.Asset)
	}

	if len(missing) > 0 {
		fetched, err := s.market.GetQuotes(ctx, missing, p.BaseCurrency)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch quotes: %w", err)
		}
		for asset, quote := range fetched {
			quotes[asset] = quote
			if s.cache != nil {
				if err := s.cache.Put(ctx, quote); err != nil {
					s.logger.Warn(ctx, "Quote cache write failed", map[string]interface{}{"asset": asset, "error": err.Error()})
				}
			}
		}
	}
	return quotes, nil
}
