package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio is a named account holding a set of assets valued in a base currency.
type Portfolio struct {
	ID           int64
	Name         string
	BaseCurrency string // Quote currency used for valuation (e.g., "USDT")
	Holdings     []*Holding
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Holding is a single asset balance inside a portfolio. Balances and cost
// basis are kept as decimals so accounting stays exact.
type Holding struct {
	ID          int64
	PortfolioID int64
	Asset       string          // Asset symbol (e.g., "ETH")
	Amount      decimal.Decimal // Quantity held
	CostBasis   decimal.Decimal // Average acquisition price per unit, in the base currency
	UpdatedAt   time.Time
}

// MarketValue returns the holding's value at the given unit price.
func (h *Holding) MarketValue(price decimal.Decimal) decimal.Decimal {
	return h.Amount.Mul(price)
}

// FindHolding returns the holding for the given asset, or nil.
func (p *Portfolio) FindHolding(asset string) *Holding {
	for _, h := range p.Holdings {
		if h.Asset == asset {
			return h
		}
	}
	return nil
}
