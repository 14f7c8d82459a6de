package ports

import (
	"context"

	"cryptoPilot/internal/domain"
)

// PositionRepository defines the interface for storing and retrieving trading
// positions. The bot-scoped finder and profit aggregate back the management
// and reporting surface rather than the trading loops.
type PositionRepository interface {
	// Create saves a new position and returns its assigned ID.
	Create(ctx context.Context, pos *domain.Position) (int64, error)
	// Update modifies an existing position.
	Update(ctx context.Context, pos *domain.Position) error
	// FindOpenBySymbol retrieves the currently open (pending or active)
	// position for a given symbol, if any. Returns nil, nil if none.
	FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error)
	// FindOpen retrieves all open positions across symbols.
	FindOpen(ctx context.Context) ([]*domain.Position, error)
	// FindByID retrieves a position by its unique ID.
	// Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Position, error)
	// FindPositionsByBot retrieves all positions owned by a bot, newest first.
	FindPositionsByBot(ctx context.Context, botID int64) ([]*domain.Position, error)
	// GetTotalProfit calculates the sum of PNL for all closed positions.
	GetTotalProfit(ctx context.Context) (float64, error)
}

// TradeRepository defines the interface for storing and retrieving completed trades.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// FindTradesByBot retrieves all trades produced by a bot, newest first.
	FindTradesByBot(ctx context.Context, botID int64) ([]*domain.Trade, error)
	// CountTodayBySymbol counts the number of trades executed today for a given symbol.
	CountTodayBySymbol(ctx context.Context, symbol string) (int, error)
}

// PortfolioRepository stores portfolios and their holdings.
type PortfolioRepository interface {
	// CreatePortfolio saves a new portfolio and returns its assigned ID.
	CreatePortfolio(ctx context.Context, p *domain.Portfolio) (int64, error)
	// UpdatePortfolio modifies portfolio metadata (not holdings).
	UpdatePortfolio(ctx context.Context, p *domain.Portfolio) error
	// DeletePortfolio removes a portfolio and its holdings.
	DeletePortfolio(ctx context.Context, id int64) error
	// FindPortfolioByID retrieves a portfolio with its holdings.
	// Returns nil, nil if not found.
	FindPortfolioByID(ctx context.Context, id int64) (*domain.Portfolio, error)
	// FindAllPortfolios retrieves all portfolios with holdings.
	FindAllPortfolios(ctx context.Context) ([]*domain.Portfolio, error)
	// UpsertHolding creates or replaces the holding for (portfolio, asset).
	UpsertHolding(ctx context.Context, h *domain.Holding) error
	// DeleteHolding removes a holding from a portfolio.
	DeleteHolding(ctx context.Context, portfolioID int64, asset string) error
}

// BotRepository stores bot configurations.
type BotRepository interface {
	// CreateBot saves a new bot and returns its assigned ID.
	CreateBot(ctx context.Context, b *domain.Bot) (int64, error)
	// UpdateBot modifies an existing bot.
	UpdateBot(ctx context.Context, b *domain.Bot) error
	// DeleteBot removes a bot.
	DeleteBot(ctx context.Context, id int64) error
	// FindBotByID retrieves a bot by ID. Returns nil, nil if not found.
	FindBotByID(ctx context.Context, id int64) (*domain.Bot, error)
	// FindBotsByStatus retrieves all bots with the given status.
	FindBotsByStatus(ctx context.Context, status domain.BotStatus) ([]*domain.Bot, error)
	// FindAllBots retrieves every configured bot.
	FindAllBots(ctx context.Context) ([]*domain.Bot, error)
}

// RecommendationRepository stores advisor signals.
type RecommendationRepository interface {
	// CreateRecommendation saves a new recommendation.
	CreateRecommendation(ctx context.Context, rec *domain.Recommendation) error
	// UpdateRecommendationStatus transitions a recommendation to a new status.
	UpdateRecommendationStatus(ctx context.Context, id string, status domain.RecommendationStatus) error
	// FindRecommendationByID retrieves a recommendation. Returns nil, nil if not found.
	FindRecommendationByID(ctx context.Context, id string) (*domain.Recommendation, error)
	// FindPendingByBot retrieves pending recommendations for a bot, newest first.
	FindPendingByBot(ctx context.Context, botID int64) ([]*domain.Recommendation, error)
	// FindRecentByBot retrieves the most recent recommendations for a bot, up to a limit.
	FindRecentByBot(ctx context.Context, botID int64, limit int) ([]*domain.Recommendation, error)
	// ExpirePending marks all pending recommendations past their expiry as
	// expired and returns how many were updated.
	ExpirePending(ctx context.Context) (int64, error)
}
