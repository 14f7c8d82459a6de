package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cryptoPilot/internal/domain"
	"cryptoPilot/internal/ports"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/shopspring/decimal"
)

// Repository implements every repository port on PostgreSQL. It mirrors the
// SQLite adapter so the two are interchangeable behind the DB_DRIVER setting.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the PostgreSQL repository.
type Config struct {
	DSN    string
	Logger ports.Logger
}

// NewRepository opens a connection pool and ensures the schema exists.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for PostgreSQL repository")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DSN is required for PostgreSQL repository")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		err = fmt.Errorf("failed to open postgres connection: %w", err)
		cfg.Logger.Error(context.Background(), err, "PostgreSQL repository initialization failed")
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping postgres: %w", err)
		cfg.Logger.Error(context.Background(), err, "PostgreSQL repository initialization failed")
		return nil, err
	}

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "PostgreSQL repository initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "PostgreSQL connection established")
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id BIGSERIAL PRIMARY KEY,
		bot_id BIGINT NOT NULL DEFAULT 0,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		planned_entry DOUBLE PRECISION NOT NULL DEFAULT 0,
		entry_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		exit_price DOUBLE PRECISION DEFAULT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		leverage INTEGER NOT NULL,
		stop_loss DOUBLE PRECISION NOT NULL,
		take_profit DOUBLE PRECISION NOT NULL,
		trailing_active BOOLEAN NOT NULL DEFAULT FALSE,
		trailing_stop DOUBLE PRECISION NOT NULL DEFAULT 0,
		high_water_mark DOUBLE PRECISION NOT NULL DEFAULT 0,
		phase TEXT NOT NULL,
		entry_deadline TIMESTAMPTZ DEFAULT NULL,
		entry_time TIMESTAMPTZ DEFAULT NULL,
		exit_time TIMESTAMPTZ DEFAULT NULL,
		close_reason TEXT DEFAULT NULL,
		pnl DOUBLE PRECISION DEFAULT NULL,
		recommendation_id TEXT DEFAULT NULL,
		stop_loss_order_id TEXT DEFAULT NULL,
		take_profit_order_id TEXT DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id BIGSERIAL PRIMARY KEY,
		bot_id BIGINT NOT NULL DEFAULT 0,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price DOUBLE PRECISION NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		leverage INTEGER NOT NULL,
		pnl DOUBLE PRECISION NOT NULL,
		entry_time TIMESTAMPTZ NOT NULL,
		exit_time TIMESTAMPTZ NOT NULL,
		position_id BIGINT NULL,
		close_reason TEXT NULL
	);

	CREATE TABLE IF NOT EXISTS portfolios (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		base_currency TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS holdings (
		id BIGSERIAL PRIMARY KEY,
		portfolio_id BIGINT NOT NULL,
		asset TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		cost_basis NUMERIC NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (portfolio_id, asset)
	);

	CREATE TABLE IF NOT EXISTS bots (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		portfolio_id BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		leverage INTEGER NOT NULL,
		stop_loss_percent DOUBLE PRECISION NOT NULL,
		take_profit_percent DOUBLE PRECISION NOT NULL,
		trailing_activation DOUBLE PRECISION NOT NULL,
		atr_multiplier DOUBLE PRECISION NOT NULL,
		max_daily_trades INTEGER NOT NULL,
		advisor_model TEXT NOT NULL,
		poll_interval_seconds BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recommendations (
		id TEXT PRIMARY KEY,
		bot_id BIGINT NOT NULL,
		symbol TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		action TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		stop_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
		take_profit DOUBLE PRECISION NOT NULL DEFAULT 0,
		reasoning TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_symbol_phase ON positions (symbol, phase);
	CREATE INDEX IF NOT EXISTS idx_positions_bot ON positions (bot_id);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol_entry_time ON trade_history (symbol, entry_time);
	CREATE INDEX IF NOT EXISTS idx_trade_history_bot ON trade_history (bot_id);
	CREATE INDEX IF NOT EXISTS idx_recommendations_bot_status ON recommendations (bot_id, status);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing PostgreSQL connection")
		return r.db.Close()
	}
	return nil
}

// --- PositionRepository Implementation ---

const positionColumns = `id, bot_id, symbol, side, planned_entry, entry_price, COALESCE(exit_price, 0),
	quantity, leverage, stop_loss, take_profit, trailing_active, trailing_stop, high_water_mark,
	phase, entry_deadline, entry_time, exit_time, close_reason, COALESCE(pnl, 0),
	recommendation_id, stop_loss_order_id, take_profit_order_id`

// Create saves a new position and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (bot_id, symbol, side, planned_entry, entry_price, quantity, leverage,
	                       stop_loss, take_profit, trailing_active, trailing_stop, high_water_mark,
	                       phase, entry_deadline, entry_time, recommendation_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		pos.BotID, pos.Symbol, pos.Side, pos.PlannedEntry, pos.EntryPrice, pos.Quantity, pos.Leverage,
		pos.StopLoss, pos.TakeProfit, pos.TrailingActive, pos.TrailingStopPrice, pos.HighWaterMark,
		pos.Phase, nullTime(pos.EntryDeadline), nullTime(pos.EntryTime), nullString(pos.RecommendationID)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert position for symbol %s: %w", pos.Symbol, err)
	}
	pos.ID = id
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "symbol": pos.Symbol, "phase": pos.Phase})
	return id, nil
}

// Update modifies an existing position based on its ID.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET entry_price = $1, exit_price = $2, quantity = $3, leverage = $4, stop_loss = $5, take_profit = $6,
	    trailing_active = $7, trailing_stop = $8, high_water_mark = $9, phase = $10,
	    entry_deadline = $11, entry_time = $12, exit_time = $13, close_reason = $14, pnl = $15,
	    stop_loss_order_id = $16, take_profit_order_id = $17
	WHERE id = $18`

	result, err := r.db.ExecContext(ctx, query,
		pos.EntryPrice, pos.ExitPrice, pos.Quantity, pos.Leverage, pos.StopLoss, pos.TakeProfit,
		pos.TrailingActive, pos.TrailingStopPrice, pos.HighWaterMark, pos.Phase,
		nullTime(pos.EntryDeadline), nullTime(pos.EntryTime), nullTime(pos.ExitTime),
		nullString(string(pos.CloseReason)), pos.PNL,
		pos.StopLossOrderID, pos.TakeProfitOrderID,
		pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w", pos.ID, err)
	}
	return requireRow(result, "position", pos.ID)
}

// FindOpenBySymbol retrieves the currently open position for a given symbol, if any.
func (r *Repository) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE symbol = $1 AND phase != $2 LIMIT 1`

	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, symbol, domain.PhaseClosed))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query open position for symbol %s: %w", symbol, err)
	}
	return pos, nil
}

// FindOpen retrieves all pending and active positions across symbols.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE phase != $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, domain.PhaseClosed)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// FindByID retrieves a position by its unique ID.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query position by ID %d: %w", id, err)
	}
	return pos, nil
}

// FindPositionsByBot retrieves all positions owned by a bot, newest first.
func (r *Repository) FindPositionsByBot(ctx context.Context, botID int64) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE bot_id = $1 ORDER BY id DESC`

	rows, err := r.db.QueryContext(ctx, query, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for bot %d: %w", botID, err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// GetTotalProfit calculates the sum of PNL for all closed positions.
func (r *Repository) GetTotalProfit(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM positions WHERE phase = $1`
	var totalProfit float64
	err := r.db.QueryRowContext(ctx, query, domain.PhaseClosed).Scan(&totalProfit)
	if err != nil {
		return 0, fmt.Errorf("failed to calculate total profit: %w", err)
	}
	return totalProfit, nil
}

// --- TradeRepository Implementation ---

const tradeColumns = `id, bot_id, symbol, side, entry_price, exit_price, quantity, leverage, pnl,
	entry_time, exit_time, position_id, close_reason`

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (bot_id, symbol, side, entry_price, exit_price, quantity, leverage, pnl,
	                           entry_time, exit_time, position_id, close_reason)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id`

	var positionID sql.NullInt64
	if trade.PositionID != 0 {
		positionID = sql.NullInt64{Int64: trade.PositionID, Valid: true}
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		trade.BotID, trade.Symbol, trade.Side, trade.EntryPrice, trade.ExitPrice,
		trade.Quantity, trade.Leverage, trade.PNL,
		trade.EntryTime, trade.ExitTime, positionID, trade.CloseReason).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade history for symbol %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	return id, nil
}

// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trade_history WHERE symbol = $1 ORDER BY entry_time DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history for symbol %s: %w", symbol, err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// FindTradesByBot retrieves all trades produced by a bot, newest first.
func (r *Repository) FindTradesByBot(ctx context.Context, botID int64) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trade_history WHERE bot_id = $1 ORDER BY exit_time DESC`

	rows, err := r.db.QueryContext(ctx, query, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history for bot %d: %w", botID, err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// CountTodayBySymbol counts the trades entered since the current UTC day
// boundary, matching the daily risk reset.
func (r *Repository) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	const query = `SELECT COUNT(*) FROM trade_history WHERE symbol = $1 AND entry_time >= date_trunc('day', now() AT TIME ZONE 'UTC')`
	var count int
	err := r.db.QueryRowContext(ctx, query, symbol).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades today for symbol %s: %w", symbol, err)
	}
	return count, nil
}

// --- PortfolioRepository Implementation ---

// CreatePortfolio saves a new portfolio and returns its assigned ID.
func (r *Repository) CreatePortfolio(ctx context.Context, p *domain.Portfolio) (int64, error) {
	const query = `INSERT INTO portfolios (name, base_currency, created_at, updated_at) VALUES ($1, $2, $3, $4) RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query, p.Name, p.BaseCurrency, p.CreatedAt, p.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert portfolio %q: %w", p.Name, err)
	}
	p.ID = id
	return id, nil
}

// UpdatePortfolio modifies portfolio metadata (not holdings).
func (r *Repository) UpdatePortfolio(ctx context.Context, p *domain.Portfolio) error {
	const query = `UPDATE portfolios SET name = $1, base_currency = $2, updated_at = $3 WHERE id = $4`

	result, err := r.db.ExecContext(ctx, query, p.Name, p.BaseCurrency, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update portfolio ID %d: %w", p.ID, err)
	}
	return requireRow(result, "portfolio", p.ID)
}

// DeletePortfolio removes a portfolio and its holdings.
func (r *Repository) DeletePortfolio(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete of portfolio ID %d: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM holdings WHERE portfolio_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete holdings of portfolio ID %d: %w", id, err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM portfolios WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete portfolio ID %d: %w", id, err)
	}
	if err := requireRow(result, "portfolio", id); err != nil {
		return err
	}
	return tx.Commit()
}

// FindPortfolioByID retrieves a portfolio with its holdings.
func (r *Repository) FindPortfolioByID(ctx context.Context, id int64) (*domain.Portfolio, error) {
	const query = `SELECT id, name, base_currency, created_at, updated_at FROM portfolios WHERE id = $1`

	p := &domain.Portfolio{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.BaseCurrency, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query portfolio by ID %d: %w", id, err)
	}

	if p.Holdings, err = r.findHoldings(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// FindAllPortfolios retrieves all portfolios with holdings.
func (r *Repository) FindAllPortfolios(ctx context.Context) ([]*domain.Portfolio, error) {
	const query = `SELECT id, name, base_currency, created_at, updated_at FROM portfolios ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	portfolios := make([]*domain.Portfolio, 0)
	for rows.Next() {
		p := &domain.Portfolio{}
		if err := rows.Scan(&p.ID, &p.Name, &p.BaseCurrency, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		portfolios = append(portfolios, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolio rows: %w", err)
	}

	for _, p := range portfolios {
		if p.Holdings, err = r.findHoldings(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return portfolios, nil
}

// UpsertHolding creates or replaces the holding for (portfolio, asset).
func (r *Repository) UpsertHolding(ctx context.Context, h *domain.Holding) error {
	const query = `
	INSERT INTO holdings (portfolio_id, asset, amount, cost_basis, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (portfolio_id, asset) DO UPDATE SET
		amount = excluded.amount,
		cost_basis = excluded.cost_basis,
		updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		h.PortfolioID, h.Asset, h.Amount.String(), h.CostBasis.String(), h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert holding %s for portfolio %d: %w", h.Asset, h.PortfolioID, err)
	}
	return nil
}

// DeleteHolding removes a holding from a portfolio.
func (r *Repository) DeleteHolding(ctx context.Context, portfolioID int64, asset string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM holdings WHERE portfolio_id = $1 AND asset = $2`, portfolioID, asset)
	if err != nil {
		return fmt.Errorf("failed to delete holding %s from portfolio %d: %w", asset, portfolioID, err)
	}
	return requireRow(result, "holding", portfolioID)
}

func (r *Repository) findHoldings(ctx context.Context, portfolioID int64) ([]*domain.Holding, error) {
	const query = `SELECT id, portfolio_id, asset, amount::text, cost_basis::text, updated_at FROM holdings WHERE portfolio_id = $1 ORDER BY asset`

	rows, err := r.db.QueryContext(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings for portfolio %d: %w", portfolioID, err)
	}
	defer rows.Close()

	holdings := make([]*domain.Holding, 0)
	for rows.Next() {
		h := &domain.Holding{}
		var amount, costBasis string
		if err := rows.Scan(&h.ID, &h.PortfolioID, &h.Asset, &amount, &costBasis, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		if h.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid stored amount %q for holding %s: %w", amount, h.Asset, err)
		}
		if h.CostBasis, err = decimal.NewFromString(costBasis); err != nil {
			return nil, fmt.Errorf("invalid stored cost basis %q for holding %s: %w", costBasis, h.Asset, err)
		}
		holdings = append(holdings, h)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holding rows: %w", err)
	}
	return holdings, nil
}

// --- BotRepository Implementation ---

const botColumns = `id, name, symbol, portfolio_id, status, quantity, leverage,
	stop_loss_percent, take_profit_percent, trailing_activation, atr_multiplier,
	max_daily_trades, advisor_model, poll_interval_seconds, created_at, updated_at`

// CreateBot saves a new bot and returns its assigned ID.
func (r *Repository) CreateBot(ctx context.Context, b *domain.Bot) (int64, error) {
	const query = `
	INSERT INTO bots (name, symbol, portfolio_id, status, quantity, leverage,
	                  stop_loss_percent, take_profit_percent, trailing_activation, atr_multiplier,
	                  max_daily_trades, advisor_model, poll_interval_seconds, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		b.Name, b.Symbol, b.PortfolioID, b.Status, b.Quantity, b.Leverage,
		b.StopLossPercent, b.TakeProfitPercent, b.TrailingActivation, b.ATRMultiplier,
		b.MaxDailyTrades, b.AdvisorModel, int64(b.PollInterval.Seconds()), b.CreatedAt, b.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert bot %q: %w", b.Name, err)
	}
	b.ID = id
	return id, nil
}

// UpdateBot modifies an existing bot.
func (r *Repository) UpdateBot(ctx context.Context, b *domain.Bot) error {
	const query = `
	UPDATE bots
	SET name = $1, symbol = $2, portfolio_id = $3, status = $4, quantity = $5, leverage = $6,
	    stop_loss_percent = $7, take_profit_percent = $8, trailing_activation = $9, atr_multiplier = $10,
	    max_daily_trades = $11, advisor_model = $12, poll_interval_seconds = $13, updated_at = $14
	WHERE id = $15`

	result, err := r.db.ExecContext(ctx, query,
		b.Name, b.Symbol, b.PortfolioID, b.Status, b.Quantity, b.Leverage,
		b.StopLossPercent, b.TakeProfitPercent, b.TrailingActivation, b.ATRMultiplier,
		b.MaxDailyTrades, b.AdvisorModel, int64(b.PollInterval.Seconds()), b.UpdatedAt,
		b.ID)
	if err != nil {
		return fmt.Errorf("failed to update bot ID %d: %w", b.ID, err)
	}
	return requireRow(result, "bot", b.ID)
}

// DeleteBot removes a bot.
func (r *Repository) DeleteBot(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM bots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bot ID %d: %w", id, err)
	}
	return requireRow(result, "bot", id)
}

// FindBotByID retrieves a bot by ID.
func (r *Repository) FindBotByID(ctx context.Context, id int64) (*domain.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE id = $1`

	bot, err := scanBot(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query bot by ID %d: %w", id, err)
	}
	return bot, nil
}

// FindBotsByStatus retrieves all bots with the given status.
func (r *Repository) FindBotsByStatus(ctx context.Context, status domain.BotStatus) ([]*domain.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE status = $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query bots by status %s: %w", status, err)
	}
	defer rows.Close()

	return collectBots(rows)
}

// FindAllBots retrieves every configured bot.
func (r *Repository) FindAllBots(ctx context.Context) ([]*domain.Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query all bots: %w", err)
	}
	defer rows.Close()

	return collectBots(rows)
}

// --- RecommendationRepository Implementation ---

const recommendationColumns = `id, bot_id, symbol, provider, model, action, confidence,
	entry_price, stop_loss, take_profit, reasoning, status, created_at, expires_at`

// CreateRecommendation saves a new recommendation.
func (r *Repository) CreateRecommendation(ctx context.Context, rec *domain.Recommendation) error {
	const query = `
	INSERT INTO recommendations (id, bot_id, symbol, provider, model, action, confidence,
	                             entry_price, stop_loss, take_profit, reasoning, status, created_at, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.BotID, rec.Symbol, rec.Provider, rec.Model, rec.Action, rec.Confidence,
		rec.EntryPrice, rec.StopLoss, rec.TakeProfit, rec.Reasoning, rec.Status, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert recommendation %s for bot %d: %w", rec.ID, rec.BotID, err)
	}
	return nil
}

// UpdateRecommendationStatus transitions a recommendation to a new status.
func (r *Repository) UpdateRecommendationStatus(ctx context.Context, id string, status domain.RecommendationStatus) error {
	result, err := r.db.ExecContext(ctx, `UPDATE recommendations SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update recommendation %s status: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for recommendation %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("recommendation %s not found: %w", id, ports.ErrNotFound)
	}
	return nil
}

// FindRecommendationByID retrieves a recommendation.
func (r *Repository) FindRecommendationByID(ctx context.Context, id string) (*domain.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations WHERE id = $1`

	rec, err := scanRecommendation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query recommendation %s: %w", id, err)
	}
	return rec, nil
}

// FindPendingByBot retrieves pending recommendations for a bot, newest first.
func (r *Repository) FindPendingByBot(ctx context.Context, botID int64) ([]*domain.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations WHERE bot_id = $1 AND status = $2 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, botID, domain.RecommendationPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending recommendations for bot %d: %w", botID, err)
	}
	defer rows.Close()

	return collectRecommendations(rows)
}

// FindRecentByBot retrieves the most recent recommendations for a bot, up to a limit.
func (r *Repository) FindRecentByBot(ctx context.Context, botID int64, limit int) ([]*domain.Recommendation, error) {
	query := `SELECT ` + recommendationColumns + ` FROM recommendations WHERE bot_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent recommendations for bot %d: %w", botID, err)
	}
	defer rows.Close()

	return collectRecommendations(rows)
}

// ExpirePending marks all pending recommendations past their expiry as expired.
func (r *Repository) ExpirePending(ctx context.Context) (int64, error) {
	const query = `UPDATE recommendations SET status = $1 WHERE status = $2 AND expires_at <= now()`

	result, err := r.db.ExecContext(ctx, query, domain.RecommendationExpired, domain.RecommendationPending)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending recommendations: %w", err)
	}
	expired, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for expiry: %w", err)
	}
	return expired, nil
}

// --- Helper Scan Functions ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var (
		side, phase                 string
		entryDeadline               sql.NullTime
		entryTime, exitTime         sql.NullTime
		closeReason, recommendation sql.NullString
		stopOrderID, takeOrderID    sql.NullString
	)
	err := s.Scan(
		&p.ID, &p.BotID, &p.Symbol, &side, &p.PlannedEntry, &p.EntryPrice, &p.ExitPrice,
		&p.Quantity, &p.Leverage, &p.StopLoss, &p.TakeProfit,
		&p.TrailingActive, &p.TrailingStopPrice, &p.HighWaterMark,
		&phase, &entryDeadline, &entryTime, &exitTime, &closeReason, &p.PNL,
		&recommendation, &stopOrderID, &takeOrderID)
	if err != nil {
		return nil, err
	}
	p.Side = domain.PositionSide(side)
	p.Phase = domain.PositionPhase(phase)
	if entryDeadline.Valid {
		p.EntryDeadline = entryDeadline.Time
	}
	if entryTime.Valid {
		p.EntryTime = entryTime.Time
	}
	if exitTime.Valid {
		p.ExitTime = exitTime.Time
	}
	if closeReason.Valid {
		p.CloseReason = domain.CloseReason(closeReason.String)
	}
	if recommendation.Valid {
		p.RecommendationID = recommendation.String
	}
	if stopOrderID.Valid {
		p.StopLossOrderID = &stopOrderID.String
	}
	if takeOrderID.Valid {
		p.TakeProfitOrderID = &takeOrderID.String
	}
	return p, nil
}

func collectPositions(rows *sql.Rows) ([]*domain.Position, error) {
	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	th := &domain.Trade{}
	var side string
	var positionID sql.NullInt64
	var closeReason sql.NullString
	err := s.Scan(
		&th.ID, &th.BotID, &th.Symbol, &side, &th.EntryPrice, &th.ExitPrice,
		&th.Quantity, &th.Leverage, &th.PNL,
		&th.EntryTime, &th.ExitTime, &positionID, &closeReason)
	if err != nil {
		return nil, err
	}
	th.Side = domain.PositionSide(side)
	if positionID.Valid {
		th.PositionID = positionID.Int64
	}
	if closeReason.Valid {
		th.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		th.CloseReason = domain.CloseReasonUnknown
	}
	return th, nil
}

func collectTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return trades, nil
}

func scanBot(s scanner) (*domain.Bot, error) {
	b := &domain.Bot{}
	var status string
	var pollSeconds int64
	err := s.Scan(
		&b.ID, &b.Name, &b.Symbol, &b.PortfolioID, &status, &b.Quantity, &b.Leverage,
		&b.StopLossPercent, &b.TakeProfitPercent, &b.TrailingActivation, &b.ATRMultiplier,
		&b.MaxDailyTrades, &b.AdvisorModel, &pollSeconds, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BotStatus(status)
	b.PollInterval = time.Duration(pollSeconds) * time.Second
	return b, nil
}

func collectBots(rows *sql.Rows) ([]*domain.Bot, error) {
	bots := make([]*domain.Bot, 0)
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		bots = append(bots, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bot rows: %w", err)
	}
	return bots, nil
}

func scanRecommendation(s scanner) (*domain.Recommendation, error) {
	rec := &domain.Recommendation{}
	var action, status string
	err := s.Scan(
		&rec.ID, &rec.BotID, &rec.Symbol, &rec.Provider, &rec.Model, &action, &rec.Confidence,
		&rec.EntryPrice, &rec.StopLoss, &rec.TakeProfit, &rec.Reasoning, &status,
		&rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, err
	}
	rec.Action = domain.RecommendationAction(action)
	rec.Status = domain.RecommendationStatus(status)
	return rec, nil
}

func collectRecommendations(rows *sql.Rows) ([]*domain.Recommendation, error) {
	recs := make([]*domain.Recommendation, 0)
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recommendation rows: %w", err)
	}
	return recs, nil
}

// requireRow converts a zero-rows-affected result into ports.ErrNotFound.
func requireRow(result sql.Result, entity string, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for %s ID %d: %w", entity, id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s ID %d not found: %w", entity, id, ports.ErrNotFound)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
