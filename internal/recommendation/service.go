package recommendation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cryptoPilot/internal/domain"
	"cryptoPilot/internal/ports"
	"cryptoPilot/internal/strategy/indicators"

	"github.com/google/uuid"
)

// Service owns the lifecycle of advisor signals: it polls the advisor with a
// fresh market snapshot, persists what comes back, expires stale pending
// signals, and turns accepted ones into pending positions.
type Service struct {
	repo      ports.RecommendationRepository
	positions ports.PositionRepository
	bots      ports.BotRepository
	exchange  ports.ExchangeClient
	market    ports.MarketDataProvider
	advisor   ports.Advisor
	logger    ports.Logger

	signalTTL     time.Duration
	entryWindow   time.Duration
	klineInterval string
	quoteCurrency string

	atr     *indicators.ATR
	rsi     *indicators.RSI
	emaFast *indicators.MovingAverage
	emaSlow *indicators.MovingAverage

	klinesNeeded int
}

// Config holds dependencies and tuning for the recommendation service.
type Config struct {
	Repo      ports.RecommendationRepository
	Positions ports.PositionRepository
	Bots      ports.BotRepository
	Exchange  ports.ExchangeClient
	Market    ports.MarketDataProvider
	Advisor   ports.Advisor
	Logger    ports.Logger

	SignalTTL     time.Duration // How long a pending signal stays actionable
	EntryWindow   time.Duration // How long an accepted signal's entry stays valid
	KlineInterval string        // Interval used for snapshot indicators
	QuoteCurrency string        // Quote currency for balance and 24h change lookups

	ATRPeriod     int
	RSIPeriod     int
	EMAFastPeriod int
	EMASlowPeriod int
}

// NewService creates a recommendation service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Repo == nil || cfg.Positions == nil || cfg.Bots == nil {
		return nil, fmt.Errorf("recommendation, position and bot repositories are required")
	}
	if cfg.Exchange == nil {
		return nil, fmt.Errorf("exchange client is required")
	}
	if cfg.Advisor == nil {
		return nil, fmt.Errorf("advisor is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.SignalTTL <= 0 {
		cfg.SignalTTL = time.Hour
	}
	if cfg.EntryWindow <= 0 {
		cfg.EntryWindow = 30 * time.Minute
	}
	if cfg.KlineInterval == "" {
		cfg.KlineInterval = "1h"
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	if cfg.EMAFastPeriod <= 0 {
		cfg.EMAFastPeriod = 9
	}
	if cfg.EMASlowPeriod <= 0 {
		cfg.EMASlowPeriod = 21
	}
	if cfg.EMAFastPeriod >= cfg.EMASlowPeriod {
		return nil, fmt.Errorf("%w: EMA fast period %d must be below slow period %d",
			ports.ErrConfigurationError, cfg.EMAFastPeriod, cfg.EMASlowPeriod)
	}

	needed := cfg.ATRPeriod + 1
	for _, p := range []int{cfg.RSIPeriod + 1, cfg.EMASlowPeriod * 2} {
		if p > needed {
			needed = p
		}
	}

	return &Service{
		repo:          cfg.Repo,
		positions:     cfg.Positions,
		bots:          cfg.Bots,
		exchange:      cfg.Exchange,
		market:        cfg.Market,
		advisor:       cfg.Advisor,
		logger:        cfg.Logger,
		signalTTL:     cfg.SignalTTL,
		entryWindow:   cfg.EntryWindow,
		klineInterval: cfg.KlineInterval,
		quoteCurrency: cfg.QuoteCurrency,
		atr:           indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ATRPeriod}}),
		rsi: indicators.NewRSI(indicators.RSIConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod},
			Overbought:      70,
			Oversold:        30,
		}),
		emaFast: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.EMAFastPeriod},
			Type:            indicators.ExponentialMovingAverage,
		}),
		emaSlow: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.EMASlowPeriod},
			Type:            indicators.ExponentialMovingAverage,
		}),
		klinesNeeded: needed,
	}, nil
}

// Poll builds a market snapshot for the bot, asks the advisor for a signal
// and persists it as a pending recommendation. A bot with an open position is
// skipped: the tracker manages that position until it closes.
func (s *Service) Poll(ctx context.Context, bot *domain.Bot) (*domain.Recommendation, error) {
	if !bot.IsActive() {
		return nil, nil
	}

	open, err := s.positions.FindOpenBySymbol(ctx, bot.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to check open position for %s: %w", bot.Symbol, err)
	}
	if open != nil {
		s.logger.Debug(ctx, "Skipping advisor poll, position open", map[string]interface{}{
			"botID": bot.ID, "symbol": bot.Symbol, "positionID": open.ID,
		})
		return nil, nil
	}

	snapshot, err := s.buildSnapshot(ctx, bot)
	if err != nil {
		return nil, err
	}

	rec, err := s.advisor.Advise(ctx, ports.AdviceRequest{
		BotID:    bot.ID,
		Model:    bot.AdvisorModel,
		Snapshot: *snapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("advisor poll failed for bot %d: %w", bot.ID, err)
	}

	now := time.Now().UTC()
	rec.ID = uuid.NewString()
	rec.Status = domain.RecommendationPending
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(s.signalTTL)

	if err := s.repo.CreateRecommendation(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist recommendation: %w", err)
	}
	s.logger.Info(ctx, "Recommendation recorded", map[string]interface{}{
		"id": rec.ID, "botID": bot.ID, "symbol": rec.Symbol, "action": rec.Action, "confidence": rec.Confidence,
	})
	return rec, nil
}

// buildSnapshot assembles the market state for one bot from exchange klines,
// the spot quote provider and the account balance.
func (s *Service) buildSnapshot(ctx context.Context, bot *domain.Bot) (*ports.MarketSnapshot, error) {
	klines, err := s.exchange.GetKlines(ctx, bot.Symbol, s.klineInterval, s.klinesNeeded)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", bot.Symbol, err)
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("%w: no klines for %s", ports.ErrQuoteUnavailable, bot.Symbol)
	}

	atr, err := s.atr.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("ATR calculation failed for %s: %w", bot.Symbol, err)
	}
	rsi, err := s.rsi.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("RSI calculation failed for %s: %w", bot.Symbol, err)
	}
	emaFast, err := s.emaFast.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("fast EMA calculation failed for %s: %w", bot.Symbol, err)
	}
	emaSlow, err := s.emaSlow.Calculate(ctx, klines)
	if err != nil {
		return nil, fmt.Errorf("slow EMA calculation failed for %s: %w", bot.Symbol, err)
	}

	price, err := s.exchange.GetTickerPrice(ctx, bot.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ticker price for %s: %w", bot.Symbol, err)
	}

	snapshot := &ports.MarketSnapshot{
		Symbol:  bot.Symbol,
		Price:   price,
		ATR:     atr,
		RSI:     rsi,
		EMAFast: emaFast,
		EMASlow: emaSlow,
	}

	// The 24h change comes from the quote provider; a miss is tolerable.
	if s.market != nil {
		if quote, err := s.market.GetQuote(ctx, baseAsset(bot.Symbol, s.quoteCurrency), s.quoteCurrency); err == nil {
			snapshot.Change24hPct = quote.Change24hPct
		} else {
			s.logger.Warn(ctx, "24h change unavailable for snapshot", map[string]interface{}{
				"symbol": bot.Symbol, "error": err.Error(),
			})
		}
	}

	balance, err := s.exchange.GetAccountBalance(ctx, s.quoteCurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account balance: %w", err)
	}
	snapshot.Balance = balance

	return snapshot, nil
}

// baseAsset strips the quote currency suffix from a trading symbol,
// e.g. "ETHUSDT" with quote "USDT" yields "ETH".
func baseAsset(symbol, quote string) string {
	if base, ok := strings.CutSuffix(symbol, quote); ok && base != "" {
		return base
	}
	return symbol
}

// Get returns a recommendation by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Recommendation, error) {
	rec, err := s.repo.FindRecommendationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load recommendation %s: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("recommendation %s: %w", id, ports.ErrNotFound)
	}
	return rec, nil
}

// ListPending returns pending recommendations for a bot, newest first.
func (s *Service) ListPending(ctx context.Context, botID int64) ([]*domain.Recommendation, error) {
	return s.repo.FindPendingByBot(ctx, botID)
}

// ListRecent returns the most recent recommendations for a bot.
func (s *Service) ListRecent(ctx context.Context, botID int64, limit int) ([]*domain.Recommendation, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.FindRecentByBot(ctx, botID, limit)
}

// ExpireStale marks pending recommendations past their expiry as expired.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpirePending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to expire recommendations: %w", err)
	}
	if n > 0 {
		s.logger.Info(ctx, "Expired stale recommendations", map[string]interface{}{"count": n})
	}
	return n, nil
}

// Accept turns a pending actionable recommendation into a pending position
// sized from the owning bot's parameters. The position awaits entry
// validation by the tracker until its deadline.
func (s *Service) Accept(ctx context.Context, id string) (*domain.Position, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.RecommendationPending {
		return nil, fmt.Errorf("%w: recommendation %s is %s, not pending", ports.ErrInvalidRequest, id, rec.Status)
	}
	if !rec.IsActionable() {
		return nil, fmt.Errorf("%w: cannot accept a %s recommendation", ports.ErrInvalidRequest, rec.Action)
	}
	if time.Now().UTC().After(rec.ExpiresAt) {
		if err := s.repo.UpdateRecommendationStatus(ctx, id, domain.RecommendationExpired); err != nil {
			s.logger.Error(ctx, err, "Failed to expire recommendation on accept", map[string]interface{}{"id": id})
		}
		return nil, fmt.Errorf("%w: recommendation %s has expired", ports.ErrInvalidRequest, id)
	}

	bot, err := s.bots.FindBotByID(ctx, rec.BotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bot %d: %w", rec.BotID, err)
	}
	if bot == nil {
		return nil, fmt.Errorf("bot %d: %w", rec.BotID, ports.ErrNotFound)
	}

	open, err := s.positions.FindOpenBySymbol(ctx, rec.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to check open position for %s: %w", rec.Symbol, err)
	}
	if open != nil {
		return nil, fmt.Errorf("%w: symbol %s already has open position %d", ports.ErrInvalidRequest, rec.Symbol, open.ID)
	}

	pos := &domain.Position{
		BotID:            bot.ID,
		Symbol:           rec.Symbol,
		Side:             rec.Side(),
		PlannedEntry:     rec.EntryPrice,
		Quantity:         bot.Quantity,
		Leverage:         bot.Leverage,
		StopLoss:         rec.StopLoss,
		TakeProfit:       rec.TakeProfit,
		Phase:            domain.PhasePending,
		EntryDeadline:    time.Now().UTC().Add(s.entryWindow),
		RecommendationID: rec.ID,
	}
	if _, err := s.positions.Create(ctx, pos); err != nil {
		return nil, fmt.Errorf("failed to create position: %w", err)
	}

	if err := s.repo.UpdateRecommendationStatus(ctx, id, domain.RecommendationAccepted); err != nil {
		return nil, fmt.Errorf("failed to mark recommendation accepted: %w", err)
	}

	s.logger.Info(ctx, "Recommendation accepted", map[string]interface{}{
		"id": id, "positionID": pos.ID, "symbol": pos.Symbol, "side": pos.Side,
	})
	return pos, nil
}

// Reject marks a pending recommendation as rejected.
func (s *Service) Reject(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != domain.RecommendationPending {
		return fmt.Errorf("%w: recommendation %s is %s, not pending", ports.ErrInvalidRequest, id, rec.Status)
	}
	if err := s.repo.UpdateRecommendationStatus(ctx, id, domain.RecommendationRejected); err != nil {
		return fmt.Errorf("failed to mark recommendation rejected: %w", err)
	}
	s.logger.Info(ctx, "Recommendation rejected", map[string]interface{}{"id": id})
	return nil
}
