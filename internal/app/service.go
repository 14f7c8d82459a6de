package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"cryptoPilot/internal/bots"
	"cryptoPilot/internal/domain"
	"cryptoPilot/internal/ports"
	"cryptoPilot/internal/recommendation"
	"cryptoPilot/internal/risk"
	"cryptoPilot/internal/sltp"
)

// Service is the platform orchestrator. It owns the periodic loops: the price
// tick loop that drives the SL/TP tracker over open positions, the advisor
// poll per active bot, the quote refresh into the cache and the daily risk
// reset. All loops run on tickers inside a single goroutine; the handlers
// themselves are sequential.
type Service struct {
	logger    ports.Logger
	exchange  ports.ExchangeClient
	positions ports.PositionRepository
	trades    ports.TradeRepository
	botSvc    *bots.Service
	recSvc    *recommendation.Service
	market    ports.MarketDataProvider
	cache     ports.QuoteCache
	tracker   *sltp.Tracker
	riskMgr   *risk.RiskManager

	tickInterval  time.Duration
	pollInterval  time.Duration
	quoteInterval time.Duration
	klineInterval string
	quoteCurrency string
	quoteAssets   []string
	autoAccept    float64 // Confidence at or above which signals are accepted automatically (0 disables)

	mu         sync.Mutex
	lastPolled map[int64]time.Time
}

// Config holds dependencies and loop tuning for the orchestrator.
type Config struct {
	Logger    ports.Logger
	Exchange  ports.ExchangeClient
	Positions ports.PositionRepository
	Trades    ports.TradeRepository
	Bots      *bots.Service
	Recs      *recommendation.Service
	Market    ports.MarketDataProvider
	Cache     ports.QuoteCache
	Tracker   *sltp.Tracker
	RiskMgr   *risk.RiskManager

	TickInterval         time.Duration // Price tick loop cadence
	PollCheckInterval    time.Duration // How often per-bot poll deadlines are checked
	QuoteRefreshInterval time.Duration // Cache refresh cadence
	KlineInterval        string        // Interval for tracker klines
	QuoteCurrency        string
	QuoteAssets          []string // Assets kept warm in the quote cache
	AutoAcceptConfidence float64  // 0 disables automatic acceptance
}

// New validates dependencies and builds the orchestrator.
func New(cfg Config) (*Service, error) {
	if cfg.Logger == nil || cfg.Exchange == nil || cfg.Positions == nil || cfg.Trades == nil {
		return nil, fmt.Errorf("missing required dependencies for orchestrator")
	}
	if cfg.Bots == nil || cfg.Recs == nil || cfg.Tracker == nil || cfg.RiskMgr == nil {
		return nil, fmt.Errorf("bot service, recommendation service, tracker and risk manager are required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 15 * time.Second
	}
	if cfg.PollCheckInterval <= 0 {
		cfg.PollCheckInterval = time.Minute
	}
	if cfg.QuoteRefreshInterval <= 0 {
		cfg.QuoteRefreshInterval = time.Hour
	}
	if cfg.KlineInterval == "" {
		cfg.KlineInterval = "1m"
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if cfg.AutoAcceptConfidence < 0 || cfg.AutoAcceptConfidence > 1 {
		return nil, fmt.Errorf("%w: auto-accept confidence %f out of range", ports.ErrConfigurationError, cfg.AutoAcceptConfidence)
	}

	return &Service{
		logger:        cfg.Logger,
		exchange:      cfg.Exchange,
		positions:     cfg.Positions,
		trades:        cfg.Trades,
		botSvc:        cfg.Bots,
		recSvc:        cfg.Recs,
		market:        cfg.Market,
		cache:         cfg.Cache,
		tracker:       cfg.Tracker,
		riskMgr:       cfg.RiskMgr,
		tickInterval:  cfg.TickInterval,
		pollInterval:  cfg.PollCheckInterval,
		quoteInterval: cfg.QuoteRefreshInterval,
		klineInterval: cfg.KlineInterval,
		quoteCurrency: cfg.QuoteCurrency,
		quoteAssets:   cfg.QuoteAssets,
		autoAccept:    cfg.AutoAcceptConfidence,
		lastPolled:    make(map[int64]time.Time),
	}, nil
}

// Start runs the orchestrator until the context is canceled or a shutdown
// signal arrives.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting orchestrator...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.exchange.SetServerTime(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to synchronize server time")
		return fmt.Errorf("failed to set server time: %w", err)
	}
	s.logger.Info(ctx, "Server time synchronized")

	open, err := s.positions.FindOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to query open positions on startup: %w", err)
	}
	s.logger.Info(ctx, "Initial state synchronized", map[string]interface{}{"openPositions": len(open)})

	// Warm the quote cache before the first poll cycle.
	s.refreshQuotes(ctx)

	tickTicker := time.NewTicker(s.tickInterval)
	defer tickTicker.Stop()
	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()
	quoteTicker := time.NewTicker(s.quoteInterval)
	defer quoteTicker.Stop()
	resetTimer := time.NewTimer(untilNextMidnightUTC(time.Now()))
	defer resetTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Orchestrator stopped.")
			return nil
		case <-tickTicker.C:
			s.processTick(ctx)
		case <-pollTicker.C:
			s.pollAdvisors(ctx)
		case <-quoteTicker.C:
			s.refreshQuotes(ctx)
		case <-resetTimer.C:
			s.riskMgr.ResetDailyStats(ctx)
			s.logger.Info(ctx, "Daily risk statistics reset")
			resetTimer.Reset(untilNextMidnightUTC(time.Now()))
		}
	}
}

// untilNextMidnightUTC returns the duration until the next UTC day boundary.
func untilNextMidnightUTC(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now)
}

// processTick advances every open position through the tracker with a fresh
// price and klines for its symbol, persisting whatever the tick changed.
func (s *Service) processTick(ctx context.Context) {
	open, err := s.positions.FindOpen(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load open positions for tick")
		return
	}
	if len(open) == 0 {
		return
	}

	bySymbol := make(map[string][]*domain.Position)
	for _, pos := range open {
		bySymbol[pos.Symbol] = append(bySymbol[pos.Symbol], pos)
	}

	now := time.Now().UTC()
	for symbol, positions := range bySymbol {
		price, err := s.exchange.GetTickerPrice(ctx, symbol)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to fetch tick price", map[string]interface{}{"symbol": symbol})
			continue
		}
		klines, err := s.exchange.GetKlines(ctx, symbol, s.klineInterval, s.tracker.RequiredDataPoints())
		if err != nil {
			s.logger.Error(ctx, err, "Failed to fetch klines for tick", map[string]interface{}{"symbol": symbol})
			continue
		}

		for _, pos := range positions {
			s.tickPosition(ctx, pos, price, klines, now)
		}
	}
}

// tickPosition runs one position through the tracker and persists the result.
func (s *Service) tickPosition(ctx context.Context, pos *domain.Position, price float64, klines []*domain.Kline, now time.Time) {
	result, err := s.tracker.OnTick(ctx, pos, price, klines, now)
	if err != nil {
		s.logger.Error(ctx, err, "Tracker tick failed", map[string]interface{}{"positionID": pos.ID})
		return
	}
	if result.Outcome == sltp.OutcomeNone {
		return
	}

	if err := s.positions.Update(ctx, pos); err != nil {
		s.logger.Error(ctx, err, "Failed to persist position after tick", map[string]interface{}{
			"positionID": pos.ID, "outcome": result.Outcome,
		})
		return
	}

	switch result.Outcome {
	case sltp.OutcomeEntered:
		s.riskMgr.RecordOpen(ctx, pos)
		s.submitEntry(ctx, pos)
	case sltp.OutcomeAdjusted:
		s.replaceStopOrder(ctx, pos)
	case sltp.OutcomeClosed:
		s.settleClose(ctx, pos)
		s.recordClose(ctx, pos)
	case sltp.OutcomeExpired:
		s.logger.Info(ctx, "Pending position expired", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol})
	}
}

// submitEntry mirrors a freshly validated entry to the exchange: it sets the
// position's leverage, submits the entry market order and arms exchange-side
// protective orders, recording their IDs on the position.
func (s *Service) submitEntry(ctx context.Context, pos *domain.Position) {
	if err := s.exchange.SetLeverage(ctx, pos.Symbol, pos.Leverage); err != nil {
		s.logger.Warn(ctx, "Failed to set leverage before entry", map[string]interface{}{
			"positionID": pos.ID, "symbol": pos.Symbol, "leverage": pos.Leverage, "error": err.Error(),
		})
	}

	order, err := s.exchange.PlaceMarketOrder(ctx, pos.Symbol, pos.Side.EntrySide(), formatQuantity(pos.Quantity))
	if err != nil {
		s.logger.Error(ctx, err, "Entry order failed, position remains unprotected", map[string]interface{}{
			"positionID": pos.ID, "symbol": pos.Symbol,
		})
		return
	}
	// Prefer the exchange fill price over the tick price when available.
	if order.AvgPrice > 0 {
		pos.EntryPrice = order.AvgPrice
	}

	s.armProtectiveOrders(ctx, pos)

	if err := s.positions.Update(ctx, pos); err != nil {
		s.logger.Error(ctx, err, "Failed to persist order IDs after entry", map[string]interface{}{"positionID": pos.ID})
	}
}

// armProtectiveOrders places the stop-market and take-profit-market orders
// guarding an active position.
func (s *Service) armProtectiveOrders(ctx context.Context, pos *domain.Position) {
	exitSide := pos.Side.ExitSide()
	qty := formatQuantity(pos.Quantity)

	if stop := pos.EffectiveStop(); stop > 0 {
		order, err := s.exchange.PlaceStopMarketOrder(ctx, pos.Symbol, exitSide, qty, formatPrice(stop))
		if err != nil {
			s.logger.Error(ctx, err, "Failed to place stop order", map[string]interface{}{
				"positionID": pos.ID, "symbol": pos.Symbol, "stopPrice": stop,
			})
		} else {
			id := strconv.FormatInt(order.OrderID, 10)
			pos.StopLossOrderID = &id
		}
	}

	if pos.TakeProfit > 0 {
		order, err := s.exchange.PlaceTakeProfitMarketOrder(ctx, pos.Symbol, exitSide, qty, formatPrice(pos.TakeProfit))
		if err != nil {
			s.logger.Error(ctx, err, "Failed to place take-profit order", map[string]interface{}{
				"positionID": pos.ID, "symbol": pos.Symbol, "takeProfit": pos.TakeProfit,
			})
		} else {
			id := strconv.FormatInt(order.OrderID, 10)
			pos.TakeProfitOrderID = &id
		}
	}
}

// replaceStopOrder swaps the exchange-side stop order for one at the
// position's current effective stop after the tracker moved it.
func (s *Service) replaceStopOrder(ctx context.Context, pos *domain.Position) {
	s.cancelTrackedOrder(ctx, pos.Symbol, pos.StopLossOrderID)
	pos.StopLossOrderID = nil

	stop := pos.EffectiveStop()
	if stop <= 0 {
		return
	}
	order, err := s.exchange.PlaceStopMarketOrder(ctx, pos.Symbol, pos.Side.ExitSide(), formatQuantity(pos.Quantity), formatPrice(stop))
	if err != nil {
		s.logger.Error(ctx, err, "Failed to replace stop order", map[string]interface{}{
			"positionID": pos.ID, "symbol": pos.Symbol, "stopPrice": stop,
		})
	} else {
		id := strconv.FormatInt(order.OrderID, 10)
		pos.StopLossOrderID = &id
	}

	if err := s.positions.Update(ctx, pos); err != nil {
		s.logger.Error(ctx, err, "Failed to persist replaced stop order", map[string]interface{}{"positionID": pos.ID})
	}
}

// settleClose clears leftover protective orders after a tracked close and
// flattens whatever position the exchange still reports. The order that fired
// the close is usually already gone; its cancel resolving to not-found is fine.
func (s *Service) settleClose(ctx context.Context, pos *domain.Position) {
	s.cancelTrackedOrder(ctx, pos.Symbol, pos.StopLossOrderID)
	s.cancelTrackedOrder(ctx, pos.Symbol, pos.TakeProfitOrderID)
	pos.StopLossOrderID = nil
	pos.TakeProfitOrderID = nil

	risk, err := s.exchange.GetPositionRisk(ctx, pos.Symbol)
	if err != nil {
		s.logger.Warn(ctx, "Could not verify exchange position on close", map[string]interface{}{
			"positionID": pos.ID, "symbol": pos.Symbol, "error": err.Error(),
		})
	} else if risk != nil && risk.PositionAmt != 0 {
		qty := formatQuantity(math.Abs(risk.PositionAmt))
		if _, err := s.exchange.PlaceMarketOrder(ctx, pos.Symbol, pos.Side.ExitSide(), qty); err != nil {
			s.logger.Error(ctx, err, "Failed to flatten exchange position on close", map[string]interface{}{
				"positionID": pos.ID, "symbol": pos.Symbol, "quantity": qty,
			})
		}
	}

	if err := s.positions.Update(ctx, pos); err != nil {
		s.logger.Error(ctx, err, "Failed to persist cleared order IDs on close", map[string]interface{}{"positionID": pos.ID})
	}
}

// cancelTrackedOrder cancels one tracked protective order, tolerating orders
// the exchange no longer knows about.
func (s *Service) cancelTrackedOrder(ctx context.Context, symbol string, orderID *string) {
	if orderID == nil {
		return
	}
	id, err := strconv.ParseInt(*orderID, 10, 64)
	if err != nil {
		s.logger.Warn(ctx, "Tracked order ID is not numeric, skipping cancel", map[string]interface{}{
			"symbol": symbol, "orderID": *orderID,
		})
		return
	}
	if _, err := s.exchange.CancelOrder(ctx, symbol, id); err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
		s.logger.Warn(ctx, "Failed to cancel protective order", map[string]interface{}{
			"symbol": symbol, "orderID": id, "error": err.Error(),
		})
	}
}

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// recordClose writes the trade record for a closed position and feeds the
// result into the risk statistics.
func (s *Service) recordClose(ctx context.Context, pos *domain.Position) {
	trade := &domain.Trade{
		PositionID:  pos.ID,
		BotID:       pos.BotID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   pos.ExitPrice,
		Quantity:    pos.Quantity,
		Leverage:    pos.Leverage,
		PNL:         pos.PNL,
		EntryTime:   pos.EntryTime,
		ExitTime:    pos.ExitTime,
		CloseReason: pos.CloseReason,
	}
	if _, err := s.trades.CreateTrade(ctx, trade); err != nil {
		s.logger.Error(ctx, err, "Failed to record trade for closed position", map[string]interface{}{"positionID": pos.ID})
		return
	}

	balance, err := s.exchange.GetAccountBalance(ctx, s.quoteCurrency)
	if err != nil {
		s.logger.Warn(ctx, "Balance unavailable for risk accounting", map[string]interface{}{"error": err.Error()})
		balance = 0
	}
	s.riskMgr.RecordClose(ctx, trade, balance)

	if err := s.riskMgr.CheckRiskLimits(ctx, balance); err != nil {
		s.logger.Warn(ctx, "Risk limit breached, new entries suspended until reset", map[string]interface{}{"reason": err.Error()})
	}
}

// pollAdvisors expires stale signals, then polls the advisor for every active
// bot whose poll interval has elapsed.
func (s *Service) pollAdvisors(ctx context.Context) {
	if _, err := s.recSvc.ExpireStale(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to expire stale recommendations")
	}

	active, err := s.botSvc.ListActive(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to list active bots for advisor poll")
		return
	}

	now := time.Now().UTC()
	for _, bot := range active {
		if !s.pollDue(bot, now) {
			continue
		}
		rec, err := s.recSvc.Poll(ctx, bot)
		if err != nil {
			s.logger.Error(ctx, err, "Advisor poll failed", map[string]interface{}{"botID": bot.ID})
			continue
		}
		s.markPolled(bot.ID, now)
		if rec == nil {
			continue
		}
		s.maybeAutoAccept(ctx, rec)
	}
}

func (s *Service) pollDue(bot *domain.Bot, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastPolled[bot.ID]
	if !ok {
		return true
	}
	interval := bot.PollInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return now.Sub(last) >= interval
}

func (s *Service) markPolled(botID int64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPolled[botID] = now
}

// maybeAutoAccept accepts a fresh actionable signal when its confidence
// clears the configured threshold and the risk limits allow a new entry.
func (s *Service) maybeAutoAccept(ctx context.Context, rec *domain.Recommendation) {
	if s.autoAccept <= 0 || !rec.IsActionable() || rec.Confidence < s.autoAccept {
		return
	}

	balance, err := s.exchange.GetAccountBalance(ctx, s.quoteCurrency)
	if err != nil {
		s.logger.Warn(ctx, "Skipping auto-accept, balance unavailable", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := s.riskMgr.CheckRiskLimits(ctx, balance); err != nil {
		s.logger.Warn(ctx, "Skipping auto-accept, risk limits active", map[string]interface{}{
			"recommendationID": rec.ID, "reason": err.Error(),
		})
		return
	}

	pos, err := s.recSvc.Accept(ctx, rec.ID)
	if err != nil {
		s.logger.Error(ctx, err, "Auto-accept failed", map[string]interface{}{"recommendationID": rec.ID})
		return
	}
	s.logger.Info(ctx, "Recommendation auto-accepted", map[string]interface{}{
		"recommendationID": rec.ID, "positionID": pos.ID, "confidence": rec.Confidence,
	})
}

// refreshQuotes fetches spot quotes for the configured assets and writes them
// through to the cache.
func (s *Service) refreshQuotes(ctx context.Context) {
	if s.market == nil || s.cache == nil || len(s.quoteAssets) == 0 {
		return
	}
	quotes, err := s.market.GetQuotes(ctx, s.quoteAssets, s.quoteCurrency)
	if err != nil {
		s.logger.Error(ctx, err, "Quote refresh failed")
		return
	}
	for _, quote := range quotes {
		if err := s.cache.Put(ctx, quote); err != nil {
			s.logger.Warn(ctx, "Failed to cache refreshed quote", map[string]interface{}{
				"asset": quote.Asset, "error": err.Error(),
			})
		}
	}
	s.logger.Debug(ctx, "Quote cache refreshed", map[string]interface{}{"assets": len(quotes)})
}
