package recommendation

import (
	"context"
	"testing"
	"time"

	"cryptoPilot/internal/domain"
	"cryptoPilot/internal/ports"

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

// memRecRepo is an in-memory ports.RecommendationRepository.
type memRecRepo struct {
	recs map[string]*domain.Recommendation
}

func newMemRecRepo() *memRecRepo {
	return &memRecRepo{recs: make(map[string]*domain.Recommendation)}
}

func (r *memRecRepo) CreateRecommendation(ctx context.Context, rec *domain.Recommendation) error {
	cp := *rec
	r.recs[rec.ID] = &cp
	return nil
}

func (r *memRecRepo) UpdateRecommendationStatus(ctx context.Context, id string, status domain.RecommendationStatus) error {
	rec, ok := r.recs[id]
	if !ok {
		return ports.ErrNotFound
	}
	rec.Status = status
	return nil
}

func (r *memRecRepo) FindRecommendationByID(ctx context.Context, id string) (*domain.Recommendation, error) {
	rec, ok := r.recs[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *memRecRepo) FindPendingByBot(ctx context.Context, botID int64) ([]*domain.Recommendation, error) {
	var out []*domain.Recommendation
	for _, rec := range r.recs {
		if rec.BotID == botID && rec.Status == domain.RecommendationPending {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRecRepo) FindRecentByBot(ctx context.Context, botID int64, limit int) ([]*domain.Recommendation, error) {
	var out []*domain.Recommendation
	for _, rec := range r.recs {
		if rec.BotID == botID && len(out) < limit {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRecRepo) ExpirePending(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	var n int64
	for _, rec := range r.recs {
		if rec.Status == domain.RecommendationPending && !rec.ExpiresAt.After(now) {
			rec.Status = domain.RecommendationExpired
			n++
		}
	}
	return n, nil
}

// memPosRepo is an in-memory ports.PositionRepository.
type memPosRepo struct {
	nextID    int64
	positions map[int64]*domain.Position
}

func newMemPosRepo() *memPosRepo {
	return &memPosRepo{nextID: 1, positions: make(map[int64]*domain.Position)}
}

func (r *memPosRepo) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	pos.ID = r.nextID
	r.nextID++
	cp := *pos
	r.positions[pos.ID] = &cp
	return pos.ID, nil
}

func (r *memPosRepo) Update(ctx context.Context, pos *domain.Position) error {
	if _, ok := r.positions[pos.ID]; !ok {
		return ports.ErrNotFound
	}
	cp := *pos
	r.positions[pos.ID] = &cp
	return nil
}

func (r *memPosRepo) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	for _, pos := range r.positions {
		if pos.Symbol == symbol && pos.IsOpen() {
			cp := *pos
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memPosRepo) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	var out []*domain.Position
	for _, pos := range r.positions {
		if pos.IsOpen() {
			cp := *pos
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memPosRepo) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	pos, ok := r.positions[id]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

func (r *memPosRepo) FindPositionsByBot(ctx context.Context, botID int64) ([]*domain.Position, error) {
	var out []*domain.Position
	for _, pos := range r.positions {
		if pos.BotID == botID {
			cp := *pos
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memPosRepo) GetTotalProfit(ctx context.Context) (float64, error) { return 0, nil }

// memBotRepo serves a fixed set of bots.
type memBotRepo struct {
	bots map[int64]*domain.Bot
}

func (r *memBotRepo) CreateBot(ctx context.Context, b *domain.Bot) (int64, error) { return 0, nil }
func (r *memBotRepo) UpdateBot(ctx context.Context, b *domain.Bot) error          { return nil }
func (r *memBotRepo) DeleteBot(ctx context.Context, id int64) error               { return nil }
func (r *memBotRepo) FindBotByID(ctx context.Context, id int64) (*domain.Bot, error) {
	b, ok := r.bots[id]
	if !ok {
		return nil, nil
	}
	return b, nil
}
func (r *memBotRepo) FindBotsByStatus(ctx context.Context, status domain.BotStatus) ([]*domain.Bot, error) {
	return nil, nil
}
func (r *memBotRepo) FindAllBots(ctx context.Context) ([]*domain.Bot, error) { return nil, nil }

// stubExchange serves canned klines, prices and balances.
type stubExchange struct {
	klines  []*domain.Kline
	price   float64
	balance float64
}

func (s *stubExchange) SetServerTime(ctx context.Context) error { return nil }
func (s *stubExchange) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return s.price, nil
}
func (s *stubExchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	return s.price, nil
}
func (s *stubExchange) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	return s.balance, nil
}
func (s *stubExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}
func (s *stubExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*ports.OrderResponse, error) {
	return &ports.OrderResponse{}, nil
}
func (s *stubExchange) PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, stopPrice string) (*ports.OrderResponse, error) {
	return &ports.OrderResponse{}, nil
}
func (s *stubExchange) PlaceTakeProfitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, stopPrice string) (*ports.OrderResponse, error) {
	return &ports.OrderResponse{}, nil
}
func (s *stubExchange) GetPositionRisk(ctx context.Context, symbol string) (*ports.PositionRisk, error) {
	return nil, nil
}
func (s *stubExchange) Ping(ctx context.Context) error { return nil }
func (s *stubExchange) GetServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}
func (s *stubExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	return s.klines, nil
}
func (s *stubExchange) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	return s.klines, nil
}
func (s *stubExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	return &ports.OrderResponse{}, nil
}

// stubMarket returns a fixed 24h change.
type stubMarket struct {
	change float64
}

func (m *stubMarket) GetQuote(ctx context.Context, asset, currency string) (*ports.Quote, error) {
	return &ports.Quote{Asset: asset, Currency: currency, Price: 2000, Change24hPct: m.change}, nil
}
func (m *stubMarket) GetQuotes(ctx context.Context, assets []string, currency string) (map[string]*ports.Quote, error) {
	return nil, nil
}

// stubAdvisor records the request and returns a canned recommendation.
type stubAdvisor struct {
	lastReq ports.AdviceRequest
	rec     *domain.Recommendation
	err     error
}

func (a *stubAdvisor) Advise(ctx context.Context, req ports.AdviceRequest) (*domain.Recommendation, error) {
	a.lastReq = req
	if a.err != nil {
		return nil, a.err
	}
	cp := *a.rec
	cp.BotID = req.BotID
	cp.Symbol = req.Snapshot.Symbol
	return &cp, nil
}

func testKlines(n int, base float64) []*domain.Kline {
	klines := make([]*domain.Kline, n)
	start := time.Now().UTC().Add(-time.Duration(n) * time.Hour)
	for i := range klines {
		price := base + float64(i)
		klines[i] = &domain.Kline{
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			CloseTime: start.Add(time.Duration(i+1) * time.Hour),
			Symbol:    "ETHUSDT",
			Interval:  "1h",
			Open:      price,
			High:      price + 5,
			Low:       price - 5,
			Close:     price + 1,
			Volume:    1000,
			IsFinal:   true,
		}
	}
	return klines
}

func activeBot() *domain.Bot {
	return &domain.Bot{
		ID:           7,
		Name:         "eth-trend",
		Symbol:       "ETHUSDT",
		Status:       domain.BotActive,
		Quantity:     0.5,
		Leverage:     5,
		AdvisorModel: "gpt-4o-mini",
	}
}

func buyRecommendation() *domain.Recommendation {
	return &domain.Recommendation{
		Provider:   "openai",
		Model:      "gpt-4o-mini",
		Action:     domain.ActionBuy,
		Confidence: 0.8,
		EntryPrice: 2000,
		StopLoss:   1940,
		TakeProfit: 2120,
		Reasoning:  "uptrend",
	}
}

type testDeps struct {
	recs      *memRecRepo
	positions *memPosRepo
	bots      *memBotRepo
	exchange  *stubExchange
	advisor   *stubAdvisor
}

func newTestService(t *testing.T) (*Service, *testDeps) {
	t.Helper()
	deps := &testDeps{
		recs:      newMemRecRepo(),
		positions: newMemPosRepo(),
		bots:      &memBotRepo{bots: map[int64]*domain.Bot{7: activeBot()}},
		exchange:  &stubExchange{klines: testKlines(60, 2000), price: 2060, balance: 10000},
		advisor:   &stubAdvisor{rec: buyRecommendation()},
	}
	svc, err := NewService(Config{
		Repo:      deps.recs,
		Positions: deps.positions,
		Bots:      deps.bots,
		Exchange:  deps.exchange,
		Market:    &stubMarket{change: 2.5},
		Advisor:   deps.advisor,
		Logger:    &mockLogger{},
	})
	require.NoError(t, err)
	return svc, deps
}

func TestService_Poll(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Poll(ctx, activeBot())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, domain.RecommendationPending, rec.Status)
	assert.False(t, rec.ExpiresAt.IsZero())
	assert.True(t, rec.ExpiresAt.After(rec.CreatedAt))

	// Snapshot carried real market state to the advisor.
	snap := deps.advisor.lastReq.Snapshot
	assert.Equal(t, "ETHUSDT", snap.Symbol)
	assert.Equal(t, 2060.0, snap.Price)
	assert.Equal(t, 2.5, snap.Change24hPct)
	assert.Equal(t, 10000.0, snap.Balance)
	assert.Greater(t, snap.ATR, 0.0)
	assert.Greater(t, snap.RSI, 0.0)
	assert.Greater(t, snap.EMAFast, snap.EMASlow, "rising series has fast EMA above slow")

	stored, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Action, stored.Action)
}

func TestService_Poll_SkipsPausedBot(t *testing.T) {
	svc, deps := newTestService(t)

	bot := activeBot()
	bot.Status = domain.BotPaused
	rec, err := svc.Poll(context.Background(), bot)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, deps.recs.recs)
}

func TestService_Poll_SkipsOpenPosition(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	_, err := deps.positions.Create(ctx, &domain.Position{
		Symbol: "ETHUSDT", Side: domain.Long, Phase: domain.PhaseActive, EntryPrice: 2000,
	})
	require.NoError(t, err)

	rec, err := svc.Poll(ctx, activeBot())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestService_Poll_AdvisorFailure(t *testing.T) {
	svc, deps := newTestService(t)
	deps.advisor.err = ports.ErrAdvisorUnavailable

	_, err := svc.Poll(context.Background(), activeBot())
	assert.ErrorIs(t, err, ports.ErrAdvisorUnavailable)
	assert.Empty(t, deps.recs.recs)
}

func TestService_Accept(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Poll(ctx, activeBot())
	require.NoError(t, err)

	pos, err := svc.Accept(ctx, rec.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.PhasePending, pos.Phase)
	assert.Equal(t, domain.Long, pos.Side)
	assert.Equal(t, 2000.0, pos.PlannedEntry)
	assert.Equal(t, 1940.0, pos.StopLoss)
	assert.Equal(t, 2120.0, pos.TakeProfit)
	assert.Equal(t, 0.5, pos.Quantity, "sized from the bot")
	assert.Equal(t, 5, pos.Leverage)
	assert.Equal(t, rec.ID, pos.RecommendationID)
	assert.False(t, pos.EntryDeadline.IsZero())

	saved, err := deps.positions.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	require.NotNil(t, saved, "accepted signal persists a pending position")
	assert.Equal(t, domain.PhasePending, saved.Phase)

	stored, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecommendationAccepted, stored.Status)

	// A second accept is rejected: the signal is no longer pending.
	_, err = svc.Accept(ctx, rec.ID)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestService_Accept_HoldSignal(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	deps.advisor.rec = &domain.Recommendation{Action: domain.ActionHold, Confidence: 0.3}
	rec, err := svc.Poll(ctx, activeBot())
	require.NoError(t, err)

	_, err = svc.Accept(ctx, rec.ID)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestService_Accept_Expired(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Poll(ctx, activeBot())
	require.NoError(t, err)
	deps.recs.recs[rec.ID].ExpiresAt = time.Now().UTC().Add(-time.Minute)

	_, err = svc.Accept(ctx, rec.ID)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	stored, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecommendationExpired, stored.Status)
}

func TestService_Reject(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Poll(ctx, activeBot())
	require.NoError(t, err)

	require.NoError(t, svc.Reject(ctx, rec.ID))
	stored, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecommendationRejected, stored.Status)

	assert.ErrorIs(t, svc.Reject(ctx, rec.ID), ports.ErrInvalidRequest)
}

func TestService_ExpireStale(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()

	stale, err := svc.Poll(ctx, activeBot())
	require.NoError(t, err)
	deps.recs.recs[stale.ID].ExpiresAt = time.Now().UTC().Add(-time.Minute)

	n, err := svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err := svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecommendationExpired, stored.Status)
}
