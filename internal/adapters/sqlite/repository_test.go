package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cryptoPilot/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
func (m *mockLogger) Fatal(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "crypto-pilot-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	})

	return repo
}

func pendingPosition(symbol string) *domain.Position {
	return &domain.Position{
		BotID:            1,
		Symbol:           symbol,
		Side:             domain.Long,
		PlannedEntry:     2000.0,
		Quantity:         1.0,
		Leverage:         4,
		StopLoss:         1900.0,
		TakeProfit:       2200.0,
		Phase:            domain.PhasePending,
		EntryDeadline:    time.Now().Add(time.Hour).UTC(),
		RecommendationID: uuid.NewString(),
	}
}

func TestRepository_CreateAndFindPosition(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	pos := pendingPosition("ETHUSDT")
	id, err := repo.Create(ctx, pos)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	found, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.Equal(t, pos.Symbol, found.Symbol)
	assert.Equal(t, domain.Long, found.Side)
	assert.Equal(t, domain.PhasePending, found.Phase)
	assert.Equal(t, pos.PlannedEntry, found.PlannedEntry)
	assert.Equal(t, pos.Quantity, found.Quantity)
	assert.Equal(t, pos.Leverage, found.Leverage)
	assert.Equal(t, pos.StopLoss, found.StopLoss)
	assert.Equal(t, pos.TakeProfit, found.TakeProfit)
	assert.Equal(t, pos.RecommendationID, found.RecommendationID)
	assert.False(t, found.EntryDeadline.IsZero())
	assert.True(t, found.EntryTime.IsZero())
	assert.Nil(t, found.StopLossOrderID)

	// Unknown IDs are not an error, just a nil result.
	missing, err := repo.FindByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_UpdatePositionLifecycle(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	pos := pendingPosition("ETHUSDT")
	_, err := repo.Create(ctx, pos)
	require.NoError(t, err)

	// Fill the entry.
	orderID := "sl-order-1"
	pos.Phase = domain.PhaseActive
	pos.EntryPrice = 2001.5
	pos.EntryTime = time.Now().UTC()
	pos.HighWaterMark = 2001.5
	pos.StopLossOrderID = &orderID
	require.NoError(t, repo.Update(ctx, pos))

	found, err := repo.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.PhaseActive, found.Phase)
	assert.Equal(t, 2001.5, found.EntryPrice)
	assert.False(t, found.EntryTime.IsZero())
	require.NotNil(t, found.StopLossOrderID)
	assert.Equal(t, orderID, *found.StopLossOrderID)

	// Trailing engages.
	pos.TrailingActive = true
	pos.TrailingStopPrice = 2050.0
	pos.HighWaterMark = 2100.0
	require.NoError(t, repo.Update(ctx, pos))

	found, err = repo.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, found.TrailingActive)
	assert.Equal(t, 2050.0, found.TrailingStopPrice)
	assert.Equal(t, 2100.0, found.HighWaterMark)

	// Close out.
	pos.Phase = domain.PhaseClosed
	pos.ExitPrice = 2050.0
	pos.ExitTime = time.Now().UTC()
	pos.CloseReason = domain.CloseReasonTrailingStop
	pos.PNL = 48.5
	require.NoError(t, repo.Update(ctx, pos))

	found, err = repo.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseClosed, found.Phase)
	assert.Equal(t, domain.CloseReasonTrailingStop, found.CloseReason)
	assert.Equal(t, 48.5, found.PNL)

	// Updating a non-existent position reports not found.
	ghost := pendingPosition("BTCUSDT")
	ghost.ID = 999
	assert.Error(t, repo.Update(ctx, ghost))
}

func TestRepository_FindOpenPositions(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	open := pendingPosition("ETHUSDT")
	_, err := repo.Create(ctx, open)
	require.NoError(t, err)

	closed := pendingPosition("BTCUSDT")
	_, err = repo.Create(ctx, closed)
	require.NoError(t, err)
	closed.Phase = domain.PhaseClosed
	closed.ExitTime = time.Now().UTC()
	closed.CloseReason = domain.CloseReasonManual
	require.NoError(t, repo.Update(ctx, closed))

	got, err := repo.FindOpenBySymbol(ctx, "ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, open.ID, got.ID)

	got, err = repo.FindOpenBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, got)

	all, err := repo.FindOpen(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, open.ID, all[0].ID)

	byBot, err := repo.FindPositionsByBot(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, byBot, 2)
}

func TestRepository_GetTotalProfit(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	total, err := repo.GetTotalProfit(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)

	for _, pnl := range []float64{100.0, -40.0} {
		pos := pendingPosition("ETHUSDT")
		_, err := repo.Create(ctx, pos)
		require.NoError(t, err)
		pos.Phase = domain.PhaseClosed
		pos.ExitTime = time.Now().UTC()
		pos.PNL = pnl
		require.NoError(t, repo.Update(ctx, pos))
	}

	total, err = repo.GetTotalProfit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60.0, total)
}

func TestRepository_Trades(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	trade := &domain.Trade{
		PositionID:  1,
		BotID:       2,
		Symbol:      "ETHUSDT",
		Side:        domain.Long,
		EntryPrice:  2000.0,
		ExitPrice:   2100.0,
		Quantity:    1.0,
		Leverage:    4,
		PNL:         100.0,
		EntryTime:   time.Now().Add(-time.Hour).UTC(),
		ExitTime:    time.Now().UTC(),
		CloseReason: domain.CloseReasonTakeProfit,
	}
	id, err := repo.CreateTrade(ctx, trade)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	bySymbol, err := repo.FindBySymbol(ctx, "ETHUSDT", 10)
	require.NoError(t, err)
	require.Len(t, bySymbol, 1)
	assert.Equal(t, domain.Long, bySymbol[0].Side)
	assert.Equal(t, int64(2), bySymbol[0].BotID)
	assert.Equal(t, domain.CloseReasonTakeProfit, bySymbol[0].CloseReason)

	byBot, err := repo.FindTradesByBot(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, byBot, 1)

	count, err := repo.CountTodayBySymbol(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Trades entered before the current UTC day are not counted.
	old := *trade
	old.ID = 0
	old.EntryTime = time.Now().UTC().Add(-48 * time.Hour)
	old.ExitTime = time.Now().UTC().Add(-47 * time.Hour)
	_, err = repo.CreateTrade(ctx, &old)
	require.NoError(t, err)

	count, err = repo.CountTodayBySymbol(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRepository_Portfolios(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	p := &domain.Portfolio{Name: "main", BaseCurrency: "USDT", CreatedAt: now, UpdatedAt: now}
	id, err := repo.CreatePortfolio(ctx, p)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	holding := &domain.Holding{
		PortfolioID: id,
		Asset:       "ETH",
		Amount:      decimal.RequireFromString("1.5"),
		CostBasis:   decimal.RequireFromString("1850.25"),
		UpdatedAt:   now,
	}
	require.NoError(t, repo.UpsertHolding(ctx, holding))

	// Upsert replaces the existing row for the same asset.
	holding.Amount = decimal.RequireFromString("2.5")
	require.NoError(t, repo.UpsertHolding(ctx, holding))

	found, err := repo.FindPortfolioByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "main", found.Name)
	require.Len(t, found.Holdings, 1)
	assert.True(t, found.Holdings[0].Amount.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, found.Holdings[0].CostBasis.Equal(decimal.RequireFromString("1850.25")))

	found.Name = "renamed"
	found.UpdatedAt = time.Now().UTC()
	require.NoError(t, repo.UpdatePortfolio(ctx, found))

	all, err := repo.FindAllPortfolios(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "renamed", all[0].Name)

	require.NoError(t, repo.DeleteHolding(ctx, id, "ETH"))
	assert.Error(t, repo.DeleteHolding(ctx, id, "ETH")) // already gone

	require.NoError(t, repo.DeletePortfolio(ctx, id))
	missing, err := repo.FindPortfolioByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_Bots(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	bot := &domain.Bot{
		Name:               "eth-swing",
		Symbol:             "ETHUSDT",
		PortfolioID:        1,
		Status:             domain.BotActive,
		Quantity:           0.5,
		Leverage:           3,
		StopLossPercent:    0.02,
		TakeProfitPercent:  0.05,
		TrailingActivation: 0.015,
		ATRMultiplier:      1.5,
		MaxDailyTrades:     10,
		AdvisorModel:       "gpt-4o-mini",
		PollInterval:       time.Hour,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	id, err := repo.CreateBot(ctx, bot)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	found, err := repo.FindBotByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "eth-swing", found.Name)
	assert.Equal(t, domain.BotActive, found.Status)
	assert.Equal(t, time.Hour, found.PollInterval)
	assert.Equal(t, 1.5, found.ATRMultiplier)

	found.Status = domain.BotPaused
	found.UpdatedAt = time.Now().UTC()
	require.NoError(t, repo.UpdateBot(ctx, found))

	active, err := repo.FindBotsByStatus(ctx, domain.BotActive)
	require.NoError(t, err)
	assert.Empty(t, active)

	paused, err := repo.FindBotsByStatus(ctx, domain.BotPaused)
	require.NoError(t, err)
	assert.Len(t, paused, 1)

	all, err := repo.FindAllBots(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.DeleteBot(ctx, id))
	missing, err := repo.FindBotByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_Recommendations(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := &domain.Recommendation{
		ID:         uuid.NewString(),
		BotID:      1,
		Symbol:     "ETHUSDT",
		Provider:   "openai",
		Model:      "gpt-4o-mini",
		Action:     domain.ActionBuy,
		Confidence: 0.8,
		EntryPrice: 2000.0,
		StopLoss:   1940.0,
		TakeProfit: 2120.0,
		Reasoning:  "momentum building above support",
		Status:     domain.RecommendationPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	}
	require.NoError(t, repo.CreateRecommendation(ctx, rec))

	found, err := repo.FindRecommendationByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.ActionBuy, found.Action)
	assert.Equal(t, 0.8, found.Confidence)
	assert.Equal(t, domain.RecommendationPending, found.Status)

	pending, err := repo.FindPendingByBot(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, repo.UpdateRecommendationStatus(ctx, rec.ID, domain.RecommendationAccepted))
	pending, err = repo.FindPendingByBot(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, pending)

	recent, err := repo.FindRecentByBot(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.RecommendationAccepted, recent[0].Status)

	assert.Error(t, repo.UpdateRecommendationStatus(ctx, "does-not-exist", domain.RecommendationRejected))
}

func TestRepository_ExpirePending(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	stale := &domain.Recommendation{
		ID:        uuid.NewString(),
		BotID:     1,
		Symbol:    "ETHUSDT",
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		Action:    domain.ActionBuy,
		Status:    domain.RecommendationPending,
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	fresh := &domain.Recommendation{
		ID:        uuid.NewString(),
		BotID:     1,
		Symbol:    "ETHUSDT",
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		Action:    domain.ActionSell,
		Status:    domain.RecommendationPending,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, repo.CreateRecommendation(ctx, stale))
	require.NoError(t, repo.CreateRecommendation(ctx, fresh))

	expired, err := repo.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	found, err := repo.FindRecommendationByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecommendationExpired, found.Status)

	found, err = repo.FindRecommendationByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecommendationPending, found.Status)
}
