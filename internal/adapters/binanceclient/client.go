package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cryptoPilot/internal/domain"
	"cryptoPilot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

// REST endpoints for USD-M futures.
const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements ports.ExchangeClient on top of go-binance. All market
// data is fetched over REST; the platform polls rather than streams.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds the Binance adapter settings.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a Binance futures client against the testnet or production
// endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "Binance API keys are empty, only public endpoints will work")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	client.BaseURL = baseURLProduction
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{
		"baseURL": client.BaseURL,
		"testnet": cfg.UseTestnet,
	})

	return &Client{futuresClient: client, logger: cfg.Logger}, nil
}

// apiErrors maps Binance API error codes onto the platform's error taxonomy.
// Codes not listed fall back to classifyAPIError's family handling.
var apiErrors = map[int64]error{
	-1003: ports.ErrRateLimited,          // too many requests
	-1021: ports.ErrTimeout,              // timestamp outside recvWindow
	-1022: ports.ErrAuthenticationFailed, // invalid signature
	-2010: ports.ErrOrderPlacementFailed, // new order rejected
	-2011: ports.ErrOrderCancelFailed,    // cancel rejected
	-2013: ports.ErrOrderNotFound,        // order does not exist
	-2014: ports.ErrInvalidAPIKeys,       // key format invalid
	-2015: ports.ErrInvalidAPIKeys,       // key, IP, or permissions
	-2019: ports.ErrInsufficientFunds,    // margin insufficient
	-2022: ports.ErrOrderPlacementFailed, // reduce-only rejected
	-3005: ports.ErrInsufficientFunds,    // insufficient balance
	-3041: ports.ErrInsufficientFunds,    // position not sufficient
	-4003: ports.ErrInvalidRequest,       // quantity out of range
	-4014: ports.ErrInvalidRequest,       // price out of range
	-4015: ports.ErrInvalidRequest,       // invalid leverage
	-4044: ports.ErrPositionNotFound,
	-4047: ports.ErrInsufficientFunds, // max position at current leverage
}

func classifyAPIError(code int64) error {
	if mapped, ok := apiErrors[code]; ok {
		return mapped
	}
	// The -11xx family covers malformed requests and parameters.
	if code <= -1100 && code > -1200 {
		return ports.ErrInvalidRequest
	}
	return ports.ErrUnknown
}

func classifyTransportError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ports.ErrTimeout
	case errors.Is(err, context.Canceled):
		return ports.ErrContextCanceled
	}
	msg := err.Error()
	for _, hint := range []string{
		"use of closed network connection",
		"connection refused",
		"connection reset by peer",
	} {
		if strings.Contains(msg, hint) {
			return ports.ErrConnectionFailed
		}
	}
	return ports.ErrUnknown
}

// wrapErr classifies an exchange failure into a ports error, logs it, and
// wraps the original so both sentinels survive errors.Is checks.
func (c *Client) wrapErr(ctx context.Context, err error, op string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": op}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["code"] = apiErr.Code
		fields["message"] = apiErr.Message
		c.logger.Error(ctx, err, "Binance API call failed", fields)
		return fmt.Errorf("%s failed: %w: %w", op, classifyAPIError(apiErr.Code), err)
	}

	c.logger.Error(ctx, err, "Binance request failed", fields)
	return fmt.Errorf("%s failed: %w: %w", op, classifyTransportError(err), err)
}

// SetServerTime synchronizes the client clock offset with the exchange.
func (c *Client) SetServerTime(ctx context.Context) error {
	if _, err := c.futuresClient.NewSetServerTimeService().Do(ctx); err != nil {
		return c.wrapErr(ctx, err, "SetServerTime")
	}
	c.logger.Debug(ctx, "Server time synchronized")
	return nil
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.wrapErr(ctx, err, "Ping")
	}
	return nil
}

// GetServerTime returns the exchange's current time.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	ms, err := c.futuresClient.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.wrapErr(ctx, err, "GetServerTime")
	}
	return time.UnixMilli(ms), nil
}

// GetMarkPrice returns the current mark price for a symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	const op = "GetMarkPrice"
	indexes, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.wrapErr(ctx, err, op)
	}
	if len(indexes) == 0 {
		return 0, c.wrapErr(ctx, fmt.Errorf("no mark price returned for %s", symbol), op)
	}

	price, err := strconv.ParseFloat(indexes[0].MarkPrice, 64)
	if err != nil {
		return 0, c.wrapErr(ctx, fmt.Errorf("parsing mark price %q: %w", indexes[0].MarkPrice, err), op)
	}
	return price, nil
}

// GetTickerPrice returns the last traded price for a symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	const op = "GetTickerPrice"
	stats, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.wrapErr(ctx, err, op)
	}
	if len(stats) == 0 {
		return 0, c.wrapErr(ctx, fmt.Errorf("no ticker returned for %s", symbol), op)
	}

	price, err := strconv.ParseFloat(stats[0].LastPrice, 64)
	if err != nil {
		return 0, c.wrapErr(ctx, fmt.Errorf("parsing ticker price %q: %w", stats[0].LastPrice, err), op)
	}
	return price, nil
}

// GetAccountBalance returns the wallet balance for one asset, e.g. "USDT".
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	const op = "GetAccountBalance"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.wrapErr(ctx, err, op)
	}

	for _, a := range account.Assets {
		if a.Asset != asset {
			continue
		}
		balance, err := strconv.ParseFloat(a.WalletBalance, 64)
		if err != nil {
			return 0, c.wrapErr(ctx, fmt.Errorf("parsing balance %q for %s: %w", a.WalletBalance, asset, err), op)
		}
		return balance, nil
	}
	return 0, c.wrapErr(ctx, fmt.Errorf("asset %s not present in account", asset), op)
}

// SetLeverage sets the leverage used for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.wrapErr(ctx, err, "SetLeverage")
	}
	c.logger.Info(ctx, "Leverage set", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// PlaceMarketOrder submits a market order for the given quantity.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string) (*ports.OrderResponse, error) {
	const op = "PlaceMarketOrder"
	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity).
		Do(ctx)
	if err != nil {
		return nil, c.wrapErr(ctx, err, op)
	}

	resp := toOrderResponse(order)
	c.logger.Info(ctx, "Market order placed", map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
		"orderID":  resp.OrderID,
		"avgPrice": resp.AvgPrice,
	})
	return resp, nil
}

// PlaceStopMarketOrder submits a close-position stop order triggered at
// stopPrice.
func (c *Client) PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string, stopPrice string) (*ports.OrderResponse, error) {
	return c.placeTriggerOrder(ctx, "PlaceStopMarketOrder", futures.OrderTypeStopMarket, symbol, side, quantity, stopPrice)
}

// PlaceTakeProfitMarketOrder submits a close-position take-profit order
// triggered at stopPrice.
func (c *Client) PlaceTakeProfitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string, stopPrice string) (*ports.OrderResponse, error) {
	return c.placeTriggerOrder(ctx, "PlaceTakeProfitMarketOrder", futures.OrderTypeTakeProfitMarket, symbol, side, quantity, stopPrice)
}

// placeTriggerOrder is the shared path for the two protective order types.
// ClosePosition makes the exchange flatten whatever remains when the trigger
// fires, so a trailing adjustment never leaves a partial hanging.
func (c *Client) placeTriggerOrder(ctx context.Context, op string, orderType futures.OrderType, symbol string, side domain.OrderSide, quantity, stopPrice string) (*ports.OrderResponse, error) {
	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(orderType).
		Quantity(quantity).
		StopPrice(stopPrice).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return nil, c.wrapErr(ctx, err, op)
	}

	resp := toOrderResponse(order)
	c.logger.Info(ctx, "Trigger order placed", map[string]interface{}{
		"type":      string(orderType),
		"symbol":    symbol,
		"side":      side,
		"quantity":  quantity,
		"stopPrice": stopPrice,
		"orderID":   resp.OrderID,
		"status":    resp.Status,
	})
	return resp, nil
}

// CancelOrder cancels an open order. A missing order surfaces as
// ports.ErrOrderNotFound via the error mapping.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	const op = "CancelOrder"
	res, err := c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, c.wrapErr(ctx, err, op)
	}

	// The cancel response carries the same fields under a different type.
	resp := toOrderResponse(&futures.CreateOrderResponse{
		OrderID:       res.OrderID,
		Symbol:        res.Symbol,
		ClientOrderID: res.ClientOrderID,
		Price:         res.Price,
		OrigQuantity:  res.OrigQuantity,
		Status:        res.Status,
		TimeInForce:   res.TimeInForce,
		Type:          res.Type,
		Side:          res.Side,
	})
	c.logger.Info(ctx, "Order canceled", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": resp.Status})
	return resp, nil
}

// GetPositionRisk returns the open position for a symbol, or nil, nil when
// the exchange reports none (or a zero amount).
func (c *Client) GetPositionRisk(ctx context.Context, symbol string) (*ports.PositionRisk, error) {
	const op = "GetPositionRisk"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.wrapErr(ctx, err, op)
	}
	if len(positions) == 0 {
		return nil, nil
	}

	// One-way mode: a single entry per symbol.
	risk := toPositionRisk(positions[0])
	if risk.PositionAmt == 0 {
		return nil, nil
	}
	return risk, nil
}

// GetKlines returns the most recent limit candles for a symbol and interval.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	const op = "GetKlines"
	raw, err := c.futuresClient.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.wrapErr(ctx, err, op)
	}

	klines := make([]*domain.Kline, 0, len(raw))
	for _, bk := range raw {
		k, err := toKline(bk, symbol, interval)
		if err != nil {
			return nil, c.wrapErr(ctx, err, op)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// GetKlinesRange pages through all candles between start and end.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	const op = "GetKlinesRange"
	const pageLimit = 1500

	var all []*domain.Kline
	from := start
	for {
		raw, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(pageLimit).
			Do(ctx)
		if err != nil {
			return nil, c.wrapErr(ctx, err, op)
		}
		if len(raw) == 0 {
			break
		}

		for _, bk := range raw {
			k, err := toKline(bk, symbol, interval)
			if err != nil {
				return nil, c.wrapErr(ctx, err, op)
			}
			all = append(all, k)
		}

		from = time.UnixMilli(raw[len(raw)-1].CloseTime)
		if from.After(end) || len(raw) < pageLimit {
			break
		}
	}
	return all, nil
}

func toOrderResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		Price:         looseFloat(order.Price),
		AvgPrice:      looseFloat(order.AvgPrice),
		OrigQuantity:  looseFloat(order.OrigQuantity),
		ExecutedQty:   looseFloat(order.ExecutedQuantity),
		Status:        string(order.Status),
		TimeInForce:   string(order.TimeInForce),
		Type:          string(order.Type),
		Side:          string(order.Side),
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}

func toPositionRisk(pos *futures.PositionRisk) *ports.PositionRisk {
	if pos == nil {
		return nil
	}
	leverage, _ := strconv.Atoi(pos.Leverage)
	autoAdd, _ := strconv.ParseBool(pos.IsAutoAddMargin)
	return &ports.PositionRisk{
		Symbol:           pos.Symbol,
		PositionAmt:      looseFloat(pos.PositionAmt),
		EntryPrice:       looseFloat(pos.EntryPrice),
		MarkPrice:        looseFloat(pos.MarkPrice),
		UnRealizedProfit: looseFloat(pos.UnRealizedProfit),
		LiquidationPrice: looseFloat(pos.LiquidationPrice),
		Leverage:         leverage,
		IsolatedMargin:   looseFloat(pos.IsolatedMargin),
		IsAutoAddMargin:  autoAdd,
		MaxNotionalValue: looseFloat(pos.MaxNotionalValue),
	}
}

func toKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("nil kline in response")
	}

	k := &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		IsFinal:   true, // historical candles are closed
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", bk.Open, &k.Open},
		{"high", bk.High, &k.High},
		{"low", bk.Low, &k.Low},
		{"close", bk.Close, &k.Close},
		{"volume", bk.Volume, &k.Volume},
	} {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing kline %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = v
	}
	return k, nil
}

// looseFloat parses exchange decimal strings that may legitimately be empty.
func looseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
