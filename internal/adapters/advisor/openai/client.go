package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cryptoPilot/internal/domain"
	"cryptoPilot/internal/ports"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client implements ports.Advisor against an OpenAI-compatible
// chat-completions endpoint. The model is asked to answer with a single JSON
// object; anything else is rejected as a malformed signal.
type Client struct {
	baseURL      string
	apiKey       string
	defaultModel string
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       ports.Logger
}

// Config holds configuration for the advisor client.
type Config struct {
	BaseURL         string
	APIKey          string
	DefaultModel    string // Used when a bot has no model configured
	RateLimitPerSec float64
	RateLimitBurst  int
	RequestTimeout  time.Duration
	Logger          ports.Logger
}

// New creates an advisor client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for advisor client")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: advisor API key is required", ports.ErrConfigurationError)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gpt-4o-mini"
	}
	rps := cfg.RateLimitPerSec
	if rps <= 0 {
		rps = 0.5
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       cfg.APIKey,
		defaultModel: model,
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		logger:       cfg.Logger,
	}, nil
}

// Wire types for the chat-completions API.

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// decision is the JSON object the model is instructed to return.
type decision struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Reasoning  string  `json:"reasoning"`
}

const systemMessage = `You are a trading signal generator for crypto futures. ` +
	`Respond with a single JSON object and nothing else, with keys: ` +
	`action ("buy", "sell" or "hold"), confidence (0..1), entry_price, stop_loss, take_profit ` +
	`(numbers, 0 when action is "hold") and reasoning (short string).`

func buildUserMessage(s ports.MarketSnapshot) string {
	return fmt.Sprintf(
		"Market state for %s: price=%.4f change_24h=%.2f%% ATR=%.4f RSI=%.2f EMA_fast=%.4f EMA_slow=%.4f available_balance=%.2f",
		s.Symbol, s.Price, s.Change24hPct, s.ATR, s.RSI, s.EMAFast, s.EMASlow, s.Balance)
}

// Advise requests a trading recommendation for the given market state.
func (c *Client) Advise(ctx context.Context, req ports.AdviceRequest) (*domain.Recommendation, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemMessage},
			{Role: "user", Content: buildUserMessage(req.Snapshot)},
		},
		Temperature:    0.2,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal advisor request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create advisor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrAdvisorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: advisor API", ports.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: advisor API returned status %d", ports.ErrAdvisorUnavailable, resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode advisor response: %v", ports.ErrMalformedSignal, err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrAdvisorUnavailable, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: advisor returned no choices", ports.ErrMalformedSignal)
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	// Some models wrap JSON in a code fence despite instructions.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var d decision
	if err := json.Unmarshal([]byte(content), &d); err != nil {
		c.logger.Warn(ctx, "Advisor returned non-JSON content", map[string]interface{}{"botID": req.BotID, "content": content})
		return nil, fmt.Errorf("%w: %v", ports.ErrMalformedSignal, err)
	}

	rec, err := c.toRecommendation(d, req)
	if err != nil {
		return nil, err
	}
	c.logger.Info(ctx, "Advisor signal received", map[string]interface{}{
		"botID":      req.BotID,
		"symbol":     req.Snapshot.Symbol,
		"action":     rec.Action,
		"confidence": rec.Confidence,
	})
	return rec, nil
}

// toRecommendation validates a decision and maps it to the domain type.
// The recommendation service assigns ID, status and expiry.
func (c *Client) toRecommendation(d decision, req ports.AdviceRequest) (*domain.Recommendation, error) {
	action := domain.RecommendationAction(strings.ToLower(strings.TrimSpace(d.Action)))
	switch action {
	case domain.ActionBuy, domain.ActionSell, domain.ActionHold:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ports.ErrMalformedSignal, d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %f out of range", ports.ErrMalformedSignal, d.Confidence)
	}
	if action != domain.ActionHold {
		if d.EntryPrice <= 0 {
			return nil, fmt.Errorf("%w: missing entry price for %s signal", ports.ErrMalformedSignal, action)
		}
		if d.StopLoss <= 0 || d.TakeProfit <= 0 {
			return nil, fmt.Errorf("%w: missing protective levels for %s signal", ports.ErrMalformedSignal, action)
		}
		// The stop must sit on the losing side of the entry.
		if action == domain.ActionBuy && d.StopLoss >= d.EntryPrice {
			return nil, fmt.Errorf("%w: buy signal with stop loss %f above entry %f", ports.ErrMalformedSignal, d.StopLoss, d.EntryPrice)
		}
		if action == domain.ActionSell && d.StopLoss <= d.EntryPrice {
			return nil, fmt.Errorf("%w: sell signal with stop loss %f below entry %f", ports.ErrMalformedSignal, d.StopLoss, d.EntryPrice)
		}
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	return &domain.Recommendation{
		BotID:      req.BotID,
		Symbol:     req.Snapshot.Symbol,
		Provider:   "openai",
		Model:      model,
		Action:     action,
		Confidence: d.Confidence,
		EntryPrice: d.EntryPrice,
		StopLoss:   d.StopLoss,
		TakeProfit: d.TakeProfit,
		Reasoning:  d.Reasoning,
	}, nil
}
