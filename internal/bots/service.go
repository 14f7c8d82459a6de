package bots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cryptoPilot/internal/domain"
	"cryptoPilot/internal/ports"
	"cryptoPilot/internal/risk"
)

// Service manages bot configurations. Every create and update passes through
// the risk manager so a bot can never be persisted with parameters that would
// violate the configured limits.
type Service struct {
	repo       ports.BotRepository
	portfolios ports.PortfolioRepository
	riskMgr    *risk.RiskManager
	logger     ports.Logger
}

// Config holds dependencies for the bot service.
type Config struct {
	Repo       ports.BotRepository
	Portfolios ports.PortfolioRepository
	RiskMgr    *risk.RiskManager
	Logger     ports.Logger
}

// NewService creates a bot service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("bot repository is required")
	}
	if cfg.RiskMgr == nil {
		return nil, fmt.Errorf("risk manager is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Service{
		repo:       cfg.Repo,
		portfolios: cfg.Portfolios,
		riskMgr:    cfg.RiskMgr,
		logger:     cfg.Logger,
	}, nil
}

// Create validates and persists a new bot. New bots start paused so they do
// not begin trading before the operator explicitly resumes them.
func (s *Service) Create(ctx context.Context, b *domain.Bot) (*domain.Bot, error) {
	if err := s.validate(ctx, b); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	b.Status = domain.BotPaused
	b.CreatedAt = now
	b.UpdatedAt = now
	if b.PollInterval <= 0 {
		b.PollInterval = time.Hour
	}

	if _, err := s.repo.CreateBot(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	s.logger.Info(ctx, "Bot created", map[string]interface{}{"botID": b.ID, "name": b.Name, "symbol": b.Symbol})
	return b, nil
}

// Update validates and persists changes to an existing bot. Status is managed
// through Pause and Resume, not here.
func (s *Service) Update(ctx context.Context, b *domain.Bot) (*domain.Bot, error) {
	existing, err := s.Get(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, b); err != nil {
		return nil, err
	}

	b.Status = existing.Status
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	if b.PollInterval <= 0 {
		b.PollInterval = existing.PollInterval
	}

	if err := s.repo.UpdateBot(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to update bot %d: %w", b.ID, err)
	}
	return b, nil
}

// Delete removes a bot configuration.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteBot(ctx, id); err != nil {
		return fmt.Errorf("failed to delete bot %d: %w", id, err)
	}
	s.logger.Info(ctx, "Bot deleted", map[string]interface{}{"botID": id})
	return nil
}

// Get returns a bot by ID.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Bot, error) {
	b, err := s.repo.FindBotByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load bot %d: %w", id, err)
	}
	if b == nil {
		return nil, fmt.Errorf("bot %d: %w", id, ports.ErrNotFound)
	}
	return b, nil
}

// List returns every configured bot.
func (s *Service) List(ctx context.Context) ([]*domain.Bot, error) {
	return s.repo.FindAllBots(ctx)
}

// ListActive returns the bots that should currently be polled.
func (s *Service) ListActive(ctx context.Context) ([]*domain.Bot, error) {
	return s.repo.FindBotsByStatus(ctx, domain.BotActive)
}

// Resume activates a paused bot.
func (s *Service) Resume(ctx context.Context, id int64) (*domain.Bot, error) {
	return s.setStatus(ctx, id, domain.BotActive)
}

// Pause stops a bot from being polled. Open positions it already holds keep
// being managed by the position tracker.
func (s *Service) Pause(ctx context.Context, id int64) (*domain.Bot, error) {
	return s.setStatus(ctx, id, domain.BotPaused)
}

func (s *Service) setStatus(ctx context.Context, id int64, status domain.BotStatus) (*domain.Bot, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == status {
		return b, nil
	}
	b.Status = status
	b.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateBot(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to update bot %d status: %w", id, err)
	}
	s.logger.Info(ctx, "Bot status changed", map[string]interface{}{"botID": id, "status": status})
	return b, nil
}

// validate checks structural fields, then defers the risk parameters to the
// risk manager.
func (s *Service) validate(ctx context.Context, b *domain.Bot) error {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return fmt.Errorf("%w: bot name is required", ports.ErrInvalidRequest)
	}
	b.Symbol = strings.ToUpper(strings.TrimSpace(b.Symbol))
	if b.Symbol == "" {
		return fmt.Errorf("%w: bot symbol is required", ports.ErrInvalidRequest)
	}

	if s.portfolios != nil && b.PortfolioID != 0 {
		p, err := s.portfolios.FindPortfolioByID(ctx, b.PortfolioID)
		if err != nil {
			return fmt.Errorf("failed to check portfolio %d: %w", b.PortfolioID, err)
		}
		if p == nil {
			return fmt.Errorf("%w: portfolio %d", ports.ErrNotFound, b.PortfolioID)
		}
	}

	if err := s.riskMgr.ValidateBot(b); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrInvalidRequest, err)
	}
	return nil
}
