package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/klaytn/dex-indexer-example/internal/database"
)

type TokenMetricsScheduler struct {
	db        *pgxpool.Pool
	interval  time.Duration
	scheduler gocron.Scheduler
	logger    zerolog.Logger
}

func NewTokenMetricsScheduler(db *pgxpool.Pool, interval time.Duration, logger zerolog.Logger) (*TokenMetricsScheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &TokenMetricsScheduler{
		db:        db,
		interval:  interval,
		scheduler: s,
		logger:    logger.With().Str("component", "token-metrics-scheduler").Logger(),
	}, nil
}

func (s *TokenMetricsScheduler) Start(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.refreshTokenMetrics, ctx),
		gocron.WithName("refresh-token-metrics"),
	)
	if err != nil {
		return err
	}

	s.logger.Info().Dur("interval", s.interval).Msg("Token metrics scheduler started")
	s.scheduler.Start()

	// Run immediately on startup
	go s.refreshTokenMetrics(ctx)

	return nil
}

func (s *TokenMetricsScheduler) Stop() {
	s.logger.Info().Msg("Stopping token metrics scheduler")
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down scheduler")
	}
}

func (s *TokenMetricsScheduler) refreshTokenMetrics(ctx context.Context) {
	start := time.Now()

	updated, err := database.RefreshTokenMetrics(ctx, s.db)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to refresh token metrics")
		return
	}

	s.logger.Info().
		Int64("tokens", updated).
		Dur("duration", time.Since(start)).
		Msg("Token metrics refresh completed")
}
