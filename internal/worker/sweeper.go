package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/trnhan/transcribe-be/internal/jobstore"
)

// Sweeper restores the expiry on job metadata keys that lost it. A key
// without a TTL would otherwise live forever, since records are only
// ever removed by expiry.
type Sweeper struct {
	store      *jobstore.Store
	interval   time.Duration
	defaultTTL time.Duration
	logger     *slog.Logger
}

// NewSweeper creates a metadata TTL sweeper
func NewSweeper(store *jobstore.Store, interval, defaultTTL time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:      store,
		interval:   interval,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

// Run sweeps on a fixed interval until the context is canceled
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Sweeper started",
		slog.Duration("interval", s.interval),
		slog.Duration("default_ttl", s.defaultTTL),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped")
			return
		case <-ticker.C:
			swept, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("Sweep failed", slog.Any("error", err))
				continue
			}
			if swept > 0 {
				s.logger.Info("Sweep assigned missing TTLs", slog.Int("count", swept))
			}
		}
	}
}

// Sweep assigns the default TTL to every metadata key without one and
// reports how many keys were repaired
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	keys, err := s.store.ScanKeys(ctx, 0)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, key := range keys {
		ttl, err := s.store.TTL(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to read ttl",
				slog.String("key", key),
				slog.Any("error", err),
			)
			continue
		}

		if ttl == jobstore.NoExpiry {
			if err := s.store.Expire(ctx, key, s.defaultTTL); err != nil {
				s.logger.Warn("Failed to assign ttl",
					slog.String("key", key),
					slog.Any("error", err),
				)
				continue
			}
			swept++
		}
	}

	return swept, nil
}
