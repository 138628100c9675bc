// Package service orchestrates the pipeline jobs. Each job is exclusive both
// in-process (mutex) and across processes (postgres advisory lock); overlap
// resolves to a skip, never a queue.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dirkpokemon/pokemon-market-intel/internal/alerting"
	"github.com/dirkpokemon/pokemon-market-intel/internal/config"
	"github.com/dirkpokemon/pokemon-market-intel/internal/logging"
	"github.com/dirkpokemon/pokemon-market-intel/internal/scheduler"
	"github.com/dirkpokemon/pokemon-market-intel/internal/scoring"
	"github.com/dirkpokemon/pokemon-market-intel/internal/signals"
	"github.com/dirkpokemon/pokemon-market-intel/internal/stats"
	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

// Advisory lock key offsets per job. Derived from the configured base key so
// two deployments with different base keys never contend.
const (
	lockOffsetMarketStats = 1
	lockOffsetDealScores  = 2
	lockOffsetSignals     = 3
	lockOffsetAlerts      = 4
	lockOffsetDigest      = 5
)

// Deal scores derive from the latest stats row per product; rows older than
// a day are considered stale and ignored.
const statsLookback = 24 * time.Hour

// Stores bundles the persistence interfaces the pipeline reads and writes.
type Stores struct {
	Observations storage.RawObservationStore
	MarketStats  storage.MarketStatsStore
	DealScores   storage.DealScoreStore
	Signals      storage.SignalStore
}

// Service wires calculators, detector and dispatcher to the scheduler.
type Service struct {
	cfg        *config.Config
	stores     Stores
	calculator *stats.Calculator
	scorer     *scoring.Calculator
	detector   *signals.Detector
	dispatcher *alerting.Dispatcher
	logger     zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64

	jobMu map[string]*sync.Mutex
}

// New constructs the pipeline service.
func New(
	cfg *config.Config,
	stores Stores,
	calculator *stats.Calculator,
	scorer *scoring.Calculator,
	detector *signals.Detector,
	dispatcher *alerting.Dispatcher,
	logger zerolog.Logger,
) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := stores.MarketStats.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		cfg:        cfg,
		stores:     stores,
		calculator: calculator,
		scorer:     scorer,
		detector:   detector,
		dispatcher: dispatcher,
		logger:     logging.Component(logger, "service"),
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
		jobMu: map[string]*sync.Mutex{
			"market_stats":     {},
			"deal_scores":      {},
			"signal_detection": {},
			"immediate_alerts": {},
			"daily_digest":     {},
		},
	}
}

// Start runs every pipeline job on its configured cadence until ctx is
// cancelled. A cancelled context is a clean shutdown, not an error.
func (s *Service) Start(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	jobs := []struct {
		name     string
		interval time.Duration
		tick     scheduler.TickFunc
	}{
		{"market_stats", s.cfg.Scheduler.MarketStatsInterval, s.RunMarketStats},
		{"deal_scores", s.cfg.Scheduler.DealScoreInterval, s.RunDealScores},
		{"signal_detection", s.cfg.Scheduler.SignalInterval, s.RunSignalDetection},
		{"immediate_alerts", s.cfg.Scheduler.AlertInterval, s.RunImmediateAlerts},
	}
	for _, job := range jobs {
		sched := scheduler.New(scheduler.Options{
			Name:         job.name,
			Interval:     job.interval,
			AlignToStart: true,
			StartupDelay: s.cfg.Scheduler.StartupDelay,
		}, s.logger)
		tick := job.tick
		group.Go(func() error {
			return sched.Run(ctx, tick)
		})
	}

	if s.cfg.Alerting.Digest.Enabled {
		daily := scheduler.NewDaily(s.cfg.Alerting.Digest.SendHour, "daily_digest", s.logger)
		group.Go(func() error {
			return daily.Run(ctx, s.RunDailyDigest)
		})
	}

	s.logger.Info().
		Dur("market_stats_interval", s.cfg.Scheduler.MarketStatsInterval).
		Dur("deal_score_interval", s.cfg.Scheduler.DealScoreInterval).
		Dur("signal_interval", s.cfg.Scheduler.SignalInterval).
		Dur("alert_interval", s.cfg.Scheduler.AlertInterval).
		Bool("digest_enabled", s.cfg.Alerting.Digest.Enabled).
		Msg("pipeline started")

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// RunPipeline executes one full pass of every stage sequentially. Used by the
// one-shot analyze command.
func (s *Service) RunPipeline(ctx context.Context, now time.Time) error {
	if err := s.RunMarketStats(ctx, now); err != nil {
		return err
	}
	if err := s.RunDealScores(ctx, now); err != nil {
		return err
	}
	if err := s.RunSignalDetection(ctx, now); err != nil {
		return err
	}
	return s.RunImmediateAlerts(ctx, now)
}

// RunMarketStats aggregates raw observations into per-product statistics.
func (s *Service) RunMarketStats(ctx context.Context, now time.Time) error {
	return s.runExclusive(ctx, "market_stats", lockOffsetMarketStats, func(ctx context.Context) error {
		since := now.AddDate(0, 0, -s.cfg.Analysis.LongWindowDays)
		observations, err := s.stores.Observations.ListRawObservationsSince(ctx, since)
		if err != nil {
			return fmt.Errorf("list raw observations: %w", err)
		}

		results := s.calculator.Calculate(observations, now)
		failed := s.insertConcurrently(ctx, len(results), func(ctx context.Context, i int) error {
			return s.stores.MarketStats.InsertMarketStats(ctx, results[i])
		})

		s.logger.Info().
			Int("observations", len(observations)).
			Int("stats", len(results)).
			Int64("failed", failed).
			Msg("market stats run complete")
		return nil
	})
}

// RunDealScores scores the latest market statistics per product and retires
// expired score rows.
func (s *Service) RunDealScores(ctx context.Context, now time.Time) error {
	return s.runExclusive(ctx, "deal_scores", lockOffsetDealScores, func(ctx context.Context) error {
		recent, err := s.stores.MarketStats.ListMarketStatsSince(ctx, now.Add(-statsLookback))
		if err != nil {
			return fmt.Errorf("list market stats: %w", err)
		}
		latest := latestPerProduct(recent)

		scored := make([]storage.DealScore, 0, len(latest))
		for _, row := range latest {
			if score, ok := s.scorer.Score(row, now); ok {
				scored = append(scored, score)
			}
		}

		failed := s.insertConcurrently(ctx, len(scored), func(ctx context.Context, i int) error {
			return s.stores.DealScores.SaveDealScore(ctx, scored[i])
		})

		expired, err := s.stores.DealScores.DeactivateExpiredDealScores(ctx, now)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to deactivate expired deal scores")
		}

		s.logger.Info().
			Int("products", len(latest)).
			Int("scored", len(scored)).
			Int64("failed", failed).
			Int64("expired", expired).
			Msg("deal score run complete")
		return nil
	})
}

// RunSignalDetection evaluates the signal rules over recent pipeline output
// and retires expired signals.
func (s *Service) RunSignalDetection(ctx context.Context, now time.Time) error {
	return s.runExclusive(ctx, "signal_detection", lockOffsetSignals, func(ctx context.Context) error {
		since := now.Add(-s.cfg.Signals.Lookback)

		scores, err := s.stores.DealScores.ListActiveDealScoresSince(ctx, since)
		if err != nil {
			return fmt.Errorf("list deal scores: %w", err)
		}
		recent, err := s.stores.MarketStats.ListMarketStatsSince(ctx, since)
		if err != nil {
			return fmt.Errorf("list market stats: %w", err)
		}

		detected := s.detector.Detect(scores, latestPerProduct(recent), now)
		failed := s.insertConcurrently(ctx, len(detected), func(ctx context.Context, i int) error {
			_, err := s.stores.Signals.InsertSignal(ctx, detected[i])
			return err
		})

		expired, err := s.stores.Signals.DeactivateExpiredSignals(ctx, now)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to deactivate expired signals")
		}

		s.logger.Info().
			Int("signals", len(detected)).
			Int64("failed", failed).
			Int64("expired", expired).
			Msg("signal detection run complete")
		return nil
	})
}

// RunImmediateAlerts pushes unsent high-level signals to subscribers.
func (s *Service) RunImmediateAlerts(ctx context.Context, now time.Time) error {
	if !s.cfg.Alerting.Enabled {
		return nil
	}
	return s.runExclusive(ctx, "immediate_alerts", lockOffsetAlerts, func(ctx context.Context) error {
		_, err := s.dispatcher.ProcessImmediate(ctx)
		return err
	})
}

// RunDailyDigest compiles the daily medium-signal digest.
func (s *Service) RunDailyDigest(ctx context.Context, now time.Time) error {
	if !s.cfg.Alerting.Enabled {
		return nil
	}
	return s.runExclusive(ctx, "daily_digest", lockOffsetDigest, func(ctx context.Context) error {
		_, err := s.dispatcher.ProcessDigest(ctx)
		return err
	})
}

// runExclusive guards a job against overlap. In-process overlap and a held
// advisory lock both resolve to a silent skip so a slow run never stacks.
func (s *Service) runExclusive(ctx context.Context, name string, lockOffset int64, job func(context.Context) error) error {
	mu := s.jobMu[name]
	if !mu.TryLock() {
		s.logger.Debug().Str("job", name).Msg("previous run still in progress, skipping")
		return nil
	}
	defer mu.Unlock()

	unlock, proceed, err := s.acquireLock(ctx, lockOffset)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Str("job", name).Msg("advisory lock held elsewhere, skipping")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return job(ctx)
}

func (s *Service) acquireLock(ctx context.Context, offset int64) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey+offset)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// insertConcurrently runs one insert per item through a bounded worker group.
// Individual failures are logged and counted; they never abort the batch.
func (s *Service) insertConcurrently(ctx context.Context, count int, insert func(ctx context.Context, i int) error) int64 {
	var failed atomic.Int64

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Analysis.MaxConcurrentTasks)
	for i := 0; i < count; i++ {
		group.Go(func() error {
			if err := insert(ctx, i); err != nil {
				failed.Add(1)
				s.logger.Error().Err(err).Msg("persist failed for one item")
			}
			return nil
		})
	}
	_ = group.Wait()

	return failed.Load()
}

// latestPerProduct keeps only the newest stats row per product. Input order
// does not matter.
func latestPerProduct(rows []storage.MarketStats) []storage.MarketStats {
	type key struct {
		Name, Set, Category string
	}
	newest := make(map[key]storage.MarketStats, len(rows))
	order := make([]key, 0, len(rows))
	for _, row := range rows {
		k := key{row.ProductName, row.ProductSet, row.Category}
		existing, seen := newest[k]
		if !seen {
			order = append(order, k)
		}
		if !seen || row.CalculatedAt.After(existing.CalculatedAt) {
			newest[k] = row
		}
	}

	result := make([]storage.MarketStats, 0, len(newest))
	for _, k := range order {
		result = append(result, newest[k])
	}
	return result
}
