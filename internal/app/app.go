// Package app aggregates configuration and shared dependencies behind the
// CLI commands.
package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dirkpokemon/pokemon-market-intel/internal/alerting"
	"github.com/dirkpokemon/pokemon-market-intel/internal/config"
	"github.com/dirkpokemon/pokemon-market-intel/internal/normalize"
	"github.com/dirkpokemon/pokemon-market-intel/internal/scoring"
	"github.com/dirkpokemon/pokemon-market-intel/internal/service"
	"github.com/dirkpokemon/pokemon-market-intel/internal/signals"
	"github.com/dirkpokemon/pokemon-market-intel/internal/stats"
	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

// App is the application handle shared by the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newNotifiers() []alerting.Notifier {
	notifiers := make([]alerting.Notifier, 0, 2)
	if a.Config.Alerting.Email.Enabled {
		notifiers = append(notifiers, alerting.NewEmailNotifier(a.Config.Alerting.Email, a.Logger))
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, cfg.RequestTimeout, a.Logger))
	}
	return notifiers
}

func (a *App) buildService(store *storage.Store) *service.Service {
	normalizer := normalize.New(a.Config.Analysis, a.Logger)
	calculator := stats.New(a.Config.Analysis, normalizer, a.Logger)
	scorer := scoring.New(a.Config.Scoring, a.Logger)
	detector := signals.New(a.Config.Signals, a.Logger)
	dispatcher := alerting.NewDispatcher(a.Config.Alerting, store, store, store, a.newNotifiers(), a.Logger)

	return service.New(a.Config, service.Stores{
		Observations: store,
		MarketStats:  store,
		DealScores:   store,
		Signals:      store,
	}, calculator, scorer, detector, dispatcher, a.Logger)
}

// Run executes the long-running pipeline service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the pipeline")
	}
	defer closeStore()

	svc := a.buildService(store)

	a.Logger.Info().Msg("starting pipeline service")
	err = svc.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("pipeline terminated with error")
		return err
	}

	a.Logger.Info().Msg("pipeline stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	View  string
	Limit int
}

// ExportOptions hold parameters for exporting one product's stats history.
type ExportOptions struct {
	Product   string
	Set       string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// AlertsOptions configure the one-shot alerts command.
type AlertsOptions struct {
	Digest bool
}

// SimulateOptions describe the fabricated signal fed through the dispatcher.
type SimulateOptions struct {
	Product   string
	Set       string
	Price     float64
	MarketAvg float64
	Email     string
	ChatID    string
}
