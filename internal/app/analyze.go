package app

import (
	"context"
	"errors"
	"time"
)

// Analyze executes one full pipeline pass and exits. Useful for cron-driven
// deployments and for verifying a fresh install end to end.
func (a *App) Analyze(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot analyze")
	}
	defer closeStore()

	svc := a.buildService(store)
	return svc.RunPipeline(ctx, time.Now().UTC())
}

// Alerts executes a single alert dispatch cycle, immediate or digest.
func (a *App) Alerts(ctx context.Context, opts AlertsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot dispatch alerts")
	}
	defer closeStore()

	svc := a.buildService(store)
	now := time.Now().UTC()
	if opts.Digest {
		return svc.RunDailyDigest(ctx, now)
	}
	return svc.RunImmediateAlerts(ctx, now)
}
