package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dirkpokemon/pokemon-market-intel/internal/config"
	"github.com/dirkpokemon/pokemon-market-intel/internal/logging"
	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

// Outcome is the terminal state of one (signal, subscriber) dispatch.
// There are no retries inside the dispatcher; channel providers own those.
type Outcome string

// Dispatch outcomes.
const (
	OutcomeSent               Outcome = "sent"
	OutcomeSkippedDuplicate   Outcome = "skipped_duplicate"
	OutcomeSkippedRateLimited Outcome = "skipped_rate_limited"
	OutcomeFailed             Outcome = "failed"
)

const dryRunMessageID = "dry-run"

// Stats summarises one dispatcher run.
type Stats struct {
	SignalsFound       int
	UsersEligible      int
	Sent               int
	Failed             int
	SkippedDuplicate   int
	SkippedRateLimited int
}

// Dispatcher decides who gets which signal on which channel, guarded by the
// append-only ledger (dedup) and the per-user daily cap (rate limit).
type Dispatcher struct {
	cfg         config.AlertingConfig
	signals     storage.SignalStore
	ledger      storage.AlertLedger
	subscribers storage.SubscriberStore
	notifiers   []Notifier
	logger      zerolog.Logger

	now func() time.Time
}

// NewDispatcher wires the dispatcher against its stores and channel transports.
func NewDispatcher(
	cfg config.AlertingConfig,
	signals storage.SignalStore,
	ledger storage.AlertLedger,
	subscribers storage.SubscriberStore,
	notifiers []Notifier,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		cfg:         cfg,
		signals:     signals,
		ledger:      ledger,
		subscribers: subscribers,
		notifiers:   notifiers,
		logger:      logging.Component(logger, "dispatcher"),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ProcessImmediate pushes every unsent high-level signal to every eligible
// subscriber. Safe to re-invoke: previously delivered pairs resolve to
// SkippedDuplicate through the ledger.
func (d *Dispatcher) ProcessImmediate(ctx context.Context) (Stats, error) {
	var stats Stats

	unsent, err := d.signals.ListUnsentSignalsByLevel(ctx, storage.LevelHigh)
	if err != nil {
		return stats, fmt.Errorf("list unsent signals: %w", err)
	}
	stats.SignalsFound = len(unsent)
	if len(unsent) == 0 {
		d.logger.Info().Msg("no new high-priority signals")
		return stats, nil
	}

	subscribers, err := d.subscribers.ListEligibleSubscribers(ctx)
	if err != nil {
		return stats, fmt.Errorf("list subscribers: %w", err)
	}
	stats.UsersEligible = len(subscribers)
	if len(subscribers) == 0 {
		d.logger.Warn().Msg("no eligible subscribers")
		return stats, nil
	}

	for _, sig := range unsent {
		for _, sub := range subscribers {
			switch d.dispatchImmediate(ctx, sub, sig) {
			case OutcomeSent:
				stats.Sent++
			case OutcomeSkippedDuplicate:
				stats.SkippedDuplicate++
			case OutcomeSkippedRateLimited:
				stats.SkippedRateLimited++
			case OutcomeFailed:
				stats.Failed++
			}
		}

		// One flip per signal per cycle, after the full user loop.
		if err := d.signals.MarkSignalSent(ctx, sig.ID, d.now()); err != nil {
			d.logger.Error().Err(err).Int64("signal_id", sig.ID).Msg("failed to mark signal sent")
		}
	}

	d.logger.Info().
		Int("signals", stats.SignalsFound).
		Int("sent", stats.Sent).
		Int("failed", stats.Failed).
		Int("duplicates", stats.SkippedDuplicate).
		Int("rate_limited", stats.SkippedRateLimited).
		Msg("immediate alert run complete")
	return stats, nil
}

func (d *Dispatcher) dispatchImmediate(ctx context.Context, sub storage.Subscriber, sig storage.Signal) Outcome {
	already, err := d.ledger.HasAlertBeenSent(ctx, sub.ID, sig.ID)
	if err != nil {
		d.logger.Error().Err(err).Int64("user_id", sub.ID).Int64("signal_id", sig.ID).Msg("ledger lookup failed")
		return OutcomeFailed
	}
	if already {
		return OutcomeSkippedDuplicate
	}

	dayStart := d.now().Truncate(24 * time.Hour)
	count, err := d.ledger.CountImmediateAlertsToday(ctx, sub.ID, dayStart)
	if err != nil {
		d.logger.Error().Err(err).Int64("user_id", sub.ID).Msg("rate limit lookup failed")
		return OutcomeFailed
	}
	if count >= int64(d.cfg.MaxPerUserPerDay) {
		d.logger.Warn().Int64("user_id", sub.ID).Int64("count", count).Msg("daily alert cap reached")
		return OutcomeSkippedRateLimited
	}

	payload := immediatePayload(sig, d.cfg.DashboardURL)

	attempted := false
	anySuccess := false
	for _, notifier := range d.notifiers {
		destination := destinationFor(notifier.Channel(), sub)
		if destination == "" {
			continue
		}
		attempted = true

		externalID, sendErr := d.deliver(ctx, notifier, destination, payload)
		d.record(ctx, storage.AlertSent{
			UserID:    sub.ID,
			SignalID:  sig.ID,
			AlertType: storage.AlertTypeImmediate,
			Severity:  sig.SignalLevel,
			Channel:   notifier.Channel(),
			Subject:   payload.Subject,
			Success:   sendErr == nil,
		}, externalID, sendErr)

		if sendErr == nil {
			anySuccess = true
		} else {
			d.logger.Error().Err(sendErr).
				Str("channel", notifier.Channel()).
				Int64("user_id", sub.ID).
				Int64("signal_id", sig.ID).
				Msg("delivery attempt failed")
		}
	}

	if !attempted {
		d.logger.Debug().Int64("user_id", sub.ID).Msg("no configured destination for any channel")
		return OutcomeFailed
	}
	if anySuccess {
		return OutcomeSent
	}
	return OutcomeFailed
}

// ProcessDigest compiles the last day's medium signals into one message per
// eligible subscriber. The digest path bypasses the daily cap and never flips
// Signal.is_sent; the ledger alone keeps re-runs idempotent.
func (d *Dispatcher) ProcessDigest(ctx context.Context) (Stats, error) {
	var stats Stats

	if !d.cfg.Digest.Enabled {
		d.logger.Info().Msg("daily digest disabled")
		return stats, nil
	}

	since := d.now().Add(-24 * time.Hour)
	recent, err := d.signals.ListRecentSignalsByLevel(ctx, storage.LevelMedium, since)
	if err != nil {
		return stats, fmt.Errorf("list digest signals: %w", err)
	}
	stats.SignalsFound = len(recent)
	if len(recent) == 0 {
		d.logger.Info().Msg("no medium-priority signals for digest")
		return stats, nil
	}

	email := d.notifierFor(storage.ChannelEmail)
	if email == nil && !d.cfg.DryRun {
		d.logger.Warn().Msg("digest requires the email channel, none configured")
		return stats, nil
	}

	subscribers, err := d.subscribers.ListEligibleSubscribers(ctx)
	if err != nil {
		return stats, fmt.Errorf("list subscribers: %w", err)
	}

	for _, sub := range subscribers {
		if !sub.DigestEnabled {
			continue
		}
		stats.UsersEligible++

		pending, ok := d.pendingForUser(ctx, sub, recent)
		if !ok {
			stats.Failed++
			continue
		}
		if len(pending) == 0 {
			stats.SkippedDuplicate++
			continue
		}

		payload := digestPayload(pending, d.cfg.DashboardURL)
		externalID, sendErr := d.deliverDigest(ctx, email, sub, payload)

		// Every compiled signal shares the digest's single delivery outcome.
		for _, sig := range pending {
			d.record(ctx, storage.AlertSent{
				UserID:    sub.ID,
				SignalID:  sig.ID,
				AlertType: storage.AlertTypeDigest,
				Severity:  sig.SignalLevel,
				Channel:   storage.ChannelEmail,
				Subject:   payload.Subject,
				Success:   sendErr == nil,
			}, externalID, sendErr)
		}

		if sendErr == nil {
			stats.Sent++
		} else {
			stats.Failed++
			d.logger.Error().Err(sendErr).Int64("user_id", sub.ID).Msg("digest delivery failed")
		}
	}

	d.logger.Info().
		Int("signals", stats.SignalsFound).
		Int("digests_sent", stats.Sent).
		Int("digests_failed", stats.Failed).
		Msg("digest run complete")
	return stats, nil
}

// pendingForUser filters out signals already on the user's ledger. The
// second return is false when the ledger cannot be consulted; the user is
// skipped rather than risking a duplicate send.
func (d *Dispatcher) pendingForUser(ctx context.Context, sub storage.Subscriber, signals []storage.Signal) ([]storage.Signal, bool) {
	pending := make([]storage.Signal, 0, len(signals))
	for _, sig := range signals {
		already, err := d.ledger.HasAlertBeenSent(ctx, sub.ID, sig.ID)
		if err != nil {
			d.logger.Error().Err(err).Int64("user_id", sub.ID).Msg("ledger lookup failed, skipping user")
			return nil, false
		}
		if !already {
			pending = append(pending, sig)
		}
	}
	return pending, true
}

func (d *Dispatcher) deliver(ctx context.Context, notifier Notifier, destination string, payload Payload) (string, error) {
	if d.cfg.DryRun {
		d.logger.Info().
			Str("channel", notifier.Channel()).
			Str("destination", destination).
			Str("subject", payload.Subject).
			Msg("dry run, delivery suppressed")
		return dryRunMessageID, nil
	}
	return notifier.Send(ctx, destination, payload)
}

func (d *Dispatcher) deliverDigest(ctx context.Context, email Notifier, sub storage.Subscriber, payload Payload) (string, error) {
	if d.cfg.DryRun {
		d.logger.Info().
			Str("destination", sub.Destination()).
			Str("subject", payload.Subject).
			Msg("dry run, digest suppressed")
		return dryRunMessageID, nil
	}
	return email.Send(ctx, sub.Destination(), payload)
}

// record appends a ledger row for one delivery attempt. Ledger write errors
// are logged and swallowed so one bad row never aborts the run.
func (d *Dispatcher) record(ctx context.Context, row storage.AlertSent, externalID string, sendErr error) {
	if externalID != "" {
		row.ExternalMessageID = &externalID
	}
	if sendErr != nil {
		message := sendErr.Error()
		row.ErrorMessage = &message
	}
	row.SentAt = d.now()

	if err := d.ledger.InsertAlertSent(ctx, row); err != nil {
		d.logger.Error().Err(err).
			Int64("user_id", row.UserID).
			Int64("signal_id", row.SignalID).
			Msg("failed to append ledger row")
	}
}

func (d *Dispatcher) notifierFor(channel string) Notifier {
	for _, notifier := range d.notifiers {
		if notifier.Channel() == channel {
			return notifier
		}
	}
	return nil
}

func destinationFor(channel string, sub storage.Subscriber) string {
	switch channel {
	case storage.ChannelEmail:
		return sub.Destination()
	case storage.ChannelTelegram:
		if sub.TelegramChatID != nil {
			return *sub.TelegramChatID
		}
	}
	return ""
}

func immediatePayload(sig storage.Signal, dashboardURL string) Payload {
	price := sig.CurrentPrice
	avg := sig.MarketAvgPrice
	return Payload{
		Subject:     fmt.Sprintf("%s ALERT: %s", strings.ToUpper(sig.SignalLevel), sig.ProductName),
		SignalType:  sig.SignalType,
		SignalLevel: sig.SignalLevel,
		MarketAvg:   &avg,
		Link:        dashboardURL,
		Items: []Item{{
			Product:     sig.ProductName,
			Set:         sig.ProductSet,
			Price:       &price,
			DealScore:   sig.DealScore,
			Description: sig.Description,
		}},
	}
}

func digestPayload(signals []storage.Signal, dashboardURL string) Payload {
	items := make([]Item, 0, len(signals))
	for _, sig := range signals {
		price := sig.CurrentPrice
		items = append(items, Item{
			Product:     sig.ProductName,
			Set:         sig.ProductSet,
			Price:       &price,
			DealScore:   sig.DealScore,
			Description: sig.Description,
		})
	}
	return Payload{
		Subject:     fmt.Sprintf("Daily Market Digest: %d new signals", len(signals)),
		SignalLevel: storage.LevelMedium,
		Link:        dashboardURL,
		Items:       items,
	}
}
