package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dirkpokemon/pokemon-market-intel/internal/config"
	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

type fakeBackend struct {
	signals     []storage.Signal
	subscribers []storage.Subscriber
	ledger      []storage.AlertSent
}

func (f *fakeBackend) InsertSignal(ctx context.Context, sig storage.Signal) (storage.Signal, error) {
	sig.ID = int64(len(f.signals) + 1)
	f.signals = append(f.signals, sig)
	return sig, nil
}

func (f *fakeBackend) ListUnsentSignalsByLevel(ctx context.Context, level string) ([]storage.Signal, error) {
	result := make([]storage.Signal, 0)
	for _, sig := range f.signals {
		if sig.IsActive && !sig.IsSent && sig.SignalLevel == level {
			result = append(result, sig)
		}
	}
	return result, nil
}

func (f *fakeBackend) ListRecentSignalsByLevel(ctx context.Context, level string, since time.Time) ([]storage.Signal, error) {
	result := make([]storage.Signal, 0)
	for _, sig := range f.signals {
		if sig.IsActive && sig.SignalLevel == level && !sig.DetectedAt.Before(since) {
			result = append(result, sig)
		}
	}
	return result, nil
}

func (f *fakeBackend) ListRecentSignals(ctx context.Context, limit int) ([]storage.Signal, error) {
	return f.signals, nil
}

func (f *fakeBackend) MarkSignalSent(ctx context.Context, id int64, at time.Time) error {
	for i := range f.signals {
		if f.signals[i].ID == id {
			f.signals[i].IsSent = true
			f.signals[i].SentAt = &at
			return nil
		}
	}
	return errors.New("signal not found")
}

func (f *fakeBackend) DeactivateExpiredSignals(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeBackend) InsertAlertSent(ctx context.Context, alert storage.AlertSent) error {
	alert.ID = int64(len(f.ledger) + 1)
	f.ledger = append(f.ledger, alert)
	return nil
}

func (f *fakeBackend) HasAlertBeenSent(ctx context.Context, userID, signalID int64) (bool, error) {
	for _, row := range f.ledger {
		if row.UserID == userID && row.SignalID == signalID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBackend) CountImmediateAlertsToday(ctx context.Context, userID int64, dayStart time.Time) (int64, error) {
	var count int64
	for _, row := range f.ledger {
		if row.UserID == userID && row.AlertType == storage.AlertTypeImmediate &&
			row.Success && !row.SentAt.Before(dayStart) {
			count++
		}
	}
	return count, nil
}

func (f *fakeBackend) ListEligibleSubscribers(ctx context.Context) ([]storage.Subscriber, error) {
	return f.subscribers, nil
}

type fakeNotifier struct {
	channel     string
	sends       []string
	failWithErr error
	externalID  string
}

func (f *fakeNotifier) Channel() string {
	return f.channel
}

func (f *fakeNotifier) Send(ctx context.Context, destination string, payload Payload) (string, error) {
	if f.failWithErr != nil {
		return "", f.failWithErr
	}
	f.sends = append(f.sends, destination)
	return f.externalID, nil
}

func testAlertingConfig() config.AlertingConfig {
	return config.AlertingConfig{
		Enabled:          true,
		MaxPerUserPerDay: 10,
		Digest:           config.DigestConfig{Enabled: true, SendHour: 9},
		DashboardURL:     "http://localhost:3000",
	}
}

func highSignal(id int64, detectedAt time.Time) storage.Signal {
	score := decimal.NewFromInt(85)
	return storage.Signal{
		ID:             id,
		SignalType:     storage.SignalHighDeal,
		SignalLevel:    storage.LevelHigh,
		Priority:       10,
		ProductName:    "Charizard Ex",
		ProductSet:     "151",
		Category:       "single",
		CurrentPrice:   decimal.NewFromInt(40),
		MarketAvgPrice: decimal.NewFromInt(60),
		DealScore:      &score,
		Confidence:     decimal.NewFromInt(85),
		Description:    "Excellent deal detected",
		IsActive:       true,
		DetectedAt:     detectedAt,
		ExpiresAt:      detectedAt.Add(24 * time.Hour),
	}
}

func mediumSignal(id int64, detectedAt time.Time) storage.Signal {
	sig := highSignal(id, detectedAt)
	sig.SignalType = storage.SignalMediumDeal
	sig.SignalLevel = storage.LevelMedium
	sig.Priority = 5
	return sig
}

func emailSubscriber(id int64, digest bool) storage.Subscriber {
	return storage.Subscriber{
		ID:            id,
		Email:         "collector@example.com",
		Tier:          storage.TierPaid,
		AlertsEnabled: true,
		DigestEnabled: digest,
		IsActive:      true,
	}
}

func newTestDispatcher(backend *fakeBackend, cfg config.AlertingConfig, notifiers []Notifier, now time.Time) *Dispatcher {
	d := NewDispatcher(cfg, backend, backend, backend, notifiers, zerolog.Nop())
	d.now = func() time.Time { return now }
	return d
}

func TestProcessImmediateDeliversAndMarksSent(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	backend := &fakeBackend{
		signals:     []storage.Signal{highSignal(1, now.Add(-time.Hour))},
		subscribers: []storage.Subscriber{emailSubscriber(7, false)},
	}
	email := &fakeNotifier{channel: storage.ChannelEmail}

	d := newTestDispatcher(backend, testAlertingConfig(), []Notifier{email}, now)
	result, err := d.ProcessImmediate(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, result.SignalsFound)
	require.Equal(t, 1, result.Sent)
	require.Equal(t, 0, result.Failed)
	require.Equal(t, []string{"collector@example.com"}, email.sends)

	require.Len(t, backend.ledger, 1)
	row := backend.ledger[0]
	require.Equal(t, int64(7), row.UserID)
	require.Equal(t, int64(1), row.SignalID)
	require.Equal(t, storage.AlertTypeImmediate, row.AlertType)
	require.Equal(t, storage.LevelHigh, row.Severity)
	require.True(t, row.Success)

	require.True(t, backend.signals[0].IsSent)
	require.NotNil(t, backend.signals[0].SentAt)
}

func TestProcessImmediateDeduplicates(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	backend := &fakeBackend{
		signals:     []storage.Signal{highSignal(1, now.Add(-time.Hour))},
		subscribers: []storage.Subscriber{emailSubscriber(7, false)},
		ledger: []storage.AlertSent{{
			UserID:    7,
			SignalID:  1,
			AlertType: storage.AlertTypeImmediate,
			Success:   false,
			SentAt:    now.Add(-30 * time.Minute),
		}},
	}
	email := &fakeNotifier{channel: storage.ChannelEmail}

	d := newTestDispatcher(backend, testAlertingConfig(), []Notifier{email}, now)
	result, err := d.ProcessImmediate(context.Background())
	require.NoError(t, err)

	// Even a failed prior attempt blocks the pair for good.
	require.Equal(t, 1, result.SkippedDuplicate)
	require.Equal(t, 0, result.Sent)
	require.Empty(t, email.sends)
	require.Len(t, backend.ledger, 1)
}

func TestProcessImmediateRateLimits(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	cfg := testAlertingConfig()
	cfg.MaxPerUserPerDay = 2

	backend := &fakeBackend{
		signals:     []storage.Signal{highSignal(3, now.Add(-time.Hour))},
		subscribers: []storage.Subscriber{emailSubscriber(7, false)},
		ledger: []storage.AlertSent{
			{UserID: 7, SignalID: 1, AlertType: storage.AlertTypeImmediate, Success: true, SentAt: now.Add(-2 * time.Hour)},
			{UserID: 7, SignalID: 2, AlertType: storage.AlertTypeImmediate, Success: true, SentAt: now.Add(-1 * time.Hour)},
		},
	}
	email := &fakeNotifier{channel: storage.ChannelEmail}

	d := newTestDispatcher(backend, cfg, []Notifier{email}, now)
	result, err := d.ProcessImmediate(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, result.SkippedRateLimited)
	require.Equal(t, 0, result.Sent)
	require.Empty(t, email.sends)
}

func TestRateLimitIgnoresFailedAndPreviousDayRows(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	cfg := testAlertingConfig()
	cfg.MaxPerUserPerDay = 2

	backend := &fakeBackend{
		signals:     []storage.Signal{highSignal(3, now.Add(-time.Hour))},
		subscribers: []storage.Subscriber{emailSubscriber(7, false)},
		ledger: []storage.AlertSent{
			// Yesterday and failed attempts do not count against the cap.
			{UserID: 7, SignalID: 1, AlertType: storage.AlertTypeImmediate, Success: true, SentAt: now.Add(-26 * time.Hour)},
			{UserID: 7, SignalID: 2, AlertType: storage.AlertTypeImmediate, Success: false, SentAt: now.Add(-time.Hour)},
		},
	}
	email := &fakeNotifier{channel: storage.ChannelEmail}

	d := newTestDispatcher(backend, cfg, []Notifier{email}, now)
	result, err := d.ProcessImmediate(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, result.Sent)
	require.Equal(t, 0, result.SkippedRateLimited)
}

func TestProcessImmediateDryRun(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	cfg := testAlertingConfig()
	cfg.DryRun = true

	backend := &fakeBackend{
		signals:     []storage.Signal{highSignal(1, now.Add(-time.Hour))},
		subscribers: []storage.Subscriber{emailSubscriber(7, false)},
	}
	email := &fakeNotifier{channel: storage.ChannelEmail}

	d := newTestDispatcher(backend, cfg, []Notifier{email}, now)
	result, err := d.ProcessImmediate(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, result.Sent)
	require.Empty(t, email.sends, "dry run must not touch the transport")

	require.Len(t, backend.ledger, 1)
	require.True(t, backend.ledger[0].Success)
	require.NotNil(t, backend.ledger[0].ExternalMessageID)
	require.Equal(t, "dry-run", *backend.ledger[0].ExternalMessageID)
}

func TestProcessImmediateRecordsFailure(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	backend := &fakeBackend{
		signals:     []storage.Signal{highSignal(1, now.Add(-time.Hour))},
		subscribers: []storage.Subscriber{emailSubscriber(7, false)},
	}
	email := &fakeNotifier{channel: storage.ChannelEmail, failWithErr: errors.New("smtp unreachable")}

	d := newTestDispatcher(backend, testAlertingConfig(), []Notifier{email}, now)
	result, err := d.ProcessImmediate(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, result.Failed)
	require.Len(t, backend.ledger, 1)
	require.False(t, backend.ledger[0].Success)
	require.NotNil(t, backend.ledger[0].ErrorMessage)
	require.Contains(t, *backend.ledger[0].ErrorMessage, "smtp unreachable")

	// The signal still flips so the next cycle does not retry forever.
	require.True(t, backend.signals[0].IsSent)
}

func TestProcessImmediateMultiChannel(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	chatID := "12345"
	sub := emailSubscriber(7, false)
	sub.TelegramChatID = &chatID

	backend := &fakeBackend{
		signals:     []storage.Signal{highSignal(1, now.Add(-time.Hour))},
		subscribers: []storage.Subscriber{sub},
	}
	email := &fakeNotifier{channel: storage.ChannelEmail}
	telegram := &fakeNotifier{channel: storage.ChannelTelegram, externalID: "987"}

	d := newTestDispatcher(backend, testAlertingConfig(), []Notifier{email, telegram}, now)
	result, err := d.ProcessImmediate(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, result.Sent, "one outcome per user regardless of channel count")
	require.Equal(t, []string{"collector@example.com"}, email.sends)
	require.Equal(t, []string{"12345"}, telegram.sends)
	require.Len(t, backend.ledger, 2, "one ledger row per channel")
}

func TestProcessDigestCompilesUndelivered(t *testing.T) {
	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	backend := &fakeBackend{
		signals: []storage.Signal{
			mediumSignal(1, now.Add(-2*time.Hour)),
			mediumSignal(2, now.Add(-3*time.Hour)),
			mediumSignal(3, now.Add(-30*time.Hour)),
		},
		subscribers: []storage.Subscriber{emailSubscriber(7, true)},
		ledger: []storage.AlertSent{
			// Signal 1 already reached this user through another path.
			{UserID: 7, SignalID: 1, AlertType: storage.AlertTypeImmediate, Success: true, SentAt: now.Add(-90 * time.Minute)},
		},
	}
	email := &fakeNotifier{channel: storage.ChannelEmail}

	d := newTestDispatcher(backend, testAlertingConfig(), []Notifier{email}, now)
	result, err := d.ProcessDigest(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, result.Sent)
	require.Equal(t, []string{"collector@example.com"}, email.sends)

	// One digest row for signal 2 only: 1 was already delivered, 3 is stale.
	require.Len(t, backend.ledger, 2)
	digestRow := backend.ledger[1]
	require.Equal(t, storage.AlertTypeDigest, digestRow.AlertType)
	require.Equal(t, int64(2), digestRow.SignalID)
	require.True(t, digestRow.Success)

	// Digest never flips the signal lifecycle flag.
	for _, sig := range backend.signals {
		require.False(t, sig.IsSent)
	}
}

func TestProcessDigestIsIdempotent(t *testing.T) {
	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	backend := &fakeBackend{
		signals:     []storage.Signal{mediumSignal(1, now.Add(-2 * time.Hour))},
		subscribers: []storage.Subscriber{emailSubscriber(7, true)},
	}
	email := &fakeNotifier{channel: storage.ChannelEmail}

	d := newTestDispatcher(backend, testAlertingConfig(), []Notifier{email}, now)

	first, err := d.ProcessDigest(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Sent)

	second, err := d.ProcessDigest(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, second.Sent)
	require.Equal(t, 1, second.SkippedDuplicate)
	require.Len(t, email.sends, 1)
	require.Len(t, backend.ledger, 1)
}

func TestProcessDigestSkipsNonDigestSubscribers(t *testing.T) {
	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	backend := &fakeBackend{
		signals:     []storage.Signal{mediumSignal(1, now.Add(-2 * time.Hour))},
		subscribers: []storage.Subscriber{emailSubscriber(7, false)},
	}
	email := &fakeNotifier{channel: storage.ChannelEmail}

	d := newTestDispatcher(backend, testAlertingConfig(), []Notifier{email}, now)
	result, err := d.ProcessDigest(context.Background())
	require.NoError(t, err)

	require.Equal(t, 0, result.UsersEligible)
	require.Empty(t, email.sends)
}

func TestProcessDigestDisabled(t *testing.T) {
	now := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	cfg := testAlertingConfig()
	cfg.Digest.Enabled = false

	backend := &fakeBackend{
		signals:     []storage.Signal{mediumSignal(1, now.Add(-2 * time.Hour))},
		subscribers: []storage.Subscriber{emailSubscriber(7, true)},
	}

	d := newTestDispatcher(backend, cfg, nil, now)
	result, err := d.ProcessDigest(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.SignalsFound)
}

var (
	_ storage.SignalStore     = (*fakeBackend)(nil)
	_ storage.AlertLedger     = (*fakeBackend)(nil)
	_ storage.SubscriberStore = (*fakeBackend)(nil)
	_ Notifier                = (*fakeNotifier)(nil)
)
