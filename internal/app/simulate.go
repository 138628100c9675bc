package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dirkpokemon/pokemon-market-intel/internal/alerting"
	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

// SimulateAlert feeds one fabricated high-priority signal through the real
// dispatcher and channel transports. Nothing touches the database; signals,
// ledger and subscribers are held in memory.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled in configuration")
	}
	if opts.Email == "" && opts.ChatID == "" {
		return errors.New("at least one of --email or --chat-id must be provided")
	}

	notifiers := a.newNotifiers()
	if len(notifiers) == 0 {
		return errors.New("no alert channel enabled in configuration")
	}

	now := time.Now().UTC()
	score := decimal.NewFromInt(92)
	sig := storage.Signal{
		ID:             1,
		SignalType:     storage.SignalHighDeal,
		SignalLevel:    storage.LevelHigh,
		Priority:       10,
		ProductName:    opts.Product,
		ProductSet:     opts.Set,
		Category:       "single",
		CurrentPrice:   decimal.NewFromFloat(opts.Price),
		MarketAvgPrice: decimal.NewFromFloat(opts.MarketAvg),
		DealScore:      &score,
		Confidence:     decimal.NewFromInt(95),
		Description:    fmt.Sprintf("Excellent deal detected: %s at €%.2f (score: 92)", opts.Product, opts.Price),
		IsActive:       true,
		DetectedAt:     now,
		ExpiresAt:      now.Add(24 * time.Hour),
	}

	sub := storage.Subscriber{
		ID:            1,
		Email:         opts.Email,
		FullName:      "Simulated Subscriber",
		Tier:          storage.TierAdmin,
		AlertsEnabled: true,
		IsActive:      true,
	}
	if opts.ChatID != "" {
		chatID := opts.ChatID
		sub.TelegramChatID = &chatID
	}

	mem := newMemoryAlertBackend([]storage.Signal{sig}, []storage.Subscriber{sub})
	dispatcher := alerting.NewDispatcher(a.Config.Alerting, mem, mem, mem, notifiers, a.Logger)

	result, err := dispatcher.ProcessImmediate(ctx)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Msg("simulation complete")
	if result.Sent == 0 {
		return errors.New("simulated alert was not delivered on any channel")
	}
	return nil
}

// memoryAlertBackend implements the dispatcher's store interfaces in memory.
type memoryAlertBackend struct {
	mu          sync.Mutex
	signals     []storage.Signal
	subscribers []storage.Subscriber
	ledger      []storage.AlertSent
}

func newMemoryAlertBackend(signals []storage.Signal, subscribers []storage.Subscriber) *memoryAlertBackend {
	return &memoryAlertBackend{signals: signals, subscribers: subscribers}
}

func (m *memoryAlertBackend) InsertSignal(ctx context.Context, sig storage.Signal) (storage.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig.ID = int64(len(m.signals) + 1)
	m.signals = append(m.signals, sig)
	return sig, nil
}

func (m *memoryAlertBackend) ListUnsentSignalsByLevel(ctx context.Context, level string) ([]storage.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]storage.Signal, 0, len(m.signals))
	for _, sig := range m.signals {
		if sig.IsActive && !sig.IsSent && sig.SignalLevel == level {
			result = append(result, sig)
		}
	}
	return result, nil
}

func (m *memoryAlertBackend) ListRecentSignalsByLevel(ctx context.Context, level string, since time.Time) ([]storage.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]storage.Signal, 0, len(m.signals))
	for _, sig := range m.signals {
		if sig.IsActive && sig.SignalLevel == level && !sig.DetectedAt.Before(since) {
			result = append(result, sig)
		}
	}
	return result, nil
}

func (m *memoryAlertBackend) ListRecentSignals(ctx context.Context, limit int) ([]storage.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.signals) {
		limit = len(m.signals)
	}
	return append([]storage.Signal(nil), m.signals[:limit]...), nil
}

func (m *memoryAlertBackend) MarkSignalSent(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.signals {
		if m.signals[i].ID == id {
			m.signals[i].IsSent = true
			m.signals[i].SentAt = &at
			return nil
		}
	}
	return fmt.Errorf("signal %d not found", id)
}

func (m *memoryAlertBackend) DeactivateExpiredSignals(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *memoryAlertBackend) InsertAlertSent(ctx context.Context, alert storage.AlertSent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert.ID = int64(len(m.ledger) + 1)
	m.ledger = append(m.ledger, alert)
	return nil
}

func (m *memoryAlertBackend) HasAlertBeenSent(ctx context.Context, userID, signalID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.ledger {
		if row.UserID == userID && row.SignalID == signalID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryAlertBackend) CountImmediateAlertsToday(ctx context.Context, userID int64, dayStart time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, row := range m.ledger {
		if row.UserID == userID && row.AlertType == storage.AlertTypeImmediate &&
			row.Success && !row.SentAt.Before(dayStart) {
			count++
		}
	}
	return count, nil
}

func (m *memoryAlertBackend) ListEligibleSubscribers(ctx context.Context) ([]storage.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]storage.Subscriber, 0, len(m.subscribers))
	for _, sub := range m.subscribers {
		if sub.IsActive && sub.AlertsEnabled && sub.IsPremium() {
			result = append(result, sub)
		}
	}
	return result, nil
}

var (
	_ storage.SignalStore     = (*memoryAlertBackend)(nil)
	_ storage.AlertLedger     = (*memoryAlertBackend)(nil)
	_ storage.SubscriberStore = (*memoryAlertBackend)(nil)
)
