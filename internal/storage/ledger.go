package storage

import (
	"context"
	"fmt"
	"time"
)

const (
	insertAlertSentSQL = `INSERT INTO alerts_sent (
        user_id,
        signal_id,
        alert_type,
        severity,
        channel,
        subject,
        sent_successfully,
        error_message,
        external_message_id,
        sent_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    ) RETURNING id;`

	hasAlertBeenSentSQL = `SELECT EXISTS (
        SELECT 1 FROM alerts_sent
        WHERE user_id = $1 AND signal_id = $2
    );`

	countImmediateAlertsTodaySQL = `SELECT COUNT(*)
    FROM alerts_sent
    WHERE user_id = $1
      AND alert_type = 'immediate'
      AND sent_successfully = TRUE
      AND sent_at >= $2;`

	listEligibleSubscribersSQL = `SELECT
        id,
        email,
        COALESCE(full_name, ''),
        role,
        alert_email,
        telegram_chat_id,
        alerts_enabled,
        digest_enabled,
        is_active
    FROM users
    WHERE is_active = TRUE
      AND alerts_enabled = TRUE
      AND role IN ('paid', 'pro', 'admin');`
)

// AlertLedger is the append-only record of delivery attempts. Rows are never
// mutated or deleted; the pair (user, signal) is the dedup key.
type AlertLedger interface {
	InsertAlertSent(ctx context.Context, alert AlertSent) error
	HasAlertBeenSent(ctx context.Context, userID, signalID int64) (bool, error)
	CountImmediateAlertsToday(ctx context.Context, userID int64, dayStart time.Time) (int64, error)
}

// SubscriberStore reads the externally-owned users table.
type SubscriberStore interface {
	ListEligibleSubscribers(ctx context.Context) ([]Subscriber, error)
}

// InsertAlertSent appends one delivery attempt to the ledger.
func (s *Store) InsertAlertSent(ctx context.Context, alert AlertSent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if alert.ErrorMessage != nil {
		errMsg = *alert.ErrorMessage
	}
	var externalID interface{}
	if alert.ExternalMessageID != nil {
		externalID = *alert.ExternalMessageID
	}

	var id int64
	if scanErr := pool.QueryRow(ctx, insertAlertSentSQL,
		alert.UserID,
		alert.SignalID,
		alert.AlertType,
		alert.Severity,
		alert.Channel,
		alert.Subject,
		alert.Success,
		errMsg,
		externalID,
		alert.SentAt,
	).Scan(&id); scanErr != nil {
		return fmt.Errorf("insert alert sent: %w", scanErr)
	}
	return nil
}

// HasAlertBeenSent reports whether any ledger row exists for (user, signal).
func (s *Store) HasAlertBeenSent(ctx context.Context, userID, signalID int64) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, hasAlertBeenSentSQL, userID, signalID).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("check alert sent: %w", scanErr)
	}
	return exists, nil
}

// CountImmediateAlertsToday counts successful immediate deliveries for the
// user since the given UTC day start.
func (s *Store) CountImmediateAlertsToday(ctx context.Context, userID int64, dayStart time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countImmediateAlertsTodaySQL, userID, dayStart).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count immediate alerts: %w", scanErr)
	}
	return count, nil
}

// ListEligibleSubscribers lists active premium subscribers with alerts enabled.
func (s *Store) ListEligibleSubscribers(ctx context.Context) ([]Subscriber, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listEligibleSubscribersSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list eligible subscribers: %w", queryErr)
	}
	defer rows.Close()

	subscribers := make([]Subscriber, 0)
	for rows.Next() {
		var sub Subscriber
		if err := rows.Scan(
			&sub.ID,
			&sub.Email,
			&sub.FullName,
			&sub.Tier,
			&sub.AlertEmail,
			&sub.TelegramChatID,
			&sub.AlertsEnabled,
			&sub.DigestEnabled,
			&sub.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subscribers = append(subscribers, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subscribers, nil
}
