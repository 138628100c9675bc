package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	insertSignalSQL = `INSERT INTO signals (
        signal_type,
        signal_level,
        product_name,
        product_set,
        category,
        current_price,
        market_avg_price,
        deal_score,
        description,
        signal_metadata,
        confidence,
        priority,
        is_active,
        is_sent,
        detected_at,
        expires_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
    ) RETURNING id;`

	signalColumns = `id,
        signal_type,
        signal_level,
        product_name,
        product_set,
        category,
        current_price,
        market_avg_price,
        deal_score,
        description,
        signal_metadata,
        confidence,
        priority,
        is_active,
        is_sent,
        sent_at,
        detected_at,
        expires_at`

	listUnsentSignalsByLevelSQL = `SELECT ` + signalColumns + `
    FROM signals
    WHERE is_active = TRUE
      AND is_sent = FALSE
      AND signal_level = $1
    ORDER BY priority DESC, detected_at DESC;`

	listRecentSignalsByLevelSQL = `SELECT ` + signalColumns + `
    FROM signals
    WHERE is_active = TRUE
      AND signal_level = $1
      AND detected_at >= $2
    ORDER BY priority DESC, detected_at DESC;`

	listRecentSignalsSQL = `SELECT ` + signalColumns + `
    FROM signals
    ORDER BY detected_at DESC
    LIMIT $1;`

	markSignalSentSQL = `UPDATE signals
    SET is_sent = TRUE, sent_at = $2
    WHERE id = $1;`

	deactivateExpiredSignalsSQL = `UPDATE signals
    SET is_active = FALSE
    WHERE is_active = TRUE
      AND expires_at < $1;`
)

// SignalStore defines signal persistence.
type SignalStore interface {
	InsertSignal(ctx context.Context, sig Signal) (Signal, error)
	ListUnsentSignalsByLevel(ctx context.Context, level string) ([]Signal, error)
	ListRecentSignalsByLevel(ctx context.Context, level string, since time.Time) ([]Signal, error)
	ListRecentSignals(ctx context.Context, limit int) ([]Signal, error)
	MarkSignalSent(ctx context.Context, id int64, at time.Time) error
	DeactivateExpiredSignals(ctx context.Context, now time.Time) (int64, error)
}

// InsertSignal persists a detected signal and returns it with its row id.
func (s *Store) InsertSignal(ctx context.Context, sig Signal) (Signal, error) {
	pool, err := s.getPool()
	if err != nil {
		return Signal{}, err
	}

	var dealScore interface{}
	if sig.DealScore != nil {
		dealScore = sig.DealScore.String()
	}
	var metadata interface{}
	if len(sig.Metadata) > 0 {
		metadata = []byte(sig.Metadata)
	}

	if scanErr := pool.QueryRow(ctx, insertSignalSQL,
		sig.SignalType,
		sig.SignalLevel,
		sig.ProductName,
		sig.ProductSet,
		sig.Category,
		sig.CurrentPrice.String(),
		sig.MarketAvgPrice.String(),
		dealScore,
		sig.Description,
		metadata,
		sig.Confidence.String(),
		sig.Priority,
		sig.IsActive,
		sig.IsSent,
		sig.DetectedAt,
		sig.ExpiresAt,
	).Scan(&sig.ID); scanErr != nil {
		return Signal{}, fmt.Errorf("insert signal: %w", scanErr)
	}
	return sig, nil
}

// ListUnsentSignalsByLevel lists active, unsent signals of a level ordered by urgency.
func (s *Store) ListUnsentSignalsByLevel(ctx context.Context, level string) ([]Signal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listUnsentSignalsByLevelSQL, level)
	if queryErr != nil {
		return nil, fmt.Errorf("list unsent signals: %w", queryErr)
	}
	defer rows.Close()
	return collectSignals(rows)
}

// ListRecentSignalsByLevel lists active signals of a level detected at or after the cutoff.
func (s *Store) ListRecentSignalsByLevel(ctx context.Context, level string, since time.Time) ([]Signal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentSignalsByLevelSQL, level, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent signals by level: %w", queryErr)
	}
	defer rows.Close()
	return collectSignals(rows)
}

// ListRecentSignals lists the most recently detected signals.
func (s *Store) ListRecentSignals(ctx context.Context, limit int) ([]Signal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentSignalsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent signals: %w", queryErr)
	}
	defer rows.Close()
	return collectSignals(rows)
}

// MarkSignalSent flips is_sent and stamps sent_at.
func (s *Store) MarkSignalSent(ctx context.Context, id int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, markSignalSentSQL, id, at)
	if execErr != nil {
		return fmt.Errorf("mark signal sent: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeactivateExpiredSignals flips is_active off for signals past their expiry.
func (s *Store) DeactivateExpiredSignals(ctx context.Context, now time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deactivateExpiredSignalsSQL, now)
	if execErr != nil {
		return 0, fmt.Errorf("deactivate expired signals: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectSignals(rows pgx.Rows) ([]Signal, error) {
	result := make([]Signal, 0)
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sig)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return result, nil
}

func scanSignal(rows pgx.Rows) (Signal, error) {
	var (
		sig           Signal
		priceStr      string
		avgStr        string
		dealScoreStr  *string
		metadata      json.RawMessage
		confidenceStr string
		sentAt        *time.Time
	)
	if err := rows.Scan(
		&sig.ID,
		&sig.SignalType,
		&sig.SignalLevel,
		&sig.ProductName,
		&sig.ProductSet,
		&sig.Category,
		&priceStr,
		&avgStr,
		&dealScoreStr,
		&sig.Description,
		&metadata,
		&confidenceStr,
		&sig.Priority,
		&sig.IsActive,
		&sig.IsSent,
		&sentAt,
		&sig.DetectedAt,
		&sig.ExpiresAt,
	); err != nil {
		return Signal{}, fmt.Errorf("scan signal: %w", err)
	}

	var err error
	sig.CurrentPrice, err = decimal.NewFromString(priceStr)
	if err != nil {
		return Signal{}, fmt.Errorf("parse signal price: %w", err)
	}
	sig.MarketAvgPrice, err = decimal.NewFromString(avgStr)
	if err != nil {
		return Signal{}, fmt.Errorf("parse signal avg price: %w", err)
	}
	if dealScoreStr != nil {
		parsed, parseErr := decimal.NewFromString(*dealScoreStr)
		if parseErr != nil {
			return Signal{}, fmt.Errorf("parse signal deal score: %w", parseErr)
		}
		sig.DealScore = &parsed
	}
	sig.Confidence, err = decimal.NewFromString(confidenceStr)
	if err != nil {
		return Signal{}, fmt.Errorf("parse signal confidence: %w", err)
	}
	sig.Metadata = metadata
	sig.SentAt = sentAt
	return sig, nil
}
