package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	deactivateDealScoresForProductSQL = `UPDATE deal_scores
    SET is_active = FALSE
    WHERE product_name = $1
      AND product_set = $2
      AND category = $3
      AND is_active = TRUE;`

	insertDealScoreSQL = `INSERT INTO deal_scores (
        product_name,
        product_set,
        category,
        current_price,
        currency,
        condition,
        source,
        market_avg_price,
        market_min_price,
        price_deviation_score,
        volume_trend_score,
        liquidity_score,
        popularity_score,
        deal_score,
        confidence,
        data_quality,
        is_active,
        expires_at,
        calculated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
    ) RETURNING id;`

	dealScoreColumns = `id,
        product_name,
        product_set,
        category,
        current_price,
        currency,
        condition,
        source,
        market_avg_price,
        market_min_price,
        price_deviation_score,
        volume_trend_score,
        liquidity_score,
        popularity_score,
        deal_score,
        confidence,
        data_quality,
        is_active,
        expires_at,
        calculated_at`

	listActiveDealScoresSinceSQL = `SELECT ` + dealScoreColumns + `
    FROM deal_scores
    WHERE calculated_at >= $1
      AND is_active = TRUE
    ORDER BY deal_score DESC;`

	listTopDealScoresSQL = `SELECT ` + dealScoreColumns + `
    FROM deal_scores
    WHERE is_active = TRUE
    ORDER BY deal_score DESC
    LIMIT $1;`

	deactivateExpiredDealScoresSQL = `UPDATE deal_scores
    SET is_active = FALSE
    WHERE is_active = TRUE
      AND expires_at < $1;`
)

// DealScoreStore defines deal score persistence.
type DealScoreStore interface {
	SaveDealScore(ctx context.Context, score DealScore) error
	ListActiveDealScoresSince(ctx context.Context, since time.Time) ([]DealScore, error)
	ListTopDealScores(ctx context.Context, limit int) ([]DealScore, error)
	DeactivateExpiredDealScores(ctx context.Context, now time.Time) (int64, error)
}

// SaveDealScore deactivates any prior active rows for the product and inserts
// the new score in a single transaction, keeping one active row per product.
func (s *Store) SaveDealScore(ctx context.Context, score DealScore) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin deal score tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deactivateDealScoresForProductSQL,
		score.ProductName, score.ProductSet, score.Category,
	); err != nil {
		return fmt.Errorf("deactivate prior deal scores: %w", err)
	}

	var id int64
	if err := tx.QueryRow(ctx, insertDealScoreSQL,
		score.ProductName,
		score.ProductSet,
		score.Category,
		score.CurrentPrice.String(),
		score.Currency,
		score.Condition,
		score.Source,
		score.MarketAvgPrice.String(),
		score.MarketMinPrice.String(),
		score.PriceDeviationScore.String(),
		score.VolumeTrendScore.String(),
		score.LiquidityScore.String(),
		score.PopularityScore.String(),
		score.Score.String(),
		score.Confidence.String(),
		score.DataQuality,
		score.IsActive,
		score.ExpiresAt,
		score.CalculatedAt,
	).Scan(&id); err != nil {
		return fmt.Errorf("insert deal score: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit deal score tx: %w", err)
	}
	return nil
}

// ListActiveDealScoresSince lists active scores calculated at or after the cutoff.
func (s *Store) ListActiveDealScoresSince(ctx context.Context, since time.Time) ([]DealScore, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listActiveDealScoresSinceSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list active deal scores: %w", queryErr)
	}
	defer rows.Close()
	return collectDealScores(rows)
}

// ListTopDealScores lists the best currently-active scores.
func (s *Store) ListTopDealScores(ctx context.Context, limit int) ([]DealScore, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listTopDealScoresSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list top deal scores: %w", queryErr)
	}
	defer rows.Close()
	return collectDealScores(rows)
}

// DeactivateExpiredDealScores flips is_active off for rows past their expiry.
func (s *Store) DeactivateExpiredDealScores(ctx context.Context, now time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deactivateExpiredDealScoresSQL, now)
	if execErr != nil {
		return 0, fmt.Errorf("deactivate expired deal scores: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectDealScores(rows pgx.Rows) ([]DealScore, error) {
	result := make([]DealScore, 0)
	for rows.Next() {
		score, err := scanDealScore(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, score)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return result, nil
}

func scanDealScore(rows pgx.Rows) (DealScore, error) {
	var (
		score DealScore
		dec   = make([]string, 9)
	)
	if err := rows.Scan(
		&score.ID,
		&score.ProductName,
		&score.ProductSet,
		&score.Category,
		&dec[0],
		&score.Currency,
		&score.Condition,
		&score.Source,
		&dec[1], &dec[2],
		&dec[3], &dec[4], &dec[5], &dec[6],
		&dec[7],
		&dec[8],
		&score.DataQuality,
		&score.IsActive,
		&score.ExpiresAt,
		&score.CalculatedAt,
	); err != nil {
		return DealScore{}, fmt.Errorf("scan deal score: %w", err)
	}

	fields := []*decimal.Decimal{
		&score.CurrentPrice,
		&score.MarketAvgPrice, &score.MarketMinPrice,
		&score.PriceDeviationScore, &score.VolumeTrendScore,
		&score.LiquidityScore, &score.PopularityScore,
		&score.Score,
		&score.Confidence,
	}
	for i, field := range fields {
		parsed, err := decimal.NewFromString(dec[i])
		if err != nil {
			return DealScore{}, fmt.Errorf("parse deal score decimal: %w", err)
		}
		*field = parsed
	}
	return score, nil
}
