package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	insertMarketStatsSQL = `INSERT INTO market_stats (
        product_name,
        product_set,
        category,
        avg_price_7d,
        min_price_7d,
        max_price_7d,
        volume_7d,
        avg_price_30d,
        min_price_30d,
        max_price_30d,
        volume_30d,
        price_trend_7d,
        price_trend_30d,
        volume_trend_7d,
        volume_trend_30d,
        liquidity_score,
        volatility,
        sample_size,
        data_quality,
        calculated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
    ) RETURNING id;`

	marketStatsColumns = `id,
        product_name,
        product_set,
        category,
        avg_price_7d,
        min_price_7d,
        max_price_7d,
        volume_7d,
        avg_price_30d,
        min_price_30d,
        max_price_30d,
        volume_30d,
        price_trend_7d,
        price_trend_30d,
        volume_trend_7d,
        volume_trend_30d,
        liquidity_score,
        volatility,
        sample_size,
        data_quality,
        calculated_at`

	listMarketStatsSinceSQL = `SELECT ` + marketStatsColumns + `
    FROM market_stats
    WHERE calculated_at >= $1
    ORDER BY calculated_at;`

	listRecentMarketStatsSQL = `SELECT ` + marketStatsColumns + `
    FROM market_stats
    ORDER BY calculated_at DESC
    LIMIT $1;`

	listMarketStatsHistorySQL = `SELECT ` + marketStatsColumns + `
    FROM market_stats
    WHERE product_name = $1
      AND product_set = $2
      AND calculated_at >= $3
      AND calculated_at < $4
    ORDER BY calculated_at;`
)

// MarketStatsStore defines market statistics persistence.
type MarketStatsStore interface {
	InsertMarketStats(ctx context.Context, stats MarketStats) error
	ListMarketStatsSince(ctx context.Context, since time.Time) ([]MarketStats, error)
	ListRecentMarketStats(ctx context.Context, limit int) ([]MarketStats, error)
	ListMarketStatsHistory(ctx context.Context, name, set string, from, to time.Time) ([]MarketStats, error)
}

// InsertMarketStats persists one aggregation result. Rows are immutable;
// later runs insert fresh rows rather than updating.
func (s *Store) InsertMarketStats(ctx context.Context, stats MarketStats) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var id int64
	if scanErr := pool.QueryRow(ctx, insertMarketStatsSQL,
		stats.ProductName,
		stats.ProductSet,
		stats.Category,
		stats.AvgPrice7d.String(),
		stats.MinPrice7d.String(),
		stats.MaxPrice7d.String(),
		stats.Volume7d,
		stats.AvgPrice30d.String(),
		stats.MinPrice30d.String(),
		stats.MaxPrice30d.String(),
		stats.Volume30d,
		stats.PriceTrend7d.String(),
		stats.PriceTrend30d.String(),
		stats.VolumeTrend7d.String(),
		stats.VolumeTrend30d.String(),
		stats.LiquidityScore.String(),
		stats.Volatility.String(),
		stats.SampleSize,
		stats.DataQuality,
		stats.CalculatedAt,
	).Scan(&id); scanErr != nil {
		return fmt.Errorf("insert market stats: %w", scanErr)
	}
	return nil
}

// ListMarketStatsSince lists stats calculated at or after the cutoff.
func (s *Store) ListMarketStatsSince(ctx context.Context, since time.Time) ([]MarketStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listMarketStatsSinceSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list market stats since: %w", queryErr)
	}
	defer rows.Close()
	return collectMarketStats(rows)
}

// ListRecentMarketStats lists the most recent stats rows.
func (s *Store) ListRecentMarketStats(ctx context.Context, limit int) ([]MarketStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentMarketStatsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent market stats: %w", queryErr)
	}
	defer rows.Close()
	return collectMarketStats(rows)
}

// ListMarketStatsHistory lists a single product's stats within a time window.
func (s *Store) ListMarketStatsHistory(ctx context.Context, name, set string, from, to time.Time) ([]MarketStats, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listMarketStatsHistorySQL, name, set, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list market stats history: %w", queryErr)
	}
	defer rows.Close()
	return collectMarketStats(rows)
}

func collectMarketStats(rows pgx.Rows) ([]MarketStats, error) {
	result := make([]MarketStats, 0)
	for rows.Next() {
		stats, err := scanMarketStats(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, stats)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return result, nil
}

func scanMarketStats(rows pgx.Rows) (MarketStats, error) {
	var (
		stats MarketStats
		dec   = make([]string, 12)
	)
	if err := rows.Scan(
		&stats.ID,
		&stats.ProductName,
		&stats.ProductSet,
		&stats.Category,
		&dec[0], &dec[1], &dec[2],
		&stats.Volume7d,
		&dec[3], &dec[4], &dec[5],
		&stats.Volume30d,
		&dec[6], &dec[7], &dec[8], &dec[9],
		&dec[10], &dec[11],
		&stats.SampleSize,
		&stats.DataQuality,
		&stats.CalculatedAt,
	); err != nil {
		return MarketStats{}, fmt.Errorf("scan market stats: %w", err)
	}

	fields := []*decimal.Decimal{
		&stats.AvgPrice7d, &stats.MinPrice7d, &stats.MaxPrice7d,
		&stats.AvgPrice30d, &stats.MinPrice30d, &stats.MaxPrice30d,
		&stats.PriceTrend7d, &stats.PriceTrend30d,
		&stats.VolumeTrend7d, &stats.VolumeTrend30d,
		&stats.LiquidityScore, &stats.Volatility,
	}
	for i, field := range fields {
		parsed, err := decimal.NewFromString(dec[i])
		if err != nil {
			return MarketStats{}, fmt.Errorf("parse market stats decimal: %w", err)
		}
		*field = parsed
	}
	return stats, nil
}
