package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// The raw_prices table is owned by the scrapers. Category is derived the same
// way the scrapers present it: rows with a card number are singles, the rest
// are sealed product.
const listRawObservationsSinceSQL = `SELECT
        id,
        card_name,
        card_set,
        CASE WHEN card_number IS NOT NULL AND card_number <> '' THEN 'single' ELSE 'sealed' END AS category,
        price,
        currency,
        condition,
        source,
        scraped_at
    FROM raw_prices
    WHERE scraped_at >= $1
    ORDER BY scraped_at;`

// RawObservationStore reads scraped price rows. The pipeline never writes here.
type RawObservationStore interface {
	ListRawObservationsSince(ctx context.Context, since time.Time) ([]RawObservation, error)
}

// ListRawObservationsSince returns every observation scraped at or after the cutoff.
func (s *Store) ListRawObservationsSince(ctx context.Context, since time.Time) ([]RawObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRawObservationsSinceSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list raw observations: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]RawObservation, 0)
	for rows.Next() {
		var (
			obs      RawObservation
			priceStr string
		)
		if err := rows.Scan(
			&obs.ID,
			&obs.ProductName,
			&obs.ProductSet,
			&obs.Category,
			&priceStr,
			&obs.Currency,
			&obs.Condition,
			&obs.Source,
			&obs.ScrapedAt,
		); err != nil {
			return nil, fmt.Errorf("scan raw observation: %w", err)
		}
		obs.Price, err = decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse raw price: %w", err)
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}
