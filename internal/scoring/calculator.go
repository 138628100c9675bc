// Package scoring derives a weighted 0-100 deal score per product from
// market statistics.
package scoring

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dirkpokemon/pokemon-market-intel/internal/config"
	"github.com/dirkpokemon/pokemon-market-intel/internal/logging"
	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

// Calculator computes deal scores. Composite score is a deterministic
// weighted sum of four component scores; weights are validated to sum to 1.0
// at startup.
type Calculator struct {
	cfg    config.ScoringConfig
	logger zerolog.Logger
}

// New constructs a deal score calculator.
func New(cfg config.ScoringConfig, logger zerolog.Logger) *Calculator {
	return &Calculator{
		cfg:    cfg,
		logger: logging.Component(logger, "deal_score"),
	}
}

// Score calculates the deal score for one market stats row. The second
// return is false when the row lacks a usable current or average price;
// that product is skipped, not an error.
func (c *Calculator) Score(stats storage.MarketStats, now time.Time) (storage.DealScore, bool) {
	// Best available asking price stands in for "current".
	currentPrice := stats.MinPrice7d.InexactFloat64()
	if currentPrice == 0 {
		currentPrice = stats.MinPrice30d.InexactFloat64()
	}
	marketAvg := stats.AvgPrice30d.InexactFloat64()

	if currentPrice == 0 || marketAvg == 0 {
		return storage.DealScore{}, false
	}

	priceDevScore := priceDeviationScore(currentPrice, marketAvg)
	volumeScore := volumeTrendScore(stats.VolumeTrend7d.InexactFloat64())
	liquidityScore := stats.LiquidityScore.InexactFloat64()
	popularityScore := c.popularityScore(stats.ProductSet)

	w := c.cfg.Weights
	composite := priceDevScore*w.PriceDeviation +
		volumeScore*w.VolumeTrend +
		liquidityScore*w.Liquidity +
		popularityScore*w.Popularity

	confidence := c.confidence(stats.DataQuality, stats.SampleSize)

	return storage.DealScore{
		ProductName: stats.ProductName,
		ProductSet:  stats.ProductSet,
		Category:    stats.Category,

		CurrentPrice: decimal.NewFromFloat(currentPrice).Round(2),
		Currency:     "EUR",
		Condition:    "NM",
		Source:       "Aggregated",

		MarketAvgPrice: stats.AvgPrice30d,
		MarketMinPrice: stats.MinPrice30d,

		PriceDeviationScore: decimal.NewFromFloat(priceDevScore).Round(2),
		VolumeTrendScore:    decimal.NewFromFloat(volumeScore).Round(2),
		LiquidityScore:      decimal.NewFromFloat(liquidityScore).Round(2),
		PopularityScore:     decimal.NewFromFloat(popularityScore).Round(2),

		Score: decimal.NewFromFloat(composite).Round(2),

		Confidence:  decimal.NewFromFloat(confidence).Round(2),
		DataQuality: stats.DataQuality,

		IsActive:     true,
		ExpiresAt:    now.Add(c.cfg.ExpireAfter),
		CalculatedAt: now,
	}, true
}

// priceDeviationScore maps how far the current price sits below the market
// average onto 0-100: at the average scores 50, 50% below saturates at 100,
// 50% above saturates at 0, linear in between.
func priceDeviationScore(currentPrice, marketAvg float64) float64 {
	if marketAvg == 0 {
		return 0
	}

	deviation := (marketAvg - currentPrice) / marketAvg * 100

	switch {
	case deviation >= 50:
		return 100
	case deviation >= 0:
		return 50 + deviation/50*50
	case deviation <= -50:
		return 0
	default:
		return 50 + deviation/50*50
	}
}

// volumeTrendScore maps the 7-day volume trend onto 0-100: flat scores 50,
// +100% saturates at 100, -50% saturates at 0.
func volumeTrendScore(volumeTrend float64) float64 {
	switch {
	case volumeTrend >= 100:
		return 100
	case volumeTrend >= 0:
		return 50 + volumeTrend/100*50
	case volumeTrend <= -50:
		return 0
	default:
		return 50 + volumeTrend/50*50
	}
}

func (c *Calculator) popularityScore(productSet string) float64 {
	if score, ok := c.cfg.SetPopularity[strings.ToLower(productSet)]; ok {
		return score
	}
	return c.cfg.DefaultPopularity
}

// confidence starts from a per-quality base and scales down for thinner
// samples.
func (c *Calculator) confidence(dataQuality string, sampleSize int) float64 {
	base := 50.0
	switch dataQuality {
	case storage.QualityExcellent:
		base = 100
	case storage.QualityGood:
		base = 80
	case storage.QualityFair:
		base = 60
	case storage.QualityPoor:
		base = 40
	case storage.QualityInsufficient:
		base = 20
	}

	switch {
	case sampleSize >= 100:
		return base
	case sampleSize >= 50:
		return base * 0.95
	case sampleSize >= 20:
		return base * 0.85
	default:
		return base * 0.70
	}
}
