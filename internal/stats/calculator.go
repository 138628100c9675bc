// Package stats computes rolling-window market statistics per product from
// raw scraped observations.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dirkpokemon/pokemon-market-intel/internal/config"
	"github.com/dirkpokemon/pokemon-market-intel/internal/logging"
	"github.com/dirkpokemon/pokemon-market-intel/internal/normalize"
	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

// Column bounds for persisted numerics. Values are rounded to two decimals
// first, then clamped, so a 99999999.994 never clamps a cent early.
var (
	maxPrice = decimal.RequireFromString("99999999.99")
	maxTrend = decimal.RequireFromString("999.99")
	minTrend = decimal.RequireFromString("-999.99")
	maxScore = decimal.RequireFromString("999.99")
)

// Calculator aggregates raw observations into MarketStats rows.
type Calculator struct {
	cfg        config.AnalysisConfig
	normalizer *normalize.Normalizer
	logger     zerolog.Logger
}

// New constructs a market stats calculator.
func New(cfg config.AnalysisConfig, normalizer *normalize.Normalizer, logger zerolog.Logger) *Calculator {
	return &Calculator{
		cfg:        cfg,
		normalizer: normalizer,
		logger:     logging.Component(logger, "market_stats"),
	}
}

type groupKey struct {
	Name     string
	Set      string
	Category string
}

// Calculate normalizes the observations, groups them by product, and emits
// one MarketStats per group with enough clean samples. Groups below the
// "poor" cutoff are skipped silently; that is insufficient data, not an error.
func (c *Calculator) Calculate(observations []storage.RawObservation, now time.Time) []storage.MarketStats {
	groups := make(map[groupKey][]normalize.Observation)
	for _, raw := range observations {
		obs := c.normalizer.Apply(raw)
		key := groupKey{Name: obs.Name, Set: obs.Set, Category: obs.Category}
		groups[key] = append(groups[key], obs)
	}

	keys := make([]groupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		if keys[i].Set != keys[j].Set {
			return keys[i].Set < keys[j].Set
		}
		return keys[i].Category < keys[j].Category
	})

	results := make([]storage.MarketStats, 0, len(keys))
	for _, key := range keys {
		stats, ok := c.calculateGroup(key, groups[key], now)
		if !ok {
			continue
		}
		results = append(results, stats)
	}

	c.logger.Info().
		Int("observations", len(observations)).
		Int("groups", len(groups)).
		Int("emitted", len(results)).
		Msg("market statistics calculated")
	return results
}

func (c *Calculator) calculateGroup(key groupKey, group []normalize.Observation, now time.Time) (storage.MarketStats, bool) {
	prices := make([]float64, len(group))
	for i, obs := range group {
		prices[i] = obs.PriceEUR
	}

	outliers := c.normalizer.DetectOutliers(prices)
	clean := make([]normalize.Observation, 0, len(group))
	for i, obs := range group {
		if !outliers[i] {
			clean = append(clean, obs)
		}
	}

	if len(clean) < c.cfg.Quality.Poor {
		c.logger.Debug().
			Str("product", key.Name).
			Int("samples", len(clean)).
			Msg("insufficient data, skipping group")
		return storage.MarketStats{}, false
	}

	shortCutoff := now.Add(-time.Duration(c.cfg.ShortWindowDays) * 24 * time.Hour)
	short := make([]normalize.Observation, 0, len(clean))
	for _, obs := range clean {
		if !obs.Raw.ScrapedAt.Before(shortCutoff) {
			short = append(short, obs)
		}
	}
	long := clean

	meanShort, minShort, maxShort := windowStats(short)
	meanLong, minLong, maxLong := windowStats(long)

	priceTrendShort := 0.0
	if len(short) > 1 {
		priceTrendShort = priceTrend(short)
	}
	priceTrendLong := 0.0
	if len(long) > 1 {
		priceTrendLong = priceTrend(long)
	}
	volumeTrendShort := c.volumeTrend(len(short), len(long))

	return storage.MarketStats{
		ProductName: key.Name,
		ProductSet:  key.Set,
		Category:    key.Category,

		AvgPrice7d: roundClamp(meanShort, decimal.Zero, maxPrice),
		MinPrice7d: roundClamp(minShort, decimal.Zero, maxPrice),
		MaxPrice7d: roundClamp(maxShort, decimal.Zero, maxPrice),
		Volume7d:   len(short),

		AvgPrice30d: roundClamp(meanLong, decimal.Zero, maxPrice),
		MinPrice30d: roundClamp(minLong, decimal.Zero, maxPrice),
		MaxPrice30d: roundClamp(maxLong, decimal.Zero, maxPrice),
		Volume30d:   len(long),

		PriceTrend7d:  roundClamp(priceTrendShort, minTrend, maxTrend),
		PriceTrend30d: roundClamp(priceTrendLong, minTrend, maxTrend),
		VolumeTrend7d: roundClamp(volumeTrendShort, minTrend, maxTrend),
		// Needs history beyond the lookback window.
		VolumeTrend30d: decimal.Zero.Round(2),

		LiquidityScore: roundClamp(c.liquidityScore(len(long)), decimal.Zero, maxScore),
		Volatility:     roundClamp(volatility(pricesOf(long)), decimal.Zero, maxScore),

		SampleSize:   len(long),
		DataQuality:  c.normalizer.QualityLabel(len(long)),
		CalculatedAt: now,
	}, true
}

func pricesOf(observations []normalize.Observation) []float64 {
	prices := make([]float64, len(observations))
	for i, obs := range observations {
		prices[i] = obs.PriceEUR
	}
	return prices
}

func windowStats(observations []normalize.Observation) (mean, min, max float64) {
	if len(observations) == 0 {
		return 0, 0, 0
	}

	min = observations[0].PriceEUR
	max = observations[0].PriceEUR
	sum := 0.0
	for _, obs := range observations {
		p := obs.PriceEUR
		sum += p
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
	}
	return sum / float64(len(observations)), min, max
}

// priceTrend is the percentage change between the chronologically first and
// last price in the window.
func priceTrend(observations []normalize.Observation) float64 {
	if len(observations) < 2 {
		return 0
	}

	sorted := make([]normalize.Observation, len(observations))
	copy(sorted, observations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Raw.ScrapedAt.Before(sorted[j].Raw.ScrapedAt)
	})

	first := sorted[0].PriceEUR
	last := sorted[len(sorted)-1].PriceEUR
	if first == 0 {
		return 0
	}
	return (last - first) / first * 100
}

// volumeTrend compares short-window daily listing volume against the
// long-window daily average.
func (c *Calculator) volumeTrend(shortCount, longCount int) float64 {
	if shortCount == 0 || longCount == 0 {
		return 0
	}

	shortDaily := float64(shortCount) / float64(c.cfg.ShortWindowDays)
	longDaily := float64(longCount) / float64(c.cfg.LongWindowDays)
	if longDaily == 0 {
		return 0
	}
	return (shortDaily - longDaily) / longDaily * 100
}

// liquidityScore maps 30-day listing volume onto a 0-100 score through the
// configured piecewise-linear bands, saturating above the top band.
func (c *Calculator) liquidityScore(volume int) float64 {
	bands := c.cfg.Liquidity
	switch {
	case volume >= bands.High:
		return 100
	case volume >= bands.Med:
		ratio := float64(volume-bands.Med) / float64(bands.High-bands.Med)
		return 50 + ratio*50
	case volume >= bands.Low:
		ratio := float64(volume-bands.Low) / float64(bands.Med-bands.Low)
		return 20 + ratio*30
	default:
		return float64(volume) / float64(bands.Low) * 20
	}
}

// volatility is the coefficient of variation over the window, as a percentage.
func volatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}

	mean := 0.0
	for _, p := range prices {
		mean += p
	}
	mean /= float64(len(prices))
	if mean == 0 {
		return 0
	}

	variance := 0.0
	for _, p := range prices {
		diff := p - mean
		variance += diff * diff
	}
	std := math.Sqrt(variance / float64(len(prices)))
	return std / mean * 100
}

func roundClamp(v float64, lower, upper decimal.Decimal) decimal.Decimal {
	d := decimal.NewFromFloat(v).Round(2)
	if d.LessThan(lower) {
		return lower
	}
	if d.GreaterThan(upper) {
		return upper
	}
	return d
}
