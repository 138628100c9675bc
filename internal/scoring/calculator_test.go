package scoring

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dirkpokemon/pokemon-market-intel/internal/config"
	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Weights: config.ScoringWeights{
			PriceDeviation: 0.4,
			VolumeTrend:    0.3,
			Liquidity:      0.2,
			Popularity:     0.1,
		},
		SetPopularity:     map[string]float64{"151": 95, "base set": 100},
		DefaultPopularity: 50,
		ExpireAfter:       24 * time.Hour,
	}
}

func TestPriceDeviationScore(t *testing.T) {
	require.Equal(t, 50.0, priceDeviationScore(50, 50), "at the average")
	require.Equal(t, 70.0, priceDeviationScore(40, 50), "20%% below average")
	require.Equal(t, 100.0, priceDeviationScore(25, 50), "50%% below saturates")
	require.Equal(t, 100.0, priceDeviationScore(5, 50), "beyond saturation stays pinned")
	require.Equal(t, 30.0, priceDeviationScore(60, 50), "20%% above average")
	require.Equal(t, 0.0, priceDeviationScore(80, 50), "50%% above saturates")
	require.Equal(t, 0.0, priceDeviationScore(10, 0), "zero average scores zero")
}

func TestVolumeTrendScore(t *testing.T) {
	require.Equal(t, 50.0, volumeTrendScore(0))
	require.Equal(t, 75.0, volumeTrendScore(50))
	require.Equal(t, 100.0, volumeTrendScore(100))
	require.Equal(t, 100.0, volumeTrendScore(240))
	require.Equal(t, 25.0, volumeTrendScore(-25))
	require.Equal(t, 0.0, volumeTrendScore(-50))
	require.Equal(t, 0.0, volumeTrendScore(-90))
}

func TestConfidence(t *testing.T) {
	c := New(testScoringConfig(), zerolog.Nop())

	require.Equal(t, 100.0, c.confidence(storage.QualityExcellent, 120))
	require.Equal(t, 80.0*0.95, c.confidence(storage.QualityGood, 60))
	require.Equal(t, 80.0*0.85, c.confidence(storage.QualityGood, 30))
	require.Equal(t, 60.0*0.70, c.confidence(storage.QualityFair, 12))
	require.Equal(t, 20.0*0.70, c.confidence(storage.QualityInsufficient, 2))
	require.Equal(t, 50.0*0.70, c.confidence("unknown", 3), "unknown quality gets the neutral base")
}

func TestScoreComposite(t *testing.T) {
	c := New(testScoringConfig(), zerolog.Nop())
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	stats := storage.MarketStats{
		ProductName:    "Charizard Ex",
		ProductSet:     "151",
		Category:       "single",
		MinPrice7d:     decimal.NewFromInt(40),
		MinPrice30d:    decimal.NewFromInt(38),
		AvgPrice30d:    decimal.NewFromInt(50),
		VolumeTrend7d:  decimal.NewFromInt(20),
		LiquidityScore: decimal.NewFromInt(80),
		SampleSize:     25,
		DataQuality:    storage.QualityGood,
	}

	score, ok := c.Score(stats, now)
	require.True(t, ok)

	// 70*0.4 + 60*0.3 + 80*0.2 + 95*0.1
	require.Equal(t, "71.5", score.Score.String())
	require.Equal(t, "70", score.PriceDeviationScore.String())
	require.Equal(t, "60", score.VolumeTrendScore.String())
	require.Equal(t, "95", score.PopularityScore.String())
	require.Equal(t, "68", score.Confidence.String())

	require.Equal(t, "40", score.CurrentPrice.String())
	require.Equal(t, "EUR", score.Currency)
	require.Equal(t, "NM", score.Condition)
	require.True(t, score.IsActive)
	require.Equal(t, now.Add(24*time.Hour), score.ExpiresAt)
}

func TestScoreFallsBackToLongWindowPrice(t *testing.T) {
	c := New(testScoringConfig(), zerolog.Nop())
	now := time.Now().UTC()

	stats := storage.MarketStats{
		ProductSet:  "unlisted set",
		MinPrice30d: decimal.NewFromInt(30),
		AvgPrice30d: decimal.NewFromInt(30),
	}

	score, ok := c.Score(stats, now)
	require.True(t, ok)
	require.Equal(t, "30", score.CurrentPrice.String())
	require.Equal(t, "50", score.PopularityScore.String(), "unlisted sets take the default popularity")
}

func TestScoreSkipsUnpriceableRows(t *testing.T) {
	c := New(testScoringConfig(), zerolog.Nop())
	now := time.Now().UTC()

	_, ok := c.Score(storage.MarketStats{AvgPrice30d: decimal.NewFromInt(10)}, now)
	require.False(t, ok, "no current price")

	_, ok = c.Score(storage.MarketStats{MinPrice7d: decimal.NewFromInt(10)}, now)
	require.False(t, ok, "no market average")
}
