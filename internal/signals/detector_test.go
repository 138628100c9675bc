package signals

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dirkpokemon/pokemon-market-intel/internal/config"
	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

func testSignalsConfig() config.SignalsConfig {
	return config.SignalsConfig{
		DealScoreHigh:        80,
		DealScoreMedium:      60,
		UndervaluedPct:       20,
		MomentumPriceChange:  10,
		MomentumVolumeChange: 20,
		RiskVolumeDrop:       -30,
		RiskPriceRise:        20,
		Lookback:             24 * time.Hour,
		ExpireAfter:          24 * time.Hour,
	}
}

func testDetector() *Detector {
	return New(testSignalsConfig(), zerolog.Nop())
}

func dealScore(name string, score, current, avg int64) storage.DealScore {
	return storage.DealScore{
		ProductName:    name,
		ProductSet:     "151",
		Category:       "single",
		Score:          decimal.NewFromInt(score),
		CurrentPrice:   decimal.NewFromInt(current),
		MarketAvgPrice: decimal.NewFromInt(avg),
		Confidence:     decimal.NewFromInt(85),
	}
}

func marketRow(name string, priceTrend, volumeTrend int64) storage.MarketStats {
	return storage.MarketStats{
		ProductName:   name,
		ProductSet:    "151",
		Category:      "single",
		AvgPrice7d:    decimal.NewFromInt(20),
		AvgPrice30d:   decimal.NewFromInt(18),
		PriceTrend7d:  decimal.NewFromInt(priceTrend),
		VolumeTrend7d: decimal.NewFromInt(volumeTrend),
	}
}

func filterByType(signals []storage.Signal, signalType string) []storage.Signal {
	result := make([]storage.Signal, 0)
	for _, sig := range signals {
		if sig.SignalType == signalType {
			result = append(result, sig)
		}
	}
	return result
}

func TestDealSignalsAreMutuallyExclusive(t *testing.T) {
	d := testDetector()
	now := time.Now().UTC()

	// Deviation below 20% so the undervalued rule stays quiet.
	detected := d.Detect([]storage.DealScore{dealScore("Charizard Ex", 85, 45, 50)}, nil, now)
	require.Len(t, detected, 1)
	require.Equal(t, storage.SignalHighDeal, detected[0].SignalType)
	require.Equal(t, storage.LevelHigh, detected[0].SignalLevel)
	require.Equal(t, 10, detected[0].Priority)

	detected = d.Detect([]storage.DealScore{dealScore("Charizard Ex", 67, 45, 50)}, nil, now)
	require.Len(t, detected, 1)
	require.Equal(t, storage.SignalMediumDeal, detected[0].SignalType)
	require.Equal(t, storage.LevelMedium, detected[0].SignalLevel)
	require.Equal(t, 5, detected[0].Priority)

	detected = d.Detect([]storage.DealScore{dealScore("Charizard Ex", 59, 45, 50)}, nil, now)
	require.Empty(t, detected)
}

func TestUndervaluedSignal(t *testing.T) {
	d := testDetector()
	now := time.Now().UTC()

	// 30% below average, score below the deal thresholds.
	detected := d.Detect([]storage.DealScore{dealScore("Mew Ex", 55, 35, 50)}, nil, now)
	require.Len(t, detected, 1)

	sig := detected[0]
	require.Equal(t, storage.SignalUndervalued, sig.SignalType)
	require.Equal(t, storage.LevelHigh, sig.SignalLevel)
	require.Equal(t, 8, sig.Priority)

	var meta map[string]float64
	require.NoError(t, json.Unmarshal(sig.Metadata, &meta))
	require.Equal(t, 30.0, meta["deviation_pct"])
}

func TestMomentumSignal(t *testing.T) {
	d := testDetector()
	now := time.Now().UTC()

	detected := d.Detect(nil, []storage.MarketStats{marketRow("Gengar Ex", 12, 25)}, now)
	require.Len(t, detected, 1)

	sig := detected[0]
	require.Equal(t, storage.SignalMomentum, sig.SignalType)
	require.Equal(t, storage.LevelMedium, sig.SignalLevel)
	require.Equal(t, 6, sig.Priority)
	require.Equal(t, "80", sig.Confidence.String())
	require.Nil(t, sig.DealScore)

	// Either leg below its threshold keeps the rule quiet.
	require.Empty(t, d.Detect(nil, []storage.MarketStats{marketRow("Gengar Ex", 9, 25)}, now))
	require.Empty(t, d.Detect(nil, []storage.MarketStats{marketRow("Gengar Ex", 12, 19)}, now))
}

func TestRiskSignal(t *testing.T) {
	d := testDetector()
	now := time.Now().UTC()

	detected := d.Detect(nil, []storage.MarketStats{marketRow("Lugia V", 25, -40)}, now)
	require.Len(t, detected, 1)

	sig := detected[0]
	require.Equal(t, storage.SignalRisk, sig.SignalType)
	require.Equal(t, storage.LevelHigh, sig.SignalLevel)
	require.Equal(t, 7, sig.Priority)
	require.Equal(t, "75", sig.Confidence.String())

	require.Empty(t, d.Detect(nil, []storage.MarketStats{marketRow("Lugia V", 25, -20)}, now))
	require.Empty(t, d.Detect(nil, []storage.MarketStats{marketRow("Lugia V", 15, -40)}, now))
}

func TestRulesFireIndependently(t *testing.T) {
	d := testDetector()
	now := time.Now().UTC()

	// High score and 30% below average: deal and undervalued both fire.
	scores := []storage.DealScore{dealScore("Charizard Ex", 85, 35, 50)}
	rows := []storage.MarketStats{marketRow("Charizard Ex", 12, 25)}

	detected := d.Detect(scores, rows, now)
	require.Len(t, detected, 3)
	require.Len(t, filterByType(detected, storage.SignalHighDeal), 1)
	require.Len(t, filterByType(detected, storage.SignalUndervalued), 1)
	require.Len(t, filterByType(detected, storage.SignalMomentum), 1)
}

func TestSignalLifecycleFields(t *testing.T) {
	d := testDetector()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	detected := d.Detect([]storage.DealScore{dealScore("Charizard Ex", 85, 45, 50)}, nil, now)
	require.Len(t, detected, 1)

	sig := detected[0]
	require.True(t, sig.IsActive)
	require.False(t, sig.IsSent)
	require.Nil(t, sig.SentAt)
	require.Equal(t, now, sig.DetectedAt)
	require.Equal(t, now.Add(24*time.Hour), sig.ExpiresAt)
}
