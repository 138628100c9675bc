package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "pokemon-market-intel", cfg.App.Name)
	require.Equal(t, 10, cfg.Alerting.MaxPerUserPerDay)
	require.Equal(t, 9, cfg.Alerting.Digest.SendHour)
	require.Equal(t, 7, cfg.Analysis.ShortWindowDays)
	require.Equal(t, 30, cfg.Analysis.LongWindowDays)
	require.Equal(t, 3.0, cfg.Analysis.OutlierThreshold)
	require.Equal(t, 0.92, cfg.Analysis.CurrencyRates["USD"])
	require.Equal(t, "NM", cfg.Analysis.ConditionAliases["near mint"])
	require.Equal(t, "Base Set", cfg.Analysis.SetAliases["base"])
	require.Equal(t, 95.0, cfg.Scoring.SetPopularity["151"])
}

func validConfig() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestValidateWeightsMustSumToOne(t *testing.T) {
	cfg := validConfig()
	cfg.Scoring.Weights.PriceDeviation = 0.5

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "scoring.weights")
}

func TestValidateQualityCutoffsMustDecrease(t *testing.T) {
	cfg := validConfig()
	cfg.Analysis.Quality.Good = 60

	require.Error(t, cfg.Validate())
}

func TestValidateLiquidityBandsMustIncrease(t *testing.T) {
	cfg := validConfig()
	cfg.Analysis.Liquidity.Med = 5

	require.Error(t, cfg.Validate())
}

func TestValidateSignalThresholdOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.Signals.DealScoreHigh = 55

	require.Error(t, cfg.Validate())
}

func TestValidateDigestHour(t *testing.T) {
	cfg := validConfig()
	cfg.Alerting.Digest.SendHour = 24

	require.Error(t, cfg.Validate())
}

func TestValidateEmailRequiresHost(t *testing.T) {
	cfg := validConfig()
	cfg.Alerting.Email.Enabled = true
	cfg.Alerting.Email.FromEmail = "alerts@example.com"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "alerting.email.host")
}

func TestValidateTelegramRequiresToken(t *testing.T) {
	cfg := validConfig()
	cfg.Alerting.Telegram.Enabled = true

	require.Error(t, cfg.Validate())
}

func TestCanonicaliseNormalisesLookupKeys(t *testing.T) {
	cfg := &Config{}
	cfg.Analysis.CurrencyRates = map[string]float64{"usd": 0.92}
	cfg.Analysis.ConditionAliases = map[string]string{" Near Mint ": "nm"}
	cfg.Analysis.SetAliases = map[string]string{"BASE": "Base Set"}
	cfg.Scoring.SetPopularity = map[string]float64{"Base Set": 100}

	cfg.canonicalise()

	require.Equal(t, 0.92, cfg.Analysis.CurrencyRates["USD"])
	require.Equal(t, "NM", cfg.Analysis.ConditionAliases["near mint"])
	require.Equal(t, "Base Set", cfg.Analysis.SetAliases["base"])
	require.Equal(t, 100.0, cfg.Scoring.SetPopularity["base set"])
}
