// Package signals detects actionable market conditions from deal scores and
// market statistics. Detection is pure: it derives Signal records and never
// mutates its inputs.
package signals

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dirkpokemon/pokemon-market-intel/internal/config"
	"github.com/dirkpokemon/pokemon-market-intel/internal/logging"
	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

// profile pins level and priority per signal type. Both are a function of the
// type alone; input prices and trends never change them.
type profile struct {
	Level    string
	Priority int
}

var profiles = map[string]profile{
	storage.SignalHighDeal:    {Level: storage.LevelHigh, Priority: 10},
	storage.SignalMediumDeal:  {Level: storage.LevelMedium, Priority: 5},
	storage.SignalUndervalued: {Level: storage.LevelHigh, Priority: 8},
	storage.SignalMomentum:    {Level: storage.LevelMedium, Priority: 6},
	storage.SignalRisk:        {Level: storage.LevelHigh, Priority: 7},
}

// Detector evaluates the signal rules against recent pipeline output.
type Detector struct {
	cfg    config.SignalsConfig
	logger zerolog.Logger
}

// New constructs a signal detector.
func New(cfg config.SignalsConfig, logger zerolog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		logger: logging.Component(logger, "signal_detector"),
	}
}

// Detect runs every rule independently over recent active deal scores and
// market stats. A single product may emit several signal types in one run.
func (d *Detector) Detect(scores []storage.DealScore, stats []storage.MarketStats, now time.Time) []storage.Signal {
	detected := make([]storage.Signal, 0)
	detected = append(detected, d.dealSignals(scores, now)...)
	detected = append(detected, d.undervaluedSignals(scores, now)...)
	detected = append(detected, d.momentumSignals(stats, now)...)
	detected = append(detected, d.riskSignals(stats, now)...)

	d.logger.Info().
		Int("deal_scores", len(scores)).
		Int("market_stats", len(stats)).
		Int("signals", len(detected)).
		Msg("signal detection complete")
	return detected
}

// dealSignals emits high_deal or medium_deal per score; the two are mutually
// exclusive, medium only fires below the high threshold.
func (d *Detector) dealSignals(scores []storage.DealScore, now time.Time) []storage.Signal {
	result := make([]storage.Signal, 0)
	for _, score := range scores {
		value := score.Score.InexactFloat64()
		switch {
		case value >= d.cfg.DealScoreHigh:
			result = append(result, d.newSignal(storage.SignalHighDeal, now, signalFields{
				Name:        score.ProductName,
				Set:         score.ProductSet,
				Category:    score.Category,
				Price:       score.CurrentPrice,
				MarketAvg:   score.MarketAvgPrice,
				DealScore:   &score.Score,
				Confidence:  score.Confidence,
				Description: fmt.Sprintf("Excellent deal detected: %s at €%s (score: %s)", score.ProductName, score.CurrentPrice.StringFixed(2), score.Score.StringFixed(0)),
			}))
		case value >= d.cfg.DealScoreMedium:
			result = append(result, d.newSignal(storage.SignalMediumDeal, now, signalFields{
				Name:        score.ProductName,
				Set:         score.ProductSet,
				Category:    score.Category,
				Price:       score.CurrentPrice,
				MarketAvg:   score.MarketAvgPrice,
				DealScore:   &score.Score,
				Confidence:  score.Confidence,
				Description: fmt.Sprintf("Good deal detected: %s at €%s (score: %s)", score.ProductName, score.CurrentPrice.StringFixed(2), score.Score.StringFixed(0)),
			}))
		}
	}
	return result
}

func (d *Detector) undervaluedSignals(scores []storage.DealScore, now time.Time) []storage.Signal {
	result := make([]storage.Signal, 0)
	for _, score := range scores {
		current := score.CurrentPrice.InexactFloat64()
		avg := score.MarketAvgPrice.InexactFloat64()
		if avg == 0 {
			continue
		}

		deviation := (avg - current) / avg * 100
		if deviation < d.cfg.UndervaluedPct {
			continue
		}

		metadata, _ := json.Marshal(map[string]float64{
			"deviation_pct": round2(deviation),
		})
		result = append(result, d.newSignal(storage.SignalUndervalued, now, signalFields{
			Name:        score.ProductName,
			Set:         score.ProductSet,
			Category:    score.Category,
			Price:       score.CurrentPrice,
			MarketAvg:   score.MarketAvgPrice,
			DealScore:   &score.Score,
			Confidence:  score.Confidence,
			Description: fmt.Sprintf("Undervalued: %s is %.1f%% below market average", score.ProductName, deviation),
			Metadata:    metadata,
		}))
	}
	return result
}

func (d *Detector) momentumSignals(stats []storage.MarketStats, now time.Time) []storage.Signal {
	result := make([]storage.Signal, 0)
	for _, row := range stats {
		priceTrend := row.PriceTrend7d.InexactFloat64()
		volumeTrend := row.VolumeTrend7d.InexactFloat64()

		if priceTrend < d.cfg.MomentumPriceChange || volumeTrend < d.cfg.MomentumVolumeChange {
			continue
		}

		metadata, _ := json.Marshal(map[string]float64{
			"price_trend":  round2(priceTrend),
			"volume_trend": round2(volumeTrend),
		})
		result = append(result, d.newSignal(storage.SignalMomentum, now, signalFields{
			Name:        row.ProductName,
			Set:         row.ProductSet,
			Category:    row.Category,
			Price:       row.AvgPrice7d,
			MarketAvg:   row.AvgPrice30d,
			Confidence:  decimal.NewFromInt(80),
			Description: fmt.Sprintf("Momentum detected: %s - price up %.1f%%, volume up %.1f%%", row.ProductName, priceTrend, volumeTrend),
			Metadata:    metadata,
		}))
	}
	return result
}

// riskSignals flag thinning volume against rising prices, the classic shape
// of a bubble or a manipulated listing pool.
func (d *Detector) riskSignals(stats []storage.MarketStats, now time.Time) []storage.Signal {
	result := make([]storage.Signal, 0)
	for _, row := range stats {
		priceTrend := row.PriceTrend7d.InexactFloat64()
		volumeTrend := row.VolumeTrend7d.InexactFloat64()

		if volumeTrend > d.cfg.RiskVolumeDrop || priceTrend < d.cfg.RiskPriceRise {
			continue
		}

		metadata, _ := json.Marshal(map[string]float64{
			"price_trend":  round2(priceTrend),
			"volume_trend": round2(volumeTrend),
		})
		result = append(result, d.newSignal(storage.SignalRisk, now, signalFields{
			Name:        row.ProductName,
			Set:         row.ProductSet,
			Category:    row.Category,
			Price:       row.AvgPrice7d,
			MarketAvg:   row.AvgPrice30d,
			Confidence:  decimal.NewFromInt(75),
			Description: fmt.Sprintf("Risk signal: %s - price up %.1f%% but volume down %.1f%%", row.ProductName, priceTrend, volumeTrend),
			Metadata:    metadata,
		}))
	}
	return result
}

type signalFields struct {
	Name        string
	Set         string
	Category    string
	Price       decimal.Decimal
	MarketAvg   decimal.Decimal
	DealScore   *decimal.Decimal
	Confidence  decimal.Decimal
	Description string
	Metadata    json.RawMessage
}

func (d *Detector) newSignal(signalType string, now time.Time, fields signalFields) storage.Signal {
	p := profiles[signalType]
	return storage.Signal{
		SignalType:  signalType,
		SignalLevel: p.Level,
		Priority:    p.Priority,

		ProductName: fields.Name,
		ProductSet:  fields.Set,
		Category:    fields.Category,

		CurrentPrice:   fields.Price,
		MarketAvgPrice: fields.MarketAvg,
		DealScore:      fields.DealScore,

		Description: fields.Description,
		Metadata:    fields.Metadata,
		Confidence:  fields.Confidence,

		IsActive:   true,
		IsSent:     false,
		DetectedAt: now,
		ExpiresAt:  now.Add(d.cfg.ExpireAfter),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
