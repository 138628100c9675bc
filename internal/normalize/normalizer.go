// Package normalize turns raw scraped observations into a consistent view:
// a single reference currency, closed condition codes, and stable product
// grouping keys. Normalization is total; it transforms or flags, never drops.
package normalize

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dirkpokemon/pokemon-market-intel/internal/config"
	"github.com/dirkpokemon/pokemon-market-intel/internal/logging"
	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

const defaultCondition = "NM"

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	// Keep hyphens and the accented letters that appear in card names
	// (Pokémon, Méga évolution reprints); everything else non-alphanumeric goes.
	disallowedRe = regexp.MustCompile(`[^a-z0-9éè \-]`)
)

// Observation is the transient normalized view of a raw observation. It is
// recomputed on every aggregation run and never persisted.
type Observation struct {
	Raw       storage.RawObservation
	PriceEUR  float64
	Condition string
	Name      string
	Set       string
	Category  string
}

// Normalizer canonicalises prices, conditions and product identity.
type Normalizer struct {
	cfg           config.AnalysisConfig
	conditionKeys []string
	logger        zerolog.Logger
}

// New constructs a Normalizer from analysis configuration.
func New(cfg config.AnalysisConfig, logger zerolog.Logger) *Normalizer {
	keys := make([]string, 0, len(cfg.ConditionAliases))
	for key := range cfg.ConditionAliases {
		keys = append(keys, key)
	}
	// Substring matching must be deterministic regardless of map order.
	sort.Strings(keys)

	return &Normalizer{
		cfg:           cfg,
		conditionKeys: keys,
		logger:        logging.Component(logger, "normalizer"),
	}
}

// Apply normalizes a single raw observation.
func (n *Normalizer) Apply(raw storage.RawObservation) Observation {
	return Observation{
		Raw:       raw,
		PriceEUR:  n.Price(raw.Price.InexactFloat64(), raw.Currency),
		Condition: n.Condition(raw.Condition),
		Name:      n.ProductName(raw.ProductName),
		Set:       n.SetName(raw.ProductSet),
		Category:  raw.Category,
	}
}

// Price converts a price into EUR using the configured static rate table.
// Unknown currency codes pass the price through unchanged with a warning.
func (n *Normalizer) Price(price float64, currency string) float64 {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "EUR" {
		return price
	}

	rate, ok := n.cfg.CurrencyRates[code]
	if !ok || rate == 0 {
		n.logger.Warn().Str("currency", currency).Msg("unknown currency, using rate 1.0")
		return price
	}
	return price * rate
}

// Condition maps a free-text condition onto a closed code. Exact match first,
// then substring match, then the near-mint default. Total by construction.
func (n *Normalizer) Condition(raw string) string {
	if raw == "" {
		return defaultCondition
	}

	normalized := strings.ToLower(strings.TrimSpace(raw))
	if code, ok := n.cfg.ConditionAliases[normalized]; ok {
		return code
	}

	for _, key := range n.conditionKeys {
		if strings.Contains(normalized, key) {
			return n.cfg.ConditionAliases[key]
		}
	}

	n.logger.Debug().Str("condition", raw).Msg("unknown condition, defaulting to NM")
	return defaultCondition
}

// ProductName canonicalises a product name into a stable grouping key.
func (n *Normalizer) ProductName(name string) string {
	if name == "" {
		return ""
	}

	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = whitespaceRe.ReplaceAllString(normalized, " ")
	normalized = disallowedRe.ReplaceAllString(normalized, "")

	return cases.Title(language.Und).String(normalized)
}

// SetName canonicalises a set name, consulting the alias table before
// falling back to title-casing the raw input.
func (n *Normalizer) SetName(setName string) string {
	if setName == "" {
		return "Unknown Set"
	}

	key := strings.ToLower(strings.TrimSpace(setName))
	if canonical, ok := n.cfg.SetAliases[key]; ok {
		return canonical
	}
	return cases.Title(language.Und).String(strings.TrimSpace(setName))
}

// DetectOutliers flags prices whose absolute z-score exceeds the configured
// threshold, using population mean and standard deviation. Fewer than three
// samples or zero deviation flags nothing.
func (n *Normalizer) DetectOutliers(prices []float64) []bool {
	flags := make([]bool, len(prices))
	if len(prices) < 3 {
		return flags
	}

	mean := 0.0
	for _, p := range prices {
		mean += p
	}
	mean /= float64(len(prices))

	variance := 0.0
	for _, p := range prices {
		diff := p - mean
		variance += diff * diff
	}
	std := math.Sqrt(variance / float64(len(prices)))
	if std == 0 {
		return flags
	}

	for i, p := range prices {
		if math.Abs((p-mean)/std) > n.cfg.OutlierThreshold {
			flags[i] = true
		}
	}
	return flags
}

// QualityLabel classifies a sample size against the configured cutoffs.
func (n *Normalizer) QualityLabel(sampleSize int) string {
	q := n.cfg.Quality
	switch {
	case sampleSize >= q.Excellent:
		return storage.QualityExcellent
	case sampleSize >= q.Good:
		return storage.QualityGood
	case sampleSize >= q.Fair:
		return storage.QualityFair
	case sampleSize >= q.Poor:
		return storage.QualityPoor
	default:
		return storage.QualityInsufficient
	}
}
