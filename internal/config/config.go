package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/dirkpokemon/pokemon-market-intel/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Signals   SignalsConfig   `mapstructure:"signals"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the cadence of each pipeline job.
type SchedulerConfig struct {
	MarketStatsInterval time.Duration `mapstructure:"market_stats_interval"`
	DealScoreInterval   time.Duration `mapstructure:"deal_score_interval"`
	SignalInterval      time.Duration `mapstructure:"signal_interval"`
	AlertInterval       time.Duration `mapstructure:"alert_interval"`
	StartupDelay        time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey     int64         `mapstructure:"advisory_lock_key"`
}

// QualityCutoffs are minimum sample sizes per data-quality label.
type QualityCutoffs struct {
	Excellent int `mapstructure:"excellent"`
	Good      int `mapstructure:"good"`
	Fair      int `mapstructure:"fair"`
	Poor      int `mapstructure:"poor"`
}

// LiquidityBands are 30-day volume cutoffs for the liquidity score.
type LiquidityBands struct {
	High int `mapstructure:"high"`
	Med  int `mapstructure:"med"`
	Low  int `mapstructure:"low"`
}

// AnalysisConfig tunes normalization and market statistics.
type AnalysisConfig struct {
	ShortWindowDays    int               `mapstructure:"short_window_days"`
	LongWindowDays     int               `mapstructure:"long_window_days"`
	OutlierThreshold   float64           `mapstructure:"outlier_threshold"`
	Quality            QualityCutoffs    `mapstructure:"quality"`
	Liquidity          LiquidityBands    `mapstructure:"liquidity"`
	CurrencyRates      map[string]float64 `mapstructure:"currency_rates"`
	ConditionAliases   map[string]string `mapstructure:"condition_aliases"`
	SetAliases         map[string]string `mapstructure:"set_aliases"`
	MaxConcurrentTasks int               `mapstructure:"max_concurrent_tasks"`
}

// ScoringWeights weight the four deal-score components. Must sum to 1.0.
type ScoringWeights struct {
	PriceDeviation float64 `mapstructure:"price_deviation"`
	VolumeTrend    float64 `mapstructure:"volume_trend"`
	Liquidity      float64 `mapstructure:"liquidity"`
	Popularity     float64 `mapstructure:"popularity"`
}

// ScoringConfig tunes the deal score calculator.
type ScoringConfig struct {
	Weights           ScoringWeights     `mapstructure:"weights"`
	SetPopularity     map[string]float64 `mapstructure:"set_popularity"`
	DefaultPopularity float64            `mapstructure:"default_popularity"`
	ExpireAfter       time.Duration      `mapstructure:"expire_after"`
}

// SignalsConfig holds detection thresholds per signal rule.
type SignalsConfig struct {
	DealScoreHigh        float64       `mapstructure:"deal_score_high"`
	DealScoreMedium      float64       `mapstructure:"deal_score_medium"`
	UndervaluedPct       float64       `mapstructure:"undervalued_pct"`
	MomentumPriceChange  float64       `mapstructure:"momentum_price_change"`
	MomentumVolumeChange float64       `mapstructure:"momentum_volume_change"`
	RiskVolumeDrop       float64       `mapstructure:"risk_volume_drop"`
	RiskPriceRise        float64       `mapstructure:"risk_price_rise"`
	Lookback             time.Duration `mapstructure:"lookback"`
	ExpireAfter          time.Duration `mapstructure:"expire_after"`
}

// DigestConfig governs daily digest delivery.
type DigestConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	SendHour int  `mapstructure:"send_hour"`
}

// EmailConfig covers SMTP delivery.
type EmailConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

// TelegramConfig covers Telegram Bot API delivery.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines dispatch rules and channel routing.
type AlertingConfig struct {
	Enabled         bool           `mapstructure:"enabled"`
	DryRun          bool           `mapstructure:"dry_run"`
	MaxPerUserPerDay int           `mapstructure:"max_per_user_per_day"`
	Digest          DigestConfig   `mapstructure:"digest"`
	Email           EmailConfig    `mapstructure:"email"`
	Telegram        TelegramConfig `mapstructure:"telegram"`
	DashboardURL    string         `mapstructure:"dashboard_url"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POKEINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.canonicalise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pokemon-market-intel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("scheduler.market_stats_interval", "1h")
	v.SetDefault("scheduler.deal_score_interval", "30m")
	v.SetDefault("scheduler.signal_interval", "15m")
	v.SetDefault("scheduler.alert_interval", "5m")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x706F6B65))

	v.SetDefault("analysis.short_window_days", 7)
	v.SetDefault("analysis.long_window_days", 30)
	v.SetDefault("analysis.outlier_threshold", 3.0)
	v.SetDefault("analysis.quality.excellent", 50)
	v.SetDefault("analysis.quality.good", 20)
	v.SetDefault("analysis.quality.fair", 10)
	v.SetDefault("analysis.quality.poor", 5)
	v.SetDefault("analysis.liquidity.high", 100)
	v.SetDefault("analysis.liquidity.med", 50)
	v.SetDefault("analysis.liquidity.low", 20)
	v.SetDefault("analysis.max_concurrent_tasks", 4)
	v.SetDefault("analysis.currency_rates", map[string]float64{
		"EUR": 1.0,
		"USD": 0.92,
		"GBP": 1.17,
		"CHF": 1.06,
		"PLN": 0.23,
	})
	v.SetDefault("analysis.condition_aliases", map[string]string{
		"mint":              "NM",
		"near mint":         "NM",
		"nm":                "NM",
		"m":                 "NM",
		"lightly played":    "LP",
		"light play":        "LP",
		"lp":                "LP",
		"moderately played": "MP",
		"mp":                "MP",
		"played":            "PL",
		"pl":                "PL",
		"heavily played":    "HP",
		"hp":                "HP",
		"poor":              "PO",
		"po":                "PO",
		"damaged":           "DM",
	})
	v.SetDefault("analysis.set_aliases", map[string]string{
		"base set":            "Base Set",
		"base":                "Base Set",
		"151":                 "151",
		"sv 151":              "151",
		"scarlet violet 151":  "151",
		"scarlet-violet-151":  "151",
		"paldean fates":       "Paldean Fates",
		"obsidian flames":     "Obsidian Flames",
	})

	v.SetDefault("scoring.weights.price_deviation", 0.4)
	v.SetDefault("scoring.weights.volume_trend", 0.3)
	v.SetDefault("scoring.weights.liquidity", 0.2)
	v.SetDefault("scoring.weights.popularity", 0.1)
	v.SetDefault("scoring.default_popularity", 50.0)
	v.SetDefault("scoring.expire_after", "24h")
	v.SetDefault("scoring.set_popularity", map[string]float64{
		"Base Set":           100.0,
		"151":                95.0,
		"Paldean Fates":      90.0,
		"Obsidian Flames":    85.0,
		"Scarlet-Violet-151": 95.0,
		"Paradox Rift":       80.0,
	})

	v.SetDefault("signals.deal_score_high", 80.0)
	v.SetDefault("signals.deal_score_medium", 60.0)
	v.SetDefault("signals.undervalued_pct", 20.0)
	v.SetDefault("signals.momentum_price_change", 10.0)
	v.SetDefault("signals.momentum_volume_change", 20.0)
	v.SetDefault("signals.risk_volume_drop", -30.0)
	v.SetDefault("signals.risk_price_rise", 20.0)
	v.SetDefault("signals.lookback", "24h")
	v.SetDefault("signals.expire_after", "24h")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.dry_run", false)
	v.SetDefault("alerting.max_per_user_per_day", 10)
	v.SetDefault("alerting.digest.enabled", true)
	v.SetDefault("alerting.digest.send_hour", 9)
	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.port", 587)
	v.SetDefault("alerting.email.from_name", "Pokemon Market Intel")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.request_timeout", "10s")
	v.SetDefault("alerting.dashboard_url", "http://localhost:3000")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// canonicalise rewrites lookup-table keys into their canonical form. Viper
// lowercases keys read from files, so currency codes and alias keys cannot be
// trusted to arrive in any particular case.
func (c *Config) canonicalise() {
	rates := make(map[string]float64, len(c.Analysis.CurrencyRates))
	for code, rate := range c.Analysis.CurrencyRates {
		rates[strings.ToUpper(code)] = rate
	}
	c.Analysis.CurrencyRates = rates

	conditions := make(map[string]string, len(c.Analysis.ConditionAliases))
	for alias, code := range c.Analysis.ConditionAliases {
		conditions[strings.ToLower(strings.TrimSpace(alias))] = strings.ToUpper(code)
	}
	c.Analysis.ConditionAliases = conditions

	sets := make(map[string]string, len(c.Analysis.SetAliases))
	for alias, canonical := range c.Analysis.SetAliases {
		sets[strings.ToLower(strings.TrimSpace(alias))] = canonical
	}
	c.Analysis.SetAliases = sets

	popularity := make(map[string]float64, len(c.Scoring.SetPopularity))
	for set, score := range c.Scoring.SetPopularity {
		popularity[strings.ToLower(strings.TrimSpace(set))] = score
	}
	c.Scoring.SetPopularity = popularity
}

// Validate performs sanity checks on configuration invariants. Violations are
// fatal at startup, never recoverable mid-run.
func (c *Config) Validate() error {
	w := c.Scoring.Weights
	sum := w.PriceDeviation + w.VolumeTrend + w.Liquidity + w.Popularity
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("scoring.weights must sum to 1.0, got %v", sum)
	}
	if w.PriceDeviation < 0 || w.VolumeTrend < 0 || w.Liquidity < 0 || w.Popularity < 0 {
		return fmt.Errorf("scoring.weights must not be negative")
	}

	if c.Analysis.ShortWindowDays <= 0 || c.Analysis.LongWindowDays <= 0 {
		return fmt.Errorf("analysis window days must be greater than zero")
	}
	if c.Analysis.ShortWindowDays >= c.Analysis.LongWindowDays {
		return fmt.Errorf("analysis.short_window_days must be smaller than analysis.long_window_days")
	}
	if c.Analysis.OutlierThreshold <= 0 {
		return fmt.Errorf("analysis.outlier_threshold must be greater than zero")
	}

	q := c.Analysis.Quality
	if !(q.Excellent > q.Good && q.Good > q.Fair && q.Fair > q.Poor && q.Poor > 0) {
		return fmt.Errorf("analysis.quality cutoffs must be strictly decreasing and positive")
	}

	l := c.Analysis.Liquidity
	if !(l.High > l.Med && l.Med > l.Low && l.Low > 0) {
		return fmt.Errorf("analysis.liquidity bands must be strictly increasing and positive")
	}

	if c.Analysis.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("analysis.max_concurrent_tasks must be greater than zero")
	}

	if c.Signals.DealScoreHigh <= c.Signals.DealScoreMedium {
		return fmt.Errorf("signals.deal_score_high must exceed signals.deal_score_medium")
	}

	if c.Alerting.MaxPerUserPerDay <= 0 {
		return fmt.Errorf("alerting.max_per_user_per_day must be greater than zero")
	}
	if c.Alerting.Digest.SendHour < 0 || c.Alerting.Digest.SendHour > 23 {
		return fmt.Errorf("alerting.digest.send_hour must be between 0 and 23")
	}
	if c.Alerting.Email.Enabled {
		if c.Alerting.Email.Host == "" {
			return fmt.Errorf("alerting.email.host is required when email is enabled")
		}
		if c.Alerting.Email.FromEmail == "" {
			return fmt.Errorf("alerting.email.from_email is required when email is enabled")
		}
	}
	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
	}

	if c.Scheduler.MarketStatsInterval <= 0 || c.Scheduler.DealScoreInterval <= 0 ||
		c.Scheduler.SignalInterval <= 0 || c.Scheduler.AlertInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than zero")
	}

	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
