package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Data-quality labels assigned by the aggregator.
const (
	QualityExcellent    = "excellent"
	QualityGood         = "good"
	QualityFair         = "fair"
	QualityPoor         = "poor"
	QualityInsufficient = "insufficient"
)

// Signal types emitted by the detector.
const (
	SignalHighDeal    = "high_deal"
	SignalMediumDeal  = "medium_deal"
	SignalUndervalued = "undervalued"
	SignalMomentum    = "momentum"
	SignalRisk        = "risk"
)

// Signal levels.
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

// Alert delivery types.
const (
	AlertTypeImmediate = "immediate"
	AlertTypeDigest    = "digest"
)

// Delivery channels.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
)

// Subscriber tiers that qualify for alerts.
const (
	TierFree  = "free"
	TierPaid  = "paid"
	TierPro   = "pro"
	TierAdmin = "admin"
)

// RawObservation is one scraped price point. The table is written exclusively
// by the external scrapers; the pipeline only reads it.
type RawObservation struct {
	ID          int64
	ProductName string
	ProductSet  string
	Category    string
	Price       decimal.Decimal
	Currency    string
	Condition   string
	Source      string
	ScrapedAt   time.Time
}

// MarketStats is one aggregation result per (product, run). Immutable once
// written; later runs supersede rather than update.
type MarketStats struct {
	ID          int64
	ProductName string
	ProductSet  string
	Category    string

	AvgPrice7d decimal.Decimal
	MinPrice7d decimal.Decimal
	MaxPrice7d decimal.Decimal
	Volume7d   int

	AvgPrice30d decimal.Decimal
	MinPrice30d decimal.Decimal
	MaxPrice30d decimal.Decimal
	Volume30d   int

	PriceTrend7d   decimal.Decimal
	PriceTrend30d  decimal.Decimal
	VolumeTrend7d  decimal.Decimal
	VolumeTrend30d decimal.Decimal

	LiquidityScore decimal.Decimal
	Volatility     decimal.Decimal

	SampleSize   int
	DataQuality  string
	CalculatedAt time.Time
}

// DealScore is one scoring result per (product, run). Superseded rows are
// deactivated, never deleted.
type DealScore struct {
	ID          int64
	ProductName string
	ProductSet  string
	Category    string

	CurrentPrice decimal.Decimal
	Currency     string
	Condition    string
	Source       string

	MarketAvgPrice decimal.Decimal
	MarketMinPrice decimal.Decimal

	PriceDeviationScore decimal.Decimal
	VolumeTrendScore    decimal.Decimal
	LiquidityScore      decimal.Decimal
	PopularityScore     decimal.Decimal

	Score decimal.Decimal

	Confidence  decimal.Decimal
	DataQuality string

	IsActive     bool
	ExpiresAt    time.Time
	CalculatedAt time.Time
}

// Signal is one detected market condition. Immutable after creation except
// for is_active, is_sent and sent_at.
type Signal struct {
	ID          int64
	SignalType  string
	SignalLevel string

	ProductName string
	ProductSet  string
	Category    string

	CurrentPrice   decimal.Decimal
	MarketAvgPrice decimal.Decimal
	DealScore      *decimal.Decimal

	Description string
	Metadata    json.RawMessage
	Confidence  decimal.Decimal
	Priority    int

	IsActive   bool
	IsSent     bool
	SentAt     *time.Time
	DetectedAt time.Time
	ExpiresAt  time.Time
}

// AlertSent is one append-only ledger row per delivery attempt. A prior row
// for (user, signal) means the signal is never re-sent to that user.
type AlertSent struct {
	ID                int64
	UserID            int64
	SignalID          int64
	AlertType         string
	Severity          string
	Channel           string
	Subject           string
	Success           bool
	ErrorMessage      *string
	ExternalMessageID *string
	SentAt            time.Time
}

// Subscriber mirrors the externally-owned users table. Read-only here.
type Subscriber struct {
	ID             int64
	Email          string
	FullName       string
	Tier           string
	AlertEmail     *string
	TelegramChatID *string
	AlertsEnabled  bool
	DigestEnabled  bool
	IsActive       bool
}

// IsPremium reports whether the subscriber tier qualifies for alerts.
func (s Subscriber) IsPremium() bool {
	switch s.Tier {
	case TierPaid, TierPro, TierAdmin:
		return true
	}
	return false
}

// Destination returns the email address alerts should go to, preferring the
// dedicated alert address over the account email.
func (s Subscriber) Destination() string {
	if s.AlertEmail != nil && *s.AlertEmail != "" {
		return *s.AlertEmail
	}
	return s.Email
}
