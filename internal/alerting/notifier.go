// Package alerting fans signals out to subscribers. Channel transports
// implement a small closed Notifier interface; the dispatcher owns dedup,
// rate limiting and the immediate-versus-digest decision.
package alerting

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Item is one signal entry inside a message body.
type Item struct {
	Product     string
	Set         string
	Price       *decimal.Decimal
	DealScore   *decimal.Decimal
	Description string
}

// Payload is the channel-agnostic message content. Immediate alerts carry a
// single populated Item; digests carry several.
type Payload struct {
	Subject     string
	SignalType  string
	SignalLevel string
	MarketAvg   *decimal.Decimal
	Items       []Item
	Link        string
}

// Notifier delivers a payload to one destination on one channel. The core
// does not know or care how a channel physically transmits.
type Notifier interface {
	Channel() string
	Send(ctx context.Context, destination string, payload Payload) (externalID string, err error)
}

// RenderText renders the payload as a plain-text message body shared by the
// transports.
func RenderText(payload Payload) string {
	builder := strings.Builder{}

	if len(payload.Items) > 1 {
		builder.WriteString(fmt.Sprintf("%s\n\n", payload.Subject))
		for _, item := range payload.Items {
			builder.WriteString(fmt.Sprintf("- %s (%s)", item.Product, item.Set))
			if item.Price != nil {
				builder.WriteString(fmt.Sprintf(" at €%s", item.Price.StringFixed(2)))
			}
			if item.DealScore != nil {
				builder.WriteString(fmt.Sprintf(", score %s", item.DealScore.StringFixed(0)))
			}
			builder.WriteString("\n")
			if item.Description != "" {
				builder.WriteString(fmt.Sprintf("  %s\n", item.Description))
			}
		}
	} else if len(payload.Items) == 1 {
		item := payload.Items[0]
		builder.WriteString(fmt.Sprintf("[%s] %s\n", strings.ToUpper(payload.SignalLevel), payload.Subject))
		builder.WriteString(fmt.Sprintf("Product: %s (%s)\n", item.Product, item.Set))
		if item.Price != nil {
			builder.WriteString(fmt.Sprintf("Price: €%s\n", item.Price.StringFixed(2)))
		}
		if payload.MarketAvg != nil {
			builder.WriteString(fmt.Sprintf("Market average: €%s\n", payload.MarketAvg.StringFixed(2)))
		}
		if item.DealScore != nil {
			builder.WriteString(fmt.Sprintf("Deal score: %s\n", item.DealScore.StringFixed(0)))
		}
		if item.Description != "" {
			builder.WriteString(fmt.Sprintf("%s\n", item.Description))
		}
	}

	if payload.Link != "" {
		builder.WriteString(fmt.Sprintf("\nView on dashboard: %s\n", payload.Link))
	}
	return builder.String()
}
