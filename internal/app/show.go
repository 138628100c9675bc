package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

// Narrow read views over the store, one per show target.
type dealScoreLister interface {
	ListTopDealScores(ctx context.Context, limit int) ([]storage.DealScore, error)
}

type signalLister interface {
	ListRecentSignals(ctx context.Context, limit int) ([]storage.Signal, error)
}

type marketStatsLister interface {
	ListRecentMarketStats(ctx context.Context, limit int) ([]storage.MarketStats, error)
}

// Show prints recent pipeline output. The view selects which table to read.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show")
	}
	defer closeStore()

	switch opts.View {
	case "deals":
		return a.showDeals(ctx, store, opts.Limit)
	case "signals":
		return a.showSignals(ctx, store, opts.Limit)
	case "stats":
		return a.showStats(ctx, store, opts.Limit)
	default:
		return fmt.Errorf("unknown view %q, expected deals, signals or stats", opts.View)
	}
}

func (a *App) showDeals(ctx context.Context, store dealScoreLister, limit int) error {
	scores, err := store.ListTopDealScores(ctx, limit)
	if err != nil {
		return err
	}
	if len(scores) == 0 {
		fmt.Fprintln(os.Stdout, "no active deal scores found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Product\tSet\tCategory\tPrice\tMarket Avg\tScore\tConfidence\tQuality")
	for _, score := range scores {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			score.ProductName,
			score.ProductSet,
			score.Category,
			formatDecimal(score.CurrentPrice, 2),
			formatDecimal(score.MarketAvgPrice, 2),
			formatDecimal(score.Score, 0),
			formatDecimal(score.Confidence, 0),
			score.DataQuality,
		)
	}
	return writer.Flush()
}

func (a *App) showSignals(ctx context.Context, store signalLister, limit int) error {
	recent, err := store.ListRecentSignals(ctx, limit)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		fmt.Fprintln(os.Stdout, "no signals found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Detected (UTC)\tType\tLevel\tPriority\tProduct\tSet\tPrice\tSent\tDescription")
	for _, sig := range recent {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%s\t%s\t%s\t%t\t%s\n",
			sig.DetectedAt.UTC().Format(time.RFC3339),
			sig.SignalType,
			sig.SignalLevel,
			sig.Priority,
			sig.ProductName,
			sig.ProductSet,
			formatDecimal(sig.CurrentPrice, 2),
			sig.IsSent,
			sanitizeInline(sig.Description),
		)
	}
	return writer.Flush()
}

func (a *App) showStats(ctx context.Context, store marketStatsLister, limit int) error {
	recent, err := store.ListRecentMarketStats(ctx, limit)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		fmt.Fprintln(os.Stdout, "no market stats found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Calculated (UTC)\tProduct\tSet\tAvg 7d\tAvg 30d\tTrend 7d%\tVol 30d\tLiquidity\tQuality")
	for _, row := range recent {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			row.CalculatedAt.UTC().Format(time.RFC3339),
			row.ProductName,
			row.ProductSet,
			formatDecimal(row.AvgPrice7d, 2),
			formatDecimal(row.AvgPrice30d, 2),
			formatDecimal(row.PriceTrend7d, 2),
			row.Volume30d,
			formatDecimal(row.LiquidityScore, 0),
			row.DataQuality,
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
