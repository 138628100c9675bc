package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

// Export renders one product's stats history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Product == "" {
		return errors.New("--product is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, 0, -a.Config.Analysis.LongWindowDays)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	history, err := store.ListMarketStatsHistory(ctx, opts.Product, opts.Set, from, to)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		a.Logger.Info().Str("product", opts.Product).Msg("no stats found for export window")
		return nil
	}

	downsampled := downsampleStats(history, opts.MaxPoints)
	a.Logger.Info().Int("total", len(history)).Int("exported", len(downsampled)).Msg("exporting stats history")

	if opts.CSVPath != "" {
		if err := writeStatsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeStatsPNG(opts.PNGPath, opts.Product, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleStats(rows []storage.MarketStats, max int) []storage.MarketStats {
	if max <= 0 || len(rows) <= max {
		return rows
	}

	result := make([]storage.MarketStats, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeStatsCSV(path string, rows []storage.MarketStats) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"calculated_at", "product_name", "product_set", "category",
		"avg_price_7d", "min_price_7d", "max_price_7d", "volume_7d",
		"avg_price_30d", "min_price_30d", "max_price_30d", "volume_30d",
		"price_trend_7d", "volume_trend_7d", "liquidity_score", "volatility",
		"sample_size", "data_quality",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.CalculatedAt.Format(time.RFC3339),
			row.ProductName,
			row.ProductSet,
			row.Category,
			row.AvgPrice7d.String(),
			row.MinPrice7d.String(),
			row.MaxPrice7d.String(),
			intString(row.Volume7d),
			row.AvgPrice30d.String(),
			row.MinPrice30d.String(),
			row.MaxPrice30d.String(),
			intString(row.Volume30d),
			row.PriceTrend7d.String(),
			row.VolumeTrend7d.String(),
			row.LiquidityScore.String(),
			row.Volatility.String(),
			intString(row.SampleSize),
			row.DataQuality,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeStatsPNG(path, product string, rows []storage.MarketStats) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(rows))
	avg7 := make([]float64, len(rows))
	avg30 := make([]float64, len(rows))
	volume := make([]float64, len(rows))

	for i, row := range rows {
		x[i] = row.CalculatedAt
		avg7[i] = row.AvgPrice7d.InexactFloat64()
		avg30[i] = row.AvgPrice30d.InexactFloat64()
		volume[i] = float64(row.Volume30d)
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  product,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (EUR)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Volume (30d)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Avg 7d",
				XValues: x,
				YValues: avg7,
			},
			chart.TimeSeries{
				Name:    "Avg 30d",
				XValues: x,
				YValues: avg30,
			},
			chart.TimeSeries{
				Name:    "Volume 30d",
				XValues: x,
				YValues: volume,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func intString(v int) string {
	return strconv.Itoa(v)
}
