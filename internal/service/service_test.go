package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dirkpokemon/pokemon-market-intel/internal/storage"
)

func statsRow(name string, calculatedAt time.Time) storage.MarketStats {
	return storage.MarketStats{
		ProductName:  name,
		ProductSet:   "151",
		Category:     "single",
		CalculatedAt: calculatedAt,
	}
}

func TestLatestPerProduct(t *testing.T) {
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	rows := []storage.MarketStats{
		statsRow("Charizard Ex", base),
		statsRow("Mew Ex", base.Add(time.Hour)),
		statsRow("Charizard Ex", base.Add(2*time.Hour)),
		statsRow("Charizard Ex", base.Add(time.Hour)),
	}

	latest := latestPerProduct(rows)
	require.Len(t, latest, 2)

	byName := make(map[string]storage.MarketStats, len(latest))
	for _, row := range latest {
		byName[row.ProductName] = row
	}
	require.Equal(t, base.Add(2*time.Hour), byName["Charizard Ex"].CalculatedAt)
	require.Equal(t, base.Add(time.Hour), byName["Mew Ex"].CalculatedAt)
}

func TestLatestPerProductKeepsDistinctCategories(t *testing.T) {
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	single := statsRow("151 Booster Box", base)
	sealed := statsRow("151 Booster Box", base)
	sealed.Category = "sealed"

	latest := latestPerProduct([]storage.MarketStats{single, sealed})
	require.Len(t, latest, 2, "category is part of product identity")
}
