package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVolumeWeighted(t *testing.T) {
	agg := VolumeWeighted(map[string]SourceQuote{
		"binance": {SourceID: "binance", Price: 100, Change24h: 2, Volume24h: 3, Timestamp: 10},
		"kraken":  {SourceID: "kraken", Price: 200, Change24h: 4, Volume24h: 1, Timestamp: 20},
	})

	assert.InDelta(t, 125.0, agg.Price, 1e-9, "Price should be volume-weighted")
	assert.InDelta(t, 2.5, agg.Change24h, 1e-9, "Change should be volume-weighted")
	assert.Equal(t, 4.0, agg.Volume24h)
	assert.Equal(t, 2, agg.SourceCount)
	assert.Equal(t, int64(20), agg.Timestamp, "Timestamp should be the newest contribution")
}

func TestVolumeWeighted_ZeroVolumeFallsBackToMean(t *testing.T) {
	agg := VolumeWeighted(map[string]SourceQuote{
		"binance": {SourceID: "binance", Price: 100, Volume24h: 0, Timestamp: 1},
		"kraken":  {SourceID: "kraken", Price: 300, Volume24h: 0, Timestamp: 2},
	})

	assert.InDelta(t, 200.0, agg.Price, 1e-9)
	assert.Equal(t, 2, agg.SourceCount)
}

func TestVolumeWeighted_Empty(t *testing.T) {
	agg := VolumeWeighted(map[string]SourceQuote{})

	assert.Equal(t, 0.0, agg.Price)
	assert.Equal(t, 0, agg.SourceCount)
}
