package normalizer

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratiowatch/internal/model"
)

var t0 = time.Date(2019, 2, 1, 11, 27, 44, 0, time.UTC)

func obs(symbol string, offset int, price float64) model.Observation {
	return model.Observation{Symbol: symbol, Timestamp: t0.Add(time.Duration(offset) * time.Second), Price: price}
}

func TestNormalize_CarryForward(t *testing.T) {
	input := []model.Observation{
		obs("ABC", 0, 10),
		obs("DEF", 0, 20),
		obs("ABC", 1, 11),
		obs("XYZ", 2, 5),
		obs("DEF", 3, 21),
	}

	snapshots, err := Normalize(input)
	require.NoError(t, err)
	require.Len(t, snapshots, len(input))

	assert.Equal(t, map[string]float64{"ABC": 10}, snapshots[0].Prices)
	assert.Equal(t, map[string]float64{"ABC": 10, "DEF": 20}, snapshots[1].Prices)
	assert.Equal(t, map[string]float64{"ABC": 11, "DEF": 20}, snapshots[2].Prices)
	assert.Equal(t, map[string]float64{"ABC": 11, "DEF": 20, "XYZ": 5}, snapshots[3].Prices)
	assert.Equal(t, map[string]float64{"ABC": 11, "DEF": 21, "XYZ": 5}, snapshots[4].Prices)

	for i, s := range snapshots {
		assert.Equal(t, input[i].Timestamp, s.Timestamp)
		_, hasXYZ := s.Price("XYZ")
		assert.Equal(t, i >= 3, hasXYZ, "snapshot %d", i)
	}
}

func TestNormalize_SnapshotsAreCopies(t *testing.T) {
	n := New()

	first, err := n.Push(obs("ABC", 0, 10))
	require.NoError(t, err)
	_, err = n.Push(obs("ABC", 1, 99))
	require.NoError(t, err)

	assert.Equal(t, 10.0, first.Prices["ABC"])

	first.Prices["ABC"] = -1
	next, err := n.Push(obs("DEF", 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 99.0, next.Prices["ABC"])
}

func TestNormalize_SameTimestampNotDeduplicated(t *testing.T) {
	snapshots, err := Normalize([]model.Observation{obs("ABC", 0, 10), obs("ABC", 0, 12)})
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, 10.0, snapshots[0].Prices["ABC"])
	assert.Equal(t, 12.0, snapshots[1].Prices["ABC"])
}

func TestNormalize_NonFinitePricePassesThrough(t *testing.T) {
	snapshots, err := Normalize([]model.Observation{obs("ABC", 0, math.NaN()), obs("DEF", 0, math.Inf(1))})
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.True(t, math.IsNaN(snapshots[1].Prices["ABC"]))
	assert.True(t, math.IsInf(snapshots[1].Prices["DEF"], 1))
}

func TestNormalize_RejectsMalformed(t *testing.T) {
	input := []model.Observation{
		obs("ABC", 0, 10),
		{Symbol: "ABC", Price: 50},
		obs("", 1, 7),
		obs("DEF", 2, 20),
	}

	snapshots, err := Normalize(input)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrMalformedObservation)

	var verr *model.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "missing timestamp", verr.Reason)

	require.Len(t, snapshots, 2)
	assert.Equal(t, map[string]float64{"ABC": 10}, snapshots[0].Prices)
	assert.Equal(t, map[string]float64{"ABC": 10, "DEF": 20}, snapshots[1].Prices)
}

func TestNormalize_Empty(t *testing.T) {
	snapshots, err := Normalize(nil)
	assert.NoError(t, err)
	assert.Empty(t, snapshots)
}
