package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ratiowatch/internal/config"
	"ratiowatch/internal/derivation"
	"ratiowatch/internal/model"
	"ratiowatch/internal/normalizer"
	"ratiowatch/internal/sink"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) OnRowsAppended(ctx context.Context, rows []model.Row) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

var t0 = time.Date(2019, 2, 1, 11, 27, 44, 0, time.UTC)

func newPipeline(t *testing.T, s *MockSink) *Pipeline {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	engine, err := derivation.NewEngine(config.DerivationConfig{
		PriceA: config.PriceRule{Mode: config.ModeDirect, Symbols: []string{"ABC"}},
		PriceB: config.PriceRule{Mode: config.ModeDirect, Symbols: []string{"DEF"}},
		Bounds: config.BoundsConfig{Policy: config.PolicyFixed, Upper: 1.05, Lower: 0.95},
	})
	require.NoError(t, err)

	return New(logger, normalizer.New(), engine, s)
}

func obs(symbol string, offset int, price float64) model.Observation {
	return model.Observation{Symbol: symbol, Timestamp: t0.Add(time.Duration(offset) * time.Second), Price: price}
}

func indexes(rows []model.Row) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.Index
	}
	return out
}

func rowsWithIndexes(want ...int) interface{} {
	return mock.MatchedBy(func(rows []model.Row) bool {
		got := indexes(rows)
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	})
}

func TestPipeline_Update(t *testing.T) {
	mockSink := new(MockSink)
	p := newPipeline(t, mockSink)
	ctx := context.Background()

	all := []model.Observation{obs("ABC", 0, 10), obs("DEF", 0, 10)}

	t.Run("first batch delivers every row", func(t *testing.T) {
		mockSink.On("OnRowsAppended", mock.Anything, rowsWithIndexes(0, 1)).Return(nil).Once()
		rows, err := p.Update(ctx, all)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1}, indexes(rows))
		mockSink.AssertExpectations(t)
	})

	t.Run("grown sequence delivers only the suffix", func(t *testing.T) {
		all = append(all, obs("ABC", 1, 10), obs("DEF", 1, 12))
		mockSink.On("OnRowsAppended", mock.Anything, rowsWithIndexes(2, 3)).Return(nil).Once()
		rows, err := p.Update(ctx, all)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3}, indexes(rows))
		assert.Equal(t, model.AlertNone, rows[0].Alert)
		assert.Equal(t, model.AlertCrossed, rows[1].Alert)
		mockSink.AssertExpectations(t)
	})

	t.Run("unchanged sequence delivers nothing", func(t *testing.T) {
		mockSink.Mock = mock.Mock{}
		rows, err := p.Update(ctx, all)
		require.NoError(t, err)
		assert.Empty(t, rows)
		mockSink.AssertNotCalled(t, "OnRowsAppended", mock.Anything, mock.Anything)
	})

	t.Run("shrunk sequence is an error", func(t *testing.T) {
		_, err := p.Update(ctx, all[:1])
		assert.ErrorIs(t, err, ErrSequenceShrank)
	})

	stats := p.Stats()
	assert.Equal(t, Stats{Accepted: 4, Derived: 4, Delivered: 4, Alerts: 1}, stats)
}

func TestPipeline_RetriesFailedDelivery(t *testing.T) {
	mockSink := new(MockSink)
	p := newPipeline(t, mockSink)
	ctx := context.Background()

	mockSink.On("OnRowsAppended", mock.Anything, rowsWithIndexes(0)).Return(errors.New("sink down")).Once()
	rows, err := p.Ingest(ctx, []model.Observation{obs("ABC", 0, 10)})
	assert.Error(t, err)
	assert.Equal(t, []int{0}, indexes(rows))

	mockSink.On("OnRowsAppended", mock.Anything, rowsWithIndexes(0, 1)).Return(nil).Once()
	rows, err = p.Ingest(ctx, []model.Observation{obs("DEF", 0, 10)})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, indexes(rows))

	mockSink.AssertExpectations(t)
	assert.Equal(t, 2, p.Stats().Delivered)
}

func TestPipeline_SkipsMalformedObservations(t *testing.T) {
	mockSink := new(MockSink)
	p := newPipeline(t, mockSink)

	mockSink.On("OnRowsAppended", mock.Anything, rowsWithIndexes(0, 1)).Return(nil).Once()
	rows, err := p.Ingest(context.Background(), []model.Observation{
		obs("ABC", 0, 10),
		{Symbol: "DEF", Price: 10},
		obs("DEF", 1, 10),
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1.0, rows[1].Ratio)

	stats := p.Stats()
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 1, stats.Rejected)
	mockSink.AssertExpectations(t)
}

func TestPipeline_Run(t *testing.T) {
	mockSink := new(MockSink)
	p := newPipeline(t, mockSink)

	mockSink.On("OnRowsAppended", mock.Anything, rowsWithIndexes(0, 1)).Return(nil).Once()
	mockSink.On("OnRowsAppended", mock.Anything, rowsWithIndexes(2)).Return(nil).Once()

	in := make(chan []model.Observation, 2)
	in <- []model.Observation{obs("ABC", 0, 10), obs("DEF", 0, 10)}
	in <- []model.Observation{obs("DEF", 1, 11)}
	close(in)

	err := p.Run(context.Background(), in)
	require.NoError(t, err)
	mockSink.AssertExpectations(t)
	assert.Equal(t, 3, p.Stats().Delivered)
}

func TestPipeline_RunStopsOnCancel(t *testing.T) {
	p := newPipeline(t, new(MockSink))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx, make(chan []model.Observation))
	assert.NoError(t, err)
}

// bytesPerIngest grows the history to size rows and then reports the average number of bytes
// allocated by a single-observation Ingest.
func bytesPerIngest(t *testing.T, size int) uint64 {
	t.Helper()

	engine, err := derivation.NewEngine(config.DerivationConfig{
		PriceA: config.PriceRule{Mode: config.ModeDirect, Symbols: []string{"ABC"}},
		PriceB: config.PriceRule{Mode: config.ModeDirect, Symbols: []string{"DEF"}},
		Bounds: config.BoundsConfig{Policy: config.PolicyRolling, UpperFactor: 1.1, LowerFactor: 0.9},
	})
	require.NoError(t, err)

	nop := sink.Func(func(context.Context, []model.Row) error { return nil })
	p := New(slog.New(slog.NewTextHandler(io.Discard, nil)), normalizer.New(), engine, nop)
	ctx := context.Background()

	for i := 0; i < size; i++ {
		_, err := p.Ingest(ctx, []model.Observation{obs("ABC", i, 10+float64(i%7))})
		require.NoError(t, err)
	}

	const runs = 1000
	batches := make([][]model.Observation, runs)
	for i := range batches {
		batches[i] = []model.Observation{obs("DEF", size+i, 10)}
	}

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	for _, b := range batches {
		if _, err := p.Ingest(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	runtime.ReadMemStats(&after)

	require.Equal(t, size+runs, engine.Len())
	return (after.TotalAlloc - before.TotalAlloc) / runs
}

func TestPipeline_IngestCostIndependentOfHistory(t *testing.T) {
	if testing.Short() {
		t.Skip("builds a long history")
	}

	small := bytesPerIngest(t, 1_000)
	large := bytesPerIngest(t, 50_000)

	// Copying the history on every batch would cost megabytes per call at 50k rows.
	assert.Less(t, large, uint64(64<<10), "bytes per ingest with 50k rows of history")
	assert.Less(t, small, uint64(64<<10), "bytes per ingest with 1k rows of history")
}
