package sink

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"

	"ratiowatch/internal/database"
	"ratiowatch/internal/model"
)

// Sink receives rows that have not been delivered before, in index order.
// Implementations must treat rows as read-only.
type Sink interface {
	OnRowsAppended(ctx context.Context, rows []model.Row) error
}

// Func adapts a plain function to Sink.
type Func func(ctx context.Context, rows []model.Row) error

func (f Func) OnRowsAppended(ctx context.Context, rows []model.Row) error {
	return f(ctx, rows)
}

// LogSink writes every row to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a new LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) OnRowsAppended(ctx context.Context, rows []model.Row) error {
	for _, row := range rows {
		level := slog.LevelInfo
		msg := "Row derived"
		if row.Alert == model.AlertCrossed {
			level = slog.LevelWarn
			msg = "Ratio crossed its band"
		}
		s.logger.LogAttrs(ctx, level, msg,
			slog.Int("index", row.Index),
			slog.Time("timestamp", row.Timestamp),
			number("priceA", row.PriceA),
			number("priceB", row.PriceB),
			number("ratio", row.Ratio),
			number("upperBound", row.UpperBound),
			number("lowerBound", row.LowerBound),
		)
	}
	return nil
}

// number keeps NaN and Inf out of the JSON handler, which cannot encode them.
func number(key string, v float64) slog.Attr {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return slog.String(key, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return slog.Float64(key, v)
}

// RepositorySink journals rows of one run in a database.Repository.
type RepositorySink struct {
	repo  database.Repository
	runID string
}

// NewRepositorySink creates a new RepositorySink.
func NewRepositorySink(repo database.Repository, runID string) *RepositorySink {
	return &RepositorySink{repo: repo, runID: runID}
}

func (s *RepositorySink) OnRowsAppended(ctx context.Context, rows []model.Row) error {
	return s.repo.SaveRows(ctx, s.runID, rows)
}

type fanout []Sink

// Fanout delivers rows to every sink, even when an earlier one fails.
func Fanout(sinks ...Sink) Sink {
	return fanout(sinks)
}

func (f fanout) OnRowsAppended(ctx context.Context, rows []model.Row) error {
	var errs []error
	for _, s := range f {
		if err := s.OnRowsAppended(ctx, rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
