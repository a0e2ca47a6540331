package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ratiowatch/internal/derivation"
	"ratiowatch/internal/model"
	"ratiowatch/internal/normalizer"
	"ratiowatch/internal/sink"
)

// ErrSequenceShrank is returned by Update when the observation sequence is shorter than
// what has already been consumed.
var ErrSequenceShrank = errors.New("observation sequence shrank")

// Stats counts what the pipeline has processed so far.
type Stats struct {
	Accepted  int
	Rejected  int
	Derived   int
	Delivered int
	Alerts    int
}

// Pipeline owns one Normalizer and one Engine and delivers each derived row to the sink once.
// It must be driven from a single goroutine.
type Pipeline struct {
	logger     *slog.Logger
	normalizer *normalizer.Normalizer
	engine     *derivation.Engine
	sink       sink.Sink

	consumed  int
	delivered int
	stats     Stats
}

// New creates a new instance of the Pipeline.
func New(logger *slog.Logger, norm *normalizer.Normalizer, engine *derivation.Engine, s sink.Sink) *Pipeline {
	return &Pipeline{
		logger:     logger,
		normalizer: norm,
		engine:     engine,
		sink:       s,
	}
}

// Ingest processes a batch of new observations and delivers the rows the sink has not seen yet.
// Malformed observations are logged and skipped. When the sink fails, the error is returned and
// the same rows are offered again on the next call.
func (p *Pipeline) Ingest(ctx context.Context, batch []model.Observation) ([]model.Row, error) {
	p.consumed += len(batch)

	snapshots, err := p.normalizer.Normalize(batch)
	p.stats.Accepted += len(snapshots)
	p.stats.Rejected += len(batch) - len(snapshots)
	if err != nil {
		p.logger.Warn("Rejected malformed observations",
			"rejected", len(batch)-len(snapshots),
			"error", err,
		)
	}

	// Snapshots are consumed here and not kept; the engine only holds rows.
	undelivered := p.engine.Len() > p.delivered
	pending := make([]model.Row, 0, len(snapshots))
	for _, s := range snapshots {
		row := p.engine.Append(s)
		p.stats.Derived++
		if row.Alert == model.AlertCrossed {
			p.stats.Alerts++
		}
		pending = append(pending, row)
	}

	if undelivered {
		pending = p.engine.RowsFrom(p.delivered)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	if err := p.sink.OnRowsAppended(ctx, pending); err != nil {
		return pending, fmt.Errorf("deliver rows %d..%d: %w", pending[0].Index, pending[len(pending)-1].Index, err)
	}
	p.delivered += len(pending)
	p.stats.Delivered = p.delivered

	p.logger.Debug("Rows delivered", "count", len(pending), "total", p.delivered)
	return pending, nil
}

// Update takes the whole observation sequence received so far and ingests only its new suffix.
func (p *Pipeline) Update(ctx context.Context, all []model.Observation) ([]model.Row, error) {
	if len(all) < p.consumed {
		return nil, fmt.Errorf("%w: got %d observations, already consumed %d", ErrSequenceShrank, len(all), p.consumed)
	}
	return p.Ingest(ctx, all[p.consumed:])
}

// Run consumes batches until in is closed or ctx is cancelled. Each batch is owned by the
// pipeline once received. Delivery errors are logged and retried with the next batch.
func (p *Pipeline) Run(ctx context.Context, in <-chan []model.Observation) error {
	p.logger.Info("Pipeline started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Pipeline: context cancelled, shutting down", "stats", p.stats)
			return nil
		case batch, ok := <-in:
			if !ok {
				p.logger.Info("Pipeline: input closed, shutting down", "stats", p.stats)
				return nil
			}
			if _, err := p.Ingest(ctx, batch); err != nil {
				p.logger.Error("Failed to deliver rows", "error", err)
			}
		}
	}
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	return p.stats
}
