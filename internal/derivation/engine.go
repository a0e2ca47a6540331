package derivation

import (
	"fmt"
	"slices"

	"ratiowatch/internal/config"
	"ratiowatch/internal/model"
)

// Engine derives display rows from snapshots. Rows are append-only: once a row has been
// computed it is never recomputed or changed. An Engine is not safe for concurrent use.
type Engine struct {
	cfg  config.DerivationConfig
	acc  accumulator
	rows []model.Row
}

// NewEngine creates a new instance of the Engine.
func NewEngine(cfg config.DerivationConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid derivation config: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// Append derives the row for the next snapshot and records it.
func (e *Engine) Append(s model.Snapshot) model.Row {
	priceA := resolvePrice(e.cfg.PriceA, s)
	priceB := resolvePrice(e.cfg.PriceB, s)
	r := ratio(priceA, priceB)

	// Bounds only see rows before this one; the accumulator is updated afterwards.
	upper, lower := bounds(e.cfg.Bounds, &e.acc)

	alert := model.AlertNone
	if isFinite(r) && (r >= upper || r <= lower) {
		alert = model.AlertCrossed
	}

	row := model.Row{
		Index:      len(e.rows),
		Timestamp:  s.Timestamp,
		PriceA:     priceA,
		PriceB:     priceB,
		Ratio:      r,
		UpperBound: upper,
		LowerBound: lower,
		Alert:      alert,
	}

	e.acc.add(r)
	e.rows = append(e.rows, row)
	return row
}

// DeriveRows takes the complete snapshot sequence seen so far and returns the complete row
// sequence. Only snapshots past the rows already derived are computed.
func (e *Engine) DeriveRows(snapshots []model.Snapshot) []model.Row {
	for _, s := range snapshots[min(len(e.rows), len(snapshots)):] {
		e.Append(s)
	}
	return e.Rows()
}

// Rows returns a copy of every row derived so far.
func (e *Engine) Rows() []model.Row {
	return slices.Clone(e.rows)
}

// RowsFrom returns a copy of the rows with index >= from.
func (e *Engine) RowsFrom(from int) []model.Row {
	if from >= len(e.rows) {
		return nil
	}
	return slices.Clone(e.rows[max(from, 0):])
}

// Len returns the number of rows derived so far.
func (e *Engine) Len() int {
	return len(e.rows)
}

// DeriveRows runs a fresh engine over snapshots.
func DeriveRows(cfg config.DerivationConfig, snapshots []model.Snapshot) ([]model.Row, error) {
	e, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return e.DeriveRows(snapshots), nil
}
