package model

import (
	"errors"
	"fmt"
	"time"
)

// Observation is a single raw price point for one stock.
type Observation struct {
	Symbol    string
	Timestamp time.Time
	Price     float64
}

// Snapshot holds the last known price of every symbol seen so far, as of Timestamp.
// Prices is owned by the snapshot and must not be mutated by readers.
type Snapshot struct {
	Timestamp time.Time
	Prices    map[string]float64
}

// Price returns the price of symbol and whether the snapshot knows it.
func (s Snapshot) Price(symbol string) (float64, bool) {
	p, ok := s.Prices[symbol]
	return p, ok
}

// Alert marks whether a row's ratio left its band.
type Alert int

const (
	AlertNone Alert = iota
	AlertCrossed
)

func (a Alert) String() string {
	if a == AlertCrossed {
		return "crossed"
	}
	return ""
}

// ParseAlert converts the display form back into an Alert.
func ParseAlert(s string) (Alert, error) {
	switch s {
	case "":
		return AlertNone, nil
	case "crossed":
		return AlertCrossed, nil
	default:
		return AlertNone, fmt.Errorf("unknown alert value %q", s)
	}
}

// Row is one derived display record. It is never modified after it has been emitted.
type Row struct {
	Index      int       `db:"row_index"`
	Timestamp  time.Time `db:"ts"`
	PriceA     float64   `db:"price_a"`
	PriceB     float64   `db:"price_b"`
	Ratio      float64   `db:"ratio"`
	UpperBound float64   `db:"upper_bound"`
	LowerBound float64   `db:"lower_bound"`
	Alert      Alert     `db:"alert"`
}

// ErrMalformedObservation is matched by every observation rejected before normalization.
var ErrMalformedObservation = errors.New("malformed observation")

// ValidationError reports an observation that was excluded from the snapshot sequence.
type ValidationError struct {
	Observation Observation
	Reason      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("malformed observation for %q: %s", e.Observation.Symbol, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrMalformedObservation
}
