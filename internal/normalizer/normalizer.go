package normalizer

import (
	"errors"
	"maps"

	"ratiowatch/internal/model"
)

// Normalizer turns raw observations into carry-forward snapshots.
// It keeps the latest price per symbol and is not safe for concurrent use.
type Normalizer struct {
	latestPrices map[string]float64
}

// New creates a Normalizer with no known prices.
func New() *Normalizer {
	return &Normalizer{latestPrices: make(map[string]float64)}
}

// Push records one observation and returns the snapshot as of its timestamp.
// A malformed observation is rejected with a *model.ValidationError and leaves the state untouched.
func (n *Normalizer) Push(o model.Observation) (model.Snapshot, error) {
	if err := validate(o); err != nil {
		return model.Snapshot{}, err
	}

	n.latestPrices[o.Symbol] = o.Price

	// The emitted map is a copy so later observations cannot rewrite history.
	return model.Snapshot{
		Timestamp: o.Timestamp,
		Prices:    maps.Clone(n.latestPrices),
	}, nil
}

// Normalize pushes every observation in order. Snapshots of the valid observations are
// returned even when some were rejected; the rejections are joined into the error.
func (n *Normalizer) Normalize(observations []model.Observation) ([]model.Snapshot, error) {
	snapshots := make([]model.Snapshot, 0, len(observations))
	var errs []error
	for _, o := range observations {
		s, err := n.Push(o)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, errors.Join(errs...)
}

// Normalize runs a fresh Normalizer over observations.
func Normalize(observations []model.Observation) ([]model.Snapshot, error) {
	return New().Normalize(observations)
}

func validate(o model.Observation) error {
	switch {
	case o.Timestamp.IsZero():
		return &model.ValidationError{Observation: o, Reason: "missing timestamp"}
	case o.Symbol == "":
		return &model.ValidationError{Observation: o, Reason: "missing symbol"}
	}
	return nil
}
