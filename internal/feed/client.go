package feed

import (
	"context"

	"ratiowatch/internal/model"
)

// Client defines the standard interface for all quote feeds.
type Client interface {
	Name() string
	Stream(ctx context.Context, out chan<- []model.Observation) error
}
