package database

import (
	"context"

	"ratiowatch/internal/model"
)

// Repository defines the standard interface for database operations.
type Repository interface {
	Migrate(ctx context.Context) error
	SaveRows(ctx context.Context, runID string, rows []model.Row) error
	LoadRows(ctx context.Context, runID string) ([]model.Row, error)
}
