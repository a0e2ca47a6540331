package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ratiowatch/internal/model"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS derived_rows (
	run_id      VARCHAR(64) NOT NULL,
	row_index   INTEGER NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	price_a     DOUBLE PRECISION NOT NULL,
	price_b     DOUBLE PRECISION NOT NULL,
	ratio       DOUBLE PRECISION NOT NULL,
	upper_bound DOUBLE PRECISION NOT NULL,
	lower_bound DOUBLE PRECISION NOT NULL,
	alert       VARCHAR(16) NOT NULL,
	PRIMARY KEY (run_id, row_index)
);`

const insertRowSQL = `
INSERT INTO derived_rows (run_id, row_index, ts, price_a, price_b, ratio, upper_bound, lower_bound, alert)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (run_id, row_index) DO NOTHING`

const selectRowsSQL = `
SELECT row_index, ts, price_a, price_b, ratio, upper_bound, lower_bound, alert
FROM derived_rows
WHERE run_id = $1
ORDER BY row_index`

// PostgresRepository journals derived rows in PostgreSQL.
// DOUBLE PRECISION keeps NaN values as they were emitted.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository opens a connection pool for dsn.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresRepository{Pool: pool}, nil
}

// Migrate creates the rows table if needed.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create derived_rows table: %w", err)
	}
	return nil
}

// SaveRows inserts rows in one batch. Rows already stored for the run are left as they are.
func (r *PostgresRepository) SaveRows(ctx context.Context, runID string, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertRowSQL,
			runID, row.Index, row.Timestamp,
			row.PriceA, row.PriceB, row.Ratio,
			row.UpperBound, row.LowerBound, row.Alert.String(),
		)
	}

	if err := r.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save %d rows: %w", len(rows), err)
	}
	return nil
}

// LoadRows returns every stored row of a run ordered by index.
func (r *PostgresRepository) LoadRows(ctx context.Context, runID string) ([]model.Row, error) {
	dbRows, err := r.Pool.Query(ctx, selectRowsSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer dbRows.Close()

	var rows []model.Row
	for dbRows.Next() {
		var (
			row   model.Row
			alert string
		)
		if err := dbRows.Scan(&row.Index, &row.Timestamp, &row.PriceA, &row.PriceB, &row.Ratio,
			&row.UpperBound, &row.LowerBound, &alert); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if row.Alert, err = model.ParseAlert(alert); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if err := dbRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return rows, nil
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.Pool.Close()
}
