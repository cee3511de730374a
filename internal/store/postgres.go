package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/gatherhome/catalog-intel/internal/db"
)

const postgresTable = "predictions"

// PostgresWarehouse implements Warehouse on a pgx pool. Live appends go
// through COPY; replays merge on event_id.
type PostgresWarehouse struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres connects a pool and verifies it with a ping before returning.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresWarehouse, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresWarehouse{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS predictions (
	event_id             TEXT PRIMARY KEY,
	event_ts             TIMESTAMPTZ NOT NULL,
	product_id           TEXT NOT NULL,
	category_value       TEXT NOT NULL DEFAULT '',
	category_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	room_type_value      TEXT NOT NULL DEFAULT '',
	room_type_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	style_value          TEXT NOT NULL DEFAULT '',
	style_confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	material_value       TEXT NOT NULL DEFAULT '',
	material_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	raw_payload          JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_product_id ON predictions(product_id);
CREATE INDEX IF NOT EXISTS idx_predictions_event_ts ON predictions(event_ts);
`

func (w *PostgresWarehouse) Migrate(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (w *PostgresWarehouse) Close() error {
	if w.closeFn != nil {
		w.closeFn()
	}
	return nil
}

func (w *PostgresWarehouse) AppendRows(ctx context.Context, rows []WarehouseRow) error {
	_, err := db.CopyFrom(ctx, w.pool, postgresTable, Columns, rowValues(rows))
	return err
}

// MergeRows upserts on event_id so replaying an event log leaves the table
// consistent.
func (w *PostgresWarehouse) MergeRows(ctx context.Context, rows []WarehouseRow) error {
	_, err := db.BulkUpsert(ctx, w.pool, db.UpsertConfig{
		Table:        postgresTable,
		Columns:      Columns,
		ConflictKeys: []string{"event_id"},
	}, rowValues(rows))
	return err
}

func (w *PostgresWarehouse) Summary(ctx context.Context) (WarehouseSummary, error) {
	var summary WarehouseSummary
	var last *time.Time
	err := w.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT product_id), MAX(event_ts) FROM predictions`,
	).Scan(&summary.Rows, &summary.DistinctProducts, &last)
	if err != nil {
		return WarehouseSummary{}, eris.Wrap(err, "postgres: summary")
	}
	if last != nil {
		summary.LastEventTS = last.UTC()
	}
	return summary, nil
}
