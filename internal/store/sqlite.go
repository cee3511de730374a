package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteWarehouse implements Warehouse using modernc.org/sqlite.
type SQLiteWarehouse struct {
	db *sql.DB
}

// NewSQLite opens the warehouse database at path and configures WAL mode.
func NewSQLite(path string) (*SQLiteWarehouse, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteWarehouse{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS predictions (
	event_id             TEXT PRIMARY KEY,
	event_ts             TEXT NOT NULL,
	product_id           TEXT NOT NULL,
	category_value       TEXT NOT NULL DEFAULT '',
	category_confidence  REAL NOT NULL DEFAULT 0,
	room_type_value      TEXT NOT NULL DEFAULT '',
	room_type_confidence REAL NOT NULL DEFAULT 0,
	style_value          TEXT NOT NULL DEFAULT '',
	style_confidence     REAL NOT NULL DEFAULT 0,
	material_value       TEXT NOT NULL DEFAULT '',
	material_confidence  REAL NOT NULL DEFAULT 0,
	raw_payload          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_product_id ON predictions(product_id);
CREATE INDEX IF NOT EXISTS idx_predictions_event_ts ON predictions(event_ts);
`

const sqliteInsert = `
INSERT INTO predictions (
	event_id, event_ts, product_id,
	category_value, category_confidence,
	room_type_value, room_type_confidence,
	style_value, style_confidence,
	material_value, material_confidence,
	raw_payload
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (w *SQLiteWarehouse) Migrate(ctx context.Context) error {
	_, err := w.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (w *SQLiteWarehouse) Close() error {
	return w.db.Close()
}

func (w *SQLiteWarehouse) AppendRows(ctx context.Context, rows []WarehouseRow) error {
	return w.insertRows(ctx, rows, sqliteInsert, "append")
}

// MergeRows replays rows idempotently: an existing event_id is overwritten
// instead of erroring.
func (w *SQLiteWarehouse) MergeRows(ctx context.Context, rows []WarehouseRow) error {
	merge := strings.Replace(sqliteInsert, "INSERT INTO", "INSERT OR REPLACE INTO", 1)
	return w.insertRows(ctx, rows, merge, "merge")
}

func (w *SQLiteWarehouse) insertRows(ctx context.Context, rows []WarehouseRow, insertSQL, op string) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: begin tx", op)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: prepare insert", op)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.EventID,
			row.EventTS.UTC().Format(time.RFC3339),
			row.ProductID,
			row.CategoryValue,
			row.CategoryConfidence,
			row.RoomTypeValue,
			row.RoomTypeConfidence,
			row.StyleValue,
			row.StyleConfidence,
			row.MaterialValue,
			row.MaterialConfidence,
			row.RawPayload,
		); err != nil {
			return eris.Wrapf(err, "sqlite: %s: insert event %s", op, row.EventID)
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: %s: commit", op)
}

func (w *SQLiteWarehouse) Summary(ctx context.Context) (WarehouseSummary, error) {
	var summary WarehouseSummary
	var last sql.NullString
	err := w.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT product_id), MAX(event_ts) FROM predictions`,
	).Scan(&summary.Rows, &summary.DistinctProducts, &last)
	if err != nil {
		return WarehouseSummary{}, eris.Wrap(err, "sqlite: summary")
	}
	if last.Valid {
		ts, err := time.Parse(time.RFC3339, last.String)
		if err != nil {
			return WarehouseSummary{}, eris.Wrap(err, "sqlite: parse last event ts")
		}
		summary.LastEventTS = ts
	}
	return summary, nil
}
