// Package store persists flattened prediction rows to the analytics
// warehouse. Three drivers share one interface: csv for local inspection,
// sqlite for single-node deployments, postgres for the real thing. Writes
// happen after a batch completes, off the request path; a failed write is
// logged by the caller and dropped.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gatherhome/catalog-intel/internal/model"
)

// WarehouseRow is one prediction event flattened to the warehouse schema.
// The four merchandising attributes are fixed columns; an attribute the
// event lacks leaves an empty value and zero confidence.
type WarehouseRow struct {
	EventID            string
	EventTS            time.Time
	ProductID          string
	CategoryValue      string
	CategoryConfidence float64
	RoomTypeValue      string
	RoomTypeConfidence float64
	StyleValue         string
	StyleConfidence    float64
	MaterialValue      string
	MaterialConfidence float64
	RawPayload         string
}

// Columns is the warehouse column order shared by every driver.
var Columns = []string{
	"event_id",
	"event_ts",
	"product_id",
	"category_value",
	"category_confidence",
	"room_type_value",
	"room_type_confidence",
	"style_value",
	"style_confidence",
	"material_value",
	"material_confidence",
	"raw_payload",
}

// WarehouseSummary aggregates what the warehouse currently holds.
type WarehouseSummary struct {
	Rows             int64     `json:"rows"`
	DistinctProducts int64     `json:"distinct_products"`
	LastEventTS      time.Time `json:"last_event_ts"`
}

// Warehouse is the sink interface the service writes prediction rows to.
// AppendRows is the live fast path and assumes fresh event ids; MergeRows is
// the replay path and dedups on event_id where the driver supports it.
type Warehouse interface {
	AppendRows(ctx context.Context, rows []WarehouseRow) error
	MergeRows(ctx context.Context, rows []WarehouseRow) error
	Summary(ctx context.Context) (WarehouseSummary, error)
	Migrate(ctx context.Context) error
	Close() error
}

// FlattenEvent projects a prediction event onto the warehouse row schema.
// RawPayload keeps the complete event JSON so the wide columns can always be
// rebuilt.
func FlattenEvent(ev model.PredictionEvent) (WarehouseRow, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return WarehouseRow{}, eris.Wrap(err, "store: encode raw payload")
	}

	row := WarehouseRow{
		EventID:    ev.EventID,
		EventTS:    ev.EventTS,
		ProductID:  ev.ProductID,
		RawPayload: string(payload),
	}
	if p, ok := ev.Predictions[model.AttrCategory]; ok {
		row.CategoryValue, row.CategoryConfidence = p.Value, p.Confidence
	}
	if p, ok := ev.Predictions[model.AttrRoomType]; ok {
		row.RoomTypeValue, row.RoomTypeConfidence = p.Value, p.Confidence
	}
	if p, ok := ev.Predictions[model.AttrStyle]; ok {
		row.StyleValue, row.StyleConfidence = p.Value, p.Confidence
	}
	if p, ok := ev.Predictions[model.AttrMaterial]; ok {
		row.MaterialValue, row.MaterialConfidence = p.Value, p.Confidence
	}
	return row, nil
}

// Options selects and configures a warehouse driver.
type Options struct {
	Driver      string // csv, sqlite, postgres
	Path        string // csv directory or sqlite file
	DatabaseURL string // postgres connection string
}

// Open builds the warehouse named by opts.Driver.
func Open(ctx context.Context, opts Options) (Warehouse, error) {
	switch opts.Driver {
	case "csv":
		return NewCSV(opts.Path), nil
	case "sqlite":
		return NewSQLite(opts.Path)
	case "postgres":
		return NewPostgres(ctx, opts.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown warehouse driver %q", opts.Driver)
	}
}

func rowValues(rows []WarehouseRow) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = []any{
			r.EventID,
			r.EventTS,
			r.ProductID,
			r.CategoryValue,
			r.CategoryConfidence,
			r.RoomTypeValue,
			r.RoomTypeConfidence,
			r.StyleValue,
			r.StyleConfidence,
			r.MaterialValue,
			r.MaterialConfidence,
			r.RawPayload,
		}
	}
	return out
}
