package store

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

const csvFileName = "predictions.csv"

// CSVWarehouse appends rows to <dir>/predictions.csv. It exists for local
// inspection: append-only, header written once, no dedup. MergeRows is a
// plain append here.
type CSVWarehouse struct {
	path string
	mu   sync.Mutex
}

// NewCSV returns a csv warehouse writing under dir.
func NewCSV(dir string) *CSVWarehouse {
	return &CSVWarehouse{path: filepath.Join(dir, csvFileName)}
}

// Migrate creates the target directory.
func (w *CSVWarehouse) Migrate(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return eris.Wrap(err, "store: create csv dir")
	}
	return nil
}

func (w *CSVWarehouse) AppendRows(ctx context.Context, rows []WarehouseRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return eris.Wrap(err, "store: create csv dir")
	}

	writeHeader := false
	if _, err := os.Stat(w.path); os.IsNotExist(err) {
		writeHeader = true
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return eris.Wrap(err, "store: open csv")
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if writeHeader {
		if err := cw.Write(Columns); err != nil {
			return eris.Wrap(err, "store: write csv header")
		}
	}
	for _, row := range rows {
		if err := cw.Write(csvFields(row)); err != nil {
			return eris.Wrap(err, "store: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "store: flush csv")
}

// MergeRows appends; the csv sink keeps no index to dedup against.
func (w *CSVWarehouse) MergeRows(ctx context.Context, rows []WarehouseRow) error {
	return w.AppendRows(ctx, rows)
}

func (w *CSVWarehouse) Summary(ctx context.Context) (WarehouseSummary, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.path)
	if os.IsNotExist(err) {
		return WarehouseSummary{}, nil
	}
	if err != nil {
		return WarehouseSummary{}, eris.Wrap(err, "store: open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Columns)

	var summary WarehouseSummary
	products := make(map[string]struct{})
	header := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return WarehouseSummary{}, eris.Wrap(err, "store: read csv")
		}
		if header {
			header = false
			continue
		}
		summary.Rows++
		products[record[2]] = struct{}{}
		if ts, err := time.Parse(time.RFC3339, record[1]); err == nil && ts.After(summary.LastEventTS) {
			summary.LastEventTS = ts
		}
	}
	summary.DistinctProducts = int64(len(products))
	return summary, nil
}

func (w *CSVWarehouse) Close() error { return nil }

func csvFields(row WarehouseRow) []string {
	return []string{
		row.EventID,
		row.EventTS.UTC().Format(time.RFC3339),
		row.ProductID,
		row.CategoryValue,
		formatConfidence(row.CategoryConfidence),
		row.RoomTypeValue,
		formatConfidence(row.RoomTypeConfidence),
		row.StyleValue,
		formatConfidence(row.StyleConfidence),
		row.MaterialValue,
		formatConfidence(row.MaterialConfidence),
		row.RawPayload,
	}
}

func formatConfidence(c float64) string {
	return strconv.FormatFloat(c, 'f', -1, 64)
}
