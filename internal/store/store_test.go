package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherhome/catalog-intel/internal/model"
)

func sampleEvent() model.PredictionEvent {
	return model.PredictionEvent{
		EventID:   "6f1c9f50-2f2e-4a57-9f3a-8f6f271f2b10",
		EventTS:   time.Date(2026, 8, 23, 14, 30, 5, 0, time.UTC),
		Source:    "catalog-intel.api",
		Version:   "v1",
		ProductID: "SKU-1001",
		Predictions: map[model.Attribute]model.AttributePrediction{
			model.AttrCategory: {Value: "Sofa", Confidence: 0.94, ExtractedBy: model.ExtractedByMerged},
			model.AttrRoomType: {Value: "Living Room", Confidence: 0.70, ExtractedBy: model.ExtractedByLLMStub},
			model.AttrStyle:    {Value: "Mid-Century", Confidence: 0.90, ExtractedBy: model.ExtractedByLLMStub},
			model.AttrMaterial: {Value: "Walnut", Confidence: 0.75, ExtractedBy: model.ExtractedByLLMStub},
		},
		DecisionLog: map[model.Attribute]model.DecisionLogEntry{
			model.AttrCategory: {
				AttributeName:     model.AttrCategory,
				SourcesConsidered: []model.Source{model.SourceText, model.SourceVision},
				ChosenSource:      "merged",
				Reason:            `text and vision agreed on "sofa"`,
				Conflicts:         []model.Conflict{},
			},
		},
	}
}

func makeRow(eventID, productID string, ts time.Time) WarehouseRow {
	return WarehouseRow{
		EventID:            eventID,
		EventTS:            ts,
		ProductID:          productID,
		CategoryValue:      "Sofa",
		CategoryConfidence: 0.94,
		RoomTypeValue:      "Living Room",
		RoomTypeConfidence: 0.70,
		RawPayload:         fmt.Sprintf(`{"event_id":%q}`, eventID),
	}
}

func TestFlattenEvent_PopulatesFixedColumns(t *testing.T) {
	ev := sampleEvent()

	row, err := FlattenEvent(ev)
	require.NoError(t, err)

	assert.Equal(t, ev.EventID, row.EventID)
	assert.True(t, row.EventTS.Equal(ev.EventTS))
	assert.Equal(t, "SKU-1001", row.ProductID)
	assert.Equal(t, "Sofa", row.CategoryValue)
	assert.InDelta(t, 0.94, row.CategoryConfidence, 0.001)
	assert.Equal(t, "Living Room", row.RoomTypeValue)
	assert.InDelta(t, 0.70, row.RoomTypeConfidence, 0.001)
	assert.Equal(t, "Mid-Century", row.StyleValue)
	assert.InDelta(t, 0.90, row.StyleConfidence, 0.001)
	assert.Equal(t, "Walnut", row.MaterialValue)
	assert.InDelta(t, 0.75, row.MaterialConfidence, 0.001)
}

func TestFlattenEvent_MissingAttributesLeaveZeroColumns(t *testing.T) {
	ev := sampleEvent()
	delete(ev.Predictions, model.AttrStyle)
	delete(ev.Predictions, model.AttrMaterial)

	row, err := FlattenEvent(ev)
	require.NoError(t, err)

	assert.Equal(t, "Sofa", row.CategoryValue)
	assert.Empty(t, row.StyleValue)
	assert.Zero(t, row.StyleConfidence)
	assert.Empty(t, row.MaterialValue)
	assert.Zero(t, row.MaterialConfidence)
}

func TestFlattenEvent_RawPayloadRoundTrips(t *testing.T) {
	ev := sampleEvent()

	row, err := FlattenEvent(ev)
	require.NoError(t, err)

	var decoded model.PredictionEvent
	require.NoError(t, json.Unmarshal([]byte(row.RawPayload), &decoded))
	assert.Equal(t, ev, decoded)
}

func TestFlattenEvent_DimensionsStayInPayloadOnly(t *testing.T) {
	ev := sampleEvent()
	ev.Predictions[model.AttrDimensions] = model.AttributePrediction{
		Value: "72 x 36 x 30 in", Confidence: 0.95, ExtractedBy: model.ExtractedByRules,
	}

	row, err := FlattenEvent(ev)
	require.NoError(t, err)

	// No fixed column for dimensions; the value survives in raw_payload.
	assert.Contains(t, row.RawPayload, "72 x 36 x 30 in")
}

func TestRowValues_MatchesColumnOrder(t *testing.T) {
	row, err := FlattenEvent(sampleEvent())
	require.NoError(t, err)

	values := rowValues([]WarehouseRow{row})
	require.Len(t, values, 1)
	require.Len(t, values[0], len(Columns))

	assert.Equal(t, row.EventID, values[0][0])
	assert.Equal(t, row.ProductID, values[0][2])
	assert.Equal(t, row.CategoryValue, values[0][3])
	assert.Equal(t, row.RawPayload, values[0][len(Columns)-1])
}

// warehouseSuite exercises the Warehouse contract shared by the file-backed
// drivers. Driver-specific behavior (merge semantics, duplicate handling)
// lives in the per-driver test files.
func warehouseSuite(t *testing.T, newWarehouse func(t *testing.T) Warehouse) {
	t.Run("AppendAndSummary", func(t *testing.T) {
		w := newWarehouse(t)
		ctx := context.Background()

		base := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)
		rows := []WarehouseRow{
			makeRow("ev-1", "SKU-1", base),
			makeRow("ev-2", "SKU-2", base.Add(time.Minute)),
			makeRow("ev-3", "SKU-1", base.Add(2*time.Minute)),
		}
		require.NoError(t, w.AppendRows(ctx, rows))

		summary, err := w.Summary(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), summary.Rows)
		assert.Equal(t, int64(2), summary.DistinctProducts)
		assert.True(t, summary.LastEventTS.Equal(base.Add(2*time.Minute)),
			"want %v, got %v", base.Add(2*time.Minute), summary.LastEventTS)
	})

	t.Run("SummaryEmpty", func(t *testing.T) {
		w := newWarehouse(t)

		summary, err := w.Summary(context.Background())
		require.NoError(t, err)
		assert.Zero(t, summary.Rows)
		assert.Zero(t, summary.DistinctProducts)
		assert.True(t, summary.LastEventTS.IsZero())
	})

	t.Run("AppendNoRows", func(t *testing.T) {
		w := newWarehouse(t)
		ctx := context.Background()

		require.NoError(t, w.AppendRows(ctx, nil))

		summary, err := w.Summary(ctx)
		require.NoError(t, err)
		assert.Zero(t, summary.Rows)
	})

	t.Run("MergeFreshRows", func(t *testing.T) {
		w := newWarehouse(t)
		ctx := context.Background()

		ts := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)
		rows := []WarehouseRow{
			makeRow("ev-a", "SKU-1", ts),
			makeRow("ev-b", "SKU-2", ts.Add(time.Second)),
		}
		require.NoError(t, w.MergeRows(ctx, rows))

		summary, err := w.Summary(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), summary.Rows)
	})
}

func TestOpen_SelectsDriver(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	csvWH, err := Open(ctx, Options{Driver: "csv", Path: dir})
	require.NoError(t, err)
	assert.IsType(t, &CSVWarehouse{}, csvWH)

	sqliteWH, err := Open(ctx, Options{Driver: "sqlite", Path: filepath.Join(dir, "wh.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteWarehouse{}, sqliteWH)
	require.NoError(t, sqliteWH.Close())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "bigquery"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown warehouse driver")
}
