package guard

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherhome/catalog-intel/internal/model"
)

func testLimits() Limits {
	return Limits{MaxBatchItems: 50, MaxTextChars: 10000, RPMLimit: 120}
}

func record(id, title, desc string) model.ProductRecord {
	return model.ProductRecord{ProductID: id, Title: title, Description: desc}
}

func TestAdmitOne_WithinLimits(t *testing.T) {
	g := New(testLimits())
	assert.NoError(t, g.AdmitOne(record("p1", "Walnut Desk", "A desk.")))
}

func TestAdmitOne_TextLimitRejectsOutright(t *testing.T) {
	g := New(Limits{MaxBatchItems: 50, MaxTextChars: 20, RPMLimit: 120})

	err := g.AdmitOne(record("p1", "Oversized", strings.Repeat("x", 30)))
	require.Error(t, err)

	var admErr *AdmissionError
	require.True(t, errors.As(err, &admErr))
	assert.Equal(t, model.ErrTextLimitExceeded, admErr.Type)
	assert.Contains(t, admErr.Message, "exceeds limit 20")
}

func TestAdmitBatch_OverBatchLimitRejectsWholeRequest(t *testing.T) {
	g := New(testLimits())

	records := make([]model.ProductRecord, 51)
	for i := range records {
		records[i] = record(fmt.Sprintf("p%d", i), "Chair", "A chair.")
	}

	rejected, err := g.AdmitBatch(records)
	require.Error(t, err)
	assert.Nil(t, rejected)

	var admErr *AdmissionError
	require.True(t, errors.As(err, &admErr))
	assert.Equal(t, model.ErrBatchLimitExceeded, admErr.Type)
}

func TestAdmitBatch_PerItemTextViolationsSpareSiblings(t *testing.T) {
	g := New(Limits{MaxBatchItems: 50, MaxTextChars: 30, RPMLimit: 120})

	records := []model.ProductRecord{
		record("ok-1", "Chair", "Fine."),
		record("too-big", "Sofa", strings.Repeat("y", 40)),
		record("ok-2", "Lamp", "Also fine."),
		record("also-too-big", strings.Repeat("z", 40), ""),
	}

	rejected, err := g.AdmitBatch(records)
	require.NoError(t, err)
	require.Len(t, rejected, 2)

	assert.Equal(t, 1, rejected[0].Index)
	assert.Equal(t, "too-big", rejected[0].ProductID)
	assert.Equal(t, model.StageAdmission, rejected[0].Stage)
	assert.Equal(t, model.ErrTextLimitExceeded, rejected[0].ErrorType)

	assert.Equal(t, 3, rejected[1].Index)
	assert.Equal(t, "also-too-big", rejected[1].ProductID)
}

func TestRateLimit_EmptyBucketRejects(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := New(Limits{MaxBatchItems: 50, MaxTextChars: 10000, RPMLimit: 2}).
		WithNow(func() time.Time { return now })

	rec := record("p1", "Bench", "A bench.")
	require.NoError(t, g.AdmitOne(rec))
	require.NoError(t, g.AdmitOne(rec))

	err := g.AdmitOne(rec)
	require.Error(t, err)

	var admErr *AdmissionError
	require.True(t, errors.As(err, &admErr))
	assert.Equal(t, model.ErrRateLimited, admErr.Type)
}

func TestRateLimit_RefillsLazilyFromClock(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := New(Limits{MaxBatchItems: 50, MaxTextChars: 10000, RPMLimit: 2}).
		WithNow(func() time.Time { return now })

	rec := record("p1", "Bench", "A bench.")
	require.NoError(t, g.AdmitOne(rec))
	require.NoError(t, g.AdmitOne(rec))
	require.Error(t, g.AdmitOne(rec))

	// 2 rpm means one token accrues every 30 seconds.
	now = now.Add(30 * time.Second)
	assert.NoError(t, g.AdmitOne(rec))
	assert.Error(t, g.AdmitOne(rec))
}

func TestRateLimit_RefillClampedToCapacity(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := New(Limits{MaxBatchItems: 50, MaxTextChars: 10000, RPMLimit: 2}).
		WithNow(func() time.Time { return now })

	rec := record("p1", "Bench", "A bench.")

	// A long idle period must not bank more than capacity.
	now = now.Add(time.Hour)
	require.NoError(t, g.AdmitOne(rec))
	require.NoError(t, g.AdmitOne(rec))
	assert.Error(t, g.AdmitOne(rec))
}

func TestAdmitBatch_ConsumesOneTokenPerRequest(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g := New(Limits{MaxBatchItems: 50, MaxTextChars: 10, RPMLimit: 2}).
		WithNow(func() time.Time { return now })

	// A batch with per-item rejections still costs exactly one token.
	records := []model.ProductRecord{
		record("ok", "Chair", ""),
		record("big", strings.Repeat("x", 20), ""),
	}
	rejected, err := g.AdmitBatch(records)
	require.NoError(t, err)
	assert.Len(t, rejected, 1)

	_, err = g.AdmitBatch(records)
	require.NoError(t, err)

	_, err = g.AdmitBatch(records)
	assert.Error(t, err)
}

func TestRetryAfterHint(t *testing.T) {
	g := New(Limits{MaxBatchItems: 50, MaxTextChars: 10000, RPMLimit: 120})
	// 120 rpm accrues faster than one token per second; hint floors at 1s.
	assert.Equal(t, time.Second, g.RetryAfterHint())

	slow := New(Limits{MaxBatchItems: 50, MaxTextChars: 10000, RPMLimit: 2})
	assert.Equal(t, 30*time.Second, slow.RetryAfterHint())
}
