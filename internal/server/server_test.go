package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherhome/catalog-intel/internal/extract"
	"github.com/gatherhome/catalog-intel/internal/guard"
	"github.com/gatherhome/catalog-intel/internal/model"
	"github.com/gatherhome/catalog-intel/internal/pipeline"
	"github.com/gatherhome/catalog-intel/internal/service"
)

type fakeIngestor struct {
	failIDs map[string]error
}

func (f *fakeIngestor) Ingest(_ context.Context, rec model.ProductRecord) (model.IngestedRecord, error) {
	if err, ok := f.failIDs[rec.ProductID]; ok {
		return model.IngestedRecord{}, err
	}
	return model.IngestedRecord{ProductRecord: rec}, nil
}

type stubExtractor struct{}

func (s *stubExtractor) Name() string { return "stub" }

func (s *stubExtractor) Extract(_ context.Context, rec *model.IngestedRecord) ([]model.AttributeCandidate, error) {
	return []model.AttributeCandidate{{
		AttributeName: model.AttrCategory,
		Value:         "Sofa",
		Confidence:    0.9,
		Source:        model.SourceText,
		ExtractedBy:   model.ExtractedByRules,
	}}, nil
}

func openLimits() guard.Limits {
	return guard.Limits{MaxBatchItems: 50, MaxTextChars: 4096, RPMLimit: 600}
}

func newTestHandler(t *testing.T, limits guard.Limits, ing pipeline.Ingestor) http.Handler {
	t.Helper()
	p := pipeline.New(ing, []extract.Extractor{&stubExtractor{}}, nil, time.Second)
	svc := service.New(guard.New(limits), p, pipeline.NewOrchestrator(p, 2, false), nil, nil)
	t.Cleanup(svc.Close)
	return New(svc, 0).Handler()
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func record(id string) model.ProductRecord {
	return model.ProductRecord{
		ProductID:   id,
		Title:       "Mid-Century Walnut Sofa",
		Description: "A low-profile sofa for the living room.",
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, openLimits(), &fakeIngestor{})

	rr := doRequest(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestPredict_ReturnsFusedRecord(t *testing.T) {
	h := newTestHandler(t, openLimits(), &fakeIngestor{})

	rr := doRequest(t, h, http.MethodPost, "/v1/predict", record("sku-1"))
	require.Equal(t, http.StatusOK, rr.Code)

	var result model.PredictionRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, "sku-1", result.ProductID)
	assert.Contains(t, result.FinalPredictions, model.AttrCategory)
}

func TestPredict_MalformedBody(t *testing.T) {
	h := newTestHandler(t, openLimits(), &fakeIngestor{})

	rr := doRequest(t, h, http.MethodPost, "/v1/predict", `{"product_id": `)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestPredict_StagedFailureMapsTo422(t *testing.T) {
	ing := &fakeIngestor{failIDs: map[string]error{
		"sku-broken": model.NewStagedError(model.StageIngest, model.ErrFetchFailed, "image fetch failed after retries"),
	}}
	h := newTestHandler(t, openLimits(), ing)

	rr := doRequest(t, h, http.MethodPost, "/v1/predict", record("sku-broken"))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var body recordErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, model.StageIngest, body.Stage)
	assert.Equal(t, model.ErrFetchFailed, body.ErrorType)
	assert.Contains(t, body.Message, "image fetch failed")
}

func TestPredict_RateLimited(t *testing.T) {
	h := newTestHandler(t, guard.Limits{MaxBatchItems: 10, MaxTextChars: 4096, RPMLimit: 1}, &fakeIngestor{})

	rr := doRequest(t, h, http.MethodPost, "/v1/predict", record("sku-1"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, h, http.MethodPost, "/v1/predict", record("sku-2"))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	retryAfter := rr.Header().Get("Retry-After")
	require.NotEmpty(t, retryAfter)
	secs, err := time.ParseDuration(retryAfter + "s")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, secs, time.Second)

	var body recordErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, model.StageAdmission, body.Stage)
	assert.Equal(t, model.ErrRateLimited, body.ErrorType)
}

func TestPredict_OversizeTextMapsTo413(t *testing.T) {
	h := newTestHandler(t, guard.Limits{MaxBatchItems: 10, MaxTextChars: 10, RPMLimit: 600}, &fakeIngestor{})

	rr := doRequest(t, h, http.MethodPost, "/v1/predict", record("sku-1"))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	var body recordErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, model.ErrTextLimitExceeded, body.ErrorType)
}

func TestPredictBatch_MixedOutcomesStill200(t *testing.T) {
	ing := &fakeIngestor{failIDs: map[string]error{
		"sku-2": model.NewStagedError(model.StageIngest, model.ErrUnreachable, "host unreachable"),
	}}
	h := newTestHandler(t, openLimits(), ing)

	req := map[string]any{"items": []model.ProductRecord{record("sku-1"), record("sku-2")}}
	rr := doRequest(t, h, http.MethodPost, "/v1/predict/batch", req)
	require.Equal(t, http.StatusOK, rr.Code)

	var result model.BatchResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Succeeded())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "sku-2", result.Errors[0].ProductID)
	assert.Equal(t, model.ErrUnreachable, result.Errors[0].ErrorType)
}

func TestPredictBatch_OversizeMapsTo413(t *testing.T) {
	h := newTestHandler(t, guard.Limits{MaxBatchItems: 1, MaxTextChars: 4096, RPMLimit: 600}, &fakeIngestor{})

	req := map[string]any{"items": []model.ProductRecord{record("sku-1"), record("sku-2")}}
	rr := doRequest(t, h, http.MethodPost, "/v1/predict/batch", req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	var body recordErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, model.ErrBatchLimitExceeded, body.ErrorType)
}

func TestDeprecatedPredictAlias(t *testing.T) {
	h := newTestHandler(t, openLimits(), &fakeIngestor{})

	rr := doRequest(t, h, http.MethodPost, "/predict", record("sku-1"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "true", rr.Header().Get("Deprecation"))

	var result model.PredictionRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, "sku-1", result.ProductID)
}

func TestEnrich_ReturnsCandidates(t *testing.T) {
	h := newTestHandler(t, openLimits(), &fakeIngestor{})

	rr := doRequest(t, h, http.MethodPost, "/v1/enrich", record("sku-1"))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		ProductID  string                     `json:"product_id"`
		Candidates []model.AttributeCandidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "sku-1", body.ProductID)
	require.Len(t, body.Candidates, 1)
	assert.Equal(t, model.AttrCategory, body.Candidates[0].AttributeName)
}

func TestEnrichBatch_Partitions(t *testing.T) {
	ing := &fakeIngestor{failIDs: map[string]error{
		"sku-broken": model.NewStagedError(model.StageIngest, model.ErrFetchFailed, "image fetch failed after retries"),
	}}
	h := newTestHandler(t, openLimits(), ing)

	req := map[string]any{"items": []model.ProductRecord{record("sku-1"), record("sku-broken")}}
	rr := doRequest(t, h, http.MethodPost, "/v1/enrich/batch", req)
	require.Equal(t, http.StatusOK, rr.Code)

	var result model.EnrichBatchResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Len(t, result.Items, 1)
	assert.Equal(t, "sku-1", result.Items[0].ProductID)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].Index)
}

func TestStats_ReportsCounters(t *testing.T) {
	h := newTestHandler(t, openLimits(), &fakeIngestor{})

	rr := doRequest(t, h, http.MethodPost, "/v1/predict", record("sku-1"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, h, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var stats service.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.RequestsAdmitted)
	assert.Equal(t, int64(1), stats.RecordsSucceeded)
	assert.Nil(t, stats.Warehouse)
}

func TestCORS_PreflightAllowed(t *testing.T) {
	h := newTestHandler(t, openLimits(), &fakeIngestor{})

	req := httptest.NewRequest(http.MethodOptions, "/v1/predict", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	h := newTestHandler(t, openLimits(), &fakeIngestor{})

	rr := doRequest(t, h, http.MethodGet, "/v1/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
