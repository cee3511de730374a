package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gatherhome/catalog-intel/internal/model"
)

const defaultConcurrency = 4

// Orchestrator fans a batch of records across pipeline workers. Results are
// assembled by original input index, so the concurrency bound never changes
// what a caller observes.
type Orchestrator struct {
	pipeline    *Pipeline
	concurrency int
	failFast    bool
}

// NewOrchestrator wraps a pipeline with a worker bound. failFast makes the
// first staged error cancel the whole batch instead of being collected.
func NewOrchestrator(p *Pipeline, concurrency int, failFast bool) *Orchestrator {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Orchestrator{pipeline: p, concurrency: concurrency, failFast: failFast}
}

// RunBatch processes records concurrently and partitions every input index
// into either Items or Errors, each sorted by original index. Entries in
// skip were rejected upstream; their records are not run and their errors
// are merged into the result. With failFast set, the first staged error
// cancels outstanding work and is returned for the whole call.
func (o *Orchestrator) RunBatch(ctx context.Context, records []model.ProductRecord, skip []model.BatchError) (model.BatchResult, error) {
	start := time.Now()

	items := make([]*model.PredictionRecord, len(records))
	errs := make([]*model.BatchError, len(records))
	for _, s := range skip {
		if s.Index >= 0 && s.Index < len(errs) {
			errs[s.Index] = &s
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for idx, rec := range records {
		if errs[idx] != nil {
			continue
		}
		g.Go(func() error {
			result, stagedErr := o.pipeline.Run(gCtx, rec)
			if stagedErr != nil {
				if o.failFast {
					return stagedErr
				}
				errs[idx] = &model.BatchError{
					Index:     idx,
					ProductID: rec.ProductID,
					Stage:     stagedErr.Stage,
					ErrorType: stagedErr.Type,
					Message:   stagedErr.Message,
				}
				return nil
			}
			items[idx] = &result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.BatchResult{}, err
	}

	out := model.BatchResult{
		Items:  make([]model.PredictionRecord, 0, len(records)),
		Errors: make([]model.BatchError, 0),
	}
	var stageSums model.StageTimings
	for i := range records {
		switch {
		case items[i] != nil:
			out.Items = append(out.Items, *items[i])
			stageSums.IngestMS += items[i].Timings.IngestMS
			stageSums.EnrichMS += items[i].Timings.EnrichMS
			stageSums.VisionMS += items[i].Timings.VisionMS
			stageSums.FuseMS += items[i].Timings.FuseMS
		case errs[i] != nil:
			out.Errors = append(out.Errors, *errs[i])
		}
	}

	logBatchSummary(len(records), out, stageSums, time.Since(start))
	return out, nil
}

// EnrichBatch runs only the ingest and enrich stages for each record, with
// the same worker bound, skip merging, and index partitioning as RunBatch.
func (o *Orchestrator) EnrichBatch(ctx context.Context, records []model.ProductRecord, skip []model.BatchError) (model.EnrichBatchResult, error) {
	items := make([]*model.EnrichedItem, len(records))
	errs := make([]*model.BatchError, len(records))
	for _, s := range skip {
		if s.Index >= 0 && s.Index < len(errs) {
			errs[s.Index] = &s
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for idx, rec := range records {
		if errs[idx] != nil {
			continue
		}
		g.Go(func() error {
			candidates, stagedErr := o.pipeline.Enrich(gCtx, rec)
			if stagedErr != nil {
				if o.failFast {
					return stagedErr
				}
				errs[idx] = &model.BatchError{
					Index:     idx,
					ProductID: rec.ProductID,
					Stage:     stagedErr.Stage,
					ErrorType: stagedErr.Type,
					Message:   stagedErr.Message,
				}
				return nil
			}
			items[idx] = &model.EnrichedItem{
				Index:      idx,
				ProductID:  rec.ProductID,
				Candidates: candidates,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.EnrichBatchResult{}, err
	}

	out := model.EnrichBatchResult{
		Items:  make([]model.EnrichedItem, 0, len(records)),
		Errors: make([]model.BatchError, 0),
	}
	for i := range records {
		switch {
		case items[i] != nil:
			out.Items = append(out.Items, *items[i])
		case errs[i] != nil:
			out.Errors = append(out.Errors, *errs[i])
		}
	}
	return out, nil
}

func logBatchSummary(total int, result model.BatchResult, sums model.StageTimings, elapsed time.Duration) {
	succeeded := result.Succeeded()
	mean := func(sum int64) float64 {
		if succeeded == 0 {
			return 0
		}
		return float64(sum) / float64(succeeded)
	}
	zap.L().Info("batch complete",
		zap.Int("total", total),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", result.Failed()),
		zap.Duration("elapsed", elapsed),
		zap.Float64("mean_ingest_ms", mean(sums.IngestMS)),
		zap.Float64("mean_enrich_ms", mean(sums.EnrichMS)),
		zap.Float64("mean_vision_ms", mean(sums.VisionMS)),
		zap.Float64("mean_fuse_ms", mean(sums.FuseMS)),
	)
}
