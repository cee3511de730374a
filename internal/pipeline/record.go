// Package pipeline sequences the per-record stages (ingest, enrich, vision,
// fuse) under a single record deadline and runs batches of records with
// bounded concurrency. Stage failures are classified into the staged error
// taxonomy; one record's failure never touches its siblings.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gatherhome/catalog-intel/internal/extract"
	"github.com/gatherhome/catalog-intel/internal/fusion"
	"github.com/gatherhome/catalog-intel/internal/model"
)

const defaultRecordTimeout = 8 * time.Second

// Ingestor resolves one raw record for the ingest stage.
type Ingestor interface {
	Ingest(ctx context.Context, rec model.ProductRecord) (model.IngestedRecord, error)
}

// Pipeline runs one product record through its stages. The deadline for the
// whole sequence is computed once at Run entry; every stage is pre-checked
// against it and abandoned if it overruns.
type Pipeline struct {
	ingestor  Ingestor
	enrichers []extract.Extractor
	vision    extract.Extractor
	timeout   time.Duration
	now       func() time.Time
}

// New builds a record pipeline. Enrichers run in order during the enrich
// stage; visionEx runs only for records that ingested an image.
func New(ing Ingestor, enrichers []extract.Extractor, visionEx extract.Extractor, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = defaultRecordTimeout
	}
	return &Pipeline{
		ingestor:  ing,
		enrichers: enrichers,
		vision:    visionEx,
		timeout:   timeout,
		now:       time.Now,
	}
}

// WithNow overrides the pipeline clock.
func (p *Pipeline) WithNow(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Run processes one record to a fused PredictionRecord, or to the staged
// error describing the first failure. Partial stage output is never
// returned.
func (p *Pipeline) Run(ctx context.Context, rec model.ProductRecord) (model.PredictionRecord, *model.StagedError) {
	deadline := p.now().Add(p.timeout)

	var timings model.StageTimings
	ingested, textCands, stagedErr := p.ingestAndEnrich(ctx, rec, deadline, &timings)
	if stagedErr != nil {
		return model.PredictionRecord{}, stagedErr
	}

	var visionCands []model.AttributeCandidate
	if ingested.HasImage() {
		if stagedErr := p.checkDeadline(deadline, model.StageVision); stagedErr != nil {
			return model.PredictionRecord{}, stagedErr
		}
		start := p.now()
		visionCands, stagedErr = runStage(ctx, deadline, model.StageVision, classifyVision,
			func(ctx context.Context) ([]model.AttributeCandidate, error) {
				return p.observe(ctx, &ingested)
			})
		timings.VisionMS = p.now().Sub(start).Milliseconds()
		if stagedErr != nil {
			return model.PredictionRecord{}, stagedErr
		}
		p.logStage(rec.ProductID, model.StageVision, timings.VisionMS)
	}

	if stagedErr := p.checkDeadline(deadline, model.StageFuse); stagedErr != nil {
		return model.PredictionRecord{}, stagedErr
	}
	start := p.now()
	result := fusion.Fuse(rec.ProductID, rec.Title, append(textCands, visionCands...))
	timings.FuseMS = p.now().Sub(start).Milliseconds()
	p.logStage(rec.ProductID, model.StageFuse, timings.FuseMS)

	result.Timings = timings
	return result, nil
}

// Enrich runs only the ingest and enrich stages, for callers that want the
// raw text candidates without vision or fusion. Same deadline discipline as
// Run.
func (p *Pipeline) Enrich(ctx context.Context, rec model.ProductRecord) ([]model.AttributeCandidate, *model.StagedError) {
	deadline := p.now().Add(p.timeout)

	var timings model.StageTimings
	_, candidates, stagedErr := p.ingestAndEnrich(ctx, rec, deadline, &timings)
	if stagedErr != nil {
		return nil, stagedErr
	}
	return candidates, nil
}

func (p *Pipeline) ingestAndEnrich(ctx context.Context, rec model.ProductRecord, deadline time.Time, timings *model.StageTimings) (model.IngestedRecord, []model.AttributeCandidate, *model.StagedError) {
	if stagedErr := p.checkDeadline(deadline, model.StageIngest); stagedErr != nil {
		return model.IngestedRecord{}, nil, stagedErr
	}
	start := p.now()
	ingested, stagedErr := runStage(ctx, deadline, model.StageIngest, classifyIngest,
		func(ctx context.Context) (model.IngestedRecord, error) {
			return p.ingestor.Ingest(ctx, rec)
		})
	timings.IngestMS = p.now().Sub(start).Milliseconds()
	if stagedErr != nil {
		return model.IngestedRecord{}, nil, stagedErr
	}
	p.logStage(rec.ProductID, model.StageIngest, timings.IngestMS)

	if stagedErr := p.checkDeadline(deadline, model.StageEnrich); stagedErr != nil {
		return model.IngestedRecord{}, nil, stagedErr
	}
	start = p.now()
	candidates, stagedErr := runStage(ctx, deadline, model.StageEnrich, classifyEnrich,
		func(ctx context.Context) ([]model.AttributeCandidate, error) {
			return p.runEnrichers(ctx, &ingested)
		})
	timings.EnrichMS = p.now().Sub(start).Milliseconds()
	if stagedErr != nil {
		return model.IngestedRecord{}, nil, stagedErr
	}
	p.logStage(rec.ProductID, model.StageEnrich, timings.EnrichMS)

	return ingested, candidates, nil
}

func (p *Pipeline) runEnrichers(ctx context.Context, rec *model.IngestedRecord) ([]model.AttributeCandidate, error) {
	var out []model.AttributeCandidate
	for _, ex := range p.enrichers {
		candidates, err := ex.Extract(ctx, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, candidates...)
	}
	return extract.Sanitize(out), nil
}

func (p *Pipeline) observe(ctx context.Context, rec *model.IngestedRecord) ([]model.AttributeCandidate, error) {
	candidates, err := p.vision.Extract(ctx, rec)
	if err != nil {
		return nil, err
	}
	return extract.Sanitize(candidates), nil
}

func (p *Pipeline) checkDeadline(deadline time.Time, stage model.Stage) *model.StagedError {
	if p.now().Before(deadline) {
		return nil
	}
	return model.NewStagedError(stage, model.ErrTimeout,
		fmt.Sprintf("record deadline exceeded before %s stage", stage))
}

func (p *Pipeline) logStage(productID string, stage model.Stage, ms int64) {
	zap.L().Debug("stage complete",
		zap.String("product_id", productID),
		zap.String("stage", string(stage)),
		zap.Int64("duration_ms", ms),
	)
}

func classifyIngest(err error) *model.StagedError {
	if staged, ok := model.AsStaged(err); ok {
		return staged
	}
	return model.WrapStaged(model.StageIngest, model.ErrFetchFailed, err)
}

func classifyEnrich(err error) *model.StagedError {
	return model.WrapStaged(model.StageEnrich, extract.Classify(err), err)
}

func classifyVision(err error) *model.StagedError {
	return model.WrapStaged(model.StageVision, extract.Classify(err), err)
}

type stageOutcome[T any] struct {
	val T
	err error
}

// runStage executes one stage body with the record deadline applied to its
// context. A stage that overruns the deadline is abandoned: its eventual
// result is discarded and the stage is reported as timed out.
func runStage[T any](ctx context.Context, deadline time.Time, stage model.Stage, classify func(error) *model.StagedError, fn func(context.Context) (T, error)) (T, *model.StagedError) {
	var zero T

	stageCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ch := make(chan stageOutcome[T], 1)
	go func() {
		val, err := fn(stageCtx)
		ch <- stageOutcome[T]{val: val, err: err}
	}()

	select {
	case <-stageCtx.Done():
		return zero, abandoned(stage)
	case out := <-ch:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, context.Canceled) {
				return zero, abandoned(stage)
			}
			return zero, classify(out.err)
		}
		return out.val, nil
	}
}

func abandoned(stage model.Stage) *model.StagedError {
	return model.NewStagedError(stage, model.ErrTimeout,
		fmt.Sprintf("%s stage abandoned at record deadline", stage))
}
