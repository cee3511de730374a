// Package service composes admission, the record pipeline, and the output
// sinks behind the facade shared by the HTTP API and the CLI. Sink writes
// happen off the request path: a failed publish or warehouse append is
// logged and dropped, never surfaced to the caller.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gatherhome/catalog-intel/internal/guard"
	"github.com/gatherhome/catalog-intel/internal/model"
	"github.com/gatherhome/catalog-intel/internal/outputs"
	"github.com/gatherhome/catalog-intel/internal/pipeline"
	"github.com/gatherhome/catalog-intel/internal/store"
)

const defaultSinkTimeout = 15 * time.Second

// Stats is the point-in-time view served by the status surfaces. The
// counters cover this process only and track completed outcomes: a batch
// aborted mid-flight moves neither record counter.
type Stats struct {
	Warehouse        *store.WarehouseSummary `json:"warehouse,omitempty"`
	RequestsAdmitted int64                   `json:"requests_admitted"`
	RequestsRejected int64                   `json:"requests_rejected"`
	RecordsSucceeded int64                   `json:"records_succeeded"`
	RecordsFailed    int64                   `json:"records_failed"`
}

// Service wires the guard, pipeline, and sinks together. Dispatcher and
// warehouse are optional; a nil sink is skipped during fan-out.
type Service struct {
	guard        *guard.Guard
	pipeline     *pipeline.Pipeline
	orchestrator *pipeline.Orchestrator
	dispatcher   *outputs.Dispatcher
	warehouse    store.Warehouse
	sinkTimeout  time.Duration

	sinkWG sync.WaitGroup

	requestsAdmitted atomic.Int64
	requestsRejected atomic.Int64
	recordsSucceeded atomic.Int64
	recordsFailed    atomic.Int64
}

// New creates a Service around the given collaborators. disp and wh may be
// nil; the warehouse stays owned by the caller and is not closed here.
func New(g *guard.Guard, p *pipeline.Pipeline, orch *pipeline.Orchestrator, disp *outputs.Dispatcher, wh store.Warehouse) *Service {
	return &Service{
		guard:        g,
		pipeline:     p,
		orchestrator: orch,
		dispatcher:   disp,
		warehouse:    wh,
		sinkTimeout:  defaultSinkTimeout,
	}
}

// RetryAfterHint exposes the guard's backoff hint for 429 responses.
func (s *Service) RetryAfterHint() time.Duration {
	return s.guard.RetryAfterHint()
}

// PredictOne runs a single record through admission, the full pipeline, and
// the output fan-out. The returned error is a *guard.AdmissionError or a
// *model.StagedError; callers map those onto their own status surface.
func (s *Service) PredictOne(ctx context.Context, rec model.ProductRecord) (model.PredictionRecord, error) {
	if err := s.guard.AdmitOne(rec); err != nil {
		s.requestsRejected.Add(1)
		return model.PredictionRecord{}, err
	}
	s.requestsAdmitted.Add(1)

	result, stagedErr := s.pipeline.Run(ctx, rec)
	if stagedErr != nil {
		s.recordsFailed.Add(1)
		return model.PredictionRecord{}, stagedErr
	}
	s.recordsSucceeded.Add(1)

	s.fanOut(ctx, []model.PredictionRecord{result})
	return result, nil
}

// PredictBatch admits the whole request, runs the admitted records through
// the orchestrator, and fans each success out to the sinks. Per-item
// admission violations ride along as batch errors; only a request-level
// rejection (rate or batch size) fails the call.
func (s *Service) PredictBatch(ctx context.Context, records []model.ProductRecord) (model.BatchResult, error) {
	skip, err := s.guard.AdmitBatch(records)
	if err != nil {
		s.requestsRejected.Add(1)
		return model.BatchResult{}, err
	}
	s.requestsAdmitted.Add(1)

	result, err := s.orchestrator.RunBatch(ctx, records, skip)
	if err != nil {
		return model.BatchResult{}, err
	}
	s.recordsSucceeded.Add(int64(result.Succeeded()))
	s.recordsFailed.Add(int64(result.Failed()))

	if result.Succeeded() > 0 {
		s.fanOut(ctx, result.Items)
	}
	return result, nil
}

// EnrichOne runs admission plus the ingest and enrich stages only and
// returns the sanitized candidates. Nothing is published or warehoused.
func (s *Service) EnrichOne(ctx context.Context, rec model.ProductRecord) ([]model.AttributeCandidate, error) {
	if err := s.guard.AdmitOne(rec); err != nil {
		s.requestsRejected.Add(1)
		return nil, err
	}
	s.requestsAdmitted.Add(1)

	candidates, stagedErr := s.pipeline.Enrich(ctx, rec)
	if stagedErr != nil {
		s.recordsFailed.Add(1)
		return nil, stagedErr
	}
	s.recordsSucceeded.Add(1)
	return candidates, nil
}

// EnrichBatch is the batch form of EnrichOne, partitioned like PredictBatch.
func (s *Service) EnrichBatch(ctx context.Context, records []model.ProductRecord) (model.EnrichBatchResult, error) {
	skip, err := s.guard.AdmitBatch(records)
	if err != nil {
		s.requestsRejected.Add(1)
		return model.EnrichBatchResult{}, err
	}
	s.requestsAdmitted.Add(1)

	result, err := s.orchestrator.EnrichBatch(ctx, records, skip)
	if err != nil {
		return model.EnrichBatchResult{}, err
	}
	s.recordsSucceeded.Add(int64(len(result.Items)))
	s.recordsFailed.Add(int64(len(result.Errors)))
	return result, nil
}

// Stats reports the warehouse summary, when a warehouse is wired, plus the
// process counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	out := Stats{
		RequestsAdmitted: s.requestsAdmitted.Load(),
		RequestsRejected: s.requestsRejected.Load(),
		RecordsSucceeded: s.recordsSucceeded.Load(),
		RecordsFailed:    s.recordsFailed.Load(),
	}
	if s.warehouse != nil {
		summary, err := s.warehouse.Summary(ctx)
		if err != nil {
			return Stats{}, eris.Wrap(err, "service: warehouse summary")
		}
		out.Warehouse = &summary
	}
	return out, nil
}

// Close drains in-flight sink writes and shuts the dispatcher down. Callers
// that opened the warehouse close it themselves afterward.
func (s *Service) Close() {
	s.sinkWG.Wait()
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
}

// fanOut builds one event per fused record and hands the same events to both
// sinks, so publisher and warehouse agree on event ids. The write runs on its
// own goroutine with a detached context; request cancellation cannot strand a
// completed record short of its sinks.
func (s *Service) fanOut(ctx context.Context, records []model.PredictionRecord) {
	if s.dispatcher == nil && s.warehouse == nil {
		return
	}
	events := make([]model.PredictionEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, outputs.BuildEvent(rec))
	}

	base := context.WithoutCancel(ctx)
	s.sinkWG.Add(1)
	go func() {
		defer s.sinkWG.Done()
		sinkCtx, cancel := context.WithTimeout(base, s.sinkTimeout)
		defer cancel()
		s.publishEvents(sinkCtx, events)
		s.appendRows(sinkCtx, events)
	}()
}

func (s *Service) publishEvents(ctx context.Context, events []model.PredictionEvent) {
	if s.dispatcher == nil {
		return
	}
	for _, ev := range events {
		if _, err := s.dispatcher.Dispatch(ctx, ev); err != nil {
			zap.L().Warn("event dispatch dropped",
				zap.String("event_id", ev.EventID),
				zap.String("product_id", ev.ProductID),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) appendRows(ctx context.Context, events []model.PredictionEvent) {
	if s.warehouse == nil {
		return
	}
	rows := make([]store.WarehouseRow, 0, len(events))
	for _, ev := range events {
		row, err := store.FlattenEvent(ev)
		if err != nil {
			zap.L().Warn("warehouse row dropped",
				zap.String("event_id", ev.EventID),
				zap.Error(err),
			)
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return
	}
	if err := s.warehouse.AppendRows(ctx, rows); err != nil {
		zap.L().Warn("warehouse append dropped",
			zap.Int("rows", len(rows)),
			zap.Error(err),
		)
	}
}
