package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gatherhome/catalog-intel/internal/extract"
	"github.com/gatherhome/catalog-intel/internal/guard"
	"github.com/gatherhome/catalog-intel/internal/ingest"
	"github.com/gatherhome/catalog-intel/internal/outputs"
	"github.com/gatherhome/catalog-intel/internal/pipeline"
	"github.com/gatherhome/catalog-intel/internal/resilience"
	"github.com/gatherhome/catalog-intel/internal/service"
	"github.com/gatherhome/catalog-intel/internal/store"
	"github.com/gatherhome/catalog-intel/internal/vision"
)

// serviceEnv holds the wired prediction service and the sinks it owns,
// needed by the predict/batch/enrich/serve/demo commands.
type serviceEnv struct {
	Service   *service.Service
	Warehouse store.Warehouse // nil unless warehouse.enable
}

// Close drains in-flight sink writes, then releases the sinks.
func (se *serviceEnv) Close() {
	se.Service.Close()
	if se.Warehouse != nil {
		_ = se.Warehouse.Close()
	}
}

// initService builds the admission guard, the record pipeline, and the
// configured output sinks. Callers should defer env.Close().
func initService(ctx context.Context, scope string) (*serviceEnv, error) {
	if err := cfg.Validate(scope); err != nil {
		return nil, err
	}

	g := guard.New(guard.Limits{
		MaxBatchItems: cfg.Limits.MaxBatchItems,
		MaxTextChars:  cfg.Limits.MaxTextChars,
		RPMLimit:      cfg.Limits.RPMLimit,
	})

	ing := ingest.New(ingest.Options{
		CacheDir: cfg.Cache.Dir,
		Timeout:  cfg.Pipeline.IngestTimeout(),
		Retry:    resilience.PolicyFromConfig(cfg.Ingest.RetryAttempts, cfg.Ingest.RetryBaseMS, cfg.Ingest.RetryMaxMS),
		Breaker:  resilience.BreakerFromConfig(cfg.Ingest.BreakerThreshold, cfg.Ingest.BreakerCooldownS),
	})

	lexicon := extract.DefaultLexicon()
	if cfg.Extract.LexiconPath != "" {
		loaded, err := extract.LoadLexicon(cfg.Extract.LexiconPath)
		if err != nil {
			return nil, eris.Wrap(err, "load lexicon")
		}
		lexicon = loaded
		zap.L().Info("lexicon loaded", zap.String("path", cfg.Extract.LexiconPath))
	}

	enrichers := []extract.Extractor{
		extract.NewTextExtractor(lexicon),
		extract.NewDimensionsExtractor(),
	}
	visionExtractor := extract.NewVisionExtractor(vision.NewStub())

	p := pipeline.New(ing, enrichers, visionExtractor, cfg.Pipeline.RecordTimeout())
	orch := pipeline.NewOrchestrator(p, cfg.Pipeline.Concurrency, cfg.Pipeline.FailFast)

	var dispatcher *outputs.Dispatcher
	if cfg.Outputs.EnablePublish {
		pub := outputs.NewLocalFilePublisher(cfg.Outputs.EventsDir)
		d, err := outputs.NewDispatcher(pub, outputs.DispatcherOptions{
			Topic:        cfg.Outputs.Topic,
			Async:        cfg.Outputs.PublishMode == "async",
			AsyncWorkers: cfg.Outputs.AsyncWorkers,
			Validate:     cfg.Outputs.ValidateEvents,
			DeadLetter:   outputs.NewDeadLetter(cfg.Outputs.EventsDir),
		})
		if err != nil {
			return nil, err
		}
		dispatcher = d
		zap.L().Info("event publishing enabled",
			zap.String("topic", cfg.Outputs.Topic),
			zap.String("mode", cfg.Outputs.PublishMode),
			zap.String("events_dir", cfg.Outputs.EventsDir),
		)
	}

	var warehouse store.Warehouse
	if cfg.Warehouse.Enable {
		wh, err := store.Open(ctx, store.Options{
			Driver:      cfg.Warehouse.Driver,
			Path:        cfg.Warehouse.Path,
			DatabaseURL: cfg.Warehouse.DatabaseURL,
		})
		if err != nil {
			if dispatcher != nil {
				dispatcher.Close()
			}
			return nil, eris.Wrap(err, "open warehouse")
		}
		if err := wh.Migrate(ctx); err != nil {
			_ = wh.Close()
			if dispatcher != nil {
				dispatcher.Close()
			}
			return nil, eris.Wrap(err, "migrate warehouse")
		}
		warehouse = wh
		zap.L().Info("warehouse enabled", zap.String("driver", cfg.Warehouse.Driver))
	}

	return &serviceEnv{
		Service:   service.New(g, p, orch, dispatcher, warehouse),
		Warehouse: warehouse,
	}, nil
}
