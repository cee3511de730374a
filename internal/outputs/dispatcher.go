package outputs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gatherhome/catalog-intel/internal/model"
	"github.com/gatherhome/catalog-intel/internal/resilience"
)

const (
	defaultAsyncWorkers = 4
	drainTimeout        = 5 * time.Second
)

// DispatcherOptions configures event delivery.
type DispatcherOptions struct {
	// Topic events are published to. Empty means DefaultTopic.
	Topic string

	// Async submits publishes to a worker pool instead of blocking the
	// caller. Publish errors in async mode are logged and dropped.
	Async bool

	// AsyncWorkers bounds the pool in async mode. Zero means 4.
	AsyncWorkers int

	// Validate checks every event against the embedded contract before
	// publishing; a violation fails that publish only.
	Validate bool

	// Retry overrides the publish retry policy. Zero value means
	// resilience.PublishPolicy.
	Retry resilience.Policy

	// DeadLetter, when set, records publishes that failed after retries.
	DeadLetter *DeadLetter
}

// Dispatcher serializes events and hands them to a Publisher, either inline
// or through a bounded worker pool.
type Dispatcher struct {
	publisher Publisher
	topic     string
	validate  bool
	retry     resilience.Policy
	dlq       *DeadLetter
	pool      *ants.Pool
}

// NewDispatcher wires a publisher behind the configured delivery mode.
func NewDispatcher(pub Publisher, opts DispatcherOptions) (*Dispatcher, error) {
	d := &Dispatcher{
		publisher: pub,
		topic:     opts.Topic,
		validate:  opts.Validate,
		retry:     opts.Retry,
		dlq:       opts.DeadLetter,
	}
	if d.topic == "" {
		d.topic = DefaultTopic
	}
	if d.retry.Attempts == 0 {
		d.retry = resilience.PublishPolicy()
	}
	if opts.Async {
		workers := opts.AsyncWorkers
		if workers <= 0 {
			workers = defaultAsyncWorkers
		}
		pool, err := ants.NewPool(workers)
		if err != nil {
			return nil, eris.Wrap(err, "outputs: create publish pool")
		}
		d.pool = pool
	}
	return d, nil
}

// Dispatch publishes one event. Sync mode returns the sink's message id.
// Async mode returns immediately with an empty id; the publish outcome is
// only observable in the logs.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.PredictionEvent) (string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return "", eris.Wrap(err, "outputs: encode event")
	}
	if d.validate {
		if err := ValidateEvent(payload); err != nil {
			zap.L().Error("event rejected by contract",
				zap.String("event_id", event.EventID),
				zap.String("product_id", event.ProductID),
				zap.Error(err),
			)
			return "", err
		}
	}

	if d.pool == nil {
		return d.publish(ctx, event, payload)
	}

	if err := d.pool.Submit(func() {
		// Detached from the request context: the caller is gone by the
		// time this runs.
		_, _ = d.publish(context.Background(), event, payload)
	}); err != nil {
		zap.L().Warn("async publish dropped",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
	return "", nil
}

func (d *Dispatcher) publish(ctx context.Context, event model.PredictionEvent, payload []byte) (string, error) {
	policy := d.retry
	policy.OnRetry = resilience.RetryLogger("publish", d.topic)

	messageID, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (string, error) {
		return d.publisher.Publish(ctx, d.topic, payload)
	})
	if err != nil {
		zap.L().Error("event publish failed",
			zap.String("event_id", event.EventID),
			zap.String("topic", d.topic),
			zap.Error(err),
		)
		if d.dlq != nil {
			if dlqErr := d.dlq.Record(d.topic, payload, err); dlqErr != nil {
				zap.L().Error("dead letter write failed",
					zap.String("event_id", event.EventID),
					zap.Error(dlqErr),
				)
			}
		}
		return "", err
	}
	zap.L().Debug("event published",
		zap.String("event_id", event.EventID),
		zap.String("topic", d.topic),
		zap.String("message_id", messageID),
	)
	return messageID, nil
}

// Close drains the async pool, waiting briefly for in-flight publishes.
func (d *Dispatcher) Close() {
	if d.pool == nil {
		return
	}
	if err := d.pool.ReleaseTimeout(drainTimeout); err != nil {
		zap.L().Warn("publish pool did not drain", zap.Error(err))
	}
}
