package outputs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherhome/catalog-intel/internal/model"
	"github.com/gatherhome/catalog-intel/internal/resilience"
)

type publishCall struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	calls    []publishCall
	failures int
	failErr  error
	delay    time.Duration
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, publishCall{topic: topic, payload: append([]byte(nil), payload...)})
	if len(f.calls) <= f.failures {
		return "", f.failErr
	}
	return fmt.Sprintf("msg-%d", len(f.calls)), nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func fastRetry() resilience.Policy {
	return resilience.Policy{
		Attempts:  3,
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
		Growth:    2.0,
	}
}

func TestDispatcher_SyncPublishesToTopic(t *testing.T) {
	pub := &fakePublisher{}
	d, err := NewDispatcher(pub, DispatcherOptions{Validate: true, Retry: fastRetry()})
	require.NoError(t, err)
	defer d.Close()

	ev := BuildEvent(sampleRecord())
	msgID, err := d.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msgID)

	require.Equal(t, 1, pub.count())
	assert.Equal(t, DefaultTopic, pub.calls[0].topic)

	var published model.PredictionEvent
	require.NoError(t, json.Unmarshal(pub.calls[0].payload, &published))
	assert.Equal(t, ev.EventID, published.EventID)
	assert.Equal(t, ev.ProductID, published.ProductID)
}

func TestDispatcher_ContractViolationSkipsPublish(t *testing.T) {
	pub := &fakePublisher{}
	d, err := NewDispatcher(pub, DispatcherOptions{Validate: true, Retry: fastRetry()})
	require.NoError(t, err)
	defer d.Close()

	rec := sampleRecord()
	rec.FinalPredictions[model.AttrCategory] = model.FusedAttribute{
		Value:       "",
		Confidence:  0.9,
		ExtractedBy: model.ExtractedByMerged,
	}

	_, err = d.Dispatch(context.Background(), BuildEvent(rec))
	require.Error(t, err)
	assert.Zero(t, pub.count())
}

func TestDispatcher_ValidationOffPublishesAnyway(t *testing.T) {
	pub := &fakePublisher{}
	d, err := NewDispatcher(pub, DispatcherOptions{Retry: fastRetry()})
	require.NoError(t, err)
	defer d.Close()

	rec := sampleRecord()
	rec.FinalPredictions[model.AttrCategory] = model.FusedAttribute{
		Value:       "",
		Confidence:  0.9,
		ExtractedBy: model.ExtractedByMerged,
	}

	_, err = d.Dispatch(context.Background(), BuildEvent(rec))
	require.NoError(t, err)
	assert.Equal(t, 1, pub.count())
}

func TestDispatcher_RetriesTransientPublishFailure(t *testing.T) {
	pub := &fakePublisher{
		failures: 1,
		failErr:  resilience.NewTransientError(errors.New("broker hiccup"), 503),
	}
	d, err := NewDispatcher(pub, DispatcherOptions{Retry: fastRetry()})
	require.NoError(t, err)
	defer d.Close()

	msgID, err := d.Dispatch(context.Background(), BuildEvent(sampleRecord()))
	require.NoError(t, err)
	assert.Equal(t, "msg-2", msgID)
	assert.Equal(t, 2, pub.count())
}

func TestDispatcher_PermanentFailureNotRetried(t *testing.T) {
	pub := &fakePublisher{failures: 99, failErr: errors.New("events volume full")}
	d, err := NewDispatcher(pub, DispatcherOptions{Retry: fastRetry()})
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Dispatch(context.Background(), BuildEvent(sampleRecord()))
	require.Error(t, err)
	assert.Equal(t, 1, pub.count())
}

func TestDispatcher_AsyncReturnsBeforePublishCompletes(t *testing.T) {
	pub := &fakePublisher{delay: 50 * time.Millisecond}
	d, err := NewDispatcher(pub, DispatcherOptions{Async: true, AsyncWorkers: 2, Retry: fastRetry()})
	require.NoError(t, err)

	start := time.Now()
	msgID, err := d.Dispatch(context.Background(), BuildEvent(sampleRecord()))
	require.NoError(t, err)
	assert.Empty(t, msgID)
	assert.Less(t, time.Since(start), 40*time.Millisecond)

	d.Close()
	assert.Equal(t, 1, pub.count())
}

func TestDispatcher_AsyncDropsPublishErrors(t *testing.T) {
	pub := &fakePublisher{failures: 99, failErr: errors.New("events volume full")}
	d, err := NewDispatcher(pub, DispatcherOptions{Async: true, AsyncWorkers: 1, Retry: fastRetry()})
	require.NoError(t, err)

	msgID, err := d.Dispatch(context.Background(), BuildEvent(sampleRecord()))
	require.NoError(t, err)
	assert.Empty(t, msgID)

	d.Close()
	assert.GreaterOrEqual(t, pub.count(), 1)
}

func TestDispatcher_CloseWithoutPoolIsNoop(t *testing.T) {
	d, err := NewDispatcher(&fakePublisher{}, DispatcherOptions{})
	require.NoError(t, err)
	d.Close()
}
