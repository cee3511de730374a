// Package guard enforces the pre-IO admission checks: a process-wide request
// rate budget and the batch/text size guardrails. Checks run before any
// extractor, network, or disk access; the only side effect is token
// consumption.
package guard

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/gatherhome/catalog-intel/internal/model"
)

// AdmissionError is a request-level rejection raised before any record work
// begins.
type AdmissionError struct {
	Type    model.ErrorType
	Message string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission rejected (%s): %s", e.Type, e.Message)
}

// Guard is the process-wide admission gate. One instance per process; safe
// for concurrent use (the limiter carries its own lock).
type Guard struct {
	limiter       *rate.Limiter
	maxBatchItems int
	maxTextChars  int
	now           func() time.Time
}

// Limits carries the guardrail configuration.
type Limits struct {
	MaxBatchItems int
	MaxTextChars  int
	RPMLimit      int
}

// New builds a Guard with a full token bucket of capacity RPMLimit refilling
// at RPMLimit tokens per minute. Refill is lazy: tokens accrue from elapsed
// wall-clock time at each admission check, clamped to capacity.
func New(limits Limits) *Guard {
	return &Guard{
		limiter:       rate.NewLimiter(rate.Limit(float64(limits.RPMLimit)/60.0), limits.RPMLimit),
		maxBatchItems: limits.MaxBatchItems,
		maxTextChars:  limits.MaxTextChars,
		now:           time.Now,
	}
}

// WithNow replaces the guard's clock for testing.
func (g *Guard) WithNow(now func() time.Time) *Guard {
	g.now = now
	return g
}

// consumeToken takes one token from the bucket, reporting whether the request
// is within the rate budget. Exactly one token is consumed per request,
// regardless of per-item outcomes.
func (g *Guard) consumeToken() error {
	if !g.limiter.AllowN(g.now(), 1) {
		return &AdmissionError{
			Type:    model.ErrRateLimited,
			Message: "rate limit exceeded",
		}
	}
	return nil
}

// AdmitOne gates a single-record request. A text-size violation rejects the
// request outright.
func (g *Guard) AdmitOne(rec model.ProductRecord) error {
	if err := g.consumeToken(); err != nil {
		return err
	}
	if size := rec.TextSize(); size > g.maxTextChars {
		return &AdmissionError{
			Type:    model.ErrTextLimitExceeded,
			Message: fmt.Sprintf("combined title/description length %d exceeds limit %d", size, g.maxTextChars),
		}
	}
	return nil
}

// AdmitBatch gates a batch request. A rate or batch-size violation rejects
// the whole request; text-size violations are returned per item as admission
// BatchErrors while sibling items continue.
func (g *Guard) AdmitBatch(records []model.ProductRecord) ([]model.BatchError, error) {
	if err := g.consumeToken(); err != nil {
		return nil, err
	}
	if len(records) > g.maxBatchItems {
		return nil, &AdmissionError{
			Type:    model.ErrBatchLimitExceeded,
			Message: fmt.Sprintf("batch size %d exceeds limit %d", len(records), g.maxBatchItems),
		}
	}

	var rejected []model.BatchError
	for i, rec := range records {
		if size := rec.TextSize(); size > g.maxTextChars {
			rejected = append(rejected, model.BatchError{
				Index:     i,
				ProductID: rec.ProductID,
				Stage:     model.StageAdmission,
				ErrorType: model.ErrTextLimitExceeded,
				Message:   fmt.Sprintf("combined title/description length %d exceeds limit %d", size, g.maxTextChars),
			})
		}
	}
	return rejected, nil
}

// RetryAfterHint returns the interval until one token accrues, for
// Retry-After headers. Never less than one second.
func (g *Guard) RetryAfterHint() time.Duration {
	limit := g.limiter.Limit()
	if limit <= 0 {
		return time.Minute
	}
	interval := time.Duration(float64(time.Second) / float64(limit))
	if interval < time.Second {
		return time.Second
	}
	return interval
}
