package model

import (
	"errors"
	"fmt"
)

// Stage names one phase of a record's processing pipeline.
type Stage string

const (
	StageAdmission Stage = "admission"
	StageIngest    Stage = "ingest"
	StageEnrich    Stage = "enrich"
	StageVision    Stage = "vision"
	StageFuse      Stage = "fuse"
)

// ErrorType classifies a failure within its stage's taxonomy.
type ErrorType string

const (
	ErrRateLimited        ErrorType = "rate_limited"
	ErrBatchLimitExceeded ErrorType = "batch_limit_exceeded"
	ErrTextLimitExceeded  ErrorType = "text_limit_exceeded"
	ErrFetchFailed        ErrorType = "fetch_failed"
	ErrMalformedInput     ErrorType = "malformed_input"
	ErrUnreachable        ErrorType = "unreachable_resource"
	ErrTimeout            ErrorType = "timeout"
	ErrUnsupportedFormat  ErrorType = "unsupported_format"
)

// StagedError is a record failure attributed to the stage that raised it.
type StagedError struct {
	Stage   Stage
	Type    ErrorType
	Message string
	cause   error
}

// NewStagedError builds a StagedError with a literal message.
func NewStagedError(stage Stage, typ ErrorType, msg string) *StagedError {
	return &StagedError{Stage: stage, Type: typ, Message: msg}
}

// WrapStaged attributes an underlying error to a stage and error type,
// keeping the cause for diagnostics.
func WrapStaged(stage Stage, typ ErrorType, err error) *StagedError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &StagedError{Stage: stage, Type: typ, Message: msg, cause: err}
}

func (e *StagedError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %s", e.Stage, e.Type, e.Message)
}

func (e *StagedError) Unwrap() error { return e.cause }

// AsStaged extracts the StagedError from an error chain, if one is present.
func AsStaged(err error) (*StagedError, bool) {
	var staged *StagedError
	if errors.As(err, &staged) {
		return staged, true
	}
	return nil, false
}

// BatchError is the batch-level view of one failed item, positioned by its
// original input index.
type BatchError struct {
	Index     int       `json:"index"`
	ProductID string    `json:"product_id"`
	Stage     Stage     `json:"stage"`
	ErrorType ErrorType `json:"error_type"`
	Message   string    `json:"message"`
}

// BatchResult partitions the input indices of a batch: every index lands in
// exactly one of Items or Errors, each ordered by original input index.
type BatchResult struct {
	Items  []PredictionRecord `json:"items"`
	Errors []BatchError       `json:"errors"`
}

// Succeeded returns the number of fused records in the result.
func (r BatchResult) Succeeded() int { return len(r.Items) }

// Failed returns the number of per-item errors in the result.
func (r BatchResult) Failed() int { return len(r.Errors) }

// EnrichedItem carries one batch input's sanitized candidates on the
// enrich-only surface, positioned by its original input index.
type EnrichedItem struct {
	Index      int                  `json:"index"`
	ProductID  string               `json:"product_id"`
	Candidates []AttributeCandidate `json:"candidates"`
}

// EnrichBatchResult partitions the inputs of an enrich-only batch the same
// way BatchResult does for full predictions.
type EnrichBatchResult struct {
	Items  []EnrichedItem `json:"items"`
	Errors []BatchError   `json:"errors"`
}
