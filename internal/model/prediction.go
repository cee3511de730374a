package model

import "time"

// FusedAttribute is the final reconciled value for one attribute of one
// record. Absent from a PredictionRecord when no source produced a candidate.
type FusedAttribute struct {
	Value       string   `json:"value"`
	Confidence  float64  `json:"confidence"`
	ExtractedBy string   `json:"extracted_by"`
	Evidence    []string `json:"evidence,omitempty"`
}

// Conflict records a candidate the fusion engine rejected in favor of a
// stronger one.
type Conflict struct {
	Source     Source  `json:"source"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// DecisionLogEntry explains how one attribute's final value was chosen.
type DecisionLogEntry struct {
	AttributeName     Attribute  `json:"attribute_name"`
	SourcesConsidered []Source   `json:"sources_considered"`
	ChosenSource      string     `json:"chosen_source"`
	Reason            string     `json:"reason"`
	Conflicts         []Conflict `json:"conflicts"`
}

// StageTimings holds per-stage wall-clock durations for one record, in
// milliseconds. Logged for diagnostics; not part of the published event.
type StageTimings struct {
	IngestMS int64 `json:"ingest_ms"`
	EnrichMS int64 `json:"enrich_ms"`
	VisionMS int64 `json:"vision_ms"`
	FuseMS   int64 `json:"fuse_ms"`
}

// PredictionRecord is the fusion engine's output for one record: the final
// predictions plus the audit trail. final_predictions and decision_log always
// share the same key set.
type PredictionRecord struct {
	ProductID        string                         `json:"product_id"`
	Title            string                         `json:"title"`
	FinalPredictions map[Attribute]FusedAttribute   `json:"final_predictions"`
	DecisionLog      map[Attribute]DecisionLogEntry `json:"decision_log"`
	Timings          StageTimings                   `json:"-"`
}

// AttributePrediction is the slim per-attribute view carried on published
// events.
type AttributePrediction struct {
	Value       string  `json:"value"`
	Confidence  float64 `json:"confidence"`
	ExtractedBy string  `json:"extracted_by"`
}

// PredictionEvent is the payload appended to the event stream for one
// successfully fused record.
type PredictionEvent struct {
	EventID     string                            `json:"event_id"`
	EventTS     time.Time                         `json:"event_ts"`
	Source      string                            `json:"source"`
	Version     string                            `json:"version"`
	ProductID   string                            `json:"product_id"`
	Predictions map[Attribute]AttributePrediction `json:"predictions"`
	DecisionLog map[Attribute]DecisionLogEntry    `json:"decision_log"`
}
