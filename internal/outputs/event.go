// Package outputs turns fused prediction records into versioned events and
// delivers them to a publish sink. Delivery sits off the request path: a
// failed publish is logged, never surfaced to the pipeline caller.
package outputs

import (
	"time"

	"github.com/google/uuid"

	"github.com/gatherhome/catalog-intel/internal/model"
)

const (
	// EventSource identifies this service on every published event.
	EventSource = "catalog-intel.api"

	// EventVersion is the contract version stamped on events; bump it with
	// the embedded schema.
	EventVersion = "v1"

	// DefaultTopic is the topic events land on unless configured otherwise.
	DefaultTopic = "catalog.predictions.v1"
)

// BuildEvent stamps a prediction record into a publishable event with a
// fresh event id and a UTC timestamp.
func BuildEvent(rec model.PredictionRecord) model.PredictionEvent {
	return buildEventAt(rec, uuid.NewString(), time.Now())
}

func buildEventAt(rec model.PredictionRecord, eventID string, now time.Time) model.PredictionEvent {
	predictions := make(map[model.Attribute]model.AttributePrediction, len(rec.FinalPredictions))
	for attr, fused := range rec.FinalPredictions {
		predictions[attr] = model.AttributePrediction{
			Value:       fused.Value,
			Confidence:  fused.Confidence,
			ExtractedBy: fused.ExtractedBy,
		}
	}
	return model.PredictionEvent{
		EventID:     eventID,
		EventTS:     now.UTC().Truncate(time.Second),
		Source:      EventSource,
		Version:     EventVersion,
		ProductID:   rec.ProductID,
		Predictions: predictions,
		DecisionLog: rec.DecisionLog,
	}
}
