// Package extract holds the attribute extractors: the lexicon-driven text
// extractor, the rule-based dimensions extractor, and the vision mapper that
// turns provider observations into candidates. Extractors are deterministic
// and side-effect free; each candidate they emit carries the extractor's own
// tag so downstream decisions stay auditable.
package extract

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/gatherhome/catalog-intel/internal/model"
)

// Extractor proposes attribute candidates for one ingested record. An
// extractor emits no candidate for an attribute it has no signal for.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, rec *model.IngestedRecord) ([]model.AttributeCandidate, error)
}

// Sentinel causes for extractor failures; the pipeline classifies on these.
var (
	ErrMalformedInput = eris.New("extract: malformed input")
	ErrUnreachable    = eris.New("extract: unreachable resource")
)

// Classify maps an extractor error onto the stage error taxonomy.
func Classify(err error) model.ErrorType {
	if errors.Is(err, ErrUnreachable) {
		return model.ErrUnreachable
	}
	return model.ErrMalformedInput
}

// Sanitize drops empty-valued candidates and clamps confidences into [0,1].
// Fusion assumes well-formed candidates; this is the boundary that makes the
// assumption hold.
func Sanitize(candidates []model.AttributeCandidate) []model.AttributeCandidate {
	out := candidates[:0]
	for _, c := range candidates {
		if c.Value == "" {
			continue
		}
		if c.Confidence < 0 {
			c.Confidence = 0
		}
		if c.Confidence > 1 {
			c.Confidence = 1
		}
		out = append(out, c)
	}
	return out
}
