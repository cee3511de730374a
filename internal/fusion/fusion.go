// Package fusion reconciles per-attribute candidates from the text and vision
// modalities into final predictions with an auditable decision log. Fuse is a
// pure function: no IO, deterministic output for a given candidate set, and it
// never fails. Candidate sanitation (confidence clamping, empty values) is the
// caller's job.
package fusion

import (
	"sort"
	"strings"

	"github.com/gatherhome/catalog-intel/internal/model"
)

const (
	reasonOnlyModality = "only modality produced a value"
	reasonAgreement    = "Text and vision agreed on the attribute value."
	reasonDisagreement = "Confidence comparison resolved a disagreement between modalities."
)

// Fuse merges the candidate set for one record into a PredictionRecord.
// Attributes are evaluated in name order so the decision log is reproducible.
// An attribute with no candidates is omitted from both maps.
func Fuse(productID, title string, candidates []model.AttributeCandidate) model.PredictionRecord {
	rec := model.PredictionRecord{
		ProductID:        productID,
		Title:            title,
		FinalPredictions: make(map[model.Attribute]model.FusedAttribute),
		DecisionLog:      make(map[model.Attribute]model.DecisionLogEntry),
	}

	byAttr := make(map[model.Attribute][]model.AttributeCandidate)
	for _, c := range candidates {
		byAttr[c.AttributeName] = append(byAttr[c.AttributeName], c)
	}

	names := make([]model.Attribute, 0, len(byAttr))
	for name := range byAttr {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	for _, name := range names {
		text, hasText := bestForSource(byAttr[name], model.SourceText)
		vision, hasVision := bestForSource(byAttr[name], model.SourceVision)

		switch {
		case hasText && hasVision:
			if sameValue(text.Value, vision.Value) {
				rec.FinalPredictions[name], rec.DecisionLog[name] = mergeAgreement(name, text, vision)
			} else {
				rec.FinalPredictions[name], rec.DecisionLog[name] = resolveDisagreement(name, text, vision)
			}
		case hasText:
			rec.FinalPredictions[name], rec.DecisionLog[name] = passThrough(name, text)
		case hasVision:
			rec.FinalPredictions[name], rec.DecisionLog[name] = passThrough(name, vision)
		}
	}

	return rec
}

// bestForSource picks the highest-confidence candidate a source produced for
// one attribute. Extractors normally emit at most one; extras lose silently.
func bestForSource(candidates []model.AttributeCandidate, src model.Source) (model.AttributeCandidate, bool) {
	var best model.AttributeCandidate
	found := false
	for _, c := range candidates {
		if c.Source != src {
			continue
		}
		if !found || c.Confidence > best.Confidence {
			best = c
			found = true
		}
	}
	return best, found
}

// sameValue compares candidate values case-insensitively after trimming.
func sameValue(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// passThrough adopts the only modality's candidate unchanged.
func passThrough(name model.Attribute, c model.AttributeCandidate) (model.FusedAttribute, model.DecisionLogEntry) {
	fused := model.FusedAttribute{
		Value:       c.Value,
		Confidence:  c.Confidence,
		ExtractedBy: c.ExtractedBy,
		Evidence:    append([]string(nil), c.Evidence...),
	}
	entry := model.DecisionLogEntry{
		AttributeName:     name,
		SourcesConsidered: []model.Source{c.Source},
		ChosenSource:      string(c.Source),
		Reason:            reasonOnlyModality,
		Conflicts:         []model.Conflict{},
	}
	return fused, entry
}

// mergeAgreement combines two agreeing candidates. Confidence is the
// probabilistic OR of the two independent signals; the text candidate
// supplies the surface form and leads the evidence.
func mergeAgreement(name model.Attribute, text, vision model.AttributeCandidate) (model.FusedAttribute, model.DecisionLogEntry) {
	combined := clamp01(1 - (1-text.Confidence)*(1-vision.Confidence))

	evidence := make([]string, 0, len(text.Evidence)+len(vision.Evidence))
	evidence = append(evidence, text.Evidence...)
	evidence = append(evidence, vision.Evidence...)

	fused := model.FusedAttribute{
		Value:       text.Value,
		Confidence:  combined,
		ExtractedBy: model.ExtractedByMerged,
		Evidence:    evidence,
	}
	entry := model.DecisionLogEntry{
		AttributeName:     name,
		SourcesConsidered: []model.Source{model.SourceText, model.SourceVision},
		ChosenSource:      model.ExtractedByMerged,
		Reason:            reasonAgreement,
		Conflicts:         []model.Conflict{},
	}
	return fused, entry
}

// resolveDisagreement picks the strictly more confident candidate; ties go to
// the text source. The loser is preserved in the conflict list.
func resolveDisagreement(name model.Attribute, text, vision model.AttributeCandidate) (model.FusedAttribute, model.DecisionLogEntry) {
	winner, loser := text, vision
	if vision.Confidence > text.Confidence {
		winner, loser = vision, text
	}

	fused := model.FusedAttribute{
		Value:       winner.Value,
		Confidence:  winner.Confidence,
		ExtractedBy: winner.ExtractedBy,
		Evidence:    append([]string(nil), winner.Evidence...),
	}
	entry := model.DecisionLogEntry{
		AttributeName:     name,
		SourcesConsidered: []model.Source{model.SourceText, model.SourceVision},
		ChosenSource:      winner.ExtractedBy,
		Reason:            reasonDisagreement,
		Conflicts: []model.Conflict{{
			Source:     loser.Source,
			Value:      loser.Value,
			Confidence: loser.Confidence,
		}},
	}
	return fused, entry
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
