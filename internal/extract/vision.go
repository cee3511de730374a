package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/gatherhome/catalog-intel/internal/model"
	"github.com/gatherhome/catalog-intel/internal/vision"
)

const visionUnknownConfidence = 0.35

var visionCategoryMap = map[string]string{
	"sofa":      "Sofa",
	"sectional": "Sectional",
	"bed":       "Bed",
	"table":     "Table",
	"chair":     "Chair",
	"lamp":      "Lighting",
	"dresser":   "Dresser",
	"rug":       "Rug",
	"desk":      "Desk",
	"bench":     "Bench",
}

var visionRoomMap = map[string]string{
	"sofa":      "Living Room",
	"sectional": "Living Room",
	"bed":       "Bedroom",
	"table":     "Dining Room",
	"lamp":      "Living Room",
	"rug":       "Living Room",
	"desk":      "Home Office",
	"bench":     "Entryway",
}

// VisionExtractor runs the vision provider over the record's cached image and
// maps the lead label into category and room candidates. Records without an
// image produce no candidates.
type VisionExtractor struct {
	provider vision.Provider
}

// NewVisionExtractor wraps a vision provider as an extractor.
func NewVisionExtractor(provider vision.Provider) *VisionExtractor {
	return &VisionExtractor{provider: provider}
}

func (e *VisionExtractor) Name() string { return "vision" }

// Extract observes the image and maps its lead label. A category is always
// proposed when an observation exists (unknown at low confidence if the label
// has no mapping); a room is proposed only when the label implies one.
func (e *VisionExtractor) Extract(ctx context.Context, rec *model.IngestedRecord) ([]model.AttributeCandidate, error) {
	if rec == nil {
		return nil, eris.Wrap(ErrMalformedInput, "extract: nil record")
	}
	if !rec.HasImage() {
		return nil, nil
	}

	obs, err := e.provider.Observe(ctx, rec.ImagePath)
	if err != nil {
		return nil, eris.Wrapf(ErrUnreachable, "extract: observe %s: %v", rec.ImagePath, err)
	}

	top, ok := obs.TopLabel()
	if !ok {
		return []model.AttributeCandidate{unknownVisionCandidate()}, nil
	}

	var flagEvidence string
	if len(obs.QualityFlags) > 0 {
		flagEvidence = "quality flags: " + strings.Join(obs.QualityFlags, ", ")
	}

	var out []model.AttributeCandidate
	if label, ok := visionCategoryMap[strings.ToLower(top.Name)]; ok {
		out = append(out, visionCandidate(model.AttrCategory, label, top, flagEvidence))
	} else {
		out = append(out, unknownVisionCandidate())
	}
	if label, ok := visionRoomMap[strings.ToLower(top.Name)]; ok {
		out = append(out, visionCandidate(model.AttrRoomType, label, top, flagEvidence))
	}

	return out, nil
}

func visionCandidate(attr model.Attribute, label string, top model.VisionLabel, flagEvidence string) model.AttributeCandidate {
	evidence := []string{fmt.Sprintf("vision label: %s (%s)", label, top.Name)}
	if flagEvidence != "" {
		evidence = append(evidence, flagEvidence)
	}
	return model.AttributeCandidate{
		AttributeName: attr,
		Value:         label,
		Confidence:    top.Confidence,
		Source:        model.SourceVision,
		ExtractedBy:   model.ExtractedByVisionStub,
		Evidence:      evidence,
	}
}

func unknownVisionCandidate() model.AttributeCandidate {
	return model.AttributeCandidate{
		AttributeName: model.AttrCategory,
		Value:         "unknown",
		Confidence:    visionUnknownConfidence,
		Source:        model.SourceVision,
		ExtractedBy:   model.ExtractedByVisionStub,
	}
}
