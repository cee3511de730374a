// Package vision abstracts the image-understanding model behind a small
// provider interface. The stub provider is fully deterministic (a hash of the
// image path drives labels, confidences, and quality flags) so the pipeline
// runs offline and tests are reproducible.
package vision

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/gatherhome/catalog-intel/internal/model"
)

// Provider turns a locally cached image into labels and a short description.
type Provider interface {
	// Observe returns labels and quality metadata for an image on disk.
	Observe(ctx context.Context, imagePath string) (model.VisionObservation, error)
	// Describe returns a one-line textual summary for an image reference.
	Describe(imageURL string) string
}

var defaultLabels = []string{
	"sofa",
	"sectional",
	"bed",
	"table",
	"chair",
	"lamp",
	"dresser",
	"rug",
	"desk",
	"bench",
}

var keywordHints = map[string]string{
	"sofa":  "Appears to be an upholstered sofa with neutral fabric.",
	"chair": "Looks like a single chair shot against a white backdrop.",
	"table": "A wooden table surface with clean lines is visible.",
	"lamp":  "A standing lamp with a cylindrical shade is shown.",
	"bed":   "An angled view of a neatly staged bed is visible.",
}

// hintOrder fixes iteration over keywordHints so Describe is deterministic.
var hintOrder = []string{"sofa", "chair", "table", "lamp", "bed"}

// StubProvider is the offline stand-in for a hosted vision model.
type StubProvider struct{}

// NewStub returns the deterministic stub provider.
func NewStub() *StubProvider { return &StubProvider{} }

// Observe derives three labels from a SHA-1 of the image path: label choice
// from the leading digest bytes, confidence in [0.55, 0.92] from the next
// bytes, and quality flags from the low digest bits. The image must exist on
// disk even though only its path feeds the hash.
func (p *StubProvider) Observe(_ context.Context, imagePath string) (model.VisionObservation, error) {
	if imagePath == "" {
		return model.VisionObservation{}, eris.New("vision: empty image path")
	}
	if _, err := os.Stat(imagePath); err != nil {
		return model.VisionObservation{}, eris.Wrapf(err, "vision: image %s", imagePath)
	}

	sum := sha1.Sum([]byte(imagePath))
	digest := hex.EncodeToString(sum[:])

	baseInt, err := strconv.ParseUint(digest[:8], 16, 64)
	if err != nil {
		return model.VisionObservation{}, eris.Wrap(err, "vision: parse digest")
	}
	confSeed, err := strconv.ParseUint(digest[8:16], 16, 64)
	if err != nil {
		return model.VisionObservation{}, eris.Wrap(err, "vision: parse digest")
	}

	return model.VisionObservation{
		Labels:       selectLabels(baseInt, confSeed),
		QualityFlags: qualityFlags(baseInt),
		TraceID:      digest[:12],
	}, nil
}

func selectLabels(baseInt, confSeed uint64) []model.VisionLabel {
	labels := make([]model.VisionLabel, 0, 3)
	total := uint64(len(defaultLabels))
	for idx := uint64(0); idx < 3; idx++ {
		labelIndex := (baseInt + idx*5) % total
		raw := (confSeed >> (idx * 5)) & 0xFF
		confidence := 0.55 + float64(raw%40)/100
		if confidence > 0.92 {
			confidence = 0.92
		}
		labels = append(labels, model.VisionLabel{
			Name:       defaultLabels[labelIndex],
			Confidence: confidence,
		})
	}
	return labels
}

func qualityFlags(baseInt uint64) []string {
	var flags []string
	if baseInt&0x1 != 0 {
		flags = append(flags, "blurry")
	}
	if baseInt&0x2 != 0 {
		flags = append(flags, "low_res")
	}
	if baseInt&0x4 != 0 {
		flags = append(flags, "dark")
	}
	return flags
}

// Describe matches known keywords in the image reference and falls back to a
// generic line.
func (p *StubProvider) Describe(imageURL string) string {
	slug := strings.ToLower(imageURL)
	for _, keyword := range hintOrder {
		if strings.Contains(slug, keyword) {
			return keywordHints[keyword]
		}
	}
	return "Generic catalog image with minimal visual cues."
}
