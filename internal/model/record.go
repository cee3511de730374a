package model

// ProductRecord is one catalog item as submitted by the caller. Records are
// immutable once accepted; the pipeline works on derived copies.
type ProductRecord struct {
	ProductID   string `json:"product_id"`
	ImageURL    string `json:"image_url,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TextSize returns the guarded text length for admission checks.
func (r ProductRecord) TextSize() int {
	return len(r.Title) + len(r.Description)
}

// IngestedRecord is a ProductRecord after the ingest stage: text normalized,
// image reference resolved to a local cache path when one was given.
type IngestedRecord struct {
	ProductRecord
	NormalizedText string `json:"normalized_text"`
	ImagePath      string `json:"image_path,omitempty"`
	ImageFormat    string `json:"image_format,omitempty"`
}

// HasImage reports whether ingest resolved an image for this record.
func (r IngestedRecord) HasImage() bool {
	return r.ImagePath != ""
}

// VisionLabel is one label/confidence pair from the vision provider.
type VisionLabel struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// VisionObservation is the raw provider output for one image, before any
// attribute mapping.
type VisionObservation struct {
	Labels       []VisionLabel `json:"labels"`
	QualityFlags []string      `json:"quality_flags,omitempty"`
	TraceID      string        `json:"trace_id"`
}

// TopLabel returns the provider's lead label. Providers emit labels in rank
// order, so the first entry is the observation's primary subject.
func (o VisionObservation) TopLabel() (VisionLabel, bool) {
	if len(o.Labels) == 0 {
		return VisionLabel{}, false
	}
	return o.Labels[0], true
}
