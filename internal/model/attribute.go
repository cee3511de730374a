package model

// Attribute names a merchandising attribute the extractors can propose values
// for.
type Attribute string

const (
	AttrCategory   Attribute = "category"
	AttrRoomType   Attribute = "room_type"
	AttrStyle      Attribute = "style"
	AttrMaterial   Attribute = "material"
	AttrDimensions Attribute = "dimensions"
)

// Source identifies which modality produced a candidate.
type Source string

const (
	SourceText   Source = "text"
	SourceVision Source = "vision"
)

// Extractor tags carried on candidates and surfaced in decision logs. The tag
// names the concrete extractor, the Source names the modality.
const (
	ExtractedByLLMStub    = "llm_stub"
	ExtractedByRules      = "rules"
	ExtractedByVisionStub = "vision_stub"
	ExtractedByMerged     = "merged"
)

// AttributeCandidate is one value proposed by one extractor call, with the
// confidence and evidence that back it. Never mutated after creation.
type AttributeCandidate struct {
	AttributeName Attribute `json:"attribute_name"`
	Value         string    `json:"value"`
	Confidence    float64   `json:"confidence"`
	Source        Source    `json:"source"`
	ExtractedBy   string    `json:"extracted_by"`
	Evidence      []string  `json:"evidence,omitempty"`
}
