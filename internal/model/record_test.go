package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductRecord_TextSize(t *testing.T) {
	rec := ProductRecord{Title: "Oak Desk", Description: "A desk."}
	assert.Equal(t, len("Oak Desk")+len("A desk."), rec.TextSize())

	assert.Zero(t, ProductRecord{}.TextSize())
}

func TestIngestedRecord_HasImage(t *testing.T) {
	rec := IngestedRecord{ImagePath: "/cache/images/sku-1.jpg"}
	assert.True(t, rec.HasImage())

	// An image_url that ingest could not resolve leaves the path empty.
	assert.False(t, IngestedRecord{ProductRecord: ProductRecord{ImageURL: "https://cdn.example.com/x.jpg"}}.HasImage())
}

func TestVisionObservation_TopLabel(t *testing.T) {
	obs := VisionObservation{
		Labels: []VisionLabel{
			{Name: "sofa", Confidence: 0.91},
			{Name: "cushion", Confidence: 0.44},
		},
	}

	top, ok := obs.TopLabel()
	require.True(t, ok)
	assert.Equal(t, "sofa", top.Name)
	assert.InDelta(t, 0.91, top.Confidence, 0.001)
}

func TestVisionObservation_TopLabelEmpty(t *testing.T) {
	_, ok := VisionObservation{}.TopLabel()
	assert.False(t, ok)
}
