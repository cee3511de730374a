package outputs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventDoc(t *testing.T, mutate func(doc map[string]any)) []byte {
	t.Helper()
	payload, err := json.Marshal(BuildEvent(sampleRecord()))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(payload, &doc))
	if mutate != nil {
		mutate(doc)
	}
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	return out
}

func TestValidateEvent_AcceptsBuiltEvent(t *testing.T) {
	assert.NoError(t, ValidateEvent(eventDoc(t, nil)))
}

func TestValidateEvent_RejectsMissingProductID(t *testing.T) {
	payload := eventDoc(t, func(doc map[string]any) {
		delete(doc, "product_id")
	})
	assert.Error(t, ValidateEvent(payload))
}

func TestValidateEvent_RejectsWrongSource(t *testing.T) {
	payload := eventDoc(t, func(doc map[string]any) {
		doc["source"] = "legacy.api"
	})
	assert.Error(t, ValidateEvent(payload))
}

func TestValidateEvent_RejectsConfidenceOutOfRange(t *testing.T) {
	payload := eventDoc(t, func(doc map[string]any) {
		preds := doc["predictions"].(map[string]any)
		category := preds["category"].(map[string]any)
		category["confidence"] = 1.5
	})
	assert.Error(t, ValidateEvent(payload))
}

func TestValidateEvent_RejectsUnknownAttributeName(t *testing.T) {
	payload := eventDoc(t, func(doc map[string]any) {
		preds := doc["predictions"].(map[string]any)
		preds["colour"] = map[string]any{
			"value":        "Blue",
			"confidence":   0.5,
			"extracted_by": "rules",
		}
	})
	assert.Error(t, ValidateEvent(payload))
}

func TestValidateEvent_RejectsUnknownExtractorTag(t *testing.T) {
	payload := eventDoc(t, func(doc map[string]any) {
		preds := doc["predictions"].(map[string]any)
		category := preds["category"].(map[string]any)
		category["extracted_by"] = "oracle"
	})
	assert.Error(t, ValidateEvent(payload))
}

func TestValidateEvent_RejectsMalformedJSON(t *testing.T) {
	assert.Error(t, ValidateEvent([]byte("{")))
}
