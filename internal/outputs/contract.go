package outputs

import (
	"bytes"
	_ "embed"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed prediction_event.schema.json
var eventSchemaJSON []byte

// eventSchema is compiled once at init; the schema ships with the binary so
// a contract drift is a build-time problem, not a runtime one.
var eventSchema = mustCompileEventSchema()

func mustCompileEventSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource("prediction_event.schema.json", bytes.NewReader(eventSchemaJSON)); err != nil {
		panic(err)
	}
	schema, err := c.Compile("prediction_event.schema.json")
	if err != nil {
		panic(err)
	}
	return schema
}

// ValidateEvent checks a serialized event against the embedded contract.
func ValidateEvent(payload []byte) error {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return eris.Wrap(err, "outputs: decode event payload")
	}
	if err := eventSchema.Validate(doc); err != nil {
		return eris.Wrap(err, "outputs: event violates contract")
	}
	return nil
}
