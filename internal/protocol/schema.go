package protocol

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed envelope.schema.json
var envelopeSchemaJSON []byte

const envelopeSchemaURL = "https://collab-canvas.local/schema/envelope.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func envelopeSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(envelopeSchemaURL, bytes.NewReader(envelopeSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile(envelopeSchemaURL)
	})
	return schema, schemaErr
}

// validateEnvelope checks the structural shape of a frame. Field-level
// semantics are left to the router.
func validateEnvelope(raw []byte) error {
	s, err := envelopeSchema()
	if err != nil {
		return err
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return err
	}
	return s.Validate(instance)
}
