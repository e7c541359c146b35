package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// messageSchema is the JSON Schema enforced by StrictDecoder.
const messageSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"client_id": { "type": "string", "minLength": 1 },
		"msg_num":   { "type": "integer", "minimum": 1 },
		"timestamp": { "type": "number", "exclusiveMinimum": 0 },
		"data":      { "type": "string" }
	},
	"required": ["client_id", "msg_num", "timestamp", "data"],
	"additionalProperties": false
}`

// StrictDecoder validates payloads against the message JSON Schema before
// decoding them. It rejects extra fields and empty identifiers that Decode
// tolerates.
type StrictDecoder struct {
	schema *jsonschema.Schema
}

// NewStrictDecoder compiles the message schema.
func NewStrictDecoder() (*StrictDecoder, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("message.json", strings.NewReader(messageSchema)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	schema, err := compiler.Compile("message.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &StrictDecoder{schema: schema}, nil
}

// Decode validates raw and then decodes it.
func (d *StrictDecoder) Decode(raw []byte) (Message, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Message{}, fmt.Errorf("%w: invalid JSON: %v", ErrMalformed, err)
	}

	if err := d.schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return Message{}, fmt.Errorf("%w: %s", ErrMalformed, strings.Join(violations(verr), "; "))
		}
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return Decode(raw)
}

// violations flattens a validation error tree into leaf messages.
func violations(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, err.Message)}
	}

	var out []string
	for _, cause := range err.Causes {
		out = append(out, violations(cause)...)
	}
	return out
}
