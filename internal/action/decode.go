package action

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/talgya/agora/internal/simerr"
)

//go:embed action.schema.json
var schemaJSON []byte

const schemaURL = "action.schema.json"

// Decoder turns raw JSON into a validated Action. It is the boundary
// check: anything it rejects never reaches the resolver.
type Decoder struct {
	schema *jsonschema.Schema
}

// NewDecoder compiles the embedded action schema.
func NewDecoder() (*Decoder, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("load action schema: %w", err)
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile action schema: %w", err)
	}
	return &Decoder{schema: s}, nil
}

// Decode validates raw against the schema, decodes it and runs the
// payload checks.
func (d *Decoder) Decode(raw []byte) (Action, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Action{}, simerr.Validation("malformed json: %v", err)
	}
	if err := d.schema.Validate(doc); err != nil {
		return Action{}, simerr.Validation("schema: %v", err)
	}
	var a Action
	if err := json.Unmarshal(raw, &a); err != nil {
		return Action{}, simerr.Validation("decode: %v", err)
	}
	if err := a.Validate(); err != nil {
		return Action{}, err
	}
	return a, nil
}

// DecodeBatch decodes a JSON array of actions. The first invalid element
// fails the whole batch.
func (d *Decoder) DecodeBatch(raw []byte) ([]Action, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, simerr.Validation("expected a json array: %v", err)
	}
	out := make([]Action, 0, len(items))
	for i, item := range items {
		a, err := d.Decode(item)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}
