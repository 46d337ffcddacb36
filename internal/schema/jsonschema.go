package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/itsthedevman/esm-arma/internal/protocol"
)

const (
	draft2020   = "https://json-schema.org/draft/2020-12/schema"
	envelopeURL = "esm://frames/request.schema.json"
)

func messageURL(name string) string { return "esm://messages/" + name + ".schema.json" }

func paramSchema(t protocol.ParamType) map[string]any {
	switch t {
	case protocol.ParamString:
		return map[string]any{"type": "string"}
	case protocol.ParamScalar:
		return map[string]any{"type": "number"}
	case protocol.ParamBool:
		return map[string]any{"type": "boolean"}
	case protocol.ParamArray:
		return map[string]any{"type": "array"}
	case protocol.ParamObject:
		return map[string]any{
			"type":       "object",
			"required":   []string{"net_id"},
			"properties": map[string]any{"net_id": map[string]any{"type": "string"}},
		}
	default:
		return map[string]any{"not": map[string]any{}}
	}
}

// JSONSchema renders the positional parameter list of a message as a
// draft 2020-12 schema for a fixed-length JSON array.
func (r *Registry) JSONSchema(name string) ([]byte, error) {
	m, ok := r.byName[name]
	if !ok {
		return nil, &Error{Kind: UnknownMessage, Message: name, Index: -1}
	}
	items := make([]any, 0, len(m.Params))
	for _, p := range m.Params {
		s := paramSchema(p.Type)
		s["title"] = p.Name
		items = append(items, s)
	}
	doc := map[string]any{
		"$schema":  draft2020,
		"$id":      messageURL(name),
		"title":    name,
		"type":     "array",
		"minItems": len(m.Params),
		"maxItems": len(m.Params),
		"items":    false,
	}
	if len(items) > 0 {
		doc["prefixItems"] = items
	}
	return json.MarshalIndent(doc, "", "  ")
}

func envelopeSchema() string {
	return `{
  "$schema": "` + draft2020 + `",
  "$id": "` + envelopeURL + `",
  "type": "object",
  "required": ["type", "protocol_version", "id", "name", "params"],
  "properties": {
    "type": {"const": "` + protocol.TypeRequest + `"},
    "protocol_version": {"type": "string"},
    "id": {"type": "string", "minLength": 1, "maxLength": 64},
    "name": {"type": "string", "minLength": 1, "maxLength": 128},
    "params": {"type": "array", "maxItems": 32}
  }
}`
}

// Compiled holds the JSON Schemas of the request envelope and of every
// declared message, ready for validating raw decoded JSON.
type Compiled struct {
	envelope *jsonschema.Schema
	messages map[string]*jsonschema.Schema
}

func (r *Registry) Compile() (*Compiled, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(envelopeURL, strings.NewReader(envelopeSchema())); err != nil {
		return nil, fmt.Errorf("schema: envelope: %w", err)
	}
	for _, name := range r.names {
		doc, err := r.JSONSchema(name)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(messageURL(name), strings.NewReader(string(doc))); err != nil {
			return nil, fmt.Errorf("schema: %s: %w", name, err)
		}
	}
	out := &Compiled{messages: make(map[string]*jsonschema.Schema, len(r.names))}
	env, err := c.Compile(envelopeURL)
	if err != nil {
		return nil, fmt.Errorf("schema: compile envelope: %w", err)
	}
	out.envelope = env
	for _, name := range r.names {
		s, err := c.Compile(messageURL(name))
		if err != nil {
			return nil, fmt.Errorf("schema: compile %s: %w", name, err)
		}
		out.messages[name] = s
	}
	return out, nil
}

// ValidateFrame checks the shape of a decoded REQUEST frame.
func (c *Compiled) ValidateFrame(frame any) error {
	return c.envelope.Validate(frame)
}

// ValidateParams checks decoded positional params for a message.
func (c *Compiled) ValidateParams(name string, params any) error {
	s, ok := c.messages[name]
	if !ok {
		return &Error{Kind: UnknownMessage, Message: name, Index: -1}
	}
	return s.Validate(params)
}

// ValidateValues encodes values to their wire form and validates them.
func (c *Compiled) ValidateValues(name string, values []protocol.Value) error {
	if values == nil {
		values = []protocol.Value{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return err
	}
	return c.ValidateParams(name, decoded)
}
