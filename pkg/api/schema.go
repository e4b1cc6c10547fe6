package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxBodyBytes = 64 << 10

// Either action_type or user_input must carry text; both are optional on
// their own.
const describedAction = `"anyOf": [
    {"required": ["action_type"], "properties": {"action_type": {"pattern": "\\S"}}},
    {"required": ["user_input"], "properties": {"user_input": {"pattern": "\\S"}}}
  ]`

const classifySchema = `{
  "type": "object",
  "properties": {
    "action_type": {"type": "string", "maxLength": 128},
    "user_input": {"type": "string", "maxLength": 4096},
    "estimated_spend": {"type": "number", "minimum": 0}
  },
  ` + describedAction + `,
  "additionalProperties": false
}`

const proposalSchema = `{
  "type": "object",
  "properties": {
    "action_type": {"type": "string", "maxLength": 128},
    "user_input": {"type": "string", "maxLength": 4096},
    "estimated_spend": {"type": "number", "minimum": 0},
    "message": {"type": "string", "maxLength": 8192},
    "context": {"type": "object"}
  },
  ` + describedAction + `,
  "additionalProperties": false
}`

const vocabularySchema = `{
  "type": "object",
  "required": ["text"],
  "properties": {"text": {"type": "string", "maxLength": 8192}},
  "additionalProperties": false
}`

const declineSchema = `{
  "type": "object",
  "properties": {"reason": {"type": "string", "maxLength": 1024}},
  "additionalProperties": false
}`

const frictionSchema = `{
  "type": "object",
  "required": ["phase"],
  "properties": {"phase": {"enum": ["phase_1", "phase_2", "phase_3"]}},
  "additionalProperties": false
}`

var (
	schemaClassify   = mustCompile("classify", classifySchema)
	schemaProposal   = mustCompile("proposal", proposalSchema)
	schemaVocabulary = mustCompile("vocabulary", vocabularySchema)
	schemaDecline    = mustCompile("decline", declineSchema)
	schemaFriction   = mustCompile("friction", frictionSchema)
)

func mustCompile(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://civos.schemas.local/api/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return c.MustCompile(url)
}

var errEmptyBody = errors.New("request body is required")

// decodeValid reads the body, validates it against schema and decodes it into dst.
// An empty body is treated as {} when allowEmpty is set.
func decodeValid(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any, allowEmpty bool) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		if !allowEmpty {
			return errEmptyBody
		}
		data = []byte("{}")
	}

	// The validator wants numbers as json.Number so large or precise values
	// are compared exactly.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON: trailing data after document")
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
