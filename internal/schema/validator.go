// Package schema provides JSON schema validation for course content payloads.
// Payloads are checked before upload and again when read back from the blob store,
// so a malformed document never reaches a learner's quiz.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
)

// Document kinds with a registered schema.
const (
	KindContentPayload = "academy.course.content"
	KindReceiptLog     = "academy.receipts"
)

// SchemaVersions maps document kinds to their current schema versions.
var SchemaVersions = map[string]string{
	KindContentPayload: "1.0.0",
	KindReceiptLog:     "1.0.0",
}

// contentPayloadSchema encodes the payload invariants: every module has a video blob id,
// every question has exactly four non-empty options and a correct answer index in [0,4).
const contentPayloadSchema = `{
  "type": "object",
  "required": ["modules", "questions"],
  "properties": {
    "modules": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["title", "videoBlobId"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "videoBlobId": {"type": "string", "minLength": 1},
          "materials": {"type": "array", "items": {"$ref": "#/definitions/material"}}
        }
      }
    },
    "materials": {"type": "array", "items": {"$ref": "#/definitions/material"}},
    "questions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["question", "options", "correctAnswer"],
        "properties": {
          "question": {"type": "string", "minLength": 1},
          "options": {
            "type": "array",
            "minItems": 4,
            "maxItems": 4,
            "items": {"type": "string", "minLength": 1}
          },
          "correctAnswer": {"type": "integer", "minimum": 0, "maximum": 3}
        }
      }
    },
    "passingScore": {"type": "integer", "minimum": 0, "maximum": 100},
    "instructorName": {"type": "string"},
    "instructorAbout": {"type": "string"},
    "instructorContacts": {"type": "string"}
  },
  "definitions": {
    "material": {
      "type": "object",
      "required": ["name", "kind", "blobId"],
      "properties": {
        "name": {"type": "string"},
        "kind": {"type": "string", "enum": ["pdf", "word", "other"]},
        "blobId": {"type": "string", "minLength": 1}
      }
    }
  }
}`

// receiptLogSchema describes an exported receipt log document.
const receiptLogSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["digest"],
    "properties": {
      "digest": {"type": "string", "minLength": 1},
      "title": {"type": "string"},
      "description": {"type": "string"},
      "price": {"type": "integer", "minimum": 0},
      "videoBlobIds": {"type": ["array", "null"], "items": {"type": "string"}},
      "thumbnailBlobId": {"type": "string"},
      "courseDataBlobId": {"type": "string"},
      "courseId": {"type": "string"},
      "createdAt": {"type": "string"}
    }
  }
}`

// Validator validates documents against compiled JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema // Map of document kinds to compiled schemas
}

// NewValidator creates a validator with every supported schema compiled.
// Returns:
//   - *Validator: Initialized validator instance
//   - error: Any error that occurred during schema compilation
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}

	if err := v.loadSchema(KindContentPayload, contentPayloadSchema); err != nil {
		return nil, fmt.Errorf("failed to load content payload schema: %w", err)
	}
	if err := v.loadSchema(KindReceiptLog, receiptLogSchema); err != nil {
		return nil, fmt.Errorf("failed to load receipt log schema: %w", err)
	}
	return v, nil
}

// loadSchema parses and compiles a single schema.
func (v *Validator) loadSchema(kind, schemaJSON string) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", kind, err)
	}
	v.schemas[kind] = schema
	return nil
}

// ValidateBytes validates a raw JSON document of the given kind.
// Parameters:
//   - kind: The document kind (e.g., KindContentPayload)
//   - doc: The JSON document
//
// Returns:
//   - string: The schema version used for validation
//   - error: nil if valid, error with details if invalid
func (v *Validator) ValidateBytes(kind string, doc []byte) (string, error) {
	schema, exists := v.schemas[kind]
	if !exists {
		return "", fmt.Errorf("unsupported document kind: %s", kind)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return "", fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return "", fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}

	return SchemaVersions[kind], nil
}

// ValidatePayload validates a content payload before it is uploaded.
func (v *Validator) ValidatePayload(p *model.ContentPayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	_, err = v.ValidateBytes(KindContentPayload, raw)
	return err
}

// DecodePayload validates raw payload bytes and decodes them.
func (v *Validator) DecodePayload(raw []byte) (*model.ContentPayload, error) {
	if _, err := v.ValidateBytes(KindContentPayload, raw); err != nil {
		return nil, err
	}
	var p model.ContentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return &p, nil
}
