package validator

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Schemas check presence and type only. Ranges and enums are checked in Go
// and Rego so one bad value yields exactly one error.
const definitions = `{
  "citation": {
    "type": "object",
    "required": ["call_id", "endpoint"],
    "properties": {
      "call_id": {"type": "string"},
      "endpoint": {"type": "string"}
    }
  },
  "source": {
    "type": "object",
    "required": ["name", "type"],
    "properties": {
      "name": {"type": "string"},
      "type": {"type": "string"},
      "call_id": {"type": "string"}
    }
  },
  "dependency": {
    "type": "object",
    "required": ["endpoint", "call_id", "status"],
    "properties": {
      "endpoint": {"type": "string"},
      "call_id": {"type": "string"},
      "status": {"type": "string"}
    }
  },
  "evidence_chain": {
    "type": "object",
    "required": ["request_id", "event_id", "finding_id", "call_ids", "is_complete", "missing_links"],
    "properties": {
      "request_id": {"type": "string"},
      "event_id": {"type": "string"},
      "finding_id": {"type": "string"},
      "correlation_id": {"type": "string"},
      "call_ids": {"type": "array", "items": {"type": "string"}},
      "is_complete": {"type": "boolean"},
      "missing_links": {"type": "array", "items": {"type": "string"}}
    }
  },
  "action": {
    "type": "object",
    "required": [
      "action", "target", "reason", "risk_reduction", "confidence", "priority",
      "approval_required", "blast_radius", "impact_level", "evidence_count",
      "evidence_call_ids", "is_valid", "validation_errors"
    ],
    "properties": {
      "action": {"type": "string"},
      "target": {"type": "string"},
      "reason": {"type": "string"},
      "risk_reduction": {"type": "number"},
      "confidence": {"type": "number"},
      "priority": {"type": "string"},
      "approval_required": {"type": "boolean"},
      "blast_radius": {"type": "string"},
      "impact_level": {"type": "string"},
      "evidence_count": {"type": "number"},
      "evidence_call_ids": {"type": "array", "items": {"type": "string"}},
      "is_valid": {"type": "boolean"},
      "validation_errors": {"type": "array", "items": {"type": "string"}},
      "evidence_required": {"type": "object"}
    }
  }
}`

const chatSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "chat response",
  "type": "object",
  "required": ["request_id", "answer", "confidence", "citations", "sources", "data_dependencies", "evidence_chain"],
  "properties": {
    "request_id": {"type": "string"},
    "answer": {"type": "string"},
    "confidence": {"type": "number"},
    "citations": {"type": "array", "items": {"$ref": "#/definitions/citation"}},
    "sources": {"type": "array", "items": {"$ref": "#/definitions/source"}},
    "data_dependencies": {"type": "array", "items": {"$ref": "#/definitions/dependency"}},
    "evidence_chain": {"$ref": "#/definitions/evidence_chain"}
  },
  "definitions": %s
}`

const adviseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "advise response",
  "type": "object",
  "required": ["request_id", "summary", "confidence", "recommended_actions", "citations", "evidence_chain"],
  "properties": {
    "request_id": {"type": "string"},
    "summary": {"type": "string"},
    "confidence": {"type": "number"},
    "recommended_actions": {"type": "array", "items": {"$ref": "#/definitions/action"}},
    "rejected_actions": {"type": "array", "items": {"$ref": "#/definitions/action"}},
    "citations": {"type": "array", "items": {"$ref": "#/definitions/citation"}},
    "sources": {"type": "array", "items": {"$ref": "#/definitions/source"}},
    "data_dependencies": {"type": "array", "items": {"$ref": "#/definitions/dependency"}},
    "evidence_chain": {"$ref": "#/definitions/evidence_chain"}
  },
  "definitions": %s
}`

func compileSchema(tmpl string) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(fmt.Sprintf(tmpl, definitions)))
}

// checkSchema returns one error per schema violation, in gojsonschema order.
func checkSchema(schema *gojsonschema.Schema, doc map[string]any) ([]string, error) {
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("running schema validation: %w", err)
	}
	var errs []string
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}
