package ai

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const assessmentSchemaURL = "https://gema.local/schemas/assessment.json"

const assessmentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["subjects"],
  "properties": {
    "subjects": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "sections"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "sections": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["title", "questions"],
              "properties": {
                "title": {"type": "string", "minLength": 1},
                "max_score": {"type": "number", "minimum": 0},
                "questions": {
                  "type": "array",
                  "minItems": 1,
                  "items": {
                    "type": "object",
                    "required": ["id", "question"],
                    "properties": {
                      "id": {"type": "string", "minLength": 1},
                      "question": {"type": "string", "minLength": 1},
                      "max_score": {"type": "number", "minimum": 0},
                      "difficulty": {"type": "string"}
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadAssessmentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString(assessmentSchemaURL, assessmentSchema)
	})
	return compiledSchema, schemaErr
}

// ValidateAssessment checks generated content against the subjects → sections → questions contract.
func ValidateAssessment(raw []byte) error {
	schema, err := loadAssessmentSchema()
	if err != nil {
		return fmt.Errorf("compile assessment schema: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse assessment json: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("assessment content invalid: %w", err)
	}
	return nil
}
