package policy

import (
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// planSchemaJSON gates plan files before the typed decode: a malformed file
// fails loudly at startup instead of silently weakening limits.
const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["plans"],
  "additionalProperties": false,
  "properties": {
    "plans": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "limits"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "limits": {
            "type": "object",
            "required": [
              "max_documents_per_month",
              "max_signers_per_document",
              "max_file_size_bytes",
              "allow_whatsapp"
            ],
            "additionalProperties": false,
            "properties": {
              "max_documents_per_month": {"type": "integer", "minimum": -1},
              "max_signers_per_document": {"type": "integer", "minimum": -1},
              "max_file_size_bytes": {"type": "integer", "minimum": -1},
              "allow_whatsapp": {"type": "boolean"}
            }
          },
          "rules": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name", "kind", "expr"],
              "additionalProperties": false,
              "properties": {
                "name": {"type": "string", "minLength": 1},
                "kind": {"enum": ["volume", "capability"]},
                "expr": {"type": "string", "minLength": 1},
                "message": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

var planSchema = jsonschema.MustCompileString("quill://plans.schema.json", planSchemaJSON)

type plansFile struct {
	Plans []PlanSpec `yaml:"plans"`
}

// LoadFile merges plan definitions from a YAML file over the built-ins.
func (e *Engine) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read plans file: %w", err)
	}
	if err := e.Load(data); err != nil {
		return fmt.Errorf("plans file %s: %w", path, err)
	}
	return nil
}

// Load validates data against the plan schema, compiles any custom rules,
// and only then swaps the definitions in.
func (e *Engine) Load(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if err := planSchema.Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	var f plansFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	// Compile custom rules up front so a bad expression cannot surface
	// mid-request later.
	for _, p := range f.Plans {
		for _, r := range p.Rules {
			if _, err := e.program(r.Expr); err != nil {
				return fmt.Errorf("plan %s rule %s: %w", p.Name, r.Name, err)
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range f.Plans {
		e.plans[strings.ToUpper(p.Name)] = p
	}
	return nil
}
