package validation

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ClassNameRegex validates traffic class names used as policy keys.
var ClassNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

const policySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["qos-policies:qos-policies"],
  "properties": {
    "qos-policies:qos-policies": {
      "type": "object",
      "required": ["policy"],
      "properties": {
        "policy": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["name", "priority", "bandwidth-limit"],
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "priority": {"type": "integer", "minimum": 0},
              "bandwidth-limit": {"type": "number", "minimum": 0}
            }
          }
        }
      }
    }
  }
}`

// PolicyValidator checks outbound policy documents before they leave the process.
type PolicyValidator struct {
	schema *jsonschema.Schema
}

// NewPolicyValidator compiles the built-in policy document schema.
func NewPolicyValidator() (*PolicyValidator, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(policySchema), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("policy.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := c.Compile("policy.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &PolicyValidator{schema: schema}, nil
}

// ValidateDocument validates an encoded policy document.
func (v *PolicyValidator) ValidateDocument(body []byte) error {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return fmt.Errorf("invalid JSON policy document: %w", err)
	}
	if err := v.schema.Validate(data); err != nil {
		return fmt.Errorf("policy validation failed: %s", err.Error())
	}
	return nil
}

// ValidateClassName validates a traffic class name
func ValidateClassName(name string) error {
	if name == "" {
		return fmt.Errorf("class name is required")
	}
	if !ClassNameRegex.MatchString(name) {
		return fmt.Errorf("invalid class name %q", name)
	}
	return nil
}
