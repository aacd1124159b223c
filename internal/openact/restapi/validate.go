package restapi

import (
	"fmt"

	"github.com/openact/openact/internal/openact/errs"
)

// validatePreflight runs the same structural (required-fields, declared
// "type") check the connector performs internally, but ahead of dispatch
// so ?validate=true can surface INVALID_INPUT before any upstream call is
// attempted.
func validatePreflight(schema map[string]any, input map[string]any) error {
	if schema == nil {
		return nil
	}
	required, _ := schema["required"].([]any)
	for _, r := range required {
		name, _ := r.(string)
		if name == "" {
			continue
		}
		if _, ok := input[name]; !ok {
			return errs.NewInvalidInput(fmt.Sprintf("restapi: missing required field %q", name))
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, propSchema := range properties {
		val, present := input[name]
		if !present {
			continue
		}
		propMap, ok := propSchema.(map[string]any)
		if !ok {
			continue
		}
		wantType, _ := propMap["type"].(string)
		if wantType == "" || matchesJSONType(val, wantType) {
			continue
		}
		return errs.NewInvalidInput(fmt.Sprintf("restapi: field %q must be type %q", name, wantType))
	}
	return nil
}

func matchesJSONType(val any, want string) bool {
	switch want {
	case "object":
		_, ok := val.(map[string]any)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	case "string":
		_, ok := val.(string)
		return ok
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "number":
		_, ok := val.(float64)
		return ok
	case "integer":
		f, ok := val.(float64)
		return ok && f == float64(int64(f))
	default:
		return true
	}
}
