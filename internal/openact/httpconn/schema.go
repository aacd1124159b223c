package httpconn

import (
	"fmt"

	"github.com/openact/openact/internal/openact/errs"
)

// validateAgainstSchema performs the structural, non-dialect-complete
// validation named in §1's Non-goals: required properties present, and
// declared "type" matching for string/number/integer/boolean/object/array.
// It deliberately does not implement the full JSON-Schema dialect (format,
// pattern, combinators, $ref).
func validateAgainstSchema(schema map[string]any, input map[string]any) error {
	required, _ := schema["required"].([]any)
	for _, r := range required {
		name, _ := r.(string)
		if name == "" {
			continue
		}
		if _, ok := input[name]; !ok {
			return errs.NewInvalidInput(fmt.Sprintf("httpconn: missing required field %q", name))
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
		if wantType == "" {
			continue
		}
		if !matchesType(val, wantType) {
			return errs.NewInvalidInput(fmt.Sprintf("httpconn: field %q must be type %q", name, wantType))
		}
	}
	return nil
}

func matchesType(val any, want string) bool {
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
