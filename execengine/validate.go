package execengine

import (
	"fmt"
	"strconv"

	"github.com/enactprotocol/enact/errcode"
	"github.com/enactprotocol/enact/interp"
)

// validateInputs checks inputs against schema (a manifest or action's
// effective JSON-Schema-shaped input_schema, spec §4.I/§4.J) before
// interpolation: declared defaults are applied to absent properties,
// obvious scalar mismatches are coerced (a string "5" against a
// declared "integer" property, "true" against "boolean"), and anything
// left unsatisfiable is rejected with VALIDATION_ERROR rather than reaching
// the command template. A nil schema is a no-op -- inputs pass through
// exactly as bound by the caller.
func validateInputs(schema map[string]any, inputs map[string]interp.Input) (map[string]interp.Input, *errcode.Error) {
	if schema == nil {
		return inputs, nil
	}

	props, _ := schema["properties"].(map[string]any)
	required := stringSet(schema["required"])

	out := make(map[string]interp.Input, len(inputs))
	for name, in := range inputs {
		out[name] = in
	}

	var violations []string
	for name, rawProp := range props {
		prop, _ := rawProp.(map[string]any)
		in, bound := out[name]
		in.Required = required[name]

		if !bound || !in.Present {
			if def, ok := prop["default"]; ok {
				in = interp.Input{Value: def, Present: true, Required: in.Required}
				out[name] = in
				continue
			}
			out[name] = in
			if in.Required {
				violations = append(violations, fmt.Sprintf("%s: required and no default declared", name))
			}
			continue
		}

		coerced, err := coerceScalar(in.Value, prop["type"])
		if err != nil {
			violations = append(violations, fmt.Sprintf("%s: %s", name, err))
			continue
		}
		in.Value = coerced
		out[name] = in
	}

	if len(violations) > 0 {
		return nil, errcode.Newf(errcode.ValidationError, "input validation failed", map[string]any{"violations": violations})
	}
	return out, nil
}

// coerceScalar attempts to reconcile value with a declared JSON-Schema
// scalar type when the caller supplied the obvious stringly-typed or
// numeric equivalent. Anything already matching, or any type this function
// doesn't recognize, passes through unchanged.
func coerceScalar(value any, declaredType any) (any, error) {
	t, _ := declaredType.(string)
	switch t {
	case "integer":
		switch v := value.(type) {
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to integer", v)
			}
			return n, nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("%v is not a whole number", v)
			}
			return int64(v), nil
		}
	case "number":
		switch v := value.(type) {
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to number", v)
			}
			return f, nil
		}
	case "boolean":
		switch v := value.(type) {
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to boolean", v)
			}
			return b, nil
		}
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("%v", value), nil
		}
	}
	return value, nil
}

func stringSet(v any) map[string]bool {
	out := map[string]bool{}
	switch req := v.(type) {
	case []string:
		for _, s := range req {
			out[s] = true
		}
	case []any:
		for _, s := range req {
			if str, ok := s.(string); ok {
				out[str] = true
			}
		}
	}
	return out
}
