package execengine

import (
	"testing"

	"github.com/enactprotocol/enact/errcode"
	"github.com/enactprotocol/enact/interp"
)

func TestValidateInputs_NilSchemaPassesThrough(t *testing.T) {
	inputs := map[string]interp.Input{"msg": {Value: "hi", Present: true}}
	out, err := validateInputs(nil, inputs)
	if err != nil {
		t.Fatalf("validateInputs: %v", err)
	}
	if out["msg"].Value != "hi" {
		t.Fatalf("got %v", out)
	}
}

func TestValidateInputs_AppliesDefault(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"type": "integer", "default": float64(3)},
		},
	}
	out, err := validateInputs(schema, map[string]interp.Input{})
	if err != nil {
		t.Fatalf("validateInputs: %v", err)
	}
	if out["count"].Value != float64(3) || !out["count"].Present {
		t.Fatalf("got %+v, want default applied", out["count"])
	}
}

func TestValidateInputs_CoercesStringToInteger(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
		},
	}
	out, err := validateInputs(schema, map[string]interp.Input{"count": {Value: "5", Present: true}})
	if err != nil {
		t.Fatalf("validateInputs: %v", err)
	}
	if out["count"].Value != int64(5) {
		t.Fatalf("got %v, want int64(5)", out["count"].Value)
	}
}

func TestValidateInputs_RequiredMissingWithNoDefaultIsValidationError(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []any{"name"},
	}
	_, err := validateInputs(schema, map[string]interp.Input{})
	if err == nil || err.Code != errcode.ValidationError {
		t.Fatalf("got %v, want VALIDATION_ERROR", err)
	}
}

func TestValidateInputs_UncoercibleScalarIsValidationError(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
		},
	}
	_, err := validateInputs(schema, map[string]interp.Input{"count": {Value: "not-a-number", Present: true}})
	if err == nil || err.Code != errcode.ValidationError {
		t.Fatalf("got %v, want VALIDATION_ERROR", err)
	}
}
