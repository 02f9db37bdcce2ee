package action

import (
	"encoding/json"
	"fmt"
	"strings"

	invopop "github.com/invopop/jsonschema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/catalyst/pkg/schema"
)

// inputValidator validates raw JSON input against a compiled JSON Schema.
type inputValidator struct {
	compiled *jsonschema.Schema
}

// compileValidator compiles an inferred schema for runtime validation.
// A nil schema disables validation and yields a nil validator.
func compileValidator(s *invopop.Schema) (*inputValidator, error) {
	if s == nil {
		return nil, nil
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	const url = "catalyst://action-input-schema"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &inputValidator{compiled: compiled}, nil
}

// Validate checks raw JSON input against the schema. The input is decoded
// with jsonschema.UnmarshalJSON so numbers become json.Number, as the
// library requires.
func (v *inputValidator) Validate(input json.RawMessage) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(input)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "input is not valid JSON").
			WithCause(err)
	}
	if err := v.compiled.Validate(doc); err != nil {
		return toCatalystError(err)
	}
	return nil
}

// toCatalystError converts a jsonschema.ValidationError into a CatalystError
// with clear, actionable messages.
func toCatalystError(err error) *schema.CatalystError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("input validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
