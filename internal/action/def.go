package action

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/rendis/catalyst/pkg/schema"
)

// Func is the implementation of a typed action.
type Func[In, Out any] func(ctx context.Context, input In) (Out, error)

// Def is a typed action definition. Input and output JSON Schemas are
// inferred from the type parameters; JSON input is validated against the
// inferred schema before the function runs.
type Def[In, Out any] struct {
	name     string
	atype    schema.ActionType
	desc     string
	metadata map[string]any
	fn       Func[In, Out]

	inputSchema  *jsonschema.Schema
	outputSchema *jsonschema.Schema

	compileOnce sync.Once
	validator   *inputValidator
	compileErr  error
}

// Option configures a Def.
type Option func(*defConfig)

type defConfig struct {
	description string
	metadata    map[string]any
}

// WithDescription sets the human-readable description.
func WithDescription(desc string) Option {
	return func(c *defConfig) { c.description = desc }
}

// WithMetadata attaches free-form metadata to the definition.
func WithMetadata(md map[string]any) Option {
	return func(c *defConfig) { c.metadata = md }
}

// New creates a typed action definition.
func New[In, Out any](atype schema.ActionType, name string, fn Func[In, Out], opts ...Option) *Def[In, Out] {
	var cfg defConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Def[In, Out]{
		name:         name,
		atype:        atype,
		desc:         cfg.description,
		metadata:     cfg.metadata,
		fn:           fn,
		inputSchema:  inferSchema[In](),
		outputSchema: inferSchema[Out](),
	}
}

func (d *Def[In, Out]) Name() string            { return d.name }
func (d *Def[In, Out]) Type() schema.ActionType { return d.atype }

// Desc describes the definition; Key is left for the registry to fill.
func (d *Def[In, Out]) Desc() schema.ActionMetadata {
	return schema.ActionMetadata{
		Name:         d.name,
		Type:         d.atype,
		Description:  d.desc,
		Metadata:     d.metadata,
		InputSchema:  d.inputSchema,
		OutputSchema: d.outputSchema,
	}
}

// Run invokes the action with a typed input.
func (d *Def[In, Out]) Run(ctx context.Context, input In) (Out, error) {
	return d.fn(ctx, input)
}

// RunJSON validates the raw input against the inferred input schema,
// unmarshals it, and invokes the action. The streaming callback is accepted
// for interface compatibility; typed definitions do not stream.
func (d *Def[In, Out]) RunJSON(ctx context.Context, input json.RawMessage, _ StreamCallback) (json.RawMessage, error) {
	if err := d.validateInput(input); err != nil {
		return nil, err
	}

	var in In
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "failed to unmarshal input").
				WithCause(err)
		}
	}

	out, err := d.fn(ctx, in)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "failed to marshal output").
			WithCause(err)
	}
	return data, nil
}

// validateInput lazily compiles the inferred input schema and validates the
// raw JSON against it.
func (d *Def[In, Out]) validateInput(input json.RawMessage) error {
	d.compileOnce.Do(func() {
		d.validator, d.compileErr = compileValidator(d.inputSchema)
	})
	if d.compileErr != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid inferred input schema").
			WithCause(d.compileErr)
	}
	if d.validator == nil || len(input) == 0 {
		return nil
	}
	return d.validator.Validate(input)
}

// inferSchema derives a JSON Schema from a Go type. Types that reduce to the
// empty schema (any, json.RawMessage) yield nil, which disables validation.
func inferSchema[T any]() *jsonschema.Schema {
	r := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	var v T
	s := r.Reflect(&v)
	s.Version = ""
	if s.Type == "" && s.Ref == "" && (s.Properties == nil || s.Properties.Len() == 0) {
		return nil
	}
	return s
}
