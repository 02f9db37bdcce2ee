package selector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/catalyst/pkg/schema"
)

// Set bundles the selector engines. A registry creates one Set and shares it
// by reference with child registries.
type Set struct {
	engines map[string]Engine
}

// NewSet creates a Set with the cel, expr, and jq engines. A CEL environment
// that fails to construct is logged and left out; lookups for "cel" then
// report NOT_FOUND. A nil logger falls back to slog.Default.
func NewSet(logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Set{engines: make(map[string]Engine)}

	if celEng, err := NewCELEngine(); err == nil {
		s.engines[celEng.Name()] = celEng
	} else {
		logger.Warn("cel selector engine unavailable",
			slog.String("error", err.Error()))
	}
	exprEng := NewExprEngine()
	s.engines[exprEng.Name()] = exprEng
	jqEng := NewGoJQEngine()
	s.engines[jqEng.Name()] = jqEng

	return s
}

// Engine returns the named engine.
func (s *Set) Engine(name string) (Engine, bool) {
	e, ok := s.engines[name]
	return e, ok
}

// Filter keeps the metadata records for which the expression evaluates to
// true under the named engine. Non-boolean results are a VALIDATION_ERROR.
func (s *Set) Filter(ctx context.Context, engineName string, metas []schema.ActionMetadata, expression string) ([]schema.ActionMetadata, error) {
	eng, ok := s.engines[engineName]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "selector engine %q not available", engineName)
	}

	var kept []schema.ActionMetadata
	for _, meta := range metas {
		out, err := eng.Evaluate(ctx, expression, metaEnv(meta))
		if err != nil {
			return nil, err
		}
		keep, ok := out.(bool)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"filter expression %q returned %s, want bool", expression, fmt.Sprintf("%T", out))
		}
		if keep {
			kept = append(kept, meta)
		}
	}
	return kept, nil
}

// Project maps each metadata record through a jq expression and returns the
// raw results, one per record.
func (s *Set) Project(ctx context.Context, metas []schema.ActionMetadata, expression string) ([]any, error) {
	eng, ok := s.engines["jq"]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeNotFound, "jq selector engine not available")
	}

	out := make([]any, 0, len(metas))
	for _, meta := range metas {
		v, err := eng.Evaluate(ctx, expression, metaEnv(meta))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
