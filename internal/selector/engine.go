// Package selector filters and projects action metadata with user-supplied
// expressions. Discovery consumers use it to narrow large catalogs without
// initializing any plugin.
package selector

import (
	"context"

	"github.com/rendis/catalyst/pkg/schema"
)

// Engine evaluates a selector expression against one metadata record.
// Three implementations: CEL (conditions), Expr (logic), GoJQ (projections).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// metaEnv flattens an ActionMetadata record into the evaluation environment.
// Every engine exposes the same top-level variables: key, name, type,
// description, metadata.
func metaEnv(meta schema.ActionMetadata) map[string]any {
	md := meta.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return map[string]any{
		"key":         meta.Key,
		"name":        meta.Name,
		"type":        string(meta.Type),
		"description": meta.Description,
		"metadata":    md,
	}
}
