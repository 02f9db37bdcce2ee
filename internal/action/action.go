package action

import (
	"context"
	"encoding/json"

	"github.com/rendis/catalyst/pkg/schema"
)

// Action is a named, typed, invocable unit registered under a structured key.
// Implementations must be immutable once registered; the registering registry
// owns them for its lifetime.
type Action interface {
	Name() string
	Type() schema.ActionType

	// RunJSON unmarshals the input, invokes the action, and returns the
	// marshaled result. cb, when non-nil, receives streamed chunks.
	RunJSON(ctx context.Context, input json.RawMessage, cb StreamCallback) (json.RawMessage, error)

	// Desc describes the action for listing without invoking it.
	// It sets all fields except Key, which the registry fills in.
	Desc() schema.ActionMetadata
}

// StreamCallback receives intermediate chunks during a streaming run.
type StreamCallback func(ctx context.Context, chunk json.RawMessage) error
