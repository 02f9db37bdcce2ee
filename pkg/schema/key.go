package schema

import "strings"

// ActionType enumerates the kinds of actions a registry can hold.
type ActionType string

const (
	ActionTypeModel         ActionType = "model"
	ActionTypeTool          ActionType = "tool"
	ActionTypeFlow          ActionType = "flow"
	ActionTypeRetriever     ActionType = "retriever"
	ActionTypeIndexer       ActionType = "indexer"
	ActionTypeEmbedder      ActionType = "embedder"
	ActionTypeEvaluator     ActionType = "evaluator"
	ActionTypeReranker      ActionType = "reranker"
	ActionTypePrompt        ActionType = "prompt"
	ActionTypeCustom        ActionType = "custom"
	ActionTypeBackgroundJob ActionType = "background-job"
	ActionTypeUtil          ActionType = "util"
	ActionTypeResource      ActionType = "resource"
)

// ActionKey identifies an action within a registry.
// Its string form is a wire contract shared with external inspection tools:
//
//	/{type}/{name}
//	/{type}/{plugin}/{name...}
//
// Name may itself contain "/" (nested prompt folders), so a key with four or
// more segments assigns the third to Plugin and rejoins the rest into Name.
type ActionKey struct {
	Type   ActionType `json:"type"`
	Plugin string     `json:"plugin,omitempty"`
	Name   string     `json:"name"`
}

// NewKey builds an ActionKey from its parts.
func NewKey(typ ActionType, plugin, name string) ActionKey {
	return ActionKey{Type: typ, Plugin: plugin, Name: name}
}

// ParseKey parses the string form of an action key.
// It returns a MALFORMED_KEY error when fewer than three segments are present
// or the third segment is empty: an empty plugin or name segment would make
// String() emit a different key than the one parsed, breaking the round-trip
// contract.
func ParseKey(s string) (ActionKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 3 || parts[0] != "" || parts[2] == "" {
		return ActionKey{}, NewErrorf(ErrCodeMalformedKey,
			"invalid action key %q: expected /{type}/{name} or /{type}/{plugin}/{name}", s)
	}
	typ := ActionType(parts[1])
	if len(parts) == 3 {
		return ActionKey{Type: typ, Name: parts[2]}, nil
	}
	return ActionKey{
		Type:   typ,
		Plugin: parts[2],
		Name:   strings.Join(parts[3:], "/"),
	}, nil
}

// String formats the key. It is the exact inverse of ParseKey for all valid
// keys, including names containing "/".
func (k ActionKey) String() string {
	if k.Plugin == "" {
		return "/" + string(k.Type) + "/" + k.Name
	}
	return "/" + string(k.Type) + "/" + k.Plugin + "/" + k.Name
}
