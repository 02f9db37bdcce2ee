// Package runctx carries ambient per-call state (current session, current
// action run) on a context.Context, without explicit parameter threading.
// Each slot is independent; nested With* calls shadow the outer value for the
// derived context only. Sibling goroutines holding their own contexts never
// observe each other's bindings.
package runctx

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	sessionKey ctxKey = iota
	runKey
)

// Session is the conversational scope a call chain runs under.
type Session struct {
	ID    string
	State map[string]any
}

// Run identifies a single action invocation. Nested invocations link to
// their parent run.
type Run struct {
	ID     string
	Key    string // action key being executed
	Parent *Run
}

// NewRun creates a run record for the given action key.
func NewRun(key string, parent *Run) *Run {
	return &Run{ID: uuid.NewString(), Key: key, Parent: parent}
}

// WithSession returns a context with the session bound.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext retrieves the bound session, if any.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok
}

// WithRun returns a context with the current run bound.
func WithRun(ctx context.Context, r *Run) context.Context {
	return context.WithValue(ctx, runKey, r)
}

// RunFromContext retrieves the current run, if any.
func RunFromContext(ctx context.Context) (*Run, bool) {
	r, ok := ctx.Value(runKey).(*Run)
	return r, ok
}

// Detach returns a context with every runctx slot cleared while keeping
// cancellation, deadline, and unrelated values. The registry runs plugin
// initializers and resolvers on a detached context so plugin code does not
// inherit caller-specific session or run state.
func Detach(ctx context.Context) context.Context {
	return detachedCtx{ctx}
}

type detachedCtx struct {
	context.Context
}

func (c detachedCtx) Value(key any) any {
	if _, ok := key.(ctxKey); ok {
		return nil
	}
	return c.Context.Value(key)
}
