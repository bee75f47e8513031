// Package cancel maintains the two-level cancellation hierarchy: one token
// per run, and one token per (run, model) pair that is a child of its run's
// token, so cancelling a run propagates to every model-level context derived
// from it. Tokens are plain contexts, which is what lets an abort reach an
// in-flight HTTP stream read.
package cancel

import (
	"context"
	"strings"
	"sync"
)

// Registry holds the live cancel functions and contexts for in-flight runs
// and their per-model workers.
type Registry struct {
	mu          sync.Mutex
	runCancel   map[string]context.CancelFunc
	runCtx      map[string]context.Context
	modelCancel map[string]context.CancelFunc
	modelCtx    map[string]context.Context
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		runCancel:   make(map[string]context.CancelFunc),
		runCtx:      make(map[string]context.Context),
		modelCancel: make(map[string]context.CancelFunc),
		modelCtx:    make(map[string]context.Context),
	}
}

func modelKey(runID, modelID string) string {
	return runID + "\x00" + modelID
}

// NewRunToken creates and registers a run-level cancel token derived from parent.
func (r *Registry) NewRunToken(parent context.Context, runID string) context.Context {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	r.runCancel[runID] = cancel
	r.runCtx[runID] = ctx
	r.mu.Unlock()

	return ctx
}

// NewModelToken creates and registers a model-level cancel token as a child
// of the run's context, so cancelling the run also cancels every model
// token beneath it.
func (r *Registry) NewModelToken(runCtx context.Context, runID, modelID string) context.Context {
	ctx, cancel := context.WithCancel(runCtx)

	key := modelKey(runID, modelID)
	r.mu.Lock()
	r.modelCancel[key] = cancel
	r.modelCtx[key] = ctx
	r.mu.Unlock()

	return ctx
}

// CancelRun triggers the run-level token, cancelling it and every
// model-level token derived from it. Returns false if no such run is
// registered (already finished, or never started).
func (r *Registry) CancelRun(runID string) bool {
	r.mu.Lock()
	cancel, ok := r.runCancel[runID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	return true
}

// CancelModel triggers only the (run, model) token, leaving sibling model
// workers and the run token untouched.
func (r *Registry) CancelModel(runID, modelID string) bool {
	key := modelKey(runID, modelID)

	r.mu.Lock()
	cancel, ok := r.modelCancel[key]
	r.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	return true
}

// RunCancelled reports whether the run-level token has been triggered.
func (r *Registry) RunCancelled(runID string) bool {
	r.mu.Lock()
	ctx, ok := r.runCtx[runID]
	r.mu.Unlock()

	return ok && ctx.Err() != nil
}

// ModelCancelled reports whether the (run, model) token has been triggered,
// including via its parent run token.
func (r *Registry) ModelCancelled(runID, modelID string) bool {
	key := modelKey(runID, modelID)

	r.mu.Lock()
	ctx, ok := r.modelCtx[key]
	r.mu.Unlock()

	return ok && ctx.Err() != nil
}

// HasRun reports whether a run-level token is currently registered.
func (r *Registry) HasRun(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runCancel[runID]
	return ok
}

// Cleanup removes every token registered for a run, including its model
// tokens, on terminal transition.
func (r *Registry) Cleanup(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.runCancel, runID)
	delete(r.runCtx, runID)

	prefix := runID + "\x00"
	for key := range r.modelCancel {
		if strings.HasPrefix(key, prefix) {
			delete(r.modelCancel, key)
			delete(r.modelCtx, key)
		}
	}
}
