// Package nodestate implements the client's per-run context store:
// for each run id active on a node, an opaque user-visible object
// created on first sight and preserved across subsequent messages of
// the same run. No cross-run sharing, no eviction (lifecycle ends
// with the process).
package nodestate

import "sync"

// Store is a per-node map from run id to an opaque context object.
// Build one with New; the zero value has no map and no factory and
// panics on RegisterContext.
type Store struct {
	mu       sync.Mutex
	contexts map[int64]any
	factory  func() any
}

// New builds a Store. factory creates a fresh context for a run seen
// for the first time; a nil factory defaults to `func() any { return
// map[string]any{} }`, matching the loosely-typed, opaque "context"
// object a ClientApp receives.
func New(factory func() any) *Store {
	if factory == nil {
		factory = func() any { return map[string]any{} }
	}
	return &Store{
		contexts: make(map[int64]any),
		factory:  factory,
	}
}

// RegisterContext is idempotent: if no context exists yet for run, it
// creates and stores a fresh one. Must be called before
// RetrieveContext.
func (s *Store) RegisterContext(run int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[run]; !ok {
		s.contexts[run] = s.factory()
	}
}

// RetrieveContext returns the context for run. Callers must have
// called RegisterContext(run) first; panics otherwise, since this
// indicates a session-loop ordering bug rather than a recoverable
// condition.
func (s *Store) RetrieveContext(run int64) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.contexts[run]
	if !ok {
		panic("nodestate: RetrieveContext called before RegisterContext for this run")
	}
	return ctx
}

// UpdateContext replaces the stored reference for run.
func (s *Store) UpdateContext(run int64, ctx any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[run] = ctx
}
