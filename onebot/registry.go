package onebot

import (
	"context"
	"sync"
)

// HandlerFunc reacts to an event. The client is the handle for issuing actions.
type HandlerFunc func(ctx context.Context, c *Client, ev Event) error

// Binding pairs a predicate conjunction with a callback.
type Binding struct {
	Name       string
	Predicates []Predicate
	Handler    HandlerFunc
}

func (b Binding) matches(ev Event) bool {
	return All(ev, b.Predicates...)
}

// registry holds bindings per category in registration order. Registration
// normally happens before Run; the lock covers late registrations.
type registry struct {
	mu       sync.RWMutex
	bindings map[Category][]Binding
}

func newRegistry() *registry {
	r := &registry{bindings: make(map[Category][]Binding, len(categories))}
	for _, c := range categories {
		r.bindings[c] = nil
	}
	return r
}

func (r *registry) add(cat Category, b Binding) bool {
	if !cat.valid() || b.Handler == nil {
		return false
	}
	r.mu.Lock()
	r.bindings[cat] = append(r.bindings[cat], b)
	r.mu.Unlock()
	return true
}

// match returns every binding for the event's category whose predicates all
// hold, in registration order.
func (r *registry) match(ev Event) []Binding {
	r.mu.RLock()
	list := r.bindings[ev.Category()]
	r.mu.RUnlock()

	var out []Binding
	for _, b := range list {
		if b.matches(ev) {
			out = append(out, b)
		}
	}
	return out
}

func (r *registry) count(cat Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings[cat])
}
