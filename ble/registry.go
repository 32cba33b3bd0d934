package ble

import (
	"errors"
	"fmt"
	"sync"

	"github.com/user/auraphone-presence/logger"
)

var errNoEmitter = errors.New("no emitter source configured")

// Registry holds at most one live subscription per event kind against the
// shared emitter. Setup always drains before registering, so calling it
// repeatedly never stacks duplicate handlers.
type Registry struct {
	mu         sync.Mutex
	newEmitter EmitterFunc
	emitter    Emitter
	router     *Router
	subs       map[EventKind]Subscription
}

// NewRegistry creates an empty registry. The emitter is opened lazily.
func NewRegistry(newEmitter EmitterFunc, router *Router) *Registry {
	return &Registry{
		newEmitter: newEmitter,
		router:     router,
		subs:       make(map[EventKind]Subscription),
	}
}

// Setup opens the emitter on first use, drops any existing subscriptions and
// registers one handler per event kind.
func (r *Registry) Setup() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.emitter == nil {
		if r.newEmitter == nil {
			return errNoEmitter
		}
		emitter, err := r.newEmitter()
		if err != nil {
			return fmt.Errorf("open event emitter: %w", err)
		}
		r.emitter = emitter
	}

	r.cleanupLocked()

	for _, kind := range EventKinds {
		r.subs[kind] = r.emitter.AddListener(kind, r.router.Handler(kind))
	}

	logger.Trace("registry", "Registered %d listeners", len(r.subs))
	return nil
}

// Cleanup removes every live subscription. Safe to call when already empty.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupLocked()
}

func (r *Registry) cleanupLocked() {
	for _, sub := range r.subs {
		if sub != nil {
			sub.Remove()
		}
	}
	r.subs = make(map[EventKind]Subscription)
}

// Len returns the number of live subscriptions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Active reports whether kind currently has a live subscription
func (r *Registry) Active(kind EventKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[kind] != nil
}

// Emitter returns the shared emitter, or nil before the first Setup
func (r *Registry) Emitter() Emitter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emitter
}
