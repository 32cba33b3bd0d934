package ble

import (
	"sync"

	"github.com/user/auraphone-presence/logger"
)

// Subscription is a live registration of one handler; Remove revokes it.
// Remove must be safe to call more than once. Once Remove returns the
// handler is never called again.
type Subscription interface {
	Remove()
}

// Emitter is the asynchronous event source of a transport
type Emitter interface {
	AddListener(kind EventKind, handler Handler) Subscription
}

// EmitterFunc opens the shared emitter connection. The controller calls it
// at most once, on first listener setup.
type EmitterFunc func() (Emitter, error)

const defaultHubBuffer = 64

type hubListener struct {
	id      uint64
	handler Handler

	// mu is held across each handler call so remove waits out a call in flight
	mu      sync.Mutex
	removed bool
}

func (l *hubListener) call(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.removed {
		l.handler(e)
	}
}

// Hub is an Emitter with one FIFO dispatch goroutine per event kind, so a slow
// handler for one kind never delays delivery of another.
type Hub struct {
	mu        sync.RWMutex
	listeners map[EventKind][]*hubListener
	nextID    uint64
	queues    map[EventKind]chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHub starts the dispatch goroutines; buffer is the per-kind queue depth
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultHubBuffer
	}

	h := &Hub{
		listeners: make(map[EventKind][]*hubListener),
		queues:    make(map[EventKind]chan Event),
		done:      make(chan struct{}),
	}

	for _, kind := range EventKinds {
		q := make(chan Event, buffer)
		h.queues[kind] = q
		h.wg.Add(1)
		go h.dispatchLoop(q)
	}
	return h
}

// AddListener registers handler for kind. The returned Subscription's Remove
// blocks while the handler is running, so it must not be called from inside
// that same handler.
func (h *Hub) AddListener(kind EventKind, handler Handler) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.listeners[kind] = append(h.listeners[kind], &hubListener{id: id, handler: handler})

	return &hubSubscription{hub: h, kind: kind, id: id}
}

// ListenerCount returns the number of live listeners for kind
func (h *Hub) ListenerCount(kind EventKind) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[kind])
}

// Emit queues e for delivery. It never blocks: when the kind's queue is full
// or the hub is closed the event is dropped and false is returned.
func (h *Hub) Emit(e Event) bool {
	q, ok := h.queues[e.Kind]
	if !ok {
		logger.Warn("hub", "Dropping event with unknown kind %d", int(e.Kind))
		return false
	}

	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case q <- e:
		return true
	default:
		logger.Warn("hub", "⚠️  %s queue full, dropping event", e.Kind)
		return false
	}
}

// Close stops dispatch. Events still queued are discarded.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
	h.wg.Wait()
}

func (h *Hub) dispatchLoop(q chan Event) {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case e := <-q:
			h.dispatch(e)
		}
	}
}

func (h *Hub) dispatch(e Event) {
	h.mu.RLock()
	listeners := make([]*hubListener, len(h.listeners[e.Kind]))
	copy(listeners, h.listeners[e.Kind])
	h.mu.RUnlock()

	for _, l := range listeners {
		l.call(e)
	}
}

func (h *Hub) remove(kind EventKind, id uint64) {
	var removed *hubListener

	h.mu.Lock()
	listeners := h.listeners[kind]
	for i, l := range listeners {
		if l.id == id {
			h.listeners[kind] = append(listeners[:i:i], listeners[i+1:]...)
			removed = l
			break
		}
	}
	h.mu.Unlock()

	if removed != nil {
		removed.mu.Lock()
		removed.removed = true
		removed.mu.Unlock()
	}
}

type hubSubscription struct {
	hub  *Hub
	kind EventKind
	id   uint64
	once sync.Once
}

func (s *hubSubscription) Remove() {
	s.once.Do(func() {
		s.hub.remove(s.kind, s.id)
	})
}
