package citadel

import "sync"

// statusHub is the subscription manager for status-change events. It is the
// only place listener state is mutated: register and the returned unregister
// closure are the two mutation points, both serialized by the hub mutex.
//
// Dispatch is asynchronous, so a slow listener never blocks the engine
// operation that triggered the transition, but deliveries for one path are
// serialized through a single drain goroutine: listeners observe transitions
// in the order they happened.
type statusHub struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string]map[uint64]func(Status)
	pending   map[string][]statusEvent
	draining  map[string]bool
}

// statusEvent pairs one transition with the listener set captured when it
// happened. Listeners registered after a transition never see it.
type statusEvent struct {
	status Status
	fns    []func(Status)
}

func newStatusHub() *statusHub {
	return &statusHub{
		listeners: make(map[string]map[uint64]func(Status)),
		pending:   make(map[string][]statusEvent),
		draining:  make(map[string]bool),
	}
}

// register adds a listener for one snapshot path and returns its unregister
// function. Calling unregister more than once is a no-op.
func (h *statusHub) register(path string, fn func(Status)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID

	byPath, ok := h.listeners[path]
	if !ok {
		byPath = make(map[uint64]func(Status))
		h.listeners[path] = byPath
	}
	byPath[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if byPath, ok := h.listeners[path]; ok {
				delete(byPath, id)
				if len(byPath) == 0 {
					delete(h.listeners, path)
				}
			}
		})
	}
}

// notify queues a status transition for every listener registered for path.
func (h *statusHub) notify(path string, status Status) {
	h.mu.Lock()
	byPath := h.listeners[path]
	if len(byPath) == 0 {
		h.mu.Unlock()
		return
	}
	fns := make([]func(Status), 0, len(byPath))
	for _, fn := range byPath {
		fns = append(fns, fn)
	}

	h.pending[path] = append(h.pending[path], statusEvent{status: status, fns: fns})
	spawn := !h.draining[path]
	if spawn {
		h.draining[path] = true
	}
	h.mu.Unlock()

	if spawn {
		go h.drain(path)
	}
}

// drain delivers queued events for one path in order, one at a time.
func (h *statusHub) drain(path string) {
	for {
		h.mu.Lock()
		queue := h.pending[path]
		if len(queue) == 0 {
			delete(h.pending, path)
			delete(h.draining, path)
			h.mu.Unlock()
			return
		}
		event := queue[0]
		h.pending[path] = queue[1:]
		h.mu.Unlock()

		for _, fn := range event.fns {
			fn(event.status)
		}
	}
}
