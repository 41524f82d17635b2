package connection

import (
	"sync"

	"github.com/rickgao/iot-relay/internal/model"
)

// Handler receives one decoded inbound object.
type Handler func(model.Object)

// Listeners is an owned, ordered set of receive handlers.
type Listeners struct {
	mu       sync.RWMutex
	nextID   int
	handlers []listener
}

type listener struct {
	id int
	fn Handler
}

// NewListeners creates an empty set.
func NewListeners() *Listeners {
	return &Listeners{}
}

// Add registers fn and returns a func that removes it.
func (l *Listeners) Add(fn Handler) (remove func()) {
	if fn == nil {
		panic("connection.Listeners.Add: handler must not be nil")
	}
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers = append(l.handlers, listener{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

// Len returns the number of registered handlers.
func (l *Listeners) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers)
}

func (l *Listeners) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, h := range l.handlers {
		if h.id == id {
			l.handlers = append(l.handlers[:i:i], l.handlers[i+1:]...)
			return
		}
	}
}

// snapshot copies the handlers so dispatch runs without the lock.
func (l *Listeners) snapshot() []Handler {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Handler, len(l.handlers))
	for i, h := range l.handlers {
		out[i] = h.fn
	}
	return out
}
