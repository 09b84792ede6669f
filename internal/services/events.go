package services

import (
	"sync"

	"go.uber.org/zap"

	"github.com/packcycle/packcycle/pkg/logger"
)

// Event types dispatched to subscribers.
const (
	EventUserPackageUpdated = "user_package_updated"
	EventPackagesOverdue    = "packages_overdue"
	EventPackagesUpcoming   = "packages_upcoming"
)

// Event is the payload delivered to subscribed listeners.
type Event struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Listener receives dispatched events.
type Listener func(Event)

// Dispatcher is the in-process pub/sub registry for package events. Fan-out
// is synchronous; each listener runs inside its own recover boundary so one
// panicking subscriber cannot block delivery to the rest.
type Dispatcher struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	log       *zap.Logger
}

// NewDispatcher constructs an event dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		listeners: make(map[int]Listener),
		log:       logger.WithModule("events"),
	}
}

// Subscribe registers a listener and returns its unsubscribe function.
// Unsubscribing twice is harmless.
func (d *Dispatcher) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

// Notify delivers the event to every registered listener.
func (d *Dispatcher) Notify(event Event) {
	d.mu.RLock()
	targets := make([]Listener, 0, len(d.listeners))
	for _, fn := range d.listeners {
		targets = append(targets, fn)
	}
	d.mu.RUnlock()

	for _, fn := range targets {
		d.deliver(fn, event)
	}
}

func (d *Dispatcher) deliver(fn Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("listener panicked",
				zap.String("event", event.Type),
				zap.Any("panic", r),
			)
		}
	}()
	fn(event)
}

// Len reports the number of registered listeners.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}
