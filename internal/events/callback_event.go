package events

import (
	"sync"
)

type callbackEntry[T any] struct {
	id       uint64
	callback func(T)
}

// CallbackEvent provides pub/sub behavior with type-safe callbacks.
// Listeners are invoked synchronously, in registration order, on the goroutine that calls Notify.
// T is the type of the argument passed to callback functions
type CallbackEvent[T any] struct {
	mu                    sync.RWMutex
	listeners             []callbackEntry[T]
	nextID                uint64
	sendLastEventOnListen bool
	lastEvent             *T
	hasNotified           bool
}

// NewCallbackEvent creates a new CallbackEvent instance
// sendLastEventOnListen: if true, the CallbackEvent will remember the last Notify parameter
// and call new listeners immediately with that value if Notify has been called at least once
func NewCallbackEvent[T any](sendLastEventOnListen bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{
		sendLastEventOnListen: sendLastEventOnListen,
	}
}

// Listen registers a callback function to be called when Notify is invoked
// Returns a deregistration function that can be called to remove the listener
// If sendLastEventOnListen is true and Notify has been called at least once,
// the callback will be called immediately with the last event value
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners = append(e.listeners, callbackEntry[T]{id: id, callback: callback})
	var lastEventCopy *T
	if e.sendLastEventOnListen && e.hasNotified && e.lastEvent != nil {
		lastEventCopy = new(T)
		*lastEventCopy = *e.lastEvent
	}
	e.mu.Unlock()

	// Outside the lock so the callback may register or unregister listeners
	if lastEventCopy != nil {
		callback(*lastEventCopy)
	}

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, entry := range e.listeners {
			if entry.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// Notify calls all registered listener callbacks with the provided value, oldest listener first.
// This operation is thread-safe
func (e *CallbackEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.sendLastEventOnListen {
		if e.lastEvent == nil {
			e.lastEvent = new(T)
		}
		*e.lastEvent = value
		e.hasNotified = true
	}

	listenersCopy := make([]func(T), len(e.listeners))
	for i, entry := range e.listeners {
		listenersCopy[i] = entry.callback
	}
	e.mu.Unlock()

	for _, callback := range listenersCopy {
		callback(value)
	}
}

// ListenerCount returns the current number of registered listeners
// This is useful for testing and debugging
func (e *CallbackEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
