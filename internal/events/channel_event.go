package events

import (
	"sync"
)

// OverflowPolicy decides what a ChannelEvent does when a listener's channel is full
type OverflowPolicy int

const (
	DropNewest OverflowPolicy = iota // Keep what is queued, skip the new value
	DropOldest                       // Discard one queued value so the newest one fits
)

// ChannelEvent provides pub/sub behavior using channels.
// Sends never block: a full channel either skips the value or replaces its oldest entry,
// depending on the OverflowPolicy. Use it for high-frequency values where only the latest matters.
// T is the type of the value sent to channels
type ChannelEvent[T any] struct {
	mu                    sync.RWMutex
	channels              map[uint64]chan T
	nextID                uint64
	sendLastEventOnListen bool
	overflow              OverflowPolicy
	lastEvent             *T
	hasNotified           bool
}

// NewChannelEvent creates a ChannelEvent that skips values for full channels
// sendLastEventOnListen: if true, the ChannelEvent will remember the last Notify parameter
// and send it to new listeners immediately if Notify has been called at least once
func NewChannelEvent[T any](sendLastEventOnListen bool) *ChannelEvent[T] {
	return NewChannelEventWithPolicy[T](sendLastEventOnListen, DropNewest)
}

// NewLatestChannelEvent creates a ChannelEvent where the newest value always wins a full channel
func NewLatestChannelEvent[T any](sendLastEventOnListen bool) *ChannelEvent[T] {
	return NewChannelEventWithPolicy[T](sendLastEventOnListen, DropOldest)
}

func NewChannelEventWithPolicy[T any](sendLastEventOnListen bool, overflow OverflowPolicy) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		channels:              make(map[uint64]chan T),
		sendLastEventOnListen: sendLastEventOnListen,
		overflow:              overflow,
	}
}

// Listen registers a channel to receive values when Notify is invoked
// Returns a deregistration function that can be called to remove the listener
// If sendLastEventOnListen is true and Notify has been called at least once,
// the last event value will be sent to the channel immediately
func (e *ChannelEvent[T]) Listen(ch chan T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.channels[id] = ch
	var lastEventCopy *T
	if e.sendLastEventOnListen && e.hasNotified && e.lastEvent != nil {
		lastEventCopy = new(T)
		*lastEventCopy = *e.lastEvent
	}
	e.mu.Unlock()

	if lastEventCopy != nil {
		e.send(ch, *lastEventCopy)
	}

	return func() {
		e.mu.Lock()
		delete(e.channels, id)
		e.mu.Unlock()
	}
}

// Notify sends the provided value to all registered channels
// This operation is thread-safe and never blocks
func (e *ChannelEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.sendLastEventOnListen {
		if e.lastEvent == nil {
			e.lastEvent = new(T)
		}
		*e.lastEvent = value
		e.hasNotified = true
	}

	channelsCopy := make([]chan T, 0, len(e.channels))
	for _, ch := range e.channels {
		channelsCopy = append(channelsCopy, ch)
	}
	e.mu.Unlock()

	for _, ch := range channelsCopy {
		e.send(ch, value)
	}
}

func (e *ChannelEvent[T]) send(ch chan T, value T) {
	select {
	case ch <- value:
		return
	default:
	}

	if e.overflow != DropOldest {
		return
	}

	// A receiver may race us for the stale value; either way there is room afterwards
	// unless another sender refilled it, in which case this value is skipped.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- value:
	default:
	}
}

// ListenerCount returns the current number of registered listeners
// This is useful for testing and debugging
func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.channels)
}
