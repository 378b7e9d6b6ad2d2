package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCallbackEvent(t *testing.T) {
	event := NewCallbackEvent[string](false)
	require.NotNil(t, event)
	assert.Equal(t, 0, event.ListenerCount())
	assert.False(t, event.sendLastEventOnListen)

	event2 := NewCallbackEvent[int](true)
	require.NotNil(t, event2)
	assert.True(t, event2.sendLastEventOnListen)
}

func TestEvent_Listen_Notify_Basic(t *testing.T) {
	event := NewCallbackEvent[string](false)

	received := make([]string, 0)
	unregister := event.Listen(func(value string) {
		received = append(received, value)
	})

	assert.Equal(t, 1, event.ListenerCount())

	event.Notify("test1")
	event.Notify("test2")
	assert.Equal(t, []string{"test1", "test2"}, received)

	unregister()
	assert.Equal(t, 0, event.ListenerCount())

	event.Notify("test3")
	// Listener was removed
	assert.Len(t, received, 2)
}

func TestEvent_ListenersCalledInRegistrationOrder(t *testing.T) {
	event := NewCallbackEvent[int](false)

	var order []string
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		name := name
		event.Listen(func(int) { order = append(order, name) })
	}

	event.Notify(1)
	event.Notify(2)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "a", "b", "c", "d", "e"}, order)
}

func TestEvent_UnregisterMiddleKeepsOrder(t *testing.T) {
	event := NewCallbackEvent[int](false)

	var order []string
	event.Listen(func(int) { order = append(order, "first") })
	unregister := event.Listen(func(int) { order = append(order, "second") })
	event.Listen(func(int) { order = append(order, "third") })

	unregister()
	event.Notify(0)
	assert.Equal(t, []string{"first", "third"}, order)
	assert.Equal(t, 2, event.ListenerCount())
}

func TestEvent_SendLastEventOnListen_True_NoNotifyYet(t *testing.T) {
	event := NewCallbackEvent[string](true)

	received := make([]string, 0)
	unregister := event.Listen(func(value string) {
		received = append(received, value)
	})
	defer unregister()

	// Notify hasn't been called yet
	assert.Empty(t, received)
}

func TestEvent_SendLastEventOnListen_True_AfterNotify(t *testing.T) {
	event := NewCallbackEvent[string](true)

	received1 := make([]string, 0)
	unregister1 := event.Listen(func(value string) {
		received1 = append(received1, value)
	})
	defer unregister1()
	assert.Empty(t, received1)

	event.Notify("first-event")
	assert.Equal(t, []string{"first-event"}, received1)

	// A late listener gets the last event immediately
	received2 := make([]string, 0)
	unregister2 := event.Listen(func(value string) {
		received2 = append(received2, value)
	})
	defer unregister2()
	assert.Equal(t, []string{"first-event"}, received2)

	event.Notify("second-event")
	assert.Equal(t, []string{"first-event", "second-event"}, received1)
	assert.Equal(t, []string{"first-event", "second-event"}, received2)
}

func TestEvent_SendLastEventOnListen_False(t *testing.T) {
	event := NewCallbackEvent[string](false)

	event.Notify("first-event")

	received := make([]string, 0)
	unregister := event.Listen(func(value string) {
		received = append(received, value)
	})
	defer unregister()
	assert.Empty(t, received)

	event.Notify("second-event")
	assert.Equal(t, []string{"second-event"}, received)
}

func TestEvent_ConcurrentAccess(t *testing.T) {
	event := NewCallbackEvent[int](false)

	var wg sync.WaitGroup
	received := 0
	var mu sync.Mutex
	unregisters := make([]func(), 0)
	var unregisterMu sync.Mutex

	wg.Add(10)
	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()
			unregister := event.Listen(func(int) {
				mu.Lock()
				received++
				mu.Unlock()
			})
			unregisterMu.Lock()
			unregisters = append(unregisters, unregister)
			unregisterMu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, event.ListenerCount())

	wg.Add(5)
	for i := 0; i < 5; i++ {
		go func(value int) {
			defer wg.Done()
			event.Notify(value)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	assert.Equal(t, 50, received)
	mu.Unlock()

	for _, unregister := range unregisters {
		unregister()
	}
	assert.Equal(t, 0, event.ListenerCount())
}

func TestEvent_Listen_NilCallback(t *testing.T) {
	event := NewCallbackEvent[string](false)

	assert.Panics(t, func() {
		event.Listen(nil)
	})
}

func TestEvent_UnregisterDuringNotify(t *testing.T) {
	event := NewCallbackEvent[string](false)

	received := make([]string, 0)
	var unregister func()
	unregister = event.Listen(func(value string) {
		received = append(received, value)
		if value == "unregister" {
			unregister()
		}
	})

	event.Notify("test1")
	event.Notify("unregister")
	event.Notify("test2")

	assert.Equal(t, []string{"test1", "unregister"}, received)
	assert.Equal(t, 0, event.ListenerCount())
}

func TestEvent_MultipleUnregisterCalls(t *testing.T) {
	event := NewCallbackEvent[string](false)

	unregister := event.Listen(func(value string) {})
	assert.Equal(t, 1, event.ListenerCount())

	unregister()
	unregister()
	unregister()
	assert.Equal(t, 0, event.ListenerCount())
}
