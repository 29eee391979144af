package core

import "sync"

// EventContext carries the payload of an event. Which fields are set
// depends on the code.
type EventContext struct {
	Data struct {
		I32 [4]int32
		U32 [4]uint32
		U16 [8]uint16
	}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EventCodeApplicationQuit SystemEventCode = 0x01
	// Keyboard key pressed. Data.U16[0] is the key code.
	EventCodeKeyPressed SystemEventCode = 0x02
	// Keyboard key released. Data.U16[0] is the key code.
	EventCodeKeyReleased SystemEventCode = 0x03
	// Framebuffer resized. Data.U32[0] is the width, Data.U32[1] the height.
	EventCodeResized SystemEventCode = 0x08
)

// FnOnEvent should return true if it handled the event, which stops it from
// reaching later listeners.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches events to listeners in registration order. It is safe
// for concurrent use; callbacks run on the goroutine that fired the event.
type EventBus struct {
	mutex      sync.RWMutex
	registered map[SystemEventCode][]registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{registered: make(map[SystemEventCode][]registeredEvent)}
}

// Register adds onEvent for code. A listener can only be registered once per
// code; a duplicate returns false.
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for _, e := range b.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	b.registered[code] = append(b.registered[code], registeredEvent{listener: listener, callback: onEvent})
	return true
}

// Unregister removes listener from code. It returns false if it was not
// registered.
func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// Fire sends data to the listeners of code until one handles it. It returns
// true if the event was handled.
func (b *EventBus) Fire(code SystemEventCode, sender interface{}, data EventContext) bool {
	b.mutex.RLock()
	events := append([]registeredEvent(nil), b.registered[code]...)
	b.mutex.RUnlock()

	for _, e := range events {
		if e.callback(code, sender, e.listener, data) {
			return true
		}
	}
	return false
}
