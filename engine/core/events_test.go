package core

import "testing"

type listener struct {
	name string
	seen *[]string
	stop bool
}

func (l *listener) onEvent(_ SystemEventCode, _ interface{}, _ interface{}, _ EventContext) bool {
	*l.seen = append(*l.seen, l.name)
	return l.stop
}

func TestEventBusOrderAndHandled(t *testing.T) {
	bus := NewEventBus()
	var seen []string
	first := &listener{name: "first", seen: &seen}
	second := &listener{name: "second", seen: &seen, stop: true}
	third := &listener{name: "third", seen: &seen}
	for _, l := range []*listener{first, second, third} {
		if !bus.Register(EventCodeResized, l, l.onEvent) {
			t.Fatalf("Register(%s) failed", l.name)
		}
	}

	if !bus.Fire(EventCodeResized, nil, EventContext{}) {
		t.Errorf("Fire = false, want handled")
	}
	if len(seen) != 2 || seen[0] != "first" || seen[1] != "second" {
		t.Errorf("listeners called = %v, want [first second]", seen)
	}
}

func TestEventBusRegisterDuplicate(t *testing.T) {
	bus := NewEventBus()
	var seen []string
	l := &listener{name: "l", seen: &seen}
	bus.Register(EventCodeApplicationQuit, l, l.onEvent)
	if bus.Register(EventCodeApplicationQuit, l, l.onEvent) {
		t.Errorf("duplicate registration accepted")
	}
	if !bus.Register(EventCodeKeyPressed, l, l.onEvent) {
		t.Errorf("registration for another code rejected")
	}
}

func TestEventBusUnregister(t *testing.T) {
	bus := NewEventBus()
	var seen []string
	l := &listener{name: "l", seen: &seen}
	bus.Register(EventCodeKeyPressed, l, l.onEvent)

	if !bus.Unregister(EventCodeKeyPressed, l) {
		t.Fatalf("Unregister = false")
	}
	if bus.Unregister(EventCodeKeyPressed, l) {
		t.Errorf("second Unregister = true")
	}
	if bus.Fire(EventCodeKeyPressed, nil, EventContext{}) || len(seen) != 0 {
		t.Errorf("unregistered listener was called")
	}
}

func TestEventBusPayload(t *testing.T) {
	bus := NewEventBus()
	var got EventContext
	bus.Register(EventCodeResized, t, func(_ SystemEventCode, _ interface{}, _ interface{}, data EventContext) bool {
		got = data
		return true
	})
	var ctx EventContext
	ctx.Data.U32[0], ctx.Data.U32[1] = 800, 600
	bus.Fire(EventCodeResized, nil, ctx)
	if got.Data.U32[0] != 800 || got.Data.U32[1] != 600 {
		t.Errorf("payload = %v, want 800x600", got.Data.U32)
	}
}
