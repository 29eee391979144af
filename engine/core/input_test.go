package core

import "testing"

func TestInputProcessKey(t *testing.T) {
	bus := NewEventBus()
	var pressed, released []KeyCode
	bus.Register(EventCodeKeyPressed, t, func(_ SystemEventCode, _ interface{}, _ interface{}, data EventContext) bool {
		pressed = append(pressed, KeyCode(data.Data.U16[0]))
		return true
	})
	bus.Register(EventCodeKeyReleased, t, func(_ SystemEventCode, _ interface{}, _ interface{}, data EventContext) bool {
		released = append(released, KeyCode(data.Data.U16[0]))
		return true
	})

	in := NewInput(bus)
	in.ProcessKey(KeyW, true)
	in.ProcessKey(KeyW, true)
	in.ProcessKey(KeyUnknown, true)
	if len(pressed) != 1 || pressed[0] != KeyW {
		t.Errorf("pressed events = %v, want [W]", pressed)
	}
	if !in.IsKeyDown(KeyW) || in.IsKeyUp(KeyW) {
		t.Errorf("W should be down")
	}

	in.ProcessKey(KeyW, false)
	if len(released) != 1 || released[0] != KeyW {
		t.Errorf("released events = %v, want [W]", released)
	}
}

func TestInputUpdate(t *testing.T) {
	in := NewInput(nil)
	in.ProcessKey(KeySpace, true)
	if in.WasKeyDown(KeySpace) {
		t.Errorf("previous state changed before Update")
	}
	in.Update()
	if !in.WasKeyDown(KeySpace) {
		t.Errorf("Update did not copy the current state")
	}
	in.ProcessKey(KeySpace, false)
	if !in.WasKeyDown(KeySpace) || in.IsKeyDown(KeySpace) {
		t.Errorf("release should only affect the current state")
	}
}
