package core

// KeyCode is a platform independent key.
type KeyCode uint16

const (
	KeyUnknown KeyCode = 0x00
	KeyEnter   KeyCode = 0x0D
	KeyEscape  KeyCode = 0x1B
	KeySpace   KeyCode = 0x20
	KeyLeft    KeyCode = 0x25
	KeyUp      KeyCode = 0x26
	KeyRight   KeyCode = 0x27
	KeyDown    KeyCode = 0x28
	KeyA       KeyCode = 0x41
	KeyD       KeyCode = 0x44
	KeyR       KeyCode = 0x52
	KeyS       KeyCode = 0x53
	KeyW       KeyCode = 0x57
	KeyF1      KeyCode = 0x70

	maxKeys = 256
)

type KeyboardState struct {
	Keys [maxKeys]bool
}

// Input holds the current and previous keyboard state and fires key events
// on the bus when a key changes.
type Input struct {
	current  KeyboardState
	previous KeyboardState
	bus      *EventBus
}

func NewInput(bus *EventBus) *Input {
	return &Input{bus: bus}
}

// Update copies the current state to the previous one. Call it once per
// frame, after the game update.
func (in *Input) Update() {
	in.previous = in.current
}

func (in *Input) IsKeyDown(key KeyCode) bool {
	return in.current.Keys[key%maxKeys]
}

func (in *Input) IsKeyUp(key KeyCode) bool {
	return !in.current.Keys[key%maxKeys]
}

func (in *Input) WasKeyDown(key KeyCode) bool {
	return in.previous.Keys[key%maxKeys]
}

// ProcessKey records a key state. An event is only fired when the state
// actually changed.
func (in *Input) ProcessKey(key KeyCode, pressed bool) {
	if key == KeyUnknown || in.current.Keys[key%maxKeys] == pressed {
		return
	}
	in.current.Keys[key%maxKeys] = pressed

	code := EventCodeKeyReleased
	if pressed {
		code = EventCodeKeyPressed
	}
	if in.bus != nil {
		var ctx EventContext
		ctx.Data.U16[0] = uint16(key)
		in.bus.Fire(code, in, ctx)
	}
}
