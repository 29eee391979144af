package platform

import (
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

var keyMap = map[glfw.Key]core.KeyCode{
	glfw.KeyEnter:  core.KeyEnter,
	glfw.KeyEscape: core.KeyEscape,
	glfw.KeySpace:  core.KeySpace,
	glfw.KeyLeft:   core.KeyLeft,
	glfw.KeyUp:     core.KeyUp,
	glfw.KeyRight:  core.KeyRight,
	glfw.KeyDown:   core.KeyDown,
	glfw.KeyA:      core.KeyA,
	glfw.KeyD:      core.KeyD,
	glfw.KeyR:      core.KeyR,
	glfw.KeyS:      core.KeyS,
	glfw.KeyW:      core.KeyW,
	glfw.KeyF1:     core.KeyF1,
}

// Window is a resizable GLFW window without a client API, presented to by
// Vulkan.
type Window struct {
	handle *glfw.Window
	events *core.EventBus
	input  *core.Input
}

func NewWindow(cfg core.WindowConfig, events *core.EventBus, input *core.Input) (*Window, error) {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return nil, err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	handle, err := glfw.CreateWindow(int(cfg.Width), int(cfg.Height), cfg.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		core.LogError("failed to create window: %s", err)
		return nil, err
	}
	w := &Window{handle: handle, events: events, input: input}

	handle.SetKeyCallback(w.keyCallback)
	handle.SetFramebufferSizeCallback(w.framebufferSizeCallback)
	handle.SetCloseCallback(w.closeCallback)
	handle.SetPos(int(cfg.X), int(cfg.Y))
	handle.Show()
	return w, nil
}

// PumpMessages processes pending window events. It returns false once the
// window was asked to close.
func (w *Window) PumpMessages() bool {
	glfw.PollEvents()
	return !w.handle.ShouldClose()
}

// WaitMessages blocks until a window event arrives, used while minimized.
func (w *Window) WaitMessages() {
	glfw.WaitEvents()
}

// PrePresentNotify has nothing to do on GLFW, which does not throttle
// redraws itself.
func (w *Window) PrePresentNotify() {}

func (w *Window) VulkanProcAddr() unsafe.Pointer {
	return glfw.GetVulkanGetInstanceProcAddress()
}

func (w *Window) RequiredInstanceExtensions() []string {
	return w.handle.GetRequiredInstanceExtensions()
}

func (w *Window) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	addr, err := w.handle.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, err
	}
	return vk.SurfaceFromPointer(addr), nil
}

func (w *Window) FramebufferSize() (uint32, uint32) {
	width, height := w.handle.GetFramebufferSize()
	return uint32(width), uint32(height)
}

func (w *Window) Close() {
	w.handle.SetShouldClose(true)
}

func (w *Window) Shutdown() {
	w.handle.Destroy()
	glfw.Terminate()
}

func (w *Window) keyCallback(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
	if action == glfw.Repeat {
		return
	}
	code, ok := keyMap[key]
	if !ok {
		return
	}
	w.input.ProcessKey(code, action == glfw.Press)
}

func (w *Window) framebufferSizeCallback(_ *glfw.Window, width, height int) {
	var ctx core.EventContext
	ctx.Data.U32[0] = uint32(width)
	ctx.Data.U32[1] = uint32(height)
	w.events.Fire(core.EventCodeResized, w, ctx)
}

func (w *Window) closeCallback(_ *glfw.Window) {
	w.events.Fire(core.EventCodeApplicationQuit, w, core.EventContext{})
}
