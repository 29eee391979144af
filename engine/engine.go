package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/core"
	"github.com/spaghettifunk/miel/engine/platform"
	"github.com/spaghettifunk/miel/engine/renderer"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything
	EngineStageShutdown
)

var ErrNotInitialized = errors.New("engine is not initialized")

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *core.Config

	events  *core.EventBus
	input   *core.Input
	window  *platform.Window
	context *renderer.Context
	watcher *core.ConfigWatcher
	clock   *core.Clock

	isRunning   atomic.Bool
	isSuspended bool
	width       uint32
	height      uint32

	shutdownOnce sync.Once
}

func New(g *Game) (*Engine, error) {
	cfg := g.Config
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	core.SetLogLevel(cfg.LogLevel())

	events := core.NewEventBus()
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       cfg,
		events:       events,
		input:        core.NewInput(events),
		clock:        core.NewClock(),
		width:        cfg.Window.Width,
		height:       cfg.Window.Height,
	}, nil
}

// Initialize opens the window, creates the renderer, boots the game and
// binds the graph it returns.
func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	e.events.Register(core.EventCodeApplicationQuit, e, e.onEvent)
	e.events.Register(core.EventCodeKeyPressed, e, e.onKey)
	e.events.Register(core.EventCodeResized, e, e.onResized)

	window, err := platform.NewWindow(e.config.Window, e.events, e.input)
	if err != nil {
		return err
	}
	e.window = window

	core.LogDebug("depth format: %s", e.config.Renderer.DepthFormat)
	ctx, err := renderer.NewContext(window, renderer.ContextCreateInfo{
		ApplicationName:    e.config.Application.Name,
		ApplicationVersion: e.config.VersionNumber(),
		SuggestedExtent:    vk.Extent2D{Width: e.config.Window.Width, Height: e.config.Window.Height},
		Validation:         e.config.Renderer.Validation,
		PresentMode:        vulkan.ParsePresentMode(e.config.Renderer.PresentMode),
	})
	if err != nil {
		window.Shutdown()
		return fmt.Errorf("failed to create the renderer: %w", err)
	}
	e.context = ctx

	if e.gameInstance.FnBoot != nil {
		info, err := e.gameInstance.FnBoot(ctx)
		if err != nil {
			e.releaseRenderer()
			return fmt.Errorf("game boot failed: %w", err)
		}
		if info != nil {
			if err := ctx.BindRenderGraph(info); err != nil {
				e.releaseRenderer()
				return fmt.Errorf("failed to bind the render graph: %w", err)
			}
		}
	}

	if e.gameInstance.ConfigPath != "" {
		watcher, err := core.NewConfigWatcher(e.gameInstance.ConfigPath, e.onConfigChanged)
		if err != nil {
			core.LogWarn("config hot reload disabled: %s", err)
		} else {
			e.watcher = watcher
		}
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("Engine initialized.")
	return nil
}

// Run drives frames until the window closes or RequestQuit is called. An
// out of date presentation is logged and the next frame rebuilds the
// swapchain; any other frame error stops the loop and is returned.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return ErrNotInitialized
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	lastTime := e.clock.Elapsed()
	for e.isRunning.Load() {
		if !e.window.PumpMessages() {
			break
		}
		if e.isSuspended {
			e.window.WaitMessages()
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - lastTime
		lastTime = currentTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				return fmt.Errorf("game update failed: %w", err)
			}
		}

		if err := e.context.RenderFrame(e.window); err != nil {
			if !vulkan.IsOutOfDate(err) {
				return fmt.Errorf("render frame failed: %w", err)
			}
			core.LogWarn("presentation out of date: %s", err)
		}

		// Input state is copied last so the next update sees this frame's
		// keys as the previous state.
		e.input.Update()
	}

	metrics := e.context.Metrics()
	core.LogInfo("Rendered %d frames, %.0f FPS, %s average frame time.", metrics.Frames(), metrics.FPS(), metrics.AverageFrameTime())
	return nil
}

// RequestQuit stops the loop at the end of the current frame. It is safe to
// call from any goroutine.
func (e *Engine) RequestQuit() {
	e.isRunning.Store(false)
}

// Shutdown releases everything Initialize created. Only the call that
// actually runs the teardown returns its result.
func (e *Engine) Shutdown() error {
	var err error
	e.shutdownOnce.Do(func() {
		e.currentStage = EngineStageShuttingDown
		if e.watcher != nil {
			err = e.watcher.Close()
		}
		if e.context != nil {
			e.releaseRenderer()
		}
		e.currentStage = EngineStageShutdown
		core.LogInfo("Engine shut down.")
	})
	return err
}

func (e *Engine) releaseRenderer() {
	if e.gameInstance.FnShutdown != nil {
		e.gameInstance.FnShutdown(e.context)
	}
	e.context.Destroy()
	e.context = nil
	e.window.Shutdown()
	e.window = nil
}

// GetFramebufferSize returns the width and height (in this order) of the
// last framebuffer size reported by the window.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onConfigChanged(cfg *core.Config) {
	core.SetLogLevel(cfg.LogLevel())
	core.LogInfo("Configuration reloaded, log level %s.", cfg.LogLevel())
}

func (e *Engine) onEvent(code core.SystemEventCode, _ interface{}, _ interface{}, _ core.EventContext) bool {
	if code == core.EventCodeApplicationQuit {
		core.LogInfo("Quit requested, shutting down.")
		e.RequestQuit()
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, _ interface{}, data core.EventContext) bool {
	if core.KeyCode(data.Data.U16[0]) == core.KeyEscape {
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		e.events.Fire(core.EventCodeApplicationQuit, sender, core.EventContext{})
		return true
	}
	return false
}

func (e *Engine) onResized(_ core.SystemEventCode, _ interface{}, _ interface{}, data core.EventContext) bool {
	width, height := data.Data.U32[0], data.Data.U32[1]
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.context != nil {
		e.context.RequestRecreate()
	}
	return true
}
