package engine

import (
	"time"

	"github.com/spaghettifunk/miel/engine/core"
	"github.com/spaghettifunk/miel/engine/renderer"
	"github.com/spaghettifunk/miel/engine/renderer/graph"
)

// Game is what an application plugs into the engine.
type Game struct {
	Config *core.Config
	// ConfigPath, when set, is watched and reloaded while the game runs.
	ConfigPath string

	// Boot runs once the renderer exists. The returned graph is bound
	// before the first frame.
	FnBoot     Boot
	FnUpdate   Update
	FnShutdown Shutdown
}

type Boot func(ctx *renderer.Context) (*graph.RenderGraphInfo, error)
type Update func(deltaTime time.Duration) error

// Shutdown runs right before the renderer is destroyed.
type Shutdown func(ctx *renderer.Context)
