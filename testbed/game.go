package testbed

import (
	"time"

	"github.com/spaghettifunk/miel/engine"
	"github.com/spaghettifunk/miel/engine/core"
	"github.com/spaghettifunk/miel/engine/renderer"
	"github.com/spaghettifunk/miel/engine/renderer/graph"
	"github.com/spaghettifunk/miel/testbed/scene"
)

const statsInterval = 5 * time.Second

type TestGame struct {
	*engine.Game

	ctx       *renderer.Context
	scene     *scene.Scene
	sinceLast time.Duration
}

func NewTestGame(cfg *core.Config, configPath string) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Config:     cfg,
			ConfigPath: configPath,
		},
	}
	tg.FnBoot = tg.Boot
	tg.FnUpdate = tg.Update
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) Boot(ctx *renderer.Context) (*graph.RenderGraphInfo, error) {
	core.LogInfo("booting testbed...")
	s, info, err := scene.Build(ctx)
	if err != nil {
		return nil, err
	}
	g.ctx = ctx
	g.scene = s
	return info, nil
}

func (g *TestGame) Update(deltaTime time.Duration) error {
	g.sinceLast += deltaTime
	if g.sinceLast < statsInterval {
		return nil
	}
	g.sinceLast = 0
	metrics := g.ctx.Metrics()
	core.LogDebug("%.0f FPS, %s average frame time", metrics.FPS(), metrics.AverageFrameTime())
	return nil
}

func (g *TestGame) Shutdown(*renderer.Context) {
	core.LogInfo("shutting down testbed...")
	g.scene = nil
	g.ctx = nil
}
