// Package scene declares the testbed render graph: a scene pass drawing a
// quad into the swapchain and an offscreen target, and a minimap pass
// reading that target.
package scene

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/core"
	"github.com/spaghettifunk/miel/engine/math"
	"github.com/spaghettifunk/miel/engine/renderer"
	"github.com/spaghettifunk/miel/engine/renderer/graph"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
)

var MinimapExtent = vk.Extent3D{Width: 256, Height: 256, Depth: 1}

var quadVertices = []vulkan.SimpleVertex{
	{Position: math.NewVec3(-0.5, -0.5, 0)},
	{Position: math.NewVec3(0.5, -0.5, 0)},
	{Position: math.NewVec3(0.5, 0.5, 0)},
	{Position: math.NewVec3(-0.5, 0.5, 0)},
}

var quadIndices = []uint32{0, 1, 2, 2, 3, 0}

type Scene struct {
	Offscreen graph.ResourceID
	Minimap   graph.ResourceID
	Quad      *vulkan.Mesh[vulkan.SimpleVertex]
}

type sceneData struct {
	quad *vulkan.Mesh[vulkan.SimpleVertex]
}

// Build uploads the quad and declares the graph. The quad belongs to the
// scene pass and is destroyed with the graph.
func Build(ctx *renderer.Context) (*Scene, *graph.RenderGraphInfo, error) {
	quad, err := vulkan.NewMesh(ctx.Uploads(), "quad", quadVertices, quadIndices)
	if err != nil {
		return nil, nil, err
	}

	registry := graph.NewResourceInfoRegistry()
	offscreen, err := registry.AddImageAttachment(graph.NewImageAttachmentInfo("offscreen").
		WithFormat(vk.FormatR16g16b16a16Sfloat).
		WithUsage(vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit)))
	if err != nil {
		quad.Destroy()
		return nil, nil, err
	}
	minimap, err := registry.AddImageAttachment(graph.NewImageAttachmentInfo("minimap").
		WithSize(graph.CustomSize(MinimapExtent)).
		WithFormat(vk.FormatR8g8b8a8Unorm))
	if err != nil {
		quad.Destroy()
		return nil, nil, err
	}

	scenePass := graph.NewSimpleRenderPass("scene", sceneData{quad: quad}).
		AddColorAttachment(graph.SwapchainColorAttachment, graph.WriteOnly).
		AddColorAttachment(offscreen, graph.WriteOnly).
		SetDepthAttachment(graph.SwapchainDepthAttachment).
		SetCommandRecorder(func(data *sceneData, _ *graph.FrameResources, cmd vk.CommandBuffer, device *vulkan.DeviceRef) error {
			data.quad.CmdBind(device, cmd)
			return nil
		}).
		OnDestroy(func(data *sceneData) {
			core.LogDebug("releasing mesh %q", data.quad.Name)
			data.quad.Destroy()
		})

	minimapPass := graph.NewSimpleRenderPass("minimap", struct{}{}).
		AddColorAttachment(minimap, graph.WriteOnly).
		AddColorAttachment(offscreen, graph.ReadOnly)

	info := graph.NewRenderGraphInfo(registry).
		PushRenderPass(scenePass).
		PushRenderPass(minimapPass)
	return &Scene{Offscreen: offscreen, Minimap: minimap, Quad: quad}, info, nil
}
