package graph

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/core"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
)

var ErrGraphInfoConsumed = errors.New("render graph info was already used to build a graph")

// RenderGraphInfo is a graph under construction: the attachment
// descriptions and the ordered passes using them.
type RenderGraphInfo struct {
	registry *ResourceInfoRegistry
	passes   []RenderPass
	consumed bool
}

func NewRenderGraphInfo(registry *ResourceInfoRegistry) *RenderGraphInfo {
	if registry == nil {
		registry = NewResourceInfoRegistry()
	}
	return &RenderGraphInfo{registry: registry}
}

// PushRenderPass appends pass. Passes run in the order they were pushed.
func (i *RenderGraphInfo) PushRenderPass(pass RenderPass) *RenderGraphInfo {
	i.passes = append(i.passes, pass)
	return i
}

func (i *RenderGraphInfo) Registry() *ResourceInfoRegistry {
	return i.registry
}

// RenderGraph owns its attachment images and passes and replays the passes
// for every frame.
type RenderGraph struct {
	passes    []RenderPass
	resources *GraphResourceRegistry
}

// EmptyRenderGraph renders nothing. It is bound until the host binds its own
// graph.
func EmptyRenderGraph() *RenderGraph {
	return &RenderGraph{resources: &GraphResourceRegistry{attachments: map[ResourceID]*ImageAttachment{}}}
}

// NewRenderGraph creates every attachment of info and takes ownership of its
// passes. info cannot be used again afterwards.
func NewRenderGraph(info *RenderGraphInfo, builder ImageBuilder) (*RenderGraph, error) {
	if info.consumed {
		return nil, ErrGraphInfoConsumed
	}
	info.consumed = true

	resources, err := info.registry.CreateResources(builder)
	if err != nil {
		return nil, fmt.Errorf("creating render graph resources: %w", err)
	}
	core.LogDebug("render graph built with %d passes and %d attachments", len(info.passes), resources.Len())
	return &RenderGraph{passes: info.passes, resources: resources}, nil
}

func (g *RenderGraph) Passes() []RenderPass {
	return g.passes
}

func (g *RenderGraph) Resources() *GraphResourceRegistry {
	return g.resources
}

// Render records every pass into cmd. cmd must be recording and frame must
// be the swapchain slot acquired for this frame.
func (g *RenderGraph) Render(frame vulkan.ImageResources, cmd vk.CommandBuffer, device *vulkan.DeviceRef) error {
	res := NewFrameResources(g.resources, frame)
	for _, pass := range g.passes {
		if err := g.renderPass(pass, res, frame, cmd, device); err != nil {
			return fmt.Errorf("render pass %q: %w", pass.Name(), err)
		}
	}
	return nil
}

func (g *RenderGraph) renderPass(pass RenderPass, res *FrameResources, frame vulkan.ImageResources, cmd vk.CommandBuffer, device *vulkan.DeviceRef) error {
	info := pass.AttachmentInfo()

	colors := make([]*vulkan.ImageState, 0, len(info.ColorAttachments))
	for _, attachment := range info.ColorAttachments {
		state, err := res.ImageState(attachment.ID)
		if err != nil {
			return err
		}
		colors = append(colors, state)
	}
	var depth *vulkan.ImageState
	if info.DepthStencilAttachment != nil {
		state, err := res.ImageState(*info.DepthStencilAttachment)
		if err != nil {
			return err
		}
		depth = state
	}

	dev := device.RLock()
	for i, state := range colors {
		if state.Layout == vk.ImageLayoutColorAttachmentOptimal {
			continue
		}
		state.CmdLayoutTransition(dev, cmd,
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			vk.ImageMemoryBarrier{
				SrcAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
				DstAccessMask: info.ColorAttachments[i].Access.colorAccessMask(),
				NewLayout:     vk.ImageLayoutColorAttachmentOptimal,
			})
	}
	if depth != nil && depth.Layout != vk.ImageLayoutDepthStencilAttachmentOptimal {
		depth.CmdLayoutTransition(dev, cmd,
			vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit),
			vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			vk.ImageMemoryBarrier{
				SrcAccessMask: vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
				DstAccessMask: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit),
				NewLayout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
			})
	}

	renderingInfo := renderingInfo(colors, depth, frame)
	dev.CmdBeginRendering(cmd, &renderingInfo)
	device.RUnlock()

	recordErr := pass.RecordCommands(res, cmd, device)

	dev = device.RLock()
	dev.CmdEndRendering(cmd)
	device.RUnlock()
	return recordErr
}

// renderingInfo covers the first color attachment, or the depth attachment
// for depth-only passes. Every attachment is cleared on load and stored.
func renderingInfo(colors []*vulkan.ImageState, depth *vulkan.ImageState, frame vulkan.ImageResources) vk.RenderingInfo {
	var extent vk.Extent2D
	switch {
	case len(colors) > 0:
		extent = colors[0].Extent2D
	case depth != nil:
		extent = depth.Extent2D
	case frame.Color != nil:
		extent = frame.Color.Extent2D
	}

	colorInfos := make([]vk.RenderingAttachmentInfo, 0, len(colors))
	for _, state := range colors {
		colorInfos = append(colorInfos, vk.RenderingAttachmentInfo{
			SType:       vk.StructureTypeRenderingAttachmentInfo,
			ImageView:   state.View,
			ImageLayout: vk.ImageLayoutColorAttachmentOptimal,
			LoadOp:      vk.AttachmentLoadOpClear,
			StoreOp:     vk.AttachmentStoreOpStore,
		})
	}

	info := vk.RenderingInfo{
		SType:                vk.StructureTypeRenderingInfo,
		RenderArea:           vk.Rect2D{Extent: extent},
		LayerCount:           1,
		ColorAttachmentCount: uint32(len(colorInfos)),
		PColorAttachments:    colorInfos,
	}
	if depth != nil {
		var clear vk.ClearValue
		clear.SetDepthStencil(1, 0)
		info.PDepthAttachment = []vk.RenderingAttachmentInfo{{
			SType:       vk.StructureTypeRenderingAttachmentInfo,
			ImageView:   depth.View,
			ImageLayout: vk.ImageLayoutDepthStencilAttachmentOptimal,
			LoadOp:      vk.AttachmentLoadOpClear,
			StoreOp:     vk.AttachmentStoreOpStore,
			ClearValue:  clear,
		}}
	}
	return info
}

// Destroy releases the graph's images and any pass that owns GPU objects.
// The GPU must be idle.
func (g *RenderGraph) Destroy() {
	if g == nil {
		return
	}
	for _, pass := range g.passes {
		if d, ok := pass.(destroyer); ok {
			d.Destroy()
		}
	}
	g.passes = nil
	g.resources.Destroy()
}
