package graph

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
)

// ResourceAccessType is how a pass uses a color attachment. It decides the
// destination access mask of the barrier recorded before the pass.
type ResourceAccessType uint8

const (
	ReadOnly ResourceAccessType = iota
	WriteOnly
	ReadWrite
)

func (a ResourceAccessType) String() string {
	switch a {
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	case ReadWrite:
		return "read-write"
	}
	return "unknown"
}

func (a ResourceAccessType) colorAccessMask() vk.AccessFlags {
	switch a {
	case ReadOnly:
		return vk.AccessFlags(vk.AccessColorAttachmentReadBit)
	case WriteOnly:
		return vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	default:
		return vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit)
	}
}

type ColorAttachment struct {
	ID     ResourceID
	Access ResourceAccessType
}

// AttachmentInfo lists what a pass renders into. Color attachments keep the
// order they were added in, which is also their location in the shader.
type AttachmentInfo struct {
	ColorAttachments       []ColorAttachment
	DepthStencilAttachment *ResourceID
}

// RenderPass is one step of a render graph. RecordCommands runs inside a
// dynamic rendering scope set up from AttachmentInfo.
type RenderPass interface {
	Name() string
	AttachmentInfo() AttachmentInfo
	RecordCommands(res *FrameResources, cmd vk.CommandBuffer, device *vulkan.DeviceRef) error
}

// destroyer is implemented by passes that own GPU objects.
type destroyer interface {
	Destroy()
}

type CommandRecorder[T any] func(data *T, res *FrameResources, cmd vk.CommandBuffer, device *vulkan.DeviceRef) error

// SimpleRenderPass is a RenderPass built from a user value and a recorder
// closure over it.
type SimpleRenderPass[T any] struct {
	name        string
	attachments AttachmentInfo
	data        T
	recorder    CommandRecorder[T]
	onDestroy   func(data *T)
}

func NewSimpleRenderPass[T any](name string, data T) *SimpleRenderPass[T] {
	return &SimpleRenderPass[T]{name: name, data: data}
}

// AddColorAttachment appends id, or changes its access if it was already
// added.
func (p *SimpleRenderPass[T]) AddColorAttachment(id ResourceID, access ResourceAccessType) *SimpleRenderPass[T] {
	for i := range p.attachments.ColorAttachments {
		if p.attachments.ColorAttachments[i].ID == id {
			p.attachments.ColorAttachments[i].Access = access
			return p
		}
	}
	p.attachments.ColorAttachments = append(p.attachments.ColorAttachments, ColorAttachment{ID: id, Access: access})
	return p
}

func (p *SimpleRenderPass[T]) SetDepthAttachment(id ResourceID) *SimpleRenderPass[T] {
	p.attachments.DepthStencilAttachment = &id
	return p
}

func (p *SimpleRenderPass[T]) SetCommandRecorder(recorder CommandRecorder[T]) *SimpleRenderPass[T] {
	p.recorder = recorder
	return p
}

// OnDestroy registers a cleanup for data, run when the owning graph is
// destroyed.
func (p *SimpleRenderPass[T]) OnDestroy(fn func(data *T)) *SimpleRenderPass[T] {
	p.onDestroy = fn
	return p
}

func (p *SimpleRenderPass[T]) Data() *T {
	return &p.data
}

func (p *SimpleRenderPass[T]) Name() string {
	return p.name
}

func (p *SimpleRenderPass[T]) AttachmentInfo() AttachmentInfo {
	info := AttachmentInfo{
		ColorAttachments:       append([]ColorAttachment(nil), p.attachments.ColorAttachments...),
		DepthStencilAttachment: p.attachments.DepthStencilAttachment,
	}
	return info
}

// RecordCommands runs the recorder. A pass without one records nothing,
// which still clears its attachments.
func (p *SimpleRenderPass[T]) RecordCommands(res *FrameResources, cmd vk.CommandBuffer, device *vulkan.DeviceRef) error {
	if p.recorder == nil {
		return nil
	}
	return p.recorder(&p.data, res, cmd, device)
}

func (p *SimpleRenderPass[T]) Destroy() {
	if p.onDestroy != nil {
		p.onDestroy(&p.data)
		p.onDestroy = nil
	}
}
