package renderer

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/core"
	"github.com/spaghettifunk/miel/engine/renderer/graph"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
)

var ErrContextDestroyed = errors.New("renderer context is destroyed")

// PresentNotifier is told right before a frame is handed to the
// presentation engine.
type PresentNotifier interface {
	PrePresentNotify()
}

// Window is the windowing side of a context: loader entry point, instance
// extensions and surface creation.
type Window interface {
	PresentNotifier
	VulkanProcAddr() unsafe.Pointer
	RequiredInstanceExtensions() []string
	CreateSurface(instance vk.Instance) (vk.Surface, error)
}

type ContextCreateInfo struct {
	ApplicationName    string
	ApplicationVersion uint32
	// SuggestedExtent sizes the swapchain when the surface lets the
	// application choose.
	SuggestedExtent vk.Extent2D
	Validation      bool
	PresentMode     vk.PresentMode
}

// Context owns every GPU object of a renderer and drives one frame at a
// time through the bound render graph.
type Context struct {
	instance  *vulkan.Instance
	surface   vulkan.Surface
	device    *vulkan.DeviceRef
	allocator *vulkan.Allocator
	swapchain *vulkan.Swapchain
	commands  *vulkan.CommandManager
	graph     *graph.RenderGraph

	metrics         core.FrameMetrics
	lastFrame       time.Time
	recreatePending bool
	destroyed       bool
}

// NewContext creates the instance, surface and device for window and then
// everything NewContextWithDevice creates.
func NewContext(window Window, info ContextCreateInfo) (*Context, error) {
	if err := vulkan.InitLoader(window.VulkanProcAddr()); err != nil {
		return nil, err
	}
	instance, err := vulkan.NewInstance(vulkan.InstanceCreateInfo{
		ApplicationName:    info.ApplicationName,
		ApplicationVersion: info.ApplicationVersion,
		Extensions:         window.RequiredInstanceExtensions(),
		Validation:         info.Validation,
	})
	if err != nil {
		return nil, err
	}

	surfaceHandle, err := window.CreateSurface(instance.Handle)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("failed to create window surface: %w", err)
	}
	physical, err := vulkan.SelectPhysicalDevice(instance.Handle, surfaceHandle)
	if err != nil {
		vk.DestroySurface(instance.Handle, surfaceHandle, nil)
		instance.Destroy()
		return nil, err
	}
	surface, err := vulkan.NewPresentationSurface(instance.Handle, physical.Handle, surfaceHandle, info.PresentMode)
	if err != nil {
		vk.DestroySurface(instance.Handle, surfaceHandle, nil)
		instance.Destroy()
		return nil, err
	}
	device, err := vulkan.NewLogicalDevice(physical)
	if err != nil {
		surface.Destroy()
		instance.Destroy()
		return nil, err
	}

	ctx, err := NewContextWithDevice(device, surface, info)
	if err != nil {
		device.Destroy()
		surface.Destroy()
		instance.Destroy()
		return nil, err
	}
	ctx.instance = instance
	return ctx, nil
}

// NewContextWithDevice builds the allocator, swapchain and command buffers
// on an already selected device and binds an empty graph. On success the
// context owns device and surface; on failure the caller still does.
func NewContextWithDevice(device vulkan.Device, surface vulkan.Surface, info ContextCreateInfo) (*Context, error) {
	ref := vulkan.NewDeviceRef(device)
	allocator, err := vulkan.NewAllocator(ref)
	if err != nil {
		return nil, err
	}
	swapchain, err := vulkan.NewSwapchain(ref, allocator, surface, info.SuggestedExtent)
	if err != nil {
		allocator.Destroy()
		return nil, err
	}
	commands, err := vulkan.NewCommandManager(ref)
	if err != nil {
		swapchain.Destroy()
		allocator.Destroy()
		return nil, err
	}

	core.LogInfo("Renderer context ready: %dx%d swapchain with %d images.",
		swapchain.Extent().Width, swapchain.Extent().Height, swapchain.ImageCount())
	return &Context{
		surface:   surface,
		device:    ref,
		allocator: allocator,
		swapchain: swapchain,
		commands:  commands,
		graph:     graph.EmptyRenderGraph(),
		lastFrame: time.Now(),
	}, nil
}

// BindRenderGraph builds info and replaces the bound graph with it. The
// previous graph and its images are destroyed once the new one exists; if
// building fails the previous graph stays bound.
func (c *Context) BindRenderGraph(info *graph.RenderGraphInfo) error {
	if c.destroyed {
		return ErrContextDestroyed
	}
	next, err := graph.NewRenderGraph(info, c)
	if err != nil {
		return err
	}
	if err := c.waitIdle(); err != nil {
		next.Destroy()
		return err
	}
	c.graph.Destroy()
	c.graph = next
	return nil
}

// RequestRecreate rebuilds the swapchain before the next frame, for example
// after the window was resized.
func (c *Context) RequestRecreate() {
	c.recreatePending = true
}

// RenderFrame renders and presents one frame. A swapchain that went out of
// date is rebuilt and the frame is skipped without error.
func (c *Context) RenderFrame(window PresentNotifier) error {
	if c.destroyed {
		return ErrContextDestroyed
	}
	if err := c.swapchain.PresentFence().Wait(vulkan.InfiniteTimeout); err != nil {
		return fmt.Errorf("waiting for the previous frame: %w", err)
	}

	if c.recreatePending {
		c.recreatePending = false
		if err := c.recreateSwapchain(); err != nil {
			return err
		}
	}

	state, err := c.swapchain.NextImage()
	if err != nil {
		return err
	}
	switch state {
	case vulkan.NextImageOutOfDate:
		core.LogDebug("Swapchain out of date, recreating.")
		return c.recreateSwapchain()
	case vulkan.NextImageSuboptimal:
		core.LogWarn("Swapchain is suboptimal for the surface.")
	}

	frame, err := c.swapchain.CurrentImageResources()
	if err != nil {
		return err
	}
	tracked := append(c.graph.Resources().ImageStates(), frame.Color)
	if frame.Depth != nil {
		tracked = append(tracked, &frame.Depth.State)
	}
	layouts := vulkan.SnapshotLayouts(tracked...)

	err = c.commands.RenderCommand(c.swapchain, func(cmd vk.CommandBuffer, frame vulkan.ImageResources) error {
		return c.graph.Render(frame, cmd, c.device)
	})
	if err != nil {
		// Nothing was submitted, so the images are still where they were.
		layouts.Restore()
		return err
	}

	window.PrePresentNotify()
	if err := c.swapchain.Present(); err != nil {
		if vulkan.IsOutOfDate(err) {
			c.recreatePending = true
		}
		return err
	}

	now := time.Now()
	c.metrics.Update(now.Sub(c.lastFrame))
	c.lastFrame = now
	return nil
}

func (c *Context) recreateSwapchain() error {
	before := c.swapchain.Extent()
	if err := c.swapchain.Recreate(); err != nil {
		c.recreatePending = true
		return fmt.Errorf("recreating swapchain: %w", err)
	}
	if c.swapchain.Extent() != before {
		if err := c.graph.Resources().RecreateSwapchainSized(c); err != nil {
			return fmt.Errorf("resizing render graph attachments: %w", err)
		}
	}
	return nil
}

// BuildImage creates an image on this context's device. A zero extent is
// replaced by the swapchain extent.
func (c *Context) BuildImage(info vulkan.ImageCreateInfo) (*vulkan.Image, error) {
	if c.destroyed {
		return nil, ErrContextDestroyed
	}
	extent := &info.ImageInfo.Extent
	if extent.Width == 0 || extent.Height == 0 {
		swapchainExtent := c.swapchain.Extent()
		*extent = vk.Extent3D{Width: swapchainExtent.Width, Height: swapchainExtent.Height, Depth: 1}
	}
	if extent.Depth == 0 {
		extent.Depth = 1
	}
	return info.Build(c.device, c.allocator)
}

// Uploads returns what mesh and buffer uploads need.
func (c *Context) Uploads() vulkan.UploadContext {
	return vulkan.UploadContext{Device: c.device, Allocator: c.allocator, Commands: c.commands}
}

// ImmediateCommand records and runs fn, blocking until the GPU finished.
// It must not be called from a pass recorder.
func (c *Context) ImmediateCommand(fn func(cmd vk.CommandBuffer)) error {
	if c.destroyed {
		return ErrContextDestroyed
	}
	return c.commands.ImmediateCommand(fn)
}

func (c *Context) Swapchain() *vulkan.Swapchain {
	return c.swapchain
}

func (c *Context) Commands() *vulkan.CommandManager {
	return c.commands
}

func (c *Context) Device() *vulkan.DeviceRef {
	return c.device
}

func (c *Context) Allocator() *vulkan.Allocator {
	return c.allocator
}

func (c *Context) Metrics() *core.FrameMetrics {
	return &c.metrics
}

func (c *Context) RenderGraph() *graph.RenderGraph {
	return c.graph
}

func (c *Context) waitIdle() error {
	dev := c.device.RLock()
	defer c.device.RUnlock()
	return dev.WaitIdle()
}

// Destroy waits for the GPU and releases everything the context owns, in
// reverse creation order.
func (c *Context) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true

	if err := c.waitIdle(); err != nil {
		core.LogError("waiting for the device before shutdown: %s", err)
	}
	c.graph.Destroy()
	c.commands.Destroy()
	c.swapchain.Destroy()
	c.allocator.Destroy()

	dev := c.device.Lock()
	dev.Destroy()
	c.device.Unlock()

	if s, ok := c.surface.(interface{ Destroy() }); ok {
		s.Destroy()
	}
	if c.instance != nil {
		c.instance.Destroy()
	}
	core.LogInfo("Renderer context destroyed.")
}
