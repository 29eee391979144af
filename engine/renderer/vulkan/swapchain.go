package vulkan

import (
	"errors"
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/core"
	mielmath "github.com/spaghettifunk/miel/engine/math"
)

var ErrNoImageAcquired = errors.New("no swapchain image acquired")

// DefaultExtent is used when neither the surface nor the caller pick a size.
var DefaultExtent = vk.Extent2D{Width: 1280, Height: 720}

type NextImageState uint8

const (
	NextImageOk NextImageState = iota
	// The image can be rendered and presented but the swapchain no longer
	// matches the surface exactly.
	NextImageSuboptimal
	// The swapchain can no longer present and must be rebuilt.
	NextImageOutOfDate
)

func (s NextImageState) String() string {
	switch s {
	case NextImageOk:
		return "ok"
	case NextImageSuboptimal:
		return "suboptimal"
	case NextImageOutOfDate:
		return "out-of-date"
	}
	return fmt.Sprintf("NextImageState(%d)", uint8(s))
}

// ImageResources are the attachments of the currently acquired slot. Both
// point into the swapchain, so layout changes recorded through them stick.
type ImageResources struct {
	Color *ImageState
	Depth *Image
}

type swapchainImage struct {
	color           ImageState
	depth           *Image
	renderSemaphore vk.Semaphore
}

type Swapchain struct {
	handle vk.Swapchain
	extent vk.Extent2D
	format vk.SurfaceFormat
	images []*swapchainImage

	imageAcquiredSemaphore vk.Semaphore
	presentFence           *Fence

	// -1 until the first successful acquire.
	currentImage int

	// acquirePending is set while the acquired image's semaphore has not
	// been waited on by a submission.
	acquirePending bool

	// retired is set once handle was passed as the old swapchain of a
	// creation, even a failed one. A retired swapchain acquires nothing.
	retired bool

	surface   Surface
	suggested vk.Extent2D
	device    *DeviceRef
	allocator *Allocator
	destroyed bool
}

// NewSwapchain builds a swapchain for surface. suggested is the extent used
// when the surface lets the application choose.
func NewSwapchain(device *DeviceRef, allocator *Allocator, surface Surface, suggested vk.Extent2D) (*Swapchain, error) {
	if suggested.Width == 0 || suggested.Height == 0 {
		suggested = DefaultExtent
	}
	sc := &Swapchain{
		surface:      surface,
		suggested:    suggested,
		device:       device,
		allocator:    allocator,
		currentImage: -1,
	}
	if err := sc.create(nil); err != nil {
		sc.teardown()
		return nil, err
	}
	return sc, nil
}

// create builds a swapchain on sc, which must hold no native objects. old,
// when set, is retired in favour of the new one.
func (sc *Swapchain) create(old *Swapchain) error {
	caps, err := sc.surface.Capabilities()
	if err != nil {
		return fmt.Errorf("swapchain: surface capabilities: %w", err)
	}
	caps.Deref()

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	extent := caps.CurrentExtent
	extent.Deref()
	if extent.Width == math.MaxUint32 {
		minExtent, maxExtent := caps.MinImageExtent, caps.MaxImageExtent
		minExtent.Deref()
		maxExtent.Deref()
		extent = sc.suggested
		if maxExtent.Width > 0 && maxExtent.Height > 0 {
			extent.Width = mielmath.Clamp(extent.Width, minExtent.Width, maxExtent.Width)
			extent.Height = mielmath.Clamp(extent.Height, minExtent.Height, maxExtent.Height)
		}
	}
	sc.extent = extent
	sc.format = sc.surface.Format()

	dev := sc.device.Lock()
	sc.imageAcquiredSemaphore, err = dev.CreateSemaphore()
	if err != nil {
		sc.device.Unlock()
		return fmt.Errorf("swapchain: sync objects: %w", err)
	}
	sc.device.Unlock()

	sc.presentFence, err = NewFence(sc.device, true)
	if err != nil {
		return fmt.Errorf("swapchain: sync objects: %w", err)
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          sc.surface.Handle(),
		MinImageCount:    imageCount,
		ImageFormat:      sc.format.Format,
		ImageColorSpace:  sc.format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      sc.surface.PresentMode(),
		Clipped:          vk.True,
	}
	if old != nil && !old.retired {
		createInfo.OldSwapchain = old.handle
	}

	dev = sc.device.Lock()
	sc.handle, err = dev.CreateSwapchain(&createInfo)
	if createInfo.OldSwapchain != nil {
		old.retired = true
	}
	if err != nil {
		sc.device.Unlock()
		return fmt.Errorf("swapchain: %w", err)
	}
	handles, err := dev.SwapchainImages(sc.handle)
	if err != nil {
		sc.device.Unlock()
		return fmt.Errorf("swapchain: fetch images: %w", err)
	}

	colorRange := vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
	extent3D := vk.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1}

	for _, handle := range handles {
		slot := &swapchainImage{}
		sc.images = append(sc.images, slot)

		slot.renderSemaphore, err = dev.CreateSemaphore()
		if err != nil {
			sc.device.Unlock()
			return fmt.Errorf("swapchain: sync objects: %w", err)
		}
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    handle,
			ViewType: vk.ImageViewType2d,
			Format:   sc.format.Format,
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleR,
				G: vk.ComponentSwizzleG,
				B: vk.ComponentSwizzleB,
				A: vk.ComponentSwizzleA,
			},
			SubresourceRange: colorRange,
		}
		view, err := dev.CreateImageView(&viewInfo)
		if err != nil {
			sc.device.Unlock()
			return fmt.Errorf("swapchain: image views: %w", err)
		}
		slot.color = ImageState{
			Handle:           handle,
			View:             view,
			Layout:           vk.ImageLayoutUndefined,
			Format:           sc.format.Format,
			Extent:           extent3D,
			Extent2D:         extent,
			SubresourceRange: colorRange,
		}
	}
	sc.device.Unlock()

	depthInfo := SwapchainDepthImageInfo(extent3D)
	for _, slot := range sc.images {
		slot.depth, err = depthInfo.Build(sc.device, sc.allocator)
		if err != nil {
			return fmt.Errorf("swapchain: depth image: %w", err)
		}
	}

	core.LogInfo("Swapchain created: %dx%d, %d images.", extent.Width, extent.Height, len(sc.images))
	return nil
}

// NextImage acquires the next presentable image, blocking until one is
// available. An image whose frame was never submitted is handed out again
// instead, since its acquire semaphore is still pending.
func (sc *Swapchain) NextImage() (NextImageState, error) {
	if sc.retired {
		return NextImageOutOfDate, nil
	}
	if sc.acquirePending && sc.currentImage >= 0 {
		core.LogDebug("Reusing swapchain image %d of an unsubmitted frame.", sc.currentImage)
		return NextImageOk, nil
	}

	dev := sc.device.RLock()
	index, res := dev.AcquireNextImage(sc.handle, InfiniteTimeout, sc.imageAcquiredSemaphore)
	sc.device.RUnlock()

	var state NextImageState
	switch res {
	case vk.Success:
		state = NextImageOk
	case vk.Suboptimal:
		state = NextImageSuboptimal
	case vk.ErrorOutOfDate:
		return NextImageOutOfDate, nil
	default:
		return NextImageOk, fmt.Errorf("swapchain: acquire: %w", newError("vkAcquireNextImageKHR", res))
	}

	if int(index) >= len(sc.images) {
		return NextImageOk, fmt.Errorf("swapchain: acquired index out of range (%d, max is %d)", index, len(sc.images))
	}
	sc.currentImage = int(index)
	sc.acquirePending = true
	return state, nil
}

// acquireConsumed records that a submission waited on the acquire semaphore.
func (sc *Swapchain) acquireConsumed() {
	sc.acquirePending = false
}

func (sc *Swapchain) CurrentImageResources() (ImageResources, error) {
	if sc.currentImage < 0 || sc.currentImage >= len(sc.images) {
		return ImageResources{}, ErrNoImageAcquired
	}
	slot := sc.images[sc.currentImage]
	return ImageResources{Color: &slot.color, Depth: slot.depth}, nil
}

// EnsurePresentable records a transition of the current color image to the
// present layout, unless it is already there.
func (sc *Swapchain) EnsurePresentable(cmd vk.CommandBuffer) error {
	res, err := sc.CurrentImageResources()
	if err != nil {
		return err
	}
	if res.Color.Layout == vk.ImageLayoutPresentSrc {
		return nil
	}

	dev := sc.device.RLock()
	res.Color.CmdLayoutTransition(dev, cmd,
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		vk.ImageMemoryBarrier{
			SrcAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			DstAccessMask: 0,
			NewLayout:     vk.ImageLayoutPresentSrc,
		})
	sc.device.RUnlock()
	return nil
}

// Present queues the current image for presentation once its render
// semaphore is signalled. Every non-success status is returned, out of date
// included; suboptimal counts as success.
func (sc *Swapchain) Present() error {
	if sc.currentImage < 0 || sc.currentImage >= len(sc.images) {
		return ErrNoImageAcquired
	}
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sc.images[sc.currentImage].renderSemaphore},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.handle},
		PImageIndices:      []uint32{uint32(sc.currentImage)},
	}

	dev := sc.device.RLock()
	res := dev.QueuePresent(&presentInfo)
	sc.device.RUnlock()
	if res != vk.Success && res != vk.Suboptimal {
		return fmt.Errorf("swapchain: present: %w", newError("vkQueuePresentKHR", res))
	}
	return nil
}

// Recreate builds a new swapchain against the same suggested extent and
// fresh surface capabilities, then releases the old one. If building fails
// the old swapchain stays in place, so the call can be retried.
func (sc *Swapchain) Recreate() error {
	if sc.destroyed {
		return errors.New("swapchain: recreate after destroy")
	}
	next := &Swapchain{
		surface:      sc.surface,
		suggested:    sc.suggested,
		device:       sc.device,
		allocator:    sc.allocator,
		currentImage: -1,
	}
	if err := next.create(sc); err != nil {
		next.teardown()
		return err
	}

	old := sc.extent
	sc.teardown()
	*sc = *next
	core.LogInfo("Swapchain recreated: %dx%d -> %dx%d.", old.Width, old.Height, sc.extent.Width, sc.extent.Height)
	return nil
}

// Destroy waits for the device to go idle and releases everything. It is
// safe to call more than once.
func (sc *Swapchain) Destroy() {
	if sc == nil || sc.destroyed {
		return
	}
	sc.destroyed = true
	sc.teardown()
}

func (sc *Swapchain) teardown() {
	dev := sc.device.Lock()
	core.LogDebug("Waiting for device to be idle before destroying swapchain")
	if err := dev.WaitIdle(); err != nil {
		core.LogError("device wait idle before destroying swapchain: %s", err)
	}
	sc.device.Unlock()

	core.LogDebug("Destroying swapchain")
	sc.presentFence.Destroy()
	sc.presentFence = nil

	dev = sc.device.Lock()
	if sc.imageAcquiredSemaphore != nil {
		dev.DestroySemaphore(sc.imageAcquiredSemaphore)
		sc.imageAcquiredSemaphore = nil
	}
	for _, slot := range sc.images {
		if slot.renderSemaphore != nil {
			dev.DestroySemaphore(slot.renderSemaphore)
		}
		if slot.color.View != nil {
			dev.DestroyImageView(slot.color.View)
		}
	}
	if sc.handle != nil {
		dev.DestroySwapchain(sc.handle)
		sc.handle = nil
	}
	sc.device.Unlock()

	for _, slot := range sc.images {
		slot.depth.Destroy()
	}
	sc.images = nil
}

func (sc *Swapchain) Handle() vk.Swapchain {
	return sc.handle
}

func (sc *Swapchain) Extent() vk.Extent2D {
	return sc.extent
}

func (sc *Swapchain) Format() vk.SurfaceFormat {
	return sc.format
}

func (sc *Swapchain) ImageCount() int {
	return len(sc.images)
}

// CurrentIndex is the acquired slot, or -1.
func (sc *Swapchain) CurrentIndex() int {
	return sc.currentImage
}

func (sc *Swapchain) ImageAcquiredSemaphore() vk.Semaphore {
	return sc.imageAcquiredSemaphore
}

func (sc *Swapchain) PresentFence() *Fence {
	return sc.presentFence
}

func (sc *Swapchain) CurrentRenderSemaphore() (vk.Semaphore, error) {
	if sc.currentImage < 0 || sc.currentImage >= len(sc.images) {
		return nil, ErrNoImageAcquired
	}
	return sc.images[sc.currentImage].renderSemaphore, nil
}
