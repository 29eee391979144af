package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/core"
)

// ImageState is the tracked view of an image: its handles, shape and the
// layout it is currently in. Barrier helpers update Layout in place, so the
// value always reflects the layout the GPU will see next.
type ImageState struct {
	Handle           vk.Image
	View             vk.ImageView
	Layout           vk.ImageLayout
	Format           vk.Format
	Extent           vk.Extent3D
	Extent2D         vk.Extent2D
	SubresourceRange vk.ImageSubresourceRange
}

// CmdLayoutTransition records barrier on cmd. The barrier's old layout,
// image and subresource range are taken from the tracked state, which then
// moves to barrier.NewLayout.
func (s *ImageState) CmdLayoutTransition(device Device, cmd vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, barrier vk.ImageMemoryBarrier) {
	barrier.SType = vk.StructureTypeImageMemoryBarrier
	barrier.OldLayout = s.Layout
	barrier.Image = s.Handle
	barrier.SubresourceRange = s.SubresourceRange
	barrier.SrcQueueFamilyIndex = vk.QueueFamilyIgnored
	barrier.DstQueueFamilyIndex = vk.QueueFamilyIgnored
	device.CmdPipelineBarrier(cmd, srcStage, dstStage, []vk.ImageMemoryBarrier{barrier})
	s.Layout = barrier.NewLayout
}

// LayoutSnapshot remembers the layouts of a set of tracked images. Restoring
// it undoes the transitions of a command buffer that was never submitted.
type LayoutSnapshot struct {
	states  []*ImageState
	layouts []vk.ImageLayout
}

// SnapshotLayouts records the current layout of each state. Nil states are
// skipped.
func SnapshotLayouts(states ...*ImageState) LayoutSnapshot {
	var snapshot LayoutSnapshot
	for _, state := range states {
		if state == nil {
			continue
		}
		snapshot.states = append(snapshot.states, state)
		snapshot.layouts = append(snapshot.layouts, state.Layout)
	}
	return snapshot
}

func (s LayoutSnapshot) Restore() {
	for i, state := range s.states {
		state.Layout = s.layouts[i]
	}
}

type ImageCreateInfo struct {
	ImageInfo vk.ImageCreateInfo
	// ViewInfo.Image is filled in by Build.
	ViewInfo       vk.ImageViewCreateInfo
	AllocationName string
}

// SwapchainDepthImageInfo describes the per-slot depth buffer.
func SwapchainDepthImageInfo(extent vk.Extent3D) ImageCreateInfo {
	return ImageCreateInfo{
		ImageInfo: vk.ImageCreateInfo{
			SType:         vk.StructureTypeImageCreateInfo,
			ImageType:     vk.ImageType2d,
			Format:        vk.FormatD32Sfloat,
			Extent:        extent,
			MipLevels:     1,
			ArrayLayers:   1,
			Samples:       vk.SampleCount1Bit,
			Tiling:        vk.ImageTilingOptimal,
			Usage:         vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
			SharingMode:   vk.SharingModeExclusive,
			InitialLayout: vk.ImageLayoutUndefined,
		},
		ViewInfo: vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			ViewType: vk.ImageViewType2d,
			Format:   vk.FormatD32Sfloat,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectDepthBit),
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		},
		AllocationName: "swapchain depth image",
	}
}

// Image is a device image with its own memory and a single view.
type Image struct {
	State      ImageState
	LayerCount uint32

	allocation *Allocation
	device     *DeviceRef
	destroyed  bool
}

// Build creates the image, allocates and binds GPU-only memory and creates
// the view. On failure everything created so far is released.
func (info ImageCreateInfo) Build(device *DeviceRef, allocator *Allocator) (*Image, error) {
	imageInfo := info.ImageInfo
	imageInfo.SType = vk.StructureTypeImageCreateInfo
	viewInfo := info.ViewInfo
	viewInfo.SType = vk.StructureTypeImageViewCreateInfo

	dev := device.Lock()
	handle, err := dev.CreateImage(&imageInfo)
	if err != nil {
		device.Unlock()
		return nil, fmt.Errorf("image %q: %w", info.AllocationName, err)
	}
	requirements := dev.ImageMemoryRequirements(handle)
	device.Unlock()

	allocation, err := allocator.Allocate(AllocationDesc{
		Name:         info.AllocationName,
		Requirements: requirements,
		Location:     MemoryLocationGpuOnly,
		Linear:       imageInfo.Tiling == vk.ImageTilingLinear,
	})
	if err != nil {
		dev = device.Lock()
		dev.DestroyImage(handle)
		device.Unlock()
		return nil, fmt.Errorf("image %q: %w", info.AllocationName, err)
	}

	dev = device.Lock()
	if err := dev.BindImageMemory(handle, allocation.Memory(), allocation.Offset()); err != nil {
		dev.DestroyImage(handle)
		device.Unlock()
		allocation.Free()
		return nil, fmt.Errorf("image %q: %w", info.AllocationName, err)
	}
	viewInfo.Image = handle
	view, err := dev.CreateImageView(&viewInfo)
	if err != nil {
		dev.DestroyImage(handle)
		device.Unlock()
		allocation.Free()
		return nil, fmt.Errorf("image %q: %w", info.AllocationName, err)
	}
	device.Unlock()

	return &Image{
		State: ImageState{
			Handle:           handle,
			View:             view,
			Layout:           imageInfo.InitialLayout,
			Format:           imageInfo.Format,
			Extent:           imageInfo.Extent,
			Extent2D:         vk.Extent2D{Width: imageInfo.Extent.Width, Height: imageInfo.Extent.Height},
			SubresourceRange: viewInfo.SubresourceRange,
		},
		LayerCount: imageInfo.ArrayLayers,
		allocation: allocation,
		device:     device,
	}, nil
}

func (i *Image) Allocation() *Allocation {
	return i.allocation
}

// Destroy releases the view, then the image, then its memory. It is safe
// to call more than once.
func (i *Image) Destroy() {
	if i == nil || i.destroyed {
		return
	}
	i.destroyed = true

	dev := i.device.Lock()
	dev.DestroyImageView(i.State.View)
	dev.DestroyImage(i.State.Handle)
	i.device.Unlock()
	i.allocation.Free()

	core.LogDebug("image %q destroyed", i.allocation.Name())
	i.State.View = nil
	i.State.Handle = nil
}
