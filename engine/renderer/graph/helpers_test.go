package graph_test

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan/vktest"
)

// testBuilder builds images on a fake device, sizing swapchain based ones to
// extent.
type testBuilder struct {
	fake      *vktest.Device
	device    *vulkan.DeviceRef
	allocator *vulkan.Allocator
	extent    vk.Extent2D
	built     int
}

func newTestBuilder(t *testing.T) *testBuilder {
	t.Helper()
	fake := vktest.NewDevice()
	device := vulkan.NewDeviceRef(fake)
	allocator, err := vulkan.NewAllocator(device)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	return &testBuilder{fake: fake, device: device, allocator: allocator, extent: vk.Extent2D{Width: 64, Height: 32}}
}

func (b *testBuilder) BuildImage(info vulkan.ImageCreateInfo) (*vulkan.Image, error) {
	if info.ImageInfo.Extent.Width == 0 || info.ImageInfo.Extent.Height == 0 {
		info.ImageInfo.Extent = vk.Extent3D{Width: b.extent.Width, Height: b.extent.Height, Depth: 1}
	}
	b.built++
	return info.Build(b.device, b.allocator)
}

func (b *testBuilder) checkClean(t *testing.T) {
	t.Helper()
	for _, m := range b.fake.Misuse() {
		t.Errorf("device misuse: %s", m)
	}
	if live := b.fake.Live(); live.Total() != 0 {
		t.Errorf("leaked objects: %+v", live)
	}
}

// frame is an acquired swapchain slot plus a command buffer in the
// recording state.
type frame struct {
	swapchain *vulkan.Swapchain
	resources vulkan.ImageResources
	cmd       vk.CommandBuffer
	pool      vk.CommandPool
}

func (b *testBuilder) newFrame(t *testing.T) *frame {
	t.Helper()
	swapchain, err := vulkan.NewSwapchain(b.device, b.allocator, vktest.NewSurface(b.extent.Width, b.extent.Height), b.extent)
	if err != nil {
		t.Fatalf("NewSwapchain: %v", err)
	}
	if _, err := swapchain.NextImage(); err != nil {
		t.Fatalf("NextImage: %v", err)
	}
	resources, err := swapchain.CurrentImageResources()
	if err != nil {
		t.Fatalf("CurrentImageResources: %v", err)
	}

	pool, err := b.fake.CreateCommandPool(&vk.CommandPoolCreateInfo{SType: vk.StructureTypeCommandPoolCreateInfo})
	if err != nil {
		t.Fatalf("CreateCommandPool: %v", err)
	}
	buffers, err := b.fake.AllocateCommandBuffers(&vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		t.Fatalf("AllocateCommandBuffers: %v", err)
	}
	if err := b.fake.BeginCommandBuffer(buffers[0], 0); err != nil {
		t.Fatalf("BeginCommandBuffer: %v", err)
	}
	return &frame{swapchain: swapchain, resources: resources, cmd: buffers[0], pool: pool}
}

func (b *testBuilder) releaseFrame(f *frame) {
	b.fake.DestroyCommandPool(f.pool)
	f.swapchain.Destroy()
}
