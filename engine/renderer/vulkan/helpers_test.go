package vulkan_test

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan/vktest"
)

type testGPU struct {
	fake      *vktest.Device
	device    *vulkan.DeviceRef
	allocator *vulkan.Allocator
}

func newTestGPU(t *testing.T) *testGPU {
	t.Helper()
	return newTestGPUWith(t, vktest.NewDevice())
}

func newTestGPUWith(t *testing.T, fake *vktest.Device) *testGPU {
	t.Helper()
	device := vulkan.NewDeviceRef(fake)
	allocator, err := vulkan.NewAllocator(device)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	return &testGPU{fake: fake, device: device, allocator: allocator}
}

// checkClean fails the test if the fake saw invalid calls or still holds
// live objects.
func (g *testGPU) checkClean(t *testing.T) {
	t.Helper()
	for _, m := range g.fake.Misuse() {
		t.Errorf("device misuse: %s", m)
	}
	if live := g.fake.Live(); live.Total() != 0 {
		t.Errorf("leaked objects: %+v", live)
	}
}

func (g *testGPU) checkNoMisuse(t *testing.T) {
	t.Helper()
	for _, m := range g.fake.Misuse() {
		t.Errorf("device misuse: %s", m)
	}
}

// recordingCommandBuffer returns a command buffer in the recording state
// and a function releasing its pool.
func (g *testGPU) recordingCommandBuffer(t *testing.T) (vk.CommandBuffer, func()) {
	t.Helper()
	pool, err := g.fake.CreateCommandPool(&vk.CommandPoolCreateInfo{SType: vk.StructureTypeCommandPoolCreateInfo})
	if err != nil {
		t.Fatalf("CreateCommandPool: %v", err)
	}
	buffers, err := g.fake.AllocateCommandBuffers(&vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		t.Fatalf("AllocateCommandBuffers: %v", err)
	}
	if err := g.fake.BeginCommandBuffer(buffers[0], 0); err != nil {
		t.Fatalf("BeginCommandBuffer: %v", err)
	}
	return buffers[0], func() { g.fake.DestroyCommandPool(pool) }
}
