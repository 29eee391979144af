package vulkan_test

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan/vktest"
)

func requirements(size vk.DeviceSize) vk.MemoryRequirements {
	return vk.MemoryRequirements{Size: size, Alignment: 16, MemoryTypeBits: 0b11}
}

func TestAllocatorLocations(t *testing.T) {
	tests := []struct {
		name   string
		loc    vulkan.MemoryLocation
		mapped bool
	}{
		{name: "gpu only", loc: vulkan.MemoryLocationGpuOnly, mapped: false},
		{name: "cpu to gpu", loc: vulkan.MemoryLocationCpuToGpu, mapped: true},
		{name: "gpu to cpu", loc: vulkan.MemoryLocationGpuToCpu, mapped: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gpu := newTestGPU(t)
			allocation, err := gpu.allocator.Allocate(vulkan.AllocationDesc{
				Name:         tt.name,
				Requirements: requirements(64),
				Location:     tt.loc,
			})
			if err != nil {
				t.Fatalf("Allocate: %v", err)
			}
			if got := allocation.Size(); got != 64 {
				t.Errorf("Size() = %d, want 64", got)
			}
			if got := allocation.MappedSlice() != nil; got != tt.mapped {
				t.Errorf("mapped = %v, want %v", got, tt.mapped)
			}
			if tt.mapped && len(allocation.MappedSlice()) != 64 {
				t.Errorf("mapped length = %d, want 64", len(allocation.MappedSlice()))
			}
			if stats := gpu.allocator.Stats(); stats.Allocations != 1 || stats.Bytes != 64 {
				t.Errorf("Stats() = %+v, want 1 allocation of 64 bytes", stats)
			}

			allocation.Free()
			allocation.Free()
			if stats := gpu.allocator.Stats(); stats.Allocations != 0 || stats.Bytes != 0 {
				t.Errorf("Stats() after free = %+v, want empty", stats)
			}
			gpu.allocator.Destroy()
			gpu.checkClean(t)
		})
	}
}

func TestAllocatorNoSuitableMemoryType(t *testing.T) {
	gpu := newTestGPUWith(t, vktest.NewDeviceWithMemoryTypes(vk.MemoryPropertyDeviceLocalBit))
	_, err := gpu.allocator.Allocate(vulkan.AllocationDesc{
		Name:         "staging",
		Requirements: vk.MemoryRequirements{Size: 16, Alignment: 16, MemoryTypeBits: 0b1},
		Location:     vulkan.MemoryLocationCpuToGpu,
	})
	if !errors.Is(err, vulkan.ErrNoSuitableMemoryType) {
		t.Fatalf("Allocate error = %v, want ErrNoSuitableMemoryType", err)
	}
	gpu.allocator.Destroy()
	gpu.checkClean(t)
}

func TestAllocatorMapFailureReleasesMemory(t *testing.T) {
	gpu := newTestGPU(t)
	gpu.fake.FailNext(vktest.OpMapMemory, 1, vk.ErrorMemoryMapFailed)

	_, err := gpu.allocator.Allocate(vulkan.AllocationDesc{
		Name:         "upload",
		Requirements: requirements(32),
		Location:     vulkan.MemoryLocationCpuToGpu,
	})
	if !vulkan.HasResult(err, vk.ErrorMemoryMapFailed) {
		t.Fatalf("Allocate error = %v, want VK_ERROR_MEMORY_MAP_FAILED", err)
	}
	if stats := gpu.allocator.Stats(); stats.Allocations != 0 {
		t.Errorf("Stats() = %+v, want no allocations", stats)
	}
	gpu.allocator.Destroy()
	gpu.checkClean(t)
}

func TestAllocatorDestroyReleasesLeaks(t *testing.T) {
	gpu := newTestGPU(t)
	for i := 0; i < 3; i++ {
		if _, err := gpu.allocator.Allocate(vulkan.AllocationDesc{
			Name:         "leak",
			Requirements: requirements(8),
			Location:     vulkan.MemoryLocationCpuToGpu,
		}); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}
	if got := gpu.fake.Live().Memories; got != 3 {
		t.Fatalf("live memories = %d, want 3", got)
	}

	gpu.allocator.Destroy()
	gpu.checkClean(t)

	_, err := gpu.allocator.Allocate(vulkan.AllocationDesc{Name: "late", Requirements: requirements(8)})
	if !errors.Is(err, vulkan.ErrAllocatorDestroyed) {
		t.Errorf("Allocate after Destroy = %v, want ErrAllocatorDestroyed", err)
	}
}
