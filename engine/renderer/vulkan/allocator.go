package vulkan

import (
	"errors"
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/core"
)

var (
	ErrNoSuitableMemoryType = errors.New("no suitable memory type")
	ErrAllocatorDestroyed   = errors.New("allocator destroyed")
)

// MemoryLocation says who reads and writes an allocation.
type MemoryLocation uint8

const (
	// GPU reads and writes, no host access.
	MemoryLocationGpuOnly MemoryLocation = iota
	// Host writes, GPU reads. Persistently mapped.
	MemoryLocationCpuToGpu
	// GPU writes, host reads. Persistently mapped.
	MemoryLocationGpuToCpu
)

func (l MemoryLocation) String() string {
	switch l {
	case MemoryLocationGpuOnly:
		return "gpu-only"
	case MemoryLocationCpuToGpu:
		return "cpu-to-gpu"
	case MemoryLocationGpuToCpu:
		return "gpu-to-cpu"
	}
	return fmt.Sprintf("MemoryLocation(%d)", uint8(l))
}

func (l MemoryLocation) flags() (required, preferred vk.MemoryPropertyFlagBits) {
	switch l {
	case MemoryLocationCpuToGpu:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit, vk.MemoryPropertyDeviceLocalBit
	case MemoryLocationGpuToCpu:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit, vk.MemoryPropertyHostCachedBit
	}
	return vk.MemoryPropertyDeviceLocalBit, 0
}

func (l MemoryLocation) hostVisible() bool {
	return l != MemoryLocationGpuOnly
}

type AllocationDesc struct {
	// Name shows up in leak reports.
	Name         string
	Requirements vk.MemoryRequirements
	Location     MemoryLocation
	// Linear is set for buffers and linear-tiled images.
	Linear bool
}

// Allocation is an opaque block of device memory. It is freed exactly once,
// either explicitly with Free or when the allocator is destroyed.
type Allocation struct {
	name       string
	memory     vk.DeviceMemory
	offset     vk.DeviceSize
	size       vk.DeviceSize
	memoryType uint32
	location   MemoryLocation
	mapped     []byte
	allocator  *Allocator
	freed      bool
}

func (a *Allocation) Name() string {
	return a.name
}

func (a *Allocation) Memory() vk.DeviceMemory {
	return a.memory
}

func (a *Allocation) Offset() vk.DeviceSize {
	return a.offset
}

func (a *Allocation) Size() vk.DeviceSize {
	return a.size
}

func (a *Allocation) Location() MemoryLocation {
	return a.location
}

// MappedSlice returns the persistent mapping, or nil for GPU-only memory.
func (a *Allocation) MappedSlice() []byte {
	return a.mapped
}

// Free returns the memory to the device. Calling it again is a no-op.
func (a *Allocation) Free() {
	if a == nil || a.allocator == nil {
		return
	}
	a.allocator.free(a)
}

type AllocatorStats struct {
	Allocations int
	Bytes       uint64
}

// Allocator hands out one dedicated device memory block per resource. It is
// safe for concurrent use; its mutex is always taken before the device lock.
type Allocator struct {
	mutex      sync.Mutex
	device     *DeviceRef
	properties vk.PhysicalDeviceMemoryProperties
	live       map[*Allocation]struct{}
	bytes      uint64
	destroyed  bool
}

func NewAllocator(device *DeviceRef) (*Allocator, error) {
	if device == nil {
		return nil, errors.New("allocator needs a device")
	}
	dev := device.RLock()
	properties := dev.MemoryProperties()
	device.RUnlock()

	properties.Deref()
	if properties.MemoryTypeCount == 0 {
		return nil, fmt.Errorf("%w: device reports no memory types", ErrNoSuitableMemoryType)
	}
	return &Allocator{
		device:     device,
		properties: properties,
		live:       make(map[*Allocation]struct{}),
	}, nil
}

func (a *Allocator) Allocate(desc AllocationDesc) (*Allocation, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.destroyed {
		return nil, ErrAllocatorDestroyed
	}

	requirements := desc.Requirements
	requirements.Deref()
	required, preferred := desc.Location.flags()
	memoryType, err := findMemoryType(a.properties, requirements.MemoryTypeBits, required, preferred)
	if err != nil {
		return nil, fmt.Errorf("allocation %q (%s): %w", desc.Name, desc.Location, err)
	}

	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryType,
	}

	dev := a.device.Lock()
	defer a.device.Unlock()
	memory, err := dev.AllocateMemory(&info)
	if err != nil {
		return nil, fmt.Errorf("allocation %q: %w", desc.Name, err)
	}

	allocation := &Allocation{
		name:       desc.Name,
		memory:     memory,
		size:       requirements.Size,
		memoryType: memoryType,
		location:   desc.Location,
		allocator:  a,
	}
	if desc.Location.hostVisible() {
		mapped, err := dev.MapMemory(memory, 0, requirements.Size)
		if err != nil {
			dev.FreeMemory(memory)
			return nil, fmt.Errorf("allocation %q: %w", desc.Name, err)
		}
		allocation.mapped = mapped
	}

	a.live[allocation] = struct{}{}
	a.bytes += uint64(allocation.size)
	return allocation, nil
}

func (a *Allocator) free(allocation *Allocation) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if allocation.freed {
		return
	}
	a.release(allocation)
}

// release must be called with the allocator mutex held.
func (a *Allocator) release(allocation *Allocation) {
	allocation.freed = true
	delete(a.live, allocation)
	a.bytes -= uint64(allocation.size)

	dev := a.device.Lock()
	if allocation.mapped != nil {
		dev.UnmapMemory(allocation.memory)
		allocation.mapped = nil
	}
	dev.FreeMemory(allocation.memory)
	a.device.Unlock()
	allocation.memory = nil
}

func (a *Allocator) Stats() AllocatorStats {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return AllocatorStats{Allocations: len(a.live), Bytes: a.bytes}
}

// Destroy reports every allocation still alive and frees it. Later Allocate
// calls fail with ErrAllocatorDestroyed.
func (a *Allocator) Destroy() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.destroyed {
		return
	}
	a.destroyed = true
	for allocation := range a.live {
		core.LogWarn("leaked allocation %q (%d bytes, %s)", allocation.name, allocation.size, allocation.location)
		a.release(allocation)
	}
	core.LogDebug("allocator destroyed")
}

// findMemoryType returns the first memory type allowed by typeBits that has
// the required flags, favouring types that also carry the preferred flags.
func findMemoryType(properties vk.PhysicalDeviceMemoryProperties, typeBits uint32, required, preferred vk.MemoryPropertyFlagBits) (uint32, error) {
	lookup := func(flags vk.MemoryPropertyFlagBits) (uint32, bool) {
		for i := uint32(0); i < properties.MemoryTypeCount; i++ {
			memoryType := properties.MemoryTypes[i]
			memoryType.Deref()
			if typeBits&(1<<i) == 0 {
				continue
			}
			if vk.MemoryPropertyFlagBits(memoryType.PropertyFlags)&flags == flags {
				return i, true
			}
		}
		return 0, false
	}
	if preferred != 0 {
		if index, ok := lookup(required | preferred); ok {
			return index, nil
		}
	}
	if index, ok := lookup(required); ok {
		return index, nil
	}
	return 0, fmt.Errorf("%w: type bits %#x, flags %#x", ErrNoSuitableMemoryType, typeBits, uint32(required))
}
