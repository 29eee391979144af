package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

var ErrMemoryNotMapped = errors.New("buffer memory is not host visible")

// SizeMismatchError is returned when an upload does not fit in the buffer's
// allocation. Nothing is written in that case.
type SizeMismatchError struct {
	DataSize   uint64
	BufferSize uint64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("data size (%d) does not fit the buffer's allocation size (%d)", e.DataSize, e.BufferSize)
}

type Buffer struct {
	Handle vk.Buffer
	name   string
	size   uint64

	allocation *Allocation
	device     *DeviceRef
	destroyed  bool
}

// Size is the size the buffer was created with. The allocation may be
// larger.
func (b *Buffer) Size() uint64 {
	return b.size
}

func (b *Buffer) Name() string {
	return b.name
}

func (b *Buffer) Allocation() *Allocation {
	return b.allocation
}

// MappedBytes returns the host mapping of the whole allocation.
func (b *Buffer) MappedBytes() ([]byte, error) {
	mapped := b.allocation.MappedSlice()
	if mapped == nil {
		return nil, ErrMemoryNotMapped
	}
	return mapped, nil
}

// UploadData copies data to the start of the buffer.
func (b *Buffer) UploadData(data []byte) error {
	allocationSize := uint64(b.allocation.Size())
	if uint64(len(data)) > allocationSize {
		return &SizeMismatchError{DataSize: uint64(len(data)), BufferSize: allocationSize}
	}
	mapped, err := b.MappedBytes()
	if err != nil {
		return err
	}
	copy(mapped, data)
	return nil
}

// UploadPod copies the in-memory representation of value to the start of the
// buffer. T must be plain data: fixed size, no pointers, slices, maps or
// strings.
func UploadPod[T any](b *Buffer, value T) error {
	size := uint64(unsafe.Sizeof(value))
	allocationSize := uint64(b.allocation.Size())
	if size > allocationSize {
		return &SizeMismatchError{DataSize: size, BufferSize: allocationSize}
	}
	return b.UploadData(podBytes(&value))
}

func podBytes[T any](value *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(value)), unsafe.Sizeof(*value))
}

// sliceBytes views a slice of plain data as raw bytes without copying.
func sliceBytes[T any](values []T) []byte {
	if len(values) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), len(values)*int(unsafe.Sizeof(zero)))
}

// Destroy releases the buffer, then its memory. It is safe to call more than
// once.
func (b *Buffer) Destroy() {
	if b == nil || b.destroyed {
		return
	}
	b.destroyed = true
	dev := b.device.Lock()
	dev.DestroyBuffer(b.Handle)
	b.device.Unlock()
	b.allocation.Free()
	b.Handle = nil
}

type BufferBuilder struct {
	Size     uint64
	Usage    vk.BufferUsageFlags
	Location MemoryLocation
	Name     string
}

// NewBufferBuilder describes a host-writable uniform buffer.
func NewBufferBuilder(size uint64) BufferBuilder {
	return BufferBuilder{
		Size:     size,
		Usage:    vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
		Location: MemoryLocationCpuToGpu,
		Name:     "unnamed buffer",
	}
}

// StagingBufferBuilder describes a host-writable transfer source.
func StagingBufferBuilder(size uint64) BufferBuilder {
	return BufferBuilder{
		Size:     size,
		Usage:    vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		Location: MemoryLocationCpuToGpu,
		Name:     "unnamed staging buffer",
	}
}

func (bb BufferBuilder) WithUsage(usage vk.BufferUsageFlags) BufferBuilder {
	bb.Usage = usage
	return bb
}

func (bb BufferBuilder) WithLocation(location MemoryLocation) BufferBuilder {
	bb.Location = location
	return bb
}

func (bb BufferBuilder) WithName(name string) BufferBuilder {
	bb.Name = name
	return bb
}

// Build creates the buffer and binds a dedicated allocation to it. On failure
// nothing is left behind.
func (bb BufferBuilder) Build(device *DeviceRef, allocator *Allocator) (*Buffer, error) {
	if bb.Size == 0 {
		return nil, fmt.Errorf("buffer %q: size must be non-zero", bb.Name)
	}
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(bb.Size),
		Usage:       bb.Usage,
		SharingMode: vk.SharingModeExclusive,
	}

	dev := device.Lock()
	handle, err := dev.CreateBuffer(&info)
	if err != nil {
		device.Unlock()
		return nil, fmt.Errorf("buffer %q: %w", bb.Name, err)
	}
	requirements := dev.BufferMemoryRequirements(handle)
	device.Unlock()

	allocation, err := allocator.Allocate(AllocationDesc{
		Name:         bb.Name,
		Requirements: requirements,
		Location:     bb.Location,
		Linear:       true,
	})
	if err != nil {
		dev = device.Lock()
		dev.DestroyBuffer(handle)
		device.Unlock()
		return nil, fmt.Errorf("buffer %q: %w", bb.Name, err)
	}

	dev = device.Lock()
	if err := dev.BindBufferMemory(handle, allocation.Memory(), allocation.Offset()); err != nil {
		dev.DestroyBuffer(handle)
		device.Unlock()
		allocation.Free()
		return nil, fmt.Errorf("buffer %q: %w", bb.Name, err)
	}
	device.Unlock()

	return &Buffer{
		Handle:     handle,
		name:       bb.Name,
		size:       bb.Size,
		allocation: allocation,
		device:     device,
	}, nil
}

// BuildWithData builds the buffer and uploads data into it.
func (bb BufferBuilder) BuildWithData(device *DeviceRef, allocator *Allocator, data []byte) (*Buffer, error) {
	buffer, err := bb.Build(device, allocator)
	if err != nil {
		return nil, err
	}
	if err := buffer.UploadData(data); err != nil {
		buffer.Destroy()
		return nil, fmt.Errorf("buffer %q: %w", bb.Name, err)
	}
	return buffer, nil
}

// BuildWithPod builds the buffer and uploads value into it.
func BuildWithPod[T any](bb BufferBuilder, device *DeviceRef, allocator *Allocator, value T) (*Buffer, error) {
	buffer, err := bb.Build(device, allocator)
	if err != nil {
		return nil, err
	}
	if err := UploadPod(buffer, value); err != nil {
		buffer.Destroy()
		return nil, fmt.Errorf("buffer %q: %w", bb.Name, err)
	}
	return buffer, nil
}
