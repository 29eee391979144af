package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"
)

var ErrEmptyUpload = errors.New("nothing to upload")

// UploadContext bundles what a staging upload needs.
type UploadContext struct {
	Device    *DeviceRef
	Allocator *Allocator
	Commands  *CommandManager
}

// uploadBytes copies data into a new GPU-only buffer through a temporary
// staging buffer and one immediate copy.
func uploadBytes(ctx UploadContext, name string, data []byte, usage vk.BufferUsageFlagBits) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyUpload)
	}
	size := uint64(len(data))

	staging, err := StagingBufferBuilder(size).
		WithName(name+" staging").
		BuildWithData(ctx.Device, ctx.Allocator, data)
	if err != nil {
		return nil, fmt.Errorf("staging buffer: %w", err)
	}
	defer staging.Destroy()

	buffer, err := NewBufferBuilder(size).
		WithName(name).
		WithUsage(vk.BufferUsageFlags(vk.BufferUsageTransferDstBit|usage)).
		WithLocation(MemoryLocationGpuOnly).
		Build(ctx.Device, ctx.Allocator)
	if err != nil {
		return nil, fmt.Errorf("main buffer: %w", err)
	}

	err = ctx.Commands.ImmediateCommand(func(cmd vk.CommandBuffer) {
		dev := ctx.Device.RLock()
		dev.CmdCopyBuffer(cmd, staging.Handle, buffer.Handle, []vk.BufferCopy{{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      vk.DeviceSize(size),
		}})
		ctx.Device.RUnlock()
	})
	if err != nil {
		buffer.Destroy()
		return nil, fmt.Errorf("copy: %w", err)
	}
	return buffer, nil
}

func UploadVertexBuffer[V Vertex](ctx UploadContext, name string, vertices []V) (*Buffer, error) {
	buffer, err := uploadBytes(ctx, name+" vertex data", sliceBytes(vertices), vk.BufferUsageVertexBufferBit)
	if err != nil {
		return nil, fmt.Errorf("vertex upload %q: %w", name, err)
	}
	return buffer, nil
}

func UploadIndexBuffer(ctx UploadContext, name string, indices []uint32) (*Buffer, error) {
	buffer, err := uploadBytes(ctx, name+" index data", sliceBytes(indices), vk.BufferUsageIndexBufferBit)
	if err != nil {
		return nil, fmt.Errorf("index upload %q: %w", name, err)
	}
	return buffer, nil
}

type MeshBuffers struct {
	VertexBuffer *Buffer
	IndexBuffer  *Buffer
}

// UploadMeshData uploads vertices then indices. If the index upload fails
// the vertex buffer is released.
func UploadMeshData[V Vertex](ctx UploadContext, name string, vertices []V, indices []uint32) (MeshBuffers, error) {
	vertexBuffer, err := UploadVertexBuffer(ctx, name, vertices)
	if err != nil {
		return MeshBuffers{}, err
	}
	indexBuffer, err := UploadIndexBuffer(ctx, name, indices)
	if err != nil {
		vertexBuffer.Destroy()
		return MeshBuffers{}, err
	}
	return MeshBuffers{VertexBuffer: vertexBuffer, IndexBuffer: indexBuffer}, nil
}

// Mesh keeps the CPU copy of its data next to the uploaded buffers.
type Mesh[V Vertex] struct {
	Name         string
	Vertices     []V
	Indices      []uint32
	VertexBuffer *Buffer
	IndexBuffer  *Buffer
}

func NewMesh[V Vertex](ctx UploadContext, name string, vertices []V, indices []uint32) (*Mesh[V], error) {
	buffers, err := UploadMeshData(ctx, name, vertices, indices)
	if err != nil {
		return nil, err
	}
	return &Mesh[V]{
		Name:         name,
		Vertices:     vertices,
		Indices:      indices,
		VertexBuffer: buffers.VertexBuffer,
		IndexBuffer:  buffers.IndexBuffer,
	}, nil
}

// IndexCount is the number of indices to draw.
func (m *Mesh[V]) IndexCount() uint32 {
	return uint32(len(m.Indices))
}

// CmdBind binds the vertex buffer at binding 0 and the 32 bit index buffer.
func (m *Mesh[V]) CmdBind(device *DeviceRef, cmd vk.CommandBuffer) {
	dev := device.RLock()
	defer device.RUnlock()
	dev.CmdBindVertexBuffers(cmd, 0, []vk.Buffer{m.VertexBuffer.Handle}, []vk.DeviceSize{0})
	dev.CmdBindIndexBuffer(cmd, m.IndexBuffer.Handle, 0, vk.IndexTypeUint32)
}

func (m *Mesh[V]) Destroy() {
	if m == nil {
		return
	}
	m.VertexBuffer.Destroy()
	m.IndexBuffer.Destroy()
}
