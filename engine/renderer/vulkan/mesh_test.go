package vulkan_test

import (
	"encoding/binary"
	"errors"
	stdmath "math"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/math"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan/vktest"
)

var triangle = []vulkan.SimpleVertex{
	{Position: math.NewVec3(0, -0.5, 0)},
	{Position: math.NewVec3(0.5, 0.5, 0)},
	{Position: math.NewVec3(-0.5, 0.5, 0)},
}

func uploadContext(t *testing.T, gpu *testGPU) (vulkan.UploadContext, func()) {
	t.Helper()
	commands := newTestCommands(t, gpu)
	return vulkan.UploadContext{Device: gpu.device, Allocator: gpu.allocator, Commands: commands}, commands.Destroy
}

func TestSimpleVertexInputDescription(t *testing.T) {
	desc := vulkan.SimpleVertex{}.VertexInputDescription()
	if len(desc.Bindings) != 1 || desc.Bindings[0].Stride != 12 {
		t.Errorf("bindings = %+v, want one binding with a 12 byte stride", desc.Bindings)
	}
	if len(desc.Attributes) != 1 || desc.Attributes[0].Format != vk.FormatR32g32b32Sfloat || desc.Attributes[0].Offset != 0 {
		t.Errorf("attributes = %+v, want a vec3 position at offset 0", desc.Attributes)
	}
}

func TestNewMesh(t *testing.T) {
	gpu := newTestGPU(t)
	ctx, release := uploadContext(t, gpu)
	defer release()

	indices := []uint32{0, 1, 2}
	mesh, err := vulkan.NewMesh(ctx, "triangle", triangle, indices)
	if err != nil {
		t.Fatalf("NewMesh: %v", err)
	}
	if mesh.IndexCount() != 3 {
		t.Errorf("IndexCount() = %d, want 3", mesh.IndexCount())
	}
	if got := gpu.fake.Live().Buffers; got != 2 {
		t.Errorf("live buffers = %d, want 2 (staging buffers must be released)", got)
	}

	vertexBytes := gpu.fake.BufferContents(mesh.VertexBuffer.Handle)
	if len(vertexBytes) != 36 {
		t.Fatalf("vertex buffer holds %d bytes, want 36", len(vertexBytes))
	}
	for i, v := range triangle {
		x := stdmath.Float32frombits(binary.LittleEndian.Uint32(vertexBytes[i*12:]))
		y := stdmath.Float32frombits(binary.LittleEndian.Uint32(vertexBytes[i*12+4:]))
		if x != v.Position.X || y != v.Position.Y {
			t.Errorf("vertex %d = (%v, %v), want (%v, %v)", i, x, y, v.Position.X, v.Position.Y)
		}
	}
	indexBytes := gpu.fake.BufferContents(mesh.IndexBuffer.Handle)
	for i, want := range indices {
		if got := binary.LittleEndian.Uint32(indexBytes[i*4:]); got != want {
			t.Errorf("index %d = %d, want %d", i, got, want)
		}
	}

	mesh.Destroy()
	if got := gpu.fake.Live().Buffers; got != 0 {
		t.Errorf("live buffers after Destroy = %d", got)
	}
	gpu.checkNoMisuse(t)
}

func TestUploadMeshDataFailures(t *testing.T) {
	tests := []struct {
		name     string
		vertices []vulkan.SimpleVertex
		indices  []uint32
		op       vktest.Op
		skip     int
		want     error
	}{
		{name: "no vertices", indices: []uint32{0}, want: vulkan.ErrEmptyUpload},
		{name: "no indices", vertices: triangle, want: vulkan.ErrEmptyUpload},
		{name: "vertex staging", vertices: triangle, indices: []uint32{0, 1, 2}, op: vktest.OpCreateBuffer},
		{name: "index main buffer", vertices: triangle, indices: []uint32{0, 1, 2}, op: vktest.OpCreateBuffer, skip: 3},
		{name: "index copy", vertices: triangle, indices: []uint32{0, 1, 2}, op: vktest.OpQueueSubmit, skip: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gpu := newTestGPU(t)
			ctx, release := uploadContext(t, gpu)
			if tt.op != "" {
				gpu.fake.FailAfter(tt.op, tt.skip, vk.ErrorOutOfDeviceMemory)
			}

			_, err := vulkan.UploadMeshData(ctx, tt.name, tt.vertices, tt.indices)
			switch {
			case tt.want != nil && !errors.Is(err, tt.want):
				t.Errorf("UploadMeshData error = %v, want %v", err, tt.want)
			case tt.want == nil && !vulkan.HasResult(err, vk.ErrorOutOfDeviceMemory):
				t.Errorf("UploadMeshData error = %v, want out of device memory", err)
			}
			if live := gpu.fake.Live(); live.Buffers != 0 || live.Memories != 0 {
				t.Errorf("failed upload left buffers behind: %+v", live)
			}

			release()
			gpu.allocator.Destroy()
			gpu.checkClean(t)
		})
	}
}

func TestMeshCmdBind(t *testing.T) {
	gpu := newTestGPU(t)
	ctx, release := uploadContext(t, gpu)
	defer release()
	mesh, err := vulkan.NewMesh(ctx, "triangle", triangle, []uint32{0, 1, 2})
	if err != nil {
		t.Fatalf("NewMesh: %v", err)
	}
	defer mesh.Destroy()

	cmd, releaseCmd := gpu.recordingCommandBuffer(t)
	defer releaseCmd()
	mesh.CmdBind(gpu.device, cmd)

	commands := gpu.fake.Commands(cmd)
	if len(commands) != 2 {
		t.Fatalf("recorded %d commands, want 2", len(commands))
	}
	if commands[0].Kind != vktest.CommandBindVertexBuffers || commands[0].BindBuffers[0] != mesh.VertexBuffer.Handle {
		t.Errorf("first command = %s, want the vertex buffer bound", commands[0].Kind)
	}
	if commands[1].Kind != vktest.CommandBindIndexBuffer || commands[1].IndexType != vk.IndexTypeUint32 {
		t.Errorf("second command = %s with index type %d", commands[1].Kind, commands[1].IndexType)
	}
}
