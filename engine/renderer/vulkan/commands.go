package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/core"
)

var ErrCommandBufferBusy = errors.New("command buffer is already recording")

type CommandBufferState int

const (
	CommandBufferStateReady CommandBufferState = iota
	CommandBufferStateRecording
	CommandBufferStateRecordingEnded
	CommandBufferStateSubmitted
	CommandBufferStateNotAllocated
)

func (s CommandBufferState) String() string {
	switch s {
	case CommandBufferStateReady:
		return "ready"
	case CommandBufferStateRecording:
		return "recording"
	case CommandBufferStateRecordingEnded:
		return "recording-ended"
	case CommandBufferStateSubmitted:
		return "submitted"
	case CommandBufferStateNotAllocated:
		return "not-allocated"
	}
	return fmt.Sprintf("CommandBufferState(%d)", int(s))
}

type CommandBuffer struct {
	Handle vk.CommandBuffer
	State  CommandBufferState
}

// CommandManager owns one pool with a render buffer and an immediate buffer.
// The render buffer is re-recorded each frame; the immediate buffer runs
// blocking one-off work such as uploads.
type CommandManager struct {
	pool      vk.CommandPool
	render    CommandBuffer
	immediate CommandBuffer

	immediateFence *Fence
	device         *DeviceRef
	destroyed      bool
}

func NewCommandManager(device *DeviceRef) (*CommandManager, error) {
	dev := device.Lock()
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: dev.QueueFamilyIndex(),
	}
	pool, err := dev.CreateCommandPool(&poolInfo)
	if err != nil {
		device.Unlock()
		return nil, fmt.Errorf("command manager: pool: %w", err)
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 2,
	}
	buffers, err := dev.AllocateCommandBuffers(&allocateInfo)
	if err == nil && len(buffers) != 2 {
		err = fmt.Errorf("expected 2 command buffers, got %d", len(buffers))
	}
	if err != nil {
		dev.DestroyCommandPool(pool)
		device.Unlock()
		return nil, fmt.Errorf("command manager: buffers: %w", err)
	}
	device.Unlock()

	fence, err := NewFence(device, false)
	if err != nil {
		dev = device.Lock()
		dev.DestroyCommandPool(pool)
		device.Unlock()
		return nil, fmt.Errorf("command manager: fence: %w", err)
	}

	return &CommandManager{
		pool:           pool,
		render:         CommandBuffer{Handle: buffers[0], State: CommandBufferStateReady},
		immediate:      CommandBuffer{Handle: buffers[1], State: CommandBufferStateReady},
		immediateFence: fence,
		device:         device,
	}, nil
}

func (m *CommandManager) RenderBuffer() *CommandBuffer {
	return &m.render
}

func (m *CommandManager) ImmediateBuffer() *CommandBuffer {
	return &m.immediate
}

// RenderCommand records one frame into the render buffer and submits it.
// The submission waits on the swapchain's acquire semaphore, signals the
// acquired slot's render semaphore and the present fence. The present fence
// is only reset once recording has succeeded, so a failed frame never leaves
// it unsignalled.
func (m *CommandManager) RenderCommand(swapchain *Swapchain, record func(cmd vk.CommandBuffer, resources ImageResources) error) error {
	resources, err := swapchain.CurrentImageResources()
	if err != nil {
		return err
	}
	renderSemaphore, err := swapchain.CurrentRenderSemaphore()
	if err != nil {
		return err
	}

	cmd := m.render.Handle
	if err := m.begin(&m.render, true); err != nil {
		return fmt.Errorf("render command: %w", err)
	}

	if err := record(cmd, resources); err != nil {
		m.abandon(&m.render)
		return err
	}
	if err := swapchain.EnsurePresentable(cmd); err != nil {
		m.abandon(&m.render)
		return err
	}
	if err := m.end(&m.render); err != nil {
		return fmt.Errorf("render command: %w", err)
	}

	if err := swapchain.PresentFence().Reset(); err != nil {
		return fmt.Errorf("render command: present fence reset: %w", err)
	}

	submit := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{swapchain.ImageAcquiredSemaphore()},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cmd},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{renderSemaphore},
	}
	dev := m.device.RLock()
	err = dev.QueueSubmit([]vk.SubmitInfo{submit}, swapchain.PresentFence().Handle)
	m.device.RUnlock()
	if err != nil {
		m.render.State = CommandBufferStateRecordingEnded
		return fmt.Errorf("render command: submit: %w", err)
	}
	m.render.State = CommandBufferStateSubmitted
	swapchain.acquireConsumed()
	return nil
}

// ImmediateCommand records into the immediate buffer, submits it and blocks
// until the GPU is done. It must not be called from inside a RenderCommand
// recorder.
func (m *CommandManager) ImmediateCommand(record func(cmd vk.CommandBuffer)) error {
	_, err := ImmediateCommandResult(m, func(cmd vk.CommandBuffer) struct{} {
		record(cmd)
		return struct{}{}
	})
	return err
}

// ImmediateCommandResult is ImmediateCommand for recorders that produce a
// value.
func ImmediateCommandResult[T any](m *CommandManager, record func(cmd vk.CommandBuffer) T) (T, error) {
	var zero T
	if m.immediate.State == CommandBufferStateRecording {
		return zero, ErrCommandBufferBusy
	}
	if err := m.begin(&m.immediate, false); err != nil {
		return zero, fmt.Errorf("immediate command: %w", err)
	}

	result := record(m.immediate.Handle)

	if err := m.end(&m.immediate); err != nil {
		return zero, fmt.Errorf("immediate command: %w", err)
	}

	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{m.immediate.Handle},
	}
	dev := m.device.RLock()
	err := dev.QueueSubmit([]vk.SubmitInfo{submit}, m.immediateFence.Handle)
	m.device.RUnlock()
	if err != nil {
		return zero, fmt.Errorf("immediate command: submit: %w", err)
	}
	m.immediate.State = CommandBufferStateSubmitted
	m.immediateFence.IsSignaled = false

	if err := m.immediateFence.Wait(InfiniteTimeout); err != nil {
		return zero, fmt.Errorf("immediate command: fence wait: %w", err)
	}
	if err := m.immediateFence.Reset(); err != nil {
		return zero, fmt.Errorf("immediate command: reset: %w", err)
	}
	dev = m.device.RLock()
	err = dev.ResetCommandBuffer(m.immediate.Handle)
	m.device.RUnlock()
	if err != nil {
		return zero, fmt.Errorf("immediate command: reset: %w", err)
	}
	m.immediate.State = CommandBufferStateReady
	return result, nil
}

func (m *CommandManager) begin(buffer *CommandBuffer, reset bool) error {
	dev := m.device.RLock()
	defer m.device.RUnlock()
	if reset {
		if err := dev.ResetCommandBuffer(buffer.Handle); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		buffer.State = CommandBufferStateReady
	}
	if err := dev.BeginCommandBuffer(buffer.Handle, vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	buffer.State = CommandBufferStateRecording
	return nil
}

func (m *CommandManager) end(buffer *CommandBuffer) error {
	dev := m.device.RLock()
	err := dev.EndCommandBuffer(buffer.Handle)
	m.device.RUnlock()
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	buffer.State = CommandBufferStateRecordingEnded
	return nil
}

// abandon closes a buffer whose recording failed so the next frame can
// reset it.
func (m *CommandManager) abandon(buffer *CommandBuffer) {
	if err := m.end(buffer); err != nil {
		core.LogWarn("closing abandoned command buffer: %s", err)
	}
}

func (m *CommandManager) Destroy() {
	if m == nil || m.destroyed {
		return
	}
	m.destroyed = true

	dev := m.device.Lock()
	core.LogDebug("Waiting for device to be idle before destroying command manager")
	if err := dev.WaitIdle(); err != nil {
		core.LogError("device wait idle before destroying command manager: %s", err)
	}
	m.device.Unlock()

	core.LogDebug("Destroying command manager")
	m.immediateFence.Destroy()
	dev = m.device.Lock()
	dev.DestroyCommandPool(m.pool)
	m.device.Unlock()
	m.pool = nil
	m.render.State = CommandBufferStateNotAllocated
	m.immediate.State = CommandBufferStateNotAllocated
}
