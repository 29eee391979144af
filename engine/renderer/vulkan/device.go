package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/core"
)

// Device is every native entry point the renderer needs from a logical
// device and its single graphics queue. LogicalDevice implements it on top of
// the driver; vktest provides an in-memory implementation.
type Device interface {
	// QueueFamilyIndex is the family of the graphics+present queue.
	QueueFamilyIndex() uint32
	MemoryProperties() vk.PhysicalDeviceMemoryProperties
	WaitIdle() error
	Destroy()

	CreateImage(info *vk.ImageCreateInfo) (vk.Image, error)
	DestroyImage(image vk.Image)
	ImageMemoryRequirements(image vk.Image) vk.MemoryRequirements
	BindImageMemory(image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) error
	CreateImageView(info *vk.ImageViewCreateInfo) (vk.ImageView, error)
	DestroyImageView(view vk.ImageView)

	CreateBuffer(info *vk.BufferCreateInfo) (vk.Buffer, error)
	DestroyBuffer(buffer vk.Buffer)
	BufferMemoryRequirements(buffer vk.Buffer) vk.MemoryRequirements
	BindBufferMemory(buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) error

	AllocateMemory(info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error)
	FreeMemory(memory vk.DeviceMemory)
	// MapMemory maps size bytes starting at offset and returns them as a
	// slice backed by the mapping.
	MapMemory(memory vk.DeviceMemory, offset, size vk.DeviceSize) ([]byte, error)
	UnmapMemory(memory vk.DeviceMemory)

	CreateSemaphore() (vk.Semaphore, error)
	DestroySemaphore(semaphore vk.Semaphore)
	CreateFence(signaled bool) (vk.Fence, error)
	DestroyFence(fence vk.Fence)
	WaitForFences(fences []vk.Fence, timeout uint64) error
	ResetFences(fences []vk.Fence) error

	CreateCommandPool(info *vk.CommandPoolCreateInfo) (vk.CommandPool, error)
	DestroyCommandPool(pool vk.CommandPool)
	AllocateCommandBuffers(info *vk.CommandBufferAllocateInfo) ([]vk.CommandBuffer, error)
	ResetCommandBuffer(cmd vk.CommandBuffer) error
	BeginCommandBuffer(cmd vk.CommandBuffer, flags vk.CommandBufferUsageFlags) error
	EndCommandBuffer(cmd vk.CommandBuffer) error
	QueueSubmit(submits []vk.SubmitInfo, fence vk.Fence) error

	CmdPipelineBarrier(cmd vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, barriers []vk.ImageMemoryBarrier)
	CmdBeginRendering(cmd vk.CommandBuffer, info *vk.RenderingInfo)
	CmdEndRendering(cmd vk.CommandBuffer)
	CmdCopyBuffer(cmd vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy)
	CmdBindVertexBuffers(cmd vk.CommandBuffer, firstBinding uint32, buffers []vk.Buffer, offsets []vk.DeviceSize)
	CmdBindIndexBuffer(cmd vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize, indexType vk.IndexType)

	CreateSwapchain(info *vk.SwapchainCreateInfo) (vk.Swapchain, error)
	DestroySwapchain(swapchain vk.Swapchain)
	SwapchainImages(swapchain vk.Swapchain) ([]vk.Image, error)
	// AcquireNextImage returns the raw status so callers can tell
	// suboptimal and out-of-date apart from real failures.
	AcquireNextImage(swapchain vk.Swapchain, timeout uint64, semaphore vk.Semaphore) (uint32, vk.Result)
	QueuePresent(info *vk.PresentInfo) vk.Result
}

// DeviceRef is the shared handle every GPU object keeps to its device.
type DeviceRef = core.RWRef[Device]

func NewDeviceRef(device Device) *DeviceRef {
	return core.NewRWRef(device)
}
