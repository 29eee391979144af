package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/core"
)

var ErrNoSuitableDevice = errors.New("no physical device meets the requirements")

type PhysicalDevice struct {
	Instance   vk.Instance
	Handle     vk.PhysicalDevice
	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties
	// QueueFamily supports graphics, compute and presentation to the surface.
	QueueFamily uint32
	Name        string
}

// SelectPhysicalDevice picks the first device able to render and present to
// surface, preferring discrete GPUs.
func SelectPhysicalDevice(instance vk.Instance, surface vk.Surface) (*PhysicalDevice, error) {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(instance, &count, nil); res != vk.Success {
		return nil, newError("vkEnumeratePhysicalDevices", res)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: no devices which support Vulkan were found", ErrNoSuitableDevice)
	}
	handles := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(instance, &count, handles); res != vk.Success {
		return nil, newError("vkEnumeratePhysicalDevices", res)
	}

	var selected *PhysicalDevice
	for _, handle := range handles {
		candidate, ok := evaluatePhysicalDevice(instance, handle, surface)
		if !ok {
			continue
		}
		if selected == nil || candidate.Properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			selected = candidate
		}
		if candidate.Properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			break
		}
	}
	if selected == nil {
		return nil, ErrNoSuitableDevice
	}

	api := vk.Version(selected.Properties.ApiVersion)
	core.LogInfo("Selected device: '%s' (Vulkan %d.%d.%d)", selected.Name, api.Major(), api.Minor(), api.Patch())
	for i := uint32(0); i < selected.Memory.MemoryHeapCount; i++ {
		heap := selected.Memory.MemoryHeaps[i]
		heap.Deref()
		sizeGib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogDebug("Local GPU memory: %.2f GiB", sizeGib)
		} else {
			core.LogDebug("Shared System memory: %.2f GiB", sizeGib)
		}
	}
	return selected, nil
}

func evaluatePhysicalDevice(instance vk.Instance, handle vk.PhysicalDevice, surface vk.Surface) (*PhysicalDevice, bool) {
	pd := &PhysicalDevice{Instance: instance, Handle: handle}
	vk.GetPhysicalDeviceProperties(handle, &pd.Properties)
	pd.Properties.Deref()
	vk.GetPhysicalDeviceMemoryProperties(handle, &pd.Memory)
	pd.Memory.Deref()
	pd.Name = cString(pd.Properties.DeviceName[:])

	if vk.Version(pd.Properties.ApiVersion).Minor() < 3 && vk.Version(pd.Properties.ApiVersion).Major() <= 1 {
		core.LogDebug("Device '%s' does not support Vulkan 1.3, skipping.", pd.Name)
		return nil, false
	}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(handle, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(handle, &familyCount, families)

	found := false
	for i := range families {
		families[i].Deref()
		flags := vk.QueueFlagBits(families[i].QueueFlags)
		if flags&vk.QueueGraphicsBit == 0 || flags&vk.QueueComputeBit == 0 {
			continue
		}
		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(handle, uint32(i), surface, &supportsPresent); res != vk.Success {
			continue
		}
		if supportsPresent == vk.True {
			pd.QueueFamily = uint32(i)
			found = true
			break
		}
	}
	if !found {
		core.LogDebug("Device '%s' has no graphics queue able to present, skipping.", pd.Name)
		return nil, false
	}

	if !hasDeviceExtension(handle, vk.KhrSwapchainExtensionName) {
		core.LogDebug("Device '%s' lacks %s, skipping.", pd.Name, vk.KhrSwapchainExtensionName)
		return nil, false
	}
	return pd, true
}

func hasDeviceExtension(handle vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(handle, "", &count, nil); res != vk.Success {
		return false
	}
	extensions := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(handle, "", &count, extensions); res != vk.Success {
		return false
	}
	for i := range extensions {
		extensions[i].Deref()
		if cString(extensions[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

// LogicalDevice implements Device with the driver. It owns one queue.
type LogicalDevice struct {
	physical  *PhysicalDevice
	handle    vk.Device
	queue     vk.Queue
	rendering renderingCommands
}

func NewLogicalDevice(physical *PhysicalDevice) (*LogicalDevice, error) {
	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: physical.QueueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	extensions := []string{vk.KhrSwapchainExtensionName}
	if hasDeviceExtension(physical.Handle, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	features13 := vk.PhysicalDeviceVulkan13Features{
		SType:            vk.StructureTypePhysicalDeviceVulkan13Features,
		DynamicRendering: vk.True,
		Synchronization2: vk.True,
	}
	features13Ref, _ := features13.PassRef()

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   unsafe.Pointer(features13Ref),
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: SafeStrings(extensions),
	}

	ld := &LogicalDevice{physical: physical}
	if res := vk.CreateDevice(physical.Handle, &deviceCreateInfo, nil, &ld.handle); res != vk.Success {
		return nil, newError("vkCreateDevice", res)
	}
	vk.GetDeviceQueue(ld.handle, physical.QueueFamily, 0, &ld.queue)

	rendering, err := loadRenderingCommands(physical.Instance, ld.handle)
	if err != nil {
		ld.Destroy()
		return nil, err
	}
	ld.rendering = rendering
	core.LogInfo("Logical device created.")
	return ld, nil
}

func (d *LogicalDevice) Handle() vk.Device               { return d.handle }
func (d *LogicalDevice) Queue() vk.Queue                 { return d.queue }
func (d *LogicalDevice) PhysicalDevice() *PhysicalDevice { return d.physical }

func (d *LogicalDevice) QueueFamilyIndex() uint32 {
	return d.physical.QueueFamily
}

func (d *LogicalDevice) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	return d.physical.Memory
}

func (d *LogicalDevice) WaitIdle() error {
	return check("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.handle))
}

func (d *LogicalDevice) Destroy() {
	if d.handle == nil {
		return
	}
	core.LogDebug("Destroying logical device...")
	vk.DestroyDevice(d.handle, nil)
	d.handle = nil
	d.queue = nil
}

func (d *LogicalDevice) CreateImage(info *vk.ImageCreateInfo) (vk.Image, error) {
	var image vk.Image
	if res := vk.CreateImage(d.handle, info, nil, &image); res != vk.Success {
		return nil, newError("vkCreateImage", res)
	}
	return image, nil
}

func (d *LogicalDevice) DestroyImage(image vk.Image) {
	vk.DestroyImage(d.handle, image, nil)
}

func (d *LogicalDevice) ImageMemoryRequirements(image vk.Image) vk.MemoryRequirements {
	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.handle, image, &requirements)
	requirements.Deref()
	return requirements
}

func (d *LogicalDevice) BindImageMemory(image vk.Image, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	return check("vkBindImageMemory", vk.BindImageMemory(d.handle, image, memory, offset))
}

func (d *LogicalDevice) CreateImageView(info *vk.ImageViewCreateInfo) (vk.ImageView, error) {
	var view vk.ImageView
	if res := vk.CreateImageView(d.handle, info, nil, &view); res != vk.Success {
		return nil, newError("vkCreateImageView", res)
	}
	return view, nil
}

func (d *LogicalDevice) DestroyImageView(view vk.ImageView) {
	vk.DestroyImageView(d.handle, view, nil)
}

func (d *LogicalDevice) CreateBuffer(info *vk.BufferCreateInfo) (vk.Buffer, error) {
	var buffer vk.Buffer
	if res := vk.CreateBuffer(d.handle, info, nil, &buffer); res != vk.Success {
		return nil, newError("vkCreateBuffer", res)
	}
	return buffer, nil
}

func (d *LogicalDevice) DestroyBuffer(buffer vk.Buffer) {
	vk.DestroyBuffer(d.handle, buffer, nil)
}

func (d *LogicalDevice) BufferMemoryRequirements(buffer vk.Buffer) vk.MemoryRequirements {
	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, buffer, &requirements)
	requirements.Deref()
	return requirements
}

func (d *LogicalDevice) BindBufferMemory(buffer vk.Buffer, memory vk.DeviceMemory, offset vk.DeviceSize) error {
	return check("vkBindBufferMemory", vk.BindBufferMemory(d.handle, buffer, memory, offset))
}

func (d *LogicalDevice) AllocateMemory(info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error) {
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.handle, info, nil, &memory); res != vk.Success {
		return nil, newError("vkAllocateMemory", res)
	}
	return memory, nil
}

func (d *LogicalDevice) FreeMemory(memory vk.DeviceMemory) {
	vk.FreeMemory(d.handle, memory, nil)
}

func (d *LogicalDevice) MapMemory(memory vk.DeviceMemory, offset, size vk.DeviceSize) ([]byte, error) {
	var data unsafe.Pointer
	if res := vk.MapMemory(d.handle, memory, offset, size, 0, &data); res != vk.Success {
		return nil, newError("vkMapMemory", res)
	}
	return unsafe.Slice((*byte)(data), int(size)), nil
}

func (d *LogicalDevice) UnmapMemory(memory vk.DeviceMemory) {
	vk.UnmapMemory(d.handle, memory)
}

func (d *LogicalDevice) CreateSemaphore() (vk.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(d.handle, &info, nil, &semaphore); res != vk.Success {
		return nil, newError("vkCreateSemaphore", res)
	}
	return semaphore, nil
}

func (d *LogicalDevice) DestroySemaphore(semaphore vk.Semaphore) {
	vk.DestroySemaphore(d.handle, semaphore, nil)
}

func (d *LogicalDevice) CreateFence(signaled bool) (vk.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if res := vk.CreateFence(d.handle, &info, nil, &fence); res != vk.Success {
		return nil, newError("vkCreateFence", res)
	}
	return fence, nil
}

func (d *LogicalDevice) DestroyFence(fence vk.Fence) {
	vk.DestroyFence(d.handle, fence, nil)
}

func (d *LogicalDevice) WaitForFences(fences []vk.Fence, timeout uint64) error {
	return check("vkWaitForFences", vk.WaitForFences(d.handle, uint32(len(fences)), fences, vk.True, timeout))
}

func (d *LogicalDevice) ResetFences(fences []vk.Fence) error {
	return check("vkResetFences", vk.ResetFences(d.handle, uint32(len(fences)), fences))
}

func (d *LogicalDevice) CreateCommandPool(info *vk.CommandPoolCreateInfo) (vk.CommandPool, error) {
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.handle, info, nil, &pool); res != vk.Success {
		return nil, newError("vkCreateCommandPool", res)
	}
	return pool, nil
}

func (d *LogicalDevice) DestroyCommandPool(pool vk.CommandPool) {
	vk.DestroyCommandPool(d.handle, pool, nil)
}

func (d *LogicalDevice) AllocateCommandBuffers(info *vk.CommandBufferAllocateInfo) ([]vk.CommandBuffer, error) {
	buffers := make([]vk.CommandBuffer, info.CommandBufferCount)
	if res := vk.AllocateCommandBuffers(d.handle, info, buffers); res != vk.Success {
		return nil, newError("vkAllocateCommandBuffers", res)
	}
	return buffers, nil
}

func (d *LogicalDevice) ResetCommandBuffer(cmd vk.CommandBuffer) error {
	return check("vkResetCommandBuffer", vk.ResetCommandBuffer(cmd, 0))
}

func (d *LogicalDevice) BeginCommandBuffer(cmd vk.CommandBuffer, flags vk.CommandBufferUsageFlags) error {
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: flags,
	}
	return check("vkBeginCommandBuffer", vk.BeginCommandBuffer(cmd, &info))
}

func (d *LogicalDevice) EndCommandBuffer(cmd vk.CommandBuffer) error {
	return check("vkEndCommandBuffer", vk.EndCommandBuffer(cmd))
}

func (d *LogicalDevice) QueueSubmit(submits []vk.SubmitInfo, fence vk.Fence) error {
	return check("vkQueueSubmit", vk.QueueSubmit(d.queue, uint32(len(submits)), submits, fence))
}

func (d *LogicalDevice) CmdPipelineBarrier(cmd vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, barriers []vk.ImageMemoryBarrier) {
	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil, 0, nil, uint32(len(barriers)), barriers)
}

func (d *LogicalDevice) CmdBeginRendering(cmd vk.CommandBuffer, info *vk.RenderingInfo) {
	d.rendering.cmdBegin(cmd, info)
}

func (d *LogicalDevice) CmdEndRendering(cmd vk.CommandBuffer) {
	d.rendering.cmdEnd(cmd)
}

func (d *LogicalDevice) CmdCopyBuffer(cmd vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy) {
	vk.CmdCopyBuffer(cmd, src, dst, uint32(len(regions)), regions)
}

func (d *LogicalDevice) CmdBindVertexBuffers(cmd vk.CommandBuffer, firstBinding uint32, buffers []vk.Buffer, offsets []vk.DeviceSize) {
	vk.CmdBindVertexBuffers(cmd, firstBinding, uint32(len(buffers)), buffers, offsets)
}

func (d *LogicalDevice) CmdBindIndexBuffer(cmd vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize, indexType vk.IndexType) {
	vk.CmdBindIndexBuffer(cmd, buffer, offset, indexType)
}

func (d *LogicalDevice) CreateSwapchain(info *vk.SwapchainCreateInfo) (vk.Swapchain, error) {
	var swapchain vk.Swapchain
	if res := vk.CreateSwapchain(d.handle, info, nil, &swapchain); res != vk.Success {
		return nil, newError("vkCreateSwapchainKHR", res)
	}
	return swapchain, nil
}

func (d *LogicalDevice) DestroySwapchain(swapchain vk.Swapchain) {
	vk.DestroySwapchain(d.handle, swapchain, nil)
}

func (d *LogicalDevice) SwapchainImages(swapchain vk.Swapchain) ([]vk.Image, error) {
	var count uint32
	if res := vk.GetSwapchainImages(d.handle, swapchain, &count, nil); res != vk.Success {
		return nil, newError("vkGetSwapchainImagesKHR", res)
	}
	images := make([]vk.Image, count)
	if res := vk.GetSwapchainImages(d.handle, swapchain, &count, images); res != vk.Success {
		return nil, newError("vkGetSwapchainImagesKHR", res)
	}
	return images, nil
}

func (d *LogicalDevice) AcquireNextImage(swapchain vk.Swapchain, timeout uint64, semaphore vk.Semaphore) (uint32, vk.Result) {
	var index uint32
	res := vk.AcquireNextImage(d.handle, swapchain, timeout, semaphore, nil, &index)
	return index, res
}

func (d *LogicalDevice) QueuePresent(info *vk.PresentInfo) vk.Result {
	return vk.QueuePresent(d.queue, info)
}
