// Package vktest provides an in-memory Vulkan device for tests. Handles are
// unique Go allocations, memory is backed by byte slices, recorded commands
// are kept for inspection and buffer copies run when a command buffer is
// submitted.
package vktest

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
)

// Op names a fallible device call for failure injection.
type Op string

const (
	OpCreateImage            Op = "vkCreateImage"
	OpBindImageMemory        Op = "vkBindImageMemory"
	OpCreateImageView        Op = "vkCreateImageView"
	OpCreateBuffer           Op = "vkCreateBuffer"
	OpBindBufferMemory       Op = "vkBindBufferMemory"
	OpAllocateMemory         Op = "vkAllocateMemory"
	OpMapMemory              Op = "vkMapMemory"
	OpCreateSemaphore        Op = "vkCreateSemaphore"
	OpCreateFence            Op = "vkCreateFence"
	OpWaitForFences          Op = "vkWaitForFences"
	OpResetFences            Op = "vkResetFences"
	OpCreateCommandPool      Op = "vkCreateCommandPool"
	OpAllocateCommandBuffers Op = "vkAllocateCommandBuffers"
	OpResetCommandBuffer     Op = "vkResetCommandBuffer"
	OpBeginCommandBuffer     Op = "vkBeginCommandBuffer"
	OpEndCommandBuffer       Op = "vkEndCommandBuffer"
	OpQueueSubmit            Op = "vkQueueSubmit"
	OpCreateSwapchain        Op = "vkCreateSwapchainKHR"
	OpSwapchainImages        Op = "vkGetSwapchainImagesKHR"
	OpWaitIdle               Op = "vkDeviceWaitIdle"
)

type CommandKind int

const (
	CommandBarrier CommandKind = iota
	CommandBeginRendering
	CommandEndRendering
	CommandCopyBuffer
	CommandBindVertexBuffers
	CommandBindIndexBuffer
)

func (k CommandKind) String() string {
	switch k {
	case CommandBarrier:
		return "barrier"
	case CommandBeginRendering:
		return "begin-rendering"
	case CommandEndRendering:
		return "end-rendering"
	case CommandCopyBuffer:
		return "copy-buffer"
	case CommandBindVertexBuffers:
		return "bind-vertex-buffers"
	case CommandBindIndexBuffer:
		return "bind-index-buffer"
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// Command is one recorded command. Only the fields matching Kind are set.
type Command struct {
	Kind CommandKind

	SrcStage vk.PipelineStageFlags
	DstStage vk.PipelineStageFlags
	Barriers []vk.ImageMemoryBarrier

	Rendering vk.RenderingInfo

	CopySrc     vk.Buffer
	CopyDst     vk.Buffer
	CopyRegions []vk.BufferCopy

	BindBuffers []vk.Buffer
	IndexType   vk.IndexType
}

type Submission struct {
	CommandBuffers   []vk.CommandBuffer
	WaitSemaphores   []vk.Semaphore
	WaitStages       []vk.PipelineStageFlags
	SignalSemaphores []vk.Semaphore
	Fence            vk.Fence
}

type Presentation struct {
	Swapchain      vk.Swapchain
	ImageIndex     uint32
	WaitSemaphores []vk.Semaphore
	Result         vk.Result
}

// Counts is the number of live objects per kind.
type Counts struct {
	Images         int
	Views          int
	Buffers        int
	Memories       int
	Semaphores     int
	Fences         int
	CommandPools   int
	CommandBuffers int
	Swapchains     int
}

// Total sums every kind.
func (c Counts) Total() int {
	return c.Images + c.Views + c.Buffers + c.Memories + c.Semaphores + c.Fences + c.CommandPools + c.CommandBuffers + c.Swapchains
}

type image struct {
	info   vk.ImageCreateInfo
	memory vk.DeviceMemory
}

type buffer struct {
	size   vk.DeviceSize
	memory vk.DeviceMemory
	offset vk.DeviceSize
}

type memory struct {
	data   []byte
	mapped bool
}

type fence struct {
	signaled bool
}

type commandBuffer struct {
	pool      vk.CommandPool
	recording bool
	commands  []Command
}

type swapchain struct {
	info     vk.SwapchainCreateInfo
	images   []vk.Image
	next     uint32
	acquired bool
	retired  bool
}

type failure struct {
	skip      int
	remaining int
	result    vk.Result
}

// Device implements vulkan.Device without a GPU. It is safe for concurrent
// use.
type Device struct {
	mutex            sync.Mutex
	memoryProperties vk.PhysicalDeviceMemoryProperties
	destroyed        bool

	images          map[vk.Image]*image
	swapchainImages map[vk.Image]vk.Swapchain
	views           map[vk.ImageView]vk.ImageViewCreateInfo
	buffers         map[vk.Buffer]*buffer
	memories        map[vk.DeviceMemory]*memory
	// semaphores maps each live semaphore to whether it is signalled.
	semaphores      map[vk.Semaphore]bool
	fences          map[vk.Fence]*fence
	pools           map[vk.CommandPool]struct{}
	commandBuffers  map[vk.CommandBuffer]*commandBuffer
	swapchains      map[vk.Swapchain]*swapchain

	failures       map[Op]*failure
	acquireResults []vk.Result
	presentResults []vk.Result

	submissions   []Submission
	presentations []Presentation
	misuse        []string
	waitIdleCalls int
}

var _ vulkan.Device = (*Device)(nil)

// NewDevice returns a device with one device-local and one host-visible
// coherent memory type.
func NewDevice() *Device {
	return NewDeviceWithMemoryTypes(
		vk.MemoryPropertyDeviceLocalBit,
		vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit,
	)
}

// NewDeviceWithMemoryTypes returns a device exposing exactly the given memory
// types, all on heap zero.
func NewDeviceWithMemoryTypes(types ...vk.MemoryPropertyFlagBits) *Device {
	var properties vk.PhysicalDeviceMemoryProperties
	properties.MemoryTypeCount = uint32(len(types))
	for i, flags := range types {
		properties.MemoryTypes[i] = vk.MemoryType{PropertyFlags: vk.MemoryPropertyFlags(flags), HeapIndex: 0}
	}
	properties.MemoryHeapCount = 1
	properties.MemoryHeaps[0] = vk.MemoryHeap{Size: 1 << 30}

	return &Device{
		memoryProperties: properties,
		images:           make(map[vk.Image]*image),
		swapchainImages:  make(map[vk.Image]vk.Swapchain),
		views:            make(map[vk.ImageView]vk.ImageViewCreateInfo),
		buffers:          make(map[vk.Buffer]*buffer),
		memories:         make(map[vk.DeviceMemory]*memory),
		semaphores:       make(map[vk.Semaphore]bool),
		fences:           make(map[vk.Fence]*fence),
		pools:            make(map[vk.CommandPool]struct{}),
		commandBuffers:   make(map[vk.CommandBuffer]*commandBuffer),
		swapchains:       make(map[vk.Swapchain]*swapchain),
		failures:         make(map[Op]*failure),
	}
}

// Handle types point to incomplete C structs, which the garbage collector
// does not trace, so the allocations backing fake handles are pinned here.
var objects struct {
	sync.Mutex
	live []unsafe.Pointer
}

// newObject returns a fresh, non-zero-sized allocation to back a handle.
func newObject() unsafe.Pointer {
	p := unsafe.Pointer(new(uint64))
	objects.Lock()
	objects.live = append(objects.live, p)
	objects.Unlock()
	return p
}

// addr is a handle's address, for messages. Formatting the handle itself
// would make fmt inspect a pointer to an incomplete type.
func addr(handle unsafe.Pointer) uintptr {
	return uintptr(handle)
}

// FailNext makes the next count calls of op fail with result.
func (d *Device) FailNext(op Op, count int, result vk.Result) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.failures[op] = &failure{remaining: count, result: result}
}

// FailAfter lets skip calls of op succeed, then fails the one after with
// result.
func (d *Device) FailAfter(op Op, skip int, result vk.Result) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.failures[op] = &failure{skip: skip, remaining: 1, result: result}
}

// ScriptAcquire queues results for upcoming AcquireNextImage calls. Once the
// script runs out every acquire succeeds.
func (d *Device) ScriptAcquire(results ...vk.Result) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.acquireResults = append(d.acquireResults, results...)
}

// ScriptPresent queues results for upcoming QueuePresent calls.
func (d *Device) ScriptPresent(results ...vk.Result) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.presentResults = append(d.presentResults, results...)
}

// fail must be called with the mutex held.
func (d *Device) fail(op Op) error {
	f, ok := d.failures[op]
	if !ok || f.remaining == 0 {
		return nil
	}
	if f.skip > 0 {
		f.skip--
		return nil
	}
	f.remaining--
	return &vulkan.Error{Op: string(op), Result: f.result}
}

func (d *Device) misused(format string, args ...any) {
	d.misuse = append(d.misuse, fmt.Sprintf(format, args...))
}

// Misuse lists invalid calls seen so far, such as destroying unknown
// handles or recording into a buffer that is not recording.
func (d *Device) Misuse() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]string(nil), d.misuse...)
}

func (d *Device) Live() Counts {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return Counts{
		Images:         len(d.images),
		Views:          len(d.views),
		Buffers:        len(d.buffers),
		Memories:       len(d.memories),
		Semaphores:     len(d.semaphores),
		Fences:         len(d.fences),
		CommandPools:   len(d.pools),
		CommandBuffers: len(d.commandBuffers),
		Swapchains:     len(d.swapchains),
	}
}

func (d *Device) QueueFamilyIndex() uint32 {
	return 0
}

func (d *Device) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	return d.memoryProperties
}

func (d *Device) WaitIdle() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.waitIdleCalls++
	return d.fail(OpWaitIdle)
}

func (d *Device) WaitIdleCalls() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.waitIdleCalls
}

func (d *Device) Destroy() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.destroyed = true
}

func (d *Device) Destroyed() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.destroyed
}

func (d *Device) CreateImage(info *vk.ImageCreateInfo) (vk.Image, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpCreateImage); err != nil {
		return nil, err
	}
	handle := vk.Image(newObject())
	d.images[handle] = &image{info: *info}
	return handle, nil
}

func (d *Device) DestroyImage(handle vk.Image) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.swapchainImages[handle]; ok {
		d.misused("DestroyImage on a swapchain image")
		return
	}
	if _, ok := d.images[handle]; !ok {
		d.misused("DestroyImage on unknown image %#x", addr(unsafe.Pointer(handle)))
		return
	}
	delete(d.images, handle)
}

func (d *Device) ImageMemoryRequirements(handle vk.Image) vk.MemoryRequirements {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	img, ok := d.images[handle]
	if !ok {
		d.misused("ImageMemoryRequirements on unknown image %#x", addr(unsafe.Pointer(handle)))
		return vk.MemoryRequirements{}
	}
	extent := img.info.Extent
	layers := uint64(img.info.ArrayLayers)
	if layers == 0 {
		layers = 1
	}
	size := uint64(extent.Width) * uint64(extent.Height) * uint64(max(extent.Depth, 1)) * layers * 4
	return vk.MemoryRequirements{
		Size:           vk.DeviceSize(size),
		Alignment:      256,
		MemoryTypeBits: d.allTypeBits(),
	}
}

func (d *Device) allTypeBits() uint32 {
	return uint32(1)<<d.memoryProperties.MemoryTypeCount - 1
}

func (d *Device) BindImageMemory(handle vk.Image, mem vk.DeviceMemory, offset vk.DeviceSize) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpBindImageMemory); err != nil {
		return err
	}
	img, ok := d.images[handle]
	if !ok {
		d.misused("BindImageMemory on unknown image %#x", addr(unsafe.Pointer(handle)))
		return &vulkan.Error{Op: string(OpBindImageMemory), Result: vk.ErrorUnknown}
	}
	if _, ok := d.memories[mem]; !ok {
		d.misused("BindImageMemory with unknown memory %#x", addr(unsafe.Pointer(mem)))
	}
	img.memory = mem
	return nil
}

func (d *Device) CreateImageView(info *vk.ImageViewCreateInfo) (vk.ImageView, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpCreateImageView); err != nil {
		return nil, err
	}
	_, owned := d.images[info.Image]
	_, presentable := d.swapchainImages[info.Image]
	if !owned && !presentable {
		d.misused("CreateImageView for unknown image %#x", addr(unsafe.Pointer(info.Image)))
	}
	handle := vk.ImageView(newObject())
	d.views[handle] = *info
	return handle, nil
}

func (d *Device) DestroyImageView(handle vk.ImageView) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.views[handle]; !ok {
		d.misused("DestroyImageView on unknown view %#x", addr(unsafe.Pointer(handle)))
		return
	}
	delete(d.views, handle)
}

// ImageInfo returns the create info of a live image.
func (d *Device) ImageInfo(handle vk.Image) (vk.ImageCreateInfo, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	img, ok := d.images[handle]
	if !ok {
		return vk.ImageCreateInfo{}, false
	}
	return img.info, true
}

// ViewInfo returns the create info of a live view.
func (d *Device) ViewInfo(handle vk.ImageView) (vk.ImageViewCreateInfo, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	info, ok := d.views[handle]
	return info, ok
}

func (d *Device) CreateBuffer(info *vk.BufferCreateInfo) (vk.Buffer, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpCreateBuffer); err != nil {
		return nil, err
	}
	handle := vk.Buffer(newObject())
	d.buffers[handle] = &buffer{size: info.Size}
	return handle, nil
}

func (d *Device) DestroyBuffer(handle vk.Buffer) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.buffers[handle]; !ok {
		d.misused("DestroyBuffer on unknown buffer %#x", addr(unsafe.Pointer(handle)))
		return
	}
	delete(d.buffers, handle)
}

func (d *Device) BufferMemoryRequirements(handle vk.Buffer) vk.MemoryRequirements {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	buf, ok := d.buffers[handle]
	if !ok {
		d.misused("BufferMemoryRequirements on unknown buffer %#x", addr(unsafe.Pointer(handle)))
		return vk.MemoryRequirements{}
	}
	return vk.MemoryRequirements{
		Size:           buf.size,
		Alignment:      16,
		MemoryTypeBits: d.allTypeBits(),
	}
}

func (d *Device) BindBufferMemory(handle vk.Buffer, mem vk.DeviceMemory, offset vk.DeviceSize) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpBindBufferMemory); err != nil {
		return err
	}
	buf, ok := d.buffers[handle]
	if !ok {
		d.misused("BindBufferMemory on unknown buffer %#x", addr(unsafe.Pointer(handle)))
		return &vulkan.Error{Op: string(OpBindBufferMemory), Result: vk.ErrorUnknown}
	}
	if _, ok := d.memories[mem]; !ok {
		d.misused("BindBufferMemory with unknown memory %#x", addr(unsafe.Pointer(mem)))
	}
	buf.memory = mem
	buf.offset = offset
	return nil
}

// BufferContents returns a copy of the bytes bound to a live buffer.
func (d *Device) BufferContents(handle vk.Buffer) []byte {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	data := d.bufferBytes(handle)
	return append([]byte(nil), data...)
}

// bufferBytes must be called with the mutex held.
func (d *Device) bufferBytes(handle vk.Buffer) []byte {
	buf, ok := d.buffers[handle]
	if !ok {
		return nil
	}
	mem, ok := d.memories[buf.memory]
	if !ok {
		return nil
	}
	end := buf.offset + buf.size
	if end > vk.DeviceSize(len(mem.data)) {
		end = vk.DeviceSize(len(mem.data))
	}
	return mem.data[buf.offset:end]
}

func (d *Device) AllocateMemory(info *vk.MemoryAllocateInfo) (vk.DeviceMemory, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpAllocateMemory); err != nil {
		return nil, err
	}
	if info.MemoryTypeIndex >= d.memoryProperties.MemoryTypeCount {
		d.misused("AllocateMemory with memory type %d out of range", info.MemoryTypeIndex)
	}
	handle := vk.DeviceMemory(newObject())
	d.memories[handle] = &memory{data: make([]byte, info.AllocationSize)}
	return handle, nil
}

func (d *Device) FreeMemory(handle vk.DeviceMemory) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.memories[handle]; !ok {
		d.misused("FreeMemory on unknown memory %#x", addr(unsafe.Pointer(handle)))
		return
	}
	delete(d.memories, handle)
}

func (d *Device) MapMemory(handle vk.DeviceMemory, offset, size vk.DeviceSize) ([]byte, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpMapMemory); err != nil {
		return nil, err
	}
	mem, ok := d.memories[handle]
	if !ok {
		d.misused("MapMemory on unknown memory %#x", addr(unsafe.Pointer(handle)))
		return nil, &vulkan.Error{Op: string(OpMapMemory), Result: vk.ErrorMemoryMapFailed}
	}
	if offset+size > vk.DeviceSize(len(mem.data)) {
		return nil, &vulkan.Error{Op: string(OpMapMemory), Result: vk.ErrorMemoryMapFailed}
	}
	mem.mapped = true
	return mem.data[offset : offset+size], nil
}

func (d *Device) UnmapMemory(handle vk.DeviceMemory) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	mem, ok := d.memories[handle]
	if !ok || !mem.mapped {
		d.misused("UnmapMemory on memory that is not mapped %#x", addr(unsafe.Pointer(handle)))
		return
	}
	mem.mapped = false
}

func (d *Device) CreateSemaphore() (vk.Semaphore, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpCreateSemaphore); err != nil {
		return nil, err
	}
	handle := vk.Semaphore(newObject())
	d.semaphores[handle] = false
	return handle, nil
}

func (d *Device) DestroySemaphore(handle vk.Semaphore) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.semaphores[handle]; !ok {
		d.misused("DestroySemaphore on unknown semaphore %#x", addr(unsafe.Pointer(handle)))
		return
	}
	delete(d.semaphores, handle)
}

func (d *Device) CreateFence(signaled bool) (vk.Fence, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpCreateFence); err != nil {
		return nil, err
	}
	handle := vk.Fence(newObject())
	d.fences[handle] = &fence{signaled: signaled}
	return handle, nil
}

func (d *Device) DestroyFence(handle vk.Fence) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.fences[handle]; !ok {
		d.misused("DestroyFence on unknown fence %#x", addr(unsafe.Pointer(handle)))
		return
	}
	delete(d.fences, handle)
}

// WaitForFences returns a timeout error for a fence nothing will signal,
// since submitted work completes immediately on this device.
func (d *Device) WaitForFences(fences []vk.Fence, timeout uint64) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpWaitForFences); err != nil {
		return err
	}
	for _, handle := range fences {
		f, ok := d.fences[handle]
		if !ok {
			d.misused("WaitForFences on unknown fence %#x", addr(unsafe.Pointer(handle)))
			return &vulkan.Error{Op: string(OpWaitForFences), Result: vk.ErrorUnknown}
		}
		if !f.signaled {
			return &vulkan.Error{Op: string(OpWaitForFences), Result: vk.Timeout}
		}
	}
	return nil
}

func (d *Device) ResetFences(fences []vk.Fence) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpResetFences); err != nil {
		return err
	}
	for _, handle := range fences {
		f, ok := d.fences[handle]
		if !ok {
			d.misused("ResetFences on unknown fence %#x", addr(unsafe.Pointer(handle)))
			continue
		}
		f.signaled = false
	}
	return nil
}

// FenceSignaled reports the state of a live fence.
func (d *Device) FenceSignaled(handle vk.Fence) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	f, ok := d.fences[handle]
	return ok && f.signaled
}

func (d *Device) CreateCommandPool(info *vk.CommandPoolCreateInfo) (vk.CommandPool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpCreateCommandPool); err != nil {
		return nil, err
	}
	handle := vk.CommandPool(newObject())
	d.pools[handle] = struct{}{}
	return handle, nil
}

// DestroyCommandPool also frees the buffers allocated from the pool.
func (d *Device) DestroyCommandPool(handle vk.CommandPool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, ok := d.pools[handle]; !ok {
		d.misused("DestroyCommandPool on unknown pool %#x", addr(unsafe.Pointer(handle)))
		return
	}
	delete(d.pools, handle)
	for cmd, cb := range d.commandBuffers {
		if cb.pool == handle {
			delete(d.commandBuffers, cmd)
		}
	}
}

func (d *Device) AllocateCommandBuffers(info *vk.CommandBufferAllocateInfo) ([]vk.CommandBuffer, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpAllocateCommandBuffers); err != nil {
		return nil, err
	}
	if _, ok := d.pools[info.CommandPool]; !ok {
		d.misused("AllocateCommandBuffers from unknown pool %#x", addr(unsafe.Pointer(info.CommandPool)))
	}
	buffers := make([]vk.CommandBuffer, info.CommandBufferCount)
	for i := range buffers {
		buffers[i] = vk.CommandBuffer(newObject())
		d.commandBuffers[buffers[i]] = &commandBuffer{pool: info.CommandPool}
	}
	return buffers, nil
}

func (d *Device) ResetCommandBuffer(cmd vk.CommandBuffer) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpResetCommandBuffer); err != nil {
		return err
	}
	cb, ok := d.commandBuffers[cmd]
	if !ok {
		d.misused("ResetCommandBuffer on unknown command buffer %#x", addr(unsafe.Pointer(cmd)))
		return &vulkan.Error{Op: string(OpResetCommandBuffer), Result: vk.ErrorUnknown}
	}
	cb.recording = false
	cb.commands = nil
	return nil
}

func (d *Device) BeginCommandBuffer(cmd vk.CommandBuffer, flags vk.CommandBufferUsageFlags) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpBeginCommandBuffer); err != nil {
		return err
	}
	cb, ok := d.commandBuffers[cmd]
	if !ok {
		d.misused("BeginCommandBuffer on unknown command buffer %#x", addr(unsafe.Pointer(cmd)))
		return &vulkan.Error{Op: string(OpBeginCommandBuffer), Result: vk.ErrorUnknown}
	}
	if cb.recording {
		d.misused("BeginCommandBuffer on a buffer that is already recording")
	}
	cb.recording = true
	cb.commands = nil
	return nil
}

func (d *Device) EndCommandBuffer(cmd vk.CommandBuffer) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpEndCommandBuffer); err != nil {
		return err
	}
	cb, ok := d.commandBuffers[cmd]
	if !ok || !cb.recording {
		d.misused("EndCommandBuffer on a buffer that is not recording")
		return &vulkan.Error{Op: string(OpEndCommandBuffer), Result: vk.ErrorUnknown}
	}
	cb.recording = false
	return nil
}

// QueueSubmit runs every recorded copy and signals the fence at once.
func (d *Device) QueueSubmit(submits []vk.SubmitInfo, handle vk.Fence) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpQueueSubmit); err != nil {
		return err
	}
	if handle != nil {
		f, ok := d.fences[handle]
		if !ok {
			d.misused("QueueSubmit with unknown fence %#x", addr(unsafe.Pointer(handle)))
		} else if f.signaled {
			d.misused("QueueSubmit with a fence that is still signalled")
		}
	}

	for _, submit := range submits {
		for _, semaphore := range submit.PWaitSemaphores {
			signaled, ok := d.semaphores[semaphore]
			if !ok {
				d.misused("QueueSubmit waits on unknown semaphore %#x", addr(unsafe.Pointer(semaphore)))
				continue
			}
			if !signaled {
				d.misused("QueueSubmit waits on semaphore %#x that nothing signals", addr(unsafe.Pointer(semaphore)))
			}
			d.semaphores[semaphore] = false
		}
		for _, semaphore := range submit.PSignalSemaphores {
			if _, ok := d.semaphores[semaphore]; ok {
				d.semaphores[semaphore] = true
			}
		}
		for _, cmd := range submit.PCommandBuffers {
			cb, ok := d.commandBuffers[cmd]
			if !ok {
				d.misused("QueueSubmit of unknown command buffer %#x", addr(unsafe.Pointer(cmd)))
				continue
			}
			if cb.recording {
				d.misused("QueueSubmit of a command buffer that is still recording")
			}
			for _, command := range cb.commands {
				if command.Kind == CommandCopyBuffer {
					d.runCopy(command)
				}
			}
		}
		d.submissions = append(d.submissions, Submission{
			CommandBuffers:   append([]vk.CommandBuffer(nil), submit.PCommandBuffers...),
			WaitSemaphores:   append([]vk.Semaphore(nil), submit.PWaitSemaphores...),
			WaitStages:       append([]vk.PipelineStageFlags(nil), submit.PWaitDstStageMask...),
			SignalSemaphores: append([]vk.Semaphore(nil), submit.PSignalSemaphores...),
			Fence:            handle,
		})
	}

	if f, ok := d.fences[handle]; ok {
		f.signaled = true
	}
	return nil
}

// runCopy must be called with the mutex held.
func (d *Device) runCopy(command Command) {
	src := d.bufferBytes(command.CopySrc)
	dst := d.bufferBytes(command.CopyDst)
	for _, region := range command.CopyRegions {
		srcEnd := region.SrcOffset + region.Size
		dstEnd := region.DstOffset + region.Size
		if srcEnd > vk.DeviceSize(len(src)) || dstEnd > vk.DeviceSize(len(dst)) {
			d.misused("copy region out of bounds")
			continue
		}
		copy(dst[region.DstOffset:dstEnd], src[region.SrcOffset:srcEnd])
	}
}

func (d *Device) Submissions() []Submission {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]Submission(nil), d.submissions...)
}

// record must be called with the mutex held.
func (d *Device) record(cmd vk.CommandBuffer, command Command) {
	cb, ok := d.commandBuffers[cmd]
	if !ok {
		d.misused("%s recorded into unknown command buffer %#x", command.Kind, addr(unsafe.Pointer(cmd)))
		return
	}
	if !cb.recording {
		d.misused("%s recorded into a command buffer that is not recording", command.Kind)
	}
	cb.commands = append(cb.commands, command)
}

func (d *Device) CmdPipelineBarrier(cmd vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlags, barriers []vk.ImageMemoryBarrier) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.record(cmd, Command{
		Kind:     CommandBarrier,
		SrcStage: srcStage,
		DstStage: dstStage,
		Barriers: append([]vk.ImageMemoryBarrier(nil), barriers...),
	})
}

func (d *Device) CmdBeginRendering(cmd vk.CommandBuffer, info *vk.RenderingInfo) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	rendering := *info
	rendering.PColorAttachments = append([]vk.RenderingAttachmentInfo(nil), info.PColorAttachments...)
	rendering.PDepthAttachment = append([]vk.RenderingAttachmentInfo(nil), info.PDepthAttachment...)
	d.record(cmd, Command{Kind: CommandBeginRendering, Rendering: rendering})
}

func (d *Device) CmdEndRendering(cmd vk.CommandBuffer) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.record(cmd, Command{Kind: CommandEndRendering})
}

func (d *Device) CmdCopyBuffer(cmd vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.record(cmd, Command{
		Kind:        CommandCopyBuffer,
		CopySrc:     src,
		CopyDst:     dst,
		CopyRegions: append([]vk.BufferCopy(nil), regions...),
	})
}

func (d *Device) CmdBindVertexBuffers(cmd vk.CommandBuffer, firstBinding uint32, buffers []vk.Buffer, offsets []vk.DeviceSize) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.record(cmd, Command{Kind: CommandBindVertexBuffers, BindBuffers: append([]vk.Buffer(nil), buffers...)})
}

func (d *Device) CmdBindIndexBuffer(cmd vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize, indexType vk.IndexType) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.record(cmd, Command{Kind: CommandBindIndexBuffer, BindBuffers: []vk.Buffer{buffer}, IndexType: indexType})
}

// Commands returns what is currently recorded in cmd.
func (d *Device) Commands(cmd vk.CommandBuffer) []Command {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	cb, ok := d.commandBuffers[cmd]
	if !ok {
		return nil
	}
	return append([]Command(nil), cb.commands...)
}

// CommandsOfKind filters Commands by kind.
func (d *Device) CommandsOfKind(cmd vk.CommandBuffer, kind CommandKind) []Command {
	var out []Command
	for _, command := range d.Commands(cmd) {
		if command.Kind == kind {
			out = append(out, command)
		}
	}
	return out
}

// CreateSwapchain creates exactly MinImageCount images. OldSwapchain is
// retired whether or not the call succeeds, and a surface may only have one
// swapchain that is not retired.
func (d *Device) CreateSwapchain(info *vk.SwapchainCreateInfo) (vk.Swapchain, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if info.OldSwapchain != nil {
		old, ok := d.swapchains[info.OldSwapchain]
		switch {
		case !ok:
			d.misused("CreateSwapchain with unknown old swapchain %#x", addr(unsafe.Pointer(info.OldSwapchain)))
		case old.retired:
			d.misused("CreateSwapchain with an old swapchain that is already retired")
		default:
			old.retired = true
		}
	}
	if err := d.fail(OpCreateSwapchain); err != nil {
		return nil, err
	}
	for _, sc := range d.swapchains {
		if sc.info.Surface == info.Surface && !sc.retired {
			return nil, &vulkan.Error{Op: string(OpCreateSwapchain), Result: vk.ErrorNativeWindowInUse}
		}
	}
	handle := vk.Swapchain(newObject())
	sc := &swapchain{info: *info}
	for i := uint32(0); i < info.MinImageCount; i++ {
		img := vk.Image(newObject())
		sc.images = append(sc.images, img)
		d.swapchainImages[img] = handle
	}
	d.swapchains[handle] = sc
	return handle, nil
}

func (d *Device) DestroySwapchain(handle vk.Swapchain) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	sc, ok := d.swapchains[handle]
	if !ok {
		d.misused("DestroySwapchain on unknown swapchain %#x", addr(unsafe.Pointer(handle)))
		return
	}
	for _, img := range sc.images {
		delete(d.swapchainImages, img)
	}
	delete(d.swapchains, handle)
}

// SwapchainInfo returns the create info of a live swapchain.
func (d *Device) SwapchainInfo(handle vk.Swapchain) (vk.SwapchainCreateInfo, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	sc, ok := d.swapchains[handle]
	if !ok {
		return vk.SwapchainCreateInfo{}, false
	}
	return sc.info, true
}

func (d *Device) SwapchainImages(handle vk.Swapchain) ([]vk.Image, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.fail(OpSwapchainImages); err != nil {
		return nil, err
	}
	sc, ok := d.swapchains[handle]
	if !ok {
		d.misused("SwapchainImages on unknown swapchain %#x", addr(unsafe.Pointer(handle)))
		return nil, &vulkan.Error{Op: string(OpSwapchainImages), Result: vk.ErrorUnknown}
	}
	return append([]vk.Image(nil), sc.images...), nil
}

// AcquireNextImage hands out images round-robin. Scripted results are used
// first; any result other than success or suboptimal acquires nothing.
func (d *Device) AcquireNextImage(handle vk.Swapchain, timeout uint64, semaphore vk.Semaphore) (uint32, vk.Result) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	sc, ok := d.swapchains[handle]
	if !ok {
		d.misused("AcquireNextImage on unknown swapchain %#x", addr(unsafe.Pointer(handle)))
		return 0, vk.ErrorSurfaceLost
	}
	signaled, ok := d.semaphores[semaphore]
	if !ok {
		d.misused("AcquireNextImage with unknown semaphore %#x", addr(unsafe.Pointer(semaphore)))
	}
	if sc.retired {
		return 0, vk.ErrorOutOfDate
	}

	res := vk.Success
	if len(d.acquireResults) > 0 {
		res = d.acquireResults[0]
		d.acquireResults = d.acquireResults[1:]
	}
	if res != vk.Success && res != vk.Suboptimal {
		return 0, res
	}
	if signaled {
		d.misused("AcquireNextImage signals semaphore %#x that is still pending", addr(unsafe.Pointer(semaphore)))
	}
	if ok {
		d.semaphores[semaphore] = true
	}
	index := sc.next
	sc.next = (sc.next + 1) % uint32(len(sc.images))
	sc.acquired = true
	return index, res
}

func (d *Device) QueuePresent(info *vk.PresentInfo) vk.Result {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	res := vk.Success
	if len(d.presentResults) > 0 {
		res = d.presentResults[0]
		d.presentResults = d.presentResults[1:]
	}
	for i, handle := range info.PSwapchains {
		sc, ok := d.swapchains[handle]
		if !ok {
			d.misused("QueuePresent on unknown swapchain %#x", addr(unsafe.Pointer(handle)))
			continue
		}
		if !sc.acquired {
			d.misused("QueuePresent without an acquired image")
		}
		for _, semaphore := range info.PWaitSemaphores {
			if _, ok := d.semaphores[semaphore]; ok {
				d.semaphores[semaphore] = false
			}
		}
		var index uint32
		if i < len(info.PImageIndices) {
			index = info.PImageIndices[i]
		}
		d.presentations = append(d.presentations, Presentation{
			Swapchain:      handle,
			ImageIndex:     index,
			WaitSemaphores: append([]vk.Semaphore(nil), info.PWaitSemaphores...),
			Result:         res,
		})
	}
	return res
}

func (d *Device) Presentations() []Presentation {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]Presentation(nil), d.presentations...)
}
