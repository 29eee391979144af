package vulkan

import (
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/core"
)

// InfiniteTimeout makes waits block until the GPU answers.
const InfiniteTimeout uint64 = math.MaxUint64

// Fence wraps a native fence and remembers whether it is known to be
// signalled, so redundant waits and resets are skipped.
type Fence struct {
	Handle     vk.Fence
	IsSignaled bool

	device *DeviceRef
}

func NewFence(device *DeviceRef, createSignaled bool) (*Fence, error) {
	dev := device.Lock()
	handle, err := dev.CreateFence(createSignaled)
	device.Unlock()
	if err != nil {
		return nil, err
	}
	return &Fence{
		Handle:     handle,
		IsSignaled: createSignaled,
		device:     device,
	}, nil
}

// Wait blocks until the fence is signalled or timeoutNs elapses.
func (f *Fence) Wait(timeoutNs uint64) error {
	if f.IsSignaled {
		return nil
	}
	dev := f.device.RLock()
	err := dev.WaitForFences([]vk.Fence{f.Handle}, timeoutNs)
	f.device.RUnlock()
	if err != nil {
		core.LogError("fence wait: %s", err)
		return err
	}
	f.IsSignaled = true
	return nil
}

// Reset moves the fence back to unsignalled before it is handed to a
// submission.
func (f *Fence) Reset() error {
	dev := f.device.RLock()
	err := dev.ResetFences([]vk.Fence{f.Handle})
	f.device.RUnlock()
	if err != nil {
		return err
	}
	f.IsSignaled = false
	return nil
}

func (f *Fence) Destroy() {
	if f == nil || f.Handle == nil {
		return
	}
	dev := f.device.Lock()
	dev.DestroyFence(f.Handle)
	f.device.Unlock()
	f.Handle = nil
	f.IsSignaled = false
}
