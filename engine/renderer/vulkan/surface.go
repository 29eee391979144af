package vulkan

import (
	"strings"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/core"
)

// Surface is what the swapchain needs to know about the presentation target.
// Capabilities are queried again on every (re)creation.
type Surface interface {
	Handle() vk.Surface
	Capabilities() (vk.SurfaceCapabilities, error)
	Format() vk.SurfaceFormat
	PresentMode() vk.PresentMode
}

// PresentationSurface is a window surface bound to the physical device that
// presents to it.
type PresentationSurface struct {
	handle      vk.Surface
	instance    vk.Instance
	physical    vk.PhysicalDevice
	format      vk.SurfaceFormat
	presentMode vk.PresentMode
}

// ParsePresentMode maps the configuration names to present modes, defaulting
// to FIFO which is always supported.
func ParsePresentMode(name string) vk.PresentMode {
	switch strings.ToLower(name) {
	case "mailbox":
		return vk.PresentModeMailbox
	case "immediate":
		return vk.PresentModeImmediate
	}
	return vk.PresentModeFifo
}

// NewPresentationSurface takes ownership of handle and picks the surface
// format and present mode. preferred is used when the device supports it,
// FIFO otherwise.
func NewPresentationSurface(instance vk.Instance, physical vk.PhysicalDevice, handle vk.Surface, preferred vk.PresentMode) (*PresentationSurface, error) {
	s := &PresentationSurface{
		handle:      handle,
		instance:    instance,
		physical:    physical,
		presentMode: vk.PresentModeFifo,
	}

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(physical, handle, &formatCount, nil); res != vk.Success {
		return nil, newError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
	}
	formats := make([]vk.SurfaceFormat, formatCount)
	if res := vk.GetPhysicalDeviceSurfaceFormats(physical, handle, &formatCount, formats); res != vk.Success {
		return nil, newError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
	}
	if len(formats) == 0 {
		return nil, newError("vkGetPhysicalDeviceSurfaceFormatsKHR", vk.ErrorFormatNotSupported)
	}
	for i := range formats {
		formats[i].Deref()
	}
	s.format = formats[0]
	for _, format := range formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			s.format = format
			break
		}
	}

	var modeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physical, handle, &modeCount, nil); res != vk.Success {
		return nil, newError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
	}
	modes := make([]vk.PresentMode, modeCount)
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physical, handle, &modeCount, modes); res != vk.Success {
		return nil, newError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
	}
	for _, mode := range modes {
		if mode == preferred {
			s.presentMode = mode
			break
		}
	}
	if s.presentMode != preferred {
		core.LogWarn("present mode %d not supported, falling back to FIFO", preferred)
	}
	return s, nil
}

func (s *PresentationSurface) Handle() vk.Surface {
	return s.handle
}

func (s *PresentationSurface) Capabilities() (vk.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(s.physical, s.handle, &caps); res != vk.Success {
		return caps, newError("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", res)
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	return caps, nil
}

func (s *PresentationSurface) Format() vk.SurfaceFormat {
	return s.format
}

func (s *PresentationSurface) PresentMode() vk.PresentMode {
	return s.presentMode
}

func (s *PresentationSurface) Destroy() {
	if s.handle == vk.NullSurface {
		return
	}
	core.LogDebug("Destroying Vulkan surface...")
	vk.DestroySurface(s.instance, s.handle, nil)
	s.handle = vk.NullSurface
}
