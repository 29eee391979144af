package vktest

import (
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
)

// Surface is a window surface whose extent tests can change to simulate a
// resize.
type Surface struct {
	mutex        sync.Mutex
	handle       vk.Surface
	capabilities vk.SurfaceCapabilities
	err          error
}

var _ vulkan.Surface = (*Surface)(nil)

// NewSurface returns a surface that requires exactly width x height and
// allows two to three images.
func NewSurface(width, height uint32) *Surface {
	return &Surface{
		handle: vk.Surface(newObject()),
		capabilities: vk.SurfaceCapabilities{
			MinImageCount:           2,
			MaxImageCount:           3,
			CurrentExtent:           vk.Extent2D{Width: width, Height: height},
			MinImageExtent:          vk.Extent2D{Width: 1, Height: 1},
			MaxImageExtent:          vk.Extent2D{Width: 4096, Height: 4096},
			MaxImageArrayLayers:     1,
			CurrentTransform:        vk.SurfaceTransformIdentityBit,
			SupportedCompositeAlpha: vk.CompositeAlphaFlags(vk.CompositeAlphaOpaqueBit),
			SupportedUsageFlags:     vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		},
	}
}

// SetExtent changes the extent reported by the next Capabilities call.
func (s *Surface) SetExtent(width, height uint32) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.capabilities.CurrentExtent = vk.Extent2D{Width: width, Height: height}
}

// SetImageCount changes the image count bounds. A max of zero means no
// limit.
func (s *Surface) SetImageCount(minCount, maxCount uint32) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.capabilities.MinImageCount = minCount
	s.capabilities.MaxImageCount = maxCount
}

// SetCapabilitiesError makes Capabilities fail until it is reset with nil.
func (s *Surface) SetCapabilitiesError(err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.err = err
}

func (s *Surface) Handle() vk.Surface {
	return s.handle
}

func (s *Surface) Capabilities() (vk.SurfaceCapabilities, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.err != nil {
		return vk.SurfaceCapabilities{}, s.err
	}
	return s.capabilities, nil
}

func (s *Surface) Format() vk.SurfaceFormat {
	return vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
}

func (s *Surface) PresentMode() vk.PresentMode {
	return vk.PresentModeFifo
}
