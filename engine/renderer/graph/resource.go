// Package graph declares render passes and the image attachments they use,
// turns those declarations into GPU images owned by a graph and replays the
// passes every frame with the layout barriers they need.
package graph

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/spaghettifunk/miel/engine/core"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
	"golang.org/x/exp/slices"
)

var (
	ErrAlreadyPresent    = errors.New("resource info is already present in this registry")
	ErrInvalidResourceID = errors.New("resource ID was not issued by NewImageAttachmentInfo")
	ErrRegistryConsumed  = errors.New("resource info registry was already turned into resources")
	ErrInvalidResource   = errors.New("a resource requested by a render pass is invalid")
)

type ResourceKind uint8

const (
	kindInvalid ResourceKind = iota
	// KindOther is an attachment owned by the graph.
	KindOther
	KindSwapchainColor
	KindSwapchainDepth
)

func (k ResourceKind) String() string {
	switch k {
	case KindOther:
		return "other"
	case KindSwapchainColor:
		return "swapchain-color"
	case KindSwapchainDepth:
		return "swapchain-depth"
	}
	return "invalid"
}

// ResourceID names an attachment. The two swapchain IDs are fixed and
// resolve against the image acquired for the current frame; every other ID
// is random and resolves against the graph's own images. The zero value is
// invalid.
type ResourceID struct {
	kind ResourceKind
	id   uuid.UUID
}

var (
	SwapchainColorAttachment = ResourceID{kind: KindSwapchainColor}
	SwapchainDepthAttachment = ResourceID{kind: KindSwapchainDepth}
)

func newResourceID() ResourceID {
	return ResourceID{kind: KindOther, id: uuid.New()}
}

func (r ResourceID) Kind() ResourceKind {
	return r.kind
}

func (r ResourceID) IsValid() bool {
	return r.kind != kindInvalid
}

func (r ResourceID) String() string {
	if r.kind == KindOther {
		return r.id.String()
	}
	return r.kind.String()
}

// AttachmentSize is either the swapchain extent, tracked across resizes, or
// a fixed extent.
type AttachmentSize struct {
	custom bool
	extent vk.Extent3D
}

func SwapchainSize() AttachmentSize {
	return AttachmentSize{}
}

func CustomSize(extent vk.Extent3D) AttachmentSize {
	return AttachmentSize{custom: true, extent: extent}
}

func (s AttachmentSize) IsSwapchainBased() bool {
	return !s.custom
}

// Extent is the fixed extent, or the zero extent for swapchain sized
// attachments.
func (s AttachmentSize) Extent() vk.Extent3D {
	return s.extent
}

// ImageAttachmentInfo describes an image the graph should create. The With
// helpers return a modified copy of the same description, keeping its ID.
// Clone returns an independent description with a new ID.
type ImageAttachmentInfo struct {
	id ResourceID

	Name       string
	Size       AttachmentSize
	Format     vk.Format
	Usage      vk.ImageUsageFlags
	LayerCount uint32
}

func NewImageAttachmentInfo(name string) ImageAttachmentInfo {
	return ImageAttachmentInfo{
		id:         newResourceID(),
		Name:       name,
		Size:       SwapchainSize(),
		Format:     vk.FormatUndefined,
		Usage:      vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		LayerCount: 1,
	}
}

func (i ImageAttachmentInfo) ID() ResourceID {
	return i.id
}

func (i ImageAttachmentInfo) WithName(name string) ImageAttachmentInfo {
	i.Name = name
	return i
}

func (i ImageAttachmentInfo) WithSize(size AttachmentSize) ImageAttachmentInfo {
	i.Size = size
	return i
}

func (i ImageAttachmentInfo) WithFormat(format vk.Format) ImageAttachmentInfo {
	i.Format = format
	return i
}

func (i ImageAttachmentInfo) WithUsage(usage vk.ImageUsageFlags) ImageAttachmentInfo {
	i.Usage = usage
	return i
}

func (i ImageAttachmentInfo) WithLayerCount(layers uint32) ImageAttachmentInfo {
	i.LayerCount = layers
	return i
}

func (i ImageAttachmentInfo) Clone() ImageAttachmentInfo {
	i.id = newResourceID()
	return i
}

func (i ImageAttachmentInfo) isDepth() bool {
	return i.Usage&vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit) != 0
}

// imageCreateInfo leaves the extent zero for swapchain sized attachments so
// the builder can fill it in.
func (i ImageAttachmentInfo) imageCreateInfo() vulkan.ImageCreateInfo {
	layers := i.LayerCount
	if layers == 0 {
		layers = 1
	}
	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if i.isDepth() {
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	viewType := vk.ImageViewType2d
	if layers > 1 {
		viewType = vk.ImageViewType2dArray
	}

	return vulkan.ImageCreateInfo{
		ImageInfo: vk.ImageCreateInfo{
			SType:         vk.StructureTypeImageCreateInfo,
			ImageType:     vk.ImageType2d,
			Format:        i.Format,
			Extent:        i.Size.Extent(),
			MipLevels:     1,
			ArrayLayers:   layers,
			Samples:       vk.SampleCount1Bit,
			Tiling:        vk.ImageTilingOptimal,
			Usage:         i.Usage,
			SharingMode:   vk.SharingModeExclusive,
			InitialLayout: vk.ImageLayoutUndefined,
		},
		ViewInfo: vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			ViewType: viewType,
			Format:   i.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     aspect,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     layers,
			},
		},
		AllocationName: i.Name,
	}
}

// ImageBuilder creates the GPU image for an attachment. A zero extent means
// the current swapchain extent.
type ImageBuilder interface {
	BuildImage(info vulkan.ImageCreateInfo) (*vulkan.Image, error)
}

// ResourceInfoRegistry collects attachment descriptions until the graph is
// built. It is consumed by CreateResources.
type ResourceInfoRegistry struct {
	infos    map[ResourceID]ImageAttachmentInfo
	order    []ResourceID
	consumed bool
}

func NewResourceInfoRegistry() *ResourceInfoRegistry {
	return &ResourceInfoRegistry{infos: make(map[ResourceID]ImageAttachmentInfo)}
}

// AddImageAttachment registers info under its ID. A description whose ID is
// already registered is rejected and the registered one is kept.
func (r *ResourceInfoRegistry) AddImageAttachment(info ImageAttachmentInfo) (ResourceID, error) {
	if r.consumed {
		return ResourceID{}, ErrRegistryConsumed
	}
	if info.id.kind != KindOther {
		return ResourceID{}, fmt.Errorf("%w: %q", ErrInvalidResourceID, info.Name)
	}
	if _, ok := r.infos[info.id]; ok {
		return ResourceID{}, fmt.Errorf("%w: %q (%s)", ErrAlreadyPresent, info.Name, info.id)
	}
	r.infos[info.id] = info
	r.order = append(r.order, info.id)
	return info.id, nil
}

func (r *ResourceInfoRegistry) Len() int {
	return len(r.order)
}

func (r *ResourceInfoRegistry) Info(id ResourceID) (ImageAttachmentInfo, bool) {
	info, ok := r.infos[id]
	return info, ok
}

// CreateResources creates one image per description, in insertion order. If
// any image fails, the ones already created are destroyed and no registry is
// returned.
func (r *ResourceInfoRegistry) CreateResources(builder ImageBuilder) (*GraphResourceRegistry, error) {
	if r.consumed {
		return nil, ErrRegistryConsumed
	}
	r.consumed = true

	resources := &GraphResourceRegistry{attachments: make(map[ResourceID]*ImageAttachment, len(r.order))}
	for _, id := range r.order {
		info := r.infos[id]
		img, err := builder.BuildImage(info.imageCreateInfo())
		if err != nil {
			resources.Destroy()
			return nil, fmt.Errorf("attachment %q: %w", info.Name, err)
		}
		resources.attachments[id] = &ImageAttachment{Image: img, Info: info}
		resources.order = append(resources.order, id)
	}
	r.infos = nil
	r.order = nil
	return resources, nil
}

type ImageAttachment struct {
	Image *vulkan.Image
	Info  ImageAttachmentInfo
}

// GraphResourceRegistry owns the images of a bound graph.
type GraphResourceRegistry struct {
	attachments map[ResourceID]*ImageAttachment
	order       []ResourceID
}

func (g *GraphResourceRegistry) Attachment(id ResourceID) (*ImageAttachment, bool) {
	if g == nil {
		return nil, false
	}
	attachment, ok := g.attachments[id]
	return attachment, ok
}

func (g *GraphResourceRegistry) Len() int {
	if g == nil {
		return 0
	}
	return len(g.order)
}

// IDs lists the attachments in creation order.
func (g *GraphResourceRegistry) IDs() []ResourceID {
	if g == nil {
		return nil
	}
	return slices.Clone(g.order)
}

// ImageStates returns the tracked state of every attachment, in creation
// order.
func (g *GraphResourceRegistry) ImageStates() []*vulkan.ImageState {
	if g == nil {
		return nil
	}
	states := make([]*vulkan.ImageState, 0, len(g.order))
	for _, id := range g.order {
		states = append(states, &g.attachments[id].Image.State)
	}
	return states
}

// RecreateSwapchainSized rebuilds every swapchain sized attachment, for use
// after the swapchain extent changed. Either all of them are replaced or, on
// failure, none are. Replaced images start over in the undefined layout.
func (g *GraphResourceRegistry) RecreateSwapchainSized(builder ImageBuilder) error {
	if g == nil {
		return nil
	}
	replacements := make(map[ResourceID]*vulkan.Image)
	for _, id := range g.order {
		attachment := g.attachments[id]
		if !attachment.Info.Size.IsSwapchainBased() {
			continue
		}
		img, err := builder.BuildImage(attachment.Info.imageCreateInfo())
		if err != nil {
			for _, created := range replacements {
				created.Destroy()
			}
			return fmt.Errorf("attachment %q: %w", attachment.Info.Name, err)
		}
		replacements[id] = img
	}
	for id, img := range replacements {
		attachment := g.attachments[id]
		attachment.Image.Destroy()
		attachment.Image = img
	}
	if len(replacements) > 0 {
		core.LogDebug("recreated %d swapchain sized attachments", len(replacements))
	}
	return nil
}

// Destroy releases every image. The GPU must be done with them.
func (g *GraphResourceRegistry) Destroy() {
	if g == nil {
		return
	}
	for _, id := range g.order {
		g.attachments[id].Image.Destroy()
	}
	g.attachments = nil
	g.order = nil
}

// FrameResources resolves resource IDs for one frame: swapchain IDs against
// the acquired swapchain slot, the rest against the graph's images.
type FrameResources struct {
	graph *GraphResourceRegistry
	frame vulkan.ImageResources
}

func NewFrameResources(graph *GraphResourceRegistry, frame vulkan.ImageResources) *FrameResources {
	return &FrameResources{graph: graph, frame: frame}
}

// ImageState returns the live state of id. Layout changes made through it
// are kept across frames.
func (f *FrameResources) ImageState(id ResourceID) (*vulkan.ImageState, error) {
	switch id.kind {
	case KindSwapchainColor:
		if f.frame.Color != nil {
			return f.frame.Color, nil
		}
	case KindSwapchainDepth:
		if f.frame.Depth != nil {
			return &f.frame.Depth.State, nil
		}
	case KindOther:
		if attachment, ok := f.graph.Attachment(id); ok {
			return &attachment.Image.State, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidResource, id)
}

// Image returns the graph owned image behind id, for recorders that need
// more than its state.
func (f *FrameResources) Image(id ResourceID) (*vulkan.Image, error) {
	if id.kind == KindSwapchainDepth && f.frame.Depth != nil {
		return f.frame.Depth, nil
	}
	if attachment, ok := f.graph.Attachment(id); ok {
		return attachment.Image, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidResource, id)
}
