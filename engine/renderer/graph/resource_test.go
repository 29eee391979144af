package graph_test

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/graph"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan/vktest"
)

func TestResourceIDsAreUnique(t *testing.T) {
	registry := graph.NewResourceInfoRegistry()
	seen := map[graph.ResourceID]bool{}
	for i := 0; i < 64; i++ {
		id, err := registry.AddImageAttachment(graph.NewImageAttachmentInfo("attachment"))
		if err != nil {
			t.Fatalf("AddImageAttachment: %v", err)
		}
		if seen[id] {
			t.Fatalf("id %s issued twice", id)
		}
		if id == graph.SwapchainColorAttachment || id == graph.SwapchainDepthAttachment {
			t.Fatalf("id %s collides with a swapchain id", id)
		}
		if !id.IsValid() || id.Kind() != graph.KindOther {
			t.Fatalf("id %s has kind %s", id, id.Kind())
		}
		seen[id] = true
	}
	if registry.Len() != 64 {
		t.Errorf("Len() = %d, want 64", registry.Len())
	}
	if (graph.ResourceID{}).IsValid() {
		t.Error("zero ResourceID reports valid")
	}
}

func TestAttachmentInfoCopies(t *testing.T) {
	base := graph.NewImageAttachmentInfo("hdr")
	modified := base.WithFormat(vk.FormatR16g16b16a16Sfloat).WithLayerCount(2)
	if modified.ID() != base.ID() {
		t.Error("With helpers must keep the description's id")
	}
	if base.Format != vk.FormatUndefined || base.LayerCount != 1 {
		t.Errorf("With helpers modified the base info: %+v", base)
	}
	if clone := base.Clone(); clone.ID() == base.ID() {
		t.Error("Clone must issue a fresh id")
	}
}

func TestAddImageAttachmentRejectsDuplicates(t *testing.T) {
	registry := graph.NewResourceInfoRegistry()
	info := graph.NewImageAttachmentInfo("first")
	id, err := registry.AddImageAttachment(info)
	if err != nil {
		t.Fatalf("AddImageAttachment: %v", err)
	}

	_, err = registry.AddImageAttachment(info.WithName("second"))
	if !errors.Is(err, graph.ErrAlreadyPresent) {
		t.Fatalf("duplicate error = %v, want ErrAlreadyPresent", err)
	}
	if got, _ := registry.Info(id); got.Name != "first" {
		t.Errorf("duplicate overwrote the registered description: %q", got.Name)
	}
	if registry.Len() != 1 {
		t.Errorf("Len() = %d, want 1", registry.Len())
	}

	if _, err := registry.AddImageAttachment(graph.ImageAttachmentInfo{Name: "hand made"}); !errors.Is(err, graph.ErrInvalidResourceID) {
		t.Errorf("hand made description error = %v, want ErrInvalidResourceID", err)
	}
}

func TestCreateResources(t *testing.T) {
	b := newTestBuilder(t)
	registry := graph.NewResourceInfoRegistry()
	color, _ := registry.AddImageAttachment(graph.NewImageAttachmentInfo("color").WithFormat(vk.FormatR8g8b8a8Unorm))
	custom := vk.Extent3D{Width: 300, Height: 200, Depth: 1}
	shadow, _ := registry.AddImageAttachment(graph.NewImageAttachmentInfo("shadow").
		WithSize(graph.CustomSize(custom)).
		WithFormat(vk.FormatD32Sfloat).
		WithUsage(vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)).
		WithLayerCount(4))

	resources, err := registry.CreateResources(b)
	if err != nil {
		t.Fatalf("CreateResources: %v", err)
	}
	if resources.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", resources.Len())
	}
	if ids := resources.IDs(); ids[0] != color || ids[1] != shadow {
		t.Errorf("IDs() = %v, want insertion order", ids)
	}

	colorImage, _ := resources.Attachment(color)
	if got := colorImage.Image.State.Extent; got.Width != 64 || got.Height != 32 {
		t.Errorf("swapchain sized extent = %+v, want 64x32", got)
	}
	shadowImage, _ := resources.Attachment(shadow)
	if got := shadowImage.Image.State.Extent; got != custom {
		t.Errorf("custom extent = %+v, want %+v", got, custom)
	}
	view, _ := b.fake.ViewInfo(shadowImage.Image.State.View)
	if view.ViewType != vk.ImageViewType2dArray {
		t.Errorf("layered view type = %d, want 2D array", view.ViewType)
	}
	if view.SubresourceRange.AspectMask != vk.ImageAspectFlags(vk.ImageAspectDepthBit) || view.SubresourceRange.LayerCount != 4 {
		t.Errorf("depth range = %+v", view.SubresourceRange)
	}
	colorView, _ := b.fake.ViewInfo(colorImage.Image.State.View)
	if colorView.ViewType != vk.ImageViewType2d || colorView.SubresourceRange.AspectMask != vk.ImageAspectFlags(vk.ImageAspectColorBit) {
		t.Errorf("color view type %d aspect %#x", colorView.ViewType, colorView.SubresourceRange.AspectMask)
	}

	if _, err := registry.CreateResources(b); !errors.Is(err, graph.ErrRegistryConsumed) {
		t.Errorf("second CreateResources error = %v, want ErrRegistryConsumed", err)
	}
	if _, err := registry.AddImageAttachment(graph.NewImageAttachmentInfo("late")); !errors.Is(err, graph.ErrRegistryConsumed) {
		t.Errorf("AddImageAttachment after consume error = %v", err)
	}

	resources.Destroy()
	b.checkClean(t)
}

func TestCreateResourcesIsAllOrNothing(t *testing.T) {
	for skip := 0; skip < 3; skip++ {
		b := newTestBuilder(t)
		registry := graph.NewResourceInfoRegistry()
		for _, name := range []string{"a", "b", "c"} {
			if _, err := registry.AddImageAttachment(graph.NewImageAttachmentInfo(name)); err != nil {
				t.Fatalf("AddImageAttachment: %v", err)
			}
		}
		b.fake.FailAfter(vktest.OpCreateImageView, skip, vk.ErrorOutOfDeviceMemory)

		resources, err := registry.CreateResources(b)
		if resources != nil || !vulkan.HasResult(err, vk.ErrorOutOfDeviceMemory) {
			t.Fatalf("skip %d: CreateResources = %v, %v", skip, resources, err)
		}
		b.checkClean(t)
	}
}

func TestRecreateSwapchainSized(t *testing.T) {
	b := newTestBuilder(t)
	registry := graph.NewResourceInfoRegistry()
	tracked, _ := registry.AddImageAttachment(graph.NewImageAttachmentInfo("tracked"))
	fixed, _ := registry.AddImageAttachment(graph.NewImageAttachmentInfo("fixed").
		WithSize(graph.CustomSize(vk.Extent3D{Width: 16, Height: 16, Depth: 1})))
	resources, err := registry.CreateResources(b)
	if err != nil {
		t.Fatalf("CreateResources: %v", err)
	}
	defer b.checkClean(t)
	defer resources.Destroy()

	fixedBefore, _ := resources.Attachment(fixed)
	fixedHandle := fixedBefore.Image.State.Handle
	trackedBefore, _ := resources.Attachment(tracked)
	trackedBefore.Image.State.Layout = vk.ImageLayoutColorAttachmentOptimal
	live := b.fake.Live()

	b.extent = vk.Extent2D{Width: 128, Height: 96}
	b.fake.FailNext(vktest.OpCreateImage, 1, vk.ErrorOutOfDeviceMemory)
	if err := resources.RecreateSwapchainSized(b); err == nil {
		t.Fatal("RecreateSwapchainSized succeeded despite an injected failure")
	}
	if got, _ := resources.Attachment(tracked); got.Image.State.Extent.Width != 64 {
		t.Error("failed recreate replaced an attachment")
	}
	if b.fake.Live() != live {
		t.Errorf("failed recreate leaked: %+v, want %+v", b.fake.Live(), live)
	}

	if err := resources.RecreateSwapchainSized(b); err != nil {
		t.Fatalf("RecreateSwapchainSized: %v", err)
	}
	got, _ := resources.Attachment(tracked)
	if got.Image.State.Extent.Width != 128 || got.Image.State.Extent.Height != 96 {
		t.Errorf("tracked extent = %+v, want 128x96", got.Image.State.Extent)
	}
	if got.Image.State.Layout != vk.ImageLayoutUndefined {
		t.Errorf("recreated layout = %d, want undefined", got.Image.State.Layout)
	}
	if f, _ := resources.Attachment(fixed); f.Image.State.Handle != fixedHandle {
		t.Error("custom sized attachment was recreated")
	}
	if b.fake.Live() != live {
		t.Errorf("recreate changed live objects: %+v, want %+v", b.fake.Live(), live)
	}
}

func TestFrameResourcesResolve(t *testing.T) {
	b := newTestBuilder(t)
	registry := graph.NewResourceInfoRegistry()
	id, _ := registry.AddImageAttachment(graph.NewImageAttachmentInfo("offscreen"))
	resources, err := registry.CreateResources(b)
	if err != nil {
		t.Fatalf("CreateResources: %v", err)
	}
	f := b.newFrame(t)
	defer func() {
		b.releaseFrame(f)
		resources.Destroy()
		b.checkClean(t)
	}()

	res := graph.NewFrameResources(resources, f.resources)
	tests := []struct {
		id   graph.ResourceID
		want *vulkan.ImageState
	}{
		{id: graph.SwapchainColorAttachment, want: f.resources.Color},
		{id: graph.SwapchainDepthAttachment, want: &f.resources.Depth.State},
		{id: id},
	}
	attachment, _ := resources.Attachment(id)
	tests[2].want = &attachment.Image.State
	for _, tt := range tests {
		got, err := res.ImageState(tt.id)
		if err != nil {
			t.Errorf("ImageState(%s): %v", tt.id, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ImageState(%s) does not point at the live state", tt.id)
		}
	}

	for _, bad := range []graph.ResourceID{{}, graph.NewImageAttachmentInfo("unbound").ID()} {
		if _, err := res.ImageState(bad); !errors.Is(err, graph.ErrInvalidResource) {
			t.Errorf("ImageState(%s) error = %v, want ErrInvalidResource", bad, err)
		}
	}
}
