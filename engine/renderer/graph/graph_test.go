package graph_test

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/graph"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan/vktest"
)

type passData struct {
	calls     int
	destroyed bool
}

func TestRenderGraphSingleAttachment(t *testing.T) {
	b := newTestBuilder(t)
	registry := graph.NewResourceInfoRegistry()
	offscreen, _ := registry.AddImageAttachment(graph.NewImageAttachmentInfo("offscreen").WithFormat(vk.FormatR16g16b16a16Sfloat))

	pass := graph.NewSimpleRenderPass("scene", passData{}).
		AddColorAttachment(offscreen, graph.WriteOnly).
		AddColorAttachment(graph.SwapchainColorAttachment, graph.WriteOnly).
		SetCommandRecorder(func(data *passData, res *graph.FrameResources, cmd vk.CommandBuffer, device *vulkan.DeviceRef) error {
			data.calls++
			_, err := res.ImageState(offscreen)
			return err
		})
	info := graph.NewRenderGraphInfo(registry).PushRenderPass(pass)
	g, err := graph.NewRenderGraph(info, b)
	if err != nil {
		t.Fatalf("NewRenderGraph: %v", err)
	}
	if _, err := graph.NewRenderGraph(info, b); !errors.Is(err, graph.ErrGraphInfoConsumed) {
		t.Errorf("reusing info error = %v, want ErrGraphInfoConsumed", err)
	}

	f := b.newFrame(t)
	if err := g.Render(f.resources, f.cmd, b.device); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if pass.Data().calls != 1 {
		t.Errorf("recorder ran %d times, want 1", pass.Data().calls)
	}
	attachment, _ := g.Resources().Attachment(offscreen)
	if attachment.Image.State.Layout != vk.ImageLayoutColorAttachmentOptimal {
		t.Errorf("offscreen layout = %d, want color attachment optimal", attachment.Image.State.Layout)
	}
	if f.resources.Color.Layout != vk.ImageLayoutColorAttachmentOptimal {
		t.Errorf("swapchain color layout = %d, want color attachment optimal", f.resources.Color.Layout)
	}

	commands := b.fake.Commands(f.cmd)
	kinds := make([]vktest.CommandKind, len(commands))
	for i, c := range commands {
		kinds[i] = c.Kind
	}
	wantKinds := []vktest.CommandKind{vktest.CommandBarrier, vktest.CommandBarrier, vktest.CommandBeginRendering, vktest.CommandEndRendering}
	if len(kinds) != len(wantKinds) {
		t.Fatalf("recorded %v, want %v", kinds, wantKinds)
	}
	for i := range wantKinds {
		if kinds[i] != wantKinds[i] {
			t.Fatalf("recorded %v, want %v", kinds, wantKinds)
		}
	}

	rendering := commands[2].Rendering
	if rendering.RenderArea.Extent != attachment.Image.State.Extent2D || rendering.LayerCount != 1 {
		t.Errorf("render area = %+v, layers %d", rendering.RenderArea, rendering.LayerCount)
	}
	if rendering.ColorAttachmentCount != 2 || rendering.PColorAttachments[0].ImageView != attachment.Image.State.View {
		t.Errorf("color attachments = %d, first does not use the attachment view", rendering.ColorAttachmentCount)
	}
	for _, a := range rendering.PColorAttachments {
		if a.LoadOp != vk.AttachmentLoadOpClear || a.StoreOp != vk.AttachmentStoreOpStore {
			t.Errorf("attachment ops = %d/%d, want clear/store", a.LoadOp, a.StoreOp)
		}
	}
	if len(rendering.PDepthAttachment) != 0 {
		t.Error("pass without depth got a depth attachment")
	}

	if err := g.Render(f.resources, f.cmd, b.device); err != nil {
		t.Fatalf("second Render: %v", err)
	}
	if got := len(b.fake.CommandsOfKind(f.cmd, vktest.CommandBarrier)); got != 2 {
		t.Errorf("barriers after second frame = %d, want 2 (attachments already in layout)", got)
	}

	b.releaseFrame(f)
	g.Destroy()
	b.checkClean(t)
}

func TestColorBarrierAccessMasks(t *testing.T) {
	tests := []struct {
		access graph.ResourceAccessType
		want   vk.AccessFlags
	}{
		{access: graph.ReadOnly, want: vk.AccessFlags(vk.AccessColorAttachmentReadBit)},
		{access: graph.WriteOnly, want: vk.AccessFlags(vk.AccessColorAttachmentWriteBit)},
		{access: graph.ReadWrite, want: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit)},
	}
	for _, tt := range tests {
		t.Run(tt.access.String(), func(t *testing.T) {
			b := newTestBuilder(t)
			pass := graph.NewSimpleRenderPass("pass", struct{}{}).
				AddColorAttachment(graph.SwapchainColorAttachment, graph.ReadWrite).
				AddColorAttachment(graph.SwapchainColorAttachment, tt.access)
			if n := len(pass.AttachmentInfo().ColorAttachments); n != 1 {
				t.Fatalf("re-adding an attachment produced %d entries", n)
			}
			g, err := graph.NewRenderGraph(graph.NewRenderGraphInfo(nil).PushRenderPass(pass), b)
			if err != nil {
				t.Fatalf("NewRenderGraph: %v", err)
			}
			f := b.newFrame(t)
			defer func() {
				b.releaseFrame(f)
				g.Destroy()
				b.checkClean(t)
			}()

			if err := g.Render(f.resources, f.cmd, b.device); err != nil {
				t.Fatalf("Render: %v", err)
			}
			barriers := b.fake.CommandsOfKind(f.cmd, vktest.CommandBarrier)
			if len(barriers) != 1 {
				t.Fatalf("barriers = %d, want 1", len(barriers))
			}
			barrier := barriers[0].Barriers[0]
			if barrier.SrcAccessMask != vk.AccessFlags(vk.AccessColorAttachmentWriteBit) || barrier.DstAccessMask != tt.want {
				t.Errorf("access masks = %#x -> %#x, want write -> %#x", barrier.SrcAccessMask, barrier.DstAccessMask, tt.want)
			}
			stage := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
			if barriers[0].SrcStage != stage || barriers[0].DstStage != stage {
				t.Errorf("stages = %#x -> %#x, want color attachment output", barriers[0].SrcStage, barriers[0].DstStage)
			}
			if barrier.OldLayout != vk.ImageLayoutUndefined || barrier.NewLayout != vk.ImageLayoutColorAttachmentOptimal {
				t.Errorf("layouts = %d -> %d", barrier.OldLayout, barrier.NewLayout)
			}
		})
	}
}

func TestDepthBarrierAndAttachment(t *testing.T) {
	b := newTestBuilder(t)
	pass := graph.NewSimpleRenderPass("depth", struct{}{}).
		AddColorAttachment(graph.SwapchainColorAttachment, graph.WriteOnly).
		SetDepthAttachment(graph.SwapchainDepthAttachment)
	g, err := graph.NewRenderGraph(graph.NewRenderGraphInfo(nil).PushRenderPass(pass), b)
	if err != nil {
		t.Fatalf("NewRenderGraph: %v", err)
	}
	f := b.newFrame(t)
	defer func() {
		b.releaseFrame(f)
		g.Destroy()
		b.checkClean(t)
	}()

	if err := g.Render(f.resources, f.cmd, b.device); err != nil {
		t.Fatalf("Render: %v", err)
	}
	barriers := b.fake.CommandsOfKind(f.cmd, vktest.CommandBarrier)
	if len(barriers) != 2 {
		t.Fatalf("barriers = %d, want color and depth", len(barriers))
	}
	depth := barriers[1]
	if depth.SrcStage != vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit) ||
		depth.DstStage != vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit) {
		t.Errorf("depth stages = %#x -> %#x", depth.SrcStage, depth.DstStage)
	}
	barrier := depth.Barriers[0]
	if barrier.SrcAccessMask != vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit) ||
		barrier.DstAccessMask != vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit) {
		t.Errorf("depth access = %#x -> %#x", barrier.SrcAccessMask, barrier.DstAccessMask)
	}
	if barrier.Image != f.resources.Depth.State.Handle || barrier.NewLayout != vk.ImageLayoutDepthStencilAttachmentOptimal {
		t.Errorf("depth barrier does not target the depth image, layout %d", barrier.NewLayout)
	}
	if f.resources.Depth.State.Layout != vk.ImageLayoutDepthStencilAttachmentOptimal {
		t.Errorf("tracked depth layout = %d", f.resources.Depth.State.Layout)
	}

	rendering := b.fake.CommandsOfKind(f.cmd, vktest.CommandBeginRendering)[0].Rendering
	if len(rendering.PDepthAttachment) != 1 || rendering.PDepthAttachment[0].ImageView != f.resources.Depth.State.View {
		t.Fatal("depth attachment missing from the rendering scope")
	}
	depthAttachment := rendering.PDepthAttachment[0]
	if depthAttachment.LoadOp != vk.AttachmentLoadOpClear {
		t.Errorf("depth load op = %d, want clear", depthAttachment.LoadOp)
	}
	var farPlane vk.ClearValue
	farPlane.SetDepthStencil(1, 0)
	if depthAttachment.ClearValue != farPlane {
		t.Errorf("depth is not cleared to 1.0")
	}
}

func TestDepthOnlyRenderArea(t *testing.T) {
	b := newTestBuilder(t)
	registry := graph.NewResourceInfoRegistry()
	extent := vk.Extent3D{Width: 512, Height: 512, Depth: 1}
	shadow, _ := registry.AddImageAttachment(graph.NewImageAttachmentInfo("shadow").
		WithSize(graph.CustomSize(extent)).
		WithFormat(vk.FormatD32Sfloat).
		WithUsage(vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)))
	pass := graph.NewSimpleRenderPass("shadow", struct{}{}).SetDepthAttachment(shadow)
	g, err := graph.NewRenderGraph(graph.NewRenderGraphInfo(registry).PushRenderPass(pass), b)
	if err != nil {
		t.Fatalf("NewRenderGraph: %v", err)
	}
	f := b.newFrame(t)
	defer func() {
		b.releaseFrame(f)
		g.Destroy()
		b.checkClean(t)
	}()

	if err := g.Render(f.resources, f.cmd, b.device); err != nil {
		t.Fatalf("Render: %v", err)
	}
	rendering := b.fake.CommandsOfKind(f.cmd, vktest.CommandBeginRendering)[0].Rendering
	if rendering.RenderArea.Extent.Width != 512 || rendering.RenderArea.Extent.Height != 512 {
		t.Errorf("render area = %+v, want the depth attachment's extent", rendering.RenderArea.Extent)
	}
	if rendering.ColorAttachmentCount != 0 {
		t.Errorf("color attachments = %d, want 0", rendering.ColorAttachmentCount)
	}
}

func TestRenderInvalidResource(t *testing.T) {
	b := newTestBuilder(t)
	unbound := graph.NewImageAttachmentInfo("never registered").ID()
	called := false
	pass := graph.NewSimpleRenderPass("broken", struct{}{}).
		AddColorAttachment(unbound, graph.WriteOnly).
		SetCommandRecorder(func(*struct{}, *graph.FrameResources, vk.CommandBuffer, *vulkan.DeviceRef) error {
			called = true
			return nil
		})
	g, err := graph.NewRenderGraph(graph.NewRenderGraphInfo(nil).PushRenderPass(pass), b)
	if err != nil {
		t.Fatalf("NewRenderGraph: %v", err)
	}
	f := b.newFrame(t)
	defer func() {
		b.releaseFrame(f)
		g.Destroy()
		b.checkClean(t)
	}()

	if err := g.Render(f.resources, f.cmd, b.device); !errors.Is(err, graph.ErrInvalidResource) {
		t.Fatalf("Render error = %v, want ErrInvalidResource", err)
	}
	if called {
		t.Error("recorder ran for a pass with an unresolved attachment")
	}
	if n := len(b.fake.Commands(f.cmd)); n != 0 {
		t.Errorf("recorded %d commands, want none", n)
	}
}

func TestRenderRecorderError(t *testing.T) {
	b := newTestBuilder(t)
	boom := errors.New("boom")
	first := graph.NewSimpleRenderPass("first", struct{}{}).
		AddColorAttachment(graph.SwapchainColorAttachment, graph.WriteOnly).
		SetCommandRecorder(func(*struct{}, *graph.FrameResources, vk.CommandBuffer, *vulkan.DeviceRef) error {
			return boom
		})
	secondRan := false
	second := graph.NewSimpleRenderPass("second", struct{}{}).
		AddColorAttachment(graph.SwapchainColorAttachment, graph.ReadOnly).
		SetCommandRecorder(func(*struct{}, *graph.FrameResources, vk.CommandBuffer, *vulkan.DeviceRef) error {
			secondRan = true
			return nil
		})
	g, err := graph.NewRenderGraph(graph.NewRenderGraphInfo(nil).PushRenderPass(first).PushRenderPass(second), b)
	if err != nil {
		t.Fatalf("NewRenderGraph: %v", err)
	}
	f := b.newFrame(t)
	defer func() {
		b.releaseFrame(f)
		g.Destroy()
		b.checkClean(t)
	}()

	if err := g.Render(f.resources, f.cmd, b.device); !errors.Is(err, boom) {
		t.Fatalf("Render error = %v, want recorder error", err)
	}
	if secondRan {
		t.Error("pass after a failing one still ran")
	}
	begins := len(b.fake.CommandsOfKind(f.cmd, vktest.CommandBeginRendering))
	ends := len(b.fake.CommandsOfKind(f.cmd, vktest.CommandEndRendering))
	if begins != 1 || ends != 1 {
		t.Errorf("begin/end rendering = %d/%d, want a closed scope", begins, ends)
	}
}

func TestRenderGraphDestroyRunsPassCleanup(t *testing.T) {
	b := newTestBuilder(t)
	pass := graph.NewSimpleRenderPass("owner", passData{}).
		OnDestroy(func(data *passData) { data.destroyed = true })
	g, err := graph.NewRenderGraph(graph.NewRenderGraphInfo(nil).PushRenderPass(pass), b)
	if err != nil {
		t.Fatalf("NewRenderGraph: %v", err)
	}
	if len(g.Passes()) != 1 || g.Passes()[0].Name() != "owner" {
		t.Errorf("Passes() = %v", g.Passes())
	}
	g.Destroy()
	if !pass.Data().destroyed {
		t.Error("Destroy did not run the pass cleanup")
	}
	b.checkClean(t)
}

func TestEmptyRenderGraph(t *testing.T) {
	b := newTestBuilder(t)
	g := graph.EmptyRenderGraph()
	f := b.newFrame(t)
	if err := g.Render(f.resources, f.cmd, b.device); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if n := len(b.fake.Commands(f.cmd)); n != 0 {
		t.Errorf("empty graph recorded %d commands", n)
	}
	b.releaseFrame(f)
	g.Destroy()
	b.checkClean(t)
}
