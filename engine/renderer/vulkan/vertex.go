package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/math"
)

type VertexInputDescription struct {
	Bindings   []vk.VertexInputBindingDescription
	Attributes []vk.VertexInputAttributeDescription
}

// Vertex is implemented by plain-data vertex layouts that can be uploaded
// as-is. The position attribute is expected first, at offset zero.
type Vertex interface {
	VertexInputDescription() VertexInputDescription
}

// SimpleVertex only carries a position.
type SimpleVertex struct {
	Position math.Vec3
}

func (SimpleVertex) VertexInputDescription() VertexInputDescription {
	var v SimpleVertex
	return VertexInputDescription{
		Bindings: []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    uint32(unsafe.Sizeof(v)),
			InputRate: vk.VertexInputRateVertex,
		}},
		Attributes: []vk.VertexInputAttributeDescription{{
			Location: 0,
			Binding:  0,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(v.Position)),
		}},
	}
}
