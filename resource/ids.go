package resource

import "fmt"

// Category discriminates the kind of resource an ID refers to
type Category int32

const (
	CategoryVertexBuffer Category = iota + 1
	CategoryIndexBuffer
	CategoryConstantBuffer
	CategoryDynamicVertexBuffer
	CategoryUnorderedAccessBuffer
	CategoryTexture
	CategorySampler
)

var categoryMapping = map[Category]string{
	CategoryVertexBuffer:          "VertexBuffer",
	CategoryIndexBuffer:           "IndexBuffer",
	CategoryConstantBuffer:        "ConstantBuffer",
	CategoryDynamicVertexBuffer:   "DynamicVertexBuffer",
	CategoryUnorderedAccessBuffer: "UnorderedAccessBuffer",
	CategoryTexture:               "Texture",
	CategorySampler:               "Sampler",
}

func (c Category) String() string {
	str, ok := categoryMapping[c]
	if !ok {
		return fmt.Sprintf("Category(%d)", int32(c))
	}
	return str
}

// ID identifies a resource owned by a Manager. Resources live as long as the Manager.
type ID struct {
	Category Category
	Index    int
}

func (id ID) String() string {
	return fmt.Sprintf("%s#%d", id.Category, id.Index)
}

type VertexBufferID struct{ ID }
type IndexBufferID struct{ ID }
type ConstantBufferID struct{ ID }
type DynamicVertexBufferID struct{ ID }
type UnorderedAccessBufferID struct{ ID }
type TextureID struct{ ID }
type SamplerID struct{ ID }
