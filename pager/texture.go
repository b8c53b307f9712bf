package pager

import (
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/gpu"
)

// TextureCategory identifies textures that are interchangeable: a retired texture page is only
// reused for a texture with an identical description
type TextureCategory struct {
	Heap gpu.HeapType
	Desc gpu.ResourceDesc
}

func (c TextureCategory) String() string {
	return fmt.Sprintf("%s/%s/%s/%dx%dx%d/%dmips", c.Heap, c.Desc.Dimension, c.Desc.Format,
		c.Desc.Width, c.Desc.Height, c.Desc.DepthOrArraySize, c.Desc.MipLevels)
}

// TextureAllocation refers to a texture page. Every texture has a page of its own.
type TextureAllocation struct {
	Page     PageHandle
	Category TextureCategory
}

// TextureAllocator creates committed textures and recycles them by description
type TextureAllocator struct {
	pageAllocator[TextureCategory]

	factory gpu.ResourceFactory
}

var _ pageSource[TextureCategory] = &TextureAllocator{}

func NewTextureAllocator(logger *slog.Logger, factory gpu.ResourceFactory, timeline *Timeline, options CreateOptions) *TextureAllocator {
	allocator := &TextureAllocator{
		factory: factory,
	}
	allocator.initialize(logger, "texture", timeline, allocator, options.Flags)

	return allocator
}

func (a *TextureAllocator) defaultCapacity(category TextureCategory) (int, error) {
	switch category.Desc.Dimension {
	case gpu.ResourceDimensionTexture1D, gpu.ResourceDimensionTexture2D, gpu.ResourceDimensionTexture3D:
		return 1, nil
	}
	return 0, errors.Wrapf(ErrUnknownCategory, "%s is not a texture", category.Desc.Dimension)
}

func (a *TextureAllocator) dedicated(category TextureCategory) bool {
	return true
}

func (a *TextureAllocator) margin(category TextureCategory) int {
	return 0
}

func (a *TextureAllocator) createPage(category TextureCategory, capacity int) (*page, error) {
	resource, err := a.factory.CreateCommittedResource(category.Heap, category.Desc, gpu.ResourceStateCopyDest)
	if err != nil {
		return nil, err
	}
	resource.SetName("TexturePage")

	p := acquirePage(capacity, 0)
	p.resource = resource
	p.resourceState = gpu.ResourceStateCopyDest
	return p, nil
}

// Allocate creates, or reuses a retired, default-heap texture matching desc
func (a *TextureAllocator) Allocate(desc gpu.ResourceDesc) (TextureAllocation, error) {
	category := TextureCategory{Heap: gpu.HeapDefault, Desc: desc}

	_, handle, _, err := a.allocate(category, 1, 1, nil)
	if err != nil {
		return TextureAllocation{}, err
	}

	return TextureAllocation{Page: handle, Category: category}, nil
}

// Resource returns the texture backing an allocation
func (a *TextureAllocator) Resource(alloc TextureAllocation) (gpu.Resource, error) {
	p, err := a.resolve(alloc.Page)
	if err != nil {
		return nil, err
	}
	return p.resource, nil
}

// Transition records a barrier moving the texture to state after
func (a *TextureAllocator) Transition(cl gpu.CommandList, alloc TextureAllocation, after gpu.ResourceState) error {
	return a.transition(cl, alloc.Page, after)
}
