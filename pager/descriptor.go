package pager

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/gpu"
)

// DescriptorCategory selects the descriptor heap type and visibility of a descriptor allocation
type DescriptorCategory struct {
	HeapType      gpu.DescriptorHeapType
	ShaderVisible bool
}

func (c DescriptorCategory) String() string {
	if c.ShaderVisible {
		return c.HeapType.String() + "/ShaderVisible"
	}
	return c.HeapType.String()
}

// DescriptorAllocation is a contiguous range of descriptor slots in one heap
type DescriptorAllocation struct {
	Page          PageHandle
	Category      DescriptorCategory
	Offset        int
	Count         int
	IncrementSize int
	CPUHandle     gpu.CPUDescriptorHandle
	// GPUHandle is null unless the category is shader visible
	GPUHandle gpu.GPUDescriptorHandle
}

// CPUHandleAt returns the handle of the index-th slot of the allocation
func (d DescriptorAllocation) CPUHandleAt(index int) gpu.CPUDescriptorHandle {
	return d.CPUHandle.Offset(index, d.IncrementSize)
}

// GPUHandleAt returns the shader-visible handle of the index-th slot of the allocation
func (d DescriptorAllocation) GPUHandleAt(index int) gpu.GPUDescriptorHandle {
	if d.GPUHandle.IsNull() {
		return gpu.GPUDescriptorHandle{}
	}
	return d.GPUHandle.Offset(index, d.IncrementSize)
}

// DescriptorAllocator sub-allocates descriptor slots out of descriptor heaps. Offsets and sizes
// are counted in slots; handles advance by the device's increment size.
type DescriptorAllocator struct {
	pageAllocator[DescriptorCategory]

	factory gpu.ResourceFactory
	options CreateOptions
}

var _ pageSource[DescriptorCategory] = &DescriptorAllocator{}

func NewDescriptorAllocator(logger *slog.Logger, factory gpu.ResourceFactory, timeline *Timeline, options CreateOptions) *DescriptorAllocator {
	allocator := &DescriptorAllocator{
		factory: factory,
		options: options,
	}
	allocator.initialize(logger, "descriptor", timeline, allocator, options.Flags)

	return allocator
}

func (a *DescriptorAllocator) defaultCapacity(category DescriptorCategory) (int, error) {
	size, ok := a.options.descriptorHeapSize(category.HeapType)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownCategory, "%s", category)
	}
	if category.ShaderVisible && !category.HeapType.CanBeShaderVisible() {
		return 0, errors.Wrapf(ErrUnknownCategory, "%s heaps cannot be shader visible", category.HeapType)
	}
	return size, nil
}

func (a *DescriptorAllocator) dedicated(category DescriptorCategory) bool {
	return false
}

func (a *DescriptorAllocator) margin(category DescriptorCategory) int {
	return 0
}

func (a *DescriptorAllocator) createPage(category DescriptorCategory, capacity int) (*page, error) {
	heap, err := a.factory.CreateDescriptorHeap(gpu.DescriptorHeapDesc{
		Type:           category.HeapType,
		NumDescriptors: capacity,
		ShaderVisible:  category.ShaderVisible,
	})
	if err != nil {
		return nil, err
	}

	p := acquirePage(capacity, 0)
	p.heap = heap
	p.increment = a.factory.DescriptorHandleIncrementSize(category.HeapType)
	p.cpuStart = heap.CPUDescriptorHandleForHeapStart()
	p.gpuStart = heap.GPUDescriptorHandleForHeapStart()
	return p, nil
}

// Allocate reserves count contiguous slots from the category's current heap
func (a *DescriptorAllocator) Allocate(category DescriptorCategory, count int) (DescriptorAllocation, error) {
	p, handle, offset, err := a.allocate(category, count, 1, nil)
	if err != nil {
		return DescriptorAllocation{}, err
	}

	alloc := DescriptorAllocation{
		Page:          handle,
		Category:      category,
		Offset:        offset,
		Count:         count,
		IncrementSize: p.increment,
		CPUHandle:     p.cpuStart.Offset(offset, p.increment),
	}
	if !p.gpuStart.IsNull() {
		alloc.GPUHandle = p.gpuStart.Offset(offset, p.increment)
	}

	return alloc, nil
}

// Heap returns the descriptor heap backing an allocation
func (a *DescriptorAllocator) Heap(alloc DescriptorAllocation) (gpu.DescriptorHeap, error) {
	p, err := a.resolve(alloc.Page)
	if err != nil {
		return nil, err
	}
	return p.heap, nil
}

// CurrentHeap returns the heap new allocations of the category are placed in, or nil if the
// category has no current page
func (a *DescriptorAllocator) CurrentHeap(category DescriptorCategory) gpu.DescriptorHeap {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	list, ok := a.pool.lookup(category)
	if !ok || list.current == nil {
		return nil
	}
	return list.current.heap
}
