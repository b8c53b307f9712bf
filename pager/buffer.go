package pager

import (
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/memutils"
)

// BufferCategory selects the heap and page policy of a buffer allocation
type BufferCategory int32

const (
	// BufferDefault is GPU-local memory filled through copies from upload memory
	BufferDefault BufferCategory = iota
	// BufferUpload is persistently mapped memory the CPU writes and the GPU reads
	BufferUpload
	// BufferUnorderedAccess allocations each get a dedicated default-heap page that shaders may write
	BufferUnorderedAccess
	// BufferCustom allocations each get a dedicated upload page sized to the request
	BufferCustom
	// BufferFrame is upload memory for data that lives for a single frame. The frame renderer
	// recycles it every frame.
	BufferFrame
)

var bufferCategoryMapping = map[BufferCategory]string{
	BufferDefault:         "Default",
	BufferUpload:          "Upload",
	BufferUnorderedAccess: "UnorderedAccess",
	BufferCustom:          "Custom",
	BufferFrame:           "Frame",
}

func (c BufferCategory) String() string {
	str, ok := bufferCategoryMapping[c]
	if !ok {
		return fmt.Sprintf("BufferCategory(%d)", int32(c))
	}
	return str
}

// HeapType returns the heap pages of this category are created in
func (c BufferCategory) HeapType() gpu.HeapType {
	switch c {
	case BufferDefault, BufferUnorderedAccess:
		return gpu.HeapDefault
	}
	return gpu.HeapUpload
}

// BufferAllocation is a range of a buffer page. It does not own memory: the page is reached
// through BufferAllocator.Resource, which fails once the page has been recycled.
type BufferAllocation struct {
	Page     PageHandle
	Category BufferCategory
	Offset   int
	Size     int
	// CPU is the mapped range of the allocation, or nil for default-heap allocations
	CPU []byte
	// GPUAddress is the address of the allocation's first byte
	GPUAddress gpu.GPUVirtualAddress
}

// BufferAllocator sub-allocates buffers out of large committed buffers
type BufferAllocator struct {
	pageAllocator[BufferCategory]

	factory  gpu.ResourceFactory
	pageSize int
}

var _ pageSource[BufferCategory] = &BufferAllocator{}

func NewBufferAllocator(logger *slog.Logger, factory gpu.ResourceFactory, timeline *Timeline, options CreateOptions) *BufferAllocator {
	allocator := &BufferAllocator{
		factory:  factory,
		pageSize: options.bufferPageSize(),
	}
	allocator.initialize(logger, "buffer", timeline, allocator, options.Flags)

	return allocator
}

// PageSize returns the capacity of shared buffer pages
func (a *BufferAllocator) PageSize() int {
	return a.pageSize
}

func (a *BufferAllocator) defaultCapacity(category BufferCategory) (int, error) {
	if _, ok := bufferCategoryMapping[category]; !ok {
		return 0, errors.Wrapf(ErrUnknownCategory, "%s", category)
	}
	return a.pageSize, nil
}

func (a *BufferAllocator) dedicated(category BufferCategory) bool {
	return category == BufferUnorderedAccess || category == BufferCustom
}

// margin reserves room for corruption markers after allocations in mapped pages
func (a *BufferAllocator) margin(category BufferCategory) int {
	if category.HeapType().IsCPUVisible() {
		return memutils.DebugMargin
	}
	return 0
}

func (a *BufferAllocator) createPage(category BufferCategory, capacity int) (*page, error) {
	heapType := category.HeapType()

	flags := gpu.ResourceFlagNone
	initialState := gpu.ResourceStateCopyDest
	if category == BufferUnorderedAccess {
		flags = gpu.ResourceFlagAllowUnorderedAccess
		initialState = gpu.ResourceStateCommon
	}
	if heapType == gpu.HeapUpload {
		initialState = gpu.ResourceStateGenericRead
	}

	resource, err := a.factory.CreateCommittedResource(heapType, gpu.BufferDesc(capacity, flags), initialState)
	if err != nil {
		return nil, err
	}

	var mapped []byte
	if heapType.IsCPUVisible() {
		mapped, err = resource.Map()
		if err != nil {
			resource.Release()
			return nil, errors.Wrap(err, "failed to map upload page")
		}
	}
	resource.SetName(fmt.Sprintf("%sBufferPage", category))

	p := acquirePage(capacity, a.margin(category))
	p.resource = resource
	p.mapped = mapped
	p.resourceState = initialState
	return p, nil
}

func buildBufferAllocation(p *page, handle PageHandle, category BufferCategory, offset int, size int) BufferAllocation {
	alloc := BufferAllocation{
		Page:       handle,
		Category:   category,
		Offset:     offset,
		Size:       size,
		GPUAddress: p.resource.GPUVirtualAddress() + gpu.GPUVirtualAddress(offset),
	}

	if p.mapped != nil {
		alloc.CPU = p.mapped[offset : offset+size : offset+size]

		if p.metadata.Margin() > 0 {
			memutils.WriteMagicValue(p.mapped, offset+size)
		}
	}

	return alloc
}

// Allocate carves size bytes aligned to alignment out of the category's current page, moving to
// a new page when the current one is full. Requests larger than a page fail with
// ErrExceedsPageCapacity, except in dedicated categories, whose pages are sized to the request.
func (a *BufferAllocator) Allocate(category BufferCategory, size int, alignment int) (BufferAllocation, error) {
	p, handle, offset, err := a.allocate(category, size, alignment, nil)
	if err != nil {
		return BufferAllocation{}, err
	}

	return buildBufferAllocation(p, handle, category, offset, size), nil
}

// AllocateTemporary creates a dedicated upload page for a single upload. The page is released by
// ReleaseTemporary once the GPU has finished the frame it was created in.
func (a *BufferAllocator) AllocateTemporary(size int, alignment int) (BufferAllocation, error) {
	p, handle, offset, err := a.allocateTemporary(BufferUpload, size, alignment, nil)
	if err != nil {
		return BufferAllocation{}, err
	}

	return buildBufferAllocation(p, handle, BufferUpload, offset, size), nil
}

// Resource returns the buffer backing an allocation
func (a *BufferAllocator) Resource(alloc BufferAllocation) (gpu.Resource, error) {
	p, err := a.resolve(alloc.Page)
	if err != nil {
		return nil, err
	}
	return p.resource, nil
}

// BeginCopy records a barrier moving the allocation's page into the copy destination state
func (a *BufferAllocator) BeginCopy(cl gpu.CommandList, alloc BufferAllocation) error {
	return a.transition(cl, alloc.Page, gpu.ResourceStateCopyDest)
}

// EndCopy records a barrier moving the allocation's page into readState, combined with the read
// states required by earlier allocations from the same page
func (a *BufferAllocator) EndCopy(cl gpu.CommandList, alloc BufferAllocation, readState gpu.ResourceState) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.checkLive()

	p, err := a.arena.resolve(alloc.Page)
	if err != nil {
		return err
	}

	p.readState |= readState
	return p.transition(cl, p.readState)
}

// Transition records a barrier moving the allocation's page to state after
func (a *BufferAllocator) Transition(cl gpu.CommandList, alloc BufferAllocation, after gpu.ResourceState) error {
	return a.transition(cl, alloc.Page, after)
}

// CheckCorruption verifies the markers written after every allocation in mapped pages. Markers are
// only written when built with the `debug_mem_utils` build tag.
func (a *BufferAllocator) CheckCorruption() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	a.checkLive()

	if memutils.DebugMargin == 0 {
		return nil
	}

	for _, slot := range a.arena.slots {
		if slot.page == nil || slot.page.mapped == nil || slot.page.state == pageStateEmpty {
			continue
		}

		if err := slot.page.metadata.CheckCorruption(slot.page.mapped); err != nil {
			return errors.Wrapf(err, "page %d", slot.page.index)
		}
	}

	return nil
}
