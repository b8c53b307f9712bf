package pager

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/memutils/metadata"
)

// PageHandle identifies a page and the lifetime of that page an allocation was made in. The
// generation moves on whenever the page is reused or released.
type PageHandle struct {
	Index      int
	Generation uint32
}

type pageState int32

const (
	pageStateFree pageState = iota
	pageStateUsed
	pageStateEmpty
	pageStateTemporary
)

var pageStateMapping = map[pageState]string{
	pageStateFree:      "Free",
	pageStateUsed:      "Used",
	pageStateEmpty:     "Empty",
	pageStateTemporary: "Temporary",
}

func (s pageState) String() string {
	str, ok := pageStateMapping[s]
	if !ok {
		return fmt.Sprintf("pageState(%d)", int32(s))
	}
	return str
}

// page owns exactly one GPU object, either a committed resource or a descriptor heap, and the
// bump cursor that carves it up. Buffer pages count bytes, descriptor pages count slots and
// texture pages hold a single allocation.
type page struct {
	index       int
	state       pageState
	retireValue uint64
	metadata    *metadata.Bump

	resource gpu.Resource
	mapped   []byte
	// resourceState is the state the resource will be in once every recorded barrier has executed
	resourceState gpu.ResourceState
	// readState accumulates the read states required by allocations in a shared default-heap page
	readState gpu.ResourceState

	heap      gpu.DescriptorHeap
	increment int
	cpuStart  gpu.CPUDescriptorHandle
	gpuStart  gpu.GPUDescriptorHandle
}

var pagePool = sync.Pool{
	New: func() any {
		return &page{metadata: metadata.NewBumpMetadata()}
	},
}

func acquirePage(capacity int, margin int) *page {
	p := pagePool.Get().(*page)
	if p.resource != nil || p.heap != nil {
		panic("attempting to initialize a page that is already in use")
	}

	p.state = pageStateFree
	p.retireValue = 0
	p.metadata.Init(capacity)
	p.metadata.SetMargin(margin)
	return p
}

func (p *page) Capacity() int {
	return p.metadata.Size()
}

func (p *page) hasSpace(size int, alignment int) bool {
	return p.metadata.HasSpace(size, alignment)
}

func (p *page) allocate(size int, alignment int, userData any) (int, error) {
	offset, err := p.metadata.Allocate(size, alignment, userData)
	if errors.Is(err, metadata.ErrOutOfSpace) {
		return 0, errors.Mark(err, ErrOutOfPageSpace)
	}
	return offset, err
}

func (p *page) transition(cl gpu.CommandList, after gpu.ResourceState) error {
	if p.resource == nil {
		return errors.New("descriptor pages have no resource state")
	}
	if p.resource.HeapType().IsCPUVisible() {
		return errors.Newf("resources in %s cannot leave their initial state", p.resource.HeapType())
	}
	if p.resourceState == after {
		return nil
	}

	cl.ResourceBarrier(gpu.TransitionBarrier(p.resource, p.resourceState, after))
	p.resourceState = after
	return nil
}

func (p *page) release() {
	if p.resource == nil && p.heap == nil {
		panic("attempting to release a page that does not own a GPU object")
	}

	if p.resource != nil {
		if p.mapped != nil {
			p.resource.Unmap()
		}
		p.resource.Release()
	}
	if p.heap != nil {
		p.heap.Release()
	}

	p.resource = nil
	p.mapped = nil
	p.resourceState = gpu.ResourceStateCommon
	p.readState = gpu.ResourceStateCommon
	p.heap = nil
	p.increment = 0
	p.cpuStart = gpu.CPUDescriptorHandle{}
	p.gpuStart = gpu.GPUDescriptorHandle{}
	p.state = pageStateFree
	p.metadata.Reset()

	pagePool.Put(p)
}

func (p *page) Validate() error {
	if p.resource == nil && p.heap == nil {
		return errors.New("page does not own a GPU object")
	}
	if p.resource != nil && p.heap != nil {
		return errors.New("page owns both a resource and a descriptor heap")
	}
	if p.Capacity() < 1 {
		return errors.Newf("page has an invalid capacity %d", p.Capacity())
	}
	if p.mapped != nil && len(p.mapped) < p.Capacity() {
		return errors.Newf("page is mapped with %d bytes, but has a capacity of %d", len(p.mapped), p.Capacity())
	}

	return p.metadata.Validate()
}

type arenaSlot struct {
	page       *page
	generation uint32
}

// pageArena indexes every live page of an allocator. Allocations refer to pages through
// PageHandle so that use after recycling is detected instead of silently aliasing.
type pageArena struct {
	slots []arenaSlot
	free  []int
}

func (a *pageArena) insert(p *page) {
	var index int
	if len(a.free) > 0 {
		index = a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
	} else {
		index = len(a.slots)
		a.slots = append(a.slots, arenaSlot{})
	}

	a.slots[index].page = p
	p.index = index
}

func (a *pageArena) handle(p *page) PageHandle {
	return PageHandle{Index: p.index, Generation: a.slots[p.index].generation}
}

// renew invalidates every allocation made from p so far
func (a *pageArena) renew(p *page) {
	a.slots[p.index].generation++
}

func (a *pageArena) remove(p *page) {
	slot := &a.slots[p.index]
	if slot.page != p {
		panic("attempting to remove a page from an arena slot it does not occupy")
	}

	slot.page = nil
	slot.generation++
	a.free = append(a.free, p.index)
}

func (a *pageArena) resolve(handle PageHandle) (*page, error) {
	if handle.Index < 0 || handle.Index >= len(a.slots) {
		return nil, errors.Wrapf(ErrStaleAllocation, "page index %d is out of range", handle.Index)
	}

	slot := a.slots[handle.Index]
	if slot.page == nil || slot.generation != handle.Generation {
		return nil, errors.Wrapf(ErrStaleAllocation, "page %d is at generation %d, allocation was made at generation %d",
			handle.Index, slot.generation, handle.Generation)
	}

	return slot.page, nil
}

func (a *pageArena) liveCount() int {
	return len(a.slots) - len(a.free)
}
