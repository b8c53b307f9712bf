package descriptors

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/kiln/gpu"
)

// Kind identifies which view a descriptor slot holds
type Kind int

const (
	KindEmpty Kind = iota
	KindConstantBufferView
	KindShaderResourceView
	KindUnorderedAccessView
	KindRenderTargetView
	KindSampler
)

var kindMapping = map[Kind]string{
	KindEmpty:               "Empty",
	KindConstantBufferView:  "ConstantBufferView",
	KindShaderResourceView:  "ShaderResourceView",
	KindUnorderedAccessView: "UnorderedAccessView",
	KindRenderTargetView:    "RenderTargetView",
	KindSampler:             "Sampler",
}

func (k Kind) String() string {
	str, ok := kindMapping[k]
	if !ok {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return str
}

// HeapType returns the descriptor heap type that may hold this kind of view
func (k Kind) HeapType() gpu.DescriptorHeapType {
	switch k {
	case KindSampler:
		return gpu.DescriptorHeapTypeSampler
	case KindRenderTargetView:
		return gpu.DescriptorHeapTypeRTV
	}
	return gpu.DescriptorHeapTypeCBVSRVUAV
}

// Descriptor is the host-side record of a view written into a descriptor slot
type Descriptor struct {
	Kind     Kind
	Resource gpu.Resource

	ConstantBufferView  gpu.ConstantBufferViewDesc
	ShaderResourceView  gpu.ShaderResourceViewDesc
	UnorderedAccessView gpu.UnorderedAccessViewDesc
	RenderTargetView    gpu.RenderTargetViewDesc
	Sampler             gpu.SamplerDesc
}

const (
	heapIDShift   = 32
	slotMask      = 1<<heapIDShift - 1
	gpuHandleFlag = 1 << 63
)

// Registry keeps every descriptor heap of a device in host memory and resolves descriptor
// handles back to their heap and slot
type Registry struct {
	mutex      sync.Mutex
	heaps      *swiss.Map[uint32, *Heap]
	nextID     uint32
	increments map[gpu.DescriptorHeapType]int
}

// DefaultIncrementSizes are the handle strides used when a backend has no preference
var DefaultIncrementSizes = map[gpu.DescriptorHeapType]int{
	gpu.DescriptorHeapTypeCBVSRVUAV: 32,
	gpu.DescriptorHeapTypeSampler:   32,
	gpu.DescriptorHeapTypeRTV:       32,
	gpu.DescriptorHeapTypeDSV:       8,
}

func NewRegistry(increments map[gpu.DescriptorHeapType]int) *Registry {
	if increments == nil {
		increments = DefaultIncrementSizes
	}

	return &Registry{
		heaps:      swiss.NewMap[uint32, *Heap](16),
		nextID:     1,
		increments: increments,
	}
}

func (r *Registry) IncrementSize(heapType gpu.DescriptorHeapType) int {
	return r.increments[heapType]
}

func (r *Registry) CreateHeap(desc gpu.DescriptorHeapDesc) (*Heap, error) {
	if desc.NumDescriptors <= 0 {
		return nil, errors.Newf("descriptor heap must have at least one descriptor, but %d were requested", desc.NumDescriptors)
	}
	if desc.ShaderVisible && !desc.Type.CanBeShaderVisible() {
		return nil, errors.Newf("%s descriptor heaps cannot be shader visible", desc.Type)
	}

	increment, ok := r.increments[desc.Type]
	if !ok {
		return nil, errors.Newf("unknown descriptor heap type %s", desc.Type)
	}
	if desc.NumDescriptors*increment > slotMask {
		return nil, errors.Newf("descriptor heap of %d descriptors exceeds the addressable range", desc.NumDescriptors)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	id := r.nextID
	r.nextID++

	heap := &Heap{
		registry:  r,
		id:        id,
		desc:      desc,
		increment: increment,
		slots:     make([]Descriptor, desc.NumDescriptors),
	}
	r.heaps.Put(id, heap)

	return heap, nil
}

func (r *Registry) resolve(ptr uint64) (*Heap, int, error) {
	id := uint32((ptr &^ gpuHandleFlag) >> heapIDShift)

	r.mutex.Lock()
	heap, ok := r.heaps.Get(id)
	r.mutex.Unlock()

	if !ok {
		return nil, 0, errors.Newf("descriptor handle %#x does not belong to a live descriptor heap", ptr)
	}

	byteOffset := int(ptr & slotMask)
	if byteOffset%heap.increment != 0 {
		return nil, 0, errors.Newf("descriptor handle %#x is not aligned to the heap's increment size %d", ptr, heap.increment)
	}

	slot := byteOffset / heap.increment
	if slot >= len(heap.slots) {
		return nil, 0, errors.Newf("descriptor handle %#x is past the end of a heap of %d descriptors", ptr, len(heap.slots))
	}

	return heap, slot, nil
}

// Write stores descriptor in the slot addressed by dest
func (r *Registry) Write(dest gpu.CPUDescriptorHandle, descriptor Descriptor) error {
	heap, slot, err := r.resolve(dest.Ptr)
	if err != nil {
		return err
	}

	if heap.desc.Type != descriptor.Kind.HeapType() {
		return errors.Newf("cannot write a %s into a %s descriptor heap", descriptor.Kind, heap.desc.Type)
	}

	heap.slots[slot] = descriptor
	return nil
}

// Lookup returns the descriptor stored in the slot addressed by handle
func (r *Registry) Lookup(handle gpu.CPUDescriptorHandle) (Descriptor, error) {
	heap, slot, err := r.resolve(handle.Ptr)
	if err != nil {
		return Descriptor{}, err
	}

	return heap.slots[slot], nil
}

// LookupGPU returns the descriptor stored in the shader-visible slot addressed by handle
func (r *Registry) LookupGPU(handle gpu.GPUDescriptorHandle) (Descriptor, error) {
	if handle.Ptr&gpuHandleFlag == 0 {
		return Descriptor{}, errors.Newf("%#x is not a GPU descriptor handle", handle.Ptr)
	}

	heap, slot, err := r.resolve(handle.Ptr)
	if err != nil {
		return Descriptor{}, err
	}

	return heap.slots[slot], nil
}

func (r *Registry) release(id uint32) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.heaps.Delete(id)
}

// HeapCount returns the number of live heaps
func (r *Registry) HeapCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.heaps.Count()
}

// Heap is a host-side descriptor heap
type Heap struct {
	registry  *Registry
	id        uint32
	desc      gpu.DescriptorHeapDesc
	increment int
	slots     []Descriptor
	released  bool
}

var _ gpu.DescriptorHeap = &Heap{}

func (h *Heap) Desc() gpu.DescriptorHeapDesc { return h.desc }

func (h *Heap) CPUDescriptorHandleForHeapStart() gpu.CPUDescriptorHandle {
	return gpu.CPUDescriptorHandle{Ptr: uint64(h.id) << heapIDShift}
}

func (h *Heap) GPUDescriptorHandleForHeapStart() gpu.GPUDescriptorHandle {
	if !h.desc.ShaderVisible {
		return gpu.GPUDescriptorHandle{}
	}
	return gpu.GPUDescriptorHandle{Ptr: gpuHandleFlag | uint64(h.id)<<heapIDShift}
}

func (h *Heap) Release() {
	if h.released {
		panic("attempting to release a descriptor heap that has already been released")
	}

	h.released = true
	h.registry.release(h.id)
}
