package vulkan

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/kiln/gpu"
)

// Resource is a VkBuffer or VkImage bound to its own VkDeviceMemory
type Resource struct {
	factory  *Factory
	desc     gpu.ResourceDesc
	heapType gpu.HeapType
	state    gpu.ResourceState
	address  gpu.GPUVirtualAddress

	buffer core1_0.Buffer
	image  core1_0.Image
	memory core1_0.DeviceMemory

	mapMutex sync.Mutex
	mapCount int
	mapped   []byte

	name     string
	released atomic.Bool
}

var _ gpu.Resource = &Resource{}

func (r *Resource) Desc() gpu.ResourceDesc                   { return r.desc }
func (r *Resource) HeapType() gpu.HeapType                   { return r.heapType }
func (r *Resource) GPUVirtualAddress() gpu.GPUVirtualAddress { return r.address }
func (r *Resource) Name() string                             { return r.name }

// InitialState returns the state the resource was created for
func (r *Resource) InitialState() gpu.ResourceState { return r.state }

// Buffer returns the underlying VkBuffer, or nil for textures
func (r *Resource) Buffer() core1_0.Buffer { return r.buffer }

// Image returns the underlying VkImage, or nil for buffers
func (r *Resource) Image() core1_0.Image { return r.image }

func (r *Resource) SetName(name string) {
	r.name = name
}

// Map maps the whole memory object the first time it is called and hands out the same slice
// until the final Unmap
func (r *Resource) Map() ([]byte, error) {
	if !r.heapType.IsCPUVisible() {
		return nil, errors.Newf("resources in %s cannot be mapped", r.heapType)
	}

	r.mapMutex.Lock()
	defer r.mapMutex.Unlock()

	if r.mapCount == 0 {
		ptr, _, err := r.memory.Map(0, common.WholeSize, 0)
		if err != nil {
			return nil, err
		}
		r.mapped = unsafe.Slice((*byte)(ptr), r.desc.Width)
	}
	r.mapCount++

	return r.mapped, nil
}

func (r *Resource) Unmap() {
	r.mapMutex.Lock()
	defer r.mapMutex.Unlock()

	if r.mapCount == 0 {
		panic("attempted to unmap a resource that is not mapped")
	}

	r.mapCount--
	if r.mapCount == 0 {
		r.mapped = nil
		r.memory.Unmap()
	}
}

func (r *Resource) Release() {
	if !r.released.CompareAndSwap(false, true) {
		panic("attempted to release a resource twice")
	}

	r.mapMutex.Lock()
	if r.mapCount > 0 {
		r.mapCount = 0
		r.mapped = nil
		r.memory.Unmap()
	}
	r.mapMutex.Unlock()

	if r.buffer != nil {
		r.factory.unregisterAddress(r.address)
		r.buffer.Destroy(r.factory.allocationCallbacks)
	}
	if r.image != nil {
		r.image.Destroy(r.factory.allocationCallbacks)
	}
	r.memory.Free(r.factory.allocationCallbacks)
}
