package gpu

//go:generate mockgen -destination=../internal/mocks/fence.go -package=mocks github.com/vkngwrapper/kiln/gpu Fence

// AllSubresources targets every subresource of a resource in a barrier
const AllSubresources = -1

// Resource is a committed buffer or texture
type Resource interface {
	Desc() ResourceDesc
	HeapType() HeapType
	// GPUVirtualAddress returns the address of a buffer's first byte, or 0 for textures
	GPUVirtualAddress() GPUVirtualAddress
	// Map returns the CPU-visible contents of an upload or readback resource. Mapping is
	// reference counted and the returned slice remains valid until the matching Unmap.
	Map() ([]byte, error)
	Unmap()
	SetName(name string)
	Release()
}

type DescriptorHeap interface {
	Desc() DescriptorHeapDesc
	CPUDescriptorHandleForHeapStart() CPUDescriptorHandle
	// GPUDescriptorHandleForHeapStart returns a null handle for heaps that are not shader visible
	GPUDescriptorHandleForHeapStart() GPUDescriptorHandle
	Release()
}

// ResourceFactory creates committed resources, descriptor heaps and views. It is the only part
// of a Device the page allocators depend on.
type ResourceFactory interface {
	CreateCommittedResource(heapType HeapType, desc ResourceDesc, initialState ResourceState) (Resource, error)
	CreateDescriptorHeap(desc DescriptorHeapDesc) (DescriptorHeap, error)
	DescriptorHandleIncrementSize(heapType DescriptorHeapType) int

	CreateConstantBufferView(desc ConstantBufferViewDesc, dest CPUDescriptorHandle) error
	// CreateShaderResourceView writes a view of resource to dest. A nil desc views the whole resource
	// with its own format.
	CreateShaderResourceView(resource Resource, desc *ShaderResourceViewDesc, dest CPUDescriptorHandle) error
	CreateUnorderedAccessView(resource Resource, desc *UnorderedAccessViewDesc, dest CPUDescriptorHandle) error
	CreateRenderTargetView(resource Resource, desc *RenderTargetViewDesc, dest CPUDescriptorHandle) error
	CreateSampler(desc SamplerDesc, dest CPUDescriptorHandle) error
}

// Fence is a GPU-to-CPU completion counter
type Fence interface {
	CompletedValue() uint64
	// Signal sets the fence value from the CPU
	Signal(value uint64) error
	// Wait blocks until CompletedValue reaches value. There is no timeout.
	Wait(value uint64) error
	Release()
}

type CommandAllocator interface {
	// Reset reclaims the memory of every command list recorded from this allocator. It fails if
	// the GPU may still be executing any of them.
	Reset() error
	Release()
}

// ResourceBarrier is a state transition of one or all subresources of a resource
type ResourceBarrier struct {
	Resource    Resource
	Subresource int
	Before      ResourceState
	After       ResourceState
}

// TransitionBarrier builds a barrier covering every subresource
func TransitionBarrier(resource Resource, before, after ResourceState) ResourceBarrier {
	return ResourceBarrier{
		Resource:    resource,
		Subresource: AllSubresources,
		Before:      before,
		After:       after,
	}
}

// TextureCopyLocation names either a texture subresource or, when PlacedFootprint is set, a
// footprint inside a buffer
type TextureCopyLocation struct {
	Resource         Resource
	SubresourceIndex int
	PlacedFootprint  *PlacedSubresourceFootprint
}

// CommandList records GPU work. Recording errors surface from Close.
type CommandList interface {
	Reset(allocator CommandAllocator) error
	Close() error

	ResourceBarrier(barriers ...ResourceBarrier)
	CopyBufferRegion(dst Resource, dstOffset int, src Resource, srcOffset int, numBytes int)
	CopyTextureRegion(dst TextureCopyLocation, src TextureCopyLocation)
	ClearRenderTargetView(rtv CPUDescriptorHandle, color [4]float32)
	SetDescriptorHeaps(heaps ...DescriptorHeap)

	Release()
}

type CommandQueue interface {
	ExecuteCommandLists(lists ...CommandList) error
	// Signal instructs the GPU to set fence to value once all previously submitted work completes
	Signal(fence Fence, value uint64) error
	Release()
}

type SwapChainDesc struct {
	Width       int
	Height      int
	Format      Format
	BufferCount int
}

type SwapChain interface {
	Desc() SwapChainDesc
	CurrentBackBufferIndex() int
	Buffer(index int) (Resource, error)
	Present(syncInterval int) error
	Release()
}

// Device is the full explicit graphics device used by the frame renderer
type Device interface {
	ResourceFactory

	CreateCommandQueue() (CommandQueue, error)
	CreateCommandAllocator() (CommandAllocator, error)
	CreateCommandList(allocator CommandAllocator) (CommandList, error)
	CreateFence(initialValue uint64) (Fence, error)
	CreateSwapChain(queue CommandQueue, desc SwapChainDesc) (SwapChain, error)
}
