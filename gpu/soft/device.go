// Package soft is a host-memory implementation of the gpu device interfaces. Resources live in
// byte slices and submitted command lists execute in order on a queue goroutine, which makes it
// suitable for tests and headless tooling.
package soft

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/gpu/internal/descriptors"
	"github.com/vkngwrapper/kiln/memutils"
)

// Descriptor is the record of a view written to a descriptor slot
type Descriptor = descriptors.Descriptor

// DescriptorKind identifies which view a descriptor slot holds
type DescriptorKind = descriptors.Kind

const (
	DescriptorKindEmpty               = descriptors.KindEmpty
	DescriptorKindConstantBufferView  = descriptors.KindConstantBufferView
	DescriptorKindShaderResourceView  = descriptors.KindShaderResourceView
	DescriptorKindUnorderedAccessView = descriptors.KindUnorderedAccessView
	DescriptorKindRenderTargetView    = descriptors.KindRenderTargetView
	DescriptorKindSampler             = descriptors.KindSampler
)

const (
	firstVirtualAddress = 0x10000
	// bufferPlacementAlignment matches the placement alignment of committed buffers on real hardware
	bufferPlacementAlignment = 64 * 1024
)

// Device creates host-memory resources, descriptor heaps and command objects
type Device struct {
	logger   *slog.Logger
	registry *descriptors.Registry

	addressMutex sync.Mutex
	nextAddress  uint64

	liveResources atomic.Int64
	failNext      atomic.Int64
}

var _ gpu.Device = &Device{}

func NewDevice(logger *slog.Logger) *Device {
	return &Device{
		logger:      logger,
		registry:    descriptors.NewRegistry(nil),
		nextAddress: firstVirtualAddress,
	}
}

// LiveResources returns the number of committed resources that have not been released
func (d *Device) LiveResources() int {
	return int(d.liveResources.Load())
}

// FailNextResources makes the next count calls to CreateCommittedResource fail as though the
// device were out of memory
func (d *Device) FailNextResources(count int) {
	d.failNext.Store(int64(count))
}

// Descriptor returns the view most recently written to handle
func (d *Device) Descriptor(handle gpu.CPUDescriptorHandle) (Descriptor, error) {
	return d.registry.Lookup(handle)
}

// ShaderVisibleDescriptor returns the view stored in the slot a shader would read through handle
func (d *Device) ShaderVisibleDescriptor(handle gpu.GPUDescriptorHandle) (Descriptor, error) {
	return d.registry.LookupGPU(handle)
}

func (d *Device) allocateAddress(size int) gpu.GPUVirtualAddress {
	d.addressMutex.Lock()
	defer d.addressMutex.Unlock()

	address := memutils.AlignUp(d.nextAddress, bufferPlacementAlignment)
	d.nextAddress = address + uint64(size)
	return gpu.GPUVirtualAddress(address)
}

func (d *Device) CreateCommittedResource(heapType gpu.HeapType, desc gpu.ResourceDesc, initialState gpu.ResourceState) (gpu.Resource, error) {
	d.logger.Debug("Device::CreateCommittedResource", slog.String("HeapType", heapType.String()), slog.String("Dimension", desc.Dimension.String()), slog.Int("Width", desc.Width))

	if d.failNext.Load() > 0 {
		d.failNext.Add(-1)
		return nil, errors.Newf("out of device memory creating a %s resource", desc.Dimension)
	}

	if heapType != gpu.HeapDefault && heapType != gpu.HeapUpload && heapType != gpu.HeapReadback {
		return nil, errors.Newf("unknown heap type %s", heapType)
	}

	resource := &Resource{
		device:   d,
		desc:     desc,
		heapType: heapType,
	}

	switch desc.Dimension {
	case gpu.ResourceDimensionBuffer:
		if desc.Width <= 0 {
			return nil, errors.Newf("buffer size must be positive, but was %d", desc.Width)
		}
		resource.data = make([]byte, desc.Width)
		resource.address = d.allocateAddress(desc.Width)
	case gpu.ResourceDimensionTexture1D, gpu.ResourceDimensionTexture2D, gpu.ResourceDimensionTexture3D:
		if heapType != gpu.HeapDefault {
			return nil, errors.Newf("textures must be created in %s, not %s", gpu.HeapDefault, heapType)
		}
		if desc.Width <= 0 || desc.Height <= 0 {
			return nil, errors.Newf("texture extent %dx%d is invalid", desc.Width, desc.Height)
		}
		if desc.Cube && desc.ArraySize()%6 != 0 {
			return nil, errors.Newf("cube textures need a multiple of 6 array slices, but %d were requested", desc.ArraySize())
		}

		footprints, err := gpu.GetCopyableFootprints(desc, 0, desc.SubresourceCount(), 0)
		if err != nil {
			return nil, err
		}
		resource.footprints = footprints
		resource.data = make([]byte, footprints.TotalBytes)
	default:
		return nil, errors.Newf("cannot create a resource of dimension %s", desc.Dimension)
	}

	resource.states = make([]gpu.ResourceState, desc.SubresourceCount())
	for i := range resource.states {
		resource.states[i] = initialState
	}

	d.liveResources.Add(1)
	return resource, nil
}

func (d *Device) CreateDescriptorHeap(desc gpu.DescriptorHeapDesc) (gpu.DescriptorHeap, error) {
	d.logger.Debug("Device::CreateDescriptorHeap", slog.String("Type", desc.Type.String()), slog.Int("NumDescriptors", desc.NumDescriptors))

	return d.registry.CreateHeap(desc)
}

func (d *Device) DescriptorHandleIncrementSize(heapType gpu.DescriptorHeapType) int {
	return d.registry.IncrementSize(heapType)
}

func (d *Device) CreateConstantBufferView(desc gpu.ConstantBufferViewDesc, dest gpu.CPUDescriptorHandle) error {
	if desc.SizeInBytes <= 0 || desc.SizeInBytes%gpu.ConstantBufferAlignment != 0 {
		return errors.Newf("constant buffer view size %d is not a positive multiple of %d", desc.SizeInBytes, gpu.ConstantBufferAlignment)
	}
	if desc.BufferLocation%gpu.ConstantBufferAlignment != 0 {
		return errors.Newf("constant buffer view location %#x is not aligned to %d", uint64(desc.BufferLocation), gpu.ConstantBufferAlignment)
	}

	return d.registry.Write(dest, descriptors.Descriptor{
		Kind:               descriptors.KindConstantBufferView,
		ConstantBufferView: desc,
	})
}

func (d *Device) CreateShaderResourceView(resource gpu.Resource, desc *gpu.ShaderResourceViewDesc, dest gpu.CPUDescriptorHandle) error {
	if resource == nil {
		return errors.New("cannot create a shader resource view of a nil resource")
	}

	resourceDesc := resource.Desc()
	if resourceDesc.Flags&gpu.ResourceFlagDenyShaderResource != 0 {
		return errors.New("resource was created without shader resource access")
	}

	var view gpu.ShaderResourceViewDesc
	if desc != nil {
		view = *desc
	} else {
		if resourceDesc.Dimension == gpu.ResourceDimensionBuffer {
			return errors.New("shader resource views of buffers require a view description")
		}
		view = gpu.ShaderResourceViewDesc{
			Format:        resourceDesc.Format,
			ViewDimension: gpu.SRVDimensionFor(resourceDesc),
			MipLevels:     max(resourceDesc.MipLevels, 1),
			ArraySize:     resourceDesc.ArraySize(),
		}
	}

	return d.registry.Write(dest, descriptors.Descriptor{
		Kind:               descriptors.KindShaderResourceView,
		Resource:           resource,
		ShaderResourceView: view,
	})
}

func (d *Device) CreateUnorderedAccessView(resource gpu.Resource, desc *gpu.UnorderedAccessViewDesc, dest gpu.CPUDescriptorHandle) error {
	if resource == nil {
		return errors.New("cannot create an unordered access view of a nil resource")
	}
	if resource.Desc().Flags&gpu.ResourceFlagAllowUnorderedAccess == 0 {
		return errors.New("resource was created without unordered access")
	}

	var view gpu.UnorderedAccessViewDesc
	if desc != nil {
		view = *desc
	} else {
		view.Format = resource.Desc().Format
		view.ViewDimension = gpu.UAVDimensionTexture2D
		if resource.Desc().Dimension == gpu.ResourceDimensionBuffer {
			return errors.New("unordered access views of buffers require a view description")
		}
	}

	return d.registry.Write(dest, descriptors.Descriptor{
		Kind:                descriptors.KindUnorderedAccessView,
		Resource:            resource,
		UnorderedAccessView: view,
	})
}

func (d *Device) CreateRenderTargetView(resource gpu.Resource, desc *gpu.RenderTargetViewDesc, dest gpu.CPUDescriptorHandle) error {
	if resource == nil {
		return errors.New("cannot create a render target view of a nil resource")
	}
	if resource.Desc().Flags&gpu.ResourceFlagAllowRenderTarget == 0 {
		return errors.New("resource was created without render target access")
	}

	view := gpu.RenderTargetViewDesc{Format: resource.Desc().Format}
	if desc != nil {
		view = *desc
	}

	return d.registry.Write(dest, descriptors.Descriptor{
		Kind:             descriptors.KindRenderTargetView,
		Resource:         resource,
		RenderTargetView: view,
	})
}

func (d *Device) CreateSampler(desc gpu.SamplerDesc, dest gpu.CPUDescriptorHandle) error {
	return d.registry.Write(dest, descriptors.Descriptor{
		Kind:    descriptors.KindSampler,
		Sampler: desc,
	})
}

func (d *Device) CreateCommandQueue() (gpu.CommandQueue, error) {
	return newQueue(d), nil
}

func (d *Device) CreateCommandAllocator() (gpu.CommandAllocator, error) {
	return &CommandAllocator{}, nil
}

func (d *Device) CreateCommandList(allocator gpu.CommandAllocator) (gpu.CommandList, error) {
	softAllocator, ok := allocator.(*CommandAllocator)
	if !ok {
		return nil, errors.Newf("command allocator of type %T was not created by this device", allocator)
	}

	return &CommandList{
		device:    d,
		allocator: softAllocator,
		recording: true,
	}, nil
}

func (d *Device) CreateFence(initialValue uint64) (gpu.Fence, error) {
	return NewFence(initialValue), nil
}

func (d *Device) CreateSwapChain(queue gpu.CommandQueue, desc gpu.SwapChainDesc) (gpu.SwapChain, error) {
	softQueue, ok := queue.(*Queue)
	if !ok {
		return nil, errors.Newf("command queue of type %T was not created by this device", queue)
	}
	if desc.BufferCount < 2 {
		return nil, errors.Newf("swap chains need at least 2 buffers, but %d were requested", desc.BufferCount)
	}

	swapChain := &SwapChain{
		queue: softQueue,
		desc:  desc,
	}

	for i := 0; i < desc.BufferCount; i++ {
		buffer, err := d.CreateCommittedResource(gpu.HeapDefault,
			gpu.Texture2DDesc(desc.Format, desc.Width, desc.Height, 1, 1, gpu.ResourceFlagAllowRenderTarget),
			gpu.ResourceStatePresent)
		if err != nil {
			swapChain.Release()
			return nil, errors.Wrapf(err, "failed to create swap chain buffer %d", i)
		}
		buffer.SetName("SwapChainBuffer")
		swapChain.buffers = append(swapChain.buffers, buffer.(*Resource))
	}

	return swapChain, nil
}
