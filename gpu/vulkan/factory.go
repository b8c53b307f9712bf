// Package vulkan implements gpu.ResourceFactory over a vkngwrapper device. Every committed
// resource receives its own VkDeviceMemory, which the page allocators amortize by creating few,
// large resources.
package vulkan

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/ext_memory_priority"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/gpu/internal/descriptors"
	"github.com/vkngwrapper/kiln/memutils"
)

//go:generate mockgen -destination=../../internal/mocks/vkmocks/device.go -package=vkmocks -mock_names=Device=MockVulkanDevice github.com/vkngwrapper/kiln/gpu/vulkan Device

// Device is the subset of core1_0.Device the factory uses
type Device interface {
	AllocateMemory(allocationCallbacks *driver.AllocationCallbacks, o core1_0.MemoryAllocateInfo) (core1_0.DeviceMemory, common.VkResult, error)
	CreateBuffer(allocationCallbacks *driver.AllocationCallbacks, o core1_0.BufferCreateInfo) (core1_0.Buffer, common.VkResult, error)
	CreateImage(allocationCallbacks *driver.AllocationCallbacks, o core1_0.ImageCreateInfo) (core1_0.Image, common.VkResult, error)
	IsDeviceExtensionActive(extensionName string) bool
}

// PhysicalDevice is the subset of core1_0.PhysicalDevice the factory uses
type PhysicalDevice interface {
	MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties
}

// CreateOptions configures a Factory
type CreateOptions struct {
	AllocationCallbacks *driver.AllocationCallbacks
	// MemoryPriority is chained onto every memory allocation when ext_memory_priority is active.
	// Zero uses the Vulkan default of 0.5.
	MemoryPriority float32
}

const bufferAddressAlignment = 65536

type addressRange struct {
	base     uint64
	size     uint64
	resource *Resource
}

// Factory creates buffers, images and descriptor heaps on a Vulkan device. Views are written to
// CPU-side descriptor heaps and translated to descriptor sets by the pipeline layer.
type Factory struct {
	logger              *slog.Logger
	device              Device
	memoryProperties    *core1_0.PhysicalDeviceMemoryProperties
	allocationCallbacks *driver.AllocationCallbacks
	useMemoryPriority   bool
	memoryPriority      float32

	registry *descriptors.Registry

	addressMutex sync.Mutex
	nextAddress  uint64
	addresses    []addressRange
}

var _ gpu.ResourceFactory = &Factory{}

func NewFactory(logger *slog.Logger, device Device, physicalDevice PhysicalDevice, options CreateOptions) *Factory {
	priority := options.MemoryPriority
	if priority == 0 {
		priority = 0.5
	}

	return &Factory{
		logger:              logger,
		device:              device,
		memoryProperties:    physicalDevice.MemoryProperties(),
		allocationCallbacks: options.AllocationCallbacks,
		useMemoryPriority:   device.IsDeviceExtensionActive(ext_memory_priority.ExtensionName),
		memoryPriority:      priority,
		registry:            descriptors.NewRegistry(nil),
		nextAddress:         bufferAddressAlignment,
	}
}

func (f *Factory) allocateMemory(requirements *core1_0.MemoryRequirements, heapType gpu.HeapType) (core1_0.DeviceMemory, error) {
	memoryTypeIndex, _, err := findMemoryTypeIndex(f.memoryProperties, requirements.MemoryTypeBits, heapType)
	if err != nil {
		return nil, errors.Wrapf(err, "no memory type is suitable for %s", heapType)
	}

	var allocInfo core1_0.MemoryAllocateInfo
	allocInfo.AllocationSize = requirements.Size
	allocInfo.MemoryTypeIndex = memoryTypeIndex

	if f.useMemoryPriority {
		priorityInfo := ext_memory_priority.MemoryPriorityAllocateInfo{
			Priority: f.memoryPriority,
		}
		priorityInfo.Next = allocInfo.Next
		allocInfo.Next = priorityInfo
	}

	memory, _, err := f.device.AllocateMemory(f.allocationCallbacks, allocInfo)
	if err != nil {
		return nil, err
	}

	return memory, nil
}

func (f *Factory) registerAddress(resource *Resource, size int) gpu.GPUVirtualAddress {
	f.addressMutex.Lock()
	defer f.addressMutex.Unlock()

	base := memutils.AlignUp(f.nextAddress, bufferAddressAlignment)
	f.nextAddress = base + uint64(size)
	// Addresses only grow, so appending keeps the table sorted
	f.addresses = append(f.addresses, addressRange{base: base, size: uint64(size), resource: resource})

	return gpu.GPUVirtualAddress(base)
}

func (f *Factory) unregisterAddress(address gpu.GPUVirtualAddress) {
	f.addressMutex.Lock()
	defer f.addressMutex.Unlock()

	index, found := slices.BinarySearchFunc(f.addresses, uint64(address), func(entry addressRange, target uint64) int {
		switch {
		case entry.base < target:
			return -1
		case entry.base > target:
			return 1
		}
		return 0
	})
	if found {
		f.addresses = slices.Delete(f.addresses, index, index+1)
	}
}

// resolveAddress returns the buffer containing address and the offset of address within it
func (f *Factory) resolveAddress(address gpu.GPUVirtualAddress) (*Resource, int, error) {
	f.addressMutex.Lock()
	defer f.addressMutex.Unlock()

	target := uint64(address)
	index, found := slices.BinarySearchFunc(f.addresses, target, func(entry addressRange, target uint64) int {
		switch {
		case entry.base+entry.size <= target:
			return -1
		case entry.base > target:
			return 1
		}
		return 0
	})
	if !found {
		return nil, 0, errors.Newf("gpu address %#x does not belong to a live buffer", target)
	}

	entry := f.addresses[index]
	return entry.resource, int(target - entry.base), nil
}

func bufferUsage(desc gpu.ResourceDesc) core1_0.BufferUsageFlags {
	usage := core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst |
		core1_0.BufferUsageUniformBuffer | core1_0.BufferUsageVertexBuffer | core1_0.BufferUsageIndexBuffer
	if desc.Flags&gpu.ResourceFlagAllowUnorderedAccess != 0 {
		usage |= core1_0.BufferUsageStorageBuffer
	}
	return usage
}

func imageUsage(desc gpu.ResourceDesc) core1_0.ImageUsageFlags {
	usage := core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst
	if desc.Flags&gpu.ResourceFlagDenyShaderResource == 0 {
		usage |= core1_0.ImageUsageSampled
	}
	if desc.Flags&gpu.ResourceFlagAllowRenderTarget != 0 {
		usage |= core1_0.ImageUsageColorAttachment
	}
	if desc.Flags&gpu.ResourceFlagAllowDepthStencil != 0 {
		usage |= core1_0.ImageUsageDepthStencilAttachment
	}
	if desc.Flags&gpu.ResourceFlagAllowUnorderedAccess != 0 {
		usage |= core1_0.ImageUsageStorage
	}
	return usage
}

var imageTypeMapping = map[gpu.ResourceDimension]core1_0.ImageType{
	gpu.ResourceDimensionTexture1D: core1_0.ImageType1D,
	gpu.ResourceDimensionTexture2D: core1_0.ImageType2D,
	gpu.ResourceDimensionTexture3D: core1_0.ImageType3D,
}

// CreateCommittedResource creates a buffer or image with dedicated memory. Vulkan images start in
// the undefined layout, so initialState is only recorded for the first barrier.
func (f *Factory) CreateCommittedResource(heapType gpu.HeapType, desc gpu.ResourceDesc, initialState gpu.ResourceState) (gpu.Resource, error) {
	f.logger.Debug("Factory::CreateCommittedResource", slog.String("HeapType", heapType.String()), slog.String("Dimension", desc.Dimension.String()), slog.Int("Width", desc.Width))

	if desc.Dimension == gpu.ResourceDimensionBuffer {
		return f.createBuffer(heapType, desc, initialState)
	}

	return f.createImage(heapType, desc, initialState)
}

func (f *Factory) createBuffer(heapType gpu.HeapType, desc gpu.ResourceDesc, initialState gpu.ResourceState) (*Resource, error) {
	if desc.Width <= 0 {
		return nil, errors.Newf("buffer size must be positive, but was %d", desc.Width)
	}

	buffer, _, err := f.device.CreateBuffer(f.allocationCallbacks, core1_0.BufferCreateInfo{
		Size:        desc.Width,
		Usage:       bufferUsage(desc),
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, err
	}

	memory, err := f.allocateMemory(buffer.MemoryRequirements(), heapType)
	if err != nil {
		buffer.Destroy(f.allocationCallbacks)
		return nil, err
	}

	_, err = buffer.BindBufferMemory(memory, 0)
	if err != nil {
		buffer.Destroy(f.allocationCallbacks)
		memory.Free(f.allocationCallbacks)
		return nil, err
	}

	resource := &Resource{
		factory:  f,
		desc:     desc,
		heapType: heapType,
		state:    initialState,
		buffer:   buffer,
		memory:   memory,
	}
	resource.address = f.registerAddress(resource, desc.Width)

	return resource, nil
}

func (f *Factory) createImage(heapType gpu.HeapType, desc gpu.ResourceDesc, initialState gpu.ResourceState) (*Resource, error) {
	imageType, ok := imageTypeMapping[desc.Dimension]
	if !ok {
		return nil, errors.Newf("cannot create a resource with dimension %s", desc.Dimension)
	}
	if heapType != gpu.HeapDefault {
		return nil, errors.Newf("textures must be created in %s, not %s", gpu.HeapDefault, heapType)
	}
	format, ok := formatMapping[desc.Format]
	if !ok {
		return nil, errors.Newf("format %s has no vulkan equivalent", desc.Format)
	}
	if desc.Cube && desc.ArraySize()%6 != 0 {
		return nil, errors.Newf("cube textures need a multiple of 6 slices, but have %d", desc.ArraySize())
	}

	_, height, depth := desc.MipExtent(0)
	createInfo := core1_0.ImageCreateInfo{
		ImageType: imageType,
		Format:    format,
		Extent: core1_0.Extent3D{
			Width:  desc.Width,
			Height: height,
			Depth:  depth,
		},
		MipLevels:     max(desc.MipLevels, 1),
		ArrayLayers:   desc.ArraySize(),
		Samples:       core1_0.Samples1,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         imageUsage(desc),
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	}
	if desc.Cube {
		createInfo.Flags = core1_0.ImageCreateCubeCompatible
	}

	image, _, err := f.device.CreateImage(f.allocationCallbacks, createInfo)
	if err != nil {
		return nil, err
	}

	memory, err := f.allocateMemory(image.MemoryRequirements(), heapType)
	if err != nil {
		image.Destroy(f.allocationCallbacks)
		return nil, err
	}

	_, err = image.BindImageMemory(memory, 0)
	if err != nil {
		image.Destroy(f.allocationCallbacks)
		memory.Free(f.allocationCallbacks)
		return nil, err
	}

	return &Resource{
		factory:  f,
		desc:     desc,
		heapType: heapType,
		state:    initialState,
		image:    image,
		memory:   memory,
	}, nil
}

func (f *Factory) CreateDescriptorHeap(desc gpu.DescriptorHeapDesc) (gpu.DescriptorHeap, error) {
	f.logger.Debug("Factory::CreateDescriptorHeap", slog.String("Type", desc.Type.String()), slog.Int("NumDescriptors", desc.NumDescriptors))

	return f.registry.CreateHeap(desc)
}

func (f *Factory) DescriptorHandleIncrementSize(heapType gpu.DescriptorHeapType) int {
	return f.registry.IncrementSize(heapType)
}

// Descriptor returns the view written to handle
func (f *Factory) Descriptor(handle gpu.CPUDescriptorHandle) (descriptors.Descriptor, error) {
	return f.registry.Lookup(handle)
}

func (f *Factory) CreateConstantBufferView(desc gpu.ConstantBufferViewDesc, dest gpu.CPUDescriptorHandle) error {
	if desc.SizeInBytes <= 0 || desc.SizeInBytes%gpu.ConstantBufferAlignment != 0 {
		return errors.Newf("constant buffer view size %d is not a positive multiple of %d", desc.SizeInBytes, gpu.ConstantBufferAlignment)
	}

	buffer, offset, err := f.resolveAddress(desc.BufferLocation)
	if err != nil {
		return err
	}
	if offset+desc.SizeInBytes > buffer.desc.Width {
		return errors.Newf("constant buffer view of %d bytes at offset %d overruns a %d byte buffer", desc.SizeInBytes, offset, buffer.desc.Width)
	}

	return f.registry.Write(dest, descriptors.Descriptor{
		Kind:               descriptors.KindConstantBufferView,
		Resource:           buffer,
		ConstantBufferView: desc,
	})
}

func (f *Factory) CreateShaderResourceView(resource gpu.Resource, desc *gpu.ShaderResourceViewDesc, dest gpu.CPUDescriptorHandle) error {
	if resource == nil {
		return errors.New("cannot create a shader resource view of a nil resource")
	}

	resourceDesc := resource.Desc()
	view := gpu.ShaderResourceViewDesc{
		Format:        resourceDesc.Format,
		ViewDimension: gpu.SRVDimensionFor(resourceDesc),
		MipLevels:     max(resourceDesc.MipLevels, 1),
		ArraySize:     resourceDesc.ArraySize(),
	}
	if desc != nil {
		view = *desc
	} else if resourceDesc.Dimension == gpu.ResourceDimensionBuffer {
		return errors.New("shader resource views of buffers require a view description")
	}

	return f.registry.Write(dest, descriptors.Descriptor{
		Kind:               descriptors.KindShaderResourceView,
		Resource:           resource,
		ShaderResourceView: view,
	})
}

func (f *Factory) CreateUnorderedAccessView(resource gpu.Resource, desc *gpu.UnorderedAccessViewDesc, dest gpu.CPUDescriptorHandle) error {
	if resource == nil || resource.Desc().Flags&gpu.ResourceFlagAllowUnorderedAccess == 0 {
		return errors.New("unordered access views require a resource created with unordered access")
	}

	view := gpu.UnorderedAccessViewDesc{
		Format:        resource.Desc().Format,
		ViewDimension: gpu.UAVDimensionTexture2D,
	}
	if desc != nil {
		view = *desc
	}

	return f.registry.Write(dest, descriptors.Descriptor{
		Kind:                descriptors.KindUnorderedAccessView,
		Resource:            resource,
		UnorderedAccessView: view,
	})
}

func (f *Factory) CreateRenderTargetView(resource gpu.Resource, desc *gpu.RenderTargetViewDesc, dest gpu.CPUDescriptorHandle) error {
	if resource == nil || resource.Desc().Flags&gpu.ResourceFlagAllowRenderTarget == 0 {
		return errors.New("render target views require a resource created with render target access")
	}
	if isDepthFormat(resource.Desc().Format) {
		return errors.Newf("format %s cannot be used as a render target", resource.Desc().Format)
	}

	view := gpu.RenderTargetViewDesc{Format: resource.Desc().Format}
	if desc != nil {
		view = *desc
	}

	return f.registry.Write(dest, descriptors.Descriptor{
		Kind:             descriptors.KindRenderTargetView,
		Resource:         resource,
		RenderTargetView: view,
	})
}

func (f *Factory) CreateSampler(desc gpu.SamplerDesc, dest gpu.CPUDescriptorHandle) error {
	return f.registry.Write(dest, descriptors.Descriptor{
		Kind:    descriptors.KindSampler,
		Sampler: desc,
	})
}
