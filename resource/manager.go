// Package resource turns raw page allocations into typed, view-backed GPU resources. A Manager
// owns every resource it creates for its whole lifetime; IDs are never individually freed.
package resource

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/memutils"
	"github.com/vkngwrapper/kiln/pager"
)

const (
	bufferAlignment = 256
	// DefaultTextureCacheBytes bounds the decoded texture file cache, equal to 256Mb
	DefaultTextureCacheBytes int64 = 256 * 1024 * 1024
)

type Options struct {
	// TextureCacheBytes bounds the decoded texture file cache. If zero, DefaultTextureCacheBytes is used.
	TextureCacheBytes int64
}

type VertexBufferView struct {
	BufferLocation gpu.GPUVirtualAddress
	SizeInBytes    int
	StrideInBytes  int
}

type IndexBufferView struct {
	BufferLocation gpu.GPUVirtualAddress
	SizeInBytes    int
	Format         gpu.Format
}

type ConstantBufferView struct {
	BufferLocation gpu.GPUVirtualAddress
	SizeInBytes    int
	Descriptor     gpu.CPUDescriptorHandle
}

// UnorderedAccessView holds the pair of views created for an unordered access buffer
type UnorderedAccessView struct {
	BufferLocation gpu.GPUVirtualAddress
	SizeInBytes    int
	StrideInBytes  int
	UAV            gpu.CPUDescriptorHandle
	SRV            gpu.CPUDescriptorHandle
}

type TextureInfo struct {
	Desc         gpu.ResourceDesc
	SRVDimension gpu.SRVDimension
	// Path is the file the texture was loaded from, or empty for textures created from memory
	Path string
}

type bufferEntry struct {
	alloc       pager.BufferAllocation
	size        int
	stride      int
	format      gpu.Format
	descriptors pager.DescriptorAllocation
}

type textureEntry struct {
	alloc pager.TextureAllocation
	info  TextureInfo
	srv   pager.DescriptorAllocation
}

type samplerEntry struct {
	desc gpu.SamplerDesc
	slot pager.DescriptorAllocation
}

type textureKey struct {
	path  string
	flags LoadFlags
}

// Manager creates buffers, textures and samplers out of the page allocators and writes their
// views. Recording methods take the command list that performs any GPU copies; the temporary
// upload pages they use are released by ReleaseTemporaryUploadBuffers once that work completes.
type Manager struct {
	logger      *slog.Logger
	factory     gpu.ResourceFactory
	buffers     *pager.BufferAllocator
	descriptors *pager.DescriptorAllocator
	textures    *pager.TextureAllocator

	mutex                  sync.Mutex
	vertexBuffers          []bufferEntry
	indexBuffers           []bufferEntry
	constantBuffers        []bufferEntry
	dynamicVertexBuffers   []bufferEntry
	unorderedAccessBuffers []bufferEntry
	textureEntries         []textureEntry
	samplers               []samplerEntry

	texturePaths *swiss.Map[textureKey, TextureID]
	fileCache    *ristretto.Cache[string, *decodedFile]
}

func New(logger *slog.Logger, factory gpu.ResourceFactory, buffers *pager.BufferAllocator, descriptors *pager.DescriptorAllocator, textures *pager.TextureAllocator, options Options) (*Manager, error) {
	cacheBytes := options.TextureCacheBytes
	if cacheBytes <= 0 {
		cacheBytes = DefaultTextureCacheBytes
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, *decodedFile]{
		NumCounters: 10000,
		MaxCost:     cacheBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create texture file cache")
	}

	return &Manager{
		logger:       logger,
		factory:      factory,
		buffers:      buffers,
		descriptors:  descriptors,
		textures:     textures,
		texturePaths: swiss.NewMap[textureKey, TextureID](16),
		fileCache:    cache,
	}, nil
}

// Close drops the texture file cache. Resources remain owned by the page allocators.
func (m *Manager) Close() {
	m.fileCache.Close()
}

func lookup[T any](m *Manager, entries *[]T, id ID, category Category) (T, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var zero T
	if id.Category != category {
		return zero, errors.Wrapf(ErrWrongCategory, "%s used as %s", id, category)
	}
	if id.Index < 0 || id.Index >= len(*entries) {
		return zero, errors.Wrapf(ErrUnknownID, "%s", id)
	}
	return (*entries)[id.Index], nil
}

func register[T any](m *Manager, entries *[]T, entry T, category Category) ID {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	*entries = append(*entries, entry)
	return ID{Category: category, Index: len(*entries) - 1}
}

// uploadBuffer copies data into a new default-heap allocation through a temporary upload page and
// leaves it in readState
func (m *Manager) uploadBuffer(cl gpu.CommandList, data []byte, readState gpu.ResourceState) (pager.BufferAllocation, error) {
	if len(data) == 0 {
		return pager.BufferAllocation{}, errors.New("cannot create a buffer from empty data")
	}

	dst, err := m.buffers.Allocate(pager.BufferDefault, len(data), bufferAlignment)
	if err != nil {
		return pager.BufferAllocation{}, err
	}
	src, err := m.buffers.AllocateTemporary(len(data), bufferAlignment)
	if err != nil {
		return pager.BufferAllocation{}, err
	}

	dstResource, err := m.buffers.Resource(dst)
	if err != nil {
		return pager.BufferAllocation{}, err
	}
	srcResource, err := m.buffers.Resource(src)
	if err != nil {
		return pager.BufferAllocation{}, err
	}
	if dstResource == nil || srcResource == nil || src.CPU == nil {
		return pager.BufferAllocation{}, ErrNilResource
	}

	copy(src.CPU, data)

	err = m.buffers.BeginCopy(cl, dst)
	if err != nil {
		return pager.BufferAllocation{}, err
	}
	cl.CopyBufferRegion(dstResource, dst.Offset, srcResource, src.Offset, len(data))
	err = m.buffers.EndCopy(cl, dst, readState)
	if err != nil {
		return pager.BufferAllocation{}, err
	}

	return dst, nil
}

// CreateVertexBuffer records the upload of data into a default-heap vertex buffer
func (m *Manager) CreateVertexBuffer(cl gpu.CommandList, data []byte, stride int) (VertexBufferID, error) {
	m.logger.Debug("Manager::CreateVertexBuffer", slog.Int("Size", len(data)), slog.Int("Stride", stride))

	if stride <= 0 || len(data)%stride != 0 {
		return VertexBufferID{}, errors.Newf("vertex data of %d bytes is not a whole number of %d byte vertices", len(data), stride)
	}

	alloc, err := m.uploadBuffer(cl, data, gpu.ResourceStateVertexAndConstantBuffer)
	if err != nil {
		return VertexBufferID{}, errors.Wrap(err, "failed to create vertex buffer")
	}

	id := register(m, &m.vertexBuffers, bufferEntry{alloc: alloc, size: len(data), stride: stride}, CategoryVertexBuffer)
	return VertexBufferID{id}, nil
}

// CreateIndexBuffer records the upload of data into a default-heap index buffer of 16 or 32 bit indices
func (m *Manager) CreateIndexBuffer(cl gpu.CommandList, data []byte, format gpu.Format) (IndexBufferID, error) {
	m.logger.Debug("Manager::CreateIndexBuffer", slog.Int("Size", len(data)), slog.String("Format", format.String()))

	var indexSize int
	switch format {
	case gpu.FormatR16UInt:
		indexSize = 2
	case gpu.FormatR32UInt:
		indexSize = 4
	default:
		return IndexBufferID{}, errors.Wrapf(ErrUnsupportedFormat, "index buffers cannot use %s", format)
	}
	if len(data)%indexSize != 0 {
		return IndexBufferID{}, errors.Newf("index data of %d bytes is not a whole number of %s indices", len(data), format)
	}

	alloc, err := m.uploadBuffer(cl, data, gpu.ResourceStateIndexBuffer)
	if err != nil {
		return IndexBufferID{}, errors.Wrap(err, "failed to create index buffer")
	}

	id := register(m, &m.indexBuffers, bufferEntry{alloc: alloc, size: len(data), format: format}, CategoryIndexBuffer)
	return IndexBufferID{id}, nil
}

// CreateConstantBuffer places data in persistently mapped upload memory rounded up to the
// constant buffer alignment and writes a CBV for it
func (m *Manager) CreateConstantBuffer(data []byte) (ConstantBufferID, error) {
	m.logger.Debug("Manager::CreateConstantBuffer", slog.Int("Size", len(data)))

	if len(data) == 0 {
		return ConstantBufferID{}, errors.New("cannot create a constant buffer from empty data")
	}

	size := memutils.AlignUp(len(data), gpu.ConstantBufferAlignment)
	alloc, err := m.buffers.Allocate(pager.BufferUpload, size, gpu.ConstantBufferAlignment)
	if err != nil {
		return ConstantBufferID{}, errors.Wrap(err, "failed to create constant buffer")
	}
	if alloc.CPU == nil {
		return ConstantBufferID{}, ErrNilResource
	}
	copy(alloc.CPU, data)

	slot, err := m.descriptors.Allocate(pager.DescriptorCategory{HeapType: gpu.DescriptorHeapTypeCBVSRVUAV}, 1)
	if err != nil {
		return ConstantBufferID{}, errors.Wrap(err, "failed to allocate constant buffer descriptor")
	}

	err = m.factory.CreateConstantBufferView(gpu.ConstantBufferViewDesc{
		BufferLocation: alloc.GPUAddress,
		SizeInBytes:    size,
	}, slot.CPUHandle)
	if err != nil {
		return ConstantBufferID{}, err
	}

	id := register(m, &m.constantBuffers, bufferEntry{alloc: alloc, size: size, descriptors: slot}, CategoryConstantBuffer)
	return ConstantBufferID{id}, nil
}

// CreateDynamicVertexBuffer places data in persistently mapped upload memory so that it can be
// rewritten with UpdateDynamicVertexBuffer
func (m *Manager) CreateDynamicVertexBuffer(data []byte, stride int) (DynamicVertexBufferID, error) {
	m.logger.Debug("Manager::CreateDynamicVertexBuffer", slog.Int("Size", len(data)), slog.Int("Stride", stride))

	if len(data) == 0 || stride <= 0 || len(data)%stride != 0 {
		return DynamicVertexBufferID{}, errors.Newf("vertex data of %d bytes is not a whole number of %d byte vertices", len(data), stride)
	}

	alloc, err := m.buffers.Allocate(pager.BufferUpload, len(data), bufferAlignment)
	if err != nil {
		return DynamicVertexBufferID{}, errors.Wrap(err, "failed to create dynamic vertex buffer")
	}
	if alloc.CPU == nil {
		return DynamicVertexBufferID{}, ErrNilResource
	}
	copy(alloc.CPU, data)

	id := register(m, &m.dynamicVertexBuffers, bufferEntry{alloc: alloc, size: len(data), stride: stride}, CategoryDynamicVertexBuffer)
	return DynamicVertexBufferID{id}, nil
}

// CreateUnorderedAccessBuffer creates a structured buffer of count elements on a dedicated page
// with a UAV and an SRV, and records its transition to unordered access
func (m *Manager) CreateUnorderedAccessBuffer(cl gpu.CommandList, count int, stride int) (UnorderedAccessBufferID, error) {
	m.logger.Debug("Manager::CreateUnorderedAccessBuffer", slog.Int("Count", count), slog.Int("Stride", stride))

	if count <= 0 || stride <= 0 {
		return UnorderedAccessBufferID{}, errors.Newf("cannot create a buffer of %d elements of %d bytes", count, stride)
	}

	size := count * stride
	alloc, err := m.buffers.Allocate(pager.BufferUnorderedAccess, size, bufferAlignment)
	if err != nil {
		return UnorderedAccessBufferID{}, errors.Wrap(err, "failed to create unordered access buffer")
	}
	resource, err := m.buffers.Resource(alloc)
	if err != nil {
		return UnorderedAccessBufferID{}, err
	}
	if resource == nil {
		return UnorderedAccessBufferID{}, ErrNilResource
	}

	slots, err := m.descriptors.Allocate(pager.DescriptorCategory{HeapType: gpu.DescriptorHeapTypeCBVSRVUAV}, 2)
	if err != nil {
		return UnorderedAccessBufferID{}, errors.Wrap(err, "failed to allocate unordered access descriptors")
	}

	firstElement := alloc.Offset / stride
	err = m.factory.CreateUnorderedAccessView(resource, &gpu.UnorderedAccessViewDesc{
		ViewDimension:       gpu.UAVDimensionBuffer,
		FirstElement:        firstElement,
		NumElements:         count,
		StructureByteStride: stride,
	}, slots.CPUHandleAt(0))
	if err != nil {
		return UnorderedAccessBufferID{}, err
	}
	err = m.factory.CreateShaderResourceView(resource, &gpu.ShaderResourceViewDesc{
		ViewDimension:       gpu.SRVDimensionBuffer,
		FirstElement:        firstElement,
		NumElements:         count,
		StructureByteStride: stride,
	}, slots.CPUHandleAt(1))
	if err != nil {
		return UnorderedAccessBufferID{}, err
	}

	err = m.buffers.Transition(cl, alloc, gpu.ResourceStateUnorderedAccess)
	if err != nil {
		return UnorderedAccessBufferID{}, err
	}

	id := register(m, &m.unorderedAccessBuffers, bufferEntry{alloc: alloc, size: size, stride: stride, descriptors: slots}, CategoryUnorderedAccessBuffer)
	return UnorderedAccessBufferID{id}, nil
}

// CreateSampler writes desc into a sampler heap slot
func (m *Manager) CreateSampler(desc gpu.SamplerDesc) (SamplerID, error) {
	slot, err := m.descriptors.Allocate(pager.DescriptorCategory{HeapType: gpu.DescriptorHeapTypeSampler}, 1)
	if err != nil {
		return SamplerID{}, errors.Wrap(err, "failed to allocate sampler descriptor")
	}

	err = m.factory.CreateSampler(desc, slot.CPUHandle)
	if err != nil {
		return SamplerID{}, err
	}

	id := register(m, &m.samplers, samplerEntry{desc: desc, slot: slot}, CategorySampler)
	return SamplerID{id}, nil
}

func (m *Manager) updateMapped(entries *[]bufferEntry, id ID, category Category, data []byte) error {
	entry, err := lookup(m, entries, id, category)
	if err != nil {
		return err
	}
	if len(data) > entry.size {
		return errors.Wrapf(ErrDataTooLarge, "%d bytes written to %s, which holds %d", len(data), id, entry.size)
	}

	copy(entry.alloc.CPU, data)
	return nil
}

// UpdateConstantBuffer overwrites the start of a constant buffer. The caller must ensure the GPU
// is not reading the buffer.
func (m *Manager) UpdateConstantBuffer(id ConstantBufferID, data []byte) error {
	return m.updateMapped(&m.constantBuffers, id.ID, CategoryConstantBuffer, data)
}

// UpdateDynamicVertexBuffer overwrites the start of a dynamic vertex buffer. The caller must
// ensure the GPU is not reading the buffer.
func (m *Manager) UpdateDynamicVertexBuffer(id DynamicVertexBufferID, data []byte) error {
	return m.updateMapped(&m.dynamicVertexBuffers, id.ID, CategoryDynamicVertexBuffer, data)
}

// AllocateFrameConstants copies data into per-frame upload memory and returns its address. The
// memory is recycled by RecycleFrame, so the address is only valid for the frame being recorded.
func (m *Manager) AllocateFrameConstants(data []byte) (gpu.GPUVirtualAddress, error) {
	if len(data) == 0 {
		return 0, errors.New("cannot allocate empty frame constants")
	}

	alloc, err := m.buffers.Allocate(pager.BufferFrame, memutils.AlignUp(len(data), gpu.ConstantBufferAlignment), gpu.ConstantBufferAlignment)
	if err != nil {
		return 0, errors.Wrap(err, "failed to allocate frame constants")
	}
	copy(alloc.CPU, data)

	return alloc.GPUAddress, nil
}

// RecycleFrame retires the per-frame upload memory of the frame that was just submitted
func (m *Manager) RecycleFrame() {
	m.buffers.Recycle(pager.BufferFrame)
}

// ReleaseTemporaryUploadBuffers releases every temporary upload page. It fails with
// pager.ErrPageInFlight if the GPU has not finished the copies reading from them.
func (m *Manager) ReleaseTemporaryUploadBuffers() error {
	return m.buffers.ReleaseTemporary()
}

func (m *Manager) VertexBufferView(id VertexBufferID) (VertexBufferView, error) {
	entry, err := lookup(m, &m.vertexBuffers, id.ID, CategoryVertexBuffer)
	if err != nil {
		return VertexBufferView{}, err
	}
	return VertexBufferView{BufferLocation: entry.alloc.GPUAddress, SizeInBytes: entry.size, StrideInBytes: entry.stride}, nil
}

func (m *Manager) DynamicVertexBufferView(id DynamicVertexBufferID) (VertexBufferView, error) {
	entry, err := lookup(m, &m.dynamicVertexBuffers, id.ID, CategoryDynamicVertexBuffer)
	if err != nil {
		return VertexBufferView{}, err
	}
	return VertexBufferView{BufferLocation: entry.alloc.GPUAddress, SizeInBytes: entry.size, StrideInBytes: entry.stride}, nil
}

func (m *Manager) IndexBufferView(id IndexBufferID) (IndexBufferView, error) {
	entry, err := lookup(m, &m.indexBuffers, id.ID, CategoryIndexBuffer)
	if err != nil {
		return IndexBufferView{}, err
	}
	return IndexBufferView{BufferLocation: entry.alloc.GPUAddress, SizeInBytes: entry.size, Format: entry.format}, nil
}

func (m *Manager) ConstantBufferView(id ConstantBufferID) (ConstantBufferView, error) {
	entry, err := lookup(m, &m.constantBuffers, id.ID, CategoryConstantBuffer)
	if err != nil {
		return ConstantBufferView{}, err
	}
	return ConstantBufferView{BufferLocation: entry.alloc.GPUAddress, SizeInBytes: entry.size, Descriptor: entry.descriptors.CPUHandle}, nil
}

// ConstantBufferBytes returns the mapped memory of a constant buffer
func (m *Manager) ConstantBufferBytes(id ConstantBufferID) ([]byte, error) {
	entry, err := lookup(m, &m.constantBuffers, id.ID, CategoryConstantBuffer)
	if err != nil {
		return nil, err
	}
	return entry.alloc.CPU, nil
}

// DynamicVertexBufferBytes returns the mapped memory of a dynamic vertex buffer
func (m *Manager) DynamicVertexBufferBytes(id DynamicVertexBufferID) ([]byte, error) {
	entry, err := lookup(m, &m.dynamicVertexBuffers, id.ID, CategoryDynamicVertexBuffer)
	if err != nil {
		return nil, err
	}
	return entry.alloc.CPU, nil
}

func (m *Manager) UnorderedAccessView(id UnorderedAccessBufferID) (UnorderedAccessView, error) {
	entry, err := lookup(m, &m.unorderedAccessBuffers, id.ID, CategoryUnorderedAccessBuffer)
	if err != nil {
		return UnorderedAccessView{}, err
	}
	return UnorderedAccessView{
		BufferLocation: entry.alloc.GPUAddress,
		SizeInBytes:    entry.size,
		StrideInBytes:  entry.stride,
		UAV:            entry.descriptors.CPUHandleAt(0),
		SRV:            entry.descriptors.CPUHandleAt(1),
	}, nil
}

// VertexBufferResource returns the buffer backing a vertex buffer along with its offset in it
func (m *Manager) VertexBufferResource(id VertexBufferID) (gpu.Resource, int, error) {
	entry, err := lookup(m, &m.vertexBuffers, id.ID, CategoryVertexBuffer)
	if err != nil {
		return nil, 0, err
	}
	resource, err := m.buffers.Resource(entry.alloc)
	if err != nil {
		return nil, 0, err
	}
	return resource, entry.alloc.Offset, nil
}

func (m *Manager) SamplerHandle(id SamplerID) (gpu.CPUDescriptorHandle, error) {
	entry, err := lookup(m, &m.samplers, id.ID, CategorySampler)
	if err != nil {
		return gpu.CPUDescriptorHandle{}, err
	}
	return entry.slot.CPUHandle, nil
}
