package gpu

import (
	"fmt"
	"strings"
)

// HeapType selects the memory pool a committed resource lives in
type HeapType int32

const (
	// HeapDefault is GPU-local memory that the CPU cannot write directly
	HeapDefault HeapType = iota + 1
	// HeapUpload is CPU-writable, GPU-readable memory. Resources in it are mapped for their
	// whole lifetime.
	HeapUpload
	// HeapReadback is GPU-writable, CPU-readable memory
	HeapReadback
)

var heapTypeMapping = map[HeapType]string{
	HeapDefault:  "HeapDefault",
	HeapUpload:   "HeapUpload",
	HeapReadback: "HeapReadback",
}

func (t HeapType) String() string {
	str, ok := heapTypeMapping[t]
	if !ok {
		return fmt.Sprintf("HeapType(%d)", int32(t))
	}
	return str
}

// IsCPUVisible returns true for heaps whose resources can be mapped
func (t HeapType) IsCPUVisible() bool {
	return t == HeapUpload || t == HeapReadback
}

// ResourceState is a bitmask of the ways the GPU may access a resource between barriers
type ResourceState uint32

const (
	ResourceStateCommon                  ResourceState = 0
	ResourceStateVertexAndConstantBuffer ResourceState = 0x1
	ResourceStateIndexBuffer             ResourceState = 0x2
	ResourceStateRenderTarget            ResourceState = 0x4
	ResourceStateUnorderedAccess         ResourceState = 0x8
	ResourceStateDepthWrite              ResourceState = 0x10
	ResourceStateDepthRead               ResourceState = 0x20
	ResourceStateNonPixelShaderResource  ResourceState = 0x40
	ResourceStatePixelShaderResource     ResourceState = 0x80
	ResourceStateIndirectArgument        ResourceState = 0x200
	ResourceStateCopyDest                ResourceState = 0x400
	ResourceStateCopySource              ResourceState = 0x800

	ResourceStateGenericRead = ResourceStateVertexAndConstantBuffer | ResourceStateIndexBuffer |
		ResourceStateNonPixelShaderResource | ResourceStatePixelShaderResource |
		ResourceStateIndirectArgument | ResourceStateCopySource
	ResourceStatePresent = ResourceStateCommon
)

var resourceStateNames = []struct {
	state ResourceState
	name  string
}{
	{ResourceStateVertexAndConstantBuffer, "VertexAndConstantBuffer"},
	{ResourceStateIndexBuffer, "IndexBuffer"},
	{ResourceStateRenderTarget, "RenderTarget"},
	{ResourceStateUnorderedAccess, "UnorderedAccess"},
	{ResourceStateDepthWrite, "DepthWrite"},
	{ResourceStateDepthRead, "DepthRead"},
	{ResourceStateNonPixelShaderResource, "NonPixelShaderResource"},
	{ResourceStatePixelShaderResource, "PixelShaderResource"},
	{ResourceStateIndirectArgument, "IndirectArgument"},
	{ResourceStateCopyDest, "CopyDest"},
	{ResourceStateCopySource, "CopySource"},
}

func (s ResourceState) String() string {
	if s == ResourceStateCommon {
		return "Common"
	}
	if s == ResourceStateGenericRead {
		return "GenericRead"
	}

	var names []string
	for _, entry := range resourceStateNames {
		if s&entry.state != 0 {
			names = append(names, entry.name)
		}
	}
	return strings.Join(names, "|")
}

// ResourceFlags enables additional usages of a resource
type ResourceFlags uint32

const (
	ResourceFlagAllowRenderTarget ResourceFlags = 1 << iota
	ResourceFlagAllowDepthStencil
	ResourceFlagAllowUnorderedAccess
	ResourceFlagDenyShaderResource

	ResourceFlagNone ResourceFlags = 0
)

// ResourceDimension uses the values of the DDS DX10 header's resource dimension field
type ResourceDimension int32

const (
	ResourceDimensionUnknown   ResourceDimension = 0
	ResourceDimensionBuffer    ResourceDimension = 1
	ResourceDimensionTexture1D ResourceDimension = 2
	ResourceDimensionTexture2D ResourceDimension = 3
	ResourceDimensionTexture3D ResourceDimension = 4
)

var resourceDimensionMapping = map[ResourceDimension]string{
	ResourceDimensionUnknown:   "Unknown",
	ResourceDimensionBuffer:    "Buffer",
	ResourceDimensionTexture1D: "Texture1D",
	ResourceDimensionTexture2D: "Texture2D",
	ResourceDimensionTexture3D: "Texture3D",
}

func (d ResourceDimension) String() string {
	str, ok := resourceDimensionMapping[d]
	if !ok {
		return fmt.Sprintf("ResourceDimension(%d)", int32(d))
	}
	return str
}

// GPUVirtualAddress is the address a shader or input assembler uses to reference buffer memory
type GPUVirtualAddress uint64

// ResourceDesc describes a committed buffer or texture. Buffers use Width as their size in bytes
// and leave the remaining texture fields at 1.
type ResourceDesc struct {
	Dimension        ResourceDimension
	Width            int
	Height           int
	DepthOrArraySize int
	MipLevels        int
	Format           Format
	Flags            ResourceFlags
	// Cube marks a 2D texture array whose slices form cube faces, six per cube
	Cube bool
}

// BufferDesc builds the description of a buffer of size bytes
func BufferDesc(size int, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{
		Dimension:        ResourceDimensionBuffer,
		Width:            size,
		Height:           1,
		DepthOrArraySize: 1,
		MipLevels:        1,
		Format:           FormatUnknown,
		Flags:            flags,
	}
}

// Texture2DDesc builds the description of a 2D texture or texture array
func Texture2DDesc(format Format, width, height, arraySize, mipLevels int, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{
		Dimension:        ResourceDimensionTexture2D,
		Width:            width,
		Height:           height,
		DepthOrArraySize: arraySize,
		MipLevels:        mipLevels,
		Format:           format,
		Flags:            flags,
	}
}

// ArraySize returns the number of array slices, which is 1 for volume textures and buffers
func (d ResourceDesc) ArraySize() int {
	if d.Dimension == ResourceDimensionTexture3D || d.Dimension == ResourceDimensionBuffer {
		return 1
	}
	return max(d.DepthOrArraySize, 1)
}

// SubresourceCount returns the number of mip/array subresources in the resource
func (d ResourceDesc) SubresourceCount() int {
	return max(d.MipLevels, 1) * d.ArraySize()
}

// SubresourceIndex flattens a mip level and array slice into a subresource index
func (d ResourceDesc) SubresourceIndex(mipLevel, arraySlice int) int {
	return mipLevel + arraySlice*max(d.MipLevels, 1)
}

// MipExtent returns the width, height and depth of the provided mip level
func (d ResourceDesc) MipExtent(mipLevel int) (int, int, int) {
	width := max(d.Width>>mipLevel, 1)
	height := max(d.Height>>mipLevel, 1)
	depth := 1
	if d.Dimension == ResourceDimensionTexture3D {
		depth = max(d.DepthOrArraySize>>mipLevel, 1)
	}
	return width, height, depth
}
