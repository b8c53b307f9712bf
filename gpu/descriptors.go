package gpu

import "fmt"

// DescriptorHeapType selects which kind of view a descriptor heap stores
type DescriptorHeapType int32

const (
	DescriptorHeapTypeCBVSRVUAV DescriptorHeapType = iota
	DescriptorHeapTypeSampler
	DescriptorHeapTypeRTV
	DescriptorHeapTypeDSV
)

var descriptorHeapTypeMapping = map[DescriptorHeapType]string{
	DescriptorHeapTypeCBVSRVUAV: "CBV_SRV_UAV",
	DescriptorHeapTypeSampler:   "Sampler",
	DescriptorHeapTypeRTV:       "RTV",
	DescriptorHeapTypeDSV:       "DSV",
}

func (t DescriptorHeapType) String() string {
	str, ok := descriptorHeapTypeMapping[t]
	if !ok {
		return fmt.Sprintf("DescriptorHeapType(%d)", int32(t))
	}
	return str
}

// CanBeShaderVisible returns false for RTV and DSV heaps, which the GPU never reads through a
// descriptor table
func (t DescriptorHeapType) CanBeShaderVisible() bool {
	return t == DescriptorHeapTypeCBVSRVUAV || t == DescriptorHeapTypeSampler
}

type DescriptorHeapDesc struct {
	Type           DescriptorHeapType
	NumDescriptors int
	ShaderVisible  bool
}

// CPUDescriptorHandle addresses a descriptor slot for writing views
type CPUDescriptorHandle struct {
	Ptr uint64
}

// Offset returns the handle count slots further along a heap with the provided increment size
func (h CPUDescriptorHandle) Offset(count int, incrementSize int) CPUDescriptorHandle {
	return CPUDescriptorHandle{Ptr: h.Ptr + uint64(count*incrementSize)}
}

// GPUDescriptorHandle addresses a descriptor slot in a shader-visible heap for binding
type GPUDescriptorHandle struct {
	Ptr uint64
}

func (h GPUDescriptorHandle) Offset(count int, incrementSize int) GPUDescriptorHandle {
	return GPUDescriptorHandle{Ptr: h.Ptr + uint64(count*incrementSize)}
}

// IsNull returns true for the handle of a heap that is not shader visible
func (h GPUDescriptorHandle) IsNull() bool {
	return h.Ptr == 0
}

// SRVDimension uses D3D12 shader resource view dimension numbering
type SRVDimension int32

const (
	SRVDimensionUnknown          SRVDimension = 0
	SRVDimensionBuffer           SRVDimension = 1
	SRVDimensionTexture1D        SRVDimension = 2
	SRVDimensionTexture1DArray   SRVDimension = 3
	SRVDimensionTexture2D        SRVDimension = 4
	SRVDimensionTexture2DArray   SRVDimension = 5
	SRVDimensionTexture2DMS      SRVDimension = 6
	SRVDimensionTexture2DMSArray SRVDimension = 7
	SRVDimensionTexture3D        SRVDimension = 8
	SRVDimensionTextureCube      SRVDimension = 9
	SRVDimensionTextureCubeArray SRVDimension = 10
)

var srvDimensionMapping = map[SRVDimension]string{
	SRVDimensionUnknown:          "UNKNOWN",
	SRVDimensionBuffer:           "BUFFER",
	SRVDimensionTexture1D:        "TEXTURE1D",
	SRVDimensionTexture1DArray:   "TEXTURE1DARRAY",
	SRVDimensionTexture2D:        "TEXTURE2D",
	SRVDimensionTexture2DArray:   "TEXTURE2DARRAY",
	SRVDimensionTexture2DMS:      "TEXTURE2DMS",
	SRVDimensionTexture2DMSArray: "TEXTURE2DMSARRAY",
	SRVDimensionTexture3D:        "TEXTURE3D",
	SRVDimensionTextureCube:      "TEXTURECUBE",
	SRVDimensionTextureCubeArray: "TEXTURECUBEARRAY",
}

func (d SRVDimension) String() string {
	str, ok := srvDimensionMapping[d]
	if !ok {
		return fmt.Sprintf("SRVDimension(%d)", int32(d))
	}
	return str
}

// SRVDimensionFor picks the shader resource view dimension that covers every slice of a texture
func SRVDimensionFor(desc ResourceDesc) SRVDimension {
	arraySize := desc.ArraySize()

	switch desc.Dimension {
	case ResourceDimensionBuffer:
		return SRVDimensionBuffer
	case ResourceDimensionTexture1D:
		if arraySize > 1 {
			return SRVDimensionTexture1DArray
		}
		return SRVDimensionTexture1D
	case ResourceDimensionTexture2D:
		if desc.Cube {
			if arraySize > 6 {
				return SRVDimensionTextureCubeArray
			}
			return SRVDimensionTextureCube
		}
		if arraySize > 1 {
			return SRVDimensionTexture2DArray
		}
		return SRVDimensionTexture2D
	case ResourceDimensionTexture3D:
		return SRVDimensionTexture3D
	}

	return SRVDimensionUnknown
}

// UAVDimension uses D3D12 unordered access view dimension numbering
type UAVDimension int32

const (
	UAVDimensionUnknown        UAVDimension = 0
	UAVDimensionBuffer         UAVDimension = 1
	UAVDimensionTexture1D      UAVDimension = 2
	UAVDimensionTexture1DArray UAVDimension = 3
	UAVDimensionTexture2D      UAVDimension = 4
	UAVDimensionTexture2DArray UAVDimension = 5
	UAVDimensionTexture3D      UAVDimension = 8
)

// ConstantBufferViewDesc describes a constant buffer view. SizeInBytes must be a multiple of
// ConstantBufferAlignment.
type ConstantBufferViewDesc struct {
	BufferLocation GPUVirtualAddress
	SizeInBytes    int
}

// ConstantBufferAlignment is the required alignment of constant buffer locations and sizes
const ConstantBufferAlignment = 256

type ShaderResourceViewDesc struct {
	Format        Format
	ViewDimension SRVDimension

	MostDetailedMip int
	MipLevels       int
	FirstArraySlice int
	ArraySize       int

	FirstElement        int
	NumElements         int
	StructureByteStride int
}

type UnorderedAccessViewDesc struct {
	Format        Format
	ViewDimension UAVDimension

	MipSlice int

	FirstElement        int
	NumElements         int
	StructureByteStride int
}

type RenderTargetViewDesc struct {
	Format   Format
	MipSlice int
}

type Filter int32

const (
	FilterMinMagMipPoint  Filter = 0
	FilterMinMagMipLinear Filter = 0x15
	FilterAnisotropic     Filter = 0x55
)

type TextureAddressMode int32

const (
	TextureAddressModeWrap TextureAddressMode = iota + 1
	TextureAddressModeMirror
	TextureAddressModeClamp
	TextureAddressModeBorder
)

type ComparisonFunc int32

const (
	ComparisonFuncNever ComparisonFunc = iota + 1
	ComparisonFuncLess
	ComparisonFuncEqual
	ComparisonFuncLessEqual
	ComparisonFuncGreater
	ComparisonFuncNotEqual
	ComparisonFuncGreaterEqual
	ComparisonFuncAlways
)

type SamplerDesc struct {
	Filter         Filter
	AddressU       TextureAddressMode
	AddressV       TextureAddressMode
	AddressW       TextureAddressMode
	MipLODBias     float32
	MaxAnisotropy  int
	ComparisonFunc ComparisonFunc
	BorderColor    [4]float32
	MinLOD         float32
	MaxLOD         float32
}
