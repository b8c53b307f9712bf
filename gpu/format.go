package gpu

import (
	"fmt"

	"github.com/vkngwrapper/kiln/memutils"
)

// Format uses DXGI format numbering, which is also what DDS files store
type Format uint32

const (
	FormatUnknown           Format = 0
	FormatR32G32B32A32Float Format = 2
	FormatR32G32B32Float    Format = 6
	FormatR16G16B16A16Float Format = 10
	FormatR16G16B16A16UNorm Format = 11
	FormatR32G32Float       Format = 16
	FormatR10G10B10A2UNorm  Format = 24
	FormatR11G11B10Float    Format = 26
	FormatR8G8B8A8UNorm     Format = 28
	FormatR8G8B8A8UNormSRGB Format = 29
	FormatR16G16Float       Format = 34
	FormatD32Float          Format = 40
	FormatR32Float          Format = 41
	FormatR32UInt           Format = 42
	FormatD24UNormS8UInt    Format = 45
	FormatR8G8UNorm         Format = 49
	FormatR16Float          Format = 54
	FormatR16UInt           Format = 57
	FormatR8UNorm           Format = 61
	FormatBC1UNorm          Format = 71
	FormatBC1UNormSRGB      Format = 72
	FormatBC2UNorm          Format = 74
	FormatBC3UNorm          Format = 77
	FormatBC3UNormSRGB      Format = 78
	FormatBC4UNorm          Format = 80
	FormatBC5UNorm          Format = 83
	FormatB8G8R8A8UNorm     Format = 87
	FormatB8G8R8A8UNormSRGB Format = 91
	FormatBC6HUF16          Format = 95
	FormatBC7UNorm          Format = 98
	FormatBC7UNormSRGB      Format = 99
)

// FormatInfo describes the memory layout of a format. Uncompressed formats have a block size of 1.
type FormatInfo struct {
	Name          string
	BytesPerBlock int
	BlockSize     int
}

var formatInfo = map[Format]FormatInfo{
	FormatR32G32B32A32Float: {"R32G32B32A32_FLOAT", 16, 1},
	FormatR32G32B32Float:    {"R32G32B32_FLOAT", 12, 1},
	FormatR16G16B16A16Float: {"R16G16B16A16_FLOAT", 8, 1},
	FormatR16G16B16A16UNorm: {"R16G16B16A16_UNORM", 8, 1},
	FormatR32G32Float:       {"R32G32_FLOAT", 8, 1},
	FormatR10G10B10A2UNorm:  {"R10G10B10A2_UNORM", 4, 1},
	FormatR11G11B10Float:    {"R11G11B10_FLOAT", 4, 1},
	FormatR8G8B8A8UNorm:     {"R8G8B8A8_UNORM", 4, 1},
	FormatR8G8B8A8UNormSRGB: {"R8G8B8A8_UNORM_SRGB", 4, 1},
	FormatR16G16Float:       {"R16G16_FLOAT", 4, 1},
	FormatD32Float:          {"D32_FLOAT", 4, 1},
	FormatR32Float:          {"R32_FLOAT", 4, 1},
	FormatR32UInt:           {"R32_UINT", 4, 1},
	FormatD24UNormS8UInt:    {"D24_UNORM_S8_UINT", 4, 1},
	FormatR8G8UNorm:         {"R8G8_UNORM", 2, 1},
	FormatR16Float:          {"R16_FLOAT", 2, 1},
	FormatR16UInt:           {"R16_UINT", 2, 1},
	FormatR8UNorm:           {"R8_UNORM", 1, 1},
	FormatBC1UNorm:          {"BC1_UNORM", 8, 4},
	FormatBC1UNormSRGB:      {"BC1_UNORM_SRGB", 8, 4},
	FormatBC2UNorm:          {"BC2_UNORM", 16, 4},
	FormatBC3UNorm:          {"BC3_UNORM", 16, 4},
	FormatBC3UNormSRGB:      {"BC3_UNORM_SRGB", 16, 4},
	FormatBC4UNorm:          {"BC4_UNORM", 8, 4},
	FormatBC5UNorm:          {"BC5_UNORM", 16, 4},
	FormatB8G8R8A8UNorm:     {"B8G8R8A8_UNORM", 4, 1},
	FormatB8G8R8A8UNormSRGB: {"B8G8R8A8_UNORM_SRGB", 4, 1},
	FormatBC6HUF16:          {"BC6H_UF16", 16, 4},
	FormatBC7UNorm:          {"BC7_UNORM", 16, 4},
	FormatBC7UNormSRGB:      {"BC7_UNORM_SRGB", 16, 4},
}

// Info returns layout information for the format and false for FormatUnknown or formats this
// package does not know how to lay out
func (f Format) Info() (FormatInfo, bool) {
	info, ok := formatInfo[f]
	return info, ok
}

func (f Format) String() string {
	if f == FormatUnknown {
		return "UNKNOWN"
	}
	info, ok := formatInfo[f]
	if !ok {
		return fmt.Sprintf("DXGI_FORMAT(%d)", uint32(f))
	}
	return info.Name
}

// IsBlockCompressed returns true for BCn formats
func (f Format) IsBlockCompressed() bool {
	info, ok := formatInfo[f]
	return ok && info.BlockSize > 1
}

// Pitch returns the tightly packed row pitch, row count and slice pitch of a width x height
// surface. Block compressed formats count rows of 4x4 blocks.
func (f Format) Pitch(width, height int) (rowPitch int, rows int, slicePitch int, ok bool) {
	info, known := formatInfo[f]
	if !known {
		return 0, 0, 0, false
	}

	blocksWide := max(memutils.DivideRoundingUp(width, info.BlockSize), 1)
	rows = max(memutils.DivideRoundingUp(height, info.BlockSize), 1)
	rowPitch = blocksWide * info.BytesPerBlock
	return rowPitch, rows, rowPitch * rows, true
}
