package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/kiln/gpu"
)

// formatMapping translates DXGI numbering into VkFormat numbering
var formatMapping = map[gpu.Format]core1_0.Format{
	gpu.FormatR32G32B32A32Float: core1_0.Format(109),
	gpu.FormatR32G32B32Float:    core1_0.Format(106),
	gpu.FormatR16G16B16A16Float: core1_0.Format(97),
	gpu.FormatR16G16B16A16UNorm: core1_0.Format(91),
	gpu.FormatR32G32Float:       core1_0.Format(103),
	gpu.FormatR10G10B10A2UNorm:  core1_0.Format(64),
	gpu.FormatR11G11B10Float:    core1_0.Format(122),
	gpu.FormatR8G8B8A8UNorm:     core1_0.Format(37),
	gpu.FormatR8G8B8A8UNormSRGB: core1_0.Format(43),
	gpu.FormatR16G16Float:       core1_0.Format(83),
	gpu.FormatD32Float:          core1_0.Format(126),
	gpu.FormatR32Float:          core1_0.Format(100),
	gpu.FormatR32UInt:           core1_0.Format(98),
	gpu.FormatD24UNormS8UInt:    core1_0.Format(129),
	gpu.FormatR8G8UNorm:         core1_0.Format(16),
	gpu.FormatR16Float:          core1_0.Format(76),
	gpu.FormatR16UInt:           core1_0.Format(74),
	gpu.FormatR8UNorm:           core1_0.Format(9),
	gpu.FormatBC1UNorm:          core1_0.Format(133),
	gpu.FormatBC1UNormSRGB:      core1_0.Format(134),
	gpu.FormatBC2UNorm:          core1_0.Format(135),
	gpu.FormatBC3UNorm:          core1_0.Format(137),
	gpu.FormatBC3UNormSRGB:      core1_0.Format(138),
	gpu.FormatBC4UNorm:          core1_0.Format(139),
	gpu.FormatBC5UNorm:          core1_0.Format(141),
	gpu.FormatB8G8R8A8UNorm:     core1_0.Format(44),
	gpu.FormatB8G8R8A8UNormSRGB: core1_0.Format(50),
	gpu.FormatBC6HUF16:          core1_0.Format(143),
	gpu.FormatBC7UNorm:          core1_0.Format(145),
	gpu.FormatBC7UNormSRGB:      core1_0.Format(146),
}

func isDepthFormat(format gpu.Format) bool {
	return format == gpu.FormatD32Float || format == gpu.FormatD24UNormS8UInt
}
