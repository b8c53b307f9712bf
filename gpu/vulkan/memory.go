package vulkan

import (
	"math"
	"math/bits"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/kiln/gpu"
)

type memoryPreferences struct {
	required     core1_0.MemoryPropertyFlags
	preferred    core1_0.MemoryPropertyFlags
	notPreferred core1_0.MemoryPropertyFlags
}

var heapPreferences = map[gpu.HeapType]memoryPreferences{
	gpu.HeapDefault: {
		preferred:    core1_0.MemoryPropertyDeviceLocal,
		notPreferred: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCached,
	},
	gpu.HeapUpload: {
		required:     core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
		notPreferred: core1_0.MemoryPropertyHostCached,
	},
	gpu.HeapReadback: {
		required:  core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
		preferred: core1_0.MemoryPropertyHostCached,
	},
}

// findMemoryTypeIndex picks the memory type allowed by memoryTypeBits that has every required
// flag of the heap type and the fewest mismatches against its preferences
func findMemoryTypeIndex(properties *core1_0.PhysicalDeviceMemoryProperties, memoryTypeBits uint32, heapType gpu.HeapType) (int, common.VkResult, error) {
	preferences, ok := heapPreferences[heapType]
	if !ok {
		return -1, core1_0.VKErrorFeatureNotPresent, core1_0.VKErrorFeatureNotPresent.ToError()
	}

	bestMemoryTypeIndex := -1
	minCost := math.MaxInt

	for memTypeIndex := 0; memTypeIndex < len(properties.MemoryTypes); memTypeIndex++ {
		memTypeBit := uint32(1 << memTypeIndex)
		if memTypeBit&memoryTypeBits == 0 {
			continue
		}

		flags := properties.MemoryTypes[memTypeIndex].PropertyFlags
		if preferences.required&flags != preferences.required {
			continue
		}

		missingPreferredFlags := preferences.preferred & ^flags
		presentNotPreferredFlags := preferences.notPreferred & flags
		cost := bits.OnesCount32(uint32(missingPreferredFlags)) + bits.OnesCount32(uint32(presentNotPreferredFlags))
		if cost == 0 {
			return memTypeIndex, core1_0.VKSuccess, nil
		} else if cost < minCost {
			bestMemoryTypeIndex = memTypeIndex
			minCost = cost
		}
	}

	if bestMemoryTypeIndex < 0 {
		return -1, core1_0.VKErrorFeatureNotPresent, core1_0.VKErrorFeatureNotPresent.ToError()
	}

	return bestMemoryTypeIndex, core1_0.VKSuccess, nil
}
