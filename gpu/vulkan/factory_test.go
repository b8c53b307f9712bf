package vulkan

import (
	"log/slog"
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	coremocks "github.com/vkngwrapper/core/v2/mocks"
	"github.com/vkngwrapper/extensions/v2/ext_memory_priority"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/internal/mocks/vkmocks"
	"go.uber.org/mock/gomock"
)

type fakePhysicalDevice struct {
	properties core1_0.PhysicalDeviceMemoryProperties
}

func (d *fakePhysicalDevice) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &d.properties
}

// discreteMemory has a device-local type, a host-visible coherent type and a host-cached type
var discreteMemory = core1_0.PhysicalDeviceMemoryProperties{
	MemoryTypes: []core1_0.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyHostCached, HeapIndex: 1},
	},
	MemoryHeaps: []core1_0.MemoryHeap{
		{Size: 1 << 30},
		{Size: 1 << 30},
	},
}

func readyFactory(t *testing.T, ctrl *gomock.Controller, memoryPriority bool) (*vkmocks.MockVulkanDevice, *Factory) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	device := vkmocks.NewMockVulkanDevice(ctrl)
	device.EXPECT().IsDeviceExtensionActive(ext_memory_priority.ExtensionName).Return(memoryPriority)

	factory := NewFactory(logger, device, &fakePhysicalDevice{properties: discreteMemory}, CreateOptions{})
	require.NotNil(t, factory)
	return device, factory
}

func TestFindMemoryTypeIndex(t *testing.T) {
	testCases := map[string]struct {
		HeapType       gpu.HeapType
		MemoryTypeBits uint32
		ExpectedIndex  int
		ExpectError    bool
	}{
		"DefaultPrefersDeviceLocal": {
			HeapType:       gpu.HeapDefault,
			MemoryTypeBits: 0b111,
			ExpectedIndex:  0,
		},
		"DefaultFallsBackToHostMemory": {
			HeapType:       gpu.HeapDefault,
			MemoryTypeBits: 0b110,
			ExpectedIndex:  1,
		},
		"UploadAvoidsCachedMemory": {
			HeapType:       gpu.HeapUpload,
			MemoryTypeBits: 0b111,
			ExpectedIndex:  1,
		},
		"ReadbackPrefersCachedMemory": {
			HeapType:       gpu.HeapReadback,
			MemoryTypeBits: 0b111,
			ExpectedIndex:  2,
		},
		"UploadRequiresHostVisible": {
			HeapType:       gpu.HeapUpload,
			MemoryTypeBits: 0b001,
			ExpectError:    true,
		},
	}

	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			index, res, err := findMemoryTypeIndex(&discreteMemory, testCase.MemoryTypeBits, testCase.HeapType)
			if testCase.ExpectError {
				require.Error(t, err)
				require.Equal(t, core1_0.VKErrorFeatureNotPresent, res)
				return
			}

			require.NoError(t, err)
			require.Equal(t, testCase.ExpectedIndex, index)
		})
	}
}

func TestCreateUploadBuffer(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, factory := readyFactory(t, ctrl, false)

	buffer := coremocks.NewMockBuffer(ctrl)
	memory := coremocks.NewMockDeviceMemory(ctrl)

	device.EXPECT().CreateBuffer(gomock.Nil(), core1_0.BufferCreateInfo{
		Size: 4096,
		Usage: core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst | core1_0.BufferUsageUniformBuffer |
			core1_0.BufferUsageVertexBuffer | core1_0.BufferUsageIndexBuffer,
		SharingMode: core1_0.SharingModeExclusive,
	}).Return(buffer, core1_0.VKSuccess, nil)
	buffer.EXPECT().MemoryRequirements().Return(&core1_0.MemoryRequirements{
		Size:           4096,
		Alignment:      256,
		MemoryTypeBits: 0b111,
	})
	device.EXPECT().AllocateMemory(gomock.Nil(), core1_0.MemoryAllocateInfo{
		AllocationSize:  4096,
		MemoryTypeIndex: 1,
	}).Return(memory, core1_0.VKSuccess, nil)
	buffer.EXPECT().BindBufferMemory(memory, 0).Return(core1_0.VKSuccess, nil)

	resource, err := factory.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(4096, gpu.ResourceFlagNone), gpu.ResourceStateGenericRead)
	require.NoError(t, err)
	require.NotZero(t, resource.GPUVirtualAddress())
	require.Zero(t, uint64(resource.GPUVirtualAddress())%bufferAddressAlignment)

	backing := make([]byte, 4096)
	memory.EXPECT().Map(0, common.WholeSize, core1_0.MemoryMapFlags(0)).Return(unsafe.Pointer(&backing[0]), core1_0.VKSuccess, nil)

	first, err := resource.Map()
	require.NoError(t, err)
	second, err := resource.Map()
	require.NoError(t, err)
	require.Len(t, first, 4096)

	first[10] = 0xAB
	require.Equal(t, byte(0xAB), backing[10])
	require.Equal(t, byte(0xAB), second[10])

	resource.Unmap()
	memory.EXPECT().Unmap()
	resource.Unmap()
	require.Panics(t, resource.Unmap)

	buffer.EXPECT().Destroy(gomock.Nil())
	memory.EXPECT().Free(gomock.Nil())
	resource.Release()
	require.Panics(t, resource.Release)
}

func TestCreateBufferChainsMemoryPriority(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, factory := readyFactory(t, ctrl, true)

	buffer := coremocks.NewMockBuffer(ctrl)
	memory := coremocks.NewMockDeviceMemory(ctrl)

	device.EXPECT().CreateBuffer(gomock.Nil(), gomock.Any()).Return(buffer, core1_0.VKSuccess, nil)
	buffer.EXPECT().MemoryRequirements().Return(&core1_0.MemoryRequirements{
		Size:           65536,
		Alignment:      65536,
		MemoryTypeBits: 0b111,
	})
	device.EXPECT().AllocateMemory(gomock.Nil(), core1_0.MemoryAllocateInfo{
		AllocationSize:  65536,
		MemoryTypeIndex: 0,
		NextOptions: common.NextOptions{
			Next: ext_memory_priority.MemoryPriorityAllocateInfo{
				Priority: 0.5,
			},
		},
	}).Return(memory, core1_0.VKSuccess, nil)
	buffer.EXPECT().BindBufferMemory(memory, 0).Return(core1_0.VKSuccess, nil)

	resource, err := factory.CreateCommittedResource(gpu.HeapDefault, gpu.BufferDesc(65536, gpu.ResourceFlagNone), gpu.ResourceStateCopyDest)
	require.NoError(t, err)

	_, err = resource.Map()
	require.Error(t, err)
}

func TestCreateBufferFreesMemoryWhenBindFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, factory := readyFactory(t, ctrl, false)

	buffer := coremocks.NewMockBuffer(ctrl)
	memory := coremocks.NewMockDeviceMemory(ctrl)

	device.EXPECT().CreateBuffer(gomock.Nil(), gomock.Any()).Return(buffer, core1_0.VKSuccess, nil)
	buffer.EXPECT().MemoryRequirements().Return(&core1_0.MemoryRequirements{Size: 256, Alignment: 256, MemoryTypeBits: 0b1})
	device.EXPECT().AllocateMemory(gomock.Nil(), gomock.Any()).Return(memory, core1_0.VKSuccess, nil)
	buffer.EXPECT().BindBufferMemory(memory, 0).Return(core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())
	buffer.EXPECT().Destroy(gomock.Nil())
	memory.EXPECT().Free(gomock.Nil())

	_, err := factory.CreateCommittedResource(gpu.HeapDefault, gpu.BufferDesc(256, gpu.ResourceFlagNone), gpu.ResourceStateCopyDest)
	require.Error(t, err)
}

func TestCreateCubeTexture(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, factory := readyFactory(t, ctrl, false)

	image := coremocks.NewMockImage(ctrl)
	memory := coremocks.NewMockDeviceMemory(ctrl)

	desc := gpu.Texture2DDesc(gpu.FormatBC1UNorm, 64, 64, 6, 7, gpu.ResourceFlagNone)
	desc.Cube = true

	device.EXPECT().CreateImage(gomock.Nil(), core1_0.ImageCreateInfo{
		Flags:         core1_0.ImageCreateCubeCompatible,
		ImageType:     core1_0.ImageType2D,
		Format:        core1_0.Format(133),
		Extent:        core1_0.Extent3D{Width: 64, Height: 64, Depth: 1},
		MipLevels:     7,
		ArrayLayers:   6,
		Samples:       core1_0.Samples1,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	}).Return(image, core1_0.VKSuccess, nil)
	image.EXPECT().MemoryRequirements().Return(&core1_0.MemoryRequirements{Size: 32768, Alignment: 4096, MemoryTypeBits: 0b1})
	device.EXPECT().AllocateMemory(gomock.Nil(), core1_0.MemoryAllocateInfo{
		AllocationSize:  32768,
		MemoryTypeIndex: 0,
	}).Return(memory, core1_0.VKSuccess, nil)
	image.EXPECT().BindImageMemory(memory, 0).Return(core1_0.VKSuccess, nil)

	resource, err := factory.CreateCommittedResource(gpu.HeapDefault, desc, gpu.ResourceStateCopyDest)
	require.NoError(t, err)
	require.Zero(t, resource.GPUVirtualAddress())

	heap, err := factory.CreateDescriptorHeap(gpu.DescriptorHeapDesc{Type: gpu.DescriptorHeapTypeCBVSRVUAV, NumDescriptors: 4, ShaderVisible: true})
	require.NoError(t, err)

	dest := heap.CPUDescriptorHandleForHeapStart().Offset(1, factory.DescriptorHandleIncrementSize(gpu.DescriptorHeapTypeCBVSRVUAV))
	require.NoError(t, factory.CreateShaderResourceView(resource, nil, dest))

	descriptor, err := factory.Descriptor(dest)
	require.NoError(t, err)
	require.Equal(t, gpu.SRVDimensionTextureCube, descriptor.ShaderResourceView.ViewDimension)
	require.Equal(t, 7, descriptor.ShaderResourceView.MipLevels)

	image.EXPECT().Destroy(gomock.Nil())
	memory.EXPECT().Free(gomock.Nil())
	resource.Release()
	heap.Release()
}

func TestCubeTextureRequiresSixFaces(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, factory := readyFactory(t, ctrl, false)

	desc := gpu.Texture2DDesc(gpu.FormatR8G8B8A8UNorm, 16, 16, 4, 1, gpu.ResourceFlagNone)
	desc.Cube = true

	_, err := factory.CreateCommittedResource(gpu.HeapDefault, desc, gpu.ResourceStateCopyDest)
	require.Error(t, err)
}
