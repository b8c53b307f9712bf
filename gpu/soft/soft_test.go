package soft_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/gpu/soft"
)

func readyDevice(t *testing.T) (*soft.Device, *soft.Queue) {
	device := soft.NewDevice(slog.New(slog.NewJSONHandler(io.Discard, nil)))

	queue, err := device.CreateCommandQueue()
	require.NoError(t, err)
	t.Cleanup(queue.Release)

	return device, queue.(*soft.Queue)
}

func readyCommandList(t *testing.T, device *soft.Device) (*soft.CommandAllocator, *soft.CommandList) {
	allocator, err := device.CreateCommandAllocator()
	require.NoError(t, err)

	list, err := device.CreateCommandList(allocator)
	require.NoError(t, err)

	return allocator.(*soft.CommandAllocator), list.(*soft.CommandList)
}

func TestBufferAddressesArePlacementAligned(t *testing.T) {
	device, _ := readyDevice(t)

	first, err := device.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(100, gpu.ResourceFlagNone), gpu.ResourceStateGenericRead)
	require.NoError(t, err)
	second, err := device.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(100, gpu.ResourceFlagNone), gpu.ResourceStateGenericRead)
	require.NoError(t, err)

	require.NotZero(t, first.GPUVirtualAddress())
	require.Zero(t, uint64(first.GPUVirtualAddress())%(64*1024))
	require.Zero(t, uint64(second.GPUVirtualAddress())%(64*1024))
	require.Greater(t, second.GPUVirtualAddress(), first.GPUVirtualAddress())
	require.Equal(t, 2, device.LiveResources())

	first.Release()
	second.Release()
	require.Equal(t, 0, device.LiveResources())
	require.Panics(t, first.Release)
}

func TestDefaultHeapCannotBeMapped(t *testing.T) {
	device, _ := readyDevice(t)

	buffer, err := device.CreateCommittedResource(gpu.HeapDefault, gpu.BufferDesc(256, gpu.ResourceFlagNone), gpu.ResourceStateCommon)
	require.NoError(t, err)

	_, err = buffer.Map()
	require.Error(t, err)
}

func TestFailNextResources(t *testing.T) {
	device, _ := readyDevice(t)
	device.FailNextResources(1)

	_, err := device.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(256, gpu.ResourceFlagNone), gpu.ResourceStateGenericRead)
	require.Error(t, err)

	_, err = device.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(256, gpu.ResourceFlagNone), gpu.ResourceStateGenericRead)
	require.NoError(t, err)
}

func TestCopyBufferRegion(t *testing.T) {
	device, queue := readyDevice(t)
	_, list := readyCommandList(t, device)

	upload, err := device.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(64, gpu.ResourceFlagNone), gpu.ResourceStateGenericRead)
	require.NoError(t, err)
	target, err := device.CreateCommittedResource(gpu.HeapDefault, gpu.BufferDesc(64, gpu.ResourceFlagNone), gpu.ResourceStateCopyDest)
	require.NoError(t, err)

	mapped, err := upload.Map()
	require.NoError(t, err)
	copy(mapped[8:], []byte{1, 2, 3, 4})

	list.CopyBufferRegion(target, 16, upload, 8, 4)
	list.ResourceBarrier(gpu.TransitionBarrier(target, gpu.ResourceStateCopyDest, gpu.ResourceStateVertexAndConstantBuffer))
	require.NoError(t, list.Close())
	require.NoError(t, queue.ExecuteCommandLists(list))
	queue.WaitIdle()

	require.NoError(t, queue.Err())
	require.Equal(t, []byte{1, 2, 3, 4}, target.(*soft.Resource).Contents()[16:20])
	require.Equal(t, gpu.ResourceStateVertexAndConstantBuffer, target.(*soft.Resource).State(0))
}

func TestCopyBufferRegionOutOfBounds(t *testing.T) {
	device, _ := readyDevice(t)
	_, list := readyCommandList(t, device)

	upload, err := device.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(64, gpu.ResourceFlagNone), gpu.ResourceStateGenericRead)
	require.NoError(t, err)

	list.CopyBufferRegion(upload, 60, upload, 0, 8)
	require.Error(t, list.Close())
}

func TestBarrierStateMismatchFailsOnQueue(t *testing.T) {
	device, queue := readyDevice(t)
	_, list := readyCommandList(t, device)

	buffer, err := device.CreateCommittedResource(gpu.HeapDefault, gpu.BufferDesc(64, gpu.ResourceFlagNone), gpu.ResourceStateCommon)
	require.NoError(t, err)

	list.ResourceBarrier(gpu.TransitionBarrier(buffer, gpu.ResourceStateCopyDest, gpu.ResourceStateGenericRead))
	require.NoError(t, list.Close())
	require.NoError(t, queue.ExecuteCommandLists(list))
	queue.WaitIdle()

	require.Error(t, queue.Err())
}

func TestPausedQueueHoldsFence(t *testing.T) {
	device, queue := readyDevice(t)
	allocator, list := readyCommandList(t, device)

	fence, err := device.CreateFence(0)
	require.NoError(t, err)

	queue.Pause()
	require.NoError(t, list.Close())
	require.NoError(t, queue.ExecuteCommandLists(list))
	require.NoError(t, queue.Signal(fence, 3))

	require.Equal(t, uint64(0), fence.CompletedValue())
	require.ErrorIs(t, allocator.Reset(), soft.ErrAllocatorInUse)

	queue.Resume()
	require.NoError(t, fence.Wait(3))
	require.Equal(t, uint64(3), fence.CompletedValue())
	require.NoError(t, allocator.Reset())
	require.Equal(t, 1, allocator.ResetCount())
}

func TestCommandListLifecycle(t *testing.T) {
	device, _ := readyDevice(t)
	allocator, list := readyCommandList(t, device)

	require.Error(t, list.Reset(allocator))
	require.NoError(t, list.Close())
	require.Error(t, list.Close())
	require.NoError(t, list.Reset(allocator))
	require.Zero(t, list.CommandCount())
}

func TestTextureUploadThroughFootprints(t *testing.T) {
	device, queue := readyDevice(t)
	_, list := readyCommandList(t, device)

	desc := gpu.Texture2DDesc(gpu.FormatR8G8B8A8UNorm, 4, 2, 1, 1, gpu.ResourceFlagNone)
	texture, err := device.CreateCommittedResource(gpu.HeapDefault, desc, gpu.ResourceStateCopyDest)
	require.NoError(t, err)

	footprints, err := gpu.GetCopyableFootprints(desc, 0, 1, 0)
	require.NoError(t, err)
	require.Equal(t, 512, footprints.TotalBytes)

	upload, err := device.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(footprints.TotalBytes, gpu.ResourceFlagNone), gpu.ResourceStateGenericRead)
	require.NoError(t, err)
	mapped, err := upload.Map()
	require.NoError(t, err)

	pixels := make([]byte, 32)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	copy(mapped[0:16], pixels[0:16])
	copy(mapped[256:272], pixels[16:32])

	list.CopyTextureRegion(
		gpu.TextureCopyLocation{Resource: texture, SubresourceIndex: 0},
		gpu.TextureCopyLocation{Resource: upload, PlacedFootprint: &footprints.Layouts[0]},
	)
	require.NoError(t, list.Close())
	require.NoError(t, queue.ExecuteCommandLists(list))
	queue.WaitIdle()
	require.NoError(t, queue.Err())

	contents, err := texture.(*soft.Resource).ReadSubresource(0)
	require.NoError(t, err)
	require.Equal(t, pixels, contents)
}

func TestSwapChainClearAndPresent(t *testing.T) {
	device, queue := readyDevice(t)
	_, list := readyCommandList(t, device)

	swapChain, err := device.CreateSwapChain(queue, gpu.SwapChainDesc{
		Width:       2,
		Height:      2,
		Format:      gpu.FormatR8G8B8A8UNorm,
		BufferCount: 2,
	})
	require.NoError(t, err)
	defer swapChain.Release()

	rtvHeap, err := device.CreateDescriptorHeap(gpu.DescriptorHeapDesc{Type: gpu.DescriptorHeapTypeRTV, NumDescriptors: 2})
	require.NoError(t, err)

	backBuffer, err := swapChain.Buffer(swapChain.CurrentBackBufferIndex())
	require.NoError(t, err)
	rtv := rtvHeap.CPUDescriptorHandleForHeapStart()
	require.NoError(t, device.CreateRenderTargetView(backBuffer, nil, rtv))

	descriptor, err := device.Descriptor(rtv)
	require.NoError(t, err)
	require.Equal(t, soft.DescriptorKindRenderTargetView, descriptor.Kind)

	list.ResourceBarrier(gpu.TransitionBarrier(backBuffer, gpu.ResourceStatePresent, gpu.ResourceStateRenderTarget))
	list.ClearRenderTargetView(rtv, [4]float32{1, 0, 0, 1})
	list.ResourceBarrier(gpu.TransitionBarrier(backBuffer, gpu.ResourceStateRenderTarget, gpu.ResourceStatePresent))
	require.NoError(t, list.Close())
	require.NoError(t, queue.ExecuteCommandLists(list))
	require.NoError(t, swapChain.Present(1))
	require.Equal(t, 1, swapChain.CurrentBackBufferIndex())

	queue.WaitIdle()
	require.NoError(t, queue.Err())
	require.Equal(t, 1, swapChain.(*soft.SwapChain).PresentCount())

	contents, err := backBuffer.(*soft.Resource).ReadSubresource(0)
	require.NoError(t, err)
	require.Equal(t, []byte{255, 0, 0, 255}, contents[0:4])
	require.Equal(t, []byte{255, 0, 0, 255}, contents[12:16])
}

func TestPresentOutsidePresentStateFails(t *testing.T) {
	device, queue := readyDevice(t)
	_, list := readyCommandList(t, device)

	swapChain, err := device.CreateSwapChain(queue, gpu.SwapChainDesc{Width: 1, Height: 1, Format: gpu.FormatR8G8B8A8UNorm, BufferCount: 2})
	require.NoError(t, err)

	backBuffer, err := swapChain.Buffer(0)
	require.NoError(t, err)

	list.ResourceBarrier(gpu.TransitionBarrier(backBuffer, gpu.ResourceStatePresent, gpu.ResourceStateRenderTarget))
	require.NoError(t, list.Close())
	require.NoError(t, queue.ExecuteCommandLists(list))
	require.NoError(t, swapChain.Present(1))
	queue.WaitIdle()

	require.Error(t, queue.Err())
}

func TestShaderResourceViewDefaults(t *testing.T) {
	device, _ := readyDevice(t)

	heap, err := device.CreateDescriptorHeap(gpu.DescriptorHeapDesc{Type: gpu.DescriptorHeapTypeCBVSRVUAV, NumDescriptors: 1, ShaderVisible: true})
	require.NoError(t, err)

	desc := gpu.Texture2DDesc(gpu.FormatBC1UNorm, 16, 16, 6, 5, gpu.ResourceFlagNone)
	desc.Cube = true
	texture, err := device.CreateCommittedResource(gpu.HeapDefault, desc, gpu.ResourceStateCopyDest)
	require.NoError(t, err)

	require.NoError(t, device.CreateShaderResourceView(texture, nil, heap.CPUDescriptorHandleForHeapStart()))

	descriptor, err := device.ShaderVisibleDescriptor(heap.GPUDescriptorHandleForHeapStart())
	require.NoError(t, err)
	require.Equal(t, gpu.SRVDimensionTextureCube, descriptor.ShaderResourceView.ViewDimension)
	require.Equal(t, 5, descriptor.ShaderResourceView.MipLevels)
	require.Equal(t, gpu.FormatBC1UNorm, descriptor.ShaderResourceView.Format)

	buffer, err := device.CreateCommittedResource(gpu.HeapDefault, gpu.BufferDesc(256, gpu.ResourceFlagNone), gpu.ResourceStateCommon)
	require.NoError(t, err)
	require.Error(t, device.CreateShaderResourceView(buffer, nil, heap.CPUDescriptorHandleForHeapStart()))
}

func TestConstantBufferViewAlignment(t *testing.T) {
	device, _ := readyDevice(t)

	heap, err := device.CreateDescriptorHeap(gpu.DescriptorHeapDesc{Type: gpu.DescriptorHeapTypeCBVSRVUAV, NumDescriptors: 1})
	require.NoError(t, err)

	dest := heap.CPUDescriptorHandleForHeapStart()
	require.Error(t, device.CreateConstantBufferView(gpu.ConstantBufferViewDesc{BufferLocation: 0x10000, SizeInBytes: 100}, dest))
	require.Error(t, device.CreateConstantBufferView(gpu.ConstantBufferViewDesc{BufferLocation: 0x10010, SizeInBytes: 256}, dest))
	require.NoError(t, device.CreateConstantBufferView(gpu.ConstantBufferViewDesc{BufferLocation: 0x10100, SizeInBytes: 512}, dest))
}
