package pager

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/gpu/soft"
	"github.com/vkngwrapper/kiln/internal/mocks"
	"github.com/vkngwrapper/kiln/memutils"
	"go.uber.org/mock/gomock"
)

const kb = 1024

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func readyBufferAllocator(t *testing.T, options CreateOptions) (*soft.Device, *soft.Fence, *Timeline, *BufferAllocator) {
	device := soft.NewDevice(testLogger())
	fence := soft.NewFence(0)
	timeline := NewTimeline(fence)
	timeline.SetPending(1)

	allocator := NewBufferAllocator(testLogger(), device, timeline, options)
	t.Cleanup(func() {
		require.NoError(t, allocator.Validate())
		allocator.Destroy()
		require.Equal(t, 0, device.LiveResources())
	})

	return device, fence, timeline, allocator
}

func TestBufferAllocationsFillPagesInOrder(t *testing.T) {
	device, _, _, allocator := readyBufferAllocator(t, CreateOptions{})

	first, err := allocator.Allocate(BufferUpload, 800*kb, 64*kb)
	require.NoError(t, err)
	require.Equal(t, 0, first.Offset)
	require.Equal(t, 1, allocator.UsedCount(BufferUpload))

	second, err := allocator.Allocate(BufferUpload, 800*kb, 64*kb)
	require.NoError(t, err)
	require.Equal(t, 13*64*kb, second.Offset)
	require.Equal(t, first.Page, second.Page)
	require.Equal(t, 1, allocator.UsedCount(BufferUpload))

	third, err := allocator.Allocate(BufferUpload, 800*kb, 64*kb)
	require.NoError(t, err)
	require.Equal(t, 0, third.Offset)
	require.NotEqual(t, first.Page, third.Page)
	require.Equal(t, 2, allocator.UsedCount(BufferUpload))
	require.Equal(t, 2, device.LiveResources())

	require.Len(t, first.CPU, 800*kb)
	require.Equal(t, first.GPUAddress+gpu.GPUVirtualAddress(13*64*kb), second.GPUAddress)
	require.Zero(t, uint64(third.GPUAddress)%(64*kb))
}

func TestBufferAllocationRejectsBadRequests(t *testing.T) {
	_, _, _, allocator := readyBufferAllocator(t, CreateOptions{})

	_, err := allocator.Allocate(BufferDefault, 3*1024*kb, 256)
	require.True(t, errors.Is(err, ErrExceedsPageCapacity))

	_, err = allocator.Allocate(BufferDefault, 0, 256)
	require.Error(t, err)

	_, err = allocator.Allocate(BufferDefault, 256, 3)
	require.Error(t, err)

	_, err = allocator.Allocate(BufferCategory(99), 256, 256)
	require.True(t, errors.Is(err, ErrUnknownCategory))

	require.Equal(t, 0, allocator.UsedCount(BufferDefault))
}

func TestDedicatedBufferPages(t *testing.T) {
	device, _, _, allocator := readyBufferAllocator(t, CreateOptions{})

	first, err := allocator.Allocate(BufferUnorderedAccess, 3*1024*kb, 256)
	require.NoError(t, err)
	second, err := allocator.Allocate(BufferUnorderedAccess, 4*kb, 256)
	require.NoError(t, err)

	require.NotEqual(t, first.Page, second.Page)
	require.Equal(t, 2, allocator.UsedCount(BufferUnorderedAccess))
	require.Equal(t, 2, device.LiveResources())
	require.Nil(t, first.CPU)

	resource, err := allocator.Resource(first)
	require.NoError(t, err)
	require.GreaterOrEqual(t, resource.Desc().Width, 3*1024*kb)
	require.NotZero(t, resource.Desc().Flags&gpu.ResourceFlagAllowUnorderedAccess)
}

func TestRecycledPagesWaitForTheFence(t *testing.T) {
	_, fence, timeline, allocator := readyBufferAllocator(t, CreateOptions{})

	old, err := allocator.Allocate(BufferUpload, 4*kb, 256)
	require.NoError(t, err)
	oldResource, err := allocator.Resource(old)
	require.NoError(t, err)

	allocator.Recycle(BufferUpload)
	require.False(t, allocator.HasCurrent(BufferUpload))
	require.Equal(t, 0, allocator.UsedCount(BufferUpload))
	require.Equal(t, 1, allocator.EmptyCount(BufferUpload))

	// The GPU has not reached value 1, so a fresh page is created
	require.NoError(t, allocator.SetNewPageAsCurrent(BufferUpload))
	require.Equal(t, 1, allocator.UsedCount(BufferUpload))
	require.Equal(t, 1, allocator.EmptyCount(BufferUpload))

	_, err = allocator.Allocate(BufferUpload, 4*kb, 256)
	require.NoError(t, err)
	require.Equal(t, 4*kb, allocator.CurrentOffset(BufferUpload))

	timeline.SetPending(2)
	allocator.Recycle(BufferUpload)
	require.Equal(t, 2, allocator.EmptyCount(BufferUpload))

	require.NoError(t, fence.Signal(1))
	require.NoError(t, allocator.SetNewPageAsCurrent(BufferUpload))
	require.Equal(t, 0, allocator.CurrentOffset(BufferUpload))
	require.Equal(t, 1, allocator.EmptyCount(BufferUpload))

	reused, err := allocator.Allocate(BufferUpload, 4*kb, 256)
	require.NoError(t, err)
	require.Equal(t, 0, reused.Offset)
	require.Equal(t, old.Page.Index, reused.Page.Index)
	require.NotEqual(t, old.Page.Generation, reused.Page.Generation)

	reusedResource, err := allocator.Resource(reused)
	require.NoError(t, err)
	require.Same(t, oldResource, reusedResource)

	_, err = allocator.Resource(old)
	require.True(t, errors.Is(err, ErrStaleAllocation))
}

func TestRecycleConsultsFenceThroughTimeline(t *testing.T) {
	ctrl := gomock.NewController(t)
	fence := mocks.NewMockFence(ctrl)

	device := soft.NewDevice(testLogger())
	timeline := NewTimeline(fence)
	timeline.SetPending(7)
	allocator := NewDescriptorAllocator(testLogger(), device, timeline, CreateOptions{})
	defer allocator.Destroy()

	category := DescriptorCategory{HeapType: gpu.DescriptorHeapTypeSampler, ShaderVisible: true}

	_, err := allocator.Allocate(category, 4)
	require.NoError(t, err)
	allocator.Recycle(category)

	fence.EXPECT().CompletedValue().Return(uint64(6))
	require.NoError(t, allocator.SetNewPageAsCurrent(category))
	require.Equal(t, 1, allocator.EmptyCount(category))

	allocator.Recycle(category)
	require.Equal(t, 2, allocator.EmptyCount(category))

	fence.EXPECT().CompletedValue().Return(uint64(7))
	require.NoError(t, allocator.SetNewPageAsCurrent(category))
	require.Equal(t, 1, allocator.EmptyCount(category))
	require.Equal(t, 1, allocator.UsedCount(category))
}

func TestSteadyStateRotation(t *testing.T) {
	device, fence, timeline, allocator := readyBufferAllocator(t, CreateOptions{})
	const framesInFlight = 2

	for frame := uint64(1); frame <= 10; frame++ {
		timeline.SetPending(frame)
		if frame > framesInFlight {
			require.NoError(t, fence.Signal(frame-framesInFlight))
		}

		alloc, err := allocator.Allocate(BufferUpload, 64*kb, 256)
		require.NoError(t, err)
		require.Equal(t, 0, alloc.Offset)

		allocator.Recycle(BufferUpload)
		require.NoError(t, allocator.Validate())
	}

	require.Equal(t, framesInFlight, device.LiveResources())
	require.Equal(t, framesInFlight, allocator.EmptyCount(BufferUpload))
}

func TestTemporaryPagesReleaseTogether(t *testing.T) {
	_, fence, timeline, allocator := readyBufferAllocator(t, CreateOptions{})

	timeline.SetPending(4)
	first, err := allocator.AllocateTemporary(3*1024*kb, 512)
	require.NoError(t, err)
	require.Len(t, first.CPU, 3*1024*kb)

	timeline.SetPending(5)
	_, err = allocator.AllocateTemporary(16*kb, 512)
	require.NoError(t, err)
	require.Equal(t, 2, allocator.TemporaryCount())

	require.NoError(t, fence.Signal(4))
	err = allocator.ReleaseTemporary()
	require.True(t, errors.Is(err, ErrPageInFlight))
	require.Equal(t, 2, allocator.TemporaryCount())

	_, err = allocator.Resource(first)
	require.NoError(t, err)

	require.NoError(t, fence.Signal(5))
	require.NoError(t, allocator.ReleaseTemporary())
	require.Equal(t, 0, allocator.TemporaryCount())

	_, err = allocator.Resource(first)
	require.True(t, errors.Is(err, ErrStaleAllocation))
}

func TestPagesWaitForAFenceToBeAttached(t *testing.T) {
	device := soft.NewDevice(testLogger())
	timeline := NewTimeline(nil)
	allocator := NewBufferAllocator(testLogger(), device, timeline, CreateOptions{})
	defer func() {
		allocator.Destroy()
		require.Equal(t, 0, device.LiveResources())
	}()

	require.False(t, timeline.Completed(0))

	upload, err := allocator.AllocateTemporary(16*kb, 512)
	require.NoError(t, err)

	err = allocator.ReleaseTemporary()
	require.True(t, errors.Is(err, ErrPageInFlight))
	require.Equal(t, 1, allocator.TemporaryCount())

	_, err = allocator.Resource(upload)
	require.NoError(t, err)

	// A page retired before the fence exists is not reused
	_, err = allocator.Allocate(BufferUpload, 4*kb, 256)
	require.NoError(t, err)
	allocator.Recycle(BufferUpload)
	require.NoError(t, allocator.SetNewPageAsCurrent(BufferUpload))
	require.Equal(t, 1, allocator.EmptyCount(BufferUpload))
	require.Equal(t, 1, allocator.UsedCount(BufferUpload))

	timeline.Attach(soft.NewFence(0))
	require.True(t, timeline.Completed(0))
	require.NoError(t, allocator.ReleaseTemporary())
	require.Equal(t, 0, allocator.TemporaryCount())
}

func TestCopyBarriersAccumulateReadStates(t *testing.T) {
	device, _, _, allocator := readyBufferAllocator(t, CreateOptions{})

	queue, err := device.CreateCommandQueue()
	require.NoError(t, err)
	defer queue.Release()
	commandAllocator, err := device.CreateCommandAllocator()
	require.NoError(t, err)
	cl, err := device.CreateCommandList(commandAllocator)
	require.NoError(t, err)

	vertices, err := allocator.Allocate(BufferDefault, 1*kb, 256)
	require.NoError(t, err)
	indices, err := allocator.Allocate(BufferDefault, 1*kb, 256)
	require.NoError(t, err)
	require.Equal(t, vertices.Page, indices.Page)

	require.NoError(t, allocator.BeginCopy(cl, vertices))
	require.NoError(t, allocator.EndCopy(cl, vertices, gpu.ResourceStateVertexAndConstantBuffer))
	require.NoError(t, allocator.BeginCopy(cl, indices))
	require.NoError(t, allocator.EndCopy(cl, indices, gpu.ResourceStateIndexBuffer))

	require.NoError(t, cl.Close())
	require.NoError(t, queue.ExecuteCommandLists(cl))
	queue.(*soft.Queue).WaitIdle()
	require.NoError(t, queue.(*soft.Queue).Err())

	resource, err := allocator.Resource(vertices)
	require.NoError(t, err)
	require.Equal(t, gpu.ResourceStateVertexAndConstantBuffer|gpu.ResourceStateIndexBuffer, resource.(*soft.Resource).State(0))

	upload, err := allocator.Allocate(BufferUpload, 1*kb, 256)
	require.NoError(t, err)
	require.Error(t, allocator.Transition(cl, upload, gpu.ResourceStateCopyDest))
}

func TestDescriptorAllocations(t *testing.T) {
	device := soft.NewDevice(testLogger())
	timeline := NewTimeline(soft.NewFence(0))
	allocator := NewDescriptorAllocator(testLogger(), device, timeline, CreateOptions{
		DescriptorHeapSizes: map[gpu.DescriptorHeapType]int{gpu.DescriptorHeapTypeSampler: 8},
	})
	defer allocator.Destroy()

	visible := DescriptorCategory{HeapType: gpu.DescriptorHeapTypeCBVSRVUAV, ShaderVisible: true}
	increment := device.DescriptorHandleIncrementSize(gpu.DescriptorHeapTypeCBVSRVUAV)

	first, err := allocator.Allocate(visible, 4)
	require.NoError(t, err)
	second, err := allocator.Allocate(visible, 2)
	require.NoError(t, err)

	require.Equal(t, 0, first.Offset)
	require.Equal(t, 4, second.Offset)
	require.Equal(t, increment, second.IncrementSize)
	require.Equal(t, first.CPUHandle.Ptr+uint64(4*increment), second.CPUHandle.Ptr)
	require.False(t, second.GPUHandle.IsNull())
	require.Equal(t, first.GPUHandle.Ptr+uint64(4*increment), second.GPUHandle.Ptr)
	require.Equal(t, first.CPUHandleAt(5), second.CPUHandleAt(1))

	heap, err := allocator.Heap(first)
	require.NoError(t, err)
	require.Same(t, heap, allocator.CurrentHeap(visible))
	require.Equal(t, 1024, heap.Desc().NumDescriptors)

	rtv, err := allocator.Allocate(DescriptorCategory{HeapType: gpu.DescriptorHeapTypeRTV}, 1)
	require.NoError(t, err)
	require.True(t, rtv.GPUHandle.IsNull())
	require.True(t, rtv.GPUHandleAt(0).IsNull())

	_, err = allocator.Allocate(DescriptorCategory{HeapType: gpu.DescriptorHeapTypeRTV, ShaderVisible: true}, 1)
	require.True(t, errors.Is(err, ErrUnknownCategory))

	samplers := DescriptorCategory{HeapType: gpu.DescriptorHeapTypeSampler}
	_, err = allocator.Allocate(samplers, 6)
	require.NoError(t, err)
	overflow, err := allocator.Allocate(samplers, 4)
	require.NoError(t, err)
	require.Equal(t, 0, overflow.Offset)
	require.Equal(t, 2, allocator.UsedCount(samplers))

	_, err = allocator.Allocate(samplers, 9)
	require.True(t, errors.Is(err, ErrExceedsPageCapacity))

	require.NoError(t, allocator.Validate())
}

func TestDescriptorPagesFillEverySlot(t *testing.T) {
	device := soft.NewDevice(testLogger())
	timeline := NewTimeline(soft.NewFence(0))
	allocator := NewDescriptorAllocator(testLogger(), device, timeline, CreateOptions{
		DescriptorHeapSizes: map[gpu.DescriptorHeapType]int{gpu.DescriptorHeapTypeSampler: 8},
	})
	defer allocator.Destroy()

	samplers := DescriptorCategory{HeapType: gpu.DescriptorHeapTypeSampler}
	for slot := 0; slot < 8; slot++ {
		alloc, err := allocator.Allocate(samplers, 1)
		require.NoError(t, err)
		require.Equal(t, slot, alloc.Offset)
	}
	require.Equal(t, 1, allocator.UsedCount(samplers))

	full, err := allocator.Allocate(samplers, 8)
	require.NoError(t, err)
	require.Equal(t, 0, full.Offset)
	require.Equal(t, 2, allocator.UsedCount(samplers))
	require.NoError(t, allocator.Validate())
}

func TestPageSizedBufferRequests(t *testing.T) {
	device, _, _, allocator := readyBufferAllocator(t, CreateOptions{BufferPageSize: 64 * kb})

	whole, err := allocator.Allocate(BufferDefault, 64*kb, 256)
	require.NoError(t, err)
	require.Equal(t, 0, whole.Offset)

	_, err = allocator.Allocate(BufferUpload, 64*kb, 256)
	if memutils.DebugMargin == 0 {
		require.NoError(t, err)
		require.Equal(t, 1, allocator.UsedCount(BufferUpload))
	} else {
		require.True(t, errors.Is(err, ErrExceedsPageCapacity))
		require.Equal(t, 0, allocator.UsedCount(BufferUpload))
		require.Equal(t, 1, device.LiveResources())
	}

	fits, err := allocator.Allocate(BufferFrame, 64*kb-memutils.DebugMargin, 256)
	require.NoError(t, err)
	require.Len(t, fits.CPU, 64*kb-memutils.DebugMargin)
	require.NoError(t, allocator.CheckCorruption())
}

func TestTexturesAreReusedByDescription(t *testing.T) {
	device := soft.NewDevice(testLogger())
	fence := soft.NewFence(0)
	timeline := NewTimeline(fence)
	timeline.SetPending(1)
	allocator := NewTextureAllocator(testLogger(), device, timeline, CreateOptions{})

	desc := gpu.Texture2DDesc(gpu.FormatR8G8B8A8UNorm, 64, 64, 1, 7, gpu.ResourceFlagNone)
	first, err := allocator.Allocate(desc)
	require.NoError(t, err)
	firstResource, err := allocator.Resource(first)
	require.NoError(t, err)

	allocator.Recycle(first.Category)
	require.NoError(t, fence.Signal(1))

	second, err := allocator.Allocate(desc)
	require.NoError(t, err)
	secondResource, err := allocator.Resource(second)
	require.NoError(t, err)
	require.Same(t, firstResource, secondResource)
	require.Equal(t, 1, device.LiveResources())

	other := gpu.Texture2DDesc(gpu.FormatR8G8B8A8UNorm, 32, 32, 1, 6, gpu.ResourceFlagNone)
	third, err := allocator.Allocate(other)
	require.NoError(t, err)
	require.NotEqual(t, second.Category, third.Category)
	require.Equal(t, 2, device.LiveResources())
	require.Len(t, allocator.Categories(), 2)

	_, err = allocator.Allocate(gpu.BufferDesc(256, gpu.ResourceFlagNone))
	require.True(t, errors.Is(err, ErrUnknownCategory))

	require.NoError(t, allocator.Validate())
	allocator.Destroy()
	require.Equal(t, 0, device.LiveResources())
	require.Panics(t, allocator.Destroy)
}

func TestBuildStatsString(t *testing.T) {
	_, _, _, allocator := readyBufferAllocator(t, CreateOptions{BufferPageSize: 64 * kb})

	_, err := allocator.Allocate(BufferUpload, 40*kb, 256)
	require.NoError(t, err)
	_, err = allocator.Allocate(BufferUpload, 40*kb, 256)
	require.NoError(t, err)
	allocator.Recycle(BufferUpload)
	_, err = allocator.Allocate(BufferDefault, 1*kb, 256)
	require.NoError(t, err)

	stats := allocator.CalculateStatistics()
	require.Equal(t, "buffer", stats.Kind)
	require.Equal(t, 3, stats.Total.PageCount)

	for _, detailed := range []bool{false, true} {
		str := allocator.BuildStatsString(detailed)
		require.True(t, json.Valid([]byte(str)), str)

		var parsed map[string]any
		require.NoError(t, json.Unmarshal([]byte(str), &parsed))
		categories := parsed["Categories"].(map[string]any)
		require.Contains(t, categories, BufferUpload.String())
		require.Contains(t, categories, BufferDefault.String())

		upload := categories[BufferUpload.String()].(map[string]any)
		require.EqualValues(t, 2, upload["EmptyPages"])
		_, hasPages := upload["Pages"]
		require.Equal(t, detailed, hasPages)
	}
}
