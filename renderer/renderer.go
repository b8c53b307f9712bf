// Package renderer drives frame submission over a swap chain. Each swap chain buffer has its own
// command allocator and fence value, and a buffer is only recorded into again once the GPU has
// passed the fence value of the frame that last used it.
package renderer

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/pager"
)

type FrameRenderer struct {
	logger   *slog.Logger
	device   gpu.Device
	options  Options
	timeline *pager.Timeline

	queue      gpu.CommandQueue
	swapChain  gpu.SwapChain
	allocators []gpu.CommandAllocator
	list       gpu.CommandList
	rtvs       pager.DescriptorAllocation
	fence      gpu.Fence

	fenceValues []uint64
	current     int
	recyclers   []Recycler
	closed      bool
}

// New creates the queue, swap chain, per-buffer command allocators, render target views and
// frame fence. The fence is attached to timeline, which allocators share to decide when retired
// pages can be reused. Recyclers are called after every submitted frame.
func New(logger *slog.Logger, device gpu.Device, descriptors *pager.DescriptorAllocator, timeline *pager.Timeline, options Options, recyclers ...Recycler) (*FrameRenderer, error) {
	options, err := options.withDefaults()
	if err != nil {
		return nil, err
	}

	r := &FrameRenderer{
		logger:      logger,
		device:      device,
		options:     options,
		timeline:    timeline,
		fenceValues: make([]uint64, options.BufferCount),
		recyclers:   recyclers,
	}

	err = r.initialize(descriptors)
	if err != nil {
		r.release()
		return nil, err
	}

	return r, nil
}

func (r *FrameRenderer) initialize(descriptors *pager.DescriptorAllocator) error {
	var err error
	r.queue, err = r.device.CreateCommandQueue()
	if err != nil {
		return errors.Wrap(err, "failed to create command queue")
	}

	r.swapChain, err = r.device.CreateSwapChain(r.queue, gpu.SwapChainDesc{
		Width:       r.options.Width,
		Height:      r.options.Height,
		Format:      r.options.Format,
		BufferCount: r.options.BufferCount,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create swap chain")
	}
	r.current = r.swapChain.CurrentBackBufferIndex()

	r.rtvs, err = descriptors.Allocate(pager.DescriptorCategory{HeapType: gpu.DescriptorHeapTypeRTV}, r.options.BufferCount)
	if err != nil {
		return errors.Wrap(err, "failed to allocate render target views")
	}

	for i := 0; i < r.options.BufferCount; i++ {
		buffer, err := r.swapChain.Buffer(i)
		if err != nil {
			return err
		}
		err = r.device.CreateRenderTargetView(buffer, nil, r.rtvs.CPUHandleAt(i))
		if err != nil {
			return errors.Wrapf(err, "failed to create render target view for back buffer %d", i)
		}

		allocator, err := r.device.CreateCommandAllocator()
		if err != nil {
			return errors.Wrapf(err, "failed to create command allocator %d", i)
		}
		r.allocators = append(r.allocators, allocator)
	}

	r.list, err = r.device.CreateCommandList(r.allocators[r.current])
	if err != nil {
		return errors.Wrap(err, "failed to create command list")
	}
	// Lists are created recording; FrameRender expects to reset a closed one
	err = r.list.Close()
	if err != nil {
		return err
	}

	r.fence, err = r.device.CreateFence(0)
	if err != nil {
		return errors.Wrap(err, "failed to create frame fence")
	}
	r.fenceValues[r.current] = 1
	r.timeline.Attach(r.fence)
	r.timeline.SetPending(1)

	r.logger.Debug("FrameRenderer::initialize",
		slog.Int("BufferCount", r.options.BufferCount),
		slog.Int("Width", r.options.Width),
		slog.Int("Height", r.options.Height),
		slog.String("Format", r.options.Format.String()))
	return nil
}

func (r *FrameRenderer) release() {
	if r.list != nil {
		r.list.Release()
	}
	for _, allocator := range r.allocators {
		allocator.Release()
	}
	if r.swapChain != nil {
		r.swapChain.Release()
	}
	if r.queue != nil {
		r.queue.Release()
	}
	if r.fence != nil {
		r.timeline.Attach(nil)
		r.fence.Release()
	}
}

// FrameRender records and submits one frame: the back buffer is cleared, each pass records in
// order, and the frame is presented before PrepareNextFrame moves on to the next buffer
func (r *FrameRenderer) FrameRender(ctx context.Context, passes ...Pass) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	backBuffer, err := r.swapChain.Buffer(r.current)
	if err != nil {
		return err
	}

	err = r.allocators[r.current].Reset()
	if err != nil {
		return errors.Wrapf(err, "failed to reset command allocator %d", r.current)
	}
	err = r.list.Reset(r.allocators[r.current])
	if err != nil {
		return errors.Wrap(err, "failed to reset command list")
	}

	frame := &Frame{
		BufferIndex:  r.current,
		FenceValue:   r.fenceValues[r.current],
		CommandList:  r.list,
		BackBuffer:   backBuffer,
		RenderTarget: r.rtvs.CPUHandleAt(r.current),
		Width:        r.options.Width,
		Height:       r.options.Height,
	}

	r.list.ResourceBarrier(gpu.TransitionBarrier(backBuffer, gpu.ResourceStatePresent, gpu.ResourceStateRenderTarget))
	r.list.ClearRenderTargetView(frame.RenderTarget, r.options.ClearColor)

	for index, pass := range passes {
		err = pass.Record(frame)
		if err != nil {
			// Leave the list closed so the next frame can reset it
			_ = r.list.Close()
			return errors.Wrapf(err, "pass %d failed to record", index)
		}
	}

	r.list.ResourceBarrier(gpu.TransitionBarrier(backBuffer, gpu.ResourceStateRenderTarget, gpu.ResourceStatePresent))
	err = r.list.Close()
	if err != nil {
		return errors.Wrap(err, "failed to record frame")
	}

	err = r.queue.ExecuteCommandLists(r.list)
	if err != nil {
		return errors.Wrap(err, "failed to execute frame")
	}
	err = r.swapChain.Present(r.options.SyncInterval)
	if err != nil {
		return errors.Wrap(err, "failed to present frame")
	}

	r.logger.LogAttrs(ctx, slog.LevelDebug, "submitted frame",
		slog.Int("bufferIndex", frame.BufferIndex),
		slog.Uint64("fenceValue", frame.FenceValue),
		slog.Int("passes", len(passes)))

	return r.PrepareNextFrame()
}

// PrepareNextFrame signals the current frame's fence value, retires frame-transient memory against
// it and moves to the swap chain's current back buffer, blocking until the GPU has finished the
// frame that last used that buffer
func (r *FrameRenderer) PrepareNextFrame() error {
	signaled := r.fenceValues[r.current]
	err := r.queue.Signal(r.fence, signaled)
	if err != nil {
		return errors.Wrapf(err, "failed to signal fence value %d", signaled)
	}

	for _, recycler := range r.recyclers {
		recycler.RecycleFrame()
	}

	r.current = r.swapChain.CurrentBackBufferIndex()

	if r.fence.CompletedValue() < r.fenceValues[r.current] {
		r.logger.LogAttrs(context.Background(), slog.LevelDebug, "waiting for frame",
			slog.Int("bufferIndex", r.current),
			slog.Uint64("fenceValue", r.fenceValues[r.current]))

		err = r.fence.Wait(r.fenceValues[r.current])
		if err != nil {
			return errors.Wrapf(err, "failed to wait for fence value %d", r.fenceValues[r.current])
		}
	}

	r.fenceValues[r.current] = signaled + 1
	r.timeline.SetPending(signaled + 1)
	return nil
}

// WaitForGpu blocks until the GPU has finished all submitted work
func (r *FrameRenderer) WaitForGpu() error {
	value := r.fenceValues[r.current]
	err := r.queue.Signal(r.fence, value)
	if err != nil {
		return errors.Wrapf(err, "failed to signal fence value %d", value)
	}

	err = r.fence.Wait(value)
	if err != nil {
		return errors.Wrapf(err, "failed to wait for fence value %d", value)
	}

	r.fenceValues[r.current]++
	r.timeline.SetPending(r.fenceValues[r.current])
	return nil
}

// CommandList returns the renderer's command list. It is only open for recording during
// FrameRender.
func (r *FrameRenderer) CommandList() gpu.CommandList {
	return r.list
}

func (r *FrameRenderer) BufferIndex() int {
	return r.current
}

// FenceValues returns a copy of the fence value each buffer's next frame will signal
func (r *FrameRenderer) FenceValues() []uint64 {
	values := make([]uint64, len(r.fenceValues))
	copy(values, r.fenceValues)
	return values
}

func (r *FrameRenderer) Fence() gpu.Fence {
	return r.fence
}

func (r *FrameRenderer) SwapChain() gpu.SwapChain {
	return r.swapChain
}

// Close waits for the GPU and releases everything the renderer created. The render target view
// slots remain owned by the descriptor allocator.
func (r *FrameRenderer) Close() error {
	if r.closed {
		panic("attempted to close a frame renderer twice")
	}
	r.closed = true

	err := r.WaitForGpu()
	r.release()
	return err
}
