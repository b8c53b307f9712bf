package renderer

import "github.com/vkngwrapper/kiln/gpu"

// Frame is the state a Pass records against. It is only valid during FrameRender.
type Frame struct {
	BufferIndex  int
	FenceValue   uint64
	CommandList  gpu.CommandList
	BackBuffer   gpu.Resource
	RenderTarget gpu.CPUDescriptorHandle
	Width        int
	Height       int
}

// Pass records one stage of a frame. The back buffer is in the render target state while passes
// run and must be left in it.
type Pass interface {
	Record(frame *Frame) error
}

// PassFunc adapts a function to a Pass
type PassFunc func(frame *Frame) error

func (f PassFunc) Record(frame *Frame) error {
	return f(frame)
}

// Recycler is notified after each frame is submitted, while the timeline still holds that frame's
// fence value, so that frame-transient memory is retired against it
type Recycler interface {
	RecycleFrame()
}
