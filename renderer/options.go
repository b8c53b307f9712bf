package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/gpu"
)

const (
	DefaultBufferCount = 2
	MinBufferCount     = 2
	MaxBufferCount     = 4
)

// Options contains the swap chain and presentation settings of a FrameRenderer
type Options struct {
	// BufferCount is the number of swap chain buffers, and so the number of frames that may be in
	// flight. If zero, DefaultBufferCount is used.
	BufferCount int
	Width       int
	Height      int
	// Format is the back buffer format. If unknown, gpu.FormatR8G8B8A8UNorm is used.
	Format       gpu.Format
	ClearColor   [4]float32
	SyncInterval int
}

func (o Options) withDefaults() (Options, error) {
	if o.BufferCount == 0 {
		o.BufferCount = DefaultBufferCount
	}
	if o.BufferCount < MinBufferCount || o.BufferCount > MaxBufferCount {
		return o, errors.Newf("buffer count must be between %d and %d, but was %d", MinBufferCount, MaxBufferCount, o.BufferCount)
	}
	if o.Width <= 0 || o.Height <= 0 {
		return o, errors.Newf("back buffers must have a positive size, but were %dx%d", o.Width, o.Height)
	}
	if o.Format == gpu.FormatUnknown {
		o.Format = gpu.FormatR8G8B8A8UNorm
	}

	return o, nil
}
