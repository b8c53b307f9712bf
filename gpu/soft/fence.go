package soft

import (
	"sync"

	"github.com/vkngwrapper/kiln/gpu"
)

// Fence is a monotonic counter that CPU and queue goroutines can signal and wait on
type Fence struct {
	mutex sync.Mutex
	cond  *sync.Cond
	value uint64
}

var _ gpu.Fence = &Fence{}

func NewFence(initialValue uint64) *Fence {
	fence := &Fence{value: initialValue}
	fence.cond = sync.NewCond(&fence.mutex)
	return fence
}

func (f *Fence) CompletedValue() uint64 {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.value
}

func (f *Fence) Signal(value uint64) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.value = value
	f.cond.Broadcast()
	return nil
}

func (f *Fence) Wait(value uint64) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for f.value < value {
		f.cond.Wait()
	}
	return nil
}

func (f *Fence) Release() {}
