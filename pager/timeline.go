package pager

import (
	"sync"

	"github.com/vkngwrapper/kiln/gpu"
)

// Timeline connects the allocators to the GPU's frame fence. Pages retired while a frame is
// recording are stamped with the pending value, the fence value that will be signaled once the
// GPU finishes that frame, and are only reused after the fence reaches it.
//
// A Timeline with no fence attached reports no value as completed, so nothing retired or uploaded
// before the fence exists is released early.
type Timeline struct {
	mutex   sync.RWMutex
	fence   gpu.Fence
	pending uint64
}

func NewTimeline(fence gpu.Fence) *Timeline {
	return &Timeline{fence: fence}
}

// Attach sets the fence used to check completion. The frame renderer attaches its fence when it
// is created.
func (t *Timeline) Attach(fence gpu.Fence) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.fence = fence
}

// Pending returns the fence value that will be signaled when the recording frame completes
func (t *Timeline) Pending() uint64 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.pending
}

func (t *Timeline) SetPending(value uint64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.pending = value
}

// CompletedValue returns the last fence value the GPU has reached
func (t *Timeline) CompletedValue() uint64 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.fence == nil {
		return 0
	}
	return t.fence.CompletedValue()
}

// Attached returns true if a fence has been attached
func (t *Timeline) Attached() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.fence != nil
}

// Completed returns true once the GPU has reached value. It is always false while no fence is
// attached.
func (t *Timeline) Completed(value uint64) bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.fence != nil && t.fence.CompletedValue() >= value
}
