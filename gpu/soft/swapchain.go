package soft

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/gpu"
)

// SwapChain rotates through host-memory back buffers. Present is queued behind previously
// submitted work and fails on the queue if the back buffer is not in the present state.
type SwapChain struct {
	queue   *Queue
	desc    gpu.SwapChainDesc
	buffers []*Resource

	mutex     sync.Mutex
	current   int
	presented int
}

var _ gpu.SwapChain = &SwapChain{}

func (s *SwapChain) Desc() gpu.SwapChainDesc { return s.desc }

func (s *SwapChain) CurrentBackBufferIndex() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.current
}

func (s *SwapChain) Buffer(index int) (gpu.Resource, error) {
	if index < 0 || index >= len(s.buffers) {
		return nil, errors.Newf("swap chain buffer %d is out of range", index)
	}
	return s.buffers[index], nil
}

func (s *SwapChain) Present(syncInterval int) error {
	s.mutex.Lock()
	buffer := s.buffers[s.current]
	s.current = (s.current + 1) % len(s.buffers)
	s.mutex.Unlock()

	return s.queue.enqueue(func() error {
		if !buffer.allStatesAre(gpu.ResourceStatePresent) {
			return errors.New("back buffer presented while not in the present state")
		}

		s.mutex.Lock()
		s.presented++
		s.mutex.Unlock()
		return nil
	})
}

// PresentCount returns the number of presents the queue has completed
func (s *SwapChain) PresentCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.presented
}

func (s *SwapChain) Release() {
	for _, buffer := range s.buffers {
		buffer.Release()
	}
	s.buffers = nil
}
