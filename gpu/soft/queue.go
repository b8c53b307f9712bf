package soft

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/gpu"
)

type work func() error

// Queue executes submitted work in order on its own goroutine. A paused queue accepts work but
// does not run it, which lets tests hold fences at a known value.
type Queue struct {
	device *Device

	mutex     sync.Mutex
	cond      *sync.Cond
	pending   []work
	paused    bool
	closed    bool
	firstErr  error
	submitted int
	executed  int

	done     chan struct{}
	released atomic.Bool
}

var _ gpu.CommandQueue = &Queue{}

func newQueue(device *Device) *Queue {
	queue := &Queue{
		device: device,
		done:   make(chan struct{}),
	}
	queue.cond = sync.NewCond(&queue.mutex)

	go queue.run()
	return queue
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		q.mutex.Lock()
		for !q.closed && (q.paused || len(q.pending) == 0) {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mutex.Unlock()
			return
		}

		next := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mutex.Unlock()

		err := next()

		q.mutex.Lock()
		q.executed++
		if err != nil {
			q.device.logger.Error("Queue execution failed", slog.Any("error", err))
			if q.firstErr == nil {
				q.firstErr = err
			}
		}
		q.cond.Broadcast()
		q.mutex.Unlock()
	}
}

func (q *Queue) enqueue(item work) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return errors.New("command queue has been released")
	}

	q.pending = append(q.pending, item)
	q.submitted++
	q.cond.Broadcast()
	return nil
}

func (q *Queue) ExecuteCommandLists(lists ...gpu.CommandList) error {
	batch := make([]*CommandList, 0, len(lists))
	for _, list := range lists {
		softList, ok := list.(*CommandList)
		if !ok {
			return errors.Newf("command list of type %T was not created by this device", list)
		}
		if softList.recording {
			return errors.New("command lists must be closed before they are executed")
		}
		if softList.err != nil {
			return errors.Wrap(softList.err, "command list was recorded with errors")
		}
		batch = append(batch, softList)
	}

	for _, list := range batch {
		commands := list.commands
		allocator := list.allocator
		allocator.pending.Add(1)

		err := q.enqueue(func() error {
			defer allocator.pending.Add(-1)

			for _, command := range commands {
				if err := command(); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			allocator.pending.Add(-1)
			return err
		}
	}

	return nil
}

func (q *Queue) Signal(fence gpu.Fence, value uint64) error {
	if fence == nil {
		return errors.New("cannot signal a nil fence")
	}

	return q.enqueue(func() error {
		return fence.Signal(value)
	})
}

// Pause stops the queue from starting new work until Resume is called
func (q *Queue) Pause() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.paused = true
}

func (q *Queue) Resume() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.paused = false
	q.cond.Broadcast()
}

// WaitIdle blocks until every item submitted before the call has run. It panics if the queue
// is paused with work outstanding.
func (q *Queue) WaitIdle() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	target := q.submitted
	if q.paused && q.executed < target {
		panic("attempting to wait for a paused queue to become idle")
	}

	for q.executed < target {
		q.cond.Wait()
	}
}

// Err returns the first error produced while executing submitted work
func (q *Queue) Err() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.firstErr
}

func (q *Queue) Release() {
	if q.released.Swap(true) {
		panic("attempting to release a command queue that has already been released")
	}

	q.mutex.Lock()
	q.closed = true
	q.paused = false
	q.cond.Broadcast()
	q.mutex.Unlock()

	<-q.done
}
