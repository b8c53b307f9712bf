package soft

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/gpu"
)

// Resource is a committed resource backed by host memory. Textures store every subresource in
// the layout gpu.GetCopyableFootprints produces for the whole resource.
type Resource struct {
	device   *Device
	desc     gpu.ResourceDesc
	heapType gpu.HeapType
	address  gpu.GPUVirtualAddress

	footprints gpu.CopyableFootprints
	data       []byte

	mutex    sync.Mutex
	name     string
	states   []gpu.ResourceState
	mapCount int
	released bool
}

var _ gpu.Resource = &Resource{}

func (r *Resource) Desc() gpu.ResourceDesc                   { return r.desc }
func (r *Resource) HeapType() gpu.HeapType                   { return r.heapType }
func (r *Resource) GPUVirtualAddress() gpu.GPUVirtualAddress { return r.address }

func (r *Resource) Map() ([]byte, error) {
	if !r.heapType.IsCPUVisible() {
		return nil, errors.Newf("resources in %s cannot be mapped", r.heapType)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.mapCount++
	return r.data, nil
}

func (r *Resource) Unmap() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.mapCount == 0 {
		panic("attempting to unmap a resource that is not mapped")
	}
	r.mapCount--
}

// MapCount returns the number of outstanding Map calls
func (r *Resource) MapCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.mapCount
}

func (r *Resource) SetName(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.name = name
}

func (r *Resource) Name() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.name
}

func (r *Resource) Release() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.released {
		panic("attempting to release a resource that has already been released")
	}

	r.released = true
	r.device.liveResources.Add(-1)
}

// Released returns true once Release has been called
func (r *Resource) Released() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.released
}

// State returns the state the queue last transitioned a subresource to
func (r *Resource) State(subresource int) gpu.ResourceState {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.states[subresource]
}

// Contents returns the raw backing memory of the resource
func (r *Resource) Contents() []byte {
	return r.data
}

// ReadSubresource returns a tightly packed copy of one texture subresource
func (r *Resource) ReadSubresource(index int) ([]byte, error) {
	if r.desc.Dimension == gpu.ResourceDimensionBuffer {
		return nil, errors.New("buffers have no texture subresources")
	}
	if index < 0 || index >= len(r.footprints.Layouts) {
		return nil, errors.Newf("subresource %d is out of range", index)
	}

	layout := r.footprints.Layouts[index]
	rowSize := r.footprints.RowSizeInBytes[index]
	rows := r.footprints.NumRows[index] * layout.Footprint.Depth

	out := make([]byte, 0, rowSize*rows)
	for row := 0; row < rows; row++ {
		start := layout.Offset + row*layout.Footprint.RowPitch
		out = append(out, r.data[start:start+rowSize]...)
	}

	return out, nil
}

func (r *Resource) checkLive() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.released {
		return errors.New("resource has been released")
	}
	return nil
}

func (r *Resource) transition(subresource int, before, after gpu.ResourceState) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if subresource == gpu.AllSubresources {
		for i, state := range r.states {
			if state != before {
				return errors.Newf("subresource %d of resource %q is in state %s, not %s", i, r.name, state, before)
			}
		}
		for i := range r.states {
			r.states[i] = after
		}
		return nil
	}

	if subresource < 0 || subresource >= len(r.states) {
		return errors.Newf("subresource %d is out of range for resource %q", subresource, r.name)
	}
	if r.states[subresource] != before {
		return errors.Newf("subresource %d of resource %q is in state %s, not %s", subresource, r.name, r.states[subresource], before)
	}
	r.states[subresource] = after
	return nil
}

func (r *Resource) allStatesAre(state gpu.ResourceState) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, current := range r.states {
		if current != state {
			return false
		}
	}
	return true
}
