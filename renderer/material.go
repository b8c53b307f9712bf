package renderer

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/gpu"
)

var ErrMaterialNotComposed = errors.New("material has not been composed")

// Binding attaches a descriptor to a shader register
type Binding struct {
	Register   int
	Descriptor gpu.CPUDescriptorHandle
}

// Material names a pipeline and root signature and the resources bound to it. Pipeline state
// objects are built outside kiln and referred to by name.
type Material struct {
	Name          string
	Pipeline      string
	RootSignature string

	heaps    []gpu.DescriptorHeap
	bindings []Binding
	composed bool
}

func NewMaterial(name, pipeline, rootSignature string) *Material {
	return &Material{
		Name:          name,
		Pipeline:      pipeline,
		RootSignature: rootSignature,
	}
}

// Compose sets the material's bindings, ordered by register, and the heaps they live in. Each
// register may be bound once.
func (m *Material) Compose(heaps []gpu.DescriptorHeap, bindings ...Binding) error {
	sorted := slices.Clone(bindings)
	slices.SortFunc(sorted, func(a, b Binding) int {
		return a.Register - b.Register
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Register == sorted[i-1].Register {
			return errors.Newf("material %s binds register %d more than once", m.Name, sorted[i].Register)
		}
	}

	m.heaps = slices.Clone(heaps)
	m.bindings = sorted
	m.composed = true
	return nil
}

// Bind sets the material's descriptor heaps on the frame's command list and returns its bindings
func (m *Material) Bind(frame *Frame) ([]Binding, error) {
	if !m.composed {
		return nil, errors.Wrapf(ErrMaterialNotComposed, "material %s", m.Name)
	}

	if len(m.heaps) > 0 {
		frame.CommandList.SetDescriptorHeaps(m.heaps...)
	}
	return m.bindings, nil
}
