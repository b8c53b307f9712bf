package renderer

import "github.com/vkngwrapper/kiln/resource"

type Camera struct {
	Position    [3]float32
	Target      [3]float32
	Up          [3]float32
	FieldOfView float32
	Near        float32
	Far         float32
}

// Object is one drawable in a scene
type Object struct {
	Name         string
	VertexBuffer resource.VertexBufferID
	IndexBuffer  resource.IndexBufferID
	IndexCount   int
	Material     *Material
}

// Scene supplies the camera and the objects that survived culling for a frame
type Scene interface {
	Camera() Camera
	VisibleObjects() []Object
}

// StaticScene is a Scene whose objects are always visible
type StaticScene struct {
	View    Camera
	Objects []Object
}

var _ Scene = &StaticScene{}

func (s *StaticScene) Camera() Camera {
	return s.View
}

func (s *StaticScene) VisibleObjects() []Object {
	return s.Objects
}

// ScenePass binds the material of every visible object in a scene. Objects without a material are
// skipped.
type ScenePass struct {
	Scene Scene
	// Bound counts the material binds of the last frame recorded
	Bound int
}

func (p *ScenePass) Record(frame *Frame) error {
	p.Bound = 0
	for _, object := range p.Scene.VisibleObjects() {
		if object.Material == nil {
			continue
		}
		if _, err := object.Material.Bind(frame); err != nil {
			return err
		}
		p.Bound++
	}
	return nil
}
