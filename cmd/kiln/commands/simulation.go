package commands

import (
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/config"
	"github.com/vkngwrapper/kiln/formats/obj"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/gpu/soft"
	"github.com/vkngwrapper/kiln/pager"
	"github.com/vkngwrapper/kiln/renderer"
	"github.com/vkngwrapper/kiln/resource"
	"golang.org/x/sync/errgroup"
)

const quadOBJ = `
v -1 -1 0
v 1 -1 0
v 1 1 0
v -1 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 0 1
f 1/1/1 2/2/1 3/3/1 4/4/1
`

const textureFlags = resource.LoadGenerateMips

// simulation wires the allocators, resource manager and frame renderer together over the
// software backend
type simulation struct {
	logger      *slog.Logger
	device      *soft.Device
	timeline    *pager.Timeline
	buffers     *pager.BufferAllocator
	descriptors *pager.DescriptorAllocator
	textures    *pager.TextureAllocator
	manager     *resource.Manager
	renderer    *renderer.FrameRenderer

	frames int
}

type assets struct {
	meshPaths    []string
	meshes       []*obj.Mesh
	texturePaths []string
}

func newSimulation(cfg *config.Config, logger *slog.Logger) (*simulation, error) {
	s := &simulation{
		logger:   logger,
		device:   soft.NewDevice(logger),
		timeline: pager.NewTimeline(nil),
	}

	options := cfg.PagerOptions()
	s.buffers = pager.NewBufferAllocator(logger, s.device, s.timeline, options)
	s.descriptors = pager.NewDescriptorAllocator(logger, s.device, s.timeline, options)
	s.textures = pager.NewTextureAllocator(logger, s.device, s.timeline, options)

	var err error
	s.manager, err = resource.New(logger, s.device, s.buffers, s.descriptors, s.textures, cfg.ResourceOptions())
	if err != nil {
		s.destroyAllocators()
		return nil, err
	}

	s.renderer, err = renderer.New(logger, s.device, s.descriptors, s.timeline, cfg.RendererOptions(), s.manager)
	if err != nil {
		s.manager.Close()
		s.destroyAllocators()
		return nil, err
	}

	return s, nil
}

func (s *simulation) destroyAllocators() {
	s.buffers.Destroy()
	s.descriptors.Destroy()
	s.textures.Destroy()
}

// close waits for the GPU and tears everything down in reverse order of creation. Destroying the
// allocators releases any temporary upload pages that are left.
func (s *simulation) close() error {
	err := s.renderer.Close()
	s.manager.Close()
	s.destroyAllocators()

	if leaked := s.device.LiveResources(); err == nil && leaked > 0 {
		err = errors.Newf("%d resources were still alive after teardown", leaked)
	}
	return err
}

// loadAssets parses meshes and decodes textures in parallel. Decoded textures land in the
// manager's file cache for the upload pass.
func (s *simulation) loadAssets(ctx context.Context, meshPaths, texturePaths []string) (*assets, error) {
	loaded := &assets{
		meshPaths:    meshPaths,
		meshes:       make([]*obj.Mesh, len(meshPaths)),
		texturePaths: texturePaths,
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range meshPaths {
		i, path := i, path // per-iteration copies for go < 1.22
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mesh, err := obj.Load(path)
			if err != nil {
				return err
			}
			loaded.meshes[i] = mesh
			return nil
		})
	}
	for _, path := range texturePaths {
		path := path // per-iteration copy for go < 1.22
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := s.manager.LoadTextureData(path, textureFlags)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(loaded.meshes) == 0 {
		mesh, err := obj.Parse(strings.NewReader(quadOBJ))
		if err != nil {
			return nil, err
		}
		loaded.meshPaths = []string{"quad"}
		loaded.meshes = []*obj.Mesh{mesh}
	}

	s.logger.Info("loaded assets",
		slog.Int("meshes", len(loaded.meshes)),
		slog.Int("textures", len(texturePaths)))
	return loaded, nil
}

func checkerboard(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/8+y/8)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.RGBA{R: 64, G: 64, B: 64, A: 255})
			}
		}
	}
	return img
}

// uploadPass records every asset upload on the first frame and fills in the scene
type uploadPass struct {
	simulation *simulation
	assets     *assets
	scene      *renderer.StaticScene
	done       bool
}

func (p *uploadPass) material(name string, texture resource.TextureID) (*renderer.Material, error) {
	manager := p.simulation.manager
	descriptors := p.simulation.descriptors

	srv, err := manager.TextureSRV(texture)
	if err != nil {
		return nil, err
	}
	table, err := descriptors.Allocate(pager.DescriptorCategory{HeapType: gpu.DescriptorHeapTypeCBVSRVUAV, ShaderVisible: true}, 1)
	if err != nil {
		return nil, err
	}
	heap, err := descriptors.Heap(table)
	if err != nil {
		return nil, err
	}

	material := renderer.NewMaterial(name, "opaque", "standard")
	err = material.Compose([]gpu.DescriptorHeap{heap}, renderer.Binding{Register: 0, Descriptor: srv})
	return material, err
}

func (p *uploadPass) Record(frame *renderer.Frame) error {
	if p.done {
		return nil
	}
	p.done = true

	manager := p.simulation.manager
	cl := frame.CommandList

	var textures []resource.TextureID
	for _, path := range p.assets.texturePaths {
		id, err := manager.CreateTextureFromFile(cl, path, textureFlags)
		if err != nil {
			return err
		}
		textures = append(textures, id)
	}
	if len(textures) == 0 {
		id, err := manager.CreateTexture(cl, resource.TextureDataFromImage(checkerboard(64), textureFlags))
		if err != nil {
			return err
		}
		textures = append(textures, id)
	}

	for i, mesh := range p.assets.meshes {
		vertexBuffer, err := manager.CreateVertexBuffer(cl, mesh.VertexData(), obj.VertexStride)
		if err != nil {
			return errors.Wrapf(err, "failed to upload %s", p.assets.meshPaths[i])
		}
		indexBuffer, err := manager.CreateIndexBuffer(cl, mesh.IndexData(), gpu.FormatR32UInt)
		if err != nil {
			return errors.Wrapf(err, "failed to upload %s", p.assets.meshPaths[i])
		}

		material, err := p.material(p.assets.meshPaths[i], textures[i%len(textures)])
		if err != nil {
			return err
		}

		p.scene.Objects = append(p.scene.Objects, renderer.Object{
			Name:         p.assets.meshPaths[i],
			VertexBuffer: vertexBuffer,
			IndexBuffer:  indexBuffer,
			IndexCount:   len(mesh.Indices),
			Material:     material,
		})
	}

	return nil
}

// frameConstantsPass writes the frame number into per-frame constant memory
type frameConstantsPass struct {
	manager *resource.Manager
	frame   uint64
}

func (p *frameConstantsPass) Record(frame *renderer.Frame) error {
	constants := make([]byte, 16)
	binary.LittleEndian.PutUint64(constants, p.frame)
	binary.LittleEndian.PutUint64(constants[8:], frame.FenceValue)
	p.frame++

	_, err := p.manager.AllocateFrameConstants(constants)
	return err
}

// run renders frames, releasing upload pages as soon as the GPU is done with them, and finishes
// with the GPU idle
func (s *simulation) run(ctx context.Context, frames int, loaded *assets) error {
	scene := &renderer.StaticScene{
		View: renderer.Camera{
			Position:    [3]float32{0, 0, 3},
			Up:          [3]float32{0, 1, 0},
			FieldOfView: 60,
			Near:        0.1,
			Far:         100,
		},
	}
	passes := []renderer.Pass{
		&uploadPass{simulation: s, assets: loaded, scene: scene},
		&frameConstantsPass{manager: s.manager},
		&renderer.ScenePass{Scene: scene},
	}

	for i := 0; i < frames; i++ {
		err := s.renderer.FrameRender(ctx, passes...)
		if err != nil {
			return errors.Wrapf(err, "frame %d failed", i)
		}
		s.frames++

		err = s.manager.ReleaseTemporaryUploadBuffers()
		if err != nil && !errors.Is(err, pager.ErrPageInFlight) {
			return err
		}
	}

	err := s.renderer.WaitForGpu()
	if err != nil {
		return err
	}
	return s.manager.ReleaseTemporaryUploadBuffers()
}

func (s *simulation) statistics() map[string]*pager.AllocatorStatistics {
	return map[string]*pager.AllocatorStatistics{
		"buffers":     s.buffers.CalculateStatistics(),
		"descriptors": s.descriptors.CalculateStatistics(),
		"textures":    s.textures.CalculateStatistics(),
	}
}
