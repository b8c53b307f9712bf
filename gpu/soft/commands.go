package soft

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/gpu/internal/descriptors"
)

// ErrAllocatorInUse is returned when a command allocator is reset while the queue may still be
// executing command lists recorded from it
var ErrAllocatorInUse = errors.New("command allocator is still in use by the queue")

type CommandAllocator struct {
	pending atomic.Int64
	resets  atomic.Int64
}

var _ gpu.CommandAllocator = &CommandAllocator{}

func (a *CommandAllocator) Reset() error {
	if a.pending.Load() > 0 {
		return ErrAllocatorInUse
	}

	a.resets.Add(1)
	return nil
}

// ResetCount returns the number of successful resets
func (a *CommandAllocator) ResetCount() int {
	return int(a.resets.Load())
}

func (a *CommandAllocator) Release() {}

type command func() error

// CommandList records commands as closures that run when the list executes on a Queue. Argument
// errors are caught while recording and reported by Close.
type CommandList struct {
	device    *Device
	allocator *CommandAllocator
	recording bool
	commands  []command
	heaps     []gpu.DescriptorHeap
	err       error
}

var _ gpu.CommandList = &CommandList{}

func (l *CommandList) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

func (l *CommandList) record(cmd command) {
	if !l.recording {
		l.fail(errors.New("commands were recorded into a closed command list"))
		return
	}
	l.commands = append(l.commands, cmd)
}

func (l *CommandList) Reset(allocator gpu.CommandAllocator) error {
	if l.recording {
		return errors.New("command list must be closed before it is reset")
	}

	softAllocator, ok := allocator.(*CommandAllocator)
	if !ok {
		return errors.Newf("command allocator of type %T was not created by this device", allocator)
	}

	l.allocator = softAllocator
	l.recording = true
	l.commands = nil
	l.heaps = nil
	l.err = nil
	return nil
}

func (l *CommandList) Close() error {
	if !l.recording {
		return errors.New("command list is already closed")
	}

	l.recording = false
	return l.err
}

// CommandCount returns the number of commands recorded since the last Reset
func (l *CommandList) CommandCount() int {
	return len(l.commands)
}

// DescriptorHeaps returns the heaps most recently bound with SetDescriptorHeaps
func (l *CommandList) DescriptorHeaps() []gpu.DescriptorHeap {
	return l.heaps
}

func asResource(resource gpu.Resource) (*Resource, error) {
	softResource, ok := resource.(*Resource)
	if !ok || softResource == nil {
		return nil, errors.Newf("resource of type %T was not created by this device", resource)
	}
	return softResource, nil
}

func (l *CommandList) ResourceBarrier(barriers ...gpu.ResourceBarrier) {
	for _, barrier := range barriers {
		resource, err := asResource(barrier.Resource)
		if err != nil {
			l.fail(err)
			return
		}

		subresource, before, after := barrier.Subresource, barrier.Before, barrier.After
		l.record(func() error {
			return resource.transition(subresource, before, after)
		})
	}
}

func (l *CommandList) CopyBufferRegion(dst gpu.Resource, dstOffset int, src gpu.Resource, srcOffset int, numBytes int) {
	dstResource, err := asResource(dst)
	if err != nil {
		l.fail(err)
		return
	}
	srcResource, err := asResource(src)
	if err != nil {
		l.fail(err)
		return
	}

	if dstResource.desc.Dimension != gpu.ResourceDimensionBuffer || srcResource.desc.Dimension != gpu.ResourceDimensionBuffer {
		l.fail(errors.New("CopyBufferRegion requires buffer resources"))
		return
	}
	if numBytes < 0 || dstOffset < 0 || srcOffset < 0 ||
		dstOffset+numBytes > len(dstResource.data) || srcOffset+numBytes > len(srcResource.data) {
		l.fail(errors.Newf("copy of %d bytes from offset %d to offset %d is out of bounds", numBytes, srcOffset, dstOffset))
		return
	}

	l.record(func() error {
		if err := dstResource.checkLive(); err != nil {
			return err
		}
		if err := srcResource.checkLive(); err != nil {
			return err
		}

		copy(dstResource.data[dstOffset:dstOffset+numBytes], srcResource.data[srcOffset:srcOffset+numBytes])
		return nil
	})
}

type copyRegion struct {
	resource *Resource
	offset   int
	rowPitch int
	rows     int
	rowSize  int
}

func (l *CommandList) resolveCopyLocation(location gpu.TextureCopyLocation) (copyRegion, gpu.SubresourceFootprint, error) {
	resource, err := asResource(location.Resource)
	if err != nil {
		return copyRegion{}, gpu.SubresourceFootprint{}, err
	}

	if location.PlacedFootprint != nil {
		if resource.desc.Dimension != gpu.ResourceDimensionBuffer {
			return copyRegion{}, gpu.SubresourceFootprint{}, errors.New("placed footprints must reference a buffer")
		}

		footprint := location.PlacedFootprint.Footprint
		rowSize, rows, _, ok := footprint.Format.Pitch(footprint.Width, footprint.Height)
		if !ok {
			return copyRegion{}, gpu.SubresourceFootprint{}, errors.Newf("cannot copy texture data of format %s", footprint.Format)
		}
		if footprint.RowPitch < rowSize || footprint.RowPitch%gpu.TextureDataPitchAlignment != 0 {
			return copyRegion{}, gpu.SubresourceFootprint{}, errors.Newf("row pitch %d is invalid for rows of %d bytes", footprint.RowPitch, rowSize)
		}
		if location.PlacedFootprint.Offset%gpu.TextureDataPlacementAlignment != 0 {
			return copyRegion{}, gpu.SubresourceFootprint{}, errors.Newf("footprint offset %d is not aligned to %d", location.PlacedFootprint.Offset, gpu.TextureDataPlacementAlignment)
		}

		region := copyRegion{
			resource: resource,
			offset:   location.PlacedFootprint.Offset,
			rowPitch: footprint.RowPitch,
			rows:     rows * max(footprint.Depth, 1),
			rowSize:  rowSize,
		}
		if region.offset+region.rowPitch*(region.rows-1)+rowSize > len(resource.data) {
			return copyRegion{}, gpu.SubresourceFootprint{}, errors.New("placed footprint extends past the end of the buffer")
		}
		return region, footprint, nil
	}

	if resource.desc.Dimension == gpu.ResourceDimensionBuffer {
		return copyRegion{}, gpu.SubresourceFootprint{}, errors.New("buffer copy locations require a placed footprint")
	}
	index := location.SubresourceIndex
	if index < 0 || index >= len(resource.footprints.Layouts) {
		return copyRegion{}, gpu.SubresourceFootprint{}, errors.Newf("subresource %d is out of range", index)
	}

	layout := resource.footprints.Layouts[index]
	return copyRegion{
		resource: resource,
		offset:   layout.Offset,
		rowPitch: layout.Footprint.RowPitch,
		rows:     resource.footprints.NumRows[index] * layout.Footprint.Depth,
		rowSize:  resource.footprints.RowSizeInBytes[index],
	}, layout.Footprint, nil
}

func (l *CommandList) CopyTextureRegion(dst gpu.TextureCopyLocation, src gpu.TextureCopyLocation) {
	dstRegion, dstFootprint, err := l.resolveCopyLocation(dst)
	if err != nil {
		l.fail(errors.Wrap(err, "invalid copy destination"))
		return
	}
	srcRegion, srcFootprint, err := l.resolveCopyLocation(src)
	if err != nil {
		l.fail(errors.Wrap(err, "invalid copy source"))
		return
	}

	if dstFootprint.Format != srcFootprint.Format || dstFootprint.Width != srcFootprint.Width ||
		dstFootprint.Height != srcFootprint.Height || dstFootprint.Depth != srcFootprint.Depth {
		l.fail(errors.Newf("cannot copy a %dx%d %s region into a %dx%d %s region",
			srcFootprint.Width, srcFootprint.Height, srcFootprint.Format,
			dstFootprint.Width, dstFootprint.Height, dstFootprint.Format))
		return
	}

	l.record(func() error {
		if err := dstRegion.resource.checkLive(); err != nil {
			return err
		}
		if err := srcRegion.resource.checkLive(); err != nil {
			return err
		}

		for row := 0; row < srcRegion.rows; row++ {
			dstStart := dstRegion.offset + row*dstRegion.rowPitch
			srcStart := srcRegion.offset + row*srcRegion.rowPitch
			copy(dstRegion.resource.data[dstStart:dstStart+dstRegion.rowSize], srcRegion.resource.data[srcStart:srcStart+srcRegion.rowSize])
		}
		return nil
	})
}

func encodeColor(format gpu.Format, color [4]float32) ([]byte, bool) {
	unorm := func(value float32) byte {
		return byte(math.Round(float64(min(max(value, 0), 1)) * 255))
	}

	switch format {
	case gpu.FormatR8G8B8A8UNorm, gpu.FormatR8G8B8A8UNormSRGB:
		return []byte{unorm(color[0]), unorm(color[1]), unorm(color[2]), unorm(color[3])}, true
	case gpu.FormatB8G8R8A8UNorm, gpu.FormatB8G8R8A8UNormSRGB:
		return []byte{unorm(color[2]), unorm(color[1]), unorm(color[0]), unorm(color[3])}, true
	case gpu.FormatR32G32B32A32Float:
		texel := make([]byte, 16)
		for i, channel := range color {
			binary.LittleEndian.PutUint32(texel[i*4:], math.Float32bits(channel))
		}
		return texel, true
	}

	return nil, false
}

func (l *CommandList) ClearRenderTargetView(rtv gpu.CPUDescriptorHandle, color [4]float32) {
	descriptor, err := l.device.registry.Lookup(rtv)
	if err != nil {
		l.fail(err)
		return
	}
	if descriptor.Kind != descriptors.KindRenderTargetView {
		l.fail(errors.Newf("cannot clear through a %s descriptor", descriptor.Kind))
		return
	}

	resource, err := asResource(descriptor.Resource)
	if err != nil {
		l.fail(err)
		return
	}

	texel, ok := encodeColor(descriptor.RenderTargetView.Format, color)
	if !ok {
		l.fail(errors.Newf("clearing render targets of format %s is not supported", descriptor.RenderTargetView.Format))
		return
	}

	mipSlice := descriptor.RenderTargetView.MipSlice
	l.record(func() error {
		if err := resource.checkLive(); err != nil {
			return err
		}

		for slice := 0; slice < resource.desc.ArraySize(); slice++ {
			index := resource.desc.SubresourceIndex(mipSlice, slice)
			if state := resource.State(index); state != gpu.ResourceStateRenderTarget {
				return errors.Newf("render target %q cleared in state %s", resource.Name(), state)
			}

			layout := resource.footprints.Layouts[index]
			rowSize := resource.footprints.RowSizeInBytes[index]
			for row := 0; row < resource.footprints.NumRows[index]; row++ {
				start := layout.Offset + row*layout.Footprint.RowPitch
				for x := 0; x < rowSize; x += len(texel) {
					copy(resource.data[start+x:], texel)
				}
			}
		}
		return nil
	})
}

func (l *CommandList) SetDescriptorHeaps(heaps ...gpu.DescriptorHeap) {
	seen := make(map[gpu.DescriptorHeapType]bool, len(heaps))
	for _, heap := range heaps {
		desc := heap.Desc()
		if !desc.ShaderVisible {
			l.fail(errors.Newf("%s descriptor heap bound to a command list is not shader visible", desc.Type))
			return
		}
		if seen[desc.Type] {
			l.fail(errors.Newf("more than one %s descriptor heap bound at once", desc.Type))
			return
		}
		seen[desc.Type] = true
	}

	l.heaps = heaps
	l.record(func() error { return nil })
}

func (l *CommandList) Release() {}
