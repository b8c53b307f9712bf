package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/memutils"
)

const (
	// TextureDataPitchAlignment is the row pitch alignment of texture data in buffers
	TextureDataPitchAlignment = 256
	// TextureDataPlacementAlignment is the offset alignment of each subresource's texture data in buffers
	TextureDataPlacementAlignment = 512
)

// SubresourceFootprint is the layout of one subresource's data inside a buffer
type SubresourceFootprint struct {
	Format   Format
	Width    int
	Height   int
	Depth    int
	RowPitch int
}

// PlacedSubresourceFootprint is a SubresourceFootprint placed at an offset in a buffer
type PlacedSubresourceFootprint struct {
	Offset    int
	Footprint SubresourceFootprint
}

// CopyableFootprints describes how to lay out the subresources of a texture in a buffer so that
// the GPU can copy between them
type CopyableFootprints struct {
	Layouts        []PlacedSubresourceFootprint
	NumRows        []int
	RowSizeInBytes []int
	TotalBytes     int
}

// GetCopyableFootprints computes the buffer layout of numSubresources subresources of desc,
// starting at firstSubresource, with the first placed at baseOffset. Rows are aligned to
// TextureDataPitchAlignment and subresources to TextureDataPlacementAlignment.
func GetCopyableFootprints(desc ResourceDesc, firstSubresource, numSubresources int, baseOffset int) (CopyableFootprints, error) {
	if desc.Dimension == ResourceDimensionBuffer || desc.Dimension == ResourceDimensionUnknown {
		return CopyableFootprints{}, errors.Newf("cannot compute texture footprints for a resource of dimension %s", desc.Dimension)
	}
	if firstSubresource < 0 || numSubresources < 0 || firstSubresource+numSubresources > desc.SubresourceCount() {
		return CopyableFootprints{}, errors.Newf("subresources %d through %d are out of range for a resource with %d subresources",
			firstSubresource, firstSubresource+numSubresources, desc.SubresourceCount())
	}

	footprints := CopyableFootprints{
		Layouts:        make([]PlacedSubresourceFootprint, 0, numSubresources),
		NumRows:        make([]int, 0, numSubresources),
		RowSizeInBytes: make([]int, 0, numSubresources),
	}

	mipLevels := max(desc.MipLevels, 1)
	offset := baseOffset
	for index := firstSubresource; index < firstSubresource+numSubresources; index++ {
		mipLevel := index % mipLevels
		width, height, depth := desc.MipExtent(mipLevel)

		rowSize, rows, _, ok := desc.Format.Pitch(width, height)
		if !ok {
			return CopyableFootprints{}, errors.Newf("cannot lay out texture data of format %s", desc.Format)
		}

		offset = memutils.AlignUp(offset, TextureDataPlacementAlignment)
		rowPitch := memutils.AlignUp(rowSize, TextureDataPitchAlignment)

		footprints.Layouts = append(footprints.Layouts, PlacedSubresourceFootprint{
			Offset: offset,
			Footprint: SubresourceFootprint{
				Format:   desc.Format,
				Width:    width,
				Height:   height,
				Depth:    depth,
				RowPitch: rowPitch,
			},
		})
		footprints.NumRows = append(footprints.NumRows, rows)
		footprints.RowSizeInBytes = append(footprints.RowSizeInBytes, rowSize)

		offset += rowPitch * rows * depth
	}

	footprints.TotalBytes = offset - baseOffset
	return footprints, nil
}
