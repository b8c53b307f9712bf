package gpu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatPitch(t *testing.T) {
	testCases := map[string]struct {
		Format     Format
		Width      int
		Height     int
		RowPitch   int
		Rows       int
		SlicePitch int
	}{
		"RGBA8":   {Format: FormatR8G8B8A8UNorm, Width: 100, Height: 10, RowPitch: 400, Rows: 10, SlicePitch: 4000},
		"BC1":     {Format: FormatBC1UNorm, Width: 64, Height: 64, RowPitch: 128, Rows: 16, SlicePitch: 2048},
		"BC1Tiny": {Format: FormatBC1UNorm, Width: 1, Height: 1, RowPitch: 8, Rows: 1, SlicePitch: 8},
		"BC7Odd":  {Format: FormatBC7UNorm, Width: 6, Height: 5, RowPitch: 32, Rows: 2, SlicePitch: 64},
		"R8":      {Format: FormatR8UNorm, Width: 3, Height: 3, RowPitch: 3, Rows: 3, SlicePitch: 9},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			rowPitch, rows, slicePitch, ok := testCase.Format.Pitch(testCase.Width, testCase.Height)
			require.True(t, ok)
			require.Equal(t, testCase.RowPitch, rowPitch)
			require.Equal(t, testCase.Rows, rows)
			require.Equal(t, testCase.SlicePitch, slicePitch)
		})
	}

	_, _, _, ok := FormatUnknown.Pitch(4, 4)
	require.False(t, ok)
}

func TestCopyableFootprints(t *testing.T) {
	desc := Texture2DDesc(FormatR8G8B8A8UNorm, 100, 10, 2, 2, ResourceFlagNone)

	footprints, err := GetCopyableFootprints(desc, 0, desc.SubresourceCount(), 0)
	require.NoError(t, err)
	require.Len(t, footprints.Layouts, 4)

	// mip 0: 400 byte rows padded to 512
	require.Equal(t, PlacedSubresourceFootprint{
		Offset: 0,
		Footprint: SubresourceFootprint{
			Format: FormatR8G8B8A8UNorm, Width: 100, Height: 10, Depth: 1, RowPitch: 512,
		},
	}, footprints.Layouts[0])
	require.Equal(t, 10, footprints.NumRows[0])
	require.Equal(t, 400, footprints.RowSizeInBytes[0])

	// mip 1: 50x5, 200 byte rows padded to 256, placed after 5120 bytes
	require.Equal(t, 5120, footprints.Layouts[1].Offset)
	require.Equal(t, 256, footprints.Layouts[1].Footprint.RowPitch)
	require.Equal(t, 5, footprints.NumRows[1])

	// slice 1 mip 0 starts at the next 512 boundary after 5120+1280
	require.Equal(t, 6656, footprints.Layouts[2].Offset)

	for _, layout := range footprints.Layouts {
		require.Zero(t, layout.Offset%TextureDataPlacementAlignment)
		require.Zero(t, layout.Footprint.RowPitch%TextureDataPitchAlignment)
	}
	require.Equal(t, 6656+5120+1280, footprints.TotalBytes)
}

func TestCopyableFootprintsRejectsBuffers(t *testing.T) {
	_, err := GetCopyableFootprints(BufferDesc(1024, ResourceFlagNone), 0, 1, 0)
	require.Error(t, err)

	desc := Texture2DDesc(FormatR8G8B8A8UNorm, 4, 4, 1, 1, ResourceFlagNone)
	_, err = GetCopyableFootprints(desc, 0, 2, 0)
	require.Error(t, err)
}

func TestSRVDimensionFor(t *testing.T) {
	cube := Texture2DDesc(FormatBC1UNorm, 64, 64, 6, 1, ResourceFlagNone)
	cube.Cube = true
	require.Equal(t, SRVDimensionTextureCube, SRVDimensionFor(cube))

	cube.DepthOrArraySize = 12
	require.Equal(t, SRVDimensionTextureCubeArray, SRVDimensionFor(cube))

	require.Equal(t, SRVDimensionTexture2DArray, SRVDimensionFor(Texture2DDesc(FormatR8UNorm, 4, 4, 3, 1, ResourceFlagNone)))
	require.Equal(t, SRVDimensionTexture2D, SRVDimensionFor(Texture2DDesc(FormatR8UNorm, 4, 4, 1, 1, ResourceFlagNone)))
	require.Equal(t, SRVDimensionBuffer, SRVDimensionFor(BufferDesc(16, ResourceFlagNone)))
}

func TestResourceStateString(t *testing.T) {
	require.Equal(t, "Common", ResourceStatePresent.String())
	require.Equal(t, "GenericRead", ResourceStateGenericRead.String())
	require.Equal(t, "RenderTarget|CopyDest", (ResourceStateRenderTarget | ResourceStateCopyDest).String())
}
