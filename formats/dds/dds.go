// Package dds reads DirectDraw Surface texture containers, including the DX10 extended header
// used for texture arrays, cube maps and DXGI formats
package dds

import (
	"bufio"
	"encoding/binary"
	"io"
	"math/bits"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/gpu"
)

var (
	ErrInvalidMagic = errors.New("file does not begin with the DDS magic number")
	ErrTruncated    = errors.New("dds data ended before every subresource was read")
	ErrTooLarge     = errors.New("dds header describes a texture beyond the supported limits")
)

// Texture limits, matching the Direct3D 12 resource limits
const (
	MaxTextureDimension   = 16384
	MaxTexture3DDimension = 2048
	MaxArraySize          = 2048
	MaxMipLevels          = 15
)

const (
	magic      uint32 = 0x20534444 // "DDS "
	headerSize uint32 = 124
	fourCCDX10 uint32 = 0x30315844 // "DX10"
)

// Header flags
const (
	FlagPitch       uint32 = 0x8
	FlagMipMapCount uint32 = 0x20000
	FlagLinearSize  uint32 = 0x80000
	FlagDepth       uint32 = 0x800000
)

// MiscFlagTextureCube marks a DX10 texture whose slices form cube faces
const MiscFlagTextureCube uint32 = 0x4

const pixelFormatFlagFourCC uint32 = 0x4

type PixelFormat struct {
	Size        uint32
	Flags       uint32
	FourCC      uint32
	RGBBitCount uint32
	RBitMask    uint32
	GBitMask    uint32
	BBitMask    uint32
	ABitMask    uint32
}

// Header is the fixed 124-byte header that follows the magic number
type Header struct {
	Size              uint32
	Flags             uint32
	Height            uint32
	Width             uint32
	PitchOrLinearSize uint32
	Depth             uint32
	MipMapCount       uint32
	Reserved1         [11]uint32
	PixelFormat       PixelFormat
	Caps              uint32
	Caps2             uint32
	Caps3             uint32
	Caps4             uint32
	Reserved2         uint32
}

// HeaderDX10 follows Header when the pixel format's FourCC is "DX10"
type HeaderDX10 struct {
	Format            gpu.Format
	ResourceDimension gpu.ResourceDimension
	MiscFlag          uint32
	ArraySize         uint32
	MiscFlags2        uint32
}

// Subresource is one mip level of one array slice, in the pitch it was stored with
type Subresource struct {
	MipLevel   int
	ArraySlice int
	Width      int
	Height     int
	Depth      int
	RowPitch   int
	Rows       int
	SlicePitch int
	Data       []byte
}

// Texture is a parsed DDS file. Subresources are ordered by array slice, then mip level, which
// matches subresource index order.
type Texture struct {
	Header Header
	DX10   *HeaderDX10

	Format       gpu.Format
	Dimension    gpu.ResourceDimension
	SRVDimension gpu.SRVDimension
	Width        int
	Height       int
	Depth        int
	MipLevels    int
	// ArraySize counts slices, so a cube has six per cube
	ArraySize int
	Cube      bool

	Subresources []Subresource
}

// Desc returns the description of a texture that can hold every subresource
func (t *Texture) Desc() gpu.ResourceDesc {
	desc := gpu.ResourceDesc{
		Dimension:        t.Dimension,
		Width:            t.Width,
		Height:           t.Height,
		DepthOrArraySize: t.ArraySize,
		MipLevels:        t.MipLevels,
		Format:           t.Format,
		Cube:             t.Cube,
	}
	if t.Dimension == gpu.ResourceDimensionTexture3D {
		desc.DepthOrArraySize = t.Depth
	}
	return desc
}

// Load parses the DDS file at path
func Load(path string) (*Texture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	texture, err := Parse(bufio.NewReader(file))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return texture, nil
}

// Parse reads a DDS container. Files without a DX10 header have an unknown format and dimension,
// and their pixel data is returned as a single raw subresource.
func Parse(r io.Reader) (*Texture, error) {
	var fileMagic uint32
	if err := binary.Read(r, binary.LittleEndian, &fileMagic); err != nil {
		return nil, truncated(err, "magic number")
	}
	if fileMagic != magic {
		return nil, errors.Wrapf(ErrInvalidMagic, "found %#08x", fileMagic)
	}

	texture := &Texture{}
	if err := binary.Read(r, binary.LittleEndian, &texture.Header); err != nil {
		return nil, truncated(err, "header")
	}
	if texture.Header.Size != headerSize {
		return nil, errors.Newf("dds header size must be %d, but was %d", headerSize, texture.Header.Size)
	}

	header := &texture.Header
	texture.Width = max(int(header.Width), 1)
	texture.Height = max(int(header.Height), 1)
	texture.Depth = 1
	if header.Flags&FlagDepth != 0 {
		texture.Depth = max(int(header.Depth), 1)
	}
	texture.MipLevels = 1
	if header.Flags&FlagMipMapCount != 0 && header.MipMapCount > 0 {
		texture.MipLevels = int(header.MipMapCount)
	}
	texture.ArraySize = 1

	if texture.Width > MaxTextureDimension || texture.Height > MaxTextureDimension || texture.Depth > MaxTextureDimension {
		return nil, errors.Wrapf(ErrTooLarge, "extent is %dx%dx%d", texture.Width, texture.Height, texture.Depth)
	}
	if texture.MipLevels > MaxMipLevels {
		return nil, errors.Wrapf(ErrTooLarge, "%d mip levels", texture.MipLevels)
	}

	isDX10 := header.PixelFormat.Flags&pixelFormatFlagFourCC != 0 && header.PixelFormat.FourCC == fourCCDX10
	if !isDX10 {
		return parseRaw(r, texture)
	}

	texture.DX10 = &HeaderDX10{}
	if err := binary.Read(r, binary.LittleEndian, texture.DX10); err != nil {
		return nil, truncated(err, "DX10 header")
	}

	return parseDX10(r, texture)
}

func truncated(err error, section string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrapf(ErrTruncated, "reading %s", section)
	}
	return err
}

func parseRaw(r io.Reader, texture *Texture) (*Texture, error) {
	texture.Format = gpu.FormatUnknown
	texture.Dimension = gpu.ResourceDimensionUnknown
	texture.SRVDimension = gpu.SRVDimensionUnknown

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	rowPitch := 0
	if texture.Header.Flags&FlagPitch != 0 {
		rowPitch = int(texture.Header.PitchOrLinearSize)
	} else if len(data) > 0 {
		rowPitch = len(data) / texture.Height
	}

	texture.Subresources = []Subresource{
		{
			Width:      texture.Width,
			Height:     texture.Height,
			Depth:      texture.Depth,
			RowPitch:   rowPitch,
			Rows:       texture.Height,
			SlicePitch: len(data),
			Data:       data,
		},
	}
	return texture, nil
}

func srvDimension(dx10 *HeaderDX10) gpu.SRVDimension {
	arrayed := dx10.ArraySize > 1

	if dx10.MiscFlag&MiscFlagTextureCube != 0 {
		if arrayed {
			return gpu.SRVDimensionTextureCubeArray
		}
		return gpu.SRVDimensionTextureCube
	}

	switch dx10.ResourceDimension {
	case gpu.ResourceDimensionTexture1D:
		if arrayed {
			return gpu.SRVDimensionTexture1DArray
		}
		return gpu.SRVDimensionTexture1D
	case gpu.ResourceDimensionTexture2D:
		if arrayed {
			return gpu.SRVDimensionTexture2DArray
		}
		return gpu.SRVDimensionTexture2D
	case gpu.ResourceDimensionTexture3D:
		return gpu.SRVDimensionTexture3D
	}

	return gpu.SRVDimensionUnknown
}

func checkLimits(texture *Texture) error {
	if texture.ArraySize > MaxArraySize {
		return errors.Wrapf(ErrTooLarge, "%d array slices", texture.ArraySize)
	}

	largest := max(texture.Width, texture.Height)
	if texture.Dimension == gpu.ResourceDimensionTexture3D {
		if largest > MaxTexture3DDimension || texture.Depth > MaxTexture3DDimension {
			return errors.Wrapf(ErrTooLarge, "volume extent is %dx%dx%d", texture.Width, texture.Height, texture.Depth)
		}
		largest = max(largest, texture.Depth)
	}

	if chain := bits.Len(uint(largest)); texture.MipLevels > chain {
		return errors.Wrapf(ErrTooLarge, "%d mip levels, but a %d texel extent has %d", texture.MipLevels, largest, chain)
	}

	return nil
}

// readSubresource grows its buffer as data arrives, so a header that overstates the data does not
// allocate the overstated size
func readSubresource(r io.Reader, size int) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(size)))
	if err != nil {
		return nil, err
	}
	if len(data) < size {
		return nil, io.ErrUnexpectedEOF
	}
	return data, nil
}

func parseDX10(r io.Reader, texture *Texture) (*Texture, error) {
	dx10 := texture.DX10
	switch dx10.ResourceDimension {
	case gpu.ResourceDimensionTexture1D, gpu.ResourceDimensionTexture2D, gpu.ResourceDimensionTexture3D:
	default:
		return nil, errors.Newf("DX10 header has unsupported resource dimension %s", dx10.ResourceDimension)
	}
	if _, ok := dx10.Format.Info(); !ok {
		return nil, errors.Newf("DX10 header has unsupported format %s", dx10.Format)
	}

	texture.Format = dx10.Format
	texture.Dimension = dx10.ResourceDimension
	texture.SRVDimension = srvDimension(dx10)
	texture.Cube = dx10.MiscFlag&MiscFlagTextureCube != 0

	if dx10.ArraySize > MaxArraySize {
		return nil, errors.Wrapf(ErrTooLarge, "array size is %d", dx10.ArraySize)
	}
	arraySize := max(int(dx10.ArraySize), 1)
	if texture.Cube {
		arraySize *= 6
	}
	if texture.Dimension == gpu.ResourceDimensionTexture3D {
		arraySize = 1
	} else {
		texture.Depth = 1
	}
	if texture.Dimension == gpu.ResourceDimensionTexture1D {
		texture.Height = 1
	}
	texture.ArraySize = arraySize

	if err := checkLimits(texture); err != nil {
		return nil, err
	}

	desc := texture.Desc()
	texture.Subresources = make([]Subresource, 0, desc.SubresourceCount())

	for slice := 0; slice < arraySize; slice++ {
		for mip := 0; mip < texture.MipLevels; mip++ {
			width, height, depth := desc.MipExtent(mip)

			rowPitch, rows, slicePitch, _ := texture.Format.Pitch(width, height)
			if mip == 0 && texture.Header.Flags&FlagPitch != 0 && !texture.Format.IsBlockCompressed() &&
				int(texture.Header.PitchOrLinearSize) >= rowPitch {
				rowPitch = int(texture.Header.PitchOrLinearSize)
				slicePitch = rowPitch * rows
			}

			data, err := readSubresource(r, slicePitch*depth)
			if err != nil {
				return nil, errors.Wrapf(truncated(err, "pixel data"), "slice %d mip %d", slice, mip)
			}

			texture.Subresources = append(texture.Subresources, Subresource{
				MipLevel:   mip,
				ArraySlice: slice,
				Width:      width,
				Height:     height,
				Depth:      depth,
				RowPitch:   rowPitch,
				Rows:       rows,
				SlicePitch: slicePitch,
				Data:       data,
			})
		}
	}

	return texture, nil
}
