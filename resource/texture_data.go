package resource

import (
	"image"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/formats/dds"
	"github.com/vkngwrapper/kiln/gpu"
	"golang.org/x/image/draw"
)

// LoadFlags changes how image files are turned into textures
type LoadFlags int32

const (
	// LoadSRGB marks image data as sRGB encoded. DDS files carry their own format and ignore it.
	LoadSRGB LoadFlags = 1 << iota
	// LoadGenerateMips builds a full mip chain for image files. DDS files carry their own mips.
	LoadGenerateMips

	LoadFlagsNone LoadFlags = 0
)

var loadFlagsMapping = map[LoadFlags]string{
	LoadSRGB:         "LoadSRGB",
	LoadGenerateMips: "LoadGenerateMips",
}

func (f LoadFlags) String() string {
	if f == LoadFlagsNone {
		return "None"
	}

	var names []string
	for flag := LoadSRGB; flag <= LoadGenerateMips; flag <<= 1 {
		if f&flag != 0 {
			names = append(names, loadFlagsMapping[flag])
		}
	}
	return strings.Join(names, "|")
}

// SubresourceData is the pixel data of one subresource in the pitch it is stored with. Volume
// subresources hold Desc depth slices of SlicePitch bytes each.
type SubresourceData struct {
	Data       []byte
	RowPitch   int
	SlicePitch int
}

// TextureData is a texture ready for upload. Subresources are in subresource index order.
type TextureData struct {
	Desc gpu.ResourceDesc
	// SRVDimension overrides the view dimension derived from Desc when it is not unknown
	SRVDimension gpu.SRVDimension
	Subresources []SubresourceData
}

// ByteSize returns the number of pixel bytes held by the texture
func (t *TextureData) ByteSize() int {
	var size int
	for _, subresource := range t.Subresources {
		size += len(subresource.Data)
	}
	return size
}

// TextureDataFromDDS converts a parsed DDS file. Files without a DX10 header have no known format
// and fail with ErrUnsupportedFormat.
func TextureDataFromDDS(texture *dds.Texture) (*TextureData, error) {
	if texture.Format == gpu.FormatUnknown || texture.Dimension == gpu.ResourceDimensionUnknown {
		return nil, errors.Wrap(ErrUnsupportedFormat, "dds file has no DX10 header")
	}

	data := &TextureData{
		Desc:         texture.Desc(),
		SRVDimension: texture.SRVDimension,
		Subresources: make([]SubresourceData, 0, len(texture.Subresources)),
	}
	for _, subresource := range texture.Subresources {
		data.Subresources = append(data.Subresources, SubresourceData{
			Data:       subresource.Data,
			RowPitch:   subresource.RowPitch,
			SlicePitch: subresource.SlicePitch,
		})
	}

	return data, nil
}

// mipCount returns the length of a full mip chain for a width x height image
func mipCount(width, height int) int {
	count := 1
	for width > 1 || height > 1 {
		width = max(width/2, 1)
		height = max(height/2, 1)
		count++
	}
	return count
}

// TextureDataFromImage converts a decoded image to an RGBA8 texture, optionally with a full mip
// chain filtered bilinearly from the top level
func TextureDataFromImage(img image.Image, flags LoadFlags) *TextureData {
	bounds := img.Bounds()
	top := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(top, top.Bounds(), img, bounds.Min, draw.Src)

	format := gpu.FormatR8G8B8A8UNorm
	if flags&LoadSRGB != 0 {
		format = gpu.FormatR8G8B8A8UNormSRGB
	}

	mipLevels := 1
	if flags&LoadGenerateMips != 0 {
		mipLevels = mipCount(top.Rect.Dx(), top.Rect.Dy())
	}

	data := &TextureData{
		Desc:         gpu.Texture2DDesc(format, top.Rect.Dx(), top.Rect.Dy(), 1, mipLevels, gpu.ResourceFlagNone),
		SRVDimension: gpu.SRVDimensionTexture2D,
		Subresources: make([]SubresourceData, 0, mipLevels),
	}

	level := top
	for mip := 0; mip < mipLevels; mip++ {
		if mip > 0 {
			width, height, _ := data.Desc.MipExtent(mip)
			next := image.NewRGBA(image.Rect(0, 0, width, height))
			draw.ApproxBiLinear.Scale(next, next.Rect, level, level.Rect, draw.Src, nil)
			level = next
		}

		data.Subresources = append(data.Subresources, SubresourceData{
			Data:       level.Pix,
			RowPitch:   level.Stride,
			SlicePitch: level.Stride * level.Rect.Dy(),
		})
	}

	return data
}
