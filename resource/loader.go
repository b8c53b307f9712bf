package resource

import (
	"bufio"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/formats/dds"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// decodedFile is a texture file after decoding but before conversion, so that loads of one file
// with different LoadFlags share a decode
type decodedFile struct {
	texture *dds.Texture
	img     image.Image
}

func (f *decodedFile) cost() int64 {
	if f.texture != nil {
		var size int64
		for _, subresource := range f.texture.Subresources {
			size += int64(len(subresource.Data))
		}
		return max(size, 1)
	}

	bounds := f.img.Bounds()
	return max(int64(bounds.Dx())*int64(bounds.Dy())*4, 1)
}

func decodeFile(path string) (*decodedFile, error) {
	if strings.EqualFold(filepath.Ext(path), ".dds") {
		texture, err := dds.Load(path)
		if err != nil {
			return nil, err
		}
		return &decodedFile{texture: texture}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()

	img, _, err := image.Decode(bufio.NewReader(file))
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "failed to decode %s: %v", path, err)
	}
	return &decodedFile{img: img}, nil
}

// LoadTextureData reads a texture file into upload-ready data. DDS files are used as stored;
// PNG, JPEG, BMP, TIFF and WebP images become RGBA8 textures shaped by flags.
func (m *Manager) LoadTextureData(path string, flags LoadFlags) (*TextureData, error) {
	file, ok := m.fileCache.Get(path)
	if !ok {
		var err error
		file, err = decodeFile(path)
		if err != nil {
			return nil, err
		}

		m.fileCache.Set(path, file, file.cost())
		m.fileCache.Wait()
	}

	if file.texture != nil {
		return TextureDataFromDDS(file.texture)
	}
	return TextureDataFromImage(file.img, flags), nil
}
