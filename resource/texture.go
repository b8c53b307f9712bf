package resource

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/pager"
)

// stageSubresources copies each subresource into upload memory laid out as footprints describes
func stageSubresources(dst []byte, footprints gpu.CopyableFootprints, data *TextureData) error {
	for index, layout := range footprints.Layouts {
		source := data.Subresources[index]
		rowSize := footprints.RowSizeInBytes[index]
		rows := footprints.NumRows[index]
		depth := max(layout.Footprint.Depth, 1)

		if source.RowPitch < rowSize {
			return errors.Newf("subresource %d has a row pitch of %d bytes, but its rows hold %d", index, source.RowPitch, rowSize)
		}
		slicePitch := source.SlicePitch
		if slicePitch == 0 {
			slicePitch = source.RowPitch * rows
		}
		needed := (depth-1)*slicePitch + (rows-1)*source.RowPitch + rowSize
		if len(source.Data) < needed {
			return errors.Newf("subresource %d holds %d bytes, but needs %d", index, len(source.Data), needed)
		}

		for z := 0; z < depth; z++ {
			for y := 0; y < rows; y++ {
				dstStart := layout.Offset + (z*rows+y)*layout.Footprint.RowPitch
				srcStart := z*slicePitch + y*source.RowPitch
				copy(dst[dstStart:dstStart+rowSize], source.Data[srcStart:srcStart+rowSize])
			}
		}
	}

	return nil
}

// CreateTexture records the upload of data into a new default-heap texture and writes its SRV.
// The texture is left in the pixel shader resource state.
func (m *Manager) CreateTexture(cl gpu.CommandList, data *TextureData) (TextureID, error) {
	return m.createTexture(cl, data, "")
}

func (m *Manager) createTexture(cl gpu.CommandList, data *TextureData, path string) (TextureID, error) {
	if data == nil {
		return TextureID{}, errors.New("cannot create a texture from nil data")
	}

	desc := data.Desc
	m.logger.Debug("Manager::CreateTexture",
		slog.String("Dimension", desc.Dimension.String()),
		slog.String("Format", desc.Format.String()),
		slog.Int("Width", desc.Width),
		slog.Int("Height", desc.Height),
		slog.Int("Subresources", desc.SubresourceCount()),
		slog.String("Path", path),
	)

	if len(data.Subresources) != desc.SubresourceCount() {
		return TextureID{}, errors.Newf("texture has %d subresources, but %d were supplied", desc.SubresourceCount(), len(data.Subresources))
	}
	if _, ok := desc.Format.Info(); !ok {
		return TextureID{}, errors.Wrapf(ErrUnsupportedFormat, "textures cannot use %s", desc.Format)
	}

	footprints, err := gpu.GetCopyableFootprints(desc, 0, desc.SubresourceCount(), 0)
	if err != nil {
		return TextureID{}, err
	}

	upload, err := m.buffers.AllocateTemporary(footprints.TotalBytes, gpu.TextureDataPlacementAlignment)
	if err != nil {
		return TextureID{}, errors.Wrap(err, "failed to allocate texture upload memory")
	}
	if upload.CPU == nil {
		return TextureID{}, ErrNilResource
	}
	err = stageSubresources(upload.CPU, footprints, data)
	if err != nil {
		return TextureID{}, err
	}

	alloc, err := m.textures.Allocate(desc)
	if err != nil {
		return TextureID{}, errors.Wrap(err, "failed to create texture")
	}
	texture, err := m.textures.Resource(alloc)
	if err != nil {
		return TextureID{}, err
	}
	uploadResource, err := m.buffers.Resource(upload)
	if err != nil {
		return TextureID{}, err
	}
	if texture == nil || uploadResource == nil {
		return TextureID{}, ErrNilResource
	}

	err = m.textures.Transition(cl, alloc, gpu.ResourceStateCopyDest)
	if err != nil {
		return TextureID{}, err
	}
	for index, layout := range footprints.Layouts {
		placed := gpu.PlacedSubresourceFootprint{
			Offset:    upload.Offset + layout.Offset,
			Footprint: layout.Footprint,
		}
		cl.CopyTextureRegion(
			gpu.TextureCopyLocation{Resource: texture, SubresourceIndex: index},
			gpu.TextureCopyLocation{Resource: uploadResource, PlacedFootprint: &placed},
		)
	}
	err = m.textures.Transition(cl, alloc, gpu.ResourceStatePixelShaderResource)
	if err != nil {
		return TextureID{}, err
	}

	srv, err := m.descriptors.Allocate(pager.DescriptorCategory{HeapType: gpu.DescriptorHeapTypeCBVSRVUAV}, 1)
	if err != nil {
		return TextureID{}, errors.Wrap(err, "failed to allocate texture descriptor")
	}

	info := TextureInfo{Desc: desc, SRVDimension: gpu.SRVDimensionFor(desc), Path: path}
	var view *gpu.ShaderResourceViewDesc
	if data.SRVDimension != gpu.SRVDimensionUnknown && data.SRVDimension != info.SRVDimension {
		info.SRVDimension = data.SRVDimension
		view = &gpu.ShaderResourceViewDesc{
			Format:        desc.Format,
			ViewDimension: data.SRVDimension,
			MipLevels:     max(desc.MipLevels, 1),
			ArraySize:     desc.ArraySize(),
		}
	}
	err = m.factory.CreateShaderResourceView(texture, view, srv.CPUHandle)
	if err != nil {
		return TextureID{}, err
	}

	id := register(m, &m.textureEntries, textureEntry{alloc: alloc, info: info, srv: srv}, CategoryTexture)
	return TextureID{id}, nil
}

// CreateTextureFromFile loads a DDS or image file and records its upload. Loading the same path
// with the same flags again returns the texture created the first time.
func (m *Manager) CreateTextureFromFile(cl gpu.CommandList, path string, flags LoadFlags) (TextureID, error) {
	key := textureKey{path: path, flags: flags}

	m.mutex.Lock()
	id, ok := m.texturePaths.Get(key)
	m.mutex.Unlock()
	if ok {
		return id, nil
	}

	data, err := m.LoadTextureData(path, flags)
	if err != nil {
		return TextureID{}, err
	}

	id, err = m.createTexture(cl, data, path)
	if err != nil {
		return TextureID{}, errors.Wrapf(err, "failed to create texture from %s", path)
	}

	m.mutex.Lock()
	m.texturePaths.Put(key, id)
	m.mutex.Unlock()

	return id, nil
}

// TextureSRV returns the handle of a texture's shader resource view
func (m *Manager) TextureSRV(id TextureID) (gpu.CPUDescriptorHandle, error) {
	entry, err := lookup(m, &m.textureEntries, id.ID, CategoryTexture)
	if err != nil {
		return gpu.CPUDescriptorHandle{}, err
	}
	return entry.srv.CPUHandle, nil
}

func (m *Manager) TextureInfo(id TextureID) (TextureInfo, error) {
	entry, err := lookup(m, &m.textureEntries, id.ID, CategoryTexture)
	if err != nil {
		return TextureInfo{}, err
	}
	return entry.info, nil
}

// TextureResource returns the committed texture behind id
func (m *Manager) TextureResource(id TextureID) (gpu.Resource, error) {
	entry, err := lookup(m, &m.textureEntries, id.ID, CategoryTexture)
	if err != nil {
		return nil, err
	}
	return m.textures.Resource(entry.alloc)
}
