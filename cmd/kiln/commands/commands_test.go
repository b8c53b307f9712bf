package commands

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kiln/formats/dds"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/pager"
	"gopkg.in/yaml.v3"
)

const (
	ddsMagic   uint32 = 0x20534444
	fourCCDX10 uint32 = 0x30315844
)

func execute(t *testing.T, args ...string) (string, error) {
	wd, wdErr := os.Getwd()
	require.NoError(t, wdErr)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	simulateMeshes = nil
	simulateTextures = nil
	statsDetailed = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeDDS(t *testing.T, dir string) string {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, ddsMagic))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, dds.Header{
		Size:        124,
		Flags:       dds.FlagMipMapCount,
		Width:       4,
		Height:      4,
		MipMapCount: 1,
		PixelFormat: dds.PixelFormat{Size: 32, Flags: 0x4, FourCC: fourCCDX10},
	}))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, dds.HeaderDX10{
		Format:            gpu.FormatR8G8B8A8UNorm,
		ResourceDimension: gpu.ResourceDimensionTexture2D,
		ArraySize:         1,
	}))
	buf.Write(make([]byte, 64))

	path := filepath.Join(dir, "white.dds")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func writeOBJ(t *testing.T, dir string) string {
	path := filepath.Join(dir, "triangle.obj")
	require.NoError(t, os.WriteFile(path, []byte("v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"), 0o600))
	return path
}

func TestSimulate(t *testing.T) {
	out, err := execute(t, "simulate", "--frames", "5")
	require.NoError(t, err)
	require.Contains(t, out, "frames:      5\n")
	require.Contains(t, out, "textures:")
}

func TestSimulateWithAssets(t *testing.T) {
	dir := t.TempDir()
	meshPath := writeOBJ(t, dir)
	texturePath := writeDDS(t, dir)

	out, err := execute(t, "simulate", "--frames", "3", "--mesh", meshPath, "--texture", texturePath)
	require.NoError(t, err)
	require.Contains(t, out, "frames:      3\n")
}

func TestSimulateFailsOnMissingAssets(t *testing.T) {
	_, err := execute(t, "simulate", "--frames", "1", "--mesh", filepath.Join(t.TempDir(), "missing.obj"))
	require.Error(t, err)
}

func TestStatsFormats(t *testing.T) {
	out, err := execute(t, "stats", "--frames", "4", "--format", "yaml")
	require.NoError(t, err)

	var stats map[string]pager.AllocatorStatistics
	require.NoError(t, yaml.Unmarshal([]byte(out), &stats))
	require.Equal(t, 1, stats["textures"].Total.PageCount)
	require.Positive(t, stats["buffers"].Total.PageCount)
	require.Zero(t, stats["buffers"].Temporary.PageCount)

	out, err = execute(t, "stats", "--frames", "2", "--format", "json")
	require.NoError(t, err)
	require.True(t, json.Valid([]byte(out)), out)

	out, err = execute(t, "stats", "--frames", "2", "--format", "json", "--detailed")
	require.NoError(t, err)
	require.True(t, json.Valid([]byte(out)), out)

	_, err = execute(t, "stats", "--format", "xml")
	require.Error(t, err)
}

func TestDescribeAssets(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "dds", writeDDS(t, dir))
	require.NoError(t, err)
	require.Contains(t, out, "format:       R8G8B8A8_UNORM")
	require.Contains(t, out, "view:         TEXTURE2D")

	out, err = execute(t, "obj", writeOBJ(t, dir))
	require.NoError(t, err)
	require.Contains(t, out, "triangles: 1\n")
}
