// Package obj reads Wavefront OBJ meshes into indexed triangle lists
package obj

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

var ErrMalformed = errors.New("malformed obj record")

// Vertex is one deduplicated combination of position, texture coordinate and normal
type Vertex struct {
	Position [3]float32
	TexCoord [2]float32
	Normal   [3]float32
}

// VertexStride is the size in bytes of one Vertex in VertexData
const VertexStride = 32

type BoundingBox struct {
	Min [3]float32
	Max [3]float32
}

func (b BoundingBox) Center() [3]float32 {
	return [3]float32{
		(b.Min[0] + b.Max[0]) / 2,
		(b.Min[1] + b.Max[1]) / 2,
		(b.Min[2] + b.Max[2]) / 2,
	}
}

type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
	Bounds   BoundingBox

	HasTexCoords bool
	HasNormals   bool
}

// VertexData returns the vertices interleaved as little-endian float32s, VertexStride bytes each
func (m *Mesh) VertexData() []byte {
	data := make([]byte, 0, len(m.Vertices)*VertexStride)
	for _, vertex := range m.Vertices {
		for _, f := range vertex.Position {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(f))
		}
		for _, f := range vertex.TexCoord {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(f))
		}
		for _, f := range vertex.Normal {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(f))
		}
	}
	return data
}

// IndexData returns the indices as little-endian uint32s
func (m *Mesh) IndexData() []byte {
	data := make([]byte, 0, len(m.Indices)*4)
	for _, index := range m.Indices {
		data = binary.LittleEndian.AppendUint32(data, index)
	}
	return data
}

// TriangleCount returns the number of triangles in the index list
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// vertexKey holds 0-based attribute indices, with -1 for an absent attribute
type vertexKey struct {
	position int
	texCoord int
	normal   int
}

type parser struct {
	positions [][3]float32
	texCoords [][2]float32
	normals   [][3]float32

	mesh    *Mesh
	lookup  *swiss.Map[vertexKey, uint32]
	line    int
	corners []uint32
}

// Load parses the OBJ file at path
func Load(path string) (*Mesh, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	mesh, err := Parse(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return mesh, nil
}

// Parse reads v, vt, vn and f records. Faces with more than three corners are triangulated as a
// fan around their first corner. Object, group, smoothing and material records are ignored.
func Parse(r io.Reader) (*Mesh, error) {
	p := &parser{
		mesh:   &Mesh{},
		lookup: swiss.NewMap[vertexKey, uint32](64),
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.line++

		line := scanner.Text()
		if comment := strings.IndexByte(line, '#'); comment >= 0 {
			line = line[:comment]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "v":
			var position [3]float32
			position, err = p.parseFloats3(fields[1:], "position")
			p.positions = append(p.positions, position)
		case "vn":
			var normal [3]float32
			normal, err = p.parseFloats3(fields[1:], "normal")
			p.normals = append(p.normals, normal)
		case "vt":
			err = p.parseTexCoord(fields[1:])
		case "f":
			err = p.parseFace(fields[1:])
		case "o", "g", "s", "usemtl", "mtllib":
		default:
		}
		if err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	p.computeBounds()
	return p.mesh, nil
}

func (p *parser) malformed(format string, args ...any) error {
	return errors.Wrapf(ErrMalformed, "line %d: %s", p.line, fmt.Sprintf(format, args...))
}

func (p *parser) parseFloat(field string) (float32, error) {
	value, err := strconv.ParseFloat(field, 32)
	if err != nil {
		return 0, p.malformed("%q is not a number", field)
	}
	return float32(value), nil
}

func (p *parser) parseFloats3(fields []string, name string) ([3]float32, error) {
	var out [3]float32
	if len(fields) < 3 {
		return out, p.malformed("%s needs 3 components, but has %d", name, len(fields))
	}

	for i := 0; i < 3; i++ {
		value, err := p.parseFloat(fields[i])
		if err != nil {
			return out, err
		}
		out[i] = value
	}
	return out, nil
}

func (p *parser) parseTexCoord(fields []string) error {
	if len(fields) < 1 {
		return p.malformed("texture coordinate has no components")
	}

	var texCoord [2]float32
	for i := 0; i < min(len(fields), 2); i++ {
		value, err := p.parseFloat(fields[i])
		if err != nil {
			return err
		}
		texCoord[i] = value
	}

	p.texCoords = append(p.texCoords, texCoord)
	return nil
}

// resolveIndex converts a 1-based or negative relative index into a 0-based index
func (p *parser) resolveIndex(field string, count int, name string) (int, error) {
	index, err := strconv.Atoi(field)
	if err != nil {
		return 0, p.malformed("%s index %q is not an integer", name, field)
	}

	switch {
	case index > 0 && index <= count:
		return index - 1, nil
	case index < 0 && -index <= count:
		return count + index, nil
	}
	return 0, p.malformed("%s index %d is out of range, %d are defined", name, index, count)
}

func (p *parser) parseCorner(field string) (vertexKey, error) {
	key := vertexKey{texCoord: -1, normal: -1}
	parts := strings.Split(field, "/")
	if len(parts) > 3 || parts[0] == "" {
		return key, p.malformed("face corner %q is not v, v/vt, v//vn or v/vt/vn", field)
	}

	var err error
	key.position, err = p.resolveIndex(parts[0], len(p.positions), "position")
	if err != nil {
		return key, err
	}

	if len(parts) > 1 && parts[1] != "" {
		key.texCoord, err = p.resolveIndex(parts[1], len(p.texCoords), "texture coordinate")
		if err != nil {
			return key, err
		}
	}
	if len(parts) > 2 && parts[2] != "" {
		key.normal, err = p.resolveIndex(parts[2], len(p.normals), "normal")
		if err != nil {
			return key, err
		}
	}

	return key, nil
}

func (p *parser) vertexIndex(key vertexKey) uint32 {
	if index, ok := p.lookup.Get(key); ok {
		return index
	}

	vertex := Vertex{Position: p.positions[key.position]}
	if key.texCoord >= 0 {
		vertex.TexCoord = p.texCoords[key.texCoord]
		p.mesh.HasTexCoords = true
	}
	if key.normal >= 0 {
		vertex.Normal = p.normals[key.normal]
		p.mesh.HasNormals = true
	}

	index := uint32(len(p.mesh.Vertices))
	p.mesh.Vertices = append(p.mesh.Vertices, vertex)
	p.lookup.Put(key, index)
	return index
}

func (p *parser) parseFace(fields []string) error {
	if len(fields) < 3 {
		return p.malformed("face needs at least 3 corners, but has %d", len(fields))
	}

	p.corners = p.corners[:0]
	for _, field := range fields {
		key, err := p.parseCorner(field)
		if err != nil {
			return err
		}
		p.corners = append(p.corners, p.vertexIndex(key))
	}

	for i := 1; i+1 < len(p.corners); i++ {
		p.mesh.Indices = append(p.mesh.Indices, p.corners[0], p.corners[i], p.corners[i+1])
	}
	return nil
}

func (p *parser) computeBounds() {
	if len(p.mesh.Vertices) == 0 {
		return
	}

	bounds := BoundingBox{
		Min: p.mesh.Vertices[0].Position,
		Max: p.mesh.Vertices[0].Position,
	}
	for _, vertex := range p.mesh.Vertices[1:] {
		for axis := 0; axis < 3; axis++ {
			bounds.Min[axis] = min(bounds.Min[axis], vertex.Position[axis])
			bounds.Max[axis] = max(bounds.Max[axis], vertex.Position[axis])
		}
	}
	p.mesh.Bounds = bounds
}
