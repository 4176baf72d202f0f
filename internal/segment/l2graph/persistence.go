package l2graph

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/banshee-data/pointseg/internal/fsutil"
	"github.com/banshee-data/pointseg/internal/segment"
)

// Graph file formats, chosen by extension.
const (
	ExtGob     = ".rwg"
	ExtMsgpack = ".msgpack"
)

// graphFileVersion is bumped whenever graphSnapshot changes shape.
const graphFileVersion = 1

// graphSnapshot is the on-disk form of a Graph. Vectors are flattened so
// the msgpack encoding stays language neutral.
type graphSnapshot struct {
	Version       int            `msgpack:"version"`
	HasColor      bool           `msgpack:"has_color"`
	HasNormals    bool           `msgpack:"has_normals"`
	Vertices      []vertexRecord `msgpack:"vertices"`
	Edges         []Edge         `msgpack:"edges"`
	PointToVertex []int          `msgpack:"point_to_vertex"`
}

type vertexRecord struct {
	Pos       [3]float64 `msgpack:"pos"`
	Color     [3]uint8   `msgpack:"color"`
	Normal    [3]float64 `msgpack:"normal"`
	Curvature float64    `msgpack:"curvature"`
	Concave   bool       `msgpack:"concave"`
	Label     int        `msgpack:"label"`
}

func snapshotOf(g *Graph) *graphSnapshot {
	s := &graphSnapshot{
		Version:       graphFileVersion,
		HasColor:      g.HasColor,
		HasNormals:    g.HasNormals,
		Vertices:      make([]vertexRecord, len(g.Vertices)),
		Edges:         g.Edges,
		PointToVertex: g.PointToVertex,
	}
	for i, v := range g.Vertices {
		s.Vertices[i] = vertexRecord{
			Pos:       [3]float64{v.Pos.X, v.Pos.Y, v.Pos.Z},
			Color:     v.Color,
			Normal:    [3]float64{v.Normal.X, v.Normal.Y, v.Normal.Z},
			Curvature: v.Curvature,
			Concave:   v.Concave,
			Label:     v.Label,
		}
	}
	return s
}

func (s *graphSnapshot) graph() (*Graph, error) {
	if s.Version != graphFileVersion {
		return nil, fmt.Errorf("unsupported graph file version %d", s.Version)
	}
	g := NewGraph(len(s.Vertices), len(s.Edges))
	g.HasColor = s.HasColor
	g.HasNormals = s.HasNormals
	for _, r := range s.Vertices {
		v := Vertex{
			Color:     r.Color,
			Curvature: r.Curvature,
			Concave:   r.Concave,
			Label:     r.Label,
		}
		v.Pos.X, v.Pos.Y, v.Pos.Z = r.Pos[0], r.Pos[1], r.Pos[2]
		v.Normal.X, v.Normal.Y, v.Normal.Z = r.Normal[0], r.Normal[1], r.Normal[2]
		g.Vertices = append(g.Vertices, v)
	}
	g.Edges = append(g.Edges, s.Edges...)
	g.PointToVertex = s.PointToVertex
	if err := g.Validate(); err != nil {
		return nil, err
	}
	g.rebuildEdgeIndex()
	g.Finalize()
	return g, nil
}

// EncodeGob writes g as a gzip-compressed gob stream.
func EncodeGob(w io.Writer, g *Graph) error {
	gz := gzip.NewWriter(w)
	if err := gob.NewEncoder(gz).Encode(snapshotOf(g)); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// DecodeGob reads a graph written by EncodeGob.
func DecodeGob(r io.Reader) (*Graph, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var s graphSnapshot
	if err := gob.NewDecoder(gz).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode graph: %w", err)
	}
	return s.graph()
}

// EncodeMsgpack writes g as msgpack.
func EncodeMsgpack(w io.Writer, g *Graph) error {
	return msgpack.NewEncoder(w).Encode(snapshotOf(g))
}

// DecodeMsgpack reads a graph written by EncodeMsgpack.
func DecodeMsgpack(r io.Reader) (*Graph, error) {
	var s graphSnapshot
	if err := msgpack.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode graph: %w", err)
	}
	return s.graph()
}

// SaveGraph writes g to path, choosing the encoding from the extension
// (.rwg for gob+gzip, .msgpack for msgpack).
func SaveGraph(fsys fsutil.FileSystem, path string, g *Graph) error {
	encode, err := encoderFor(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := encode(&buf, g); err != nil {
		return segment.IOError("encode graph", path, err)
	}
	f, err := fsys.Create(path)
	if err != nil {
		return segment.IOError("create", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return segment.IOError("write", path, err)
	}
	if err := f.Close(); err != nil {
		return segment.IOError("close", path, err)
	}
	diagf("saved graph %s: %d vertices, %d edges, %d bytes", path, g.NumVertices(), g.NumEdges(), buf.Len())
	return nil
}

// LoadGraph reads a graph saved by SaveGraph. The result is validated and
// finalized.
func LoadGraph(fsys fsutil.FileSystem, path string) (*Graph, error) {
	decode, err := decoderFor(path)
	if err != nil {
		return nil, err
	}
	f, err := fsys.Open(path)
	if err != nil {
		return nil, segment.IOError("open", path, err)
	}
	defer f.Close()
	g, err := decode(f)
	if err != nil {
		return nil, segment.IOError("decode graph", path, err)
	}
	diagf("loaded graph %s: %d vertices, %d edges", path, g.NumVertices(), g.NumEdges())
	return g, nil
}

func encoderFor(path string) (func(io.Writer, *Graph) error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtGob:
		return EncodeGob, nil
	case ExtMsgpack:
		return EncodeMsgpack, nil
	}
	return nil, segment.Invalidf("graph file %q must end in %s or %s", path, ExtGob, ExtMsgpack)
}

func decoderFor(path string) (func(io.Reader) (*Graph, error), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtGob:
		return DecodeGob, nil
	case ExtMsgpack:
		return DecodeMsgpack, nil
	}
	return nil, segment.Invalidf("graph file %q must end in %s or %s", path, ExtGob, ExtMsgpack)
}
