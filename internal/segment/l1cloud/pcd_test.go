package l1cloud

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pointseg/internal/fsutil"
	"github.com/banshee-data/pointseg/internal/segment"
)

const asciiXYZRGB = `# .PCD v0.7 - Point Cloud Data file format
VERSION 0.7
FIELDS x y z rgb
SIZE 4 4 4 4
TYPE F F F U
COUNT 1 1 1 1
WIDTH 3
HEIGHT 1
VIEWPOINT 0 0 0 1 0 0 0
POINTS 3
DATA ascii
0 0 0 16711680
1.5 -2 0.25 65280
nan nan nan 255
`

func TestReadPCD_ASCII(t *testing.T) {
	t.Parallel()

	c, err := ReadPCD(strings.NewReader(asciiXYZRGB))
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())
	assert.True(t, c.HasColor)
	assert.False(t, c.HasNormals)
	assert.False(t, c.HasLabels)
	assert.False(t, c.Organized())

	assert.Equal(t, r3.Vec{X: 1.5, Y: -2, Z: 0.25}, c.Points[1].Pos)
	assert.Equal(t, [3]uint8{255, 0, 0}, c.Points[0].Color)
	assert.Equal(t, [3]uint8{0, 255, 0}, c.Points[1].Color)
	assert.False(t, c.Points[2].Valid(), "NaN point must be invalid")
	assert.Equal(t, 2, c.ValidCount())
}

func TestReadPCD_FloatPackedRGB(t *testing.T) {
	t.Parallel()

	packed := math.Float32frombits(0x4A102030)
	src := "FIELDS x y z rgb\nSIZE 4 4 4 4\nTYPE F F F F\nWIDTH 1\nHEIGHT 1\nPOINTS 1\nDATA ascii\n0 0 0 " +
		formatFloat(float64(packed), 32) + "\n"
	c, err := ReadPCD(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{0x10, 0x20, 0x30}, c.Points[0].Color)
}

func TestReadPCD_Binary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.WriteString("VERSION 0.7\nFIELDS x y z label\nSIZE 4 4 4 4\nTYPE F F F U\nCOUNT 1 1 1 1\n")
	buf.WriteString("WIDTH 2\nHEIGHT 1\nPOINTS 2\nDATA binary\n")
	for _, p := range []struct {
		x, y, z float32
		label   uint32
	}{{1, 2, 3, 7}, {-1, -2, -3, 0}} {
		binary.Write(&buf, binary.LittleEndian, p.x)
		binary.Write(&buf, binary.LittleEndian, p.y)
		binary.Write(&buf, binary.LittleEndian, p.z)
		binary.Write(&buf, binary.LittleEndian, p.label)
	}

	c, err := ReadPCD(&buf)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())
	assert.True(t, c.HasLabels)
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, c.Points[0].Pos)
	assert.Equal(t, uint32(7), c.Points[0].Label)
	assert.Equal(t, r3.Vec{X: -1, Y: -2, Z: -3}, c.Points[1].Pos)
}

func TestReadPCD_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
	}{
		{"no data line", "FIELDS x y z\nWIDTH 1\nHEIGHT 1\n"},
		{"missing z", "FIELDS x y\nWIDTH 1\nHEIGHT 1\nPOINTS 1\nDATA ascii\n0 0\n"},
		{"short row", "FIELDS x y z\nWIDTH 1\nHEIGHT 1\nPOINTS 1\nDATA ascii\n0 0\n"},
		{"truncated", "FIELDS x y z\nWIDTH 2\nHEIGHT 1\nPOINTS 2\nDATA ascii\n0 0 0\n"},
		{"size mismatch", "FIELDS x y z\nSIZE 4 4\nWIDTH 1\nHEIGHT 1\nPOINTS 1\nDATA ascii\n0 0 0\n"},
		{"points mismatch", "FIELDS x y z\nWIDTH 2\nHEIGHT 2\nPOINTS 3\nDATA ascii\n"},
		{"compressed", "FIELDS x y z\nWIDTH 1\nHEIGHT 1\nPOINTS 1\nDATA binary_compressed\n"},
		{"unknown key", "FOO bar\n"},
		{"bad value", "FIELDS x y z\nWIDTH 1\nHEIGHT 1\nPOINTS 1\nDATA ascii\n0 zero 0\n"},
		{"huge points ascii", "FIELDS x y z\nWIDTH 100000000000000\nHEIGHT 1\nPOINTS 100000000000000\nDATA ascii\n0 0 0\n"},
		{"huge points binary", "FIELDS x y z\nWIDTH 100000000000000\nHEIGHT 1\nPOINTS 100000000000000\nDATA binary\n\x00\x00"},
		{"dimension overflow", "FIELDS x y z\nWIDTH 4611686018427387904\nHEIGHT 4\nPOINTS 0\nDATA ascii\n"},
		{"huge count", "FIELDS x y z\nCOUNT 1 1 1000000000\nWIDTH 1\nHEIGHT 1\nPOINTS 1\nDATA binary\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ReadPCD(strings.NewReader(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestWriteReadPCD_RoundTrip(t *testing.T) {
	t.Parallel()

	in := NewCloud([]Point{
		{Pos: r3.Vec{X: 0.1, Y: 0.2, Z: 0.3}, Color: [3]uint8{1, 2, 3}, Normal: r3.Vec{Z: 1}, Curvature: 0.5, Label: 2},
		{Pos: r3.Vec{X: -1e-7, Y: 12345.678901, Z: 0}, Color: [3]uint8{250, 0, 9}, Normal: r3.Vec{X: 1}, Label: 1},
	})
	in.HasColor, in.HasNormals, in.HasLabels = true, true, true

	var buf bytes.Buffer
	require.NoError(t, WritePCD(&buf, in))

	out, err := ReadPCD(&buf)
	require.NoError(t, err)
	require.Equal(t, in.Len(), out.Len())
	assert.True(t, out.HasColor && out.HasNormals && out.HasLabels)
	for i := range in.Points {
		assert.Equal(t, in.Points[i].Pos, out.Points[i].Pos, "positions are written as doubles")
		assert.Equal(t, in.Points[i].Color, out.Points[i].Color)
		assert.Equal(t, in.Points[i].Label, out.Points[i].Label)
		assert.InDelta(t, in.Points[i].Curvature, out.Points[i].Curvature, 1e-6)
		assert.InDelta(t, in.Points[i].Normal.X, out.Points[i].Normal.X, 1e-6)
	}
}

func TestLoadSavePCD(t *testing.T) {
	t.Parallel()
	mfs := fsutil.NewMemoryFileSystem()

	_, err := LoadPCD(mfs, "/missing.pcd")
	require.Error(t, err)
	assert.True(t, errors.Is(err, segment.ErrIO))

	c := NewCloud([]Point{{Pos: r3.Vec{X: 1}}})
	require.NoError(t, SavePCD(mfs, "/cloud.pcd", c))
	got, err := LoadPCD(mfs, "/cloud.pcd")
	require.NoError(t, err)
	assert.Equal(t, c.Points[0].Pos, got.Points[0].Pos)

	w, err := mfs.Create("/corrupt.pcd")
	require.NoError(t, err)
	_, err = w.Write([]byte("FIELDS x y z\nWIDTH 100000000000000\nPOINTS 100000000000000\nDATA ascii\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	_, err = LoadPCD(mfs, "/corrupt.pcd")
	assert.ErrorIs(t, err, segment.ErrIO)
}

func TestCloudHelpers(t *testing.T) {
	t.Parallel()

	c := NewCloud([]Point{{Pos: r3.Vec{X: 1}}, {Pos: r3.Vec{X: 2}}, {Pos: r3.Vec{X: 3}}})
	c.HasColor = true

	sub := c.Subset([]int{2, 0})
	require.Equal(t, 2, sub.Len())
	assert.Equal(t, 3.0, sub.Points[0].Pos.X)
	assert.True(t, sub.HasColor)

	labeled := c.WithLabels([]uint32{1, 0, 2})
	assert.True(t, labeled.HasLabels)
	assert.Equal(t, uint32(2), labeled.Points[2].Label)
	assert.Equal(t, uint32(0), c.Points[2].Label, "WithLabels must not mutate the source cloud")

	var p Point
	p.SetPackedRGB(0xAB123456)
	assert.Equal(t, [3]uint8{0x12, 0x34, 0x56}, p.Color)
	assert.Equal(t, uint32(0x123456), p.PackedRGB())
}
