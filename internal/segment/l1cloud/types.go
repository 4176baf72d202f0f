package l1cloud

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Point is a single input sample. Optional attributes are only meaningful
// when the owning Cloud advertises them (HasColor, HasNormals, HasLabels).
type Point struct {
	Pos       r3.Vec
	Color     [3]uint8 // R, G, B
	Normal    r3.Vec
	Curvature float64
	Label     uint32
}

// Valid reports whether the point has a finite position. Organised clouds
// mark missing returns with NaN coordinates; such points never become graph
// vertices.
func (p Point) Valid() bool {
	return isFinite(p.Pos.X) && isFinite(p.Pos.Y) && isFinite(p.Pos.Z)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// PackedRGB returns the colour in PCD packed form 0x00RRGGBB.
func (p Point) PackedRGB() uint32 {
	return uint32(p.Color[0])<<16 | uint32(p.Color[1])<<8 | uint32(p.Color[2])
}

// SetPackedRGB sets the colour from PCD packed form 0x??RRGGBB.
func (p *Point) SetPackedRGB(v uint32) {
	p.Color = [3]uint8{uint8(v >> 16), uint8(v >> 8), uint8(v)}
}

// Cloud is an ordered point set. Width × Height == len(Points); Height > 1
// marks an organised (image-structured) cloud.
type Cloud struct {
	Points     []Point
	Width      int
	Height     int
	HasColor   bool
	HasNormals bool
	HasLabels  bool
}

// NewCloud wraps points as an unorganised cloud.
func NewCloud(points []Point) *Cloud {
	return &Cloud{Points: points, Width: len(points), Height: 1}
}

// Len returns the number of points.
func (c *Cloud) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Points)
}

// Organized reports whether the cloud has image structure.
func (c *Cloud) Organized() bool {
	return c != nil && c.Height > 1
}

// ValidCount returns the number of points with a finite position.
func (c *Cloud) ValidCount() int {
	n := 0
	for _, p := range c.Points {
		if p.Valid() {
			n++
		}
	}
	return n
}

// Subset copies the points at indices into a new unorganised cloud that
// keeps the attribute flags of c.
func (c *Cloud) Subset(indices []int) *Cloud {
	pts := make([]Point, len(indices))
	for i, idx := range indices {
		pts[i] = c.Points[idx]
	}
	out := NewCloud(pts)
	out.HasColor = c.HasColor
	out.HasNormals = c.HasNormals
	out.HasLabels = c.HasLabels
	return out
}

// WithLabels returns a copy of c whose points carry labels[i]. Used to write
// segmentation results; len(labels) must equal c.Len().
func (c *Cloud) WithLabels(labels []uint32) *Cloud {
	pts := make([]Point, len(c.Points))
	copy(pts, c.Points)
	for i := range pts {
		pts[i].Label = labels[i]
	}
	out := *c
	out.Points = pts
	out.HasLabels = true
	return &out
}
