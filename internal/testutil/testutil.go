// Package testutil provides shared test utilities and fixtures.
//
// Fixtures are small synthetic point clouds with known structure so that
// graph, feature and solver tests can assert exact outcomes.
package testutil

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pointseg/internal/segment/l1cloud"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertErrorIs fails the test unless errors.Is(err, target).
func AssertErrorIs(t testing.TB, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

// PlanarGrid returns an nx × ny grid of points spaced step apart on the
// z = 0 plane, ordered row-major (x fastest). Point i sits at
// (i%nx·step, i/nx·step, 0).
func PlanarGrid(nx, ny int, step float64) *l1cloud.Cloud {
	pts := make([]l1cloud.Point, 0, nx*ny)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			pts = append(pts, l1cloud.Point{Pos: r3.Vec{X: float64(x) * step, Y: float64(y) * step}})
		}
	}
	c := l1cloud.NewCloud(pts)
	c.Width, c.Height = nx, ny
	return c
}

// TwoClusters returns two n × n planar patches with spacing step, the second
// shifted by gap along x from the end of the first. The first n·n points
// belong to the left patch, the rest to the right.
func TwoClusters(n int, step, gap float64) *l1cloud.Cloud {
	pts := make([]l1cloud.Point, 0, 2*n*n)
	offset := float64(n-1)*step + gap
	for _, x0 := range []float64{0, offset} {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				pts = append(pts, l1cloud.Point{Pos: r3.Vec{X: x0 + float64(x)*step, Y: float64(y) * step}})
			}
		}
	}
	return l1cloud.NewCloud(pts)
}

// Line returns n points spaced step apart along the x axis.
func Line(n int, step float64) *l1cloud.Cloud {
	pts := make([]l1cloud.Point, n)
	for i := range pts {
		pts[i].Pos = r3.Vec{X: float64(i) * step}
	}
	return l1cloud.NewCloud(pts)
}

// Sphere returns points on a Fibonacci lattice of the sphere with the given
// centre and radius. Neighbouring points are roughly evenly spaced.
func Sphere(n int, centre r3.Vec, radius float64) *l1cloud.Cloud {
	pts := make([]l1cloud.Point, n)
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := range pts {
		y := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - y*y)
		theta := golden * float64(i)
		p := r3.Vec{X: r * math.Cos(theta), Y: y, Z: r * math.Sin(theta)}
		pts[i].Pos = r3.Add(centre, r3.Scale(radius, p))
	}
	return l1cloud.NewCloud(pts)
}
