package l5walker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tridiag builds the n×n matrix with 2+shift on the diagonal and -1 off it.
func tridiag(n int, shift float64) *csr {
	a := &csr{n: n, rowPtr: make([]int, n+1), diag: make([]float64, n)}
	for i := 0; i < n; i++ {
		a.diag[i] = 2 + shift
		if i > 0 {
			a.col = append(a.col, i-1)
			a.val = append(a.val, -1)
		}
		if i < n-1 {
			a.col = append(a.col, i+1)
			a.val = append(a.val, -1)
		}
		a.rowPtr[i+1] = len(a.col)
	}
	return a
}

func TestLinearSolvers_Agree(t *testing.T) {
	t.Parallel()

	a := tridiag(30, 0.1)
	b := make([]float64, a.n)
	b[0], b[a.n-1], b[7] = 1, 2, -0.5

	chol, err := newCholeskySolver(a)
	require.NoError(t, err)
	cg, err := newCGSolver(a, 1e-12, 0)
	require.NoError(t, err)
	assert.Equal(t, "cholesky", chol.name())
	assert.Equal(t, "pcg", cg.name())

	xd := make([]float64, a.n)
	xi := make([]float64, a.n)
	_, err = chol.solve(b, xd)
	require.NoError(t, err)
	iters, err := cg.solve(b, xi)
	require.NoError(t, err)
	assert.Positive(t, iters)
	assert.LessOrEqual(t, iters, 10*a.n)
	assert.InDeltaSlice(t, xd, xi, 1e-9)

	// Residual check against the original system.
	ax := make([]float64, a.n)
	a.mulVec(ax, xd)
	assert.InDeltaSlice(t, b, ax, 1e-9)
}

func TestCGSolver_ZeroRHS(t *testing.T) {
	t.Parallel()

	cg, err := newCGSolver(tridiag(4, 0), 1e-8, 0)
	require.NoError(t, err)
	x := []float64{5, 5, 5, 5}
	iters, err := cg.solve(make([]float64, 4), x)
	require.NoError(t, err)
	assert.Zero(t, iters)
	assert.Equal(t, []float64{0, 0, 0, 0}, x)
}

func TestCGSolver_Errors(t *testing.T) {
	t.Parallel()

	a := tridiag(3, 0)
	a.diag[1] = 0
	_, err := newCGSolver(a, 1e-8, 0)
	assert.ErrorIs(t, err, errNotPositiveDefinite)

	cg, err := newCGSolver(tridiag(50, 0), 1e-14, 2)
	require.NoError(t, err)
	b := make([]float64, 50)
	b[0] = 1
	iters, err := cg.solve(b, make([]float64, 50))
	assert.ErrorIs(t, err, errNoConvergence)
	assert.Equal(t, 2, iters)
}

func TestCholeskySolver_NotPositiveDefinite(t *testing.T) {
	t.Parallel()

	a := tridiag(3, 0)
	a.diag[0] = -1
	_, err := newCholeskySolver(a)
	assert.ErrorIs(t, err, errNotPositiveDefinite)
}

func TestCSR_Dense(t *testing.T) {
	t.Parallel()

	m := tridiag(3, 1).dense()
	assert.Equal(t, 3.0, m.At(1, 1))
	assert.Equal(t, -1.0, m.At(0, 1))
	assert.Equal(t, -1.0, m.At(2, 1))
	assert.Equal(t, 0.0, m.At(0, 2))
}
