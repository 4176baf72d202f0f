package l5walker

import (
	"errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// csr is a square sparse matrix in compressed row form. The diagonal is
// stored separately for the Jacobi preconditioner.
type csr struct {
	n      int
	rowPtr []int
	col    []int
	val    []float64
	diag   []float64
}

// mulVec sets dst = A·x.
func (a *csr) mulVec(dst, x []float64) {
	for i := 0; i < a.n; i++ {
		s := a.diag[i] * x[i]
		for k := a.rowPtr[i]; k < a.rowPtr[i+1]; k++ {
			s += a.val[k] * x[a.col[k]]
		}
		dst[i] = s
	}
}

// dense expands a into a symmetric dense matrix.
func (a *csr) dense() *mat.SymDense {
	m := mat.NewSymDense(a.n, nil)
	for i := 0; i < a.n; i++ {
		m.SetSym(i, i, a.diag[i])
		for k := a.rowPtr[i]; k < a.rowPtr[i+1]; k++ {
			if j := a.col[k]; j > i {
				m.SetSym(i, j, a.val[k])
			}
		}
	}
	return m
}

// linearSolver solves A·x = b for many right-hand sides against one matrix.
// solve must be safe for concurrent use once the solver is built.
type linearSolver interface {
	solve(b, x []float64) (iterations int, err error)
	name() string
}

var (
	errNotPositiveDefinite = errors.New("matrix is not positive definite")
	errNoConvergence       = errors.New("conjugate gradient did not converge")
)

// choleskySolver factors the dense system once.
type choleskySolver struct {
	chol mat.Cholesky
	n    int
}

func newCholeskySolver(a *csr) (*choleskySolver, error) {
	s := &choleskySolver{n: a.n}
	if ok := s.chol.Factorize(a.dense()); !ok {
		return nil, errNotPositiveDefinite
	}
	return s, nil
}

func (s *choleskySolver) name() string { return "cholesky" }

func (s *choleskySolver) solve(b, x []float64) (int, error) {
	dst := mat.NewVecDense(s.n, x)
	err := s.chol.SolveVecTo(dst, mat.NewVecDense(s.n, b))
	var cond mat.Condition
	if err != nil && !errors.As(err, &cond) {
		return 0, err
	}
	return 0, nil
}

// cgSolver is Jacobi-preconditioned conjugate gradient over a CSR matrix.
type cgSolver struct {
	a       *csr
	invDiag []float64
	tol     float64
	maxIter int
}

func newCGSolver(a *csr, tol float64, maxIter int) (*cgSolver, error) {
	inv := make([]float64, a.n)
	for i, d := range a.diag {
		if !(d > 0) {
			return nil, errNotPositiveDefinite
		}
		inv[i] = 1 / d
	}
	if maxIter <= 0 {
		maxIter = 10 * a.n
	}
	return &cgSolver{a: a, invDiag: inv, tol: tol, maxIter: maxIter}, nil
}

func (s *cgSolver) name() string { return "pcg" }

// solve runs until ‖r‖ ≤ tol·‖b‖ starting from x = 0.
func (s *cgSolver) solve(b, x []float64) (int, error) {
	n := s.a.n
	for i := range x {
		x[i] = 0
	}
	bnorm := floats.Norm(b, 2)
	if bnorm == 0 {
		return 0, nil
	}
	r := make([]float64, n)
	copy(r, b)
	z := make([]float64, n)
	floats.MulTo(z, r, s.invDiag)
	p := make([]float64, n)
	copy(p, z)
	ap := make([]float64, n)
	rz := floats.Dot(r, z)

	for k := 1; k <= s.maxIter; k++ {
		s.a.mulVec(ap, p)
		pap := floats.Dot(p, ap)
		if !(pap > 0) {
			return k, errNotPositiveDefinite
		}
		alpha := rz / pap
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, ap)
		if floats.Norm(r, 2) <= s.tol*bnorm {
			return k, nil
		}
		floats.MulTo(z, r, s.invDiag)
		rzNext := floats.Dot(r, z)
		beta := rzNext / rz
		rz = rzNext
		floats.Scale(beta, p)
		floats.Add(p, z)
	}
	return s.maxIter, errNoConvergence
}
