// Package l5walker owns Layer 5 (Walker) of the segmentation data model.
//
// Responsibilities: seed sets, assembly of the graph Laplacian restricted
// to unseeded vertices, the per-label linear solves (dense Cholesky for
// small systems, preconditioned conjugate gradient otherwise) and the
// arg-max label assignment.
// Key types: SeedSet, Solver, Options, Result.
//
// Dependency rule: L5 may depend on L1-L4, but never on L6+.
// No SQL/database code is allowed in this package.
package l5walker
