// Package l4weights owns Layer 4 (Weights) of the segmentation data model.
//
// Responsibilities: the edge weight term registry, per-edge term
// evaluation, normalisation and the exp(-distance) weight transform.
// Key types: Term, TermConfig, Computer, Stats.
//
// Dependency rule: L4 may depend on L1-L3, but never on L5+.
// No SQL/database code is allowed in this package.
package l4weights
