// Package l3features owns Layer 3 (Features) of the segmentation data model.
//
// Responsibilities: per-vertex surface normals and curvature estimated by
// principal component analysis over graph neighbourhoods, and the
// convex/concave classification used by the edge weight terms.
// Key types: Options.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4+.
// No SQL/database code is allowed in this package.
package l3features
