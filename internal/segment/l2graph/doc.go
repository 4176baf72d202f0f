// Package l2graph owns Layer 2 (Graph) of the segmentation data model.
//
// Responsibilities: the arena-style vertex/edge graph, spatial indexing,
// graph construction from a point cloud (voxel grid, k-nearest neighbours,
// radius neighbours) and graph cache persistence.
// Key types: Graph, Vertex, Edge, Builder, SpatialIndex.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
// No SQL/database code is allowed in this package.
package l2graph
