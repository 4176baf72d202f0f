// Package l1cloud owns Layer 1 (Points) of the segmentation data model.
//
// Responsibilities: the immutable input point representation and the PCD
// reader/writer used to load clouds and seed files and to save labeled
// results.
// Key types: Point, Cloud.
//
// Dependency rule: L1 depends on nothing above it. Graph, feature, weight and
// solver code lives in l2graph and later layers.
package l1cloud
