// Package pipeline runs the segmentation stages end to end.
//
// This package is the composition root: it imports from the layer packages
// (l1cloud, l2graph, l3features, l4weights, l5walker) and none of those
// packages import pipeline/. It owns stage ordering, timings, cancellation
// between stages and the per-point views of a solve (labels, clusters).
//
// Dependency rule: pipeline may import any segment layer; layers never
// import pipeline.
package pipeline
