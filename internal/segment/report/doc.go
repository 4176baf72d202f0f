// Package report renders static diagnostics for a segmentation: a PNG
// histogram of edge weights (gonum/plot) and an HTML page of vertex labels
// and potentials (go-echarts).
//
// Dependency rule: report reads l2graph, l4weights and l5walker results and
// is imported only by the CLI.
package report
