package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/banshee-data/pointseg/internal/fsutil"
	"github.com/banshee-data/pointseg/internal/security"
	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l1cloud"
	"github.com/banshee-data/pointseg/internal/segment/l2graph"
)

// SegmentationFile is the default name of the labelled output cloud.
const SegmentationFile = "segmentation.pcd"

// PointLabels maps the vertex labels back to input points. Points that did
// not become a vertex get label 0.
func (o *Output) PointLabels() []uint32 {
	out := make([]uint32, len(o.Graph.PointToVertex))
	for i, v := range o.Graph.PointToVertex {
		if v == l2graph.NoVertex {
			continue
		}
		out[i] = uint32(o.Result.Labels[v])
	}
	return out
}

// Clusters groups input point indices by label. Entry i holds label i+1 for
// i < K; the final entry holds the unlabelled points (label 0), so the
// result always has K+1 entries.
func (o *Output) Clusters() [][]int {
	k := o.Result.NumLabels
	out := make([][]int, k+1)
	for i, l := range o.PointLabels() {
		if l == 0 {
			out[k] = append(out[k], i)
			continue
		}
		out[l-1] = append(out[l-1], i)
	}
	return out
}

// LabeledCloud returns a copy of the input cloud carrying the point labels.
func (o *Output) LabeledCloud() (*l1cloud.Cloud, error) {
	if o.Cloud == nil {
		return nil, segment.Invalidf("output has no input cloud")
	}
	labels := o.PointLabels()
	if len(labels) != o.Cloud.Len() {
		return nil, segment.Invalidf("graph maps %d points, cloud has %d", len(labels), o.Cloud.Len())
	}
	return o.Cloud.WithLabels(labels), nil
}

// WriteSegmentation saves the labelled input cloud as PCD.
func (o *Output) WriteSegmentation(fsys fsutil.FileSystem, path string) error {
	c, err := o.LabeledCloud()
	if err != nil {
		return err
	}
	if err := l1cloud.SavePCD(fsys, path, c); err != nil {
		return err
	}
	diagf("wrote %d labelled points to %s", c.Len(), path)
	return nil
}

// WriteClusters saves each non-empty labelled cluster as dir/cluster<i>.pcd,
// where i is the zero-based cluster index (label i+1). Unlabelled points are
// not written. It returns the paths written.
func (o *Output) WriteClusters(fsys fsutil.FileSystem, dir string) ([]string, error) {
	if o.Cloud == nil {
		return nil, segment.Invalidf("output has no input cloud")
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, segment.IOError("mkdir", dir, err)
	}
	clusters := o.Clusters()
	var written []string
	for i, idx := range clusters[:len(clusters)-1] {
		if len(idx) == 0 {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("cluster%d.pcd", i))
		if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
			return written, segment.Invalidf("cluster path: %v", err)
		}
		if err := l1cloud.SavePCD(fsys, path, o.Cloud.Subset(idx)); err != nil {
			return written, err
		}
		tracef("cluster %d: %d points -> %s", i, len(idx), path)
		written = append(written, path)
	}
	if n := len(clusters[len(clusters)-1]); n > 0 {
		opsf("%d points left unlabelled and not written to any cluster", n)
	}
	return written, nil
}
