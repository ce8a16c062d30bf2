// Package octree implements the tree node: the unit of work the pager
// caches and the worker pool mutates. A node owns a sampling strategy (the
// at-most-one-point-per-sub-cell set plus its bogus overflow) and, when
// attribute indexing is enabled, one summary per indexed attribute.
package octree

import (
	"github.com/arx-os/lidarindex/internal/attrindex"
	"github.com/arx-os/lidarindex/internal/geometry"
	"github.com/arx-os/lidarindex/internal/sampling"
)

// Node is one cell of the octree: its accepted points (via Sampling), the
// points it could not accept (bogus, pending redistribution to children),
// and per-attribute summaries for query pruning.
type Node struct {
	Cell     geometry.LeveledCell
	Sampling sampling.Sampling
	Summary  map[string]attrindex.Summary

	dirty bool
}

// New creates an empty node for cell, owning the given sampling strategy.
func New(cell geometry.LeveledCell, s sampling.Sampling) *Node {
	return &Node{Cell: cell, Sampling: s, Summary: make(map[string]attrindex.Summary)}
}

// IsDirty reports whether the node has unflushed mutations: either its own
// dirty bit or its sampling strategy's.
func (n *Node) IsDirty() bool {
	return n.dirty || n.Sampling.IsDirty()
}

// ResetDirty clears the node's and its sampling strategy's dirty bits,
// called once the node has been durably written.
func (n *Node) ResetDirty() {
	n.dirty = false
	n.Sampling.ResetDirty()
}

// InsertMulti feeds batches of points through the sampling strategy and
// marks the node dirty if anything changed.
func (n *Node) InsertMulti(batches [][]sampling.Point) {
	n.Sampling.InsertMulti(batches)
}

// NrBogusPoints reports how many points this node's sampling strategy
// could not accept.
func (n *Node) NrBogusPoints() int { return n.Sampling.NrBogusPoints() }

// TakeBogusPoints drains the bogus buffer for redistribution to children.
func (n *Node) TakeBogusPoints() []sampling.Point { return n.Sampling.TakeBogusPoints() }

// UpdateSummary replaces the stored summary for one attribute, computed
// from the current accepted-point values, and marks the node dirty so the
// attribute index persists the change.
func (n *Node) UpdateSummary(attribute string, values []float64, maxBins int, withSFC bool) {
	n.Summary[attribute] = attrindex.IndexValues(values, maxBins, withSFC)
	n.dirty = true
}

// DynClone deep-copies the node for copy-on-write mutation: the worker
// pool clones before mutating so a concurrent reader holding the previous
// version is unaffected.
func (n *Node) DynClone() *Node {
	clone := &Node{
		Cell:     n.Cell,
		Sampling: n.Sampling.DynClone(),
		Summary:  make(map[string]attrindex.Summary, len(n.Summary)),
		dirty:    n.dirty,
	}
	for k, v := range n.Summary {
		clone.Summary[k] = v
	}
	return clone
}

// Points returns every point the node currently holds (accepted, then
// bogus), matching the ordering sampling.Sampling.Points documents.
func (n *Node) Points() []sampling.Point { return n.Sampling.Points() }
