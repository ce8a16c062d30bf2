// Package query implements the predicate tree used to prune octree
// traversal: a query is a boolean expression over spatial bounds, level
// of detail, view frustum visibility, and indexed attributes, evaluated
// against a node's summaries to decide whether the node (and everything
// beneath it) can be skipped, must be fully accepted, or needs recursion.
package query

import (
	"github.com/arx-os/lidarindex/internal/attrindex"
	"github.com/arx-os/lidarindex/internal/geometry"
	"github.com/arx-os/lidarindex/internal/spatial"
)

// NodeContext is everything a predicate needs to judge one node: its
// cell, the cell's spatial bounds, and its per-attribute summaries (only
// populated for attributes the caller has indexed).
type NodeContext struct {
	Cell      geometry.LeveledCell
	Bounds    spatial.BoundingBox
	Summaries map[string]attrindex.Summary
}

// Predicate is one node of the query tree. Evaluate reduces it against a
// node's context to a ternary verdict: Positive (every point in the
// subtree matches, no need to look further), Negative (no point can
// match, skip the subtree), or Partial (recurse into children).
type Predicate interface {
	Evaluate(ctx NodeContext) attrindex.TestResult
}

// Empty matches nothing; used as the predicate identity for Or and to
// represent a query that selects no points at all.
type Empty struct{}

func (Empty) Evaluate(NodeContext) attrindex.TestResult { return attrindex.Negative }

// Full matches everything; the predicate identity for And, and the
// default query that visits the whole tree.
type Full struct{}

func (Full) Evaluate(NodeContext) attrindex.TestResult { return attrindex.Positive }

// And is satisfied where both operands are.
type And struct{ Left, Right Predicate }

func (p And) Evaluate(ctx NodeContext) attrindex.TestResult {
	return combineAnd(p.Left.Evaluate(ctx), p.Right.Evaluate(ctx))
}

// Or is satisfied where either operand is.
type Or struct{ Left, Right Predicate }

func (p Or) Evaluate(ctx NodeContext) attrindex.TestResult {
	return combineOr(p.Left.Evaluate(ctx), p.Right.Evaluate(ctx))
}

// Not inverts its operand.
type Not struct{ Inner Predicate }

func (p Not) Evaluate(ctx NodeContext) attrindex.TestResult {
	return combineNot(p.Inner.Evaluate(ctx))
}

// AABB matches points whose node lies within (or overlaps) an axis
// aligned bounding box.
type AABB struct{ Box spatial.BoundingBox }

func (p AABB) Evaluate(ctx NodeContext) attrindex.TestResult {
	if containsBox(p.Box, ctx.Bounds) {
		return attrindex.Positive
	}
	if !ctx.Bounds.Intersects(p.Box) {
		return attrindex.Negative
	}
	return attrindex.Partial
}

// Lod matches nodes whose level of detail falls in [Min,Max].
type Lod struct{ Min, Max uint8 }

func (p Lod) Evaluate(ctx NodeContext) attrindex.TestResult {
	if ctx.Cell.LOD < p.Min {
		// Finer LODs only get finer as we recurse, so a node coarser
		// than Min might still have descendants inside the range.
		return attrindex.Partial
	}
	if ctx.Cell.LOD > p.Max {
		return attrindex.Negative
	}
	return attrindex.Positive
}

// Attribute matches nodes whose indexed summary for Name satisfies Test.
// A missing summary (the attribute isn't indexed, or hasn't been
// populated yet) is always Partial: the caller must fall back to reading
// raw point data.
type Attribute struct {
	Name string
	Test func(attrindex.Summary) attrindex.TestResult
}

func (p Attribute) Evaluate(ctx NodeContext) attrindex.TestResult {
	summary, ok := ctx.Summaries[p.Name]
	if !ok {
		return attrindex.Partial
	}
	return p.Test(summary)
}

// AttributeEq, AttributeLt, AttributeLe, AttributeGt, AttributeGe and
// AttributeRange build the common Attribute predicates without the
// caller writing its own Test closure.
func AttributeEq(name string, v float64) Attribute {
	return Attribute{Name: name, Test: func(s attrindex.Summary) attrindex.TestResult { return s.TestEq(v) }}
}

func AttributeLt(name string, v float64) Attribute {
	return Attribute{Name: name, Test: func(s attrindex.Summary) attrindex.TestResult { return s.TestLt(v) }}
}

func AttributeLe(name string, v float64) Attribute {
	return Attribute{Name: name, Test: func(s attrindex.Summary) attrindex.TestResult { return s.TestLe(v) }}
}

func AttributeGt(name string, v float64) Attribute {
	return Attribute{Name: name, Test: func(s attrindex.Summary) attrindex.TestResult { return s.TestGt(v) }}
}

func AttributeGe(name string, v float64) Attribute {
	return Attribute{Name: name, Test: func(s attrindex.Summary) attrindex.TestResult { return s.TestGe(v) }}
}

func AttributeRange(name string, lo, hi float64) Attribute {
	return Attribute{Name: name, Test: func(s attrindex.Summary) attrindex.TestResult { return s.TestRange(lo, hi) }}
}

func combineAnd(a, b attrindex.TestResult) attrindex.TestResult {
	if a == attrindex.Negative || b == attrindex.Negative {
		return attrindex.Negative
	}
	if a == attrindex.Positive && b == attrindex.Positive {
		return attrindex.Positive
	}
	return attrindex.Partial
}

func combineOr(a, b attrindex.TestResult) attrindex.TestResult {
	if a == attrindex.Positive || b == attrindex.Positive {
		return attrindex.Positive
	}
	if a == attrindex.Negative && b == attrindex.Negative {
		return attrindex.Negative
	}
	return attrindex.Partial
}

func combineNot(a attrindex.TestResult) attrindex.TestResult {
	switch a {
	case attrindex.Positive:
		return attrindex.Negative
	case attrindex.Negative:
		return attrindex.Positive
	default:
		return attrindex.Partial
	}
}

func containsBox(outer, inner spatial.BoundingBox) bool {
	return inner.Min.X >= outer.Min.X && inner.Max.X <= outer.Max.X &&
		inner.Min.Y >= outer.Min.Y && inner.Max.Y <= outer.Max.Y &&
		inner.Min.Z >= outer.Min.Z && inner.Max.Z <= outer.Max.Z
}
