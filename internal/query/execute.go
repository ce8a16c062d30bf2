package query

import (
	"context"

	"github.com/arx-os/lidarindex/internal/attrindex"
	idxerrors "github.com/arx-os/lidarindex/internal/errors"
	"github.com/arx-os/lidarindex/internal/geometry"
	"github.com/arx-os/lidarindex/internal/octree"
	"github.com/arx-os/lidarindex/internal/pager"
)

// NodeVisitor receives every node the executor decides to read, along
// with the predicate's verdict for it: Positive means every point in
// the node matched without needing a per-point check, Partial means the
// caller should test each point against the predicate itself.
type NodeVisitor func(cell geometry.LeveledCell, node *octree.Node, verdict attrindex.TestResult) error

// Executor walks an octree rooted at a set of top-level cells, pruning
// subtrees the predicate proves Negative and stopping recursion early
// where it proves Positive.
type Executor struct {
	grid  geometry.Grid
	pager *pager.Pager[geometry.LeveledCell, *octree.Node]
}

func NewExecutor(grid geometry.Grid, pg *pager.Pager[geometry.LeveledCell, *octree.Node]) *Executor {
	return &Executor{grid: grid, pager: pg}
}

// Run evaluates pred over the subtree rooted at each cell in roots,
// invoking visit for every node it does not prune. A node missing from
// the pager (no points were ever written under that cell) is skipped
// without error.
func (e *Executor) Run(ctx context.Context, pred Predicate, roots []geometry.LeveledCell, visit NodeVisitor) error {
	for _, root := range roots {
		if err := e.walk(ctx, pred, root, visit); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) walk(ctx context.Context, pred Predicate, cell geometry.LeveledCell, visit NodeVisitor) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	node, err := e.pager.Load(ctx, cell)
	if err != nil {
		if idxerrors.IsKind(err, idxerrors.KindIO) {
			return nil
		}
		return err
	}

	nodeCtx := NodeContext{
		Cell:      cell,
		Bounds:    e.grid.CellBounds(cell),
		Summaries: node.Summary,
	}
	verdict := pred.Evaluate(nodeCtx)
	if verdict == attrindex.Negative {
		return nil
	}
	if err := visit(cell, node, verdict); err != nil {
		return err
	}
	if verdict == attrindex.Positive {
		return nil
	}

	for _, child := range cell.Children() {
		if err := e.walk(ctx, pred, child, visit); err != nil {
			return err
		}
	}
	return nil
}
