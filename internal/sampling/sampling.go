// Package sampling implements grid-center subsampling: each node keeps at
// most one point per fine sub-cell, the one closest to that sub-cell's
// center; every point it displaces becomes a "bogus" point that the worker
// pool later reroutes to a child node.
package sampling

import (
	idxerrors "github.com/arx-os/lidarindex/internal/errors"
	"github.com/arx-os/lidarindex/internal/geometry"
	"github.com/arx-os/lidarindex/internal/pointcodec"
	"github.com/arx-os/lidarindex/internal/spatial"
)

// Point is one point record as seen by sampling: a decoded position (used
// to pick a sub-cell winner) plus the full raw record in the node's point
// layout (opaque to sampling, carried through unchanged).
type Point struct {
	Position spatial.Point3D
	Data     []byte
}

// Sampling is the node's subsampling strategy. A node owns exactly one
// Sampling and mutates it on every insert.
type Sampling interface {
	Insert(points []Point)
	InsertMulti(batches [][]Point)
	Points() []Point
	ClonePoints() []Point
	IsDirty() bool
	ResetDirty()
	NrBogusPoints() int
	TakeBogusPoints() []Point
	DynClone() Sampling
}

type winner struct {
	point  Point
	distSq float64
}

// GridCenter is the grid-center-subsampling Sampling implementation.
type GridCenter struct {
	grid    geometry.Grid
	fineLOD uint8
	layout  pointcodec.Layout

	accepted map[geometry.CellID]winner
	bogus    []Point
	dirty    bool
}

// NewGridCenter creates an empty sampling that subdivides the node's volume
// at fineLOD using grid, validating point records against layout.
func NewGridCenter(grid geometry.Grid, fineLOD uint8, layout pointcodec.Layout) *GridCenter {
	return &GridCenter{
		grid:     grid,
		fineLOD:  fineLOD,
		layout:   layout,
		accepted: make(map[geometry.CellID]winner),
	}
}

func (s *GridCenter) subCellCenter(id geometry.CellID) spatial.Point3D {
	bounds := s.grid.CellBounds(geometry.LeveledCell{LOD: s.fineLOD, ID: id})
	return bounds.Center()
}

// Insert routes each point to its fine sub-cell, keeping whichever point is
// closer to that sub-cell's center and demoting the loser to bogus.
func (s *GridCenter) Insert(points []Point) {
	stride := s.layout.Stride()
	for _, p := range points {
		idxerrors.Assertf(len(p.Data) == stride, "sampling: point record length %d does not match layout stride %d", len(p.Data), stride)

		subcell := s.grid.CellAt(s.fineLOD, p.Position).ID
		center := s.subCellCenter(subcell)
		distSq := p.Position.DistanceSquaredTo(center)

		existing, ok := s.accepted[subcell]
		switch {
		case !ok:
			s.accepted[subcell] = winner{point: p, distSq: distSq}
			s.dirty = true
		case distSq < existing.distSq:
			s.bogus = append(s.bogus, existing.point)
			s.accepted[subcell] = winner{point: p, distSq: distSq}
			s.dirty = true
		default:
			s.bogus = append(s.bogus, p)
		}
	}
}

func (s *GridCenter) InsertMulti(batches [][]Point) {
	for _, batch := range batches {
		s.Insert(batch)
	}
}

// Points returns accepted points first, then bogus points. Callers that
// reconstruct a Sampling from disk rely on this ordering: given a declared
// bogus count, the prefix of length len-bogus is the accepted set.
func (s *GridCenter) Points() []Point {
	out := make([]Point, 0, len(s.accepted)+len(s.bogus))
	for _, w := range s.accepted {
		out = append(out, w.point)
	}
	out = append(out, s.bogus...)
	return out
}

func (s *GridCenter) ClonePoints() []Point {
	pts := s.Points()
	out := make([]Point, len(pts))
	for i, p := range pts {
		data := make([]byte, len(p.Data))
		copy(data, p.Data)
		out[i] = Point{Position: p.Position, Data: data}
	}
	return out
}

func (s *GridCenter) IsDirty() bool  { return s.dirty }
func (s *GridCenter) ResetDirty()    { s.dirty = false }
func (s *GridCenter) NrBogusPoints() int { return len(s.bogus) }

// TakeBogusPoints drains and returns the bogus buffer, shrinking it to
// nothing; the caller (the worker splitting this node) owns the result.
func (s *GridCenter) TakeBogusPoints() []Point {
	taken := s.bogus
	s.bogus = nil
	return taken
}

// DynClone deep-copies the sampling for copy-on-write mutation: the worker
// pool clones a node before mutating it so concurrent readers of the
// previous version are unaffected.
func (s *GridCenter) DynClone() Sampling {
	clone := &GridCenter{
		grid:     s.grid,
		fineLOD:  s.fineLOD,
		layout:   s.layout,
		accepted: make(map[geometry.CellID]winner, len(s.accepted)),
		dirty:    s.dirty,
	}
	for k, w := range s.accepted {
		data := make([]byte, len(w.point.Data))
		copy(data, w.point.Data)
		clone.accepted[k] = winner{point: Point{Position: w.point.Position, Data: data}, distSq: w.distSq}
	}
	clone.bogus = make([]Point, len(s.bogus))
	for i, p := range s.bogus {
		data := make([]byte, len(p.Data))
		copy(data, p.Data)
		clone.bogus[i] = Point{Position: p.Position, Data: data}
	}
	return clone
}

// FromDisk reconstructs a GridCenter from a flat point list plus a declared
// bogus count: points[:len-bogusCount] are presumed accepted. If two
// presumed-accepted points collide on the same sub-cell (a corrupted file
// or a changed point-hierarchy shift), the closer one wins and the other
// is demoted to bogus, marking the sampling dirty.
func FromDisk(grid geometry.Grid, fineLOD uint8, layout pointcodec.Layout, points []Point, bogusCount int) *GridCenter {
	s := NewGridCenter(grid, fineLOD, layout)
	acceptedCount := len(points) - bogusCount
	if acceptedCount < 0 {
		acceptedCount = 0
	}
	for i := 0; i < acceptedCount; i++ {
		p := points[i]
		subcell := s.grid.CellAt(s.fineLOD, p.Position).ID
		center := s.subCellCenter(subcell)
		distSq := p.Position.DistanceSquaredTo(center)

		existing, ok := s.accepted[subcell]
		switch {
		case !ok:
			s.accepted[subcell] = winner{point: p, distSq: distSq}
		case distSq < existing.distSq:
			s.bogus = append(s.bogus, existing.point)
			s.accepted[subcell] = winner{point: p, distSq: distSq}
			s.dirty = true
		default:
			s.bogus = append(s.bogus, p)
			s.dirty = true
		}
	}
	s.bogus = append(s.bogus, points[acceptedCount:]...)
	return s
}
