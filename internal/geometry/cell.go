// Package geometry implements the dyadic LOD grid hierarchy: cell
// identification, parent/child/overlap relationships, and the two grid
// coordinate flavors (integer and floating point) used to map a position
// to a cell at a given level of detail.
package geometry

import (
	"fmt"

	"github.com/arx-os/lidarindex/internal/spatial"
)

// CellID is the integer coordinate of a cell within its LOD's grid.
type CellID [3]int32

func (c CellID) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c[0], c[1], c[2])
}

// LeveledCell names a cell unambiguously: a LOD plus its coordinate within
// that LOD's grid.
type LeveledCell struct {
	LOD uint8
	ID  CellID
}

func (c LeveledCell) String() string {
	return fmt.Sprintf("L%d%s", c.LOD, c.ID)
}

// Children returns the eight leveled cells one LOD finer that subdivide c.
func (c LeveledCell) Children() [8]LeveledCell {
	var kids [8]LeveledCell
	i := 0
	for dz := int32(0); dz < 2; dz++ {
		for dy := int32(0); dy < 2; dy++ {
			for dx := int32(0); dx < 2; dx++ {
				kids[i] = LeveledCell{
					LOD: c.LOD + 1,
					ID: CellID{
						2*c.ID[0] + dx,
						2*c.ID[1] + dy,
						2*c.ID[2] + dz,
					},
				}
				i++
			}
		}
	}
	return kids
}

// Parent returns the leveled cell one LOD coarser that contains c. Panics
// at LOD 0, which has no parent.
func (c LeveledCell) Parent() LeveledCell {
	if c.LOD == 0 {
		panic("geometry: LOD 0 cell has no parent")
	}
	return LeveledCell{
		LOD: c.LOD - 1,
		ID:  CellID{floorDiv2(c.ID[0]), floorDiv2(c.ID[1]), floorDiv2(c.ID[2])},
	}
}

// ChildOctant returns which of the 8 children of c.Parent() this cell is,
// as three bits (bit i set iff the cell's i-th coordinate is odd).
func (c LeveledCell) ChildOctant() int {
	octant := 0
	if mod2(c.ID[0]) == 1 {
		octant |= 1
	}
	if mod2(c.ID[1]) == 1 {
		octant |= 2
	}
	if mod2(c.ID[2]) == 1 {
		octant |= 4
	}
	return octant
}

func floorDiv2(v int32) int32 {
	if v >= 0 {
		return v / 2
	}
	return -((-v + 1) / 2)
}

func mod2(v int32) int32 {
	m := v % 2
	if m < 0 {
		m += 2
	}
	return m
}

// Overlaps reports whether two leveled cells overlap: the finer cell's id,
// after rescaling, must lie within the coarser cell's footprint.
func Overlaps(a, b LeveledCell) bool {
	coarse, fine := a, b
	if fine.LOD < coarse.LOD {
		coarse, fine = fine, coarse
	}
	delta := fine.LOD - coarse.LOD
	if delta == 0 {
		return coarse.ID == fine.ID
	}
	scale := int32(1) << delta
	for i := 0; i < 3; i++ {
		lo := coarse.ID[i] * scale
		hi := lo + scale
		if fine.ID[i] < lo || fine.ID[i] >= hi {
			return false
		}
	}
	return true
}

// Grid maps positions to cells at a given LOD and back to their spatial
// bounds. Two implementations exist: IntGrid (exact dyadic cell sizes for
// integer-valued coordinate systems) and FloatGrid (IEEE-754 exponent-based
// cell sizes for continuous coordinate systems).
type Grid interface {
	// CellAt returns the leveled cell containing pos at the given LOD.
	CellAt(lod uint8, pos spatial.Point3D) LeveledCell
	// CellBounds returns the spatial extent of a leveled cell.
	CellBounds(cell LeveledCell) spatial.BoundingBox
	// Level returns the grid's internal level parameter for a given LOD.
	Level(lod uint8) int
	// MaxLOD returns the finest LOD this grid's level range admits, or
	// false if the configured shift makes the hierarchy inadmissible.
	MaxLOD() (uint8, bool)
}
