package geometry

import (
	"github.com/arx-os/lidarindex/internal/spatial"
)

// IntGrid is a dyadic grid over integer-valued coordinates: level k has
// cell size 2^k, levels range over [0,31], and cell ids are computed by
// an arithmetic right shift (exact, no rounding ambiguity for negatives).
type IntGrid struct {
	// Shift is the level used at LOD 0; Level(lod) = Shift - int(lod).
	Shift int
}

const (
	intGridMinLevel = 0
	intGridMaxLevel = 31
)

func (g IntGrid) Level(lod uint8) int {
	return g.Shift - int(lod)
}

func (g IntGrid) MaxLOD() (uint8, bool) {
	if g.Shift < intGridMinLevel || g.Shift > intGridMaxLevel {
		return 0, false
	}
	// finest LOD keeps level >= intGridMinLevel
	maxLod := g.Shift - intGridMinLevel
	if maxLod < 0 {
		return 0, false
	}
	return uint8(maxLod), true
}

func (g IntGrid) CellAt(lod uint8, pos spatial.Point3D) LeveledCell {
	k := g.Level(lod)
	return LeveledCell{
		LOD: lod,
		ID: CellID{
			intCellIndex(int64(pos.X), k),
			intCellIndex(int64(pos.Y), k),
			intCellIndex(int64(pos.Z), k),
		},
	}
}

func intCellIndex(coord int64, level int) int32 {
	if level == 0 {
		return int32(coord)
	}
	return int32(coord >> uint(level))
}

func (g IntGrid) CellBounds(cell LeveledCell) spatial.BoundingBox {
	k := g.Level(cell.LOD)
	size := int64(1) << uint(k)
	min := spatial.Point3D{
		X: float64(int64(cell.ID[0]) * size),
		Y: float64(int64(cell.ID[1]) * size),
		Z: float64(int64(cell.ID[2]) * size),
	}
	max := spatial.Point3D{
		X: min.X + float64(size),
		Y: min.Y + float64(size),
		Z: min.Z + float64(size),
	}
	return spatial.BoundingBox{Min: min, Max: max}
}
