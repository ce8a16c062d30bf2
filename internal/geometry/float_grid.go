package geometry

import (
	"math"

	"github.com/arx-os/lidarindex/internal/spatial"
)

// FloatGrid is a dyadic grid over continuous coordinates: level k has cell
// size 2^k assembled directly from the IEEE-754 exponent, levels range
// over [-1022,1023]. Cell bounds use the next-lower representable double
// on the max side so that bounds stay half-open even though cell sizes are
// not exactly representable sums at extreme exponents.
type FloatGrid struct {
	// Shift is the level used at LOD 0; Level(lod) = Shift - int(lod).
	Shift int
}

const (
	floatGridMinLevel = -1022
	floatGridMaxLevel = 1023
)

func (g FloatGrid) Level(lod uint8) int {
	return g.Shift - int(lod)
}

func (g FloatGrid) MaxLOD() (uint8, bool) {
	if g.Shift < floatGridMinLevel || g.Shift > floatGridMaxLevel {
		return 0, false
	}
	maxLod := g.Shift - floatGridMinLevel
	if maxLod < 0 {
		return 0, false
	}
	if maxLod > math.MaxUint8 {
		maxLod = math.MaxUint8
	}
	return uint8(maxLod), true
}

// cellSize returns 2^level, assembled by Ldexp as the spec's "bit-assembled
// from the double's exponent" construction.
func cellSize(level int) float64 {
	return math.Ldexp(1, level)
}

func (g FloatGrid) CellAt(lod uint8, pos spatial.Point3D) LeveledCell {
	size := cellSize(g.Level(lod))
	return LeveledCell{
		LOD: lod,
		ID: CellID{
			floatCellIndex(pos.X, size),
			floatCellIndex(pos.Y, size),
			floatCellIndex(pos.Z, size),
		},
	}
}

func floatCellIndex(coord, size float64) int32 {
	return int32(math.Floor(coord / size))
}

func (g FloatGrid) CellBounds(cell LeveledCell) spatial.BoundingBox {
	size := cellSize(g.Level(cell.LOD))
	min := spatial.Point3D{
		X: float64(cell.ID[0]) * size,
		Y: float64(cell.ID[1]) * size,
		Z: float64(cell.ID[2]) * size,
	}
	max := spatial.Point3D{
		X: nextDown(min.X + size),
		Y: nextDown(min.Y + size),
		Z: nextDown(min.Z + size),
	}
	return spatial.BoundingBox{Min: min, Max: max}
}

// nextDown returns the largest representable float64 strictly less than x,
// matching Rust's f64::next_down / IEEE-754 nextDown.
func nextDown(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, -1) {
		return x
	}
	if x == 0 {
		return -math.SmallestNonzeroFloat64
	}
	return math.Nextafter(x, math.Inf(-1))
}
