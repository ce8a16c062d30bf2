package geometry

import (
	"math"
	"testing"

	"github.com/arx-os/lidarindex/internal/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeveledCellChildrenAndParentRoundTrip(t *testing.T) {
	c := LeveledCell{LOD: 3, ID: CellID{5, -2, 7}}
	kids := c.Children()
	for _, k := range kids {
		assert.Equal(t, c.LOD+1, k.LOD)
		assert.Equal(t, c, k.Parent())
	}
}

func TestChildOctantDistinguishesAllEight(t *testing.T) {
	c := LeveledCell{LOD: 1, ID: CellID{3, -5, 0}}
	seen := make(map[int]bool)
	for _, k := range c.Children() {
		seen[k.ChildOctant()] = true
	}
	assert.Len(t, seen, 8)
}

func TestOverlapsIsSymmetricAndScaleAware(t *testing.T) {
	parent := LeveledCell{LOD: 0, ID: CellID{1, 1, 1}}
	child := parent.Children()[0]
	assert.True(t, Overlaps(parent, child))
	assert.True(t, Overlaps(child, parent))

	other := LeveledCell{LOD: 1, ID: CellID{100, 100, 100}}
	assert.False(t, Overlaps(parent, other))
}

func TestIntGridCellAtAndBoundsRoundTrip(t *testing.T) {
	g := IntGrid{Shift: 5}
	maxLod, ok := g.MaxLOD()
	require.True(t, ok)
	assert.Equal(t, uint8(5), maxLod)

	pos := spatial.Point3D{X: 100, Y: -33, Z: 7}
	cell := g.CellAt(2, pos)
	bounds := g.CellBounds(cell)
	assert.True(t, bounds.Contains(pos))
}

func TestIntGridNegativeCoordinatesFloorCorrectly(t *testing.T) {
	g := IntGrid{Shift: 3}
	cell := g.CellAt(0, spatial.Point3D{X: -1, Y: -8, Z: -9})
	assert.Equal(t, int32(-1), cell.ID[0])
	assert.Equal(t, int32(-1), cell.ID[1])
	assert.Equal(t, int32(-2), cell.ID[2])
}

func TestIntGridRejectsOutOfRangeShift(t *testing.T) {
	g := IntGrid{Shift: 40}
	_, ok := g.MaxLOD()
	assert.False(t, ok)
}

func TestFloatGridCellBoundsAreHalfOpenViaNextDown(t *testing.T) {
	g := FloatGrid{Shift: 0}
	cell := g.CellAt(0, spatial.Point3D{X: 0.5, Y: 0.5, Z: 0.5})
	bounds := g.CellBounds(cell)
	assert.True(t, bounds.Max.X < 1.0)
	assert.True(t, bounds.Contains(spatial.Point3D{X: 0.5, Y: 0.5, Z: 0.5}))
}

func TestNextDownDecreasesAndHandlesZero(t *testing.T) {
	assert.Less(t, nextDown(1.0), 1.0)
	assert.Equal(t, -math.SmallestNonzeroFloat64, nextDown(0))
}
