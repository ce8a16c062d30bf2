package taskinbox

import (
	"testing"
	"time"

	"github.com/arx-os/lidarindex/internal/config"
	"github.com/arx-os/lidarindex/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cell(x, y, z int32) geometry.LeveledCell {
	return geometry.LeveledCell{LOD: 0, ID: geometry.CellID{x, y, z}}
}

func mergeInts(existing, incoming []int) []int { return append(existing, incoming...) }

func newTestInbox(priority config.PriorityFunction) *Inbox[[]int] {
	return New[[]int](priority, mergeInts)
}

func TestAddMergesIntoExistingPendingTask(t *testing.T) {
	ib := newTestInbox(config.PriorityNrPoints)
	ib.Add(cell(1, 1, 1), []int{1, 2, 3, 4, 5}, 5, 0, 0)
	ib.Add(cell(1, 1, 1), []int{6, 7, 8}, 3, 1, 1)

	assert.Equal(t, 1, ib.Len())
	task, ok := ib.TakeAndLock()
	require.True(t, ok)
	assert.Equal(t, 8, task.NrPoints)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, task.Payload)
	assert.Equal(t, int64(0), task.MinGeneration)
	assert.Equal(t, int64(1), task.MaxGeneration)
}

func TestAddWidensGenerationBoundsAcrossMerges(t *testing.T) {
	ib := newTestInbox(config.PriorityNrPoints)
	ib.Add(cell(1, 1, 1), []int{1}, 1, 5, 5)
	ib.Add(cell(1, 1, 1), []int{2}, 1, 2, 9)

	task, ok := ib.TakeAndLock()
	require.True(t, ok)
	assert.Equal(t, int64(2), task.MinGeneration)
	assert.Equal(t, int64(9), task.MaxGeneration)
}

func TestTakeAndLockPrefersHigherPriorityByNrPoints(t *testing.T) {
	ib := newTestInbox(config.PriorityNrPoints)
	ib.Add(cell(1, 0, 0), make([]int, 2), 2, 0, 0)
	ib.Add(cell(2, 0, 0), make([]int, 9), 9, 0, 0)

	task, ok := ib.TakeAndLock()
	require.True(t, ok)
	assert.Equal(t, cell(2, 0, 0), task.Cell)
}

func TestLockedCellIsSkippedUntilUnlocked(t *testing.T) {
	ib := newTestInbox(config.PriorityNrPoints)
	ib.Add(cell(1, 0, 0), make([]int, 9), 9, 0, 0)
	ib.Add(cell(2, 0, 0), make([]int, 1), 1, 0, 0)

	first, ok := ib.TakeAndLock()
	require.True(t, ok)
	assert.Equal(t, cell(1, 0, 0), first.Cell)

	// More work for the locked cell outranks cell 2 by point count, yet
	// must wait until cell 1 is unlocked.
	ib.Add(cell(1, 0, 0), make([]int, 5), 5, 0, 0)
	second, ok := ib.TakeAndLock()
	require.True(t, ok)
	assert.Equal(t, cell(2, 0, 0), second.Cell)

	ib.Unlock(cell(1, 0, 0))
	third, ok := ib.TakeAndLock()
	require.True(t, ok)
	assert.Equal(t, cell(1, 0, 0), third.Cell)
}

func TestCloseUnblocksWaitingTakeAndLock(t *testing.T) {
	ib := newTestInbox(config.PriorityNrPoints)
	done := make(chan bool, 1)
	go func() {
		_, ok := ib.TakeAndLock()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	ib.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("TakeAndLock did not unblock after Close")
	}
}

func TestByTaskAgePrefersLongestWaiting(t *testing.T) {
	ib := newTestInbox(config.PriorityTaskAge)
	ib.Add(cell(1, 0, 0), make([]int, 1), 1, 0, 0)
	ib.Tick()
	ib.Tick()
	ib.Add(cell(2, 0, 0), make([]int, 100), 100, 0, 0)

	task, ok := ib.TakeAndLock()
	require.True(t, ok)
	assert.Equal(t, cell(1, 0, 0), task.Cell)
}

func TestComparatorForFallsBackToNrPoints(t *testing.T) {
	ib := newTestInbox(config.PriorityFunction("nonsense"))
	ib.Add(cell(1, 0, 0), make([]int, 1), 1, 0, 0)
	ib.Add(cell(2, 0, 0), make([]int, 5), 5, 0, 0)

	task, ok := ib.TakeAndLock()
	require.True(t, ok)
	assert.Equal(t, cell(2, 0, 0), task.Cell)
}

func TestNrPointsWeightedByTaskAgeFavorsOldSmallTaskOverYoungLargeOne(t *testing.T) {
	// A handful of points waiting 10 generations (nr=1 * 2^10 = 1024) must
	// outrank a much larger task that just arrived (nr=100 * 2^0 = 100).
	ib := newTestInbox(config.PriorityNrPointsWeightedByTaskAge)
	ib.Add(cell(1, 0, 0), make([]int, 1), 1, 0, 0)
	for i := 0; i < 10; i++ {
		ib.Tick()
	}
	ib.Add(cell(2, 0, 0), make([]int, 100), 100, 0, 0)

	task, ok := ib.TakeAndLock()
	require.True(t, ok)
	assert.Equal(t, cell(1, 0, 0), task.Cell)
}
