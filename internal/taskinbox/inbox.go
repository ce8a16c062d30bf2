// Package taskinbox implements the pending-work queue the worker pool
// drains from: one task per cell that has unmerged bogus points or queued
// inserts, picked by a configurable priority comparator, with a generation
// counter that ages tasks so none starves indefinitely behind a stream of
// fresher, higher-priority ones.
package taskinbox

import (
	"sync"
	"time"

	"github.com/arx-os/lidarindex/internal/config"
	"github.com/arx-os/lidarindex/internal/geometry"
)

// GenerationTick is how often Inbox.Tick should be called by the caller's
// background ticker; it is the wall-clock resolution task age is measured
// at, not enforced by this package.
const GenerationTick = 100 * time.Millisecond

// Task is one unit of pending work for a cell: P is the payload type (the
// worker pool uses a batch of point records), merged across repeated Add
// calls to the same cell by the Inbox's merge function. MinGeneration and
// MaxGeneration bound the generations of the points folded into the task,
// not wall-clock time, so a split that re-enqueues a parent's overflow
// under the parent's own generations preserves the overflow's age instead
// of resetting it.
type Task[P any] struct {
	Cell          geometry.LeveledCell
	Payload       P
	NrPoints      int
	MinGeneration int64
	MaxGeneration int64
	CreatedAt     int64 // generation number at enqueue time
}

// Comparator orders two tasks: it reports whether a should be taken before
// b (a has strictly higher priority), given the inbox's current
// generation for age-weighted comparators.
type Comparator[P any] func(a, b Task[P], currentGeneration int64) bool

// MergeFunc combines a newly arrived payload into an already-pending
// task's payload for the same cell.
type MergeFunc[P any] func(existing, incoming P) P

// Inbox holds pending and in-flight (locked) tasks for every cell with
// outstanding work. A locked cell can also have a pending task: work added
// to it while locked waits in pending, is skipped by TakeAndLock, and
// becomes eligible again after Unlock.
type Inbox[P any] struct {
	mu         sync.Mutex
	cond       *sync.Cond
	pending    map[geometry.LeveledCell]*Task[P]
	locked     map[geometry.LeveledCell]bool
	generation int64
	comparator Comparator[P]
	merge      MergeFunc[P]
	closed     bool
}

func New[P any](priority config.PriorityFunction, merge MergeFunc[P]) *Inbox[P] {
	ib := &Inbox[P]{
		pending:    make(map[geometry.LeveledCell]*Task[P]),
		locked:     make(map[geometry.LeveledCell]bool),
		comparator: ComparatorFor[P](priority),
		merge:      merge,
	}
	ib.cond = sync.NewCond(&ib.mu)
	return ib
}

// Add enqueues, or merges into an already-pending task for, cell. minGen
// and maxGen are the generation numbers of the oldest and newest point in
// payload; a coalesce into an existing task widens both bounds rather than
// overwriting them, so a cell fed by several Add calls remembers the full
// span of generations it has accumulated.
func (ib *Inbox[P]) Add(cell geometry.LeveledCell, payload P, nrPoints int, minGen, maxGen int64) {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	if existing, ok := ib.pending[cell]; ok {
		existing.Payload = ib.merge(existing.Payload, payload)
		existing.NrPoints += nrPoints
		if minGen < existing.MinGeneration {
			existing.MinGeneration = minGen
		}
		if maxGen > existing.MaxGeneration {
			existing.MaxGeneration = maxGen
		}
		ib.cond.Broadcast()
		return
	}

	ib.pending[cell] = &Task[P]{
		Cell:          cell,
		Payload:       payload,
		NrPoints:      nrPoints,
		MinGeneration: minGen,
		MaxGeneration: maxGen,
		CreatedAt:     ib.generation,
	}
	ib.cond.Broadcast()
}

// CurrentGeneration returns the inbox's current generation counter, for
// callers (the worker pool's top-level Insert) that stamp freshly arriving
// points with "now" in generation terms rather than wall-clock time.
func (ib *Inbox[P]) CurrentGeneration() int64 {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.generation
}

// TakeAndLock blocks until a pending, unlocked task is available or the
// inbox is closed, removes it from pending, marks its cell locked, and
// returns it. ok is false only once the inbox is closed with nothing left
// to hand out.
func (ib *Inbox[P]) TakeAndLock() (Task[P], bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	for {
		if best, ok := ib.bestUnlockedLocked(); ok {
			delete(ib.pending, best.Cell)
			ib.locked[best.Cell] = true
			return best, true
		}
		if ib.closed {
			var zero Task[P]
			return zero, false
		}
		ib.cond.Wait()
	}
}

func (ib *Inbox[P]) bestUnlockedLocked() (Task[P], bool) {
	var best *Task[P]
	for cell, t := range ib.pending {
		if ib.locked[cell] {
			continue
		}
		if best == nil || ib.comparator(*t, *best, ib.generation) {
			best = t
		}
	}
	if best == nil {
		var zero Task[P]
		return zero, false
	}
	return *best, true
}

// Unlock releases a cell's lock after a worker finishes processing it. If
// more work arrived for the cell while it was locked, that merged task
// remains pending and becomes eligible for TakeAndLock again.
func (ib *Inbox[P]) Unlock(cell geometry.LeveledCell) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	delete(ib.locked, cell)
	ib.cond.Broadcast()
}

// Tick advances the generation counter, aging every still-pending task by
// one tick for the TaskAge-weighted comparators. Callers drive this from a
// ~GenerationTick ticker.
func (ib *Inbox[P]) Tick() {
	ib.mu.Lock()
	ib.generation++
	ib.mu.Unlock()
}

// Close marks the inbox closed: TakeAndLock calls blocked on an empty
// inbox return ok=false instead of waiting forever, letting workers exit.
func (ib *Inbox[P]) Close() {
	ib.mu.Lock()
	ib.closed = true
	ib.mu.Unlock()
	ib.cond.Broadcast()
}

// Len reports the number of pending (not locked) tasks, for tests and
// metrics.
func (ib *Inbox[P]) Len() int {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return len(ib.pending)
}
