// Package workerpool runs the fixed-size group of goroutines that drain
// the task inbox: each worker takes the highest-priority pending cell,
// merges its points into the cached node, splits the node into children
// when it overflows its bogus-point budget, and republishes the updated
// node to subscribers.
package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arx-os/lidarindex/internal/config"
	idxerrors "github.com/arx-os/lidarindex/internal/errors"
	"github.com/arx-os/lidarindex/internal/geometry"
	"github.com/arx-os/lidarindex/internal/logger"
	"github.com/arx-os/lidarindex/internal/metrics"
	"github.com/arx-os/lidarindex/internal/octree"
	"github.com/arx-os/lidarindex/internal/pager"
	"github.com/arx-os/lidarindex/internal/sampling"
	"github.com/arx-os/lidarindex/internal/taskinbox"
)

// NewNode creates an empty node for a cell freshly split into existence or
// loaded for the first time. The pool is agnostic to the sampling
// strategy and point layout; the caller's factory closes over both.
type NewNode func(cell geometry.LeveledCell) *octree.Node

// Event notifies a subscriber that a node finished an update.
type Event struct {
	Cell    geometry.LeveledCell
	AtLeast time.Time
}

func mergePoints(existing, incoming []sampling.Point) []sampling.Point {
	return append(existing, incoming...)
}

// Pool owns the fixed set of worker goroutines, the shared inbox they
// drain, and the pager + grid they mutate nodes through.
type Pool struct {
	cfg     *config.IndexConfig
	grid    geometry.Grid
	newNode NewNode
	pager   *pager.Pager[geometry.LeveledCell, *octree.Node]
	inbox   *taskinbox.Inbox[[]sampling.Point]
	sink    metrics.Sink
	log     *logger.Logger

	subMu       sync.Mutex
	subscribers map[string]chan Event

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New creates a pool wired to pg for node storage and grid for split
// geometry, but does not start its workers; call Start.
func New(cfg *config.IndexConfig, grid geometry.Grid, pg *pager.Pager[geometry.LeveledCell, *octree.Node], newNode NewNode, sink metrics.Sink, log *logger.Logger) *Pool {
	if sink == nil {
		sink = metrics.NewDiscardSink()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Pool{
		cfg:         cfg,
		grid:        grid,
		newNode:     newNode,
		pager:       pg,
		inbox:       taskinbox.New[[]sampling.Point](cfg.PriorityFunction, mergePoints),
		sink:        sink,
		log:         log.Named("workerpool"),
		subscribers: make(map[string]chan Event),
	}
}

// Insert enqueues a batch of already-routed points for merging into cell,
// stamped with the inbox's current generation as both the task's min and
// max generation. Callers (the tree entry point) are responsible for
// bucketing raw input points by which root cell they fall under before
// calling Insert.
func (p *Pool) Insert(cell geometry.LeveledCell, points []sampling.Point) {
	gen := p.inbox.CurrentGeneration()
	p.inbox.Add(cell, points, len(points), gen, gen)
	p.sink.Record(metrics.NrIncomingTasks, 1)
	p.sink.Record(metrics.NrIncomingPoints, float64(len(points)))
}

// Subscribe registers a channel that receives an Event after every node
// update. The returned cancel function unregisters it; callers must call
// it once done to avoid leaking the channel.
func (p *Pool) Subscribe(buffer int) (<-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, buffer)
	p.subMu.Lock()
	p.subscribers[id] = ch
	p.subMu.Unlock()
	return ch, func() {
		p.subMu.Lock()
		delete(p.subscribers, id)
		p.subMu.Unlock()
		close(ch)
	}
}

func (p *Pool) publish(ev Event) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for id, ch := range p.subscribers {
		select {
		case ch <- ev:
		default:
			// A full subscriber channel means its reader is gone or
			// stalled; drop it rather than block the worker pool, and
			// remove it so later updates stop being attempted against it.
			err := idxerrors.New(idxerrors.KindSubscriberGone, "subscriber_unresponsive", "subscriber channel full, dropping notification")
			p.log.Warn("dropping stalled subscriber", zap.String("subscriber", id), zap.Error(err))
			delete(p.subscribers, id)
		}
	}
}

// Start launches NumThreads workers plus a generation-ticker goroutine,
// all bound to ctx. Call Shutdown to stop them, then Wait for them to
// return. Cancelling ctx alone stops the ticker and makes a worker return
// after its current task, but a worker waiting on an empty inbox returns
// only once the inbox is closed.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	p.group = group

	for i := 0; i < p.cfg.NumThreads; i++ {
		workerID := uuid.NewString()
		group.Go(func() error {
			p.runWorker(gctx, workerID)
			return nil
		})
	}
	group.Go(func() error {
		p.runTicker(gctx)
		return nil
	})
}

// Shutdown stops accepting new work and signals every worker to exit once
// the inbox drains.
func (p *Pool) Shutdown() {
	p.inbox.Close()
	if p.cancel != nil {
		p.cancel()
	}
}

// Wait blocks until every worker goroutine has returned.
func (p *Pool) Wait() error {
	if p.group == nil {
		return nil
	}
	return p.group.Wait()
}

func (p *Pool) runTicker(ctx context.Context) {
	ticker := time.NewTicker(taskinbox.GenerationTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.inbox.Tick()
		}
	}
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	log := p.log.Named(workerID)
	for {
		task, ok := p.inbox.TakeAndLock()
		if !ok {
			return
		}
		if err := p.process(ctx, task); err != nil {
			log.Error("worker failed processing task", zap.String("cell", task.Cell.String()), zap.Error(err))
		}
		p.inbox.Unlock(task.Cell)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// process loads the cell's node (creating it if absent), merges the
// task's points, splits it if its bogus buffer overflows the configured
// budget, writes the (possibly cloned) node back through the pager, and
// then evicts pages until the pager is back within its capacity.
func (p *Pool) process(ctx context.Context, task taskinbox.Task[[]sampling.Point]) error {
	node, err := p.pager.LoadOrDefault(ctx, task.Cell, func() *octree.Node { return p.newNode(task.Cell) })
	if err != nil {
		return err
	}

	mutated := node.DynClone()
	mutated.ResetDirty()
	mutated.InsertMulti([][]sampling.Point{task.Payload})
	p.sink.Record(metrics.NrPointsAdded, float64(len(task.Payload)))

	if p.shouldSplit(mutated) {
		p.split(mutated, task.MinGeneration, task.MaxGeneration)
	}

	p.pager.Store(task.Cell, mutated)
	if mutated.IsDirty() {
		p.publish(Event{Cell: task.Cell, AtLeast: time.Now()})
	}
	return p.pager.BlockOnCacheSize(ctx)
}

func (p *Pool) shouldSplit(n *octree.Node) bool {
	maxLod, admissible := p.grid.MaxLOD()
	if admissible && n.Cell.LOD >= maxLod {
		return false
	}
	if n.Cell.LOD >= p.cfg.MaxLod {
		return false
	}
	limit := p.cfg.MaxBogusInner
	if n.Cell.LOD+1 >= p.cfg.MaxLod {
		limit = p.cfg.MaxBogusLeaf
	}
	return n.NrBogusPoints() > limit
}

// split drains the node's bogus points and routes each to whichever of
// its 8 children octant it falls in, enqueuing a task per non-empty
// octant so the worker pool picks the children up on a later pass. The
// parent keeps its accepted points; only the overflow moves down. Children
// are enqueued with the parent task's own min/max generations so a deep
// chain of splits keeps accruing age instead of resetting it at every
// level.
func (p *Pool) split(n *octree.Node, minGen, maxGen int64) {
	overflow := n.TakeBogusPoints()
	if len(overflow) == 0 {
		return
	}
	children := n.Cell.Children()
	buckets := make(map[geometry.LeveledCell][]sampling.Point, 8)
	for _, pt := range overflow {
		child := p.grid.CellAt(n.Cell.LOD+1, pt.Position)
		idxerrors.Assertf(child.LOD == children[0].LOD, "workerpool: child lookup returned LOD %d, expected %d", child.LOD, children[0].LOD)
		buckets[child] = append(buckets[child], pt)
	}
	for child, pts := range buckets {
		p.inbox.Add(child, pts, len(pts), minGen, maxGen)
	}
}
