// Package lidarindex is the write-optimized LOD octree index for LiDAR
// point streams: Index wires the grid, pager, worker pool and attribute
// summary indexes from internal/ into the single entry point a
// collaborator (ingest pipeline, query service) actually calls.
package lidarindex

import (
	"context"
	"fmt"

	"github.com/arx-os/lidarindex/internal/attrindex"
	"github.com/arx-os/lidarindex/internal/common/resources"
	"github.com/arx-os/lidarindex/internal/config"
	idxerrors "github.com/arx-os/lidarindex/internal/errors"
	"github.com/arx-os/lidarindex/internal/geometry"
	"github.com/arx-os/lidarindex/internal/logger"
	"github.com/arx-os/lidarindex/internal/metrics"
	"github.com/arx-os/lidarindex/internal/octree"
	"github.com/arx-os/lidarindex/internal/pager"
	"github.com/arx-os/lidarindex/internal/pointcodec"
	"github.com/arx-os/lidarindex/internal/query"
	"github.com/arx-os/lidarindex/internal/sampling"
	"github.com/arx-os/lidarindex/internal/storage"
	"github.com/arx-os/lidarindex/internal/workerpool"
)

// baseLOD is the level of detail at which incoming points are first
// bucketed; the worker pool pushes overflow down into finer LODs as
// nodes split.
const baseLOD uint8 = 0

// Index is the top-level handle a collaborator holds: it accepts point
// batches, runs the worker pool that merges and splits them into an
// octree, and exposes a query executor over the result.
type Index struct {
	cfg     *config.IndexConfig
	grid    geometry.Grid
	layout  pointcodec.Layout
	pager   *pager.Pager[geometry.LeveledCell, *octree.Node]
	pool    *workerpool.Pool
	exec    *query.Executor
	attrIdx map[string]*attrindex.Index
	res     *resources.ResourceManager
	log     *logger.Logger
}

// Options bundles the collaborators New needs beyond the config record.
type Options struct {
	Layout pointcodec.Layout
	Sink   metrics.Sink
	Log    *logger.Logger
}

// New builds an Index from cfg, opening the configured storage backend
// and starting nothing yet; call Start to launch the worker pool.
func New(ctx context.Context, cfg *config.IndexConfig, opts Options) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("lidarindex: invalid config: %w", err)
	}
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	sink := opts.Sink
	if sink == nil {
		sink = metrics.NewDiscardSink()
	}

	backend, err := storage.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("lidarindex: opening storage backend: %w", err)
	}

	grid := geometry.IntGrid{Shift: cfg.NodeHierarchyShift}
	layout := opts.Layout

	fineLODOf := func(cell geometry.LeveledCell) uint8 {
		return fineLODFor(cell, cfg)
	}
	codec := octree.Codec{
		Grid:      grid,
		FineLODOf: fineLODOf,
		Layout:    layout,
		MaxBins:   maxBinCount(cfg),
		WithSFC:   cfg.EnableHistogramAcceleration,
	}
	if cfg.Compression {
		codec.Compression = pointcodec.CompressionLZ4Transposed
	}

	pg := pager.New[geometry.LeveledCell, *octree.Node](
		cfg.CacheSize, backend, codec,
		func(c geometry.LeveledCell) string { return c.String() },
		log,
	)

	newNode := func(cell geometry.LeveledCell) *octree.Node {
		return octree.New(cell, sampling.NewGridCenter(grid, fineLODFor(cell, cfg), layout))
	}
	pool := workerpool.New(cfg, grid, pg, newNode, sink, log)

	attrIdx := make(map[string]*attrindex.Index)
	if cfg.EnableAttributeIndex {
		for _, name := range attributeNames(layout) {
			attrIdx[name] = attrindex.NewIndex(binCountFor(cfg, name), cfg.EnableHistogramAcceleration)
		}
	}

	res := resources.NewResourceManager()
	res.RegisterFunc(func() error { return flushBackend(backend) })

	ix := &Index{
		cfg:     cfg,
		grid:    grid,
		layout:  layout,
		pager:   pg,
		pool:    pool,
		exec:    query.NewExecutor(grid, pg),
		attrIdx: attrIdx,
		res:     res,
		log:     log.Named("index"),
	}
	return ix, nil
}

// fineLODFor computes the sampling sub-grid LOD for a node at cell:
// the node's own LOD plus the configured point-hierarchy depth.
func fineLODFor(cell geometry.LeveledCell, cfg *config.IndexConfig) uint8 {
	if cfg.PointHierarchyShift <= 0 {
		return cell.LOD
	}
	return cell.LOD + uint8(cfg.PointHierarchyShift)
}

func maxBinCount(cfg *config.IndexConfig) int {
	max := 0
	for _, n := range []int{
		cfg.AttributeIndexes.Intensity.BinCount,
		cfg.AttributeIndexes.ReturnNumber.BinCount,
		cfg.AttributeIndexes.Classification.BinCount,
		cfg.AttributeIndexes.ScanAngleRank.BinCount,
		cfg.AttributeIndexes.UserData.BinCount,
		cfg.AttributeIndexes.PointSourceID.BinCount,
		cfg.AttributeIndexes.Color.BinCount,
	} {
		if n > max {
			max = n
		}
	}
	if max == 0 {
		max = 32
	}
	return max
}

func binCountFor(cfg *config.IndexConfig, attribute string) int {
	switch attribute {
	case "intensity":
		return cfg.AttributeIndexes.Intensity.BinCount
	case "return_number":
		return cfg.AttributeIndexes.ReturnNumber.BinCount
	case "classification":
		return cfg.AttributeIndexes.Classification.BinCount
	case "scan_angle_rank":
		return cfg.AttributeIndexes.ScanAngleRank.BinCount
	case "user_data":
		return cfg.AttributeIndexes.UserData.BinCount
	case "point_source_id":
		return cfg.AttributeIndexes.PointSourceID.BinCount
	case "color":
		return cfg.AttributeIndexes.Color.BinCount
	default:
		return 32
	}
}

func attributeNames(layout pointcodec.Layout) []string {
	names := make([]string, 0, len(layout.Attributes))
	for _, a := range layout.Attributes {
		names = append(names, a.Name)
	}
	return names
}

func flushBackend(backend storage.Backend) error {
	if closer, ok := backend.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Start launches the worker pool. Insert may be called before Start; the
// task inbox simply queues the work until a worker drains it.
func (ix *Index) Start(ctx context.Context) {
	ix.pool.Start(ctx)
}

// Insert buckets a batch of points by base-LOD cell and enqueues each
// bucket for the worker pool to merge. Points whose record does not
// match the index's declared layout are a programmer error, not an
// insert-time failure; callers validate upstream (§7, LayoutAssertion).
func (ix *Index) Insert(points []sampling.Point) {
	buckets := make(map[geometry.LeveledCell][]sampling.Point)
	for _, p := range points {
		cell := ix.grid.CellAt(baseLOD, p.Position)
		buckets[cell] = append(buckets[cell], p)
	}
	for cell, pts := range buckets {
		ix.pool.Insert(cell, pts)
	}
}

// Subscribe registers for node-update notifications; see workerpool.Pool.Subscribe.
func (ix *Index) Subscribe(buffer int) (<-chan workerpool.Event, func()) {
	return ix.pool.Subscribe(buffer)
}

// Query runs pred over the subtree rooted at each cell in roots,
// invoking visit for every node the predicate does not prune.
func (ix *Index) Query(ctx context.Context, pred query.Predicate, roots []geometry.LeveledCell, visit query.NodeVisitor) error {
	return ix.exec.Run(ctx, pred, roots, visit)
}

// UpdateAttributeSummary folds values into the named attribute's
// top-level index entry for cell, used by collaborators that maintain
// their own coarser rollups outside the node files.
func (ix *Index) UpdateAttributeSummary(cell geometry.LeveledCell, attribute string, values []float64) error {
	idx, ok := ix.attrIdx[attribute]
	if !ok {
		return idxerrors.Unsupported(fmt.Sprintf("attribute %q is not indexed", attribute))
	}
	idx.Update(cell, values)
	return nil
}

// BacklogSize reports how many pages the pager currently holds in
// memory, for producer back-pressure.
func (ix *Index) BacklogSize() int {
	return ix.pager.Size()
}

// Drain stops accepting new work, waits for in-flight tasks to finish,
// flushes every dirty page, and releases the storage backend.
func (ix *Index) Drain(ctx context.Context) error {
	ix.pool.Shutdown()
	if err := ix.pool.Wait(); err != nil {
		return err
	}
	if err := ix.pager.Flush(ctx); err != nil {
		return err
	}
	return ix.res.Close()
}
