package workerpool

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/arx-os/lidarindex/internal/config"
	idxerrors "github.com/arx-os/lidarindex/internal/errors"
	"github.com/arx-os/lidarindex/internal/geometry"
	"github.com/arx-os/lidarindex/internal/octree"
	"github.com/arx-os/lidarindex/internal/pager"
	"github.com/arx-os/lidarindex/internal/pointcodec"
	"github.com/arx-os/lidarindex/internal/sampling"
	"github.com/arx-os/lidarindex/internal/spatial"
	"github.com/arx-os/lidarindex/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend is a minimal in-memory storage.Backend, duplicated from the
// pager package's test helper to keep each package's tests self-contained.
type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBackend() *memBackend { return &memBackend{data: make(map[string][]byte)} }

func (b *memBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return nil, idxerrors.IO(key, "not found", nil)
	}
	return v, nil
}
func (b *memBackend) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = append([]byte(nil), data...)
	return nil
}
func (b *memBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}
func (b *memBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[key]
	return ok, nil
}
func (b *memBackend) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, idxerrors.Unsupported("unsupported")
}
func (b *memBackend) PutReader(ctx context.Context, key string, r io.Reader, size int64) error {
	return idxerrors.Unsupported("unsupported")
}
func (b *memBackend) GetMetadata(ctx context.Context, key string) (*storage.Metadata, error) {
	return nil, idxerrors.Unsupported("unsupported")
}
func (b *memBackend) SetMetadata(ctx context.Context, key string, md *storage.Metadata) error {
	return idxerrors.Unsupported("unsupported")
}
func (b *memBackend) List(ctx context.Context, prefix string) ([]string, error) { return nil, nil }
func (b *memBackend) ListWithMetadata(ctx context.Context, prefix string) ([]*storage.Object, error) {
	return nil, nil
}
func (b *memBackend) Type() string                        { return "mem" }
func (b *memBackend) IsAvailable(ctx context.Context) bool { return true }

func testLayout() pointcodec.Layout {
	return pointcodec.Layout{Attributes: []pointcodec.AttributeDef{{Name: "v", Type: pointcodec.TypeU32, Size: 4}}}
}

func testGrid() geometry.Grid { return geometry.IntGrid{Shift: 4} }

func pt(x, y, z float64, v byte) sampling.Point {
	return sampling.Point{Position: spatial.Point3D{X: x, Y: y, Z: z}, Data: []byte{v, 0, 0, 0}}
}

func newTestPool(t *testing.T, cfg *config.IndexConfig) (*Pool, *pager.Pager[geometry.LeveledCell, *octree.Node]) {
	t.Helper()
	grid := testGrid()
	layout := testLayout()
	codec := octree.Codec{Grid: grid, Layout: layout, MaxBins: 16}
	backend := newMemBackend()
	pg := pager.New[geometry.LeveledCell, *octree.Node](100, backend, codec, func(c geometry.LeveledCell) string { return c.String() }, nil)

	newNode := func(cell geometry.LeveledCell) *octree.Node {
		return octree.New(cell, sampling.NewGridCenter(grid, cell.LOD, layout))
	}
	pool := New(cfg, grid, pg, newNode, nil, nil)
	return pool, pg
}

func TestInsertMergesPointsIntoNode(t *testing.T) {
	cfg := config.Default()
	cfg.NumThreads = 1
	pool, pg := newTestPool(t, cfg)

	cell := geometry.LeveledCell{LOD: 0, ID: geometry.CellID{0, 0, 0}}
	pool.Insert(cell, []sampling.Point{pt(1, 1, 1, 1), pt(2, 2, 2, 2)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pool.Start(ctx)
	pool.Shutdown()
	require.NoError(t, pool.Wait())

	node, err := pg.Load(context.Background(), cell)
	require.NoError(t, err)
	assert.Len(t, node.Points(), 2)
}

func TestSplitRoutesBogusPointsToChildren(t *testing.T) {
	cfg := config.Default()
	cfg.NumThreads = 1
	cfg.MaxBogusInner = 0
	cfg.MaxBogusLeaf = 0
	cfg.MaxLod = 5
	pool, pg := newTestPool(t, cfg)

	cell := geometry.LeveledCell{LOD: 0, ID: geometry.CellID{0, 0, 0}}
	// Two points landing in the same fine sub-cell: one is accepted, the
	// other becomes bogus and should be routed to a child on split.
	pool.Insert(cell, []sampling.Point{pt(1, 1, 1, 1), pt(1, 1, 1, 2)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pool.Start(ctx)

	time.Sleep(150 * time.Millisecond)
	pool.Shutdown()
	require.NoError(t, pool.Wait())

	node, err := pg.Load(context.Background(), cell)
	require.NoError(t, err)
	assert.Equal(t, 0, node.NrBogusPoints())
}

func TestSubscribeReceivesEventsAndUnsubscribeStopsThem(t *testing.T) {
	cfg := config.Default()
	cfg.NumThreads = 1
	pool, _ := newTestPool(t, cfg)

	events, unsubscribe := pool.Subscribe(4)
	defer func() {
		select {
		case <-events:
		default:
		}
	}()

	cell := geometry.LeveledCell{LOD: 0, ID: geometry.CellID{0, 0, 0}}
	pool.Insert(cell, []sampling.Point{pt(1, 1, 1, 1)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pool.Start(ctx)

	select {
	case ev := <-events:
		assert.Equal(t, cell, ev.Cell)
	case <-time.After(time.Second):
		t.Fatal("expected an event from the worker pool")
	}

	unsubscribe()
	pool.Shutdown()
	require.NoError(t, pool.Wait())
}
